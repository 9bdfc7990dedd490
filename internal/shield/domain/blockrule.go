package domain

import (
	"fmt"
	"strings"
	"time"
)

// BlockRuleKind defines how a rule matches hosts.
//
// exact  - matches the host only (name == request host)
// suffix - matches the host and any subdomain (apex-inclusive suffix)
type BlockRuleKind uint8

const (
	// BlockRuleExact matches only the exact host.
	BlockRuleExact BlockRuleKind = iota
	// BlockRuleSuffix matches the host and all its subdomains (apex-inclusive).
	BlockRuleSuffix
)

// String returns a stable string representation of the rule kind.
func (k BlockRuleKind) String() string {
	switch k {
	case BlockRuleExact:
		return "exact"
	case BlockRuleSuffix:
		return "suffix"
	default:
		return fmt.Sprintf("BlockRuleKind(%d)", k)
	}
}

// BlockRule is a single network filter compiled from a rule list.
//
// Notes:
// - Name is canonical, without a trailing dot.
// - Exception rules (adblock "@@") allow a request even when a block rule matches.
// - ThirdParty rules only apply to requests crossing registrable domains.
// - Source is the list URL the rule came from.
type BlockRule struct {
	Name       string
	Kind       BlockRuleKind
	Exception  bool
	ThirdParty bool
	Source     string
	AddedAt    time.Time
}

// NewBlockRule constructs a BlockRule and validates its fields.
func NewBlockRule(name string, kind BlockRuleKind, source string, addedAt time.Time) (BlockRule, error) {
	r := BlockRule{
		Name:    strings.TrimSpace(name),
		Kind:    kind,
		Source:  strings.TrimSpace(source),
		AddedAt: addedAt,
	}
	if err := r.Validate(); err != nil {
		return BlockRule{}, err
	}
	return r, nil
}

// NewExactBlockRule convenience constructor for an exact rule.
func NewExactBlockRule(name, source string, addedAt time.Time) (BlockRule, error) {
	return NewBlockRule(name, BlockRuleExact, source, addedAt)
}

// NewSuffixBlockRule convenience constructor for a suffix rule (apex-inclusive).
func NewSuffixBlockRule(name, source string, addedAt time.Time) (BlockRule, error) {
	return NewBlockRule(name, BlockRuleSuffix, source, addedAt)
}

// Validate checks the BlockRule for required fields and supported values.
func (r BlockRule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name must not be empty")
	}
	if r.Source == "" {
		return fmt.Errorf("rule source must not be empty")
	}
	if r.AddedAt.IsZero() {
		return fmt.Errorf("rule addedAt must be set")
	}
	switch r.Kind {
	case BlockRuleExact, BlockRuleSuffix:
	default:
		return fmt.Errorf("unsupported BlockRuleKind: %d", r.Kind)
	}
	return nil
}

// IsExact returns true when the rule kind is exact.
func (r BlockRule) IsExact() bool { return r.Kind == BlockRuleExact }

// IsSuffix returns true when the rule kind is suffix (apex-inclusive).
func (r BlockRule) IsSuffix() bool { return r.Kind == BlockRuleSuffix }

// Key identifies a rule for de-duplication: the same name may appear once per
// kind, block/exception polarity and party scope.
func (r BlockRule) Key() string {
	pol := "block"
	if r.Exception {
		pol = "allow"
	}
	scope := "any"
	if r.ThirdParty {
		scope = "3p"
	}
	return r.Name + "|" + r.Kind.String() + "|" + pol + "|" + scope
}

// Covers reports whether r applies to every request other applies to. Rules
// with the same name, kind and polarity differ only in party scope.
func (r BlockRule) Covers(other BlockRule) bool {
	return !r.ThirdParty || other.ThirdParty
}
