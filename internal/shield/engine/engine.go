// Package engine compiles filter lists into an immutable request matcher and
// converts matchers to and from their cached byte form.
package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haukened/rr-shield/internal/shield/common/utils"
	"github.com/haukened/rr-shield/internal/shield/domain"
	"github.com/haukened/rr-shield/internal/shield/repos/blocklist"
	"github.com/haukened/rr-shield/internal/shield/repos/blocklist/bloom"
	"github.com/haukened/rr-shield/internal/shield/repos/blocklist/lru"
)

const (
	defaultDecisionCacheSize = 4096
	defaultBloomFPRate       = 0.01
)

// Engine is a compiled, immutable set of block and exception rules.
//
// Lookups run decision cache → bloom → rule index. The bloom filter and the
// cache only short-circuit work; they never change a decision.
type Engine struct {
	id      uuid.UUID
	builtAt time.Time
	sources []string
	rules   []domain.BlockRule

	exact       map[string]domain.BlockRule
	suffix      map[string]domain.BlockRule
	allowExact  map[string]domain.BlockRule
	allowSuffix map[string]domain.BlockRule

	bloom blocklist.BloomFilter
	cache blocklist.DecisionCache
}

// Options tunes the lookup accelerators of an Engine.
type Options struct {
	DecisionCacheSize int     // <0 disables the cache, 0 selects the default
	BloomFPRate       float64 // 0 selects the default
	BloomFactory      blocklist.BloomFactory
}

// Stats summarizes an engine for logging.
type Stats struct {
	ID         string
	BuiltAt    time.Time
	Sources    int
	Rules      int
	Exceptions int
	Cache      blocklist.CacheStats
}

// New builds an Engine from already-parsed rules. Rules are de-duplicated by
// name, kind, polarity and party scope; the first occurrence wins. When a
// general rule and its third-party variant share a name, the general rule is
// the one consulted.
func New(rules []domain.BlockRule, sources []string, builtAt time.Time, opts Options) (*Engine, error) {
	return build(uuid.New(), rules, sources, builtAt, opts)
}

func build(id uuid.UUID, rules []domain.BlockRule, sources []string, builtAt time.Time, opts Options) (*Engine, error) {
	if opts.DecisionCacheSize == 0 {
		opts.DecisionCacheSize = defaultDecisionCacheSize
	}
	if opts.BloomFPRate == 0 {
		opts.BloomFPRate = defaultBloomFPRate
	}
	if opts.BloomFactory == nil {
		opts.BloomFactory = bloom.NewFactory()
	}

	cache, err := lru.New(opts.DecisionCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create decision cache: %w", err)
	}

	e := &Engine{
		id:          id,
		builtAt:     builtAt,
		sources:     append([]string(nil), sources...),
		rules:       make([]domain.BlockRule, 0, len(rules)),
		exact:       make(map[string]domain.BlockRule),
		suffix:      make(map[string]domain.BlockRule),
		allowExact:  make(map[string]domain.BlockRule),
		allowSuffix: make(map[string]domain.BlockRule),
		bloom:       opts.BloomFactory.New(uint64(len(rules)), opts.BloomFPRate),
		cache:       cache,
	}

	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		if _, dup := seen[r.Key()]; dup {
			continue
		}
		seen[r.Key()] = struct{}{}
		e.rules = append(e.rules, r)
		e.index(r)
	}
	return e, nil
}

func (e *Engine) index(r domain.BlockRule) {
	var m map[string]domain.BlockRule
	switch {
	case r.Exception && r.IsExact():
		m = e.allowExact
	case r.Exception:
		m = e.allowSuffix
	case r.IsSuffix():
		m = e.suffix
	default:
		m = e.exact
	}
	if prev, ok := m[r.Name]; ok && prev.Covers(r) {
		return
	}
	m[r.Name] = r
	e.bloom.Add(bloomKey(r.IsSuffix(), r.Name))
}

func bloomKey(suffix bool, name string) []byte {
	if suffix {
		return []byte("s:" + name)
	}
	return []byte("e:" + name)
}

// ID returns the engine's identity. Deserialized engines keep the identity of
// the engine that was serialized.
func (e *Engine) ID() string { return e.id.String() }

// BuiltAt returns when the rules were compiled.
func (e *Engine) BuiltAt() time.Time { return e.builtAt }

// Sources returns the list URLs the engine was compiled from.
func (e *Engine) Sources() []string { return append([]string(nil), e.sources...) }

// Rules returns a copy of the compiled rules in compile order.
func (e *Engine) Rules() []domain.BlockRule { return append([]domain.BlockRule(nil), e.rules...) }

// Stats returns counters describing the engine.
func (e *Engine) Stats() Stats {
	return Stats{
		ID:         e.ID(),
		BuiltAt:    e.builtAt,
		Sources:    len(e.sources),
		Rules:      len(e.rules),
		Exceptions: len(e.allowExact) + len(e.allowSuffix),
		Cache:      e.cache.Stats(),
	}
}

// Decide implements domain.RequestFilter. Exception rules win over block
// rules; third-party rules apply only to cross-site requests.
func (e *Engine) Decide(req domain.Request) domain.BlockDecision {
	host := utils.CanonicalDNSName(req.Host)
	if host == "" {
		return domain.EmptyDecision()
	}
	thirdParty := req.ThirdParty()
	key := host + "|1p"
	if thirdParty {
		key = host + "|3p"
	}
	if d, ok := e.cache.Get(key); ok {
		return d
	}
	d := e.evaluate(host, thirdParty)
	e.cache.Put(key, d)
	return d
}

// Matches reports whether req would be blocked.
func (e *Engine) Matches(req domain.Request) bool {
	return e.Decide(req).Blocked
}

func (e *Engine) evaluate(host string, thirdParty bool) domain.BlockDecision {
	candidates := utils.ParentDomains(host)
	if !e.mightMatch(host, candidates) {
		return domain.EmptyDecision()
	}
	if r, ok := lookup(e.allowExact, e.allowSuffix, host, candidates, thirdParty); ok {
		return domain.DecisionFromRule(r)
	}
	if r, ok := lookup(e.exact, e.suffix, host, candidates, thirdParty); ok {
		return domain.DecisionFromRule(r)
	}
	return domain.EmptyDecision()
}

// mightMatch consults the bloom filter; false means no rule can match.
func (e *Engine) mightMatch(host string, candidates []string) bool {
	if e.bloom.MightContain(bloomKey(false, host)) {
		return true
	}
	for _, c := range candidates {
		if e.bloom.MightContain(bloomKey(true, c)) {
			return true
		}
	}
	return false
}

// lookup checks the exact index for host, then the suffix index from the
// most- to the least-specific parent domain.
func lookup(exact, suffix map[string]domain.BlockRule, host string, candidates []string, thirdParty bool) (domain.BlockRule, bool) {
	if r, ok := exact[host]; ok && applies(r, thirdParty) {
		return r, true
	}
	for _, c := range candidates {
		if r, ok := suffix[c]; ok && applies(r, thirdParty) {
			return r, true
		}
	}
	return domain.BlockRule{}, false
}

func applies(r domain.BlockRule, thirdParty bool) bool {
	return !r.ThirdParty || thirdParty
}

// EnableOn attaches the engine to a session's request pipeline.
func (e *Engine) EnableOn(s domain.Session) error {
	return s.AttachFilter(e)
}

// DisableOn detaches the engine from a session's request pipeline.
func (e *Engine) DisableOn(s domain.Session) error {
	return s.DetachFilter(e)
}

var _ domain.RequestFilter = (*Engine)(nil)
