package domain

import (
	"testing"
	"time"
)

func TestBlockRuleKind_String(t *testing.T) {
	if s := BlockRuleSuffix.String(); s != "suffix" {
		t.Fatalf("unexpected String() for suffix: %q", s)
	}
	if s := BlockRuleKind(9).String(); s != "BlockRuleKind(9)" {
		t.Fatalf("unexpected String() for unknown kind: %q", s)
	}
}

func TestNewBlockRule(t *testing.T) {
	now := time.Now()
	r, err := NewSuffixBlockRule(" ads.example.com ", "https://lists.example/a.txt", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Name != "ads.example.com" || !r.IsSuffix() || r.IsExact() {
		t.Fatalf("unexpected rule: %+v", r)
	}

	cases := []struct {
		name   string
		rule   string
		kind   BlockRuleKind
		source string
		at     time.Time
	}{
		{"empty name", "", BlockRuleExact, "src", now},
		{"empty source", "example.com", BlockRuleExact, " ", now},
		{"zero time", "example.com", BlockRuleExact, "src", time.Time{}},
		{"bad kind", "example.com", BlockRuleKind(7), "src", now},
	}
	for _, tc := range cases {
		if _, err := NewBlockRule(tc.rule, tc.kind, tc.source, tc.at); err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
		}
	}
}

func TestBlockRule_Key(t *testing.T) {
	now := time.Now()
	a, _ := NewExactBlockRule("example.com", "s", now)
	b, _ := NewSuffixBlockRule("example.com", "s", now)
	c := b
	c.Exception = true
	if a.Key() == b.Key() || b.Key() == c.Key() {
		t.Fatalf("keys should differ by kind and polarity: %q %q %q", a.Key(), b.Key(), c.Key())
	}
	d := a
	d.Source = "other"
	if a.Key() != d.Key() {
		t.Fatalf("key must not depend on source")
	}
	e := a
	e.ThirdParty = true
	if a.Key() == e.Key() {
		t.Fatalf("keys should differ by party scope: %q", a.Key())
	}
}

func TestBlockRule_Covers(t *testing.T) {
	now := time.Now()
	general, _ := NewSuffixBlockRule("ads.example.com", "s", now)
	scoped := general
	scoped.ThirdParty = true
	if !general.Covers(scoped) || !general.Covers(general) || !scoped.Covers(scoped) {
		t.Fatalf("general rule must cover itself and its third-party variant")
	}
	if scoped.Covers(general) {
		t.Fatalf("third-party rule must not cover the general rule")
	}
}

func TestDecisionFromRule(t *testing.T) {
	now := time.Now()
	r, _ := NewSuffixBlockRule("tracker.net", "list", now)
	d := DecisionFromRule(r)
	if !d.IsBlocked() || d.MatchedRule != "tracker.net" || d.Source != "list" || d.Kind != BlockRuleSuffix {
		t.Fatalf("unexpected decision: %+v", d)
	}
	r.Exception = true
	d = DecisionFromRule(r)
	if d.IsBlocked() || !d.Exception {
		t.Fatalf("exception rule should allow: %+v", d)
	}
	if EmptyDecision().Blocked {
		t.Fatal("empty decision should not be blocked")
	}
}
