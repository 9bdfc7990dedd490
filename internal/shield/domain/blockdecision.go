package domain

// BlockDecision represents the outcome of evaluating a request against an engine.
type BlockDecision struct {
	Blocked     bool   // true if a block rule matched and no exception overrode it
	MatchedRule string // rule name that decided the outcome, empty when nothing matched
	Source      string // list the deciding rule came from
	Kind        BlockRuleKind
	Exception   bool // true when an exception rule explicitly allowed the request
}

// IsBlocked is a convenience accessor.
func (d BlockDecision) IsBlocked() bool { return d.Blocked }

// EmptyDecision returns a not-blocked decision.
func EmptyDecision() BlockDecision { return BlockDecision{Blocked: false} }

// DecisionFromRule materializes the decision a matching rule produces.
func DecisionFromRule(r BlockRule) BlockDecision {
	return BlockDecision{
		Blocked:     !r.Exception,
		MatchedRule: r.Name,
		Source:      r.Source,
		Kind:        r.Kind,
		Exception:   r.Exception,
	}
}
