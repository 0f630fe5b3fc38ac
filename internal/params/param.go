package params

import (
	"fmt"

	"github.com/ricesearch/rice-clickmodels/internal/session"
)

// ProbMin keeps EM estimates away from 0 and 1 so that the recursions never
// divide by zero or take the log of zero.
const ProbMin = 1e-6

// Rule is an update contract a parameter can take part in.
type Rule int

const (
	// MLE fills accumulators with observed counts in a single pass.
	MLE Rule = iota
	// EM fills accumulators with expected counts under current values.
	EM
	// Static parameters are never updated.
	Static
)

func (r Rule) String() string {
	switch r {
	case MLE:
		return "mle"
	case EM:
		return "em"
	case Static:
		return "static"
	default:
		return fmt.Sprintf("rule(%d)", int(r))
	}
}

// ParseRule converts a rule name to a Rule.
func ParseRule(s string) (Rule, error) {
	switch s {
	case "mle":
		return MLE, nil
	case "em":
		return EM, nil
	case "static":
		return Static, nil
	}
	return 0, fmt.Errorf("unknown inference rule %q", s)
}

// MarshalText encodes the rule by name in reports.
func (r Rule) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a rule name.
func (r *Rule) UnmarshalText(b []byte) error {
	v, err := ParseRule(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Keyer resolves the container key for result i of a session. aux carries
// model specific context such as the previous click rank.
type Keyer func(s *session.Session, i, aux int) Key

// Keyers for the standard shapes.
var (
	ByQueryDoc Keyer = func(s *session.Session, i, _ int) Key {
		return Key{Query: s.Query, Doc: s.Results[i].Doc}
	}
	ByRank Keyer = func(_ *session.Session, i, _ int) Key {
		return Key{Rank: i + 1}
	}
	ByRankPrev Keyer = func(_ *session.Session, i, prev int) Key {
		return Key{Rank: i + 1, Prev: prev}
	}
	ByGrade Keyer = func(s *session.Session, i, _ int) Key {
		return Key{Grade: s.Results[i].Relevance}
	}
	ByAux Keyer = func(_ *session.Session, _, aux int) Key {
		return Key{Rank: aux}
	}
	Global Keyer = func(*session.Session, int, int) Key {
		return Key{}
	}
)

// Param binds a container to a role within a model.
type Param struct {
	Role  string
	C     Container
	Keyer Keyer
	Rules []Rule

	lo, hi float64
}

// New creates a parameter. rules lists the update contracts it supports.
func New(role string, c Container, keyer Keyer, rules ...Rule) *Param {
	return &Param{Role: role, C: c, Keyer: keyer, Rules: rules, lo: 0, hi: 1}
}

// Supports reports whether the parameter accepts rule.
func (p *Param) Supports(rule Rule) bool {
	for _, r := range p.Rules {
		if r == rule {
			return true
		}
	}
	return false
}

// Clamp sets the bounds applied by Update.
func (p *Param) Clamp(lo, hi float64) *Param {
	p.lo, p.hi = lo, hi
	return p
}

// KeyFor resolves the key used for result i.
func (p *Param) KeyFor(s *session.Session, i, aux int) Key {
	return p.Keyer(s, i, aux)
}

// Value reads the parameter for result i.
func (p *Param) Value(s *session.Session, i, aux int) float64 {
	return p.C.Get(p.Keyer(s, i, aux))
}

// At reads the parameter at an explicit key.
func (p *Param) At(k Key) float64 {
	return p.C.Get(k)
}

// Update folds the accumulators into the values and returns the largest
// change. Static parameters only drop their accumulators.
func (p *Param) Update() float64 {
	if len(p.Rules) == 1 && p.Rules[0] == Static {
		p.C.ResetAccumulators()
		return 0
	}
	return p.C.Update(p.lo, p.hi)
}
