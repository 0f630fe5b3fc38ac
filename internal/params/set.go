package params

import (
	"fmt"
	"math"
	"sort"

	apperrors "github.com/ricesearch/rice-clickmodels/internal/pkg/errors"
)

// Set is the ordered collection of parameters owned by one model.
type Set struct {
	params []*Param
	byRole map[string]*Param
}

// NewSet creates a set from params. Roles must be unique.
func NewSet(params ...*Param) (*Set, error) {
	s := &Set{byRole: make(map[string]*Param, len(params))}
	for _, p := range params {
		if _, dup := s.byRole[p.Role]; dup {
			return nil, fmt.Errorf("duplicate parameter role %q", p.Role)
		}
		s.params = append(s.params, p)
		s.byRole[p.Role] = p
	}
	return s, nil
}

// Get returns the parameter playing role, or nil.
func (s *Set) Get(role string) *Param { return s.byRole[role] }

// All returns the parameters in declaration order.
func (s *Set) All() []*Param { return s.params }

// Roles returns the role names in declaration order.
func (s *Set) Roles() []string {
	roles := make([]string, len(s.params))
	for i, p := range s.params {
		roles[i] = p.Role
	}
	return roles
}

// Check verifies that every parameter accepts rule.
func (s *Set) Check(rule Rule) error {
	for _, p := range s.params {
		if !p.Supports(rule) && !p.Supports(Static) {
			return apperrors.IncompatibleParamError(p.Role, rule.String())
		}
	}
	return nil
}

// ResetAccumulators clears every accumulator.
func (s *Set) ResetAccumulators() {
	for _, p := range s.params {
		p.C.ResetAccumulators()
	}
}

// Update updates every parameter and returns the largest change.
func (s *Set) Update() float64 {
	var maxDelta float64
	for _, p := range s.params {
		maxDelta = math.Max(maxDelta, p.Update())
	}
	return maxDelta
}

// Triple is one persisted parameter value.
type Triple struct {
	Role  string  `json:"role" yaml:"role"`
	Key   Key     `json:"key" yaml:"key"`
	Value float64 `json:"value" yaml:"value"`
}

// Snapshot exports every stored value. Values that were never touched on a
// lazily grown container are omitted since they equal the default.
func (s *Set) Snapshot() []Triple {
	var triples []Triple
	for _, p := range s.params {
		for _, e := range p.C.Entries() {
			triples = append(triples, Triple{Role: p.Role, Key: e.Key, Value: e.Value})
		}
	}
	return triples
}

// Restore loads triples produced by Snapshot. Unknown roles, keys outside
// their container and values outside [0,1] are rejected before any triple is
// applied.
func (s *Set) Restore(triples []Triple) error {
	for _, t := range triples {
		p := s.byRole[t.Role]
		if p == nil {
			return apperrors.ValidationError(fmt.Sprintf("unknown parameter role %q", t.Role))
		}
		if !p.C.Valid(t.Key) {
			return apperrors.ValidationError(
				fmt.Sprintf("%s: key %v outside %s container", t.Role, t.Key, p.C.Shape()))
		}
		if err := checkValue(t.Value); err != nil {
			return apperrors.ValidationError(fmt.Sprintf("%s %v: %v", t.Role, t.Key, err))
		}
	}
	for _, t := range triples {
		if err := s.byRole[t.Role].C.Set(t.Key, t.Value); err != nil {
			return apperrors.ValidationError(fmt.Sprintf("%s: %v", t.Role, err))
		}
	}
	return nil
}

// SortTriples orders triples by role and key for stable output.
func SortTriples(triples []Triple) {
	sort.SliceStable(triples, func(i, j int) bool {
		a, b := triples[i], triples[j]
		if a.Role != b.Role {
			return a.Role < b.Role
		}
		return a.Key.String() < b.Key.String()
	})
}
