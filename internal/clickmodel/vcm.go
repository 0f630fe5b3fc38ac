package clickmodel

import (
	"github.com/ricesearch/rice-clickmodels/internal/params"
	"github.com/ricesearch/rice-clickmodels/internal/session"
)

// vcm is the vertical click model. A user attracted by the vertical block
// (probability phi) starts browsing there and either goes down from it or,
// with probability sigma, up from just above it. Users not attracted browse
// top down.
type vcm struct {
	browsing
	exam     *params.Param
	examAttr *params.Param
	phi      *params.Param
	sigma    *params.Param
}

func (m *vcm) components(s *session.Session, _ bool) []component {
	n := s.Len()
	plain := component{
		prior:  1,
		order:  topDown(n),
		exam:   examLookup(s, m.exam),
		update: examUpdate(s, m.exam),
	}
	// a vertical outside the result list reads as absent
	if !s.HasVertical() || s.Vertical.Position < 0 || s.Vertical.Position >= n {
		return []component{plain}
	}

	v := s.Vertical.Position
	phi := m.phi.Value(s, 0, v+1)
	sigma := m.sigma.Value(s, 0, v+1)
	plain.prior = 1 - phi

	down := make([]int, 0, n)
	for i := v; i < n; i++ {
		down = append(down, i)
	}
	for i := 0; i < v; i++ {
		down = append(down, i)
	}

	up := make([]int, 0, n)
	for i := v - 1; i >= 0; i-- {
		up = append(up, i)
	}
	for i := v; i < n; i++ {
		up = append(up, i)
	}

	return []component{
		plain,
		{
			prior:  phi * (1 - sigma),
			order:  down,
			exam:   examLookup(s, m.examAttr),
			update: examUpdate(s, m.examAttr),
		},
		{
			prior:  phi * sigma,
			order:  up,
			exam:   examLookup(s, m.examAttr),
			update: examUpdate(s, m.examAttr),
		},
	}
}

func (m *vcm) settle(acc *params.Accumulator, s *session.Session, comps []component, w []float64) {
	if len(comps) < 3 {
		return
	}
	key := m.phi.KeyFor(s, 0, s.Vertical.Position+1)
	acc.Add(m.phi, key, w[1]+w[2], 1)
	acc.Add(m.sigma, m.sigma.KeyFor(s, 0, s.Vertical.Position+1), w[2], w[1]+w[2])
}
