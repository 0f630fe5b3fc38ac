package clickmodel

import (
	"github.com/ricesearch/rice-clickmodels/internal/params"
	"github.com/ricesearch/rice-clickmodels/internal/session"
)

// ubm is the user browsing model: examination depends on the rank and on
// the rank of the previous click.
type ubm struct {
	browsing
	exam *params.Param
}

func (m *ubm) components(s *session.Session, _ bool) []component {
	return []component{{
		prior:  1,
		order:  topDown(s.Len()),
		exam:   examLookup(s, m.exam),
		update: examUpdate(s, m.exam),
	}}
}

func (m *ubm) settle(*params.Accumulator, *session.Session, []component, []float64) {}
