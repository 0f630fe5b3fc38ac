// Package clickmodel implements the click models: which parameters each
// model declares, the recursions that turn them into click probabilities,
// and the statistics each model feeds to inference.
package clickmodel

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/ricesearch/rice-clickmodels/internal/inference"
	"github.com/ricesearch/rice-clickmodels/internal/params"
	apperrors "github.com/ricesearch/rice-clickmodels/internal/pkg/errors"
	"github.com/ricesearch/rice-clickmodels/internal/session"
)

// No-click policies for the last-click counting rules.
const (
	NoClickInclude = "include"
	NoClickSkip    = "skip"
)

// Config holds construction time settings shared by every kind.
type Config struct {
	MaxRank int
	// Inference overrides the kind's default rule: "", "mle" or "em".
	Inference string
	// NoClickPolicy controls how sessions without clicks feed the counting
	// rules of Simple-DCM, DCM warm starts and Simple-DBN.
	NoClickPolicy string
	Options       inference.Options
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		MaxRank:       10,
		NoClickPolicy: NoClickInclude,
		Options: inference.Options{
			MaxIterations: inference.DefaultMaxIterations,
			Tolerance:     inference.DefaultTolerance,
		},
	}
}

// behavior is the per-kind part of a model.
type behavior interface {
	// conditional returns, per result, the probability of the observed click
	// value given the observed clicks above it.
	conditional(s *session.Session) []float64
	// full returns, per result, the unconditional click probability.
	full(s *session.Session) []float64
	// relevance returns the relevance estimate for result i.
	relevance(s *session.Session, i int) float64
}

// warmStarter seeds parameters before the first EM run of a fresh model.
type warmStarter interface {
	warmStart(ctx context.Context, set *params.Set, sessions []*session.Session, opts inference.Options) error
}

// Model is a trained or trainable click model. Prediction methods may be
// called concurrently; Train excludes them while it runs.
type Model struct {
	mu      sync.RWMutex
	spec    Spec
	cfg     Config
	rule    params.Rule
	set     *params.Set
	b       behavior
	trained bool
}

// New builds a model. Configuration problems are reported before any
// parameter is allocated for training.
func New(spec Spec, cfg Config) (*Model, error) {
	if _, ok := kindNames[spec.Kind]; !ok {
		return nil, apperrors.UnknownModelError(spec.Kind.String())
	}
	if spec.Rel && !spec.Kind.HasRel() {
		return nil, apperrors.UnknownModelError(spec.Name())
	}
	if cfg.MaxRank <= 0 {
		return nil, apperrors.InvalidConfigError(fmt.Sprintf("max rank must be positive, got %d", cfg.MaxRank))
	}
	switch cfg.NoClickPolicy {
	case "":
		cfg.NoClickPolicy = NoClickInclude
	case NoClickInclude, NoClickSkip:
	default:
		return nil, apperrors.InvalidConfigError(fmt.Sprintf("unknown no-click policy %q", cfg.NoClickPolicy))
	}

	rule := spec.Kind.DefaultRule()
	if cfg.Inference != "" {
		r, err := params.ParseRule(cfg.Inference)
		if err != nil || r == params.Static {
			return nil, apperrors.InvalidConfigError(fmt.Sprintf("unknown inference %q", cfg.Inference))
		}
		rule = r
	}

	var ps []*params.Param
	for _, rs := range roleTable(spec, cfg.MaxRank) {
		c, err := params.NewContainer(rs.shape, rs.size, rs.def)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidConfig, "building "+rs.role, err)
		}
		p := params.New(rs.role, c, rs.keyer, rs.rules...)
		if rule == params.EM {
			p.Clamp(params.ProbMin, 1-params.ProbMin)
		}
		ps = append(ps, p)
	}
	set, err := params.NewSet(ps...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidConfig, "building parameters", err)
	}
	if err := set.Check(rule); err != nil {
		return nil, err
	}

	m := &Model{spec: spec, cfg: cfg, rule: rule, set: set}
	m.b = newBehavior(spec, cfg, set)

	switch rule {
	case params.MLE:
		if _, ok := m.b.(inference.Counter); !ok {
			return nil, apperrors.IncompatibleParamError(spec.Name(), rule.String())
		}
	case params.EM:
		if _, ok := m.b.(inference.Expecter); !ok {
			return nil, apperrors.IncompatibleParamError(spec.Name(), rule.String())
		}
	}

	return m, nil
}

func newBehavior(spec Spec, cfg Config, set *params.Set) behavior {
	skipNoClick := cfg.NoClickPolicy == NoClickSkip
	switch spec.Kind {
	case CM:
		return &cascade{attr: set.Get(RoleAttr)}
	case DCTR, RCTR, GCTR:
		return &ctr{p: set.Get(RoleCTR)}
	case PBM:
		return &pbm{attr: set.Get(RoleAttr), exam: set.Get(RoleExam)}
	case SDCM, DCM:
		return &dcm{attr: set.Get(RoleAttr), cont: set.Get(RoleCont), skipNoClick: skipNoClick}
	case SDBN, DBN:
		return &dbn{attr: set.Get(RoleAttr), sat: set.Get(RoleSat), gamma: set.Get(RoleGamma), skipNoClick: skipNoClick}
	case UBM:
		u := &ubm{exam: set.Get(RoleExam)}
		u.browsing = browsing{attr: set.Get(RoleAttr), b: u}
		return u
	case FCM:
		f := &fcm{
			exam:    set.Get(RoleExam),
			beta:    set.Get(RoleBeta),
			phi:     set.Get(RolePhi),
			maxRank: cfg.MaxRank,
		}
		f.browsing = browsing{attr: set.Get(RoleAttr), b: f}
		return f
	case VCM:
		v := &vcm{
			exam:     set.Get(RoleExam),
			examAttr: set.Get(RoleExamAttr),
			phi:      set.Get(RolePhi),
			sigma:    set.Get(RoleSigma),
		}
		v.browsing = browsing{attr: set.Get(RoleAttr), b: v}
		return v
	}
	return nil
}

// Name returns the registry name of the model.
func (m *Model) Name() string { return m.spec.Name() }

// Spec returns the model kind and variant.
func (m *Model) Spec() Spec { return m.spec }

// Rule returns the inference rule the model trains with.
func (m *Model) Rule() params.Rule { return m.rule }

// MaxRank returns the largest result list the model accepts for training.
func (m *Model) MaxRank() int { return m.cfg.MaxRank }

// Roles returns the parameter role names.
func (m *Model) Roles() []string { return m.set.Roles() }

// Trained reports whether Train or Restore has been called.
func (m *Model) Trained() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.trained
}

// Train estimates the parameters from sessions. Malformed sessions are
// skipped and counted in the result. Training a model again continues from
// its current values.
func (m *Model) Train(ctx context.Context, sessions []*session.Session) (inference.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	valid, skipped := session.Partition(sessions, m.cfg.MaxRank)
	opts := m.cfg.Options

	var (
		res inference.Result
		err error
	)
	switch m.rule {
	case params.MLE:
		res, err = inference.RunMLE(ctx, m.set, m.b.(inference.Counter), valid, opts)
	case params.EM:
		if w, ok := m.b.(warmStarter); ok && !m.trained {
			if err := w.warmStart(ctx, m.set, valid, opts); err != nil {
				return inference.Result{Rule: m.rule, Skipped: skipped}, err
			}
		}
		res, err = inference.RunEM(ctx, m.set, m.b.(inference.Expecter), valid, opts)
	}
	res.Skipped = skipped
	if err != nil {
		return res, err
	}

	m.trained = true
	return res, nil
}

// ConditionalClickProbs returns, for every result, the probability of its
// observed click value given the observed clicks above it.
func (m *Model) ConditionalClickProbs(s *session.Session) []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clampAll(m.b.conditional(s))
}

// PredictClickProbs returns the unconditional click probability of every
// result, ignoring the observed clicks.
func (m *Model) PredictClickProbs(s *session.Session) []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clampAll(m.b.full(s))
}

// PredictRelevance estimates the relevance of a result shown for query.
func (m *Model) PredictRelevance(query string, r session.Result) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := &session.Session{Query: query, Results: []session.Result{r}}
	return clamp01(m.b.relevance(s, 0))
}

// Snapshot exports every parameter value.
func (m *Model) Snapshot() []params.Triple {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.set.Snapshot()
}

// Restore loads values produced by Snapshot and marks the model trained.
func (m *Model) Restore(triples []params.Triple) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.set.Restore(triples); err != nil {
		return err
	}
	m.trained = true
	return nil
}

// Params exposes the parameter set for inspection.
func (m *Model) Params() *params.Set { return m.set }

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(math.Max(v, 0), 1)
}

func clampAll(ps []float64) []float64 {
	for i, p := range ps {
		ps[i] = clamp01(p)
	}
	return ps
}

// outcome returns the probability of the observed click value given the
// click probability p.
func outcome(p float64, clicked bool) float64 {
	if clicked {
		return p
	}
	return 1 - p
}

// skipped is the probability that a result was examined given that it was
// not clicked, from the prior examination probability exam.
func skipped(exam, a float64) float64 {
	rest := 1 - a*exam
	if rest <= 0 {
		return 0
	}
	return exam * (1 - a) / rest
}

// safeLog guards the log-likelihood against probabilities that round to 0.
func safeLog(p float64) float64 {
	return math.Log(math.Max(p, params.ProbMin*params.ProbMin))
}
