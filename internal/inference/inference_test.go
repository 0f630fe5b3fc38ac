package inference

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/ricesearch/rice-clickmodels/internal/params"
	"github.com/ricesearch/rice-clickmodels/internal/session"
)

// ctrModel counts clicks per document, a fully observed model.
type ctrModel struct {
	set  *params.Set
	attr *params.Param
}

func newCTRModel(t *testing.T) *ctrModel {
	t.Helper()
	c, err := params.NewContainer(params.QueryDoc, 0, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	attr := params.New("attr", c, params.ByQueryDoc, params.MLE, params.EM)
	set, err := params.NewSet(attr)
	if err != nil {
		t.Fatal(err)
	}
	return &ctrModel{set: set, attr: attr}
}

func (m *ctrModel) Count(s *session.Session, acc *params.Accumulator) {
	for i, r := range s.Results {
		num := 0.0
		if r.Click {
			num = 1
		}
		acc.Add(m.attr, m.attr.KeyFor(s, i, 0), num, 1)
	}
}

// halvingModel moves its single value halfway towards target per iteration.
type halvingModel struct {
	set    *params.Set
	p      *params.Param
	target float64
}

func newHalvingModel(t *testing.T, target float64) *halvingModel {
	t.Helper()
	c, err := params.NewContainer(params.Singleton, 0, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	p := params.New("p", c, params.Global, params.EM)
	set, _ := params.NewSet(p)
	return &halvingModel{set: set, p: p, target: target}
}

func (m *halvingModel) Expect(s *session.Session, acc *params.Accumulator) float64 {
	v := m.p.At(params.Key{})
	acc.Add(m.p, params.Key{}, (v+m.target)/2, 1)
	return -math.Abs(v - m.target)
}

func sessions(n int) []*session.Session {
	docs := []string{"a", "b", "c"}
	out := make([]*session.Session, n)
	for i := range out {
		out[i] = session.New("q", docs, []bool{i%2 == 0, i%3 == 0, false})
	}
	return out
}

func TestRunMLE(t *testing.T) {
	m := newCTRModel(t)
	data := sessions(12)

	res, err := RunMLE(context.Background(), m.set, m, data, Options{Workers: 3})
	if err != nil {
		t.Fatalf("RunMLE() error = %v", err)
	}
	if res.Iterations != 1 || !res.Converged || res.Sessions != 12 {
		t.Errorf("Result = %+v", res)
	}

	tests := []struct {
		doc  string
		want float64
	}{
		{"a", 6.0 / 12},
		{"b", 4.0 / 12},
		{"c", 0},
	}
	for _, tt := range tests {
		got := m.attr.At(params.Key{Query: "q", Doc: tt.doc})
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("attr(%s) = %v, want %v", tt.doc, got, tt.want)
		}
	}
}

func TestRunMLE_OrderInvariant(t *testing.T) {
	data := sessions(30)
	reversed := make([]*session.Session, len(data))
	for i, s := range data {
		reversed[len(data)-1-i] = s
	}

	m1, m2 := newCTRModel(t), newCTRModel(t)
	if _, err := RunMLE(context.Background(), m1.set, m1, data, Options{Workers: 4}); err != nil {
		t.Fatal(err)
	}
	if _, err := RunMLE(context.Background(), m2.set, m2, reversed, Options{Workers: 1}); err != nil {
		t.Fatal(err)
	}

	s1, s2 := m1.set.Snapshot(), m2.set.Snapshot()
	if len(s1) != len(s2) {
		t.Fatalf("snapshot sizes differ: %d vs %d", len(s1), len(s2))
	}
	for i := range s1 {
		if s1[i].Key != s2[i].Key || math.Abs(s1[i].Value-s2[i].Value) > 1e-12 {
			t.Errorf("triple %d differs: %+v vs %+v", i, s1[i], s2[i])
		}
	}
}

func TestRunEM_Convergence(t *testing.T) {
	tests := []struct {
		name          string
		opts          Options
		wantIter      int
		wantConverged bool
	}{
		{"tolerance reached", Options{MaxIterations: 50, Tolerance: 1e-4, Workers: 2}, 12, true},
		{"budget exhausted", Options{MaxIterations: 5, Tolerance: 1e-4, Workers: 2}, 5, false},
		{"zero tolerance runs full budget", Options{MaxIterations: 7, Tolerance: 0, Workers: 1}, 7, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newHalvingModel(t, 0.8)
			var seen int
			tt.opts.Progress = func(Iteration) { seen++ }

			res, err := RunEM(context.Background(), m.set, m, sessions(4), tt.opts)
			if err != nil {
				t.Fatalf("RunEM() error = %v", err)
			}
			if res.Iterations != tt.wantIter || res.Converged != tt.wantConverged {
				t.Errorf("Iterations = %d converged = %v, want %d %v",
					res.Iterations, res.Converged, tt.wantIter, tt.wantConverged)
			}
			if seen != res.Iterations || len(res.LogLikelihood) != res.Iterations {
				t.Errorf("progress calls = %d, log-likelihoods = %d", seen, len(res.LogLikelihood))
			}
			for i := 1; i < len(res.LogLikelihood); i++ {
				if res.LogLikelihood[i] < res.LogLikelihood[i-1] {
					t.Errorf("log-likelihood decreased at %d", i)
				}
			}
		})
	}
}

func TestRunEM_Cancelled(t *testing.T) {
	m := newHalvingModel(t, 0.8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := RunEM(ctx, m.set, m, sessions(4), Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunEM() error = %v, want context.Canceled", err)
	}
	if res.Iterations != 0 {
		t.Errorf("Iterations = %d, want 0", res.Iterations)
	}
	if got := m.p.At(params.Key{}); got != 0.5 {
		t.Errorf("cancelled run changed value to %v", got)
	}
}

func TestAccumulate_Empty(t *testing.T) {
	ll, err := accumulate(context.Background(), nil, 4, func(*session.Session, *params.Accumulator) float64 { return 1 })
	if err != nil || ll != 0 {
		t.Errorf("accumulate(nil) = %v, %v", ll, err)
	}
}
