package clickmodel

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/ricesearch/rice-clickmodels/internal/inference"
	"github.com/ricesearch/rice-clickmodels/internal/params"
	apperrors "github.com/ricesearch/rice-clickmodels/internal/pkg/errors"
	"github.com/ricesearch/rice-clickmodels/internal/session"
)

// synthetic generates sessions from a cascade-like user over a pool of ten
// documents. Every fourth session carries a vertical block.
func synthetic(n int, seed uint64) []*session.Session {
	rng := rand.New(rand.NewPCG(seed, 7))
	attract := []float64{0.9, 0.7, 0.6, 0.5, 0.4, 0.3, 0.25, 0.2, 0.1, 0.05}

	out := make([]*session.Session, n)
	for k := range out {
		picks := rng.Perm(len(attract))[:5]
		docs := make([]string, len(picks))
		clicks := make([]bool, len(picks))
		examined := true
		for i, d := range picks {
			docs[i] = fmt.Sprintf("d%d", d)
			if !examined {
				continue
			}
			clicks[i] = rng.Float64() < attract[d]
			if clicks[i] && rng.Float64() < 0.5 {
				examined = false
			} else if rng.Float64() > 0.8 {
				examined = false
			}
		}

		s := session.New(fmt.Sprintf("q%d", k%3), docs, clicks)
		for i, d := range picks {
			s.Results[i].Relevance = d % 3
		}
		if k%4 == 0 {
			s.Vertical = &session.Vertical{Position: k % 5, Click: k%8 == 0}
		}
		out[k] = s
	}
	return out
}

func newModel(t *testing.T, name string, mutate func(*Config)) *Model {
	t.Helper()
	spec, err := ParseSpec(name)
	if err != nil {
		t.Fatalf("ParseSpec(%q) error = %v", name, err)
	}
	cfg := DefaultConfig()
	cfg.Options.MaxIterations = 10
	cfg.Options.Workers = 2
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := New(spec, cfg)
	if err != nil {
		t.Fatalf("New(%q) error = %v", name, err)
	}
	return m
}

func train(t *testing.T, m *Model, sessions []*session.Session) inference.Result {
	t.Helper()
	res, err := m.Train(context.Background(), sessions)
	if err != nil {
		t.Fatalf("%s Train() error = %v", m.Name(), err)
	}
	return res
}

func TestParseSpec(t *testing.T) {
	tests := []struct {
		name    string
		want    Spec
		wantErr bool
	}{
		{"dbn", Spec{Kind: DBN}, false},
		{"DBN-rel", Spec{Kind: DBN, Rel: true}, false},
		{" sdcm ", Spec{Kind: SDCM}, false},
		{"gctr", Spec{Kind: GCTR}, false},
		{"rctr-rel", Spec{}, true},
		{"ccm", Spec{}, true},
		{"", Spec{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSpec(tt.name)
			if tt.wantErr {
				if !apperrors.HasCode(err, apperrors.CodeUnknownModel) {
					t.Errorf("ParseSpec() error = %v, want %s", err, apperrors.CodeUnknownModel)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseSpec() = %+v, %v, want %+v", got, err, tt.want)
			}
		})
	}
}

func TestExpand(t *testing.T) {
	got, err := Expand([]string{"baseline", "dbn", "cm"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"cm", "dctr", "rctr", "gctr", "pbm", "dbn"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("Expand() = %v, want %v", got, want)
	}

	all, err := Expand([]string{"all"})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(Names()) || len(all) != 12+10 {
		t.Errorf("Expand(all) returned %d names", len(all))
	}

	if _, err := Expand([]string{"test", "nope"}); !apperrors.HasCode(err, apperrors.CodeUnknownModel) {
		t.Errorf("Expand(nope) error = %v", err)
	}
	if _, err := Expand(nil); !apperrors.HasCode(err, apperrors.CodeInvalidConfig) {
		t.Errorf("Expand(nil) error = %v", err)
	}
}

func TestNew_ConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		spec   Spec
		mutate func(*Config)
		code   string
	}{
		{"zero max rank", Spec{Kind: DBN}, func(c *Config) { c.MaxRank = 0 }, apperrors.CodeInvalidConfig},
		{"unknown policy", Spec{Kind: SDCM}, func(c *Config) { c.NoClickPolicy = "drop" }, apperrors.CodeInvalidConfig},
		{"unknown inference", Spec{Kind: DBN}, func(c *Config) { c.Inference = "gibbs" }, apperrors.CodeInvalidConfig},
		{"static inference", Spec{Kind: DBN}, func(c *Config) { c.Inference = "static" }, apperrors.CodeInvalidConfig},
		{"em on counting model", Spec{Kind: SDCM}, func(c *Config) { c.Inference = "em" }, apperrors.CodeIncompatible},
		{"mle on ubm", Spec{Kind: UBM}, func(c *Config) { c.Inference = "mle" }, apperrors.CodeIncompatible},
		{"unknown kind", Spec{Kind: Kind(99)}, nil, apperrors.CodeUnknownModel},
		{"rel without variant", Spec{Kind: GCTR, Rel: true}, nil, apperrors.CodeUnknownModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			_, err := New(tt.spec, cfg)
			if !apperrors.HasCode(err, tt.code) {
				t.Errorf("New() error = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestModels_ProbabilitiesInRange(t *testing.T) {
	data := synthetic(120, 1)
	sample := session.New("q1", []string{"d1", "unseen", "d4", "d7"}, []bool{false, true, false, true})
	sample.Vertical = &session.Vertical{Position: 2}

	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			m := newModel(t, name, nil)
			train(t, m, data)

			for _, s := range append([]*session.Session{sample}, data[:10]...) {
				cond := m.ConditionalClickProbs(s)
				full := m.PredictClickProbs(s)
				if len(cond) != s.Len() || len(full) != s.Len() {
					t.Fatalf("lengths %d/%d, want %d", len(cond), len(full), s.Len())
				}
				for i := range cond {
					if cond[i] < 0 || cond[i] > 1 || full[i] < 0 || full[i] > 1 {
						t.Errorf("rank %d: conditional %v full %v", i+1, cond[i], full[i])
					}
				}
			}

			for _, p := range m.Params().All() {
				for _, e := range p.C.Entries() {
					if e.Value < 0 || e.Value > 1 || math.IsNaN(e.Value) {
						t.Errorf("%s %v = %v", p.Role, e.Key, e.Value)
					}
				}
			}

			rel := m.PredictRelevance("q1", session.Result{Doc: "d1", Relevance: 1})
			if rel < 0 || rel > 1 {
				t.Errorf("PredictRelevance() = %v", rel)
			}
		})
	}
}

func TestMLE_OrderInvariant(t *testing.T) {
	data := synthetic(200, 2)
	shuffled := make([]*session.Session, len(data))
	copy(shuffled, data)
	rand.New(rand.NewPCG(9, 9)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	for _, name := range []string{"cm", "dctr", "rctr", "gctr", "sdcm", "sdbn", "sdbn-rel"} {
		t.Run(name, func(t *testing.T) {
			m1 := newModel(t, name, nil)
			m2 := newModel(t, name, func(c *Config) { c.Options.Workers = 5 })
			train(t, m1, data)
			train(t, m2, shuffled)

			s1, s2 := m1.Snapshot(), m2.Snapshot()
			if len(s1) != len(s2) {
				t.Fatalf("snapshot sizes %d vs %d", len(s1), len(s2))
			}
			for i := range s1 {
				if s1[i].Key != s2[i].Key || math.Abs(s1[i].Value-s2[i].Value) > 1e-9 {
					t.Errorf("triple %d: %+v vs %+v", i, s1[i], s2[i])
				}
			}
		})
	}
}

func TestEM_LogLikelihoodNonDecreasing(t *testing.T) {
	data := synthetic(300, 3)

	tests := []struct {
		name      string
		inference string
	}{
		{"dbn", ""},
		{"sdbn", "em"},
		{"dbn-rel", ""},
		{"dcm", ""},
		{"pbm", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.inference, func(t *testing.T) {
			m := newModel(t, tt.name, func(c *Config) {
				c.Inference = tt.inference
				c.Options.MaxIterations = 20
				c.Options.Tolerance = 0
			})
			res := train(t, m, data)
			if res.Iterations != 20 || len(res.LogLikelihood) != 20 {
				t.Fatalf("Iterations = %d, log-likelihoods = %d", res.Iterations, len(res.LogLikelihood))
			}
			for i := 1; i < len(res.LogLikelihood); i++ {
				prev, cur := res.LogLikelihood[i-1], res.LogLikelihood[i]
				if cur < prev-1e-9*math.Abs(prev) {
					t.Errorf("iteration %d: log-likelihood %v < %v", i+1, cur, prev)
				}
			}
		})
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	data := synthetic(150, 4)
	for _, name := range []string{"dbn", "sdcm", "ubm", "fcm-rel", "vcm", "pbm"} {
		t.Run(name, func(t *testing.T) {
			m := newModel(t, name, nil)
			train(t, m, data)

			restored := newModel(t, name, nil)
			if err := restored.Restore(m.Snapshot()); err != nil {
				t.Fatalf("Restore() error = %v", err)
			}
			if !restored.Trained() {
				t.Error("restored model not marked trained")
			}

			for _, s := range data[:20] {
				want, got := m.PredictClickProbs(s), restored.PredictClickProbs(s)
				wantCond, gotCond := m.ConditionalClickProbs(s), restored.ConditionalClickProbs(s)
				for i := range want {
					if math.Abs(want[i]-got[i]) > 1e-12 || math.Abs(wantCond[i]-gotCond[i]) > 1e-12 {
						t.Fatalf("rank %d: %v/%v vs %v/%v", i+1, want[i], wantCond[i], got[i], gotCond[i])
					}
				}
			}
		})
	}
}

func TestRestore_RejectsUnknownRole(t *testing.T) {
	m := newModel(t, "sdcm", nil)
	err := m.Restore([]params.Triple{{Role: "gamma", Value: 0.3}})
	if !apperrors.IsValidation(err) {
		t.Errorf("Restore() error = %v", err)
	}
	if m.Trained() {
		t.Error("failed restore marked the model trained")
	}
}

func TestRestore_KeyOutsideContainerLeavesModel(t *testing.T) {
	m := newModel(t, "ubm", nil)
	train(t, m, synthetic(100, 3))
	s := session.New("q0", []string{"d0", "d1"}, []bool{false, false})
	before := m.PredictClickProbs(s)

	err := m.Restore([]params.Triple{
		{Role: RoleAttr, Key: params.Key{Query: "q0", Doc: "d0"}, Value: 0.99},
		{Role: RoleExam, Key: params.Key{Rank: m.MaxRank() + 1}, Value: 0.3},
	})
	if !apperrors.IsValidation(err) {
		t.Fatalf("Restore() error = %v", err)
	}
	after := m.PredictClickProbs(s)
	for i := range before {
		if after[i] != before[i] {
			t.Errorf("predictions after failed Restore = %v, want %v", after, before)
			break
		}
	}
}

func TestSimpleDCMvsDCM_TailEvidence(t *testing.T) {
	s := session.New("q", []string{"a", "b", "c", "d"}, []bool{true, false, false, false})

	simple := newModel(t, "sdcm", nil)
	full := newModel(t, "dcm", nil)

	counted := params.NewAccumulator()
	simple.b.(inference.Counter).Count(s, counted)
	expected := params.NewAccumulator()
	full.b.(inference.Expecter).Expect(s, expected)

	attrS, attrD := simple.Params().Get(RoleAttr), full.Params().Get(RoleAttr)
	for _, doc := range []string{"b", "c", "d"} {
		k := params.Key{Query: "q", Doc: doc}
		if got := counted.Get(attrS, k).Den; got != 0 {
			t.Errorf("simple-dcm denominator for %s = %v, want 0", doc, got)
		}
		if got := expected.Get(attrD, k).Den; got != 1 {
			t.Errorf("dcm denominator for %s = %v, want 1", doc, got)
		}
	}

	cont := full.Params().Get(RoleCont)
	if sums := expected.Get(cont, params.Key{Rank: 1}); sums.Den != 1 || sums.Num <= 0 || sums.Num >= 1 {
		t.Errorf("dcm cont at last click = %+v", sums)
	}
}

func TestSimpleDCM_ClickedDocsPredictHigher(t *testing.T) {
	s := session.New("q", []string{"A", "B", "C"}, []bool{true, false, true})
	m := newModel(t, "sdcm", nil)
	train(t, m, []*session.Session{s})

	attr := m.Params().Get(RoleAttr)
	for doc, want := range map[string]float64{"A": 1, "B": 0, "C": 1} {
		if got := attr.At(params.Key{Query: "q", Doc: doc}); got != want {
			t.Errorf("attr(%s) = %v, want %v", doc, got, want)
		}
	}

	probs := m.PredictClickProbs(session.New("q", []string{"A", "B", "C"}, []bool{false, false, false}))
	if probs[0] <= probs[1] || probs[2] <= probs[1] {
		t.Errorf("PredictClickProbs() = %v, want A and C above B", probs)
	}
}

func TestUBM_RankOnlyClicks(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 5))
	pool := make([]string, 10)
	for i := range pool {
		pool[i] = fmt.Sprintf("doc%d", i)
	}

	data := make([]*session.Session, 100)
	for k := range data {
		docs := make([]string, 5)
		for i, p := range rng.Perm(len(pool))[:5] {
			docs[i] = pool[p]
		}
		data[k] = session.New("q", docs, []bool{true, false, false, false, false})
	}

	m := newModel(t, "ubm", func(c *Config) { c.Options.MaxIterations = 50 })
	train(t, m, data)

	exam := m.Params().Get(RoleExam)
	if got := exam.At(params.Key{Rank: 1, Prev: 0}); got < 0.95 {
		t.Errorf("exam(1, 0) = %v, want > 0.95", got)
	}
	for r := 2; r <= 5; r++ {
		if got := exam.At(params.Key{Rank: r, Prev: 1}); got > 0.1 {
			t.Errorf("exam(%d, 1) = %v, want < 0.1", r, got)
		}
	}

	fresh := session.New("other", []string{"x1", "x2", "x3", "x4", "x5"}, make([]bool, 5))
	probs := m.PredictClickProbs(fresh)
	for k := 1; k < len(probs); k++ {
		if probs[0] <= 2*probs[k] {
			t.Errorf("PredictClickProbs() = %v, rank 1 does not dominate rank %d", probs, k+1)
		}
	}
}

func TestZeroClickSession(t *testing.T) {
	s := session.New("q", []string{"a", "b", "c"}, []bool{false, false, false})

	for _, name := range []string{"sdcm", "dcm", "sdbn", "dbn", "ubm", "fcm", "vcm", "pbm"} {
		t.Run(name, func(t *testing.T) {
			m := newModel(t, name, nil)
			acc := params.NewAccumulator()
			switch b := m.b.(type) {
			case inference.Expecter:
				if ll := b.Expect(s, acc); math.IsNaN(ll) || ll > 0 {
					t.Errorf("Expect() = %v", ll)
				}
			case inference.Counter:
				b.Count(s, acc)
			}

			for _, role := range []string{RoleSat, RoleCont} {
				if p := m.Params().Get(role); p != nil && acc.Keys(p) != 0 {
					t.Errorf("%s received %d contributions", role, acc.Keys(p))
				}
			}
			attr := m.Params().Get(RoleAttr)
			for _, doc := range []string{"a", "b", "c"} {
				sums := acc.Get(attr, params.Key{Query: "q", Doc: doc})
				if sums.Num > sums.Den || sums.Num < 0 {
					t.Errorf("attr(%s) sums = %+v", doc, sums)
				}
			}

			if _, err := m.Train(context.Background(), []*session.Session{s}); err != nil {
				t.Errorf("Train() error = %v", err)
			}
		})
	}
}

func TestNoClickPolicy(t *testing.T) {
	data := []*session.Session{
		session.New("q", []string{"a", "b"}, []bool{false, false}),
		session.New("q", []string{"a", "b"}, []bool{true, false}),
	}

	tests := []struct {
		policy string
		want   float64
	}{
		{NoClickInclude, 0.5},
		{NoClickSkip, 1},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			m := newModel(t, "sdcm", func(c *Config) { c.NoClickPolicy = tt.policy })
			train(t, m, data)
			if got := m.Params().Get(RoleAttr).At(params.Key{Query: "q", Doc: "a"}); got != tt.want {
				t.Errorf("attr(a) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTrain_SkipsMalformed(t *testing.T) {
	good := session.New("q", []string{"a", "b"}, []bool{true, false})
	long := session.New("q", []string{"a", "b", "c"}, []bool{false, false, true})
	badVertical := session.New("q", []string{"a"}, []bool{true})
	badVertical.Vertical = &session.Vertical{Position: 3}

	m := newModel(t, "dctr", func(c *Config) { c.MaxRank = 2 })
	res := train(t, m, []*session.Session{good, long, nil, badVertical, {Query: "q"}})
	if res.Sessions != 1 || res.Skipped != 4 {
		t.Errorf("Sessions = %d Skipped = %d, want 1 and 4", res.Sessions, res.Skipped)
	}
}

func TestConditionalChainsToLikelihood(t *testing.T) {
	data := synthetic(200, 6)
	var samples []*session.Session
	for _, s := range data[:40] {
		if s.Vertical == nil || !s.Vertical.Click {
			samples = append(samples, s)
		}
	}

	for _, name := range []string{"pbm", "dcm", "dbn", "ubm", "fcm", "vcm"} {
		t.Run(name, func(t *testing.T) {
			m := newModel(t, name, nil)
			train(t, m, data)
			e := m.b.(inference.Expecter)

			for _, s := range samples {
				var sum float64
				for _, p := range m.ConditionalClickProbs(s) {
					sum += math.Log(p)
				}
				ll := e.Expect(s, params.NewAccumulator())
				if math.Abs(sum-ll) > 1e-8 {
					t.Fatalf("sum of log conditionals %v, session log-likelihood %v", sum, ll)
				}
			}
		})
	}
}

func TestFCM_ClickedVerticalDrawsAttention(t *testing.T) {
	m := newModel(t, "fcm", nil)
	s := session.New("q", []string{"a", "b", "c"}, []bool{false, true, false})
	s.Vertical = &session.Vertical{Position: 1, Click: true}

	acc := params.NewAccumulator()
	m.b.(inference.Expecter).Expect(s, acc)

	phi := m.Params().Get(RolePhi)
	if sums := acc.Get(phi, params.Key{Rank: 2}); math.Abs(sums.Num-1) > 1e-12 || sums.Den != 1 {
		t.Errorf("phi sums = %+v, want 1/1", sums)
	}
	beta := m.Params().Get(RoleBeta)
	if acc.Keys(beta) != 3 {
		t.Errorf("beta keys = %d, want 3", acc.Keys(beta))
	}
}

func TestVCM_MixtureWeights(t *testing.T) {
	m := newModel(t, "vcm", nil)
	s := session.New("q", []string{"a", "b", "c", "d"}, []bool{false, false, true, false})
	s.Vertical = &session.Vertical{Position: 2}

	acc := params.NewAccumulator()
	m.b.(inference.Expecter).Expect(s, acc)

	phi := acc.Get(m.Params().Get(RolePhi), params.Key{Rank: 3})
	sigma := acc.Get(m.Params().Get(RoleSigma), params.Key{Rank: 3})
	if phi.Den != 1 || phi.Num <= 0 || phi.Num >= 1 {
		t.Errorf("phi sums = %+v", phi)
	}
	if math.Abs(sigma.Den-phi.Num) > 1e-12 || sigma.Num > sigma.Den {
		t.Errorf("sigma sums = %+v, phi = %+v", sigma, phi)
	}
}

func TestVerticalOutsideResults(t *testing.T) {
	sessions := synthetic(200, 5)
	for _, name := range []string{"fcm", "vcm", "ubm", "dbn"} {
		t.Run(name, func(t *testing.T) {
			m := newModel(t, name, nil)
			train(t, m, sessions)

			for _, pos := range []int{-1, 3, 7} {
				s := session.New("q0", []string{"d0", "d1", "d2"}, []bool{false, true, false})
				s.Vertical = &session.Vertical{Position: pos}
				for _, probs := range [][]float64{m.PredictClickProbs(s), m.ConditionalClickProbs(s)} {
					if len(probs) != 3 {
						t.Fatalf("vertical %d: got %d probabilities", pos, len(probs))
					}
					for i, p := range probs {
						if p < 0 || p > 1 || math.IsNaN(p) {
							t.Errorf("vertical %d: prob[%d] = %v", pos, i, p)
						}
					}
				}
			}
		})
	}

	m := newModel(t, "vcm", nil)
	train(t, m, sessions)
	plain := session.New("q0", []string{"d0", "d1", "d2"}, []bool{false, true, false})
	outside := session.New("q0", []string{"d0", "d1", "d2"}, []bool{false, true, false})
	outside.Vertical = &session.Vertical{Position: 3}
	want, got := m.PredictClickProbs(plain), m.PredictClickProbs(outside)
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("vcm with vertical outside results = %v, want %v", got, want)
			break
		}
	}
}
