// Package inference runs parameter estimation for click models: a single
// counting pass for maximum likelihood, and expectation maximisation over the
// latent per-session states.
package inference

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/ricesearch/rice-clickmodels/internal/params"
	"github.com/ricesearch/rice-clickmodels/internal/session"
)

// Defaults used when Options leave a field unset.
const (
	DefaultMaxIterations = 50
	DefaultTolerance     = 1e-4
)

// Counter adds the observed counts of one session.
type Counter interface {
	Count(s *session.Session, acc *params.Accumulator)
}

// Expecter adds the expected counts of one session under the current values
// and returns the session log-likelihood under those values.
type Expecter interface {
	Expect(s *session.Session, acc *params.Accumulator) float64
}

// Iteration reports one completed pass.
type Iteration struct {
	N             int
	MaxDelta      float64
	LogLikelihood float64
	Elapsed       time.Duration
}

// Options controls a run.
type Options struct {
	MaxIterations int
	// Tolerance stops EM once no value moved by more than this amount. Zero
	// runs the full budget; a negative value selects DefaultTolerance.
	Tolerance float64
	Workers   int
	// Progress is called after every pass from the calling goroutine.
	Progress func(Iteration)
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.Tolerance < 0 {
		o.Tolerance = DefaultTolerance
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	return o
}

// Result describes a finished run.
type Result struct {
	Rule       params.Rule `json:"rule" yaml:"rule"`
	Iterations int         `json:"iterations" yaml:"iterations"`
	// Converged is false when EM hit MaxIterations first.
	Converged bool    `json:"converged" yaml:"converged"`
	MaxDelta  float64 `json:"max_delta" yaml:"max_delta"`
	// LogLikelihood holds the training log-likelihood seen by each E-step.
	LogLikelihood []float64     `json:"log_likelihood,omitempty" yaml:"log_likelihood,omitempty"`
	Sessions      int           `json:"sessions" yaml:"sessions"`
	Skipped       int           `json:"skipped" yaml:"skipped"`
	Duration      time.Duration `json:"duration" yaml:"duration"`
}

// RunMLE performs the single counting pass and updates every parameter once.
func RunMLE(ctx context.Context, set *params.Set, c Counter, sessions []*session.Session, opts Options) (Result, error) {
	opts = opts.withDefaults()
	start := time.Now()

	set.ResetAccumulators()
	_, err := accumulate(ctx, sessions, opts.Workers, func(s *session.Session, acc *params.Accumulator) float64 {
		c.Count(s, acc)
		return 0
	})
	if err != nil {
		return Result{Rule: params.MLE}, err
	}
	delta := set.Update()

	it := Iteration{N: 1, MaxDelta: delta, Elapsed: time.Since(start)}
	if opts.Progress != nil {
		opts.Progress(it)
	}

	return Result{
		Rule:       params.MLE,
		Iterations: 1,
		Converged:  true,
		MaxDelta:   delta,
		Sessions:   len(sessions),
		Duration:   time.Since(start),
	}, nil
}

// RunEM iterates E and M steps until the largest change drops below the
// tolerance or the iteration budget is spent. Cancellation is honoured
// between iterations and between sessions of an E-step; the values of the
// last completed M-step are kept.
func RunEM(ctx context.Context, set *params.Set, e Expecter, sessions []*session.Session, opts Options) (Result, error) {
	opts = opts.withDefaults()
	start := time.Now()
	res := Result{Rule: params.EM, Sessions: len(sessions)}

	for i := 1; i <= opts.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			res.Duration = time.Since(start)
			return res, err
		}
		itStart := time.Now()

		set.ResetAccumulators()
		ll, err := accumulate(ctx, sessions, opts.Workers, e.Expect)
		if err != nil {
			res.Duration = time.Since(start)
			return res, err
		}
		delta := set.Update()

		res.Iterations = i
		res.MaxDelta = delta
		res.LogLikelihood = append(res.LogLikelihood, ll)

		if opts.Progress != nil {
			opts.Progress(Iteration{N: i, MaxDelta: delta, LogLikelihood: ll, Elapsed: time.Since(itStart)})
		}
		if delta < opts.Tolerance {
			res.Converged = true
			break
		}
	}

	res.Duration = time.Since(start)
	return res, nil
}

// accumulate splits sessions into contiguous chunks, one per worker, each with
// its own accumulator. Accumulators are flushed in worker order once every
// worker is done, so containers see a single writer.
func accumulate(ctx context.Context, sessions []*session.Session, workers int,
	fn func(*session.Session, *params.Accumulator) float64) (float64, error) {
	if workers > len(sessions) {
		workers = len(sessions)
	}
	if workers < 1 {
		return 0, nil
	}

	accs := make([]*params.Accumulator, workers)
	partial := make([]float64, workers)
	chunk := (len(sessions) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := min(lo+chunk, len(sessions))
		accs[w] = params.NewAccumulator()
		if lo >= hi {
			continue
		}

		g.Go(func() error {
			acc := accs[w]
			for i, s := range sessions[lo:hi] {
				if i%256 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				partial[w] += fn(s, acc)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("accumulating statistics: %w", err)
	}

	for _, acc := range accs {
		acc.Flush()
	}
	return floats.Sum(partial), nil
}
