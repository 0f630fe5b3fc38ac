// Package trainer runs complete training jobs: it reads click logs, trains
// every requested model, scores the models on held-out sessions, saves them
// and publishes lifecycle events along the way.
package trainer

import (
	"context"
	"fmt"
	"time"

	"github.com/ricesearch/rice-clickmodels/internal/bus"
	"github.com/ricesearch/rice-clickmodels/internal/clickmodel"
	"github.com/ricesearch/rice-clickmodels/internal/evaluation"
	"github.com/ricesearch/rice-clickmodels/internal/inference"
	"github.com/ricesearch/rice-clickmodels/internal/metrics"
	apperrors "github.com/ricesearch/rice-clickmodels/internal/pkg/errors"
	"github.com/ricesearch/rice-clickmodels/internal/pkg/logger"
	"github.com/ricesearch/rice-clickmodels/internal/session"
	"github.com/ricesearch/rice-clickmodels/internal/store"
)

const source = "trainer"

// Options controls a training job.
type Options struct {
	// Models lists model names and model set names.
	Models []string
	// Model is the configuration every model is built with.
	Model clickmodel.Config
	// Save stores every trained model, named SavePrefix + model name.
	Save       bool
	SavePrefix string
	// Evaluation is used when test sessions are given.
	Evaluation evaluation.Options
	Judgments  []evaluation.RelevanceJudgment
	// OnIteration is called after every inference pass of every model.
	OnIteration func(model string, it inference.Iteration)
}

// ModelRun is the outcome of one model.
type ModelRun struct {
	Model    string             `json:"model" yaml:"model"`
	Result   inference.Result   `json:"result" yaml:"result"`
	Report   *evaluation.Report `json:"report,omitempty" yaml:"report,omitempty"`
	Snapshot string             `json:"snapshot,omitempty" yaml:"snapshot,omitempty"`

	model *clickmodel.Model
}

// Trained returns the trained model.
func (r *ModelRun) Trained() *clickmodel.Model { return r.model }

// Report is the outcome of a training job.
type Report struct {
	TrainSessions int                 `json:"train_sessions" yaml:"train_sessions"`
	TestSessions  int                 `json:"test_sessions" yaml:"test_sessions"`
	Runs          []*ModelRun         `json:"runs" yaml:"runs"`
	Summary       *evaluation.Summary `json:"summary,omitempty" yaml:"summary,omitempty"`
	Duration      time.Duration       `json:"duration" yaml:"duration"`
}

// Trainer runs training jobs. The store, bus and metrics are optional.
type Trainer struct {
	store   *store.Service
	bus     bus.Bus
	metrics *metrics.Metrics
	log     *logger.Logger
}

// New creates a trainer.
func New(st *store.Service, b bus.Bus, m *metrics.Metrics, log *logger.Logger) *Trainer {
	if log == nil {
		log = logger.Discard()
	}
	return &Trainer{store: st, bus: b, metrics: m, log: log}
}

// Build validates opts and constructs one untrained model per requested name.
// Nothing is trained when any name or setting is invalid.
func (t *Trainer) Build(opts Options) ([]*clickmodel.Model, error) {
	names, err := clickmodel.Expand(opts.Models)
	if err != nil {
		return nil, err
	}

	models := make([]*clickmodel.Model, 0, len(names))
	for _, name := range names {
		spec, err := clickmodel.ParseSpec(name)
		if err != nil {
			return nil, err
		}

		cfg := opts.Model
		cfg.Options.Progress = t.progress(name, opts.OnIteration)
		m, err := clickmodel.New(spec, cfg)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, nil
}

func (t *Trainer) progress(model string, hook func(string, inference.Iteration)) func(inference.Iteration) {
	log := t.log.WithModel(model)
	return func(it inference.Iteration) {
		log.WithIteration(it.N).Debug("Inference pass",
			"max_delta", it.MaxDelta,
			"log_likelihood", it.LogLikelihood,
			"elapsed", it.Elapsed,
		)
		if t.metrics != nil {
			t.metrics.RecordIteration(model, it.LogLikelihood, it.MaxDelta)
		}
		t.publish(context.Background(), bus.TopicIterationCompleted, bus.IterationCompleted{
			Model:         model,
			Iteration:     it.N,
			MaxDelta:      it.MaxDelta,
			LogLikelihood: it.LogLikelihood,
			ElapsedMs:     it.Elapsed.Milliseconds(),
		})
		if hook != nil {
			hook(model, it)
		}
	}
}

// Run trains every requested model on train, evaluates it on test when test
// is not empty, and saves it when opts.Save is set.
func (t *Trainer) Run(ctx context.Context, train, test []*session.Session, opts Options) (*Report, error) {
	start := time.Now()
	if len(train) == 0 {
		return nil, apperrors.ValidationError("no training sessions")
	}
	if opts.Save && t.store == nil {
		return nil, apperrors.InvalidConfigError("saving requested without a model store")
	}

	models, err := t.Build(opts)
	if err != nil {
		return nil, err
	}

	var evaluator *evaluation.Evaluator
	if len(test) > 0 {
		evalOpts := opts.Evaluation
		if evalOpts.MaxRank <= 0 {
			evalOpts.MaxRank = opts.Model.MaxRank
		}
		evaluator = evaluation.NewEvaluator(evalOpts)
		evaluator.LoadJudgments(opts.Judgments)
	}

	report := &Report{TrainSessions: len(train), TestSessions: len(test)}
	var reports []*evaluation.Report
	for _, m := range models {
		run, err := t.runModel(ctx, m, train, test, evaluator, opts)
		if err != nil {
			return report, err
		}
		report.Runs = append(report.Runs, run)
		if run.Report != nil {
			reports = append(reports, run.Report)
		}
	}

	if evaluator != nil {
		report.Summary = evaluator.Summarize(reports)
	}
	report.Duration = time.Since(start)
	t.log.Info("Training finished",
		"models", len(report.Runs),
		"train_sessions", report.TrainSessions,
		"test_sessions", report.TestSessions,
		"duration", report.Duration,
	)
	return report, nil
}

func (t *Trainer) runModel(ctx context.Context, m *clickmodel.Model, train, test []*session.Session,
	evaluator *evaluation.Evaluator, opts Options) (*ModelRun, error) {
	log := t.log.WithModel(m.Name())
	t.publish(ctx, bus.TopicTrainStarted, bus.TrainStarted{
		Model:    m.Name(),
		Rule:     m.Rule().String(),
		Sessions: len(train),
	})

	res, err := m.Train(ctx, train)
	if err != nil {
		log.WithError(err).Error("Training failed")
		return nil, fmt.Errorf("training %s: %w", m.Name(), err)
	}
	if t.metrics != nil {
		t.metrics.RecordTrain(m.Name(), res.Rule.String(), res.Duration)
	}
	log.Info("Model trained",
		"rule", res.Rule.String(),
		"iterations", res.Iterations,
		"converged", res.Converged,
		"sessions", res.Sessions,
		"skipped", res.Skipped,
		"duration", res.Duration,
	)

	run := &ModelRun{Model: m.Name(), Result: res, model: m}
	completed := bus.TrainCompleted{
		Model:      m.Name(),
		Iterations: res.Iterations,
		Converged:  res.Converged,
		Sessions:   res.Sessions,
		Skipped:    res.Skipped,
		DurationMs: res.Duration.Milliseconds(),
	}

	if evaluator != nil {
		rep, err := evaluator.Evaluate(m, test)
		if err != nil {
			return nil, fmt.Errorf("evaluating %s: %w", m.Name(), err)
		}
		run.Report = rep
		completed.Perplexity = rep.Perplexity.Overall
		if t.metrics != nil {
			t.metrics.RecordEvaluation(m.Name(), rep.Perplexity.Overall, rep.ConditionalPerplexity.Overall)
		}
		log.Info("Model evaluated",
			"log_likelihood", rep.LogLikelihood,
			"perplexity", rep.Perplexity.Overall,
			"conditional_perplexity", rep.ConditionalPerplexity.Overall,
		)
	}
	t.publish(ctx, bus.TopicTrainCompleted, completed)

	if opts.Save {
		name := opts.SavePrefix + m.Name()
		snap, err := t.store.Save(ctx, name, m, res.Sessions)
		if t.metrics != nil {
			t.metrics.RecordStore("save", err)
		}
		if err != nil {
			return nil, err
		}
		run.Snapshot = name
		t.publish(ctx, bus.TopicModelSaved, bus.ModelSaved{
			Name:     name,
			Model:    snap.Model,
			Checksum: snap.Checksum,
			Params:   len(snap.Triples),
		})
	}
	return run, nil
}

// publish sends an event when a bus is configured. Publishing failures are
// logged and never abort training.
func (t *Trainer) publish(ctx context.Context, topic string, payload any) {
	if t.bus == nil {
		return
	}
	if err := t.bus.Publish(ctx, topic, bus.NewEvent(topic, source, payload)); err != nil {
		t.log.Warn("Failed to publish event", "topic", topic, "error", err.Error())
	}
}
