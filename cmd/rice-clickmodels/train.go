package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-clickmodels/internal/clickmodel"
	"github.com/ricesearch/rice-clickmodels/internal/config"
	"github.com/ricesearch/rice-clickmodels/internal/evaluation"
	"github.com/ricesearch/rice-clickmodels/internal/inference"
	"github.com/ricesearch/rice-clickmodels/internal/session"
	"github.com/ricesearch/rice-clickmodels/internal/store"
	"github.com/ricesearch/rice-clickmodels/internal/trainer"
)

func trainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train <click-log>",
		Short: "Train click models on a click log",
		Long: `Train one or more click models on a click log and score them on
held-out sessions.

The held-out sessions come from --test, or from the tail of the log when
--test is not given (see --split). Models may be named individually or by
set: test, test-rel, baseline, all.

Examples:
  rice-clickmodels train sessions.tsv --models dbn,ubm
  rice-clickmodels train yandex.txt --input-format yandex --limit 100000 --models test
  rice-clickmodels train sessions.tsv --test test.tsv --save --prefix exp1-`,
		Args: cobra.ExactArgs(1),
		RunE: runTrain,
	}

	addTrainFlags(cmd)
	addInputFlags(cmd)
	addEvalFlags(cmd)
	cmd.Flags().String("test", "", "held-out click log (defaults to splitting the training log)")
	cmd.Flags().Float64("split", 0, "share of sessions used for training when --test is not given")
	cmd.Flags().Bool("filter-test-queries", false, "drop test sessions whose query is not in the training sessions")
	cmd.Flags().Bool("save", false, "save every trained model to the model store")
	cmd.Flags().String("prefix", "", "snapshot name prefix for saved models")
	cmd.Flags().Bool("progress", true, "show a progress bar per model")

	return cmd
}

// addTrainFlags registers the estimation flags.
func addTrainFlags(cmd *cobra.Command) {
	cmd.Flags().String("models", "", "comma separated model or model set names")
	cmd.Flags().Int("max-rank", 0, "maximum number of results per session")
	cmd.Flags().Int("iterations", 0, "maximum EM iterations")
	cmd.Flags().Float64("tolerance", -1, "EM stopping tolerance on the largest parameter change (0 runs every iteration)")
	cmd.Flags().Int("workers", 0, "parallel E-step workers")
	cmd.Flags().String("inference", "", "override the inference rule (mle, em)")
	cmd.Flags().String("no-click", "", "how counting rules treat sessions without clicks (include, skip)")
}

// addInputFlags registers the click log flags.
func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().String("input-format", trainer.FormatRecords, "click log format (records, yandex)")
	cmd.Flags().Int("limit", 0, "maximum sessions read from a yandex log (0 reads all)")
}

// addEvalFlags registers the evaluation flags.
func addEvalFlags(cmd *cobra.Command) {
	cmd.Flags().String("judgments", "", "relevance judgments file (query doc grade per line)")
	cmd.Flags().Int("ndcg-rank", 5, "cutoff of the ranking metric")
	cmd.Flags().Int("min-sessions", 10, "sessions a query needs to count in the ranking metric")
}

// applyTrainFlags copies changed estimation flags into cfg.
func applyTrainFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("models") {
		cfg.Train.Models, _ = f.GetString("models")
	}
	if f.Changed("max-rank") {
		cfg.Train.MaxRank, _ = f.GetInt("max-rank")
	}
	if f.Changed("iterations") {
		cfg.Train.MaxIterations, _ = f.GetInt("iterations")
	}
	if f.Changed("tolerance") {
		cfg.Train.Tolerance, _ = f.GetFloat64("tolerance")
	}
	if f.Changed("workers") {
		cfg.Train.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("no-click") {
		cfg.Train.NoClickPolicy, _ = f.GetString("no-click")
	}
	if f.Changed("split") {
		cfg.Train.TrainFraction, _ = f.GetFloat64("split")
	}
	if f.Changed("filter-test-queries") {
		cfg.Train.FilterTestQueries, _ = f.GetBool("filter-test-queries")
	}
	return nil
}

// modelConfig builds the per-model configuration from the settings.
func modelConfig(cmd *cobra.Command, cfg *config.Config) clickmodel.Config {
	rule, _ := cmd.Flags().GetString("inference")
	return clickmodel.Config{
		MaxRank:       cfg.Train.MaxRank,
		Inference:     rule,
		NoClickPolicy: cfg.Train.NoClickPolicy,
		Options: inference.Options{
			MaxIterations: cfg.Train.MaxIterations,
			Tolerance:     cfg.Train.Tolerance,
			Workers:       cfg.Train.Workers,
		},
	}
}

// evaluationOptions reads the evaluation flags and the judgments file.
func evaluationOptions(cmd *cobra.Command, maxRank int) (evaluation.Options, []evaluation.RelevanceJudgment, error) {
	opts := evaluation.DefaultOptions()
	opts.MaxRank = maxRank
	opts.NDCGRank, _ = cmd.Flags().GetInt("ndcg-rank")
	opts.MinSessions, _ = cmd.Flags().GetInt("min-sessions")

	path, _ := cmd.Flags().GetString("judgments")
	if path == "" {
		return opts, nil, nil
	}
	judgments, err := evaluation.ReadJudgmentsFile(path)
	if err != nil {
		return opts, nil, fmt.Errorf("reading judgments: %w", err)
	}
	return opts, judgments, nil
}

// readInput reads a click log named on the command line.
func readInput(ctx context.Context, cmd *cobra.Command, t *trainer.Trainer, path string, maxRank int) ([]*session.Session, error) {
	format, _ := cmd.Flags().GetString("input-format")
	limit, _ := cmd.Flags().GetInt("limit")
	return t.Read(ctx, trainer.Input{Path: path, Format: format, Limit: limit}, maxRank)
}

func runTrain(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, func(cfg *config.Config) error { return applyTrainFlags(cmd, cfg) })
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	save, _ := cmd.Flags().GetBool("save")
	var st *store.Service
	if save {
		if st, err = a.openStore(); err != nil {
			return err
		}
		defer st.Close()
	}

	b, err := a.openBus()
	if err != nil {
		return err
	}
	defer b.Close()

	t := trainer.New(st, b, a.metrics, a.log)

	sessions, err := readInput(ctx, cmd, t, args[0], a.cfg.Train.MaxRank)
	if err != nil {
		return err
	}

	var train, test []*session.Session
	testPath, _ := cmd.Flags().GetString("test")
	if testPath != "" {
		train = sessions
		if test, err = readInput(ctx, cmd, t, testPath, a.cfg.Train.MaxRank); err != nil {
			return err
		}
		if a.cfg.Train.FilterTestQueries {
			test = session.FilterByQueries(test, session.UniqueQueries(train))
		}
	} else {
		train, test = trainer.Split(sessions, trainer.SplitOptions{
			Fraction:          a.cfg.Train.TrainFraction,
			FilterTestQueries: a.cfg.Train.FilterTestQueries,
		})
	}

	evalOpts, judgments, err := evaluationOptions(cmd, a.cfg.Train.MaxRank)
	if err != nil {
		return err
	}

	prefix, _ := cmd.Flags().GetString("prefix")
	opts := trainer.Options{
		Models:     a.cfg.ModelNames(),
		Model:      modelConfig(cmd, a.cfg),
		Save:       save,
		SavePrefix: prefix,
		Evaluation: evalOpts,
		Judgments:  judgments,
	}

	var bars *progress
	if showProgress, _ := cmd.Flags().GetBool("progress"); showProgress && a.format == formatText {
		bars = newProgress(cmd.ErrOrStderr(), a.cfg.Train.MaxIterations)
		opts.OnIteration = bars.iteration
	}

	report, err := t.Run(ctx, train, test, opts)
	if bars != nil {
		bars.finish()
	}
	if err != nil {
		return err
	}
	return a.render(report, func(w io.Writer) error { return writeTrainReport(w, report) })
}
