package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-clickmodels/internal/clickmodel"
	"github.com/ricesearch/rice-clickmodels/internal/evaluation"
	"github.com/ricesearch/rice-clickmodels/internal/trainer"
)

// evalOutput is the machine readable form of an evaluation.
type evalOutput struct {
	Sessions int                  `json:"sessions" yaml:"sessions"`
	Reports  []*evaluation.Report `json:"reports" yaml:"reports"`
	Summary  *evaluation.Summary  `json:"summary" yaml:"summary"`
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate <click-log> <snapshot>...",
		Short: "Score stored models on a click log",
		Long: `Score one or more stored model snapshots on a held-out click log.

Every snapshot reports log-likelihood, perplexity, conditional perplexity
and click-through rate error. Relevance AUC and NDCG are added when
--judgments names a relevance judgments file.

Examples:
  rice-clickmodels evaluate test.tsv exp1-dbn exp1-ubm
  rice-clickmodels evaluate test.tsv exp1-dbn --judgments qrels.txt --format json`,
		Args: cobra.MinimumNArgs(2),
		RunE: runEvaluate,
	}

	addInputFlags(cmd)
	addEvalFlags(cmd)
	return cmd
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	// sessions must fit every model, so read them with the smallest rank
	models := make([]*clickmodel.Model, len(args)-1)
	maxRank := 0
	for i, name := range args[1:] {
		if models[i], err = st.Load(ctx, name); err != nil {
			return fmt.Errorf("loading %s: %w", name, err)
		}
		if maxRank == 0 || models[i].MaxRank() < maxRank {
			maxRank = models[i].MaxRank()
		}
	}

	t := trainer.New(st, nil, a.metrics, a.log)
	sessions, err := readInput(ctx, cmd, t, args[0], maxRank)
	if err != nil {
		return err
	}

	opts, judgments, err := evaluationOptions(cmd, maxRank)
	if err != nil {
		return err
	}
	evaluator := evaluation.NewEvaluator(opts)
	if judgments != nil {
		evaluator.LoadJudgments(judgments)
	}

	reports := make([]*evaluation.Report, 0, len(models))
	for i, m := range models {
		name := args[i+1]
		rep, err := evaluator.Evaluate(m, sessions)
		if err != nil {
			return fmt.Errorf("evaluating %s: %w", name, err)
		}
		rep.Model = name
		a.metrics.RecordEvaluation(name, rep.Perplexity.Overall, rep.ConditionalPerplexity.Overall)
		a.log.Info("Evaluated model", "snapshot", name, "perplexity", rep.Perplexity.Overall)
		reports = append(reports, rep)
	}

	out := evalOutput{
		Sessions: len(sessions),
		Reports:  reports,
		Summary:  evaluator.Summarize(reports),
	}
	return a.render(out, func(w io.Writer) error {
		fmt.Fprintf(w, "Evaluated %d model(s) on %d sessions\n\n", len(reports), len(sessions))
		return writeEvalTable(w, reports, out.Summary)
	})
}
