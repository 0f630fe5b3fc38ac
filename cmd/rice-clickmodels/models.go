package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-clickmodels/internal/clickmodel"
	"github.com/ricesearch/rice-clickmodels/internal/store"
)

func modelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage stored model snapshots",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored snapshots",
			Args:  cobra.NoArgs,
			RunE:  runModelsList,
		},
		&cobra.Command{
			Use:   "show <snapshot>",
			Short: "Show a snapshot and its parameters",
			Args:  cobra.ExactArgs(1),
			RunE:  runModelsShow,
		},
		&cobra.Command{
			Use:   "delete <snapshot>...",
			Short: "Delete snapshots",
			Args:  cobra.MinimumNArgs(1),
			RunE:  runModelsDelete,
		},
		&cobra.Command{
			Use:   "available",
			Short: "List trainable models and model sets",
			Args:  cobra.NoArgs,
			RunE:  runModelsAvailable,
		},
	)
	return cmd
}

func runModelsList(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	names, err := st.List(cmd.Context())
	if err != nil {
		return err
	}
	snaps := make([]*store.Snapshot, 0, len(names))
	for _, name := range names {
		snap, err := st.Get(cmd.Context(), name)
		if err != nil {
			a.log.Warn("Skipping unreadable snapshot", "name", name, "error", err)
			continue
		}
		snap.Triples = nil
		snaps = append(snaps, snap)
	}

	return a.render(snaps, func(w io.Writer) error {
		tw := newTable(w)
		fmt.Fprintln(tw, "NAME\tMODEL\tRULE\tMAX-RANK\tSESSIONS\tTRAINED")
		for _, s := range snaps {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
				s.Name, s.Model, s.Rule, s.MaxRank, s.Sessions, s.TrainedAt.Format("2006-01-02 15:04:05"))
		}
		return tw.Flush()
	})
}

func runModelsShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	snap, err := st.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	return a.render(snap, func(w io.Writer) error {
		fmt.Fprintf(w, "Name:     %s\nModel:    %s\nRule:     %s\nMax rank: %d\nSessions: %d\nTrained:  %s\nChecksum: %s\n\n",
			snap.Name, snap.Model, snap.Rule, snap.MaxRank, snap.Sessions,
			snap.TrainedAt.Format("2006-01-02 15:04:05"), snap.Checksum)

		tw := newTable(w)
		fmt.Fprintln(tw, "ROLE\tQUERY\tDOC\tRANK\tPREV\tGRADE\tVALUE")
		for _, t := range snap.Triples {
			k := t.Key
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
				t.Role, k.Query, k.Doc, k.Rank, k.Prev, k.Grade, formatFloat(t.Value))
		}
		return tw.Flush()
	})
}

func runModelsDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	for _, name := range args {
		if err := st.Delete(cmd.Context(), name); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Deleted %s\n", name)
	}
	return nil
}

// availableModels is the output of `models available`.
type availableModels struct {
	Models []string            `json:"models" yaml:"models"`
	Sets   map[string][]string `json:"sets" yaml:"sets"`
}

func runModelsAvailable(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}

	out := availableModels{Models: clickmodel.Names(), Sets: make(map[string][]string)}
	for _, set := range []string{"test", "test-rel", "baseline"} {
		names, err := clickmodel.Expand([]string{set})
		if err != nil {
			return err
		}
		out.Sets[set] = names
	}

	return a.render(out, func(w io.Writer) error {
		for _, name := range out.Models {
			fmt.Fprintln(w, name)
		}
		fmt.Fprintln(w)
		for _, set := range []string{"test", "test-rel", "baseline"} {
			fmt.Fprintf(w, "%s: %v\n", set, out.Sets[set])
		}
		return nil
	})
}
