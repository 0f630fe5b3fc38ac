package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-clickmodels/internal/bus"
	"github.com/ricesearch/rice-clickmodels/internal/config"
)

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect and replay the training event journal",
		Long: `Inspect the event journal written when bus.journal (RCM_EVENT_JOURNAL)
is set, or replay it onto the configured event bus.`,
	}
	cmd.PersistentFlags().String("journal", "", "journal file (defaults to bus.journal)")
	cmd.PersistentFlags().Duration("since", 0, "only events newer than this age (0 for all)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List journaled events",
		Args:  cobra.NoArgs,
		RunE:  runEventsList,
	}
	list.Flags().Int("limit", 0, "maximum number of events (0 for all)")

	replay := &cobra.Command{
		Use:   "replay",
		Short: "Republish journaled events on the configured bus",
		Args:  cobra.NoArgs,
		RunE:  runEventsReplay,
	}

	cmd.AddCommand(list, replay)
	return cmd
}

// openJournal opens the journal named by --journal or the configuration.
// The journal path is cleared from the configuration so that replaying does
// not append to the file being read.
func openJournal(cmd *cobra.Command) (*app, *bus.Journal, time.Time, error) {
	path, _ := cmd.Flags().GetString("journal")
	a, err := newApp(cmd, func(cfg *config.Config) error {
		if path == "" {
			path = cfg.Bus.Journal
		}
		cfg.Bus.Journal = ""
		return nil
	})
	if err != nil {
		return nil, nil, time.Time{}, err
	}
	if path == "" {
		return nil, nil, time.Time{}, fmt.Errorf("no journal configured (set --journal or bus.journal)")
	}

	j, err := bus.OpenJournal(path)
	if err != nil {
		return nil, nil, time.Time{}, err
	}

	var since time.Time
	if age, _ := cmd.Flags().GetDuration("since"); age > 0 {
		since = time.Now().Add(-age)
	}
	return a, j, since, nil
}

func runEventsList(cmd *cobra.Command, _ []string) error {
	a, j, since, err := openJournal(cmd)
	if err != nil {
		return err
	}
	defer j.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	entries, err := j.Entries(since, limit)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []bus.JournalEntry{}
	}

	return a.render(entries, func(w io.Writer) error {
		for _, e := range entries {
			payload, err := json.Marshal(e.Event.Payload)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s  %-22s %s\n", e.Timestamp.Format(time.RFC3339), e.Topic, payload)
		}
		return nil
	})
}

func runEventsReplay(cmd *cobra.Command, _ []string) error {
	a, j, since, err := openJournal(cmd)
	if err != nil {
		return err
	}
	defer j.Close()

	b, err := a.openBus()
	if err != nil {
		return err
	}
	defer b.Close()

	if err := j.Replay(cmd.Context(), b, since); err != nil {
		return err
	}
	a.log.Info("Replayed event journal", "bus", a.cfg.Bus.Type)
	return nil
}
