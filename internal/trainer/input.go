package trainer

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ricesearch/rice-clickmodels/internal/bus"
	apperrors "github.com/ricesearch/rice-clickmodels/internal/pkg/errors"
	"github.com/ricesearch/rice-clickmodels/internal/session"
)

// Click log formats.
const (
	FormatRecords = "records"
	FormatYandex  = "yandex"
)

// Input names a click log.
type Input struct {
	Path   string
	Format string
	// Limit caps the number of Yandex sessions read; zero reads all.
	Limit int
}

// Read parses the click log, reporting rejected lines on the bus.
func (t *Trainer) Read(ctx context.Context, in Input, maxRank int) ([]*session.Session, error) {
	f, err := os.Open(in.Path)
	if err != nil {
		return nil, fmt.Errorf("opening click log: %w", err)
	}
	defer f.Close()

	var (
		sessions []*session.Session
		stats    session.ReadStats
	)
	switch strings.ToLower(in.Format) {
	case "", FormatRecords:
		sessions, stats, err = session.ReadRecords(f, maxRank)
	case FormatYandex:
		sessions, stats, err = session.ReadYandex(f, maxRank, in.Limit)
	default:
		return nil, apperrors.InvalidConfigError(fmt.Sprintf("unknown click log format %q", in.Format))
	}
	if err != nil {
		return nil, err
	}

	if t.metrics != nil {
		t.metrics.RecordSessions(stats.Sessions, stats.Rejected)
	}
	t.log.Info("Read click log", "path", in.Path, "sessions", stats.Sessions, "rejected", stats.Rejected)
	if stats.Rejected > 0 {
		for _, sample := range stats.Samples {
			t.log.Debug("Rejected session", "reason", sample)
		}
		t.publish(ctx, bus.TopicSessionsRejected, bus.SessionsRejected{
			Source:   in.Path,
			Rejected: stats.Rejected,
			Accepted: stats.Sessions,
		})
	}
	return sessions, nil
}

// SplitOptions controls how a single log is divided into train and test.
type SplitOptions struct {
	// Fraction is the share of sessions used for training.
	Fraction float64
	// FilterTestQueries drops test sessions whose query never occurs in
	// the training part.
	FilterTestQueries bool
}

// Split divides sessions into a training prefix and a test suffix.
func Split(sessions []*session.Session, opts SplitOptions) (train, test []*session.Session) {
	train, test = session.Split(sessions, opts.Fraction)
	if opts.FilterTestQueries && len(test) > 0 {
		test = session.FilterByQueries(test, session.UniqueQueries(train))
	}
	return train, test
}
