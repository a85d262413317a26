package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const sweepTimeout = time.Minute

// Pruner deletes read notifications older than a cutoff.
type Pruner interface {
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper periodically removes read notifications past their retention.
type Sweeper struct {
	pruner    Pruner
	retention time.Duration
	cron      *cron.Cron
	now       func() time.Time
}

func NewSweeper(pruner Pruner, retentionDays int) *Sweeper {
	return &Sweeper{
		pruner:    pruner,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		cron:      cron.New(),
		now:       time.Now,
	}
}

// Schedule registers the sweep under a standard cron expression.
func (s *Sweeper) Schedule(expr string) error {
	if _, err := s.cron.AddFunc(expr, func() { s.Sweep(context.Background()) }); err != nil {
		return fmt.Errorf("scheduling notification sweep: %w", err)
	}
	return nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
	slog.Info("notification sweeper started", "retention", s.retention)
}

// Stop waits for a running sweep to finish or ctx to expire.
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Sweep runs one pass and returns how many notifications were deleted.
func (s *Sweeper) Sweep(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	cutoff := s.now().UTC().Add(-s.retention)
	n, err := s.pruner.DeleteReadBefore(ctx, cutoff)
	if err != nil {
		slog.Error("notification sweep failed", "error", err)
		return 0
	}
	if n > 0 {
		slog.Info("notification sweep", "deleted", n, "cutoff", cutoff)
	}
	return n
}
