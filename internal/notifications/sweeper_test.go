package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	cutoffs []time.Time
	deleted int64
	err     error
}

func (f *fakePruner) DeleteReadBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.deleted, f.err
}

func TestSweeper_Sweep(t *testing.T) {
	pruner := &fakePruner{deleted: 7}
	s := NewSweeper(pruner, 30)
	now := time.Date(2026, time.October, 31, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	assert.Equal(t, int64(7), s.Sweep(context.Background()))
	require.Len(t, pruner.cutoffs, 1)
	assert.Equal(t, time.Date(2026, time.October, 1, 12, 0, 0, 0, time.UTC), pruner.cutoffs[0])

	pruner.err = errors.New("connection reset")
	assert.Zero(t, s.Sweep(context.Background()))
}

func TestSweeper_Schedule(t *testing.T) {
	s := NewSweeper(&fakePruner{}, 90)
	require.NoError(t, s.Schedule("@daily"))
	require.NoError(t, s.Schedule("30 3 * * *"))
	assert.Error(t, s.Schedule("whenever"))

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
