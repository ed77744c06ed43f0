package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJanitor_StartStop(t *testing.T) {
	tr := newTestTracker(nil)
	j := NewJanitor(tr, time.Hour, "@hourly", zerolog.Nop())

	require.False(t, j.IsRunning())
	require.NoError(t, j.Start())
	assert.True(t, j.IsRunning())

	// Double start is rejected
	assert.Error(t, j.Start())

	j.Stop()
	assert.False(t, j.IsRunning())

	// Stopping a stopped janitor is a no-op
	j.Stop()
}

func TestJanitor_InvalidSchedule(t *testing.T) {
	tr := newTestTracker(nil)
	j := NewJanitor(tr, time.Hour, "not a schedule", zerolog.Nop())

	err := j.Start()
	assert.Error(t, err)
	assert.False(t, j.IsRunning())
}

func TestJanitor_Defaults(t *testing.T) {
	tr := newTestTracker(nil)
	j := NewJanitor(tr, 0, "", zerolog.Nop())

	assert.Equal(t, DefaultStaleAge, j.staleAge)
	assert.Equal(t, DefaultSweepSchedule, j.schedule)
}

func TestJanitor_SweepEvictsStale(t *testing.T) {
	tr := newTestTracker(nil)
	ctx := context.Background()

	base := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }
	_, err := tr.Pause(ctx, "abandoned", sampleState(), "")
	require.NoError(t, err)

	tr.now = func() time.Time { return base.Add(73 * time.Hour) }
	_, err = tr.Pause(ctx, "live", sampleState(), "")
	require.NoError(t, err)

	j := NewJanitor(tr, DefaultStaleAge, DefaultSweepSchedule, zerolog.Nop())
	j.Sweep()

	assert.Equal(t, 1, tr.Len())
	_, err = tr.Load(ctx, "abandoned")
	assert.ErrorIs(t, err, ErrNotFound)
}
