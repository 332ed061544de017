package schedule

import (
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("0 3 * * *"))
	assert.NoError(t, Validate("*/15 * * * *"))
	assert.Error(t, Validate("not a cron"))
	assert.Error(t, Validate("0 25 * * *"))
}

func TestScheduler_AddAndList(t *testing.T) {
	s := newScheduler(t)
	require.NoError(t, s.Add("catalog-sync", "0 3 * * *", func() {}))
	s.Start()

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "catalog-sync", jobs[0].Name)
	assert.Equal(t, "0 3 * * *", jobs[0].Schedule)
	assert.False(t, jobs[0].NextRun.IsZero())
	assert.Equal(t, 3, jobs[0].NextRun.Hour())
}

func TestScheduler_DuplicateName(t *testing.T) {
	s := newScheduler(t)
	require.NoError(t, s.Add("a", "0 3 * * *", func() {}))
	assert.Error(t, s.Add("a", "0 4 * * *", func() {}))
}

func TestScheduler_InvalidExpression(t *testing.T) {
	s := newScheduler(t)
	assert.Error(t, s.Add("bad", "every day", func() {}))
	assert.Empty(t, s.Jobs())
}

func TestScheduler_RunNow(t *testing.T) {
	s := newScheduler(t)
	var calls atomic.Int32
	require.NoError(t, s.Add("a", "0 3 * * *", func() { calls.Add(1) }))
	s.Start()

	require.NoError(t, s.RunNow("a"))
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Error(t, s.RunNow("missing"))
}
