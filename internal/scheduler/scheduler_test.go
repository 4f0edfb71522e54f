package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
	err  error

	mu   sync.Mutex
	runs int
	ctx  context.Context
}

func (j *stubJob) Name() string { return j.name }

func (j *stubJob) Run(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs++
	j.ctx = ctx
	return j.err
}

func (j *stubJob) runCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runs
}

func (j *stubJob) lastCtx() context.Context {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.ctx
}

func TestAddJobRejectsInvalidSchedule(t *testing.T) {
	s := New(context.Background(), zerolog.Nop())
	t.Cleanup(s.Stop)

	err := s.AddJob("not a schedule", &stubJob{name: "bad"})
	assert.Error(t, err)
}

func TestRunNowExecutesSynchronously(t *testing.T) {
	s := New(context.Background(), zerolog.Nop())
	t.Cleanup(s.Stop)

	job := &stubJob{name: "now", err: errors.New("boom")}
	err := s.RunNow(job)

	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, 1, job.runCount())
	require.NotNil(t, job.lastCtx())
	assert.NoError(t, job.lastCtx().Err(), "job context is live while the scheduler runs")
}

func TestStopCancelsJobContext(t *testing.T) {
	s := New(context.Background(), zerolog.Nop())

	job := &stubJob{name: "lifecycle"}
	require.NoError(t, s.RunNow(job))

	s.Stop()

	require.NotNil(t, job.lastCtx())
	assert.ErrorIs(t, job.lastCtx().Err(), context.Canceled,
		"running jobs observe shutdown through their context")
}

func TestScheduledJobFires(t *testing.T) {
	s := New(context.Background(), zerolog.Nop())
	t.Cleanup(s.Stop)

	job := &stubJob{name: "tick"}
	require.NoError(t, s.AddJob("@every 50ms", job))
	s.Start()

	assert.Eventually(t, func() bool {
		return job.runCount() > 0
	}, 5*time.Second, 10*time.Millisecond)
}
