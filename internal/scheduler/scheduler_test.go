package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/orbit/pkg/logger"
)

type fakeJob struct {
	name     string
	schedule string
	errs     []error // 시도별 결과
	calls    int
}

func (j *fakeJob) Name() string     { return j.name }
func (j *fakeJob) Schedule() string { return j.schedule }

func (j *fakeJob) Run(ctx context.Context) error {
	j.calls++
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("no deadline")
	}
	if len(j.errs) == 0 {
		return nil
	}
	err := j.errs[0]
	j.errs = j.errs[1:]
	return err
}

func TestScheduler_AddJob(t *testing.T) {
	s := New(time.UTC, logger.Nop())

	require.NoError(t, s.AddJob(&fakeJob{name: "a", schedule: "0 55 15 * * MON-FRI"}))
	assert.Error(t, s.AddJob(&fakeJob{name: "a", schedule: "0 * * * * *"}), "duplicate name")
	assert.Error(t, s.AddJob(&fakeJob{name: "b", schedule: "not cron"}))

	sums := s.Summaries()
	require.Len(t, sums, 1)
	assert.Equal(t, "a", sums[0].Name)
	assert.Equal(t, 0, sums[0].Runs)
}

func TestScheduler_RunJobRetries(t *testing.T) {
	s := New(time.UTC, logger.Nop(), WithRetries(2, time.Millisecond))
	job := &fakeJob{name: "flaky", schedule: "@every 1h", errs: []error{errors.New("once")}}
	require.NoError(t, s.AddJob(job))

	require.NoError(t, s.RunJob("flaky"))
	assert.Equal(t, 2, job.calls)

	sum := s.Summaries()[0]
	assert.Equal(t, 1, sum.Runs)
	assert.Equal(t, 0, sum.Failures)
	assert.NotNil(t, sum.LastRun)
	assert.Empty(t, sum.LastError)
}

func TestScheduler_RunJobGivesUp(t *testing.T) {
	s := New(time.UTC, logger.Nop(), WithRetries(1, time.Millisecond))
	boom := errors.New("boom")
	job := &fakeJob{name: "broken", schedule: "@every 1h", errs: []error{boom, boom, boom}}
	require.NoError(t, s.AddJob(job))

	require.NoError(t, s.RunJob("broken"))
	assert.Equal(t, 2, job.calls)

	sum := s.Summaries()[0]
	assert.Equal(t, 1, sum.Failures)
	assert.Equal(t, "boom", sum.LastError)

	assert.Error(t, s.RunJob("missing"))
}

func TestJobHistory_KeepsNewest(t *testing.T) {
	h := &JobHistory{}
	for i := 0; i < historySize+10; i++ {
		h.AddResult(JobResult{Success: i%2 == 0, Error: "e"})
	}
	assert.Len(t, h.Results, historySize)
	last, ok := h.Last()
	require.True(t, ok)
	assert.False(t, last.Success)
	assert.Len(t, h.GetFailedResults(), historySize/2)
}

func TestScheduler_RunStopsWithContext(t *testing.T) {
	s := New(time.UTC, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
