package jobs

import (
	"context"

	"github.com/wonny/orbit/pkg/logger"
)

// SessionFlattenJob closes every position before the session ends
type SessionFlattenJob struct {
	runner   Runner
	engine   Engine
	schedule string
	logger   *logger.Logger
}

// NewSessionFlattenJob creates the session-end flatten job
func NewSessionFlattenJob(runner Runner, e Engine, schedule string, log *logger.Logger) *SessionFlattenJob {
	return &SessionFlattenJob{
		runner:   runner,
		engine:   e,
		schedule: schedule,
		logger:   log,
	}
}

// Name returns the job name
func (j *SessionFlattenJob) Name() string {
	return "session_flatten"
}

// Schedule returns the cron schedule
func (j *SessionFlattenJob) Schedule() string {
	return j.schedule
}

// Run flattens on the engine goroutine
func (j *SessionFlattenJob) Run(ctx context.Context) error {
	var n int
	err := j.runner.Do(ctx, func(ctx context.Context) error {
		n = j.engine.FlattenAll(ctx, "session end")
		return nil
	})
	if err != nil {
		return err
	}
	if n > 0 {
		j.logger.WithField("positions", n).Info("Session end flatten completed")
	}
	return nil
}

// ReconcileJob drops ledger entries the broker no longer holds
type ReconcileJob struct {
	runner   Runner
	engine   Engine
	schedule string
	logger   *logger.Logger
}

// NewReconcileJob creates the external-flat cleanup job
func NewReconcileJob(runner Runner, e Engine, schedule string, log *logger.Logger) *ReconcileJob {
	return &ReconcileJob{
		runner:   runner,
		engine:   e,
		schedule: schedule,
		logger:   log,
	}
}

// Name returns the job name
func (j *ReconcileJob) Name() string {
	return "reconcile_flat"
}

// Schedule returns the cron schedule
func (j *ReconcileJob) Schedule() string {
	return j.schedule
}

// Run reconciles on the engine goroutine
func (j *ReconcileJob) Run(ctx context.Context) error {
	return j.runner.Do(ctx, func(ctx context.Context) error {
		if n := j.engine.ReconcileFlat(ctx); n > 0 {
			j.logger.WithField("removed", n).Warn("Orphaned positions removed")
		}
		return nil
	})
}
