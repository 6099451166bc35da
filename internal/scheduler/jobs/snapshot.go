package jobs

import (
	"context"
	"fmt"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/pkg/logger"
	"github.com/wonny/orbit/pkg/redis"
)

// SnapshotJob copies the ledger into the Redis cache
type SnapshotJob struct {
	runner   Runner
	engine   Engine
	cache    *redis.Cache
	schedule string
	logger   *logger.Logger
}

// NewSnapshotJob creates the position snapshot job
func NewSnapshotJob(runner Runner, e Engine, cache *redis.Cache, schedule string, log *logger.Logger) *SnapshotJob {
	return &SnapshotJob{
		runner:   runner,
		engine:   e,
		cache:    cache,
		schedule: schedule,
		logger:   log,
	}
}

// Name returns the job name
func (j *SnapshotJob) Name() string {
	return "position_snapshot"
}

// Schedule returns the cron schedule
func (j *SnapshotJob) Schedule() string {
	return j.schedule
}

// Run snapshots on the engine goroutine and writes outside it
func (j *SnapshotJob) Run(ctx context.Context) error {
	var positions []contracts.Position
	if err := j.runner.Do(ctx, func(context.Context) error {
		positions = j.engine.Snapshot()
		return nil
	}); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	if err := j.cache.Set(ctx, redis.PositionsKey, positions, redis.TTLShort); err != nil {
		return fmt.Errorf("cache positions: %w", err)
	}
	j.logger.WithField("positions", len(positions)).Debug("Position snapshot cached")
	return nil
}
