package jobs

import (
	"context"

	"github.com/wonny/orbit/internal/contracts"
)

// Runner executes fn on the engine goroutine and waits
type Runner interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Engine is the engine surface cron jobs drive
type Engine interface {
	FlattenAll(ctx context.Context, reason string) int
	ReconcileFlat(ctx context.Context) int
	Snapshot() []contracts.Position
}
