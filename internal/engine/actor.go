package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/wonny/orbit/pkg/logger"
)

// ErrQueueFull is returned by TryPost when the actor queue is saturated
var ErrQueueFull = errors.New("actor queue full")

// Task is one unit of work run on the actor goroutine
type Task func(ctx context.Context)

// Actor serializes every engine mutation on one goroutine
// ⭐ SSOT: Engine/Ledger/BracketManager는 lock 없이 이 goroutine에서만 실행
type Actor struct {
	tasks  chan Task
	after  func(ctx context.Context) // 각 task 후 실행 (gateway 이벤트 drain)
	logger *logger.Logger
}

// NewActor creates an actor with a bounded queue
// after는 nil 가능
func NewActor(size int, after func(ctx context.Context), log *logger.Logger) *Actor {
	if size <= 0 {
		size = 1024
	}
	return &Actor{
		tasks:  make(chan Task, size),
		after:  after,
		logger: log,
	}
}

// Run drains the queue until ctx is cancelled
func (a *Actor) Run(ctx context.Context) error {
	a.logger.WithField("queue_size", cap(a.tasks)).Info("Engine actor started")
	for {
		select {
		case <-ctx.Done():
			a.logger.WithField("queued", len(a.tasks)).Info("Engine actor stopped")
			return ctx.Err()
		case task := <-a.tasks:
			a.exec(ctx, task)
		}
	}
}

// Post enqueues task, blocking while the queue is full
func (a *Actor) Post(ctx context.Context, task Task) error {
	select {
	case a.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPost enqueues task without blocking
// feed tick처럼 최신 값만 의미 있는 입력용
func (a *Actor) TryPost(task Task) error {
	select {
	case a.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Do posts fn and waits until it has run
func (a *Actor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	task := func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("task panicked: %v", r)
			}
		}()
		done <- fn(ctx)
	}
	if err := a.Post(ctx, task); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of queued tasks
func (a *Actor) Len() int {
	return len(a.tasks)
}

// exec runs one task and the post-task hook; a panic never kills the loop
func (a *Actor) exec(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.WithError(fmt.Errorf("%v", r)).Error("Engine task panicked")
		}
	}()

	task(ctx)
	if a.after != nil {
		a.after(ctx)
	}
}
