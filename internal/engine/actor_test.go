package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/orbit/pkg/logger"
)

func startActor(t *testing.T, size int, after func(ctx context.Context)) *Actor {
	t.Helper()
	a := NewActor(size, after, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = a.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return a
}

func TestActor_RunsTasksInOrderWithAfterHook(t *testing.T) {
	var (
		mu  sync.Mutex
		log []string
	)
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		log = append(log, s)
	}
	a := startActor(t, 8, func(context.Context) { record("pump") })

	ctx := context.Background()
	require.NoError(t, a.Post(ctx, func(context.Context) { record("a") }))
	require.NoError(t, a.Post(ctx, func(context.Context) { record("b") }))
	require.NoError(t, a.Do(ctx, func(context.Context) error {
		record("c")
		return nil
	}))

	// Do 반환 시점에 c의 after hook은 아직일 수 있음
	require.NoError(t, a.Do(ctx, func(context.Context) error { return nil }))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "pump", "b", "pump", "c", "pump"}, log[:6])
}

func TestActor_DoReturnsTaskError(t *testing.T) {
	a := startActor(t, 1, nil)

	boom := errors.New("boom")
	err := a.Do(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestActor_PanicDoesNotStopLoop(t *testing.T) {
	a := startActor(t, 4, nil)
	ctx := context.Background()

	err := a.Do(ctx, func(context.Context) error { panic("bad task") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad task")

	require.NoError(t, a.Post(ctx, func(context.Context) { panic("again") }))
	assert.NoError(t, a.Do(ctx, func(context.Context) error { return nil }))
}

func TestActor_TryPostQueueFull(t *testing.T) {
	a := NewActor(1, nil, logger.Nop())

	require.NoError(t, a.TryPost(func(context.Context) {}))
	assert.ErrorIs(t, a.TryPost(func(context.Context) {}), ErrQueueFull)
	assert.Equal(t, 1, a.Len())
}

func TestActor_DoHonoursContext(t *testing.T) {
	a := NewActor(1, nil, logger.Nop()) // Run 없음

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := a.Do(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
