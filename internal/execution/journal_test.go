package execution

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/pkg/logger"
)

type fakeStore struct {
	mu     sync.Mutex
	orders []contracts.OrderHandle
	states []contracts.OrderState
	events []PositionEventKind
	fail   error
	done   chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{done: make(chan struct{}, 16)}
}

func (s *fakeStore) SaveOrder(_ context.Context, h contracts.OrderHandle, _ contracts.OrderRequest) error {
	s.mu.Lock()
	s.orders = append(s.orders, h)
	s.mu.Unlock()
	s.done <- struct{}{}
	return s.fail
}

func (s *fakeStore) UpdateOrderState(_ context.Context, ev contracts.OrderEvent) error {
	s.mu.Lock()
	s.states = append(s.states, ev.State)
	s.mu.Unlock()
	s.done <- struct{}{}
	return s.fail
}

func (s *fakeStore) SavePositionEvent(_ context.Context, ev PositionEvent) error {
	s.mu.Lock()
	s.events = append(s.events, ev.Kind)
	s.mu.Unlock()
	s.done <- struct{}{}
	return s.fail
}

func (s *fakeStore) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("journal write %d/%d not applied", i+1, n)
		}
	}
}

func TestJournalWriter_WritesInOrder(t *testing.T) {
	store := newFakeStore()
	w := NewJournalWriter(store, 8, time.Second, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	pos := &contracts.Position{ID: "p1", RemainingContracts: 4, CurrentStopPrice: 98}
	w.RecordOrder(ctx, "h1", contracts.OrderRequest{PositionID: "p1", Role: contracts.RoleStop, Qty: 4})
	w.RecordOrderEvent(ctx, contracts.OrderEvent{Handle: "h1", State: contracts.StateFilled, FilledQty: 4})
	w.RecordPositionEvent(ctx, NewPositionEvent(pos, EventClosed, 98, 4, "stop"))
	store.wait(t, 3)

	store.mu.Lock()
	assert.Equal(t, []contracts.OrderHandle{"h1"}, store.orders)
	assert.Equal(t, []contracts.OrderState{contracts.StateFilled}, store.states)
	assert.Equal(t, []PositionEventKind{EventClosed}, store.events)
	store.mu.Unlock()

	cancel()
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not stop")
	}
}

func TestJournalWriter_StoreErrorDoesNotStop(t *testing.T) {
	store := newFakeStore()
	store.fail = errors.New("db down")
	w := NewJournalWriter(store, 8, time.Second, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	pos := &contracts.Position{ID: "p1"}
	w.RecordPositionEvent(ctx, NewPositionEvent(pos, EventCreated, 100, 1, ""))
	w.RecordPositionEvent(ctx, NewPositionEvent(pos, EventEntryFilled, 100, 1, ""))
	store.wait(t, 2)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.events, 2)
}

func TestJournalWriter_DropsWhenFull(t *testing.T) {
	store := newFakeStore()
	w := NewJournalWriter(store, 2, time.Second, logger.Nop())

	// Run 전이라 큐가 비워지지 않음
	pos := &contracts.Position{ID: "p1"}
	for i := 0; i < 5; i++ {
		w.RecordPositionEvent(context.Background(), NewPositionEvent(pos, EventStopMoved, float64(i), 1, ""))
	}
	assert.Len(t, w.queue, 2)
}

func TestNewPositionEvent(t *testing.T) {
	pos := &contracts.Position{ID: "p9", RemainingContracts: 6, CurrentStopPrice: 101.5}
	ev := NewPositionEvent(pos, EventTargetFilled, 103, 2, "T1")

	assert.Equal(t, "p9", ev.PositionID)
	assert.Equal(t, EventTargetFilled, ev.Kind)
	assert.Equal(t, 6, ev.Remaining)
	assert.Equal(t, 101.5, ev.StopPrice)
	assert.Equal(t, "T1", ev.Detail)
	assert.False(t, ev.At.IsZero())
}

func TestRepository_Roundtrip(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" || testing.Short() {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		t.Skipf("database unreachable: %v", err)
	}

	repo := NewRepository(pool)
	require.NoError(t, repo.Migrate(ctx))

	id := "test-" + time.Now().Format("150405.000000")
	h := contracts.OrderHandle(id + "-stop")
	req := contracts.OrderRequest{
		PositionID: id, Instrument: "MES", Role: contracts.RoleStop,
		Side: contracts.OrderSideBuy, Type: contracts.OrderTypeStopMarket, Qty: 2, StopPrice: 99, CreatedAt: time.Now(),
	}
	require.NoError(t, repo.SaveOrder(ctx, h, req))
	require.NoError(t, repo.SaveOrder(ctx, h, req)) // upsert은 중복 무시
	require.NoError(t, repo.UpdateOrderState(ctx, contracts.OrderEvent{Handle: h, State: contracts.StateFilled, FilledQty: 2, AvgFillPrice: 99, Time: time.Now()}))

	pos := &contracts.Position{ID: id, RemainingContracts: 2, CurrentStopPrice: 99}
	require.NoError(t, repo.SavePositionEvent(ctx, NewPositionEvent(pos, EventCreated, 100, 2, "")))
	require.NoError(t, repo.SavePositionEvent(ctx, NewPositionEvent(pos, EventClosed, 99, 2, "stop")))

	events, err := repo.ListPositionEvents(ctx, id)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventCreated, events[0].Kind)
	assert.Equal(t, EventClosed, events[1].Kind)

	_, err = pool.Exec(ctx, "DELETE FROM journal.position_events WHERE position_id = $1", id)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, "DELETE FROM journal.orders WHERE position_id = $1", id)
	require.NoError(t, err)
}
