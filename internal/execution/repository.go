package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/pkg/logger"
)

// Repository handles journal persistence
// ⭐ SSOT: 주문/포지션 이력 저장/조회는 여기서만
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new journal repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Migrate creates the journal tables when missing
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, journalSchema); err != nil {
		return fmt.Errorf("failed to migrate journal schema: %w", err)
	}
	return nil
}

// SaveOrder saves a submitted order
func (r *Repository) SaveOrder(ctx context.Context, h contracts.OrderHandle, req contracts.OrderRequest) error {
	query := `
		INSERT INTO journal.orders (
			handle, position_id, instrument, role, side, order_type,
			qty, limit_price, stop_price, state, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (handle) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, query,
		string(h), req.PositionID, req.Instrument, string(req.Role), string(req.Side), string(req.Type),
		req.Qty, req.LimitPrice, req.StopPrice, string(contracts.StateWorking), req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}

	return nil
}

// UpdateOrderState updates state and fill progress of an order
func (r *Repository) UpdateOrderState(ctx context.Context, ev contracts.OrderEvent) error {
	query := `
		UPDATE journal.orders
		SET state = $1, filled_qty = $2, avg_fill_price = $3, updated_at = $4
		WHERE handle = $5
	`

	_, err := r.pool.Exec(ctx, query, string(ev.State), ev.FilledQty, ev.AvgFillPrice, ev.Time, string(ev.Handle))
	if err != nil {
		return fmt.Errorf("failed to update order state: %w", err)
	}

	return nil
}

// SavePositionEvent appends a position transition
func (r *Repository) SavePositionEvent(ctx context.Context, ev PositionEvent) error {
	query := `
		INSERT INTO journal.position_events (
			position_id, kind, price, qty, remaining, stop_price, detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		ev.PositionID, string(ev.Kind), ev.Price, ev.Qty, ev.Remaining, ev.StopPrice, ev.Detail, ev.At,
	)
	if err != nil {
		return fmt.Errorf("failed to save position event: %w", err)
	}

	return nil
}

// ListPositionEvents retrieves the history of a position
func (r *Repository) ListPositionEvents(ctx context.Context, positionID string) ([]PositionEvent, error) {
	query := `
		SELECT position_id, kind, price, qty, remaining, stop_price, detail, created_at
		FROM journal.position_events
		WHERE position_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query position events: %w", err)
	}
	defer rows.Close()

	events := make([]PositionEvent, 0)

	for rows.Next() {
		var ev PositionEvent
		var kind string
		err := rows.Scan(
			&ev.PositionID, &kind, &ev.Price, &ev.Qty, &ev.Remaining, &ev.StopPrice, &ev.Detail, &ev.At,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position event: %w", err)
		}
		ev.Kind = PositionEventKind(kind)
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return events, nil
}

const journalSchema = `
CREATE SCHEMA IF NOT EXISTS journal;

CREATE TABLE IF NOT EXISTS journal.orders (
	handle          TEXT PRIMARY KEY,
	position_id     TEXT NOT NULL,
	instrument      TEXT NOT NULL,
	role            TEXT NOT NULL,
	side            TEXT NOT NULL,
	order_type      TEXT NOT NULL,
	qty             INTEGER NOT NULL,
	limit_price     DOUBLE PRECISION NOT NULL DEFAULT 0,
	stop_price      DOUBLE PRECISION NOT NULL DEFAULT 0,
	state           TEXT NOT NULL,
	filled_qty      INTEGER NOT NULL DEFAULT 0,
	avg_fill_price  DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_position ON journal.orders (position_id);

CREATE TABLE IF NOT EXISTS journal.position_events (
	id           BIGSERIAL PRIMARY KEY,
	position_id  TEXT NOT NULL,
	kind         TEXT NOT NULL,
	price        DOUBLE PRECISION NOT NULL DEFAULT 0,
	qty          INTEGER NOT NULL DEFAULT 0,
	remaining    INTEGER NOT NULL DEFAULT 0,
	stop_price   DOUBLE PRECISION NOT NULL DEFAULT 0,
	detail       TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_position_events_position ON journal.position_events (position_id, created_at);
`

// =============================================================================
// Async journal writer
// =============================================================================

// journalStore is the subset of Repository the writer needs
type journalStore interface {
	SaveOrder(ctx context.Context, h contracts.OrderHandle, req contracts.OrderRequest) error
	UpdateOrderState(ctx context.Context, ev contracts.OrderEvent) error
	SavePositionEvent(ctx context.Context, ev PositionEvent) error
}

// JournalWriter implements Journal on a background goroutine
// 버퍼가 차면 기록을 버리고 경고 (actor를 막지 않음)
type JournalWriter struct {
	store   journalStore
	queue   chan func(ctx context.Context) error
	timeout time.Duration
	logger  *logger.Logger
}

// NewJournalWriter creates a writer with a bounded queue
func NewJournalWriter(store journalStore, size int, timeout time.Duration, log *logger.Logger) *JournalWriter {
	if size <= 0 {
		size = 256
	}
	return &JournalWriter{
		store:   store,
		queue:   make(chan func(ctx context.Context) error, size),
		timeout: timeout,
		logger:  log,
	}
}

// Run drains the queue until ctx is cancelled
func (w *JournalWriter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case op := <-w.queue:
			opCtx, cancel := context.WithTimeout(context.Background(), w.timeout)
			if err := op(opCtx); err != nil {
				w.logger.WithError(err).Warn("Journal write failed")
			}
			cancel()
		}
	}
}

func (w *JournalWriter) enqueue(op func(ctx context.Context) error) {
	select {
	case w.queue <- op:
	default:
		w.logger.Warn("Journal queue full, dropping record")
	}
}

func (w *JournalWriter) RecordOrder(_ context.Context, h contracts.OrderHandle, req contracts.OrderRequest) {
	w.enqueue(func(ctx context.Context) error { return w.store.SaveOrder(ctx, h, req) })
}

func (w *JournalWriter) RecordOrderEvent(_ context.Context, ev contracts.OrderEvent) {
	w.enqueue(func(ctx context.Context) error { return w.store.UpdateOrderState(ctx, ev) })
}

func (w *JournalWriter) RecordPositionEvent(_ context.Context, ev PositionEvent) {
	w.enqueue(func(ctx context.Context) error { return w.store.SavePositionEvent(ctx, ev) })
}
