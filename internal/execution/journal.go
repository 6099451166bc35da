package execution

import (
	"context"
	"time"

	"github.com/wonny/orbit/internal/contracts"
)

// PositionEventKind names a journaled position transition
type PositionEventKind string

const (
	EventCreated          PositionEventKind = "CREATED"
	EventEntryFilled      PositionEventKind = "ENTRY_FILLED"
	EventEntryRepriced    PositionEventKind = "ENTRY_REPRICED"
	EventEntryCancelled   PositionEventKind = "ENTRY_CANCELLED"
	EventBracketSubmitted PositionEventKind = "BRACKET_SUBMITTED"
	EventTargetFilled     PositionEventKind = "TARGET_FILLED"
	EventStopMoved        PositionEventKind = "STOP_MOVED"
	EventEmergencyFlatten PositionEventKind = "EMERGENCY_FLATTEN"
	EventClosed           PositionEventKind = "CLOSED"
)

// PositionEvent is one journal row
type PositionEvent struct {
	PositionID string            `json:"position_id"`
	Kind       PositionEventKind `json:"kind"`
	Price      float64           `json:"price"`
	Qty        int               `json:"qty"`
	Remaining  int               `json:"remaining"`
	StopPrice  float64           `json:"stop_price"`
	Detail     string            `json:"detail,omitempty"`
	At         time.Time         `json:"at"`
}

// NewPositionEvent fills the position-derived fields of an event
func NewPositionEvent(p *contracts.Position, kind PositionEventKind, price float64, qty int, detail string) PositionEvent {
	return PositionEvent{
		PositionID: p.ID,
		Kind:       kind,
		Price:      price,
		Qty:        qty,
		Remaining:  p.RemainingContracts,
		StopPrice:  p.CurrentStopPrice,
		Detail:     detail,
		At:         time.Now(),
	}
}

// Journal records orders and position transitions
// actor goroutine에서 호출되므로 구현은 블로킹하면 안 됨
type Journal interface {
	RecordOrder(ctx context.Context, h contracts.OrderHandle, req contracts.OrderRequest)
	RecordOrderEvent(ctx context.Context, ev contracts.OrderEvent)
	RecordPositionEvent(ctx context.Context, ev PositionEvent)
}

// NopJournal discards everything
type NopJournal struct{}

func (NopJournal) RecordOrder(context.Context, contracts.OrderHandle, contracts.OrderRequest) {}
func (NopJournal) RecordOrderEvent(context.Context, contracts.OrderEvent)                    {}
func (NopJournal) RecordPositionEvent(context.Context, PositionEvent)                        {}
