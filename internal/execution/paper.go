package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wonny/orbit/internal/contracts"
)

// ErrOrderNotWorking is returned when cancelling an unknown or terminal order
var ErrOrderNotWorking = errors.New("order is not working")

type paperOrder struct {
	handle contracts.OrderHandle
	req    contracts.OrderRequest
	state  contracts.OrderState
	filled int
	avg    float64
}

// PaperGateway simulates an exchange on last-price updates
// 이벤트는 큐에 쌓였다가 actor가 Drain()으로 가져감 (재진입 없음)
type PaperGateway struct {
	mu       sync.Mutex
	tick     decimal.Decimal
	orders   map[contracts.OrderHandle]*paperOrder
	working  []contracts.OrderHandle // 제출 순서
	events   []contracts.OrderEvent
	position int // net signed contracts
	last     float64
	now      func() time.Time
}

// NewPaperGateway creates a paper gateway for an instrument tick size
func NewPaperGateway(tickSize float64) *PaperGateway {
	return &PaperGateway{
		tick:   decimal.NewFromFloat(tickSize),
		orders: make(map[contracts.OrderHandle]*paperOrder),
		now:    time.Now,
	}
}

// Submit accepts an order; market orders fill at the last price when one exists
func (g *PaperGateway) Submit(_ context.Context, req *contracts.OrderRequest) (contracts.OrderHandle, error) {
	if req.Qty <= 0 {
		return "", fmt.Errorf("invalid quantity %d", req.Qty)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	h := contracts.OrderHandle(uuid.NewString())
	o := &paperOrder{handle: h, req: *req, state: contracts.StateWorking}
	g.orders[h] = o
	g.working = append(g.working, h)
	g.emit(o)

	if req.Type == contracts.OrderTypeMarket && g.last > 0 {
		g.fill(o, g.last)
		g.prune()
	}
	return h, nil
}

// Cancel cancels a working order; the CANCELLED event is queued
func (g *PaperGateway) Cancel(_ context.Context, h contracts.OrderHandle) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[h]
	if !ok || o.state.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrOrderNotWorking, h)
	}
	o.state = contracts.StateCancelled
	g.emit(o)
	g.prune()
	return nil
}

// OnPrice matches working orders against a new last price
func (g *PaperGateway) OnPrice(price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.last = price
	for _, h := range g.working {
		o := g.orders[h]
		if o.state.IsTerminal() {
			continue
		}
		if px, ok := g.match(o.req, price); ok {
			g.fill(o, px)
		}
	}
	g.prune()
}

// Drain returns and clears queued events
func (g *PaperGateway) Drain() []contracts.OrderEvent {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := g.events
	g.events = nil
	return out
}

// RoundToTick rounds price to the nearest tick
func (g *PaperGateway) RoundToTick(price float64) float64 {
	if g.tick.IsZero() {
		return price
	}
	return decimal.NewFromFloat(price).Div(g.tick).Round(0).Mul(g.tick).InexactFloat64()
}

// TickSize returns the instrument tick size
func (g *PaperGateway) TickSize() float64 {
	return g.tick.InexactFloat64()
}

// Position returns the net signed contract count
func (g *PaperGateway) Position() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.position
}

// Working returns the number of non-terminal orders
func (g *PaperGateway) Working() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for _, h := range g.working {
		if !g.orders[h].state.IsTerminal() {
			n++
		}
	}
	return n
}

// match returns the fill price when req executes at last
func (g *PaperGateway) match(req contracts.OrderRequest, last float64) (float64, bool) {
	buy := req.Side == contracts.OrderSideBuy
	switch req.Type {
	case contracts.OrderTypeMarket:
		return last, true
	case contracts.OrderTypeLimit:
		if (buy && last <= req.LimitPrice) || (!buy && last >= req.LimitPrice) {
			return req.LimitPrice, true
		}
	case contracts.OrderTypeStopMarket:
		if (buy && last >= req.StopPrice) || (!buy && last <= req.StopPrice) {
			return last, true
		}
	}
	return 0, false
}

func (g *PaperGateway) fill(o *paperOrder, price float64) {
	qty := o.req.Qty - o.filled
	o.avg = price
	o.filled = o.req.Qty
	o.state = contracts.StateFilled
	if o.req.Side == contracts.OrderSideBuy {
		g.position += qty
	} else {
		g.position -= qty
	}
	g.emit(o)
}

func (g *PaperGateway) emit(o *paperOrder) {
	g.events = append(g.events, contracts.OrderEvent{
		Handle:       o.handle,
		State:        o.state,
		FilledQty:    o.filled,
		AvgFillPrice: o.avg,
		Time:         g.now(),
	})
}

// prune drops terminal orders from the matching list
func (g *PaperGateway) prune() {
	kept := g.working[:0]
	for _, h := range g.working {
		if g.orders[h].state.IsTerminal() {
			delete(g.orders, h)
			continue
		}
		kept = append(kept, h)
	}
	g.working = kept
}
