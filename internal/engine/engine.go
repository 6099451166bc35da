package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/internal/execution"
	"github.com/wonny/orbit/internal/ledger"
	"github.com/wonny/orbit/internal/signalbus"
	"github.com/wonny/orbit/internal/strategy"
	"github.com/wonny/orbit/internal/trailing"
	"github.com/wonny/orbit/pkg/logger"
)

var (
	ErrNotReady           = errors.New("engine not ready")
	ErrInstrumentMismatch = errors.New("instrument mismatch")
	ErrPrimaryOnly        = errors.New("entries are accepted on the primary only")
)

// Role decides whether lifecycle signals are published
type Role string

const (
	RolePrimary  Role = "primary"
	RoleFollower Role = "follower"
)

// maxDrainRounds bounds event cascades within one task
const maxDrainRounds = 64

// Config holds engine settings
type Config struct {
	Role       Role
	Instrument string
	ATRPeriod  int // TradeSignal.CurrentATR 용
	Bracket    execution.BracketConfig
	Trailing   trailing.Config
}

// Deps are the engine's collaborators
// Planner는 primary 전용 (follower는 nil)
type Deps struct {
	Gateway    execution.Gateway
	Journal    execution.Journal
	Indicators contracts.IndicatorSource
	Ranges     contracts.RangeSource
	Planner    *strategy.Planner
	Bus        *signalbus.Bus
}

// Readiness reports whether entries can be taken
type Readiness struct {
	Ready   bool     `json:"ready"`
	Reasons []string `json:"reasons"`
}

// Stats counts lifecycle transitions since start
type Stats struct {
	Submitted int `json:"submitted"`
	Filled    int `json:"filled"`
	Cancelled int `json:"cancelled"`
	Closed    int `json:"closed"`
}

// Status is the engine summary for the API
type Status struct {
	Role                Role      `json:"role"`
	Instrument          string    `json:"instrument"`
	Readiness           Readiness `json:"readiness"`
	Positions           int       `json:"positions"`
	PendingReplacements int       `json:"pending_replacements"`
	LastPrice           float64   `json:"last_price"`
	Stats               Stats     `json:"stats"`
}

// priceMatcher is implemented by simulated gateways that fill on last price
type priceMatcher interface {
	OnPrice(price float64)
}

// positionReporter is implemented by gateways that expose the net position
type positionReporter interface {
	Position() int
}

// Engine wires ledger, bracket manager, trailing and the signal bus
// ⭐ SSOT: 모든 메서드는 Actor goroutine에서만 호출 (lock 없음)
type Engine struct {
	cfg        Config
	ledger     *ledger.Ledger
	gw         execution.Gateway
	brackets   *execution.BracketManager
	trail      *trailing.Engine
	planner    *strategy.Planner
	indicators contracts.IndicatorSource
	ranges     contracts.RangeSource
	bus        *signalbus.Bus
	logger     *logger.Logger

	stats      Stats
	flattening bool // FlattenAll 중에는 개별 cancel 시그널 생략
}

// New creates an engine over its own ledger
func New(cfg Config, deps Deps, log *logger.Logger) *Engine {
	if deps.Indicators == nil {
		deps.Indicators = noIndicators{}
	}
	if cfg.Trailing.Round == nil {
		cfg.Trailing.Round = deps.Gateway.RoundToTick
	}
	if cfg.Trailing.TickSize == 0 {
		cfg.Trailing.TickSize = deps.Gateway.TickSize()
	}
	if cfg.ATRPeriod == 0 {
		cfg.ATRPeriod = 14
	}

	log = log.WithFields(map[string]interface{}{
		"role":       cfg.Role,
		"instrument": cfg.Instrument,
	})
	l := ledger.New()
	e := &Engine{
		cfg:        cfg,
		ledger:     l,
		gw:         deps.Gateway,
		brackets:   execution.NewBracketManager(l, deps.Gateway, deps.Journal, cfg.Bracket, log),
		trail:      trailing.New(deps.Indicators, cfg.Trailing, log),
		planner:    deps.Planner,
		indicators: deps.Indicators,
		ranges:     deps.Ranges,
		bus:        deps.Bus,
		logger:     log,
	}
	e.brackets.SetHooks(execution.Hooks{
		OnEntryFilled:    e.onEntryFilled,
		OnEntryCancelled: e.onEntryCancelled,
		OnClosed:         e.onClosed,
	})
	return e
}

// Role returns the engine role
func (e *Engine) Role() Role { return e.cfg.Role }

// Instrument returns the traded symbol
func (e *Engine) Instrument() string { return e.cfg.Instrument }

// Ledger exposes the position ledger (actor goroutine only)
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Brackets exposes the bracket manager (actor goroutine only)
func (e *Engine) Brackets() *execution.BracketManager { return e.brackets }

// Snapshot returns copies of every position
func (e *Engine) Snapshot() []contracts.Position { return e.ledger.Snapshot() }

// Stats returns lifecycle counters
func (e *Engine) Stats() Stats { return e.stats }

// =============================================================================
// Market data and gateway events
// =============================================================================

// OnTick filters ticks for other instruments, then runs OnPriceUpdate
func (e *Engine) OnTick(ctx context.Context, tick contracts.Tick) {
	if tick.Instrument != "" && !strings.EqualFold(tick.Instrument, e.cfg.Instrument) {
		e.logger.WithField("tick_instrument", tick.Instrument).Debug("Tick for another instrument ignored")
		return
	}
	e.OnPriceUpdate(ctx, tick.Price)
}

// OnPriceUpdate matches simulated orders, then trails every open position
func (e *Engine) OnPriceUpdate(ctx context.Context, price float64) {
	if price <= 0 {
		return
	}
	if m, ok := e.gw.(priceMatcher); ok {
		m.OnPrice(price)
	}
	e.brackets.SetMarket(price)

	// 이번 가격으로 체결된 주문을 트레일링 전에 반영
	e.Pump(ctx)

	var ids []string
	e.ledger.ForEach(func(p *contracts.Position) {
		if p.EntryFilled && p.BracketSubmitted {
			ids = append(ids, p.ID)
		}
	})
	for _, id := range ids {
		e.trailOne(ctx, id, price)
	}
}

// trailOne evaluates one position; a failure never stops the others
func (e *Engine) trailOne(ctx context.Context, id string, price float64) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithField("position_id", id).WithError(fmt.Errorf("%v", r)).Error("Trailing pass panicked")
		}
	}()

	var (
		d      trailing.Decision
		before int
	)
	err := e.ledger.Update(id, func(p *contracts.Position) {
		before = p.CurrentTrailLevel
		d = e.trail.Evaluate(p, price)
		if d.Level > p.CurrentTrailLevel {
			p.CurrentTrailLevel = d.Level
		}
	})
	if err != nil {
		e.logger.WithError(err).WithField("position_id", id).Warn("Trailing update failed")
		return
	}

	if d.Level > before {
		e.logger.WithFields(map[string]interface{}{
			"position_id": id,
			"from":        contracts.LevelLabel(before),
			"to":          contracts.LevelLabel(d.Level),
			"price":       price,
		}).Info("Trail level advanced")
	}
	if !d.Move {
		return
	}
	if err := e.MoveStop(ctx, id, d.StopPrice, d.Label); err != nil {
		e.logger.WithError(err).WithField("position_id", id).Error("Trailing stop move failed")
	}
}

// OnOrderStateChanged routes an asynchronous gateway event
func (e *Engine) OnOrderStateChanged(ctx context.Context, ev contracts.OrderEvent) {
	e.brackets.HandleEvent(ctx, ev)
}

// Pump processes events queued by a simulated gateway
// Actor가 매 task 후 호출
func (e *Engine) Pump(ctx context.Context) {
	d, ok := e.gw.(execution.Drainer)
	if !ok {
		return
	}
	for i := 0; i < maxDrainRounds; i++ {
		events := d.Drain()
		if len(events) == 0 {
			return
		}
		for _, ev := range events {
			e.brackets.HandleEvent(ctx, ev)
		}
	}
	e.logger.WithField("rounds", maxDrainRounds).Warn("Gateway events still queued after drain limit")
}

// =============================================================================
// Entries
// =============================================================================

// EnterEntry plans and submits an entry (primary only)
func (e *Engine) EnterEntry(ctx context.Context, req strategy.Request) (contracts.Position, error) {
	if e.planner == nil || e.cfg.Role != RolePrimary {
		return contracts.Position{}, ErrPrimaryOnly
	}
	if req.Instrument != "" && !strings.EqualFold(req.Instrument, e.cfg.Instrument) {
		return contracts.Position{}, fmt.Errorf("%w: %s", ErrInstrumentMismatch, req.Instrument)
	}
	req.Instrument = e.cfg.Instrument
	req.Last = e.brackets.LastPrice()

	spec, err := e.planner.Plan(req)
	if err != nil {
		return contracts.Position{}, e.planError(req, err)
	}
	return e.Submit(ctx, spec)
}

// ExecuteDirectional opens a market entry for a remote LONG/SHORT command
func (e *Engine) ExecuteDirectional(ctx context.Context, symbol string, d contracts.Direction) error {
	if e.planner == nil || e.cfg.Role != RolePrimary {
		return ErrPrimaryOnly
	}
	if !strings.EqualFold(symbol, e.cfg.Instrument) {
		return fmt.Errorf("%w: %s (trading %s)", ErrInstrumentMismatch, symbol, e.cfg.Instrument)
	}

	req := strategy.Request{
		Instrument: e.cfg.Instrument,
		Mode:       contracts.ModeBreakout,
		Direction:  d,
		Last:       e.brackets.LastPrice(),
	}
	spec, err := e.planner.Directional(req)
	if err != nil {
		return e.planError(req, err)
	}
	_, err = e.Submit(ctx, spec)
	return err
}

// Submit sends a ready-made spec and broadcasts it
// follower는 수신한 TradeSignal로 만든 spec을 직접 전달
func (e *Engine) Submit(ctx context.Context, spec contracts.PositionSpec) (contracts.Position, error) {
	p, err := e.brackets.SubmitEntry(ctx, spec)
	if err != nil {
		return contracts.Position{}, err
	}
	e.stats.Submitted++

	snapshot := p.Clone()
	e.publish(e.tradeSignal(snapshot))
	return snapshot, nil
}

// RepriceEntry moves a pending entry
func (e *Engine) RepriceEntry(ctx context.Context, id string, price float64) error {
	if err := e.brackets.RepriceEntry(ctx, id, price); err != nil {
		return err
	}
	p, _ := e.ledger.Get(id)
	e.publish(contracts.EntryUpdateSignal{SignalID: id, EntryPrice: p.EntryPrice})
	return nil
}

// CancelEntry cancels a pending entry; OrderCancelSignal comes from the hook
func (e *Engine) CancelEntry(ctx context.Context, id, reason string) error {
	return e.brackets.CancelEntry(ctx, id, reason)
}

// FlattenAll closes every position and cancels every pending entry
func (e *Engine) FlattenAll(ctx context.Context, reason string) int {
	e.publish(contracts.FlattenSignal{Reason: reason})

	e.flattening = true
	defer func() { e.flattening = false }()

	n := 0
	e.ledger.ForEach(func(p *contracts.Position) {
		if err := e.brackets.FlattenPosition(ctx, p.ID, reason); err != nil {
			e.logger.WithError(err).WithField("position_id", p.ID).Error("Flatten failed")
			return
		}
		n++
	})

	e.logger.WithFields(map[string]interface{}{
		"positions": n,
		"reason":    reason,
	}).Info("Flatten all")
	return n
}

// ReconcileFlat drops filled positions when the gateway reports no position
func (e *Engine) ReconcileFlat(ctx context.Context) int {
	r, ok := e.gw.(positionReporter)
	if !ok || r.Position() != 0 {
		return 0
	}

	n := 0
	e.ledger.ForEach(func(p *contracts.Position) {
		if !p.EntryFilled {
			return
		}
		e.brackets.Drop(ctx, p.ID, "external flat")
		n++
	})
	if n > 0 {
		e.logger.WithField("dropped", n).Warn("Gateway is flat, dropped orphaned positions")
	}
	return n
}

// =============================================================================
// Stops
// =============================================================================

// MoveStop moves a stop and broadcasts the resulting price
func (e *Engine) MoveStop(ctx context.Context, id string, price float64, label string) error {
	if err := e.brackets.MoveStop(ctx, id, price, label); err != nil {
		return err
	}
	p, ok := e.ledger.Get(id)
	if !ok {
		return nil
	}
	e.publish(contracts.StopUpdateSignal{SignalID: id, StopPrice: p.CurrentStopPrice, Level: label})
	return nil
}

// SetBreakeven arms or disarms manual breakeven on one position or all ("")
func (e *Engine) SetBreakeven(ctx context.Context, id string, armed bool) (int, error) {
	ids, err := e.selectIDs(id, false)
	if err != nil {
		return 0, err
	}
	for _, pid := range ids {
		_ = e.ledger.Update(pid, func(p *contracts.Position) {
			p.ManualBreakeven.Armed = armed
			if armed {
				p.ManualBreakeven.Triggered = false
			}
		})
	}

	e.logger.WithFields(map[string]interface{}{
		"position_id": id,
		"armed":       armed,
		"positions":   len(ids),
	}).Info("Manual breakeven toggled")

	if armed && len(ids) > 0 {
		e.publish(contracts.BreakevenSignal{SignalID: id})
	}
	return len(ids), nil
}

// Breakeven moves one position or all ("") to entry ± BreakevenTicks when that improves
func (e *Engine) Breakeven(ctx context.Context, id string) (int, error) {
	ids, err := e.selectIDs(id, true)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, pid := range ids {
		p, ok := e.ledger.Get(pid)
		if !ok {
			continue
		}
		moved, err := e.moveIfImproves(ctx, p, e.brackets.BreakevenPrice(p), contracts.LevelLabel(contracts.LevelBreakeven))
		if err != nil {
			return n, err
		}
		if moved {
			n++
		}
	}
	return n, nil
}

// DisableTrailing stops automatic trailing for a position
func (e *Engine) DisableTrailing(id string) error {
	return e.ledger.Update(id, func(p *contracts.Position) { p.TrailDisabled = true })
}

// moveIfImproves rounds price and moves the stop only when it locks in more
func (e *Engine) moveIfImproves(ctx context.Context, p *contracts.Position, price float64, label string) (bool, error) {
	price = e.gw.RoundToTick(price)
	if !p.Improves(price) {
		e.logger.WithFields(map[string]interface{}{
			"position_id": p.ID,
			"stop":        p.CurrentStopPrice,
			"requested":   price,
		}).Info("Stop move skipped, current stop already better")
		return false, nil
	}
	if err := e.MoveStop(ctx, p.ID, price, label); err != nil {
		return false, err
	}
	return true, nil
}

// =============================================================================
// Status
// =============================================================================

// Readiness reports why entries would be blocked
func (e *Engine) Readiness() Readiness {
	var reasons []string
	if e.brackets.LastPrice() <= 0 {
		reasons = append(reasons, "no market data")
	}
	if e.planner != nil {
		reasons = append(reasons, e.planner.Readiness()...)
	}
	return Readiness{Ready: len(reasons) == 0, Reasons: reasons}
}

// Status returns the engine summary
func (e *Engine) Status() Status {
	return Status{
		Role:                e.cfg.Role,
		Instrument:          e.cfg.Instrument,
		Readiness:           e.Readiness(),
		Positions:           e.ledger.Len(),
		PendingReplacements: e.brackets.Stops().PendingCount(),
		LastPrice:           e.brackets.LastPrice(),
		Stats:               e.stats,
	}
}

// =============================================================================
// Helpers
// =============================================================================

func (e *Engine) publish(sig contracts.Signal) {
	if e.cfg.Role != RolePrimary || e.bus == nil {
		return
	}
	e.bus.Publish(sig)
}

func (e *Engine) tradeSignal(p contracts.Position) contracts.TradeSignal {
	sig := contracts.TradeSignal{
		SignalID:     p.ID,
		Instrument:   p.Instrument,
		Direction:    p.Direction,
		Mode:         p.Mode,
		EntryType:    p.EntryType,
		EntryPrice:   p.EntryPrice,
		StopPrice:    p.CurrentStopPrice,
		Target1Price: p.Targets[0].Price,
		Target2Price: p.Targets[1].Price,
		Target3Price: p.Targets[2].Price,
		T1Contracts:  p.Targets[0].Qty,
		T2Contracts:  p.Targets[1].Qty,
		T3Contracts:  p.Targets[2].Qty,
		T4Contracts:  p.RunnerContracts,
		Ladder:       p.Ladder,
		Anchor:       p.Anchor,
	}
	if e.ranges != nil {
		sig.SessionRange = e.ranges.Range().Width()
	}
	if atr, ok := e.indicators.LatestValue(contracts.IndicatorATR, e.cfg.ATRPeriod); ok {
		sig.CurrentATR = atr
	}
	return sig
}

// planError maps missing inputs to ErrNotReady
func (e *Engine) planError(req strategy.Request, err error) error {
	if errors.Is(err, strategy.ErrRangeNotReady) || errors.Is(err, strategy.ErrIndicatorNotReady) || errors.Is(err, strategy.ErrNoMarket) {
		e.logger.WithFields(map[string]interface{}{
			"mode":      req.Mode,
			"direction": req.Direction,
			"reason":    err.Error(),
		}).Info("Entry blocked, inputs not ready")
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	return err
}

// selectIDs returns id, or every position when id is empty
func (e *Engine) selectIDs(id string, filledOnly bool) ([]string, error) {
	if id != "" {
		p, ok := e.ledger.Get(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, id)
		}
		if filledOnly && !p.EntryFilled {
			return nil, nil
		}
		return []string{id}, nil
	}

	var ids []string
	e.ledger.ForEach(func(p *contracts.Position) {
		if !filledOnly || p.EntryFilled {
			ids = append(ids, p.ID)
		}
	})
	return ids, nil
}

func (e *Engine) onEntryFilled(p contracts.Position) {
	e.stats.Filled++
}

func (e *Engine) onEntryCancelled(p contracts.Position, reason string) {
	e.stats.Cancelled++
	if e.flattening {
		return
	}
	e.publish(contracts.OrderCancelSignal{SignalID: p.ID, Reason: reason})
}

func (e *Engine) onClosed(p contracts.Position, reason string) {
	e.stats.Closed++
	e.logger.WithFields(map[string]interface{}{
		"position_id": p.ID,
		"reason":      reason,
		"level":       contracts.LevelLabel(p.CurrentTrailLevel),
	}).Debug("Position removed from ledger")
}

// noIndicators reports every series as warming up
type noIndicators struct{}

func (noIndicators) LatestValue(contracts.IndicatorKind, int) (float64, bool) { return 0, false }
