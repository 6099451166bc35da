package follower

import (
	"context"
	"errors"
	"strings"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/internal/engine"
	"github.com/wonny/orbit/internal/ledger"
	"github.com/wonny/orbit/internal/risk"
	"github.com/wonny/orbit/internal/signalbus"
	"github.com/wonny/orbit/pkg/logger"
)

// Config holds follower mirroring settings
type Config struct {
	Instrument             string // 빈 값 = 전체 수신
	UseMasterStopSync      bool   // true: mirror-exact, false: 자체 트레일링
	UseMasterTrailSettings bool
	Ladder                 contracts.TrailLadder // UseMasterTrailSettings=false 일 때
}

// Mirror re-sizes primary signals and drives a follower engine
// ⭐ 핸들러는 bus를 publish하는 goroutine에서 실행 → 그 goroutine이 engine 소유
type Mirror struct {
	engine *engine.Engine
	bus    *signalbus.Bus
	sizer  *risk.Sizer
	cfg    Config
	logger *logger.Logger

	ctx  context.Context
	subs []signalbus.Subscription
}

// New creates a mirror for e
func New(e *engine.Engine, bus *signalbus.Bus, sizer *risk.Sizer, cfg Config, log *logger.Logger) *Mirror {
	return &Mirror{
		engine: e,
		bus:    bus,
		sizer:  sizer,
		cfg:    cfg,
		logger: log.WithField("component", "follower"),
		ctx:    context.Background(),
	}
}

// Start subscribes to every signal type
func (m *Mirror) Start(ctx context.Context) {
	m.ctx = ctx
	m.subs = append(m.subs,
		m.bus.Subscribe(contracts.SignalTrade, m.run(m.onTrade)),
		m.bus.Subscribe(contracts.SignalEntryUpdate, m.run(m.onEntryUpdate)),
		m.bus.Subscribe(contracts.SignalOrderCancel, m.run(m.onOrderCancel)),
		m.bus.Subscribe(contracts.SignalStopUpdate, m.run(m.onStopUpdate)),
		m.bus.Subscribe(contracts.SignalFlatten, m.run(m.onFlatten)),
		m.bus.Subscribe(contracts.SignalBreakeven, m.run(m.onBreakeven)),
		m.bus.Subscribe(contracts.SignalTargetAction, m.run(m.onTargetAction)),
	)

	mode := "mirror-exact"
	if !m.cfg.UseMasterStopSync {
		mode = "independent"
	}
	m.logger.WithFields(map[string]interface{}{
		"instrument": m.cfg.Instrument,
		"stop_mode":  mode,
	}).Info("Follower mirror started")
}

// Stop unsubscribes from the bus
func (m *Mirror) Stop() {
	for _, sub := range m.subs {
		m.bus.Unsubscribe(sub)
	}
	m.subs = nil
	m.logger.Info("Follower mirror stopped")
}

// run applies a handler and drains the follower gateway
func (m *Mirror) run(fn func(ctx context.Context, sig contracts.Signal)) signalbus.Handler {
	return func(sig contracts.Signal) {
		fn(m.ctx, sig)
		m.engine.Pump(m.ctx)
	}
}

// =============================================================================
// Handlers
// =============================================================================

func (m *Mirror) onTrade(ctx context.Context, s contracts.Signal) {
	sig := s.(contracts.TradeSignal)
	log := m.logger.WithFields(map[string]interface{}{
		"position_id": sig.SignalID,
		"instrument":  sig.Instrument,
		"mode":        sig.Mode,
		"direction":   sig.Direction,
	})

	if m.cfg.Instrument != "" && !strings.EqualFold(sig.Instrument, m.cfg.Instrument) {
		log.Debug("Trade signal for another instrument ignored")
		return
	}
	if _, exists := m.engine.Ledger().Get(sig.SignalID); exists {
		log.Warn("Duplicate trade signal ignored")
		return
	}

	ladder := sig.Ladder
	if !m.cfg.UseMasterTrailSettings {
		ladder = m.cfg.Ladder
	}
	entryType := sig.EntryType
	if entryType == "" {
		entryType = EntryTypeFor(sig.Mode)
	}

	spec := contracts.PositionSpec{
		ID:           sig.SignalID,
		Instrument:   sig.Instrument,
		Direction:    sig.Direction,
		Mode:         sig.Mode,
		EntryType:    entryType,
		EntryPrice:   sig.EntryPrice,
		StopPrice:    sig.StopPrice,
		TargetPrices: sig.TargetPrices(),
		Slices:       m.sizer.Size(sig.StopDistance()),
		Ladder:       ladder,
		Anchor:       sig.Anchor,
	}

	p, err := m.engine.Submit(ctx, spec)
	if err != nil {
		log.WithError(err).Error("Follower entry failed")
		return
	}
	if m.cfg.UseMasterStopSync {
		// primary stop을 그대로 따름 → 자체 트레일링 중지
		_ = m.engine.DisableTrailing(p.ID)
	}

	log.WithFields(map[string]interface{}{
		"primary_contracts": sig.T1Contracts + sig.T2Contracts + sig.T3Contracts + sig.T4Contracts,
		"contracts":         p.TotalContracts,
		"entry_type":        entryType,
	}).Info("Trade mirrored")
}

func (m *Mirror) onEntryUpdate(ctx context.Context, s contracts.Signal) {
	sig := s.(contracts.EntryUpdateSignal)
	p, ok := m.pending(sig.SignalID)
	if !ok {
		return
	}
	if err := m.engine.RepriceEntry(ctx, p.ID, sig.EntryPrice); err != nil {
		m.logger.WithError(err).WithField("position_id", p.ID).Error("Mirrored reprice failed")
	}
}

func (m *Mirror) onOrderCancel(ctx context.Context, s contracts.Signal) {
	sig := s.(contracts.OrderCancelSignal)
	p, ok := m.pending(sig.SignalID)
	if !ok {
		return
	}
	if err := m.engine.CancelEntry(ctx, p.ID, "primary: "+sig.Reason); err != nil {
		m.logger.WithError(err).WithField("position_id", p.ID).Error("Mirrored cancel failed")
	}
}

func (m *Mirror) onStopUpdate(ctx context.Context, s contracts.Signal) {
	sig := s.(contracts.StopUpdateSignal)
	log := m.logger.WithFields(map[string]interface{}{
		"position_id": sig.SignalID,
		"stop":        sig.StopPrice,
		"level":       sig.Level,
	})
	if !m.cfg.UseMasterStopSync {
		log.Debug("Independent trailing, primary stop update ignored")
		return
	}
	if _, ok := m.engine.Ledger().Get(sig.SignalID); !ok {
		log.Debug("Stop update for unknown position ignored")
		return
	}
	if err := m.engine.MoveStop(ctx, sig.SignalID, sig.StopPrice, sig.Level); err != nil {
		log.WithError(err).Error("Mirrored stop update failed")
	}
}

func (m *Mirror) onFlatten(ctx context.Context, s contracts.Signal) {
	sig := s.(contracts.FlattenSignal)
	m.engine.FlattenAll(ctx, "primary: "+sig.Reason)
}

func (m *Mirror) onBreakeven(ctx context.Context, s contracts.Signal) {
	sig := s.(contracts.BreakevenSignal)
	n, err := m.engine.Breakeven(ctx, sig.SignalID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			m.logger.WithField("position_id", sig.SignalID).Debug("Breakeven for unknown position ignored")
			return
		}
		m.logger.WithError(err).WithField("position_id", sig.SignalID).Error("Mirrored breakeven failed")
		return
	}
	m.logger.WithFields(map[string]interface{}{
		"position_id": sig.SignalID,
		"moved":       n,
	}).Info("Breakeven mirrored")
}

func (m *Mirror) onTargetAction(ctx context.Context, s contracts.Signal) {
	sig := s.(contracts.TargetActionSignal)
	log := m.logger.WithFields(map[string]interface{}{
		"position_id": sig.SignalID,
		"slot":        sig.Slot,
		"action":      sig.Action,
	})

	action, ok := engine.ActionFor(sig.Action, sig.Slot)
	if !ok {
		log.Warn("Unsupported target action ignored")
		return
	}
	p, exists := m.engine.Ledger().Get(sig.SignalID)
	if !exists || !p.EntryFilled {
		log.Debug("Target action for unknown or unfilled position ignored")
		return
	}
	if err := m.engine.TargetAction(ctx, sig.SignalID, sig.Slot, action); err != nil {
		log.WithError(err).Warn("Mirrored target action failed")
	}
}

// pending returns the follower position when its entry is still working
func (m *Mirror) pending(id string) (*contracts.Position, bool) {
	p, ok := m.engine.Ledger().Get(id)
	if !ok {
		m.logger.WithField("position_id", id).Debug("Signal for unknown position ignored")
		return nil, false
	}
	if p.EntryFilled {
		m.logger.WithField("position_id", id).Info("Follower entry already filled, signal ignored")
		return nil, false
	}
	return p, true
}

// EntryTypeFor returns the entry order type a mode implies
func EntryTypeFor(mode contracts.Mode) contracts.OrderType {
	switch mode {
	case contracts.ModePullback, contracts.ModeReversion:
		return contracts.OrderTypeLimit
	case contracts.ModeBreakout, contracts.ModeMomentum:
		return contracts.OrderTypeStopMarket
	default:
		return contracts.OrderTypeMarket
	}
}
