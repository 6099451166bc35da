package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/internal/execution"
	"github.com/wonny/orbit/internal/risk"
	"github.com/wonny/orbit/internal/signalbus"
	"github.com/wonny/orbit/internal/strategy"
	"github.com/wonny/orbit/internal/trailing"
	"github.com/wonny/orbit/pkg/logger"
)

type fixedIndicators map[contracts.IndicatorKind]float64

func (f fixedIndicators) LatestValue(kind contracts.IndicatorKind, _ int) (float64, bool) {
	v, ok := f[kind]
	return v, ok
}

type fixedRange contracts.SessionRange

func (r fixedRange) Range() contracts.SessionRange { return contracts.SessionRange(r) }

// flatGateway reports a flat account regardless of fills
type flatGateway struct {
	*execution.PaperGateway
}

func (flatGateway) Position() int { return 0 }

type harness struct {
	t       *testing.T
	ctx     context.Context
	engine  *Engine
	paper   *execution.PaperGateway
	signals []contracts.Signal
}

func newHarness(t *testing.T, role Role) *harness {
	return newHarnessWith(t, role, nil)
}

// newHarnessWith builds an MES engine over a paper gateway (ATR 4, range incomplete)
func newHarnessWith(t *testing.T, role Role, wrap func(*execution.PaperGateway) execution.Gateway) *harness {
	t.Helper()
	paper := execution.NewPaperGateway(0.25)
	var gw execution.Gateway = paper
	if wrap != nil {
		gw = wrap(paper)
	}

	ind := fixedIndicators{contracts.IndicatorATR: 4}
	ranges := fixedRange{}

	var planner *strategy.Planner
	if role == RolePrimary {
		sizer := risk.NewSizer(risk.SizingConfig{
			Risk:          200,
			ReducedRisk:   200,
			StopThreshold: 5,
			PointValue:    5,
			MinContracts:  1,
			MaxContracts:  30,
		}, risk.DefaultSplit())
		planner = strategy.NewPlanner(strategy.DefaultConfig(), contracts.DefaultTrailLadder(), sizer, ind, ranges, 0.25, paper.RoundToTick, logger.Nop())
	}

	h := &harness{t: t, ctx: context.Background(), paper: paper}
	bus := signalbus.New(logger.Nop())
	bus.SubscribeAll(func(sig contracts.Signal) { h.signals = append(h.signals, sig) })

	h.engine = New(Config{
		Role:       role,
		Instrument: "MES",
		Bracket:    execution.DefaultBracketConfig(),
		Trailing:   trailing.DefaultConfig(0.25),
	}, Deps{
		Gateway:    gw,
		Indicators: ind,
		Ranges:     ranges,
		Planner:    planner,
		Bus:        bus,
	}, logger.Nop())
	return h
}

// price feeds one tick and drains what the follow-up orders produced
func (h *harness) price(p float64) {
	h.engine.OnPriceUpdate(h.ctx, p)
	h.engine.Pump(h.ctx)
}

func (h *harness) types() []contracts.SignalType {
	out := make([]contracts.SignalType, 0, len(h.signals))
	for _, s := range h.signals {
		out = append(out, s.Type())
	}
	return out
}

func (h *harness) only() contracts.Position {
	h.t.Helper()
	snap := h.engine.Snapshot()
	require.Len(h.t, snap, 1)
	return snap[0]
}

// openLong opens a directional long at 100: stop 98, targets 101/102/104, slices 4/6/6/4
func (h *harness) openLong() contracts.Position {
	h.t.Helper()
	h.price(100)
	require.NoError(h.t, h.engine.ExecuteDirectional(h.ctx, "MES", contracts.Long))
	h.engine.Pump(h.ctx)
	return h.only()
}

func TestEngine_DirectionalLifecycle(t *testing.T) {
	h := newHarness(t, RolePrimary)

	p := h.openLong()
	assert.True(t, p.EntryFilled)
	assert.True(t, p.BracketSubmitted)
	assert.Equal(t, 100.0, p.EntryPrice)
	assert.Equal(t, 98.0, p.CurrentStopPrice)
	assert.Equal(t, 20, p.RemainingContracts)
	assert.Equal(t, 20, h.paper.Position())
	assert.Equal(t, 4, h.paper.Working(), "stop and three targets")

	require.Len(t, h.signals, 1)
	trade, ok := h.signals[0].(contracts.TradeSignal)
	require.True(t, ok)
	assert.Equal(t, p.ID, trade.SignalID)
	assert.Equal(t, contracts.OrderTypeMarket, trade.EntryType)
	assert.Equal(t, 98.0, trade.StopPrice)
	assert.Equal(t, [3]float64{101, 102, 104}, trade.TargetPrices())
	assert.Equal(t, []int{4, 6, 6, 4}, []int{trade.T1Contracts, trade.T2Contracts, trade.T3Contracts, trade.T4Contracts})
	assert.Equal(t, 4.0, trade.CurrentATR)
	assert.False(t, trade.Timestamp().IsZero())

	// T1, T2 체결 + BE 트리거
	h.price(102.5)
	p = h.only()
	assert.Equal(t, 10, p.RemainingContracts)
	assert.Equal(t, contracts.LevelBreakeven, p.CurrentTrailLevel)
	assert.Equal(t, 100.25, p.CurrentStopPrice)
	assert.Equal(t, 1, h.engine.Brackets().Index().LiveStops(p.ID))
	assert.Equal(t, 0, h.engine.Brackets().Stops().PendingCount())
	assert.Equal(t, 2, h.paper.Working(), "stop and T3")
	assert.Equal(t, 10, h.paper.Position())

	require.Len(t, h.signals, 2)
	stop, ok := h.signals[1].(contracts.StopUpdateSignal)
	require.True(t, ok)
	assert.Equal(t, 100.25, stop.StopPrice)
	assert.Equal(t, "BE", stop.Level)

	// 되돌림: stop, level 유지
	h.price(101)
	p = h.only()
	assert.Equal(t, 100.25, p.CurrentStopPrice)
	assert.Equal(t, contracts.LevelBreakeven, p.CurrentTrailLevel)
	assert.Len(t, h.signals, 2)

	// stop 체결 → 청산
	h.price(100)
	assert.Equal(t, 0, h.engine.Ledger().Len())
	assert.Equal(t, 0, h.paper.Position())
	assert.Equal(t, 0, h.paper.Working())
	assert.Equal(t, Stats{Submitted: 1, Filled: 1, Closed: 1}, h.engine.Stats())
}

func TestEngine_ExecuteDirectionalErrors(t *testing.T) {
	h := newHarness(t, RolePrimary)

	err := h.engine.ExecuteDirectional(h.ctx, "MGC", contracts.Long)
	assert.ErrorIs(t, err, ErrInstrumentMismatch)

	// 가격 수신 전
	err = h.engine.ExecuteDirectional(h.ctx, "mes", contracts.Short)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, err, strategy.ErrNoMarket)

	assert.Equal(t, 0, h.engine.Ledger().Len())
	assert.Empty(t, h.signals)
}

func TestEngine_EnterEntryBreakoutNeedsRange(t *testing.T) {
	h := newHarness(t, RolePrimary)
	h.price(100)

	_, err := h.engine.EnterEntry(h.ctx, strategy.Request{Mode: contracts.ModeBreakout, Direction: contracts.Long})
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, err, strategy.ErrRangeNotReady)
}

func TestEngine_PendingEntryRepriceAndCancel(t *testing.T) {
	h := newHarness(t, RolePrimary)
	h.price(100)

	p, err := h.engine.EnterEntry(h.ctx, strategy.Request{Mode: contracts.ModePullback, Direction: contracts.Long, Price: 99})
	require.NoError(t, err)
	h.engine.Pump(h.ctx)
	assert.Equal(t, contracts.OrderTypeLimit, p.EntryType)
	assert.Equal(t, 94.5, p.CurrentStopPrice)
	assert.False(t, h.only().EntryFilled)

	require.NoError(t, h.engine.RepriceEntry(h.ctx, p.ID, 98.5))
	h.engine.Pump(h.ctx)
	assert.Equal(t, 98.5, h.only().EntryPrice)
	assert.Equal(t, 1, h.paper.Working())

	require.NoError(t, h.engine.CancelEntry(h.ctx, p.ID, "manual"))
	h.engine.Pump(h.ctx)
	assert.Equal(t, 0, h.engine.Ledger().Len())
	assert.Equal(t, 0, h.paper.Working())

	assert.Equal(t, []contracts.SignalType{
		contracts.SignalTrade, contracts.SignalEntryUpdate, contracts.SignalOrderCancel,
	}, h.types())
	update := h.signals[1].(contracts.EntryUpdateSignal)
	assert.Equal(t, 98.5, update.EntryPrice)
	cancel := h.signals[2].(contracts.OrderCancelSignal)
	assert.Equal(t, p.ID, cancel.SignalID)
	assert.Equal(t, "manual", cancel.Reason)
}

func TestEngine_FlattenAll(t *testing.T) {
	h := newHarness(t, RolePrimary)
	h.openLong()
	_, err := h.engine.EnterEntry(h.ctx, strategy.Request{Mode: contracts.ModePullback, Direction: contracts.Long, Price: 99})
	require.NoError(t, err)
	h.signals = nil

	n := h.engine.FlattenAll(h.ctx, "session end")
	h.engine.Pump(h.ctx)

	assert.Equal(t, 2, n)
	assert.Equal(t, 0, h.engine.Ledger().Len())
	assert.Equal(t, 0, h.paper.Position())
	assert.Equal(t, 0, h.paper.Working())

	// 개별 ORDER_CANCEL 없이 FLATTEN 하나만
	require.Equal(t, []contracts.SignalType{contracts.SignalFlatten}, h.types())
	assert.Equal(t, "session end", h.signals[0].(contracts.FlattenSignal).Reason)
	assert.Equal(t, 1, h.engine.Stats().Cancelled)
	assert.Equal(t, 1, h.engine.Stats().Closed)
}

func TestEngine_ManualBreakeven(t *testing.T) {
	h := newHarness(t, RolePrimary)
	p := h.openLong()

	n, err := h.engine.SetBreakeven(h.ctx, "", true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, h.only().ManualBreakeven.Armed)

	h.price(101)
	p = h.only()
	assert.True(t, p.ManualBreakeven.Triggered)
	assert.True(t, p.AutoBreakevenDisabled)
	assert.Equal(t, contracts.LevelBreakeven, p.CurrentTrailLevel)
	assert.Equal(t, 100.25, p.CurrentStopPrice)
	assert.Equal(t, 16, p.RemainingContracts)
	assert.Equal(t, 1, h.engine.Brackets().Index().LiveStops(p.ID))

	require.Equal(t, []contracts.SignalType{
		contracts.SignalTrade, contracts.SignalBreakeven, contracts.SignalStopUpdate,
	}, h.types())
	assert.Equal(t, contracts.LabelManualBE, h.signals[2].(contracts.StopUpdateSignal).Level)

	_, err = h.engine.SetBreakeven(h.ctx, "missing", true)
	assert.Error(t, err)
}

func TestEngine_SetBreakevenDisarmDoesNotPublish(t *testing.T) {
	h := newHarness(t, RolePrimary)
	h.openLong()
	h.signals = nil

	n, err := h.engine.SetBreakeven(h.ctx, "", false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, h.signals)
}

func TestEngine_TargetActions(t *testing.T) {
	h := newHarness(t, RolePrimary)
	p := h.openLong()
	h.signals = nil

	require.NoError(t, h.engine.TargetAction(h.ctx, p.ID, contracts.SlotT3, Action1Point))
	h.engine.Pump(h.ctx)
	assert.Equal(t, 101.0, h.only().Targets[2].Price)
	assert.Equal(t, 4, h.paper.Working())

	require.NoError(t, h.engine.TargetAction(h.ctx, p.ID, contracts.SlotT1, ActionMarket))
	h.engine.Pump(h.ctx)
	p = h.only()
	assert.True(t, p.Targets[0].Filled)
	assert.Equal(t, 16, p.RemainingContracts)
	assert.Equal(t, 1, h.engine.Brackets().Index().LiveStops(p.ID))

	require.NoError(t, h.engine.TargetAction(h.ctx, p.ID, contracts.SlotRunner, ActionDisableTrail))
	assert.True(t, h.only().TrailDisabled)

	err := h.engine.TargetAction(h.ctx, p.ID, contracts.SlotRunner, ActionLock50)
	assert.Error(t, err, "no open profit at entry price")

	err = h.engine.TargetAction(h.ctx, p.ID, contracts.SlotT2, Action("explode"))
	assert.ErrorIs(t, err, ErrUnsupportedAction)
	err = h.engine.TargetAction(h.ctx, p.ID, contracts.SlotRunner, ActionCancel)
	assert.ErrorIs(t, err, ErrUnsupportedAction)

	// 1point/disabletrail은 전파하지 않음
	require.Equal(t, []contracts.SignalType{contracts.SignalTargetAction}, h.types())
	action := h.signals[0].(contracts.TargetActionSignal)
	assert.Equal(t, contracts.SlotT1, action.Slot)
	assert.Equal(t, contracts.ActionFillAtMarket, action.Action)
}

func TestEngine_TrailDisabledHoldsStop(t *testing.T) {
	h := newHarness(t, RolePrimary)
	p := h.openLong()
	require.NoError(t, h.engine.DisableTrailing(p.ID))

	h.price(103.5)
	p = h.only()
	assert.Equal(t, 98.0, p.CurrentStopPrice)
	assert.Equal(t, contracts.LevelNone, p.CurrentTrailLevel)
	assert.Equal(t, 103.5, p.ExtremePriceSinceEntry)
}

func TestEngine_FollowerDoesNotPublish(t *testing.T) {
	h := newHarness(t, RoleFollower)
	h.price(100)

	assert.ErrorIs(t, h.engine.ExecuteDirectional(h.ctx, "MES", contracts.Long), ErrPrimaryOnly)

	spec := contracts.PositionSpec{
		ID:           "sig-1",
		Instrument:   "MES",
		Direction:    contracts.Long,
		Mode:         contracts.ModeBreakout,
		EntryType:    contracts.OrderTypeStopMarket,
		EntryPrice:   101,
		StopPrice:    99,
		TargetPrices: [3]float64{102, 103, 105},
		Slices:       contracts.Slices{T1: 1, T2: 1, T3: 1, Runner: 1},
		Ladder:       contracts.DefaultTrailLadder(),
	}
	p, err := h.engine.Submit(h.ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, "sig-1", p.ID)

	h.price(101.25)
	assert.True(t, h.only().EntryFilled)

	h.engine.FlattenAll(h.ctx, "test")
	assert.Empty(t, h.signals)
}

func TestEngine_ReconcileFlat(t *testing.T) {
	h := newHarnessWith(t, RolePrimary, func(p *execution.PaperGateway) execution.Gateway {
		return flatGateway{p}
	})
	h.openLong()
	_, err := h.engine.EnterEntry(h.ctx, strategy.Request{Mode: contracts.ModePullback, Direction: contracts.Long, Price: 99})
	require.NoError(t, err)

	assert.Equal(t, 1, h.engine.ReconcileFlat(h.ctx))
	snap := h.engine.Snapshot()
	require.Len(t, snap, 1, "pending entry survives")
	assert.False(t, snap[0].EntryFilled)
}

func TestEngine_Readiness(t *testing.T) {
	h := newHarness(t, RolePrimary)

	r := h.engine.Readiness()
	assert.False(t, r.Ready)
	assert.Contains(t, r.Reasons, "no market data")
	assert.Contains(t, r.Reasons, strategy.ErrRangeNotReady.Error())

	h.price(100)
	r = h.engine.Readiness()
	assert.Equal(t, []string{strategy.ErrRangeNotReady.Error()}, r.Reasons)

	s := h.engine.Status()
	assert.Equal(t, RolePrimary, s.Role)
	assert.Equal(t, "MES", s.Instrument)
	assert.Equal(t, 100.0, s.LastPrice)
}

func TestEngine_OnTickFiltersInstrument(t *testing.T) {
	h := newHarness(t, RolePrimary)

	h.engine.OnTick(h.ctx, contracts.Tick{Instrument: "MGC", Price: 2000})
	assert.Equal(t, 0.0, h.engine.Brackets().LastPrice())

	h.engine.OnTick(h.ctx, contracts.Tick{Instrument: "MES", Price: 100})
	assert.Equal(t, 100.0, h.engine.Brackets().LastPrice())
}

func TestActionFor(t *testing.T) {
	tests := []struct {
		kind contracts.TargetActionKind
		slot contracts.TargetSlot
		want Action
		ok   bool
	}{
		{contracts.ActionFillAtMarket, contracts.SlotT2, ActionMarket, true},
		{contracts.ActionFillAtMarket, contracts.SlotRunner, ActionMarket, true},
		{contracts.ActionMoveToBreakeven, contracts.SlotT1, ActionBreakeven, true},
		{contracts.ActionMoveStopToEntry, contracts.SlotRunner, ActionStopBE, true},
		{contracts.ActionCancelTarget, contracts.SlotT3, ActionCancel, true},
		{contracts.ActionCancelTarget, contracts.SlotRunner, ActionCancel, false},
		{contracts.TargetActionKind("NOPE"), contracts.SlotT1, "", false},
	}
	for _, tt := range tests {
		got, ok := ActionFor(tt.kind, tt.slot)
		assert.Equal(t, tt.ok, ok, "%s/%s", tt.kind, tt.slot)
		if tt.ok {
			assert.Equal(t, tt.want, got)
		}
	}
}
