package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/internal/ledger"
	"github.com/wonny/orbit/pkg/logger"
	"github.com/wonny/orbit/pkg/metrics"
)

// BracketConfig holds bracket validation settings
type BracketConfig struct {
	MinStopDistanceTicks int // stop과 시장가 최소 거리
	SlippageWarnTicks    int // 이 이상 체결 슬리피지 시 경고
	BreakevenTicks       int // target/runner breakeven 액션 offset
}

// DefaultBracketConfig returns the default bracket settings
func DefaultBracketConfig() BracketConfig {
	return BracketConfig{
		MinStopDistanceTicks: 2,
		SlippageWarnTicks:    1,
		BreakevenTicks:       1,
	}
}

// Hooks let the engine react to lifecycle transitions
// 모든 hook은 actor goroutine에서 호출됨
type Hooks struct {
	OnEntryFilled    func(p contracts.Position)
	OnEntryCancelled func(p contracts.Position, reason string)
	OnClosed         func(p contracts.Position, reason string)
}

// BracketManager submits and reconciles the bracket of every position
// ⭐ SSOT: 게이트웨이 이벤트 → Ledger 변경은 여기서만
type BracketManager struct {
	ledger  *ledger.Ledger
	gw      Gateway
	index   *OrderIndex
	stops   *StopReplacementCoordinator
	journal Journal
	cfg     BracketConfig
	hooks   Hooks
	logger  *logger.Logger

	lastPrice   float64
	fills       map[contracts.OrderHandle]int                       // handle별 누적 체결 수량
	onCancelled map[contracts.OrderHandle]func(ctx context.Context) // cancel 확인 후 이어서 실행
	stopRetried map[string]bool
	earlyStops  map[string]float64 // 체결 전 전달받은 stop (follower sync)
	now         func() time.Time
}

// NewBracketManager creates a bracket manager over l
func NewBracketManager(l *ledger.Ledger, gw Gateway, journal Journal, cfg BracketConfig, log *logger.Logger) *BracketManager {
	if journal == nil {
		journal = NopJournal{}
	}
	index := NewOrderIndex()
	m := &BracketManager{
		ledger:      l,
		gw:          gw,
		index:       index,
		stops:       NewStopReplacementCoordinator(gw, index, journal, log),
		journal:     journal,
		cfg:         cfg,
		logger:      log,
		fills:       make(map[contracts.OrderHandle]int),
		onCancelled: make(map[contracts.OrderHandle]func(ctx context.Context)),
		stopRetried: make(map[string]bool),
		earlyStops:  make(map[string]float64),
		now:         time.Now,
	}
	m.stops.SetClamp(m.ClampStop)
	return m
}

// SetHooks installs lifecycle hooks
func (m *BracketManager) SetHooks(h Hooks) {
	m.hooks = h
}

// Index exposes the order index (tests, status)
func (m *BracketManager) Index() *OrderIndex {
	return m.index
}

// Stops exposes the stop coordinator
func (m *BracketManager) Stops() *StopReplacementCoordinator {
	return m.stops
}

// SetMarket records the last traded price
func (m *BracketManager) SetMarket(price float64) {
	m.lastPrice = price
}

// LastPrice returns the last traded price, 0 before the first tick
func (m *BracketManager) LastPrice() float64 {
	return m.lastPrice
}

// TickSize returns the gateway tick size
func (m *BracketManager) TickSize() float64 {
	return m.gw.TickSize()
}

// ClampStop keeps a stop at least MinStopDistanceTicks away from the market
func (m *BracketManager) ClampStop(d contracts.Direction, price float64) float64 {
	if m.lastPrice <= 0 {
		return price
	}
	gap := float64(m.cfg.MinStopDistanceTicks) * m.gw.TickSize()
	if d == contracts.Long {
		if limit := m.lastPrice - gap; price > limit {
			return limit
		}
		return price
	}
	if limit := m.lastPrice + gap; price < limit {
		return limit
	}
	return price
}

func (m *BracketManager) posLog(p *contracts.Position) *logger.Logger {
	return m.logger.WithFields(map[string]interface{}{
		"position_id": p.ID,
		"mode":        p.Mode,
		"direction":   p.Direction,
	})
}

// =============================================================================
// Entry
// =============================================================================

// SubmitEntry creates the position and sends its entry order
func (m *BracketManager) SubmitEntry(ctx context.Context, spec contracts.PositionSpec) (*contracts.Position, error) {
	p, err := m.ledger.Create(spec)
	if err != nil {
		return nil, err
	}

	if err := m.submitEntryOrder(ctx, p); err != nil {
		m.ledger.Remove(p.ID)
		return nil, fmt.Errorf("entry for %s: %w", p.ID, err)
	}

	metrics.OpenPositions.Set(float64(m.ledger.Len()))
	m.journal.RecordPositionEvent(ctx, NewPositionEvent(p, EventCreated, p.EntryPrice, p.TotalContracts, string(p.EntryType)))
	m.posLog(p).WithFields(map[string]interface{}{
		"entry_type": p.EntryType,
		"entry":      p.EntryPrice,
		"stop":       p.CurrentStopPrice,
		"contracts":  p.TotalContracts,
		"t1":         p.Targets[0].Price,
		"t2":         p.Targets[1].Price,
		"t3":         p.Targets[2].Price,
	}).Info("Entry submitted")

	return p, nil
}

func (m *BracketManager) submitEntryOrder(ctx context.Context, p *contracts.Position) error {
	req := contracts.OrderRequest{
		PositionID: p.ID,
		Instrument: p.Instrument,
		Role:       contracts.RoleEntry,
		Side:       contracts.EntrySide(p.Direction),
		Type:       p.EntryType,
		Qty:        p.TotalContracts,
		CreatedAt:  m.now(),
	}
	switch p.EntryType {
	case contracts.OrderTypeLimit:
		req.LimitPrice = m.gw.RoundToTick(p.EntryPrice)
	case contracts.OrderTypeStopMarket:
		req.StopPrice = m.gw.RoundToTick(p.EntryPrice)
	}

	_, err := m.place(ctx, req)
	return err
}

// OnEntryFilled re-anchors the bracket on the fill price and submits it
func (m *BracketManager) OnEntryFilled(ctx context.Context, id string, fill float64) error {
	pos, ok := m.ledger.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrNotFound, id)
	}
	if pos.EntryFilled {
		m.posLog(pos).Debug("Duplicate entry fill ignored")
		return nil
	}

	intended := pos.IntendedEntryPrice
	adjusted := false
	err := m.update(ctx, id, func(p *contracts.Position) {
		p.EntryFilled = true
		p.State = contracts.PositionOpen
		p.FilledAt = m.now()
		if p.Mode.IndicatorRelative() {
			adjusted = p.ReanchorOnFill(fill)
		} else {
			p.EntryPrice = fill
		}
		// 체결 전에 받은 stop이 더 유리하면 유지
		if early, ok := m.earlyStops[id]; ok && p.Improves(early) {
			p.CurrentStopPrice = early
		}
		p.ExtremePriceSinceEntry = fill
		p.TicksSinceEntry = 0
	})
	delete(m.earlyStops, id)
	if err != nil {
		return err
	}

	log := m.posLog(pos)
	if slip := math.Abs(fill - intended); slip > float64(m.cfg.SlippageWarnTicks)*m.gw.TickSize()+1e-9 {
		log.WithFields(map[string]interface{}{
			"intended": intended,
			"fill":     fill,
			"slippage": slip,
		}).Warn("Entry slippage exceeds threshold")
	}
	if adjusted {
		log.WithFields(map[string]interface{}{
			"fill": fill,
			"stop": pos.CurrentStopPrice,
			"t1":   pos.Targets[0].Price,
			"t2":   pos.Targets[1].Price,
			"t3":   pos.Targets[2].Price,
		}).Info("Bracket re-anchored on fill price")
	}
	log.WithField("fill", fill).Info("Entry filled")

	m.journal.RecordPositionEvent(ctx, NewPositionEvent(pos, EventEntryFilled, fill, pos.TotalContracts, ""))
	if m.hooks.OnEntryFilled != nil {
		m.hooks.OnEntryFilled(pos.Clone())
	}

	return m.SubmitBracket(ctx, id)
}

// SubmitBracket sends the stop and non-empty targets, at most once per position
func (m *BracketManager) SubmitBracket(ctx context.Context, id string) error {
	pos, ok := m.ledger.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrNotFound, id)
	}
	log := m.posLog(pos)
	if !pos.EntryFilled {
		return fmt.Errorf("%w: position %s", ErrEntryNotFilled, id)
	}
	if pos.BracketSubmitted {
		log.Debug("Bracket already submitted")
		return nil
	}
	if err := m.update(ctx, id, func(p *contracts.Position) { p.BracketSubmitted = true }); err != nil {
		return err
	}

	// 1. stop 검증 (즉시 체결될 stop 방지)
	stop := m.ClampStop(pos.Direction, pos.CurrentStopPrice)
	if stop != pos.CurrentStopPrice {
		log.WithFields(map[string]interface{}{
			"requested": pos.CurrentStopPrice,
			"clamped":   stop,
			"market":    m.lastPrice,
		}).Warn("Stop too close to market, clamped")
	}

	// 2. stop: 전체 잔량
	_, sub, err := m.stops.RequestReplacement(ctx, pos, pos.RemainingContracts, stop, contracts.LabelSet)
	if err != nil {
		m.EmergencyFlatten(ctx, id, "bracket stop submission failed")
		return err
	}
	if sub != nil {
		if err := m.update(ctx, id, func(p *contracts.Position) { p.CurrentStopPrice = sub.Price }); err != nil {
			return err
		}
	}

	// 3. targets: 수량 0 슬라이스는 건너뜀
	for i, t := range pos.Targets {
		if t.Qty <= 0 {
			continue
		}
		if err := m.submitTarget(ctx, pos, i, t.Price, t.Qty-t.FilledQty); err != nil {
			idx := i
			if uerr := m.update(ctx, id, func(p *contracts.Position) { p.DropTarget(idx) }); uerr != nil {
				return uerr
			}
			log.WithError(err).WithField("target", i+1).Error("Target submission failed, contracts stay with runner")
		}
	}

	m.journal.RecordPositionEvent(ctx, NewPositionEvent(pos, EventBracketSubmitted, pos.CurrentStopPrice, pos.RemainingContracts, ""))
	log.WithFields(map[string]interface{}{
		"stop":      pos.CurrentStopPrice,
		"remaining": pos.RemainingContracts,
		"t1_qty":    pos.Targets[0].Qty,
		"t2_qty":    pos.Targets[1].Qty,
		"t3_qty":    pos.Targets[2].Qty,
		"runner":    pos.RunnerContracts,
	}).Info("Bracket submitted")

	return nil
}

func (m *BracketManager) submitTarget(ctx context.Context, p *contracts.Position, idx int, price float64, qty int) error {
	req := contracts.OrderRequest{
		PositionID: p.ID,
		Instrument: p.Instrument,
		Role:       contracts.TargetRole(idx),
		Side:       contracts.ExitSide(p.Direction),
		Type:       contracts.OrderTypeLimit,
		Qty:        qty,
		LimitPrice: m.gw.RoundToTick(price),
		CreatedAt:  m.now(),
	}
	_, err := m.place(ctx, req)
	return err
}

// =============================================================================
// Gateway events
// =============================================================================

// HandleEvent routes a gateway state change to its bracket leg
// ⭐ handle → position 식별은 OrderIndex로만
func (m *BracketManager) HandleEvent(ctx context.Context, ev contracts.OrderEvent) {
	ref, ok := m.index.Lookup(ev.Handle)
	if !ok {
		m.logger.WithFields(map[string]interface{}{
			"handle": ev.Handle,
			"state":  ev.State,
		}).Debug("Event for unknown handle ignored")
		return
	}
	m.journal.RecordOrderEvent(ctx, ev)

	delta := 0
	if prev := m.fills[ev.Handle]; ev.FilledQty > prev {
		delta = ev.FilledQty - prev
		m.fills[ev.Handle] = ev.FilledQty
	}

	// 체결된 주문은 더 이상 취소 대상 아님 (handle은 계속 조회 가능)
	if ev.State == contracts.StateFilled {
		m.index.Unlive(ref.PositionID, ref.Role, ev.Handle)
	}

	pos, exists := m.ledger.Get(ref.PositionID)
	if !exists {
		m.onOrphanEvent(ctx, ref, ev, delta)
	} else {
		switch ref.Role {
		case contracts.RoleEntry:
			m.onEntryEvent(ctx, pos, ev)
		case contracts.RoleStop:
			m.onStopEvent(ctx, pos, ev)
		case contracts.RoleTarget1, contracts.RoleTarget2, contracts.RoleTarget3:
			m.onTargetEvent(ctx, pos, ref, ev, delta)
		case contracts.RoleRunner:
			m.onRunnerEvent(ctx, pos, ev, delta)
		}
	}

	if !ev.State.IsTerminal() {
		return
	}
	next := m.onCancelled[ev.Handle]
	delete(m.onCancelled, ev.Handle)
	delete(m.fills, ev.Handle)
	m.index.Release(ev.Handle)

	// cancel 대신 체결되었으면 후속 작업 폐기 (체결 우선)
	if next != nil && ev.State == contracts.StateCancelled {
		next(ctx)
	}
}

func (m *BracketManager) onEntryEvent(ctx context.Context, pos *contracts.Position, ev contracts.OrderEvent) {
	switch ev.State {
	case contracts.StateFilled:
		if err := m.OnEntryFilled(ctx, pos.ID, ev.AvgFillPrice); err != nil {
			m.posLog(pos).WithError(err).Error("Entry fill handling failed")
		}

	case contracts.StateCancelled, contracts.StateRejected:
		if pos.EntryFilled {
			return
		}
		reason := "entry " + string(ev.State)
		if ev.FilledQty > 0 {
			// 부분 체결 후 취소: 남은 수량을 관리할 bracket이 없음 → 즉시 청산
			delete(m.onCancelled, ev.Handle)
			m.posLog(pos).WithField("filled_qty", ev.FilledQty).Warn("Entry cancelled after partial fill, flattening partial")
			m.submitFlatten(ctx, pos.ID, pos.Instrument, contracts.ExitSide(pos.Direction), ev.FilledQty)
			reason = "entry partial cancel"
		} else if _, expected := m.onCancelled[ev.Handle]; expected {
			return
		}
		m.posLog(pos).WithField("state", ev.State).Warn("Entry order ended without fill")
		m.removeEntry(ctx, pos, reason)
	}
}

func (m *BracketManager) onStopEvent(ctx context.Context, pos *contracts.Position, ev contracts.OrderEvent) {
	switch ev.State {
	case contracts.StateWorking:
		// 재제출한 stop이 접수되면 재시도 한도 복구
		if m.stopRetried[pos.ID] {
			if h, live := m.index.Live(pos.ID, contracts.RoleStop); live && h == ev.Handle {
				delete(m.stopRetried, pos.ID)
			}
		}

	case contracts.StateFilled:
		m.OnStopFilled(ctx, pos.ID, ev.AvgFillPrice, ev.FilledQty)

	case contracts.StateCancelled:
		if m.stops.IsCancelling(pos.ID, ev.Handle) {
			m.confirmStopCancel(ctx, pos)
			return
		}
		if h, live := m.index.Live(pos.ID, contracts.RoleStop); !live || h != ev.Handle {
			// 이미 교체된 stop의 늦은 확인
			return
		}
		m.posLog(pos).WithField("handle", ev.Handle).Error("Protective stop cancelled outside the engine")
		m.OnStopRejected(ctx, pos.ID)

	case contracts.StateRejected:
		if m.stops.IsCancelling(pos.ID, ev.Handle) {
			m.confirmStopCancel(ctx, pos)
			return
		}
		m.posLog(pos).WithField("handle", ev.Handle).Error("Protective stop rejected")
		m.OnStopRejected(ctx, pos.ID)
	}
}

func (m *BracketManager) confirmStopCancel(ctx context.Context, pos *contracts.Position) {
	sub, _, err := m.stops.OnStopCancelConfirmed(ctx, pos.ID)
	if err != nil {
		m.EmergencyFlatten(ctx, pos.ID, "stop resubmission failed")
		return
	}
	if sub != nil {
		// 마지막 단계: 위반 시 update가 이미 강제 청산
		_ = m.update(ctx, pos.ID, func(p *contracts.Position) { p.CurrentStopPrice = sub.Price })
	}
}

func (m *BracketManager) onTargetEvent(ctx context.Context, pos *contracts.Position, ref OrderRef, ev contracts.OrderEvent, delta int) {
	idx := ref.Role.TargetIndex()
	if delta > 0 {
		if err := m.OnTargetFilled(ctx, pos.ID, idx, delta, ev.AvgFillPrice); err != nil {
			m.posLog(pos).WithError(err).Error("Target fill handling failed")
			return
		}
	}

	if !ev.State.IsTerminal() || ev.State == contracts.StateFilled {
		return
	}
	if _, still := m.ledger.Get(pos.ID); !still {
		return
	}
	if _, expected := m.onCancelled[ev.Handle]; expected {
		return
	}

	// 후속 작업 없는 취소/거부 → 남은 수량은 runner로
	var moved int
	if err := m.update(ctx, pos.ID, func(p *contracts.Position) { moved = p.DropTarget(idx) }); err != nil {
		return
	}
	log := m.posLog(pos).WithFields(map[string]interface{}{"target": idx + 1, "moved": moved})
	if ev.State == contracts.StateRejected {
		log.Error("Target rejected, contracts stay with runner")
	} else {
		log.Info("Target cancelled, contracts join runner")
	}
}

func (m *BracketManager) onRunnerEvent(ctx context.Context, pos *contracts.Position, ev contracts.OrderEvent, delta int) {
	if delta > 0 {
		remaining := 0
		err := m.update(ctx, pos.ID, func(p *contracts.Position) {
			p.RunnerFilledQty += delta
			p.RemainingContracts -= delta
			remaining = p.RemainingContracts
		})
		if err != nil {
			return
		}
		m.posLog(pos).WithFields(map[string]interface{}{
			"qty":       delta,
			"fill":      ev.AvgFillPrice,
			"remaining": remaining,
		}).Info("Runner closed at market")
		m.afterExitFill(ctx, pos.ID, remaining)
		return
	}
	if ev.State == contracts.StateRejected {
		m.posLog(pos).Error("Runner market order rejected")
	}
}

// onOrphanEvent handles fills for positions already gone from the ledger
// 청산 후 늦게 체결된 주문 → 반대 방향 시장가로 상쇄
func (m *BracketManager) onOrphanEvent(ctx context.Context, ref OrderRef, ev contracts.OrderEvent, delta int) {
	if delta <= 0 || ref.Role == contracts.RoleFlatten {
		return
	}
	m.logger.WithFields(map[string]interface{}{
		"position_id": ref.PositionID,
		"role":        ref.Role,
		"handle":      ev.Handle,
		"qty":         delta,
	}).Warn("Fill for closed position, offsetting at market")
	m.submitFlatten(ctx, ref.PositionID, ref.Request.Instrument, ref.Request.Side.Opposite(), delta)
}

// OnTargetFilled books qty contracts filled on target idx and resizes the stop
func (m *BracketManager) OnTargetFilled(ctx context.Context, id string, idx, qty int, fill float64) error {
	pos, ok := m.ledger.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrNotFound, id)
	}
	if idx < 0 || idx >= len(pos.Targets) {
		return fmt.Errorf("position %s: invalid target index %d", id, idx)
	}

	remaining := 0
	err := m.update(ctx, id, func(p *contracts.Position) {
		t := &p.Targets[idx]
		t.FilledQty += qty
		if t.FilledQty >= t.Qty {
			t.Filled = true
		}
		p.RemainingContracts -= qty
		remaining = p.RemainingContracts
	})
	if err != nil {
		return err
	}

	m.journal.RecordPositionEvent(ctx, NewPositionEvent(pos, EventTargetFilled, fill, qty, contracts.LevelLabel(idx+2)))
	m.posLog(pos).WithFields(map[string]interface{}{
		"target":    idx + 1,
		"qty":       qty,
		"fill":      fill,
		"remaining": remaining,
	}).Info("Target filled")

	m.afterExitFill(ctx, id, remaining)
	return nil
}

// afterExitFill closes a flat position or shrinks its stop to the new remaining size
func (m *BracketManager) afterExitFill(ctx context.Context, id string, remaining int) {
	if remaining == 0 {
		m.closeFlat(ctx, id, "targets")
		return
	}
	pos, ok := m.ledger.Get(id)
	if !ok {
		return
	}
	_, sub, err := m.stops.RequestReplacement(ctx, pos, remaining, pos.CurrentStopPrice, contracts.LabelSet)
	if err != nil {
		m.EmergencyFlatten(ctx, id, "stop resize failed")
		return
	}
	if sub != nil {
		// 마지막 단계: 위반 시 update가 이미 강제 청산
		_ = m.update(ctx, id, func(p *contracts.Position) { p.CurrentStopPrice = sub.Price })
	}
}

// OnStopFilled closes the position after its protective stop executes
func (m *BracketManager) OnStopFilled(ctx context.Context, id string, fill float64, filledQty int) {
	pos, ok := m.ledger.Get(id)
	if !ok {
		return
	}
	log := m.posLog(pos).WithFields(map[string]interface{}{
		"fill":      fill,
		"qty":       filledQty,
		"remaining": pos.RemainingContracts,
		"level":     contracts.LevelLabel(pos.CurrentTrailLevel),
	})

	m.cancelWorking(ctx, id)
	m.stops.Forget(id)

	// stop 크기가 잔량과 다르면 차이만큼 시장가 정리
	switch leftover := pos.RemainingContracts - filledQty; {
	case leftover > 0:
		log.WithField("leftover", leftover).Warn("Stop smaller than remaining size, flattening rest")
		m.submitFlatten(ctx, id, pos.Instrument, contracts.ExitSide(pos.Direction), leftover)
	case leftover < 0:
		log.WithField("excess", -leftover).Warn("Stop larger than remaining size, offsetting excess")
		m.submitFlatten(ctx, id, pos.Instrument, contracts.EntrySide(pos.Direction), -leftover)
	}

	log.Info("Stop filled, position closed")
	m.remove(ctx, pos, "stop")
}

// OnStopRejected re-submits the stop once at a re-validated price, then gives up
func (m *BracketManager) OnStopRejected(ctx context.Context, id string) {
	pos, ok := m.ledger.Get(id)
	if !ok {
		return
	}
	if m.stopRetried[id] {
		m.EmergencyFlatten(ctx, id, "stop rejected twice")
		return
	}
	m.stopRetried[id] = true

	price := m.ClampStop(pos.Direction, pos.CurrentStopPrice)
	sub, err := m.stops.Resubmit(ctx, pos, pos.RemainingContracts, price)
	if err != nil {
		m.EmergencyFlatten(ctx, id, "stop re-submission failed")
		return
	}
	if err := m.update(ctx, id, func(p *contracts.Position) { p.CurrentStopPrice = sub.Price }); err != nil {
		return
	}
	m.posLog(pos).WithField("stop", sub.Price).Warn("Protective stop re-submitted")
}

// =============================================================================
// Stop moves and manual actions
// =============================================================================

// MoveStop routes a new stop price through the coordinator
// 개선 여부는 호출자가 판단 (trailing은 개선만, follower sync는 그대로)
func (m *BracketManager) MoveStop(ctx context.Context, id string, price float64, label string) error {
	pos, ok := m.ledger.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrNotFound, id)
	}
	price = m.gw.RoundToTick(price)

	// bracket 전: 기록만 갱신, 제출 시 반영
	if !pos.BracketSubmitted {
		if !pos.EntryFilled {
			m.earlyStops[id] = price
		}
		return m.update(ctx, id, func(p *contracts.Position) { p.CurrentStopPrice = price })
	}

	prev := pos.CurrentStopPrice
	_, sub, err := m.stops.RequestReplacement(ctx, pos, pos.RemainingContracts, price, label)
	if err != nil {
		m.EmergencyFlatten(ctx, id, "stop move submission failed")
		return err
	}
	if sub != nil {
		price = sub.Price
	}
	if err := m.update(ctx, id, func(p *contracts.Position) { p.CurrentStopPrice = price }); err != nil {
		return err
	}

	m.journal.RecordPositionEvent(ctx, NewPositionEvent(pos, EventStopMoved, price, pos.RemainingContracts, label))
	m.posLog(pos).WithFields(map[string]interface{}{
		"from":  prev,
		"to":    price,
		"label": label,
	}).Info("Stop moved")
	return nil
}

// BreakevenPrice returns entry moved BreakevenTicks in the position's favour
func (m *BracketManager) BreakevenPrice(p *contracts.Position) float64 {
	return m.gw.RoundToTick(p.Offset(p.EntryPrice, float64(m.cfg.BreakevenTicks)*m.gw.TickSize()))
}

// TargetMarket closes the unfilled rest of target idx at market
func (m *BracketManager) TargetMarket(ctx context.Context, id string, idx int) error {
	pos, err := m.openPosition(id)
	if err != nil {
		return err
	}
	if pos.Targets[idx].Qty-pos.Targets[idx].FilledQty <= 0 {
		return fmt.Errorf("position %s: target %d has nothing left", id, idx+1)
	}

	role := contracts.TargetRole(idx)
	submitMarket := func(ctx context.Context) {
		p, ok := m.ledger.Get(id)
		if !ok {
			return
		}
		qty := p.Targets[idx].Qty - p.Targets[idx].FilledQty
		if qty <= 0 {
			return
		}
		req := contracts.OrderRequest{
			PositionID: id,
			Instrument: p.Instrument,
			Role:       role,
			Side:       contracts.ExitSide(p.Direction),
			Type:       contracts.OrderTypeMarket,
			Qty:        qty,
			CreatedAt:  m.now(),
		}
		if _, err := m.place(ctx, req); err != nil {
			m.posLog(p).WithError(err).Error("Target market order failed")
		}
	}

	if h, live := m.index.Live(id, role); live {
		m.cancelThen(ctx, id, role, h, submitMarket)
		return nil
	}
	if m.replacePending(id, role, submitMarket) {
		return nil
	}
	submitMarket(ctx)
	return nil
}

// TargetReprice moves the limit of target idx
func (m *BracketManager) TargetReprice(ctx context.Context, id string, idx int, price float64) error {
	pos, err := m.openPosition(id)
	if err != nil {
		return err
	}
	if pos.Targets[idx].Qty-pos.Targets[idx].FilledQty <= 0 {
		return fmt.Errorf("position %s: target %d has nothing left", id, idx+1)
	}
	price = m.gw.RoundToTick(price)
	if err := m.update(ctx, id, func(p *contracts.Position) { p.Targets[idx].Price = price }); err != nil {
		return err
	}

	role := contracts.TargetRole(idx)
	resubmit := func(ctx context.Context) {
		p, ok := m.ledger.Get(id)
		if !ok {
			return
		}
		t := p.Targets[idx]
		if t.Qty-t.FilledQty <= 0 {
			return
		}
		if err := m.submitTarget(ctx, p, idx, t.Price, t.Qty-t.FilledQty); err != nil {
			if uerr := m.update(ctx, id, func(p *contracts.Position) { p.DropTarget(idx) }); uerr != nil {
				return
			}
			m.posLog(p).WithError(err).Error("Target reprice submission failed, contracts stay with runner")
		}
	}

	m.posLog(pos).WithFields(map[string]interface{}{"target": idx + 1, "price": price}).Info("Target repriced")
	if h, live := m.index.Live(id, role); live {
		m.cancelThen(ctx, id, role, h, resubmit)
		return nil
	}
	// 이전 액션의 cancel 대기 중이면 후속 작업만 교체
	if m.replacePending(id, role, resubmit) {
		return nil
	}
	resubmit(ctx)
	return nil
}

// TargetCancel cancels target idx; its contracts join the runner on confirmation
func (m *BracketManager) TargetCancel(ctx context.Context, id string, idx int) error {
	pos, err := m.openPosition(id)
	if err != nil {
		return err
	}
	role := contracts.TargetRole(idx)
	h, live := m.index.Live(id, role)
	if !live {
		return m.update(ctx, id, func(p *contracts.Position) { p.DropTarget(idx) })
	}
	m.index.Unlive(id, role, h)
	if err := m.gw.Cancel(ctx, h); err != nil {
		m.posLog(pos).WithError(err).Warn("Target cancel request failed")
	}
	return nil
}

// RunnerMarket closes the runner slice at market
func (m *BracketManager) RunnerMarket(ctx context.Context, id string) error {
	pos, err := m.openPosition(id)
	if err != nil {
		return err
	}
	qty := pos.RunnerOpenQty()
	if qty <= 0 {
		return fmt.Errorf("position %s: no runner contracts open", id)
	}
	req := contracts.OrderRequest{
		PositionID: id,
		Instrument: pos.Instrument,
		Role:       contracts.RoleRunner,
		Side:       contracts.ExitSide(pos.Direction),
		Type:       contracts.OrderTypeMarket,
		Qty:        qty,
		CreatedAt:  m.now(),
	}
	_, err = m.place(ctx, req)
	return err
}

// RepriceEntry moves a pending entry; stop/targets keep their distances
func (m *BracketManager) RepriceEntry(ctx context.Context, id string, price float64) error {
	pos, ok := m.ledger.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrNotFound, id)
	}
	if pos.EntryFilled {
		return fmt.Errorf("%w: position %s", ErrEntryFilled, id)
	}
	price = m.gw.RoundToTick(price)
	delete(m.earlyStops, id)
	if err := m.update(ctx, id, func(p *contracts.Position) { p.Reprice(price) }); err != nil {
		return err
	}
	m.journal.RecordPositionEvent(ctx, NewPositionEvent(pos, EventEntryRepriced, price, pos.TotalContracts, ""))
	m.posLog(pos).WithField("entry", price).Info("Entry repriced")

	h, live := m.index.Live(id, contracts.RoleEntry)
	if !live {
		// 이전 reprice의 cancel 확인 대기 중 → 후속 제출이 최신 가격 사용
		return nil
	}
	m.cancelThen(ctx, id, contracts.RoleEntry, h, func(ctx context.Context) {
		p, ok := m.ledger.Get(id)
		if !ok || p.EntryFilled {
			return
		}
		if err := m.submitEntryOrder(ctx, p); err != nil {
			m.posLog(p).WithError(err).Error("Repriced entry submission failed")
			m.removeEntry(ctx, p, "reprice failed")
		}
	})
	return nil
}

// CancelEntry cancels a pending entry and drops the position
// 이미 부분 체결된 수량은 즉시 시장가 청산, 이후 체결은 orphan 처리로 상쇄
func (m *BracketManager) CancelEntry(ctx context.Context, id, reason string) error {
	pos, ok := m.ledger.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrNotFound, id)
	}
	if pos.EntryFilled {
		return fmt.Errorf("%w: position %s", ErrEntryFilled, id)
	}
	m.cancelWorking(ctx, id)
	if filled := m.entryFilledQty(id); filled > 0 {
		m.posLog(pos).WithField("filled_qty", filled).Warn("Entry cancelled after partial fill, flattening partial")
		m.submitFlatten(ctx, id, pos.Instrument, contracts.ExitSide(pos.Direction), filled)
	}
	m.removeEntry(ctx, pos, reason)
	return nil
}

// entryFilledQty sums partial fills on the entry orders of a pending position
func (m *BracketManager) entryFilledQty(id string) int {
	total := 0
	for h, qty := range m.fills {
		if ref, ok := m.index.Lookup(h); ok && ref.PositionID == id && ref.Role == contracts.RoleEntry {
			total += qty
		}
	}
	return total
}

// FlattenPosition closes one position at market
func (m *BracketManager) FlattenPosition(ctx context.Context, id, reason string) error {
	pos, ok := m.ledger.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrNotFound, id)
	}
	if !pos.EntryFilled {
		return m.CancelEntry(ctx, id, reason)
	}
	m.posLog(pos).WithFields(map[string]interface{}{
		"remaining": pos.RemainingContracts,
		"reason":    reason,
	}).Info("Flattening position")
	m.flattenAndRemove(ctx, pos, pos.RemainingContracts, reason)
	return nil
}

// EmergencyFlatten closes an unprotected position for exactly its remaining size
// ⭐ 보호 stop 없는 포지션은 청산이 우선
func (m *BracketManager) EmergencyFlatten(ctx context.Context, id, reason string) {
	pos, ok := m.ledger.Get(id)
	if !ok {
		return
	}
	metrics.EmergencyFlattens.Inc()
	m.posLog(pos).WithFields(map[string]interface{}{
		"reason":    reason,
		"remaining": pos.RemainingContracts,
		"position":  pos.Clone(),
	}).Error("EMERGENCY FLATTEN: position unprotected")

	m.journal.RecordPositionEvent(ctx, NewPositionEvent(pos, EventEmergencyFlatten, m.lastPrice, pos.RemainingContracts, reason))
	m.flattenAndRemove(ctx, pos, pos.RemainingContracts, "emergency")
}

// Drop forgets a position without sending orders (gateway already flat)
func (m *BracketManager) Drop(ctx context.Context, id, reason string) {
	pos, ok := m.ledger.Get(id)
	if !ok {
		return
	}
	m.cancelWorking(ctx, id)
	m.stops.Forget(id)
	m.remove(ctx, pos, reason)
}

// =============================================================================
// Helpers
// =============================================================================

// update wraps Ledger.Update and force-closes on invariant violation
func (m *BracketManager) update(ctx context.Context, id string, fn func(p *contracts.Position)) error {
	before := 0
	if p, ok := m.ledger.Get(id); ok {
		before = p.RemainingContracts
	}

	err := m.ledger.Update(id, fn)
	if err == nil || !errors.Is(err, ledger.ErrInvariantViolation) {
		return err
	}

	p, _ := m.ledger.Get(id)
	qty := p.RemainingContracts
	if qty < 0 {
		qty = before
	}
	m.posLog(p).WithError(err).WithField("position", p.Clone()).Error("Ledger invariant violated, force-closing position")
	m.flattenAndRemove(ctx, p, qty, "invariant")
	return err
}

func (m *BracketManager) openPosition(id string) (*contracts.Position, error) {
	pos, ok := m.ledger.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, id)
	}
	if !pos.EntryFilled {
		return nil, fmt.Errorf("%w: position %s", ErrEntryNotFilled, id)
	}
	return pos, nil
}

// place submits, indexes, and journals one order
func (m *BracketManager) place(ctx context.Context, req contracts.OrderRequest) (contracts.OrderHandle, error) {
	h, err := submit(ctx, m.gw, &req)
	if err != nil {
		metrics.OrderSubmitFailures.WithLabelValues(string(req.Role)).Inc()
		m.logger.WithError(err).WithFields(map[string]interface{}{
			"position_id": req.PositionID,
			"role":        req.Role,
			"type":        req.Type,
			"qty":         req.Qty,
		}).Error("Order submission failed")
		return "", err
	}

	m.index.Track(h, req)
	m.journal.RecordOrder(ctx, h, req)
	metrics.OrdersSubmitted.WithLabelValues(string(req.Role)).Inc()
	m.logger.WithFields(map[string]interface{}{
		"position_id": req.PositionID,
		"handle":      h,
		"role":        req.Role,
		"side":        req.Side,
		"type":        req.Type,
		"qty":         req.Qty,
		"limit":       req.LimitPrice,
		"stop":        req.StopPrice,
	}).Debug("Order submitted")
	return h, nil
}

func (m *BracketManager) submitFlatten(ctx context.Context, id, instrument string, side contracts.OrderSide, qty int) {
	req := contracts.OrderRequest{
		PositionID: id,
		Instrument: instrument,
		Role:       contracts.RoleFlatten,
		Side:       side,
		Type:       contracts.OrderTypeMarket,
		Qty:        qty,
		CreatedAt:  m.now(),
	}
	if _, err := m.place(ctx, req); err != nil {
		m.logger.WithError(err).WithFields(map[string]interface{}{
			"position_id": id,
			"qty":         qty,
		}).Error("Flatten submission failed, position left unmanaged at gateway")
	}
}

// cancelThen cancels h and runs next once the cancel is confirmed
func (m *BracketManager) cancelThen(ctx context.Context, id string, role contracts.OrderRole, h contracts.OrderHandle, next func(ctx context.Context)) {
	m.onCancelled[h] = next
	m.index.Unlive(id, role, h)
	if err := m.gw.Cancel(ctx, h); err != nil {
		m.logger.WithError(err).WithFields(map[string]interface{}{
			"position_id": id,
			"handle":      h,
		}).Warn("Cancel request failed, waiting for gateway state")
	}
}

// replacePending swaps the follow-up of an outstanding cancel on the leg
// 최신 요청만 유효 (stop coordinator와 같은 collapse 규칙)
func (m *BracketManager) replacePending(id string, role contracts.OrderRole, next func(ctx context.Context)) bool {
	for h := range m.onCancelled {
		if ref, ok := m.index.Lookup(h); ok && ref.PositionID == id && ref.Role == role {
			m.onCancelled[h] = next
			return true
		}
	}
	return false
}

// cancelWorking cancels every live order of a position
func (m *BracketManager) cancelWorking(ctx context.Context, id string) {
	for role, h := range m.index.LiveHandles(id) {
		m.index.Unlive(id, role, h)
		if err := m.gw.Cancel(ctx, h); err != nil {
			m.logger.WithError(err).WithFields(map[string]interface{}{
				"position_id": id,
				"role":        role,
				"handle":      h,
			}).Warn("Cancel request failed")
		}
	}
}

func (m *BracketManager) flattenAndRemove(ctx context.Context, pos *contracts.Position, qty int, reason string) {
	m.cancelWorking(ctx, pos.ID)
	m.stops.Forget(pos.ID)
	if pos.EntryFilled && qty > 0 {
		m.submitFlatten(ctx, pos.ID, pos.Instrument, contracts.ExitSide(pos.Direction), qty)
	}
	m.remove(ctx, pos, reason)
}

func (m *BracketManager) closeFlat(ctx context.Context, id, reason string) {
	pos, ok := m.ledger.Get(id)
	if !ok {
		return
	}
	m.cancelWorking(ctx, id)
	m.stops.Forget(id)
	m.posLog(pos).Info("All contracts exited, position closed")
	m.remove(ctx, pos, reason)
}

func (m *BracketManager) removeEntry(ctx context.Context, pos *contracts.Position, reason string) {
	snapshot := pos.Clone()
	m.stops.Forget(pos.ID)
	m.ledger.Remove(pos.ID)
	delete(m.earlyStops, pos.ID)
	metrics.OpenPositions.Set(float64(m.ledger.Len()))
	m.journal.RecordPositionEvent(ctx, NewPositionEvent(&snapshot, EventEntryCancelled, snapshot.EntryPrice, 0, reason))
	m.posLog(&snapshot).WithField("reason", reason).Info("Entry cancelled")
	if m.hooks.OnEntryCancelled != nil {
		m.hooks.OnEntryCancelled(snapshot, reason)
	}
}

func (m *BracketManager) remove(ctx context.Context, pos *contracts.Position, reason string) {
	snapshot := pos.Clone()
	m.ledger.Remove(pos.ID)
	delete(m.stopRetried, pos.ID)
	delete(m.earlyStops, pos.ID)
	snapshot.State = contracts.PositionClosed

	metrics.PositionsClosed.WithLabelValues(reason).Inc()
	metrics.OpenPositions.Set(float64(m.ledger.Len()))
	m.journal.RecordPositionEvent(ctx, NewPositionEvent(&snapshot, EventClosed, m.lastPrice, snapshot.RemainingContracts, reason))
	if m.hooks.OnClosed != nil {
		m.hooks.OnClosed(snapshot, reason)
	}
}
