package execution

import (
	"context"
	"time"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/pkg/logger"
	"github.com/wonny/orbit/pkg/metrics"
)

// ReplaceOutcome describes what RequestReplacement did
type ReplaceOutcome string

const (
	OutcomeImmediate ReplaceOutcome = "immediate" // no live stop, submitted now
	OutcomeDeferred  ReplaceOutcome = "deferred"  // cancel issued, submit on confirmation
	OutcomeCollapsed ReplaceOutcome = "collapsed" // pending record updated in place
	OutcomeNoop      ReplaceOutcome = "noop"      // nothing live and nothing to submit
	OutcomeFailed    ReplaceOutcome = "failed"
)

// StopSubmission is the stop that went to the gateway
type StopSubmission struct {
	Handle contracts.OrderHandle
	Qty    int
	Price  float64
}

// StopReplacementCoordinator keeps at most one live protective stop per position
// ⭐ SSOT: 스탑 변경은 cancel → 확인 → resubmit 2단계로만
// 확인 전 들어온 요청은 pending 레코드를 덮어씀 (cancel 중복 발행 없음)
type StopReplacementCoordinator struct {
	gw      Gateway
	index   *OrderIndex
	journal Journal
	pending map[string]*contracts.PendingStopReplacement
	clamp   func(d contracts.Direction, price float64) float64
	logger  *logger.Logger
	now     func() time.Time
}

// NewStopReplacementCoordinator creates a coordinator
func NewStopReplacementCoordinator(gw Gateway, index *OrderIndex, journal Journal, log *logger.Logger) *StopReplacementCoordinator {
	if journal == nil {
		journal = NopJournal{}
	}
	return &StopReplacementCoordinator{
		gw:      gw,
		index:   index,
		journal: journal,
		pending: make(map[string]*contracts.PendingStopReplacement),
		clamp:   func(_ contracts.Direction, price float64) float64 { return price },
		logger:  log,
		now:     time.Now,
	}
}

// SetClamp installs the market-distance validator used at submission time
func (c *StopReplacementCoordinator) SetClamp(fn func(d contracts.Direction, price float64) float64) {
	c.clamp = fn
}

// RequestReplacement asks for the position's stop to become qty @ price
func (c *StopReplacementCoordinator) RequestReplacement(ctx context.Context, pos *contracts.Position, qty int, price float64, label string) (ReplaceOutcome, *StopSubmission, error) {
	log := c.logger.WithFields(map[string]interface{}{
		"position_id": pos.ID,
		"qty":         qty,
		"stop":        price,
		"label":       label,
	})

	// 1. pending 존재 → 최신 요청으로 덮어쓰기
	if p, ok := c.pending[pos.ID]; ok {
		p.Qty = qty
		p.StopPrice = price
		p.Label = label
		metrics.StopReplacements.WithLabelValues(string(OutcomeCollapsed)).Inc()
		log.Debug("Stop replacement collapsed into pending request")
		return OutcomeCollapsed, nil, nil
	}

	// 2. live stop 존재 → pending 기록 후 cancel, 제출은 확인 콜백에서
	if h, ok := c.index.Live(pos.ID, contracts.RoleStop); ok {
		c.pending[pos.ID] = &contracts.PendingStopReplacement{
			PositionID: pos.ID,
			Instrument: pos.Instrument,
			Qty:        qty,
			StopPrice:  price,
			Direction:  pos.Direction,
			Cancelling: h,
			Label:      label,
			CreatedAt:  c.now(),
		}
		c.index.Unlive(pos.ID, contracts.RoleStop, h)
		metrics.PendingStopReplacements.Set(float64(len(c.pending)))

		if err := c.gw.Cancel(ctx, h); err != nil {
			// 이미 terminal 일 수 있음 (체결 경합) → 해당 이벤트가 pending을 정리
			log.WithError(err).Warn("Stop cancel request failed, waiting for gateway state")
		}
		metrics.StopReplacements.WithLabelValues(string(OutcomeDeferred)).Inc()
		log.WithField("cancelling", h).Debug("Stop cancel issued, replacement deferred")
		return OutcomeDeferred, nil, nil
	}

	if qty <= 0 {
		return OutcomeNoop, nil, nil
	}

	// 3. live stop 없음 → 즉시 제출
	sub, err := c.submitStop(ctx, pos.ID, pos.Instrument, pos.Direction, qty, price)
	if err != nil {
		metrics.StopReplacements.WithLabelValues(string(OutcomeFailed)).Inc()
		return OutcomeFailed, nil, err
	}
	metrics.StopReplacements.WithLabelValues(string(OutcomeImmediate)).Inc()
	return OutcomeImmediate, sub, nil
}

// OnStopCancelConfirmed submits the recorded replacement and drops the pending record
// pending 없음 → (nil, false, nil): 청산 중 취소된 stop
func (c *StopReplacementCoordinator) OnStopCancelConfirmed(ctx context.Context, positionID string) (*StopSubmission, bool, error) {
	p, ok := c.pending[positionID]
	if !ok {
		return nil, false, nil
	}
	delete(c.pending, positionID)
	metrics.PendingStopReplacements.Set(float64(len(c.pending)))

	if p.Qty <= 0 {
		c.logger.WithField("position_id", positionID).Debug("Stop cancelled with nothing left to protect")
		return nil, true, nil
	}

	sub, err := c.submitStop(ctx, positionID, p.Instrument, p.Direction, p.Qty, p.StopPrice)
	if err != nil {
		metrics.StopReplacements.WithLabelValues(string(OutcomeFailed)).Inc()
		return nil, true, err
	}
	metrics.StopReplacements.WithLabelValues("confirmed").Inc()
	return sub, true, nil
}

// Resubmit places a fresh stop, used after a rejection
func (c *StopReplacementCoordinator) Resubmit(ctx context.Context, pos *contracts.Position, qty int, price float64) (*StopSubmission, error) {
	return c.submitStop(ctx, pos.ID, pos.Instrument, pos.Direction, qty, price)
}

// Pending returns a copy of the pending record for id
func (c *StopReplacementCoordinator) Pending(positionID string) (contracts.PendingStopReplacement, bool) {
	p, ok := c.pending[positionID]
	if !ok {
		return contracts.PendingStopReplacement{}, false
	}
	return *p, true
}

// IsCancelling reports whether h is the stop being replaced for id
func (c *StopReplacementCoordinator) IsCancelling(positionID string, h contracts.OrderHandle) bool {
	p, ok := c.pending[positionID]
	return ok && p.Cancelling == h
}

// PendingCount returns the number of outstanding replacements
func (c *StopReplacementCoordinator) PendingCount() int {
	return len(c.pending)
}

// Forget drops the pending record when a position closes
func (c *StopReplacementCoordinator) Forget(positionID string) {
	if _, ok := c.pending[positionID]; ok {
		delete(c.pending, positionID)
		metrics.PendingStopReplacements.Set(float64(len(c.pending)))
	}
}

func (c *StopReplacementCoordinator) submitStop(ctx context.Context, positionID, instrument string, dir contracts.Direction, qty int, price float64) (*StopSubmission, error) {
	price = c.gw.RoundToTick(c.clamp(dir, price))

	req := contracts.OrderRequest{
		PositionID: positionID,
		Instrument: instrument,
		Role:       contracts.RoleStop,
		Side:       contracts.ExitSide(dir),
		Type:       contracts.OrderTypeStopMarket,
		Qty:        qty,
		StopPrice:  price,
		CreatedAt:  c.now(),
	}

	h, err := submit(ctx, c.gw, &req)
	if err != nil {
		metrics.OrderSubmitFailures.WithLabelValues(string(req.Role)).Inc()
		c.logger.WithError(err).WithFields(map[string]interface{}{
			"position_id": positionID,
			"qty":         qty,
			"stop":        price,
		}).Error("Stop submission failed")
		return nil, err
	}

	c.index.Track(h, req)
	c.journal.RecordOrder(ctx, h, req)
	metrics.OrdersSubmitted.WithLabelValues(string(req.Role)).Inc()

	c.logger.WithFields(map[string]interface{}{
		"position_id": positionID,
		"handle":      h,
		"qty":         qty,
		"stop":        price,
	}).Info("Stop submitted")

	return &StopSubmission{Handle: h, Qty: qty, Price: price}, nil
}
