package strategy

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/internal/risk"
	"github.com/wonny/orbit/pkg/logger"
)

var (
	ErrRangeNotReady     = errors.New("opening range not complete")
	ErrIndicatorNotReady = errors.New("indicator not warmed up")
	ErrThroughMarket     = errors.New("stop entry already through the market")
	ErrNoMarket          = errors.New("no last price")
	ErrUnknownMode       = errors.New("unknown entry mode")
)

// Request describes one entry to plan
type Request struct {
	ID         string // 빈 값이면 새 UUID
	Instrument string
	Mode       contracts.Mode
	Direction  contracts.Direction
	Price      float64 // LIMIT/STOP 가격 (pullback, reversion, momentum)
	Last       float64 // 현재가
}

// Planner builds position specs for each entry mode
// ⭐ SSOT: 진입가/손절/목표/수량 계산은 여기서만
type Planner struct {
	cfg        Config
	ladder     contracts.TrailLadder
	sizer      *risk.Sizer
	indicators contracts.IndicatorSource
	ranges     contracts.RangeSource
	tickSize   float64
	round      func(float64) float64
	logger     *logger.Logger
}

// NewPlanner creates a planner; round is the gateway's tick rounding
func NewPlanner(cfg Config, ladder contracts.TrailLadder, sizer *risk.Sizer, indicators contracts.IndicatorSource, ranges contracts.RangeSource, tickSize float64, round func(float64) float64, log *logger.Logger) *Planner {
	if round == nil {
		round = func(price float64) float64 { return price }
	}
	return &Planner{
		cfg:        cfg,
		ladder:     ladder,
		sizer:      sizer,
		indicators: indicators,
		ranges:     ranges,
		tickSize:   tickSize,
		round:      round,
		logger:     log,
	}
}

// Readiness lists the reasons an entry would be blocked right now
func (p *Planner) Readiness() []string {
	var reasons []string
	if p.ranges != nil && !p.ranges.Range().Complete {
		reasons = append(reasons, ErrRangeNotReady.Error())
	}
	if _, ok := p.indicators.LatestValue(contracts.IndicatorATR, p.cfg.ATRPeriod); !ok {
		reasons = append(reasons, fmt.Sprintf("ATR(%d) warming up", p.cfg.ATRPeriod))
	}
	return reasons
}

// Plan builds the spec for req
func (p *Planner) Plan(req Request) (contracts.PositionSpec, error) {
	if !req.Direction.Valid() {
		return contracts.PositionSpec{}, fmt.Errorf("invalid direction %q", req.Direction)
	}

	var (
		spec contracts.PositionSpec
		err  error
	)
	switch req.Mode {
	case contracts.ModeBreakout:
		spec, err = p.breakout(req)
	case contracts.ModePullback, contracts.ModeReversion:
		spec, err = p.limit(req)
	case contracts.ModeMomentum:
		spec, err = p.momentum(req)
	case contracts.ModeAnchored:
		spec, err = p.anchored(req)
	default:
		return contracts.PositionSpec{}, fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}
	if err != nil {
		return contracts.PositionSpec{}, err
	}

	return p.finish(req, spec)
}

// Directional builds a market entry for remote LONG/SHORT commands
// breakout 방식 손절, range 미완성이면 ATR 기준 목표
func (p *Planner) Directional(req Request) (contracts.PositionSpec, error) {
	if req.Last <= 0 {
		return contracts.PositionSpec{}, ErrNoMarket
	}

	atr, _ := p.indicators.LatestValue(contracts.IndicatorATR, p.cfg.ATRPeriod)
	base := atr
	if r := p.currentRange(); r.Complete {
		base = r.Width()
	}

	spec := contracts.PositionSpec{
		Mode:       contracts.ModeBreakout,
		EntryType:  contracts.OrderTypeMarket,
		EntryPrice: req.Last,
	}
	p.bracket(&spec, req.Direction, req.Last, p.breakoutStop(atr), base)
	return p.finish(req, spec)
}

func (p *Planner) breakout(req Request) (contracts.PositionSpec, error) {
	r := p.currentRange()
	if !r.Complete {
		return contracts.PositionSpec{}, ErrRangeNotReady
	}
	atr, ok := p.indicators.LatestValue(contracts.IndicatorATR, p.cfg.ATRPeriod)
	if !ok {
		return contracts.PositionSpec{}, fmt.Errorf("%w: ATR(%d)", ErrIndicatorNotReady, p.cfg.ATRPeriod)
	}

	offset := float64(p.cfg.BreakoutOffsetTicks) * p.tickSize
	entry := r.High + offset
	if req.Direction == contracts.Short {
		entry = r.Low - offset
	}
	entry = p.round(entry)

	if err := p.checkStopEntry(req, entry); err != nil {
		return contracts.PositionSpec{}, err
	}

	spec := contracts.PositionSpec{
		Mode:       contracts.ModeBreakout,
		EntryType:  contracts.OrderTypeStopMarket,
		EntryPrice: entry,
	}
	p.bracket(&spec, req.Direction, entry, p.breakoutStop(atr), r.Width())
	return spec, nil
}

func (p *Planner) limit(req Request) (contracts.PositionSpec, error) {
	rule, _ := p.cfg.Rule(req.Mode)
	atr, ok := p.indicators.LatestValue(contracts.IndicatorATR, p.cfg.ATRPeriod)
	if !ok {
		return contracts.PositionSpec{}, fmt.Errorf("%w: ATR(%d)", ErrIndicatorNotReady, p.cfg.ATRPeriod)
	}

	entry := p.round(req.Price)
	if entry <= 0 {
		entry = p.round(req.Last)
	}
	if entry <= 0 {
		return contracts.PositionSpec{}, ErrNoMarket
	}

	// 현재가보다 불리한 limit은 즉시 체결됨
	if req.Last > 0 && (entry-req.Last)*req.Direction.Sign() > 0 {
		p.logger.WithFields(map[string]interface{}{
			"mode":      req.Mode,
			"direction": req.Direction,
			"entry":     entry,
			"last":      req.Last,
		}).Warn("Limit entry is marketable")
	}

	spec := contracts.PositionSpec{
		Mode:       req.Mode,
		EntryType:  contracts.OrderTypeLimit,
		EntryPrice: entry,
		Anchor:     rule.Anchor,
	}
	p.bracket(&spec, req.Direction, entry, p.ruleStop(rule, atr), atr)
	return spec, nil
}

func (p *Planner) momentum(req Request) (contracts.PositionSpec, error) {
	rule := p.cfg.Momentum
	atr, ok := p.indicators.LatestValue(contracts.IndicatorATR, p.cfg.ATRPeriod)
	if !ok {
		return contracts.PositionSpec{}, fmt.Errorf("%w: ATR(%d)", ErrIndicatorNotReady, p.cfg.ATRPeriod)
	}

	entry := p.round(req.Price)
	if entry <= 0 {
		return contracts.PositionSpec{}, fmt.Errorf("momentum entry requires a stop price")
	}
	if err := p.checkStopEntry(req, entry); err != nil {
		return contracts.PositionSpec{}, err
	}

	spec := contracts.PositionSpec{
		Mode:       contracts.ModeMomentum,
		EntryType:  contracts.OrderTypeStopMarket,
		EntryPrice: entry,
		Anchor:     rule.Anchor,
	}
	p.bracket(&spec, req.Direction, entry, p.ruleStop(rule, atr), atr)
	return spec, nil
}

// anchored: 시장가 진입, 손절은 EMA 기준 ∓ ATR×multiplier
func (p *Planner) anchored(req Request) (contracts.PositionSpec, error) {
	rule := p.cfg.Anchored
	if req.Last <= 0 {
		return contracts.PositionSpec{}, ErrNoMarket
	}
	if rule.Anchor == nil {
		return contracts.PositionSpec{}, fmt.Errorf("anchored mode requires an anchor rule")
	}

	atr, ok := p.indicators.LatestValue(contracts.IndicatorATR, p.cfg.ATRPeriod)
	if !ok {
		return contracts.PositionSpec{}, fmt.Errorf("%w: ATR(%d)", ErrIndicatorNotReady, p.cfg.ATRPeriod)
	}
	ref, ok := p.indicators.LatestValue(rule.Anchor.Indicator, rule.Anchor.Period)
	if !ok {
		return contracts.PositionSpec{}, fmt.Errorf("%w: %s(%d)", ErrIndicatorNotReady, rule.Anchor.Indicator, rule.Anchor.Period)
	}

	entry := p.round(req.Last)
	stop := p.round(ref - atr*rule.StopATRMultiplier*req.Direction.Sign())

	spec := contracts.PositionSpec{
		Mode:       contracts.ModeAnchored,
		EntryType:  contracts.OrderTypeMarket,
		EntryPrice: entry,
		StopPrice:  stop,
		Anchor:     rule.Anchor,
	}
	p.targets(&spec, req.Direction, entry, atr)
	return spec, nil
}

func (p *Planner) finish(req Request, spec contracts.PositionSpec) (contracts.PositionSpec, error) {
	spec.ID = req.ID
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	spec.Instrument = req.Instrument
	spec.Direction = req.Direction
	spec.Ladder = p.ladder

	distance := math.Abs(spec.EntryPrice - spec.StopPrice)
	spec.Slices = p.sizer.Size(distance)

	if err := spec.Validate(); err != nil {
		return contracts.PositionSpec{}, fmt.Errorf("plan %s: %w", spec.Mode, err)
	}

	p.logger.WithFields(map[string]interface{}{
		"position_id": spec.ID,
		"mode":        spec.Mode,
		"direction":   spec.Direction,
		"entry_type":  spec.EntryType,
		"entry":       spec.EntryPrice,
		"stop":        spec.StopPrice,
		"targets":     spec.TargetPrices,
		"contracts":   spec.Slices.Total(),
	}).Info("Entry planned")

	return spec, nil
}

// bracket sets stop and targets around entry
func (p *Planner) bracket(spec *contracts.PositionSpec, d contracts.Direction, entry, stopDistance, base float64) {
	spec.StopPrice = p.round(entry - stopDistance*d.Sign())
	p.targets(spec, d, entry, base)
}

func (p *Planner) targets(spec *contracts.PositionSpec, d contracts.Direction, entry, base float64) {
	distances := [3]float64{
		p.cfg.Target1Points,
		base * p.cfg.Target2Multiplier,
		base * p.cfg.Target3Multiplier,
	}
	for i, dist := range distances {
		spec.TargetPrices[i] = p.round(entry + dist*d.Sign())
	}
}

func (p *Planner) breakoutStop(atr float64) float64 {
	stop := atr * p.cfg.StopMultiplier
	return math.Min(math.Max(stop, p.cfg.MinimumStop), p.cfg.MaximumStop)
}

func (p *Planner) ruleStop(rule ModeRule, atr float64) float64 {
	if rule.FixedStop > 0 {
		return rule.FixedStop
	}
	return atr * rule.StopATRMultiplier
}

// stop 진입은 현재가 바깥쪽이어야 함
func (p *Planner) checkStopEntry(req Request, entry float64) error {
	if req.Last <= 0 {
		return nil
	}
	if (entry-req.Last)*req.Direction.Sign() <= 0 {
		p.logger.WithFields(map[string]interface{}{
			"mode":      req.Mode,
			"direction": req.Direction,
			"entry":     entry,
			"last":      req.Last,
		}).Warn("Stop entry blocked, price already through")
		return fmt.Errorf("%w: entry %.2f last %.2f", ErrThroughMarket, entry, req.Last)
	}
	return nil
}

func (p *Planner) currentRange() contracts.SessionRange {
	if p.ranges == nil {
		return contracts.SessionRange{}
	}
	return p.ranges.Range()
}
