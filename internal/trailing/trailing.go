package trailing

import (
	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/pkg/logger"
)

// Config holds trailing settings shared by every position
type Config struct {
	TickSize                   float64
	ManualBreakevenBufferTicks int
	Round                      func(price float64) float64 // tick 반올림, nil이면 그대로
}

// DefaultConfig returns the default trailing settings for tick size
func DefaultConfig(tickSize float64) Config {
	return Config{
		TickSize:                   tickSize,
		ManualBreakevenBufferTicks: 1,
	}
}

// Decision is the result of one evaluation
// Move=false 이어도 Level 상승은 반영 (수동 BE가 이미 더 나은 stop일 때)
type Decision struct {
	Move      bool
	StopPrice float64
	Level     int
	Label     string
}

// Engine evaluates stop advancement once per price update
// ⭐ SSOT: 트레일링 규칙은 여기서만, 주문 제출은 하지 않음
type Engine struct {
	indicators contracts.IndicatorSource
	cfg        Config
	logger     *logger.Logger
}

// New creates a trailing engine
func New(indicators contracts.IndicatorSource, cfg Config, log *logger.Logger) *Engine {
	if cfg.Round == nil {
		cfg.Round = func(price float64) float64 { return price }
	}
	return &Engine{indicators: indicators, cfg: cfg, logger: log}
}

// Evaluate updates per-position tracking state and decides the next stop
// 호출자는 Ledger.Update 안에서 호출하고 Decision을 coordinator로 전달
func (e *Engine) Evaluate(p *contracts.Position, price float64) Decision {
	p.TrackExtreme(price)
	p.TicksSinceEntry++

	if p.TrailDisabled {
		return Decision{Level: p.CurrentTrailLevel}
	}

	// 1. 수동 BE: 자동 규칙보다 먼저, 발동한 tick에는 다른 규칙 건너뜀
	if d, fired := e.manualBreakeven(p, price); fired {
		return d
	}

	// 2. 지표 기준 트레일링: ladder 사용 안 함
	if p.Anchor != nil {
		return e.anchored(p, price)
	}

	// 3. 고정 ladder
	return e.ladder(p)
}

func (e *Engine) manualBreakeven(p *contracts.Position, price float64) (Decision, bool) {
	if !p.ManualBreakeven.Armed || p.ManualBreakeven.Triggered {
		return Decision{}, false
	}

	buffer := float64(e.cfg.ManualBreakevenBufferTicks) * e.cfg.TickSize
	if p.Profit(price) < buffer {
		return Decision{}, false
	}

	p.ManualBreakeven.Triggered = true
	p.AutoBreakevenDisabled = true

	level := max(p.CurrentTrailLevel, contracts.LevelBreakeven)
	stop := e.cfg.Round(p.Offset(p.EntryPrice, buffer))

	e.logger.WithFields(map[string]interface{}{
		"position_id": p.ID,
		"price":       price,
		"stop":        stop,
		"improves":    p.Improves(stop),
	}).Info("Manual breakeven triggered")

	if !p.Improves(stop) {
		return Decision{Level: level, Label: contracts.LabelManualBE}, true
	}
	return Decision{Move: true, StopPrice: stop, Level: level, Label: contracts.LabelManualBE}, true
}

// anchored: phase 1 고정 stop → 유리한 방향 cross → phase 2 indicator ∓ ATR×multiplier
func (e *Engine) anchored(p *contracts.Position, price float64) Decision {
	a := p.Anchor
	hold := Decision{Level: p.CurrentTrailLevel}

	ref, ok := e.indicators.LatestValue(a.Indicator, a.Period)
	if !ok {
		return hold
	}

	if !p.AnchorActive {
		if (price-ref)*p.Direction.Sign() <= 0 {
			return hold
		}
		p.AnchorActive = true
		e.logger.WithFields(map[string]interface{}{
			"position_id": p.ID,
			"price":       price,
			"indicator":   a.Indicator,
			"period":      a.Period,
			"value":       ref,
		}).Info("Price crossed anchor, switching to anchored trail")
	}

	vol, ok := e.indicators.LatestValue(contracts.IndicatorATR, a.VolatilityPeriod)
	if !ok {
		return hold
	}

	stop := e.cfg.Round(p.Offset(ref, -vol*a.VolatilityMultiplier))
	if !p.Improves(stop) {
		return hold
	}
	return Decision{Move: true, StopPrice: stop, Level: p.CurrentTrailLevel, Label: contracts.LabelAnchor}
}

// ladder: 높은 단계부터 검사, 첫 번째로 조건이 맞는 단계만 평가
func (e *Engine) ladder(p *contracts.Position) Decision {
	l := p.Ladder
	hold := Decision{Level: p.CurrentTrailLevel}
	profit := p.Profit(p.ExtremePriceSinceEntry)
	reached := func(trigger float64) bool { return trigger > 0 && profit >= trigger }

	t1Done := p.TargetsFilled(1)
	t2Done := p.TargetsFilled(2)

	// 주문 변경 빈도 제한: T1/T2 구간은 격 tick, BE 이하/T3 구간은 매 tick
	switch {
	case reached(l.Trail3Trigger) && t2Done:
	case reached(l.Trail2Trigger) && t1Done, reached(l.Trail1Trigger):
		if p.TicksSinceEntry%2 != 0 {
			return hold
		}
	}

	var stop float64
	var level int
	switch {
	case reached(l.Trail3Trigger) && t2Done:
		stop, level = p.Offset(p.ExtremePriceSinceEntry, -l.Trail3Distance), contracts.LevelTrail3
	case reached(l.Trail2Trigger) && t1Done && p.CurrentTrailLevel < contracts.LevelTrail2:
		stop, level = p.Offset(p.ExtremePriceSinceEntry, -l.Trail2Distance), contracts.LevelTrail2
	case reached(l.Trail1Trigger) && p.CurrentTrailLevel < contracts.LevelTrail1:
		stop, level = p.Offset(p.ExtremePriceSinceEntry, -l.Trail1Distance), contracts.LevelTrail1
	case reached(l.BreakevenTrigger) && p.CurrentTrailLevel < contracts.LevelBreakeven && !p.AutoBreakevenDisabled:
		offset := float64(l.BreakevenOffsetTicks) * e.cfg.TickSize
		stop, level = p.Offset(p.EntryPrice, offset), contracts.LevelBreakeven
	default:
		return hold
	}

	stop = e.cfg.Round(stop)
	if !p.Improves(stop) {
		return hold
	}

	level = max(level, p.CurrentTrailLevel)
	return Decision{Move: true, StopPrice: stop, Level: level, Label: contracts.LevelLabel(level)}
}
