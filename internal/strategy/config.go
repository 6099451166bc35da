package strategy

import "github.com/wonny/orbit/internal/contracts"

// =============================================================================
// Entry Rules
// ⭐ SSOT: 모드별 진입/손절/목표 계산 파라미터
// =============================================================================

// ModeRule 모드별 손절 폭과 트레일링 anchor
type ModeRule struct {
	StopATRMultiplier float64               `json:"stop_atr_multiplier" yaml:"stop_atr_multiplier"`
	FixedStop         float64               `json:"fixed_stop" yaml:"fixed_stop"` // points, > 0 이면 ATR 대신 사용
	Anchor            *contracts.AnchorRule `json:"anchor,omitempty" yaml:"anchor,omitempty"`
}

// Config holds the planner inputs shared by every mode
type Config struct {
	ATRPeriod           int `json:"atr_period" yaml:"atr_period"`
	BreakoutOffsetTicks int `json:"breakout_offset_ticks" yaml:"breakout_offset_ticks"`

	// breakout 손절: clamp(ATR × StopMultiplier, MinimumStop, MaximumStop)
	MinimumStop    float64 `json:"minimum_stop" yaml:"minimum_stop"`
	MaximumStop    float64 `json:"maximum_stop" yaml:"maximum_stop"`
	StopMultiplier float64 `json:"stop_multiplier" yaml:"stop_multiplier"`

	// T1 고정, T2/T3 = range(breakout) 또는 ATR 배수
	Target1Points     float64 `json:"target1_points" yaml:"target1_points"`
	Target2Multiplier float64 `json:"target2_multiplier" yaml:"target2_multiplier"`
	Target3Multiplier float64 `json:"target3_multiplier" yaml:"target3_multiplier"`

	Pullback  ModeRule `json:"pullback" yaml:"pullback"`
	Momentum  ModeRule `json:"momentum" yaml:"momentum"`
	Anchored  ModeRule `json:"anchored" yaml:"anchored"`
	Reversion ModeRule `json:"reversion" yaml:"reversion"`
}

// DefaultConfig returns the built-in entry rules
func DefaultConfig() Config {
	const atr = 14
	ema := func(period int, cross bool) *contracts.AnchorRule {
		return &contracts.AnchorRule{
			Indicator:            contracts.IndicatorEMA,
			Period:               period,
			VolatilityPeriod:     atr,
			VolatilityMultiplier: 1.1,
			RequireCross:         cross,
		}
	}

	return Config{
		ATRPeriod:           atr,
		BreakoutOffsetTicks: 3,

		MinimumStop:    1,
		MaximumStop:    8,
		StopMultiplier: 0.5,

		Target1Points:     1,
		Target2Multiplier: 0.5,
		Target3Multiplier: 1.0,

		Pullback:  ModeRule{StopATRMultiplier: 1.1, Anchor: ema(9, true)},
		Momentum:  ModeRule{FixedStop: 0.5, Anchor: ema(9, true)},
		Anchored:  ModeRule{StopATRMultiplier: 1.1, Anchor: ema(15, false)},
		Reversion: ModeRule{StopATRMultiplier: 1.1, Anchor: ema(9, true)},
	}
}

// Rule returns the rule of an indicator-relative mode
func (c Config) Rule(m contracts.Mode) (ModeRule, bool) {
	switch m {
	case contracts.ModePullback:
		return c.Pullback, true
	case contracts.ModeMomentum:
		return c.Momentum, true
	case contracts.ModeAnchored:
		return c.Anchored, true
	case contracts.ModeReversion:
		return c.Reversion, true
	default:
		return ModeRule{}, false
	}
}
