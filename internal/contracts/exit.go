package contracts

// =============================================================================
// Trailing Rules (fixed ladder + indicator-anchored)
// ⭐ SSOT: 트레일링 파라미터는 여기서만
// =============================================================================

// Trail levels of the fixed ladder
const (
	LevelNone      = 0
	LevelBreakeven = 1
	LevelTrail1    = 2
	LevelTrail2    = 3
	LevelTrail3    = 4
)

// LevelLabel returns the broadcast label of a ladder level
func LevelLabel(level int) string {
	switch level {
	case LevelBreakeven:
		return "BE"
	case LevelTrail1:
		return "T1"
	case LevelTrail2:
		return "T2"
	case LevelTrail3:
		return "T3"
	default:
		return "NONE"
	}
}

// Stop update labels outside the ladder
const (
	LabelManualBE = "MANUAL_BE"
	LabelAnchor   = "ANCHOR"
	LabelSet      = "SET"
)

// TrailLadder 고정 다단계 트레일링 설정 (단위: points, offset은 ticks)
type TrailLadder struct {
	BreakevenTrigger     float64 `json:"be_trigger" yaml:"be_trigger"`
	BreakevenOffsetTicks int     `json:"be_offset_ticks" yaml:"be_offset_ticks"`

	Trail1Trigger  float64 `json:"trail1_trigger" yaml:"trail1_trigger"`
	Trail1Distance float64 `json:"trail1_distance" yaml:"trail1_distance"`

	// T2 단계는 T1 목표 체결 후에만
	Trail2Trigger  float64 `json:"trail2_trigger" yaml:"trail2_trigger"`
	Trail2Distance float64 `json:"trail2_distance" yaml:"trail2_distance"`

	// T3 단계는 T1, T2 목표 체결 후에만
	Trail3Trigger  float64 `json:"trail3_trigger" yaml:"trail3_trigger"`
	Trail3Distance float64 `json:"trail3_distance" yaml:"trail3_distance"`
}

// DefaultTrailLadder 기본 트레일링 설정 반환
func DefaultTrailLadder() TrailLadder {
	return TrailLadder{
		BreakevenTrigger:     2.0,
		BreakevenOffsetTicks: 1,

		Trail1Trigger:  3.0,
		Trail1Distance: 2.0,

		Trail2Trigger:  4.0,
		Trail2Distance: 1.5,

		Trail3Trigger:  5.0,
		Trail3Distance: 1.0,
	}
}

// AnchorRule 지표 기준 트레일링 (phase 1: 고정, phase 2: indicator ∓ ATR×multiplier)
type AnchorRule struct {
	Indicator            IndicatorKind `json:"indicator" yaml:"indicator"`
	Period               int           `json:"period" yaml:"period"`
	VolatilityPeriod     int           `json:"volatility_period" yaml:"volatility_period"`
	VolatilityMultiplier float64       `json:"volatility_multiplier" yaml:"volatility_multiplier"`
	RequireCross         bool          `json:"require_cross" yaml:"require_cross"` // false = 즉시 phase 2
}
