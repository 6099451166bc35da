package strategyconfig

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/internal/risk"
	"github.com/wonny/orbit/internal/strategy"
)

// ValidationError 검증 실패 (프로그램 중단)
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Warning 권장 위반 (경고만)
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var hhmm = regexp.MustCompile(`^\d{2}:\d{2}$`)

// Validate checks all required constraints
// 실패 시 error 반환 (프로그램 중단)
func Validate(cfg *Config) error {
	// === Meta ===
	if cfg.Meta.StrategyID == "" {
		return ValidationError{"meta.strategy_id", "required"}
	}

	// === Instrument ===
	inst := cfg.Instrument
	if inst.Symbol == "" {
		return ValidationError{"instrument.symbol", "required"}
	}
	if inst.TickSize <= 0 {
		return ValidationError{"instrument.tick_size", "must be > 0"}
	}
	if inst.PointValue <= 0 {
		return ValidationError{"instrument.point_value", "must be > 0"}
	}
	if err := validateContractRange(inst.MinContracts, inst.MaxContracts, "instrument"); err != nil {
		return err
	}

	// === Session ===
	if err := validateHHMM(cfg.Session.Start); err != nil {
		return ValidationError{"session.start", err.Error()}
	}
	if err := validateHHMM(cfg.Session.End); err != nil {
		return ValidationError{"session.end", err.Error()}
	}
	if cfg.Session.RangeMinutes <= 0 {
		return ValidationError{"session.range_minutes", "must be > 0"}
	}
	if _, err := cfg.Session.Location(); err != nil {
		return ValidationError{"session.timezone", err.Error()}
	}

	// === Risk ===
	if err := validateRisk(cfg.Risk, "risk"); err != nil {
		return err
	}
	if err := validateSplit(cfg.Split, "split"); err != nil {
		return err
	}

	// === Entries ===
	if err := validateEntries(cfg.Entries); err != nil {
		return err
	}

	// === Ladder ===
	if err := validateLadder(cfg.Ladder, "ladder"); err != nil {
		return err
	}

	if cfg.ManualBreakeven.BufferTicks < 0 {
		return ValidationError{"manual_breakeven.buffer_ticks", "must be >= 0"}
	}
	if cfg.Bracket.MinStopDistanceTicks < 0 {
		return ValidationError{"bracket.min_stop_distance_ticks", "must be >= 0"}
	}
	if cfg.Indicators.BarSeconds <= 0 {
		return ValidationError{"indicators.bar_seconds", "must be > 0"}
	}

	// === Follower ===
	f := cfg.Follower
	if err := validateRisk(f.Risk, "follower.risk"); err != nil {
		return err
	}
	if err := validateContractRange(f.MinContracts, f.MaxContracts, "follower"); err != nil {
		return err
	}
	if err := validateSplit(f.Split, "follower.split"); err != nil {
		return err
	}
	if !f.UseMasterTrailSettings {
		if err := validateLadder(f.Ladder, "follower.ladder"); err != nil {
			return err
		}
	}

	return nil
}

// Warn checks recommended constraints (non-fatal)
func Warn(cfg *Config) []Warning {
	var warnings []Warning

	// BE 트리거가 offset보다 작으면 BE 직후 stop이 현재가 근처
	beOffset := float64(cfg.Ladder.BreakevenOffsetTicks) * cfg.Instrument.TickSize
	if cfg.Ladder.BreakevenTrigger > 0 && cfg.Ladder.BreakevenTrigger <= beOffset {
		warnings = append(warnings, Warning{
			Code:    "TIGHT_BREAKEVEN",
			Message: "ladder.be_trigger <= be offset: stop lands at the market",
		})
	}

	// trail 거리 >= trigger 이면 이익 보존 안 됨
	steps := []struct {
		name              string
		trigger, distance float64
	}{
		{"trail1", cfg.Ladder.Trail1Trigger, cfg.Ladder.Trail1Distance},
		{"trail2", cfg.Ladder.Trail2Trigger, cfg.Ladder.Trail2Distance},
		{"trail3", cfg.Ladder.Trail3Trigger, cfg.Ladder.Trail3Distance},
	}
	for _, s := range steps {
		if s.trigger > 0 && s.distance >= s.trigger {
			warnings = append(warnings, Warning{
				Code:    "TRAIL_BELOW_ENTRY",
				Message: fmt.Sprintf("ladder.%s_distance >= trigger: stop stays behind entry", s.name),
			})
		}
	}

	// runner 비율은 참고값, 실제 runner = 나머지
	if cfg.Split.RunnerPct > 0 && math.Abs(cfg.Split.Sum()-100) > 1e-6 {
		warnings = append(warnings, Warning{
			Code:    "SPLIT_NOT_100",
			Message: fmt.Sprintf("split sums to %.1f%%: runner absorbs the difference", cfg.Split.Sum()),
		})
	}

	if cfg.Follower.MaxContracts > cfg.Instrument.MaxContracts {
		warnings = append(warnings, Warning{
			Code:    "FOLLOWER_OVERSIZED",
			Message: "follower.max_contracts exceeds instrument.max_contracts",
		})
	}

	if !cfg.Follower.UseMasterStopSync && cfg.Follower.UseMasterTrailSettings {
		warnings = append(warnings, Warning{
			Code:    "FOLLOWER_INDEPENDENT_TRAIL",
			Message: "follower trails independently with the primary's ladder",
		})
	}

	return warnings
}

// === Helper Functions ===

func validateHHMM(s string) error {
	if !hhmm.MatchString(s) {
		return errors.New("must be HH:MM format")
	}
	_, err := time.Parse("15:04", s)
	return err
}

func validateContractRange(lo, hi int, prefix string) error {
	if lo < 1 {
		return ValidationError{prefix + ".min_contracts", "must be >= 1"}
	}
	if hi < lo {
		return ValidationError{prefix + ".max_contracts", "must be >= min_contracts"}
	}
	return nil
}

func validateRisk(r Risk, prefix string) error {
	if r.PerTrade <= 0 {
		return ValidationError{prefix + ".per_trade", "must be > 0"}
	}
	if r.Reduced <= 0 {
		return ValidationError{prefix + ".reduced", "must be > 0"}
	}
	if r.StopThreshold <= 0 {
		return ValidationError{prefix + ".stop_threshold", "must be > 0"}
	}
	return nil
}

// validateSplit: 각 비율 0~100, T1+T2+T3 <= 100
func validateSplit(s risk.SplitConfig, prefix string) error {
	pcts := map[string]float64{"t1_pct": s.T1Pct, "t2_pct": s.T2Pct, "t3_pct": s.T3Pct, "runner_pct": s.RunnerPct}
	for name, pct := range pcts {
		if pct < 0 || pct > 100 {
			return ValidationError{prefix + "." + name, "must be in range [0, 100]"}
		}
	}
	if s.T1Pct+s.T2Pct+s.T3Pct > 100 {
		return ValidationError{prefix, "t1_pct + t2_pct + t3_pct must be <= 100"}
	}
	return nil
}

func validateEntries(e strategy.Config) error {
	if e.ATRPeriod <= 0 {
		return ValidationError{"entries.atr_period", "must be > 0"}
	}
	if e.BreakoutOffsetTicks < 0 {
		return ValidationError{"entries.breakout_offset_ticks", "must be >= 0"}
	}
	if e.MinimumStop <= 0 {
		return ValidationError{"entries.minimum_stop", "must be > 0"}
	}
	if e.MaximumStop < e.MinimumStop {
		return ValidationError{"entries.maximum_stop", "must be >= minimum_stop"}
	}
	if e.StopMultiplier <= 0 {
		return ValidationError{"entries.stop_multiplier", "must be > 0"}
	}
	if e.Target1Points <= 0 {
		return ValidationError{"entries.target1_points", "must be > 0"}
	}
	if e.Target2Multiplier < 0 || e.Target3Multiplier < e.Target2Multiplier {
		return ValidationError{"entries", "target multipliers must satisfy 0 <= target2 <= target3"}
	}

	for _, m := range []contracts.Mode{contracts.ModePullback, contracts.ModeMomentum, contracts.ModeAnchored, contracts.ModeReversion} {
		rule, _ := e.Rule(m)
		field := fmt.Sprintf("entries.%s", modeKey(m))
		if rule.FixedStop <= 0 && rule.StopATRMultiplier <= 0 {
			return ValidationError{field, "needs fixed_stop or stop_atr_multiplier"}
		}
		if a := rule.Anchor; a != nil {
			if a.Indicator != contracts.IndicatorEMA {
				return ValidationError{field + ".anchor.indicator", "only EMA anchors are supported"}
			}
			if a.Period <= 0 || a.VolatilityPeriod <= 0 {
				return ValidationError{field + ".anchor", "periods must be > 0"}
			}
			if a.VolatilityMultiplier <= 0 {
				return ValidationError{field + ".anchor.volatility_multiplier", "must be > 0"}
			}
		}
	}
	if e.Anchored.Anchor == nil {
		return ValidationError{"entries.anchored.anchor", "required"}
	}
	return nil
}

// validateLadder: 트리거는 오름차순 (0 = 비활성 단계)
func validateLadder(l contracts.TrailLadder, prefix string) error {
	if l.BreakevenOffsetTicks < 0 {
		return ValidationError{prefix + ".be_offset_ticks", "must be >= 0"}
	}

	triggers := []struct {
		field    string
		trigger  float64
		distance float64
	}{
		{"trail1", l.Trail1Trigger, l.Trail1Distance},
		{"trail2", l.Trail2Trigger, l.Trail2Distance},
		{"trail3", l.Trail3Trigger, l.Trail3Distance},
	}

	last := l.BreakevenTrigger
	if last < 0 {
		return ValidationError{prefix + ".be_trigger", "must be >= 0"}
	}
	for _, t := range triggers {
		if t.trigger < 0 {
			return ValidationError{prefix + "." + t.field + "_trigger", "must be >= 0"}
		}
		if t.trigger == 0 {
			continue
		}
		if t.distance <= 0 {
			return ValidationError{prefix + "." + t.field + "_distance", "must be > 0"}
		}
		if t.trigger <= last {
			return ValidationError{prefix + "." + t.field + "_trigger", fmt.Sprintf("must be > %.2f", last)}
		}
		last = t.trigger
	}
	return nil
}

func modeKey(m contracts.Mode) string {
	switch m {
	case contracts.ModePullback:
		return "pullback"
	case contracts.ModeMomentum:
		return "momentum"
	case contracts.ModeAnchored:
		return "anchored"
	case contracts.ModeReversion:
		return "reversion"
	default:
		return string(m)
	}
}
