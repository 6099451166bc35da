package risk

// =============================================================================
// Sizing Config
// =============================================================================

// SizingConfig 포지션 사이징 입력 (달러 리스크 기준)
// ⭐ SSOT: 손절 폭이 StopThreshold 초과 시 ReducedRisk 사용 (넓은 손절 = 작은 리스크)
type SizingConfig struct {
	Risk          float64 `json:"risk" yaml:"risk"`                     // per-trade $ risk
	ReducedRisk   float64 `json:"reduced_risk" yaml:"reduced_risk"`     // $ risk when stop is wide
	StopThreshold float64 `json:"stop_threshold" yaml:"stop_threshold"` // points
	PointValue    float64 `json:"point_value" yaml:"point_value"`       // $ per point per contract
	MinContracts  int     `json:"min_contracts" yaml:"min_contracts"`
	MaxContracts  int     `json:"max_contracts" yaml:"max_contracts"`
}

// SplitConfig 5계약 이상일 때 목표별 비율 (%)
type SplitConfig struct {
	T1Pct     float64 `json:"t1_pct" yaml:"t1_pct"`
	T2Pct     float64 `json:"t2_pct" yaml:"t2_pct"`
	T3Pct     float64 `json:"t3_pct" yaml:"t3_pct"`
	RunnerPct float64 `json:"runner_pct" yaml:"runner_pct"` // 참고용, runner = 나머지
}

// DefaultSplit 20/30/30/20
func DefaultSplit() SplitConfig {
	return SplitConfig{T1Pct: 20, T2Pct: 30, T3Pct: 30, RunnerPct: 20}
}

// Sum returns the sum of all percentages
func (s SplitConfig) Sum() float64 {
	return s.T1Pct + s.T2Pct + s.T3Pct + s.RunnerPct
}
