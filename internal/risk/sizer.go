package risk

import (
	"math"

	"github.com/wonny/orbit/internal/contracts"
)

// Sizer converts stop distance into contracts and target slices
// 순수 계산기 (상태 없음)
type Sizer struct {
	sizing SizingConfig
	split  SplitConfig
}

// NewSizer creates a sizer
func NewSizer(sizing SizingConfig, split SplitConfig) *Sizer {
	return &Sizer{sizing: sizing, split: split}
}

// Config returns the sizing inputs
func (s *Sizer) Config() SizingConfig {
	return s.sizing
}

// RiskFor returns the dollar budget for a stop distance
func (s *Sizer) RiskFor(distance float64) float64 {
	if distance > s.sizing.StopThreshold {
		return s.sizing.ReducedRisk
	}
	return s.sizing.Risk
}

// Contracts returns floor(risk / (distance × pointValue)) clamped to [min, max]
func (s *Sizer) Contracts(distance float64) int {
	if distance <= 0 || s.sizing.PointValue <= 0 {
		return s.sizing.MinContracts
	}

	n := int(math.Floor(s.RiskFor(distance) / (distance * s.sizing.PointValue)))
	return clamp(n, s.sizing.MinContracts, s.sizing.MaxContracts)
}

// Split divides n contracts into T1/T2/T3/runner
//   1 → runner only, 2 → T1+runner, 3 → T1+T2+runner, 4 → one each
//   5+ → floor by percent, remainder to runner, each tier at least 1
func (s *Sizer) Split(n int) contracts.Slices {
	switch {
	case n <= 0:
		return contracts.Slices{}
	case n == 1:
		return contracts.Slices{Runner: 1}
	case n == 2:
		return contracts.Slices{T1: 1, Runner: 1}
	case n == 3:
		return contracts.Slices{T1: 1, T2: 1, Runner: 1}
	case n == 4:
		return contracts.Slices{T1: 1, T2: 1, T3: 1, Runner: 1}
	}

	total := float64(n)
	t1 := int(math.Floor(total * s.split.T1Pct / 100))
	t2 := int(math.Floor(total * s.split.T2Pct / 100))
	t3 := int(math.Floor(total * s.split.T3Pct / 100))

	// floor-of-1 per tier, runner absorbs the difference
	if t1 < 1 {
		t1 = 1
	}
	if t2 < 1 {
		t2 = 1
	}
	if t3 < 1 {
		t3 = 1
	}
	runner := n - t1 - t2 - t3
	if runner < 1 {
		// 비율 합이 100을 넘는 설정: 가장 큰 tier에서 runner 몫을 뺌
		runner = 1
		for t1+t2+t3+runner > n {
			switch {
			case t3 >= t2 && t3 >= t1 && t3 > 1:
				t3--
			case t2 >= t1 && t2 > 1:
				t2--
			case t1 > 1:
				t1--
			default:
				return contracts.Slices{T1: 1, T2: 1, T3: 1, Runner: n - 3}
			}
		}
	}

	return contracts.Slices{T1: t1, T2: t2, T3: t3, Runner: runner}
}

// Size returns contracts and slices for a stop distance
func (s *Sizer) Size(distance float64) contracts.Slices {
	return s.Split(s.Contracts(distance))
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if hi > 0 && n > hi {
		return hi
	}
	return n
}
