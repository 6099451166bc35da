package strategy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/internal/risk"
	"github.com/wonny/orbit/pkg/logger"
)

type indicatorKey struct {
	kind   contracts.IndicatorKind
	period int
}

type fixedIndicators map[indicatorKey]float64

func (f fixedIndicators) LatestValue(kind contracts.IndicatorKind, period int) (float64, bool) {
	v, ok := f[indicatorKey{kind, period}]
	return v, ok
}

type fixedRange contracts.SessionRange

func (r fixedRange) Range() contracts.SessionRange { return contracts.SessionRange(r) }

func roundQuarter(price float64) float64 { return math.Round(price/0.25) * 0.25 }

func newPlanner(ind fixedIndicators, ranges contracts.RangeSource) *Planner {
	sizer := risk.NewSizer(risk.SizingConfig{
		Risk:          200,
		ReducedRisk:   200,
		StopThreshold: 5,
		PointValue:    5,
		MinContracts:  1,
		MaxContracts:  30,
	}, risk.DefaultSplit())
	return NewPlanner(DefaultConfig(), contracts.DefaultTrailLadder(), sizer, ind, ranges, 0.25, roundQuarter, logger.Nop())
}

func atr(v float64) fixedIndicators {
	return fixedIndicators{{contracts.IndicatorATR, 14}: v}
}

func TestPlanner_Breakout(t *testing.T) {
	p := newPlanner(atr(4), fixedRange{High: 104, Low: 100, Complete: true})

	spec, err := p.Plan(Request{Instrument: "MES", Mode: contracts.ModeBreakout, Direction: contracts.Long, Last: 104})
	require.NoError(t, err)

	assert.NotEmpty(t, spec.ID)
	assert.Equal(t, "MES", spec.Instrument)
	assert.Equal(t, contracts.OrderTypeStopMarket, spec.EntryType)
	assert.Equal(t, 104.75, spec.EntryPrice)
	assert.Equal(t, 102.75, spec.StopPrice)
	assert.Equal(t, [3]float64{105.75, 106.75, 108.75}, spec.TargetPrices)
	assert.Equal(t, contracts.Slices{T1: 4, T2: 6, T3: 6, Runner: 4}, spec.Slices)
	assert.Nil(t, spec.Anchor)
	assert.Equal(t, contracts.DefaultTrailLadder(), spec.Ladder)
}

func TestPlanner_BreakoutBlocked(t *testing.T) {
	t.Run("range incomplete", func(t *testing.T) {
		p := newPlanner(atr(4), fixedRange{High: 104, Low: 100})
		_, err := p.Plan(Request{Mode: contracts.ModeBreakout, Direction: contracts.Long, Last: 104})
		assert.ErrorIs(t, err, ErrRangeNotReady)
	})

	t.Run("through the market", func(t *testing.T) {
		p := newPlanner(atr(4), fixedRange{High: 104, Low: 100, Complete: true})
		_, err := p.Plan(Request{Mode: contracts.ModeBreakout, Direction: contracts.Long, Last: 105})
		assert.ErrorIs(t, err, ErrThroughMarket)
	})

	t.Run("short below the range", func(t *testing.T) {
		p := newPlanner(atr(4), fixedRange{High: 104, Low: 100, Complete: true})
		spec, err := p.Plan(Request{Mode: contracts.ModeBreakout, Direction: contracts.Short, Last: 100.5})
		require.NoError(t, err)
		assert.Equal(t, 99.25, spec.EntryPrice)
		assert.Equal(t, 101.25, spec.StopPrice)
	})
}

func TestPlanner_PullbackShort(t *testing.T) {
	p := newPlanner(atr(4), nil)

	spec, err := p.Plan(Request{Mode: contracts.ModePullback, Direction: contracts.Short, Price: 100, Last: 99.5})
	require.NoError(t, err)

	assert.Equal(t, contracts.OrderTypeLimit, spec.EntryType)
	assert.Equal(t, 100.0, spec.EntryPrice)
	assert.Equal(t, 104.5, spec.StopPrice)
	assert.Equal(t, [3]float64{99, 98, 96}, spec.TargetPrices)
	assert.Equal(t, contracts.Slices{T1: 1, T2: 2, T3: 2, Runner: 3}, spec.Slices)
	require.NotNil(t, spec.Anchor)
	assert.Equal(t, 9, spec.Anchor.Period)
	assert.True(t, spec.Anchor.RequireCross)
}

func TestPlanner_Momentum(t *testing.T) {
	p := newPlanner(atr(4), nil)

	spec, err := p.Plan(Request{Mode: contracts.ModeMomentum, Direction: contracts.Long, Price: 105, Last: 104})
	require.NoError(t, err)
	assert.Equal(t, contracts.OrderTypeStopMarket, spec.EntryType)
	assert.Equal(t, 104.5, spec.StopPrice)
	assert.Equal(t, [3]float64{106, 107, 109}, spec.TargetPrices)
	assert.Equal(t, 30, spec.Slices.Total())

	_, err = p.Plan(Request{Mode: contracts.ModeMomentum, Direction: contracts.Long, Price: 103, Last: 104})
	assert.ErrorIs(t, err, ErrThroughMarket)
}

func TestPlanner_Anchored(t *testing.T) {
	ind := atr(2)
	ind[indicatorKey{contracts.IndicatorEMA, 15}] = 108
	p := newPlanner(ind, nil)

	spec, err := p.Plan(Request{Mode: contracts.ModeAnchored, Direction: contracts.Long, Last: 110})
	require.NoError(t, err)
	assert.Equal(t, contracts.OrderTypeMarket, spec.EntryType)
	assert.Equal(t, 110.0, spec.EntryPrice)
	assert.Equal(t, 105.75, spec.StopPrice)
	require.NotNil(t, spec.Anchor)
	assert.False(t, spec.Anchor.RequireCross)

	_, err = newPlanner(atr(2), nil).Plan(Request{Mode: contracts.ModeAnchored, Direction: contracts.Long, Last: 110})
	assert.ErrorIs(t, err, ErrIndicatorNotReady)
}

func TestPlanner_Directional(t *testing.T) {
	p := newPlanner(atr(4), nil)

	spec, err := p.Directional(Request{ID: "remote-1", Direction: contracts.Short, Last: 100})
	require.NoError(t, err)
	assert.Equal(t, "remote-1", spec.ID)
	assert.Equal(t, contracts.ModeBreakout, spec.Mode)
	assert.Equal(t, contracts.OrderTypeMarket, spec.EntryType)
	assert.Equal(t, 102.0, spec.StopPrice)
	assert.Equal(t, [3]float64{99, 98, 96}, spec.TargetPrices)

	_, err = p.Directional(Request{Direction: contracts.Long})
	assert.ErrorIs(t, err, ErrNoMarket)
}

func TestPlanner_Errors(t *testing.T) {
	p := newPlanner(fixedIndicators{}, nil)

	_, err := p.Plan(Request{Mode: "SCALP", Direction: contracts.Long, Last: 100})
	assert.ErrorIs(t, err, ErrUnknownMode)

	_, err = p.Plan(Request{Mode: contracts.ModePullback, Direction: contracts.Long, Price: 100})
	assert.ErrorIs(t, err, ErrIndicatorNotReady)

	_, err = p.Plan(Request{Mode: contracts.ModePullback, Direction: "UP", Price: 100})
	assert.Error(t, err)
}

func TestPlanner_Readiness(t *testing.T) {
	assert.Len(t, newPlanner(fixedIndicators{}, fixedRange{}).Readiness(), 2)
	assert.Empty(t, newPlanner(atr(1), fixedRange{Complete: true}).Readiness())
}
