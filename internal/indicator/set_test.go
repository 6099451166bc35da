package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/pkg/logger"
)

var _ contracts.IndicatorSource = (*Set)(nil)

func closes(s *Set, cs ...float64) {
	for _, c := range cs {
		s.AddBar(Bar{Open: c, High: c, Low: c, Close: c})
	}
}

func newSet(t *testing.T, specs ...Spec) *Set {
	t.Helper()
	s, err := New(time.Minute, specs, logger.Nop())
	require.NoError(t, err)
	return s
}

func TestEMA_SeedsWithSMA(t *testing.T) {
	s := newSet(t, Spec{contracts.IndicatorEMA, 3})

	closes(s, 1, 2)
	_, ok := s.LatestValue(contracts.IndicatorEMA, 3)
	assert.False(t, ok)

	closes(s, 3)
	v, ok := s.LatestValue(contracts.IndicatorEMA, 3)
	require.True(t, ok)
	assert.InDelta(t, 2.0, v, 1e-9)

	closes(s, 4)
	v, _ = s.LatestValue(contracts.IndicatorEMA, 3)
	assert.InDelta(t, 3.0, v, 1e-9)
}

func TestATR_WilderTrueRange(t *testing.T) {
	s := newSet(t, Spec{contracts.IndicatorATR, 2})

	s.AddBar(Bar{Open: 9, High: 10, Low: 8, Close: 9})
	_, ok := s.LatestValue(contracts.IndicatorATR, 2)
	assert.False(t, ok)

	s.AddBar(Bar{Open: 9, High: 11, Low: 9, Close: 10})
	v, ok := s.LatestValue(contracts.IndicatorATR, 2)
	require.True(t, ok)
	assert.InDelta(t, 2.0, v, 1e-9)

	s.AddBar(Bar{Open: 10, High: 14, Low: 10, Close: 13})
	v, _ = s.LatestValue(contracts.IndicatorATR, 2)
	assert.InDelta(t, 3.0, v, 1e-9)

	// 갭: prev close 기준 true range
	s.AddBar(Bar{Open: 5, High: 5, Low: 4, Close: 4.5})
	v, _ = s.LatestValue(contracts.IndicatorATR, 2)
	assert.InDelta(t, (3.0+9.0)/2, v, 1e-9)
}

func TestRSI(t *testing.T) {
	s := newSet(t, Spec{contracts.IndicatorRSI, 2})

	closes(s, 10, 11)
	_, ok := s.LatestValue(contracts.IndicatorRSI, 2)
	assert.False(t, ok)

	closes(s, 12)
	v, ok := s.LatestValue(contracts.IndicatorRSI, 2)
	require.True(t, ok)
	assert.InDelta(t, 100.0, v, 1e-9)

	closes(s, 11)
	v, _ = s.LatestValue(contracts.IndicatorRSI, 2)
	assert.InDelta(t, 50.0, v, 1e-9)
}

func TestSet_AggregatesTicks(t *testing.T) {
	s := newSet(t, Spec{contracts.IndicatorEMA, 1}, Spec{contracts.IndicatorATR, 1})
	base := time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC)

	s.OnTick(100, base.Add(5*time.Second))
	s.OnTick(102, base.Add(30*time.Second))
	s.OnTick(99, base.Add(50*time.Second))
	assert.Equal(t, 0, s.Bars(), "bar closes on the next interval")

	s.OnTick(101, base.Add(70*time.Second))
	assert.Equal(t, 1, s.Bars())

	v, ok := s.LatestValue(contracts.IndicatorEMA, 1)
	require.True(t, ok)
	assert.Equal(t, 99.0, v)

	v, ok = s.LatestValue(contracts.IndicatorATR, 1)
	require.True(t, ok)
	assert.Equal(t, 3.0, v)
}

func TestSet_UnregisteredSeries(t *testing.T) {
	s := newSet(t, Spec{contracts.IndicatorEMA, 9})
	closes(s, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)

	_, ok := s.LatestValue(contracts.IndicatorEMA, 15)
	assert.False(t, ok)
	_, ok = s.LatestValue(contracts.IndicatorATR, 9)
	assert.False(t, ok)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(0, nil, logger.Nop())
	assert.Error(t, err)

	_, err = New(time.Minute, []Spec{{contracts.IndicatorEMA, 0}}, logger.Nop())
	assert.Error(t, err)

	_, err = New(time.Minute, []Spec{{"VWAP", 10}}, logger.Nop())
	assert.Error(t, err)

	s, err := New(time.Minute, []Spec{{contracts.IndicatorEMA, 9}, {contracts.IndicatorEMA, 9}}, logger.Nop())
	require.NoError(t, err)
	assert.Len(t, s.series, 1)
}
