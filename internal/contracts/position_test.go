package contracts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func longSpec() PositionSpec {
	return PositionSpec{
		ID:           "p-1",
		Instrument:   "MES",
		Direction:    Long,
		Mode:         ModePullback,
		EntryType:    OrderTypeLimit,
		EntryPrice:   100,
		StopPrice:    98,
		TargetPrices: [3]float64{101, 102, 104},
		Slices:       Slices{T1: 1, T2: 1, T3: 1, Runner: 1},
		Ladder:       DefaultTrailLadder(),
	}
}

func TestPositionSpec_Validate(t *testing.T) {
	require.NoError(t, longSpec().Validate())

	bad := longSpec()
	bad.StopPrice = 101
	assert.Error(t, bad.Validate(), "long stop above entry")

	bad = longSpec()
	bad.Slices = Slices{}
	assert.Error(t, bad.Validate(), "no contracts")

	bad = longSpec()
	bad.Direction = "SIDEWAYS"
	assert.Error(t, bad.Validate())
}

func TestNewPosition(t *testing.T) {
	p := NewPosition(longSpec(), time.Now())

	assert.Equal(t, PositionPendingEntry, p.State)
	assert.Equal(t, 4, p.TotalContracts)
	assert.Equal(t, 4, p.RemainingContracts)
	assert.Equal(t, 1, p.RunnerContracts)
	assert.InDelta(t, 2.0, p.StopDistance, 1e-9)
	assert.Equal(t, [3]float64{1, 2, 4}, p.TargetDistances)
	assert.NoError(t, p.CheckInvariant())
}

func TestPosition_ReanchorOnFill(t *testing.T) {
	p := NewPosition(longSpec(), time.Now())

	assert.False(t, p.ReanchorOnFill(100), "no slippage")
	require.True(t, p.ReanchorOnFill(100.5))

	assert.InDelta(t, 98.5, p.CurrentStopPrice, 1e-9)
	assert.InDelta(t, 101.5, p.Targets[0].Price, 1e-9)
	assert.InDelta(t, 104.5, p.Targets[2].Price, 1e-9)
	assert.InDelta(t, 100.0, p.IntendedEntryPrice, 1e-9)
}

func TestPosition_ImprovesShort(t *testing.T) {
	spec := longSpec()
	spec.Direction = Short
	spec.StopPrice = 102
	spec.TargetPrices = [3]float64{99, 98, 96}
	p := NewPosition(spec, time.Now())

	assert.True(t, p.Improves(101.5))
	assert.False(t, p.Improves(102.25))
	assert.InDelta(t, 1.0, p.Profit(99), 1e-9)

	p.TrackExtreme(99)
	p.TrackExtreme(99.5)
	assert.InDelta(t, 99.0, p.ExtremePriceSinceEntry, 1e-9)
}

func TestPosition_CheckInvariant(t *testing.T) {
	p := NewPosition(longSpec(), time.Now())

	p.Targets[0].FilledQty = 1
	assert.Error(t, p.CheckInvariant(), "remaining not decremented")

	p.RemainingContracts = 3
	assert.NoError(t, p.CheckInvariant())

	p.RemainingContracts = -1
	assert.Error(t, p.CheckInvariant())
}

func TestPosition_TargetsFilled(t *testing.T) {
	spec := longSpec()
	spec.Slices = Slices{T1: 1, T2: 0, T3: 0, Runner: 1}
	p := NewPosition(spec, time.Now())

	assert.False(t, p.TargetsFilled(1))
	p.Targets[0].Filled = true
	assert.True(t, p.TargetsFilled(2), "empty T2 counts as done")
}
