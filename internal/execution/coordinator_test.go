package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/pkg/logger"
)

func newTestPosition() *contracts.Position {
	return contracts.NewPosition(longSpec("pos-1", contracts.Slices{T1: 1, T2: 1, T3: 1, Runner: 1}), time.Now())
}

func TestCoordinator_ImmediateWhenNoLiveStop(t *testing.T) {
	gw := newRecordingGateway()
	c := NewStopReplacementCoordinator(gw, NewOrderIndex(), nil, logger.Nop())
	pos := newTestPosition()

	outcome, sub, err := c.RequestReplacement(context.Background(), pos, 4, 98, contracts.LabelSet)
	require.NoError(t, err)
	assert.Equal(t, OutcomeImmediate, outcome)
	require.NotNil(t, sub)
	assert.Equal(t, 98.0, sub.Price)
	assert.Len(t, gw.submits, 1)
	assert.Empty(t, gw.cancels)
}

// Scenario D: two requests before the cancel confirms
func TestCoordinator_CollapsesRapidRequests(t *testing.T) {
	gw := newRecordingGateway()
	index := NewOrderIndex()
	c := NewStopReplacementCoordinator(gw, index, nil, logger.Nop())
	pos := newTestPosition()
	ctx := context.Background()

	_, first, err := c.RequestReplacement(ctx, pos, 4, 98, contracts.LabelSet)
	require.NoError(t, err)

	outcome, _, err := c.RequestReplacement(ctx, pos, 4, 99, contracts.LevelLabel(contracts.LevelBreakeven))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, outcome)

	outcome, _, err = c.RequestReplacement(ctx, pos, 4, 99.5, contracts.LevelLabel(contracts.LevelTrail1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCollapsed, outcome)

	// cancel은 한 번만
	assert.Equal(t, []contracts.OrderHandle{first.Handle}, gw.cancels)
	assert.Equal(t, 1, c.PendingCount())
	pending, ok := c.Pending(pos.ID)
	require.True(t, ok)
	assert.Equal(t, 99.5, pending.StopPrice)
	assert.True(t, c.IsCancelling(pos.ID, first.Handle))

	// cancel 확인 전에는 live stop 없음
	_, live := index.Live(pos.ID, contracts.RoleStop)
	assert.False(t, live)

	sub, had, err := c.OnStopCancelConfirmed(ctx, pos.ID)
	require.NoError(t, err)
	assert.True(t, had)
	require.NotNil(t, sub)
	assert.Equal(t, 99.5, sub.Price)
	assert.Len(t, gw.submits, 2)
	assert.Equal(t, 99.5, gw.last().StopPrice)
	assert.Equal(t, 0, c.PendingCount())

	h, live := index.Live(pos.ID, contracts.RoleStop)
	assert.True(t, live)
	assert.Equal(t, sub.Handle, h)
}

func TestCoordinator_ZeroQtyCancelsOnly(t *testing.T) {
	gw := newRecordingGateway()
	c := NewStopReplacementCoordinator(gw, NewOrderIndex(), nil, logger.Nop())
	pos := newTestPosition()
	ctx := context.Background()

	_, _, err := c.RequestReplacement(ctx, pos, 4, 98, contracts.LabelSet)
	require.NoError(t, err)

	outcome, _, err := c.RequestReplacement(ctx, pos, 0, 98, contracts.LabelSet)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeferred, outcome)

	sub, had, err := c.OnStopCancelConfirmed(ctx, pos.ID)
	require.NoError(t, err)
	assert.True(t, had)
	assert.Nil(t, sub)
	assert.Len(t, gw.submits, 1)
}

func TestCoordinator_ConfirmWithoutPending(t *testing.T) {
	c := NewStopReplacementCoordinator(newRecordingGateway(), NewOrderIndex(), nil, logger.Nop())

	sub, had, err := c.OnStopCancelConfirmed(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, had)
	assert.Nil(t, sub)
}

func TestCoordinator_NoHandleOnConfirm(t *testing.T) {
	gw := newRecordingGateway()
	c := NewStopReplacementCoordinator(gw, NewOrderIndex(), nil, logger.Nop())
	pos := newTestPosition()
	ctx := context.Background()

	_, _, err := c.RequestReplacement(ctx, pos, 4, 98, contracts.LabelSet)
	require.NoError(t, err)
	_, _, err = c.RequestReplacement(ctx, pos, 3, 98, contracts.LabelSet)
	require.NoError(t, err)

	gw.failNext[contracts.RoleStop] = true
	_, _, err = c.OnStopCancelConfirmed(ctx, pos.ID)
	assert.ErrorIs(t, err, ErrSubmissionFailed)
	assert.Equal(t, 0, c.PendingCount())
}

func TestCoordinator_ClampAppliedAtSubmission(t *testing.T) {
	gw := newRecordingGateway()
	c := NewStopReplacementCoordinator(gw, NewOrderIndex(), nil, logger.Nop())
	c.SetClamp(func(d contracts.Direction, price float64) float64 {
		if price > 99.5 {
			return 99.5
		}
		return price
	})

	_, sub, err := c.RequestReplacement(context.Background(), newTestPosition(), 4, 100.1, contracts.LabelSet)
	require.NoError(t, err)
	assert.Equal(t, 99.5, sub.Price)
}

func TestCoordinator_Forget(t *testing.T) {
	gw := newRecordingGateway()
	c := NewStopReplacementCoordinator(gw, NewOrderIndex(), nil, logger.Nop())
	pos := newTestPosition()
	ctx := context.Background()

	_, _, _ = c.RequestReplacement(ctx, pos, 4, 98, contracts.LabelSet)
	_, _, _ = c.RequestReplacement(ctx, pos, 4, 99, contracts.LabelSet)
	require.Equal(t, 1, c.PendingCount())

	c.Forget(pos.ID)
	assert.Equal(t, 0, c.PendingCount())
	_, ok := c.Pending(pos.ID)
	assert.False(t, ok)
}
