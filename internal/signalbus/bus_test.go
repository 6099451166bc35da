package signalbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/pkg/logger"
)

func newTestBus() (*Bus, time.Time) {
	at := time.Date(2026, 3, 2, 14, 31, 0, 0, time.UTC)
	b := New(logger.Nop())
	b.now = func() time.Time { return at }
	return b, at
}

func TestBus_DeliversInOrderAndStamps(t *testing.T) {
	b, at := newTestBus()

	var order []string
	b.Subscribe(contracts.SignalStopUpdate, func(sig contracts.Signal) { order = append(order, "first") })
	b.SubscribeAll(func(sig contracts.Signal) { order = append(order, "all") })
	b.Subscribe(contracts.SignalStopUpdate, func(sig contracts.Signal) {
		order = append(order, "second")
		assert.Equal(t, at, sig.Timestamp())
		assert.Equal(t, 99.5, sig.(contracts.StopUpdateSignal).StopPrice)
	})
	b.Subscribe(contracts.SignalFlatten, func(sig contracts.Signal) { order = append(order, "flatten") })

	original := contracts.StopUpdateSignal{SignalID: "pos-1", StopPrice: 99.5, Level: "BE"}
	n := b.Publish(original)

	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"first", "second", "all"}, order)
	assert.True(t, original.At.IsZero(), "published signal is a stamped copy")
}

func TestBus_PanicIsolated(t *testing.T) {
	b, _ := newTestBus()

	reached := false
	b.Subscribe(contracts.SignalFlatten, func(sig contracts.Signal) { panic("boom") })
	b.Subscribe(contracts.SignalFlatten, func(sig contracts.Signal) { reached = true })

	var n int
	require.NotPanics(t, func() { n = b.Publish(contracts.FlattenSignal{Reason: "test"}) })
	assert.Equal(t, 1, n)
	assert.True(t, reached)
}

func TestBus_Unsubscribe(t *testing.T) {
	b, _ := newTestBus()

	calls := 0
	sub := b.Subscribe(contracts.SignalTrade, func(sig contracts.Signal) { calls++ })
	all := b.SubscribeAll(func(sig contracts.Signal) { calls++ })
	assert.Equal(t, 2, b.Count(contracts.SignalTrade))

	b.Unsubscribe(sub)
	assert.Equal(t, 1, b.Publish(contracts.TradeSignal{SignalID: "x"}))

	b.Unsubscribe(all)
	assert.Equal(t, 0, b.Publish(contracts.TradeSignal{SignalID: "x"}))
	assert.Equal(t, 1, calls)

	// 두 번 해제해도 무시
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.Count(contracts.SignalTrade))
}

func TestBus_HandlerMaySubscribe(t *testing.T) {
	b, _ := newTestBus()

	b.Subscribe(contracts.SignalBreakeven, func(sig contracts.Signal) {
		b.Subscribe(contracts.SignalBreakeven, func(sig contracts.Signal) {})
	})

	assert.Equal(t, 1, b.Publish(contracts.BreakevenSignal{}))
	assert.Equal(t, 2, b.Count(contracts.SignalBreakeven))
}

func TestBus_NilSignal(t *testing.T) {
	b, _ := newTestBus()
	b.SubscribeAll(func(sig contracts.Signal) { t.Fatal("nil signal delivered") })
	assert.Equal(t, 0, b.Publish(nil))
}
