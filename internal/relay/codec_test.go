package relay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/orbit/internal/contracts"
)

func TestEncode_EnvelopeShape(t *testing.T) {
	data, err := Encode(contracts.StopUpdateSignal{SignalID: "p-1", StopPrice: 100.25, Level: "BE"})
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Len(t, raw, 2)
	assert.JSONEq(t, `"STOP_UPDATE"`, string(raw["type"]))

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(raw["payload"], &payload))
	assert.Equal(t, "p-1", payload["signal_id"])
	assert.Equal(t, 100.25, payload["stop_price"])
	assert.Equal(t, "BE", payload["level"])
}

func TestDecode_TradeSignal(t *testing.T) {
	at := time.Date(2026, 3, 2, 14, 31, 0, 0, time.UTC)
	in := contracts.TradeSignal{
		SignalID:     "p-1",
		Instrument:   "MES",
		Direction:    contracts.Long,
		Mode:         contracts.ModeBreakout,
		EntryType:    contracts.OrderTypeStopMarket,
		EntryPrice:   5001.25,
		StopPrice:    4999.25,
		Target1Price: 5002.25,
		Target2Price: 5003.25,
		Target3Price: 5005.25,
		T1Contracts:  4,
		T2Contracts:  6,
		T3Contracts:  6,
		T4Contracts:  4,
		SessionRange: 8,
		CurrentATR:   4,
		Ladder:       contracts.DefaultTrailLadder(),
		At:           at,
	}

	data, err := Encode(in)
	require.NoError(t, err)
	sig, err := Decode(data)
	require.NoError(t, err)

	out, ok := sig.(contracts.TradeSignal)
	require.True(t, ok, "decoded %T", sig)
	assert.True(t, out.At.Equal(at))
	out.At = at
	assert.Equal(t, in, out)
}

func TestDecode_EveryType(t *testing.T) {
	signals := []contracts.Signal{
		contracts.TradeSignal{SignalID: "a"},
		contracts.StopUpdateSignal{SignalID: "a", StopPrice: 1},
		contracts.EntryUpdateSignal{SignalID: "a", EntryPrice: 2},
		contracts.OrderCancelSignal{SignalID: "a", Reason: "manual"},
		contracts.FlattenSignal{Reason: "session end"},
		contracts.BreakevenSignal{},
		contracts.TargetActionSignal{SignalID: "a", Slot: contracts.SlotRunner, Action: contracts.ActionMoveStopToEntry},
	}
	require.Len(t, signals, len(contracts.SignalTypes))

	for _, in := range signals {
		t.Run(string(in.Type()), func(t *testing.T) {
			data, err := Encode(in)
			require.NoError(t, err)
			out, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, in.Type(), out.Type())
			assert.IsType(t, in, out)
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		unknown bool
	}{
		{name: "not json", data: `nope`},
		{name: "missing payload", data: `{"type":"FLATTEN"}`},
		{name: "bad payload", data: `{"type":"STOP_UPDATE","payload":{"stop_price":"high"}}`},
		{name: "unknown type", data: `{"type":"HEARTBEAT","payload":{}}`, unknown: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			require.Error(t, err)
			if tt.unknown {
				assert.ErrorIs(t, err, ErrUnknownType)
			}
		})
	}
}

func TestEncode_Nil(t *testing.T) {
	_, err := Encode(nil)
	assert.Error(t, err)
}
