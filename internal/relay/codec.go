package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wonny/orbit/internal/contracts"
)

// ErrUnknownType is returned when an envelope names no known signal
var ErrUnknownType = errors.New("unknown signal type")

// Envelope is the wire form of a signal
// ⭐ SSOT: {"type": ..., "payload": {...}} 형식은 여기서만
type Envelope struct {
	Type    contracts.SignalType `json:"type"`
	Payload json.RawMessage      `json:"payload"`
}

// Encode serializes a signal into an envelope
func Encode(sig contracts.Signal) ([]byte, error) {
	if sig == nil {
		return nil, fmt.Errorf("encode: nil signal")
	}
	payload, err := json.Marshal(sig)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", sig.Type(), err)
	}
	return json.Marshal(Envelope{Type: sig.Type(), Payload: payload})
}

// Decode parses an envelope back into its concrete signal
func Decode(data []byte) (contracts.Signal, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("decode %s: empty payload", env.Type)
	}

	switch env.Type {
	case contracts.SignalTrade:
		return decodeAs[contracts.TradeSignal](env)
	case contracts.SignalStopUpdate:
		return decodeAs[contracts.StopUpdateSignal](env)
	case contracts.SignalEntryUpdate:
		return decodeAs[contracts.EntryUpdateSignal](env)
	case contracts.SignalOrderCancel:
		return decodeAs[contracts.OrderCancelSignal](env)
	case contracts.SignalFlatten:
		return decodeAs[contracts.FlattenSignal](env)
	case contracts.SignalBreakeven:
		return decodeAs[contracts.BreakevenSignal](env)
	case contracts.SignalTargetAction:
		return decodeAs[contracts.TargetActionSignal](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodeAs[T contracts.Signal](env Envelope) (contracts.Signal, error) {
	var sig T
	if err := json.Unmarshal(env.Payload, &sig); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return sig, nil
}
