package contracts

import "time"

// =============================================================================
// Copy-trading signals (primary → followers)
// ⭐ SSOT: 시그널 타입과 wire 필드는 여기서만 정의
// =============================================================================

// SignalType identifies a signal on the bus and on the wire
type SignalType string

const (
	SignalTrade        SignalType = "TRADE"
	SignalStopUpdate   SignalType = "STOP_UPDATE"
	SignalEntryUpdate  SignalType = "ENTRY_UPDATE"
	SignalOrderCancel  SignalType = "ORDER_CANCEL"
	SignalFlatten      SignalType = "FLATTEN"
	SignalBreakeven    SignalType = "BREAKEVEN"
	SignalTargetAction SignalType = "TARGET_ACTION"
)

// SignalTypes lists every signal type
var SignalTypes = []SignalType{
	SignalTrade, SignalStopUpdate, SignalEntryUpdate, SignalOrderCancel,
	SignalFlatten, SignalBreakeven, SignalTargetAction,
}

// Signal is an immutable lifecycle event
// WithTimestamp는 복사본을 반환 (원본 불변)
type Signal interface {
	Type() SignalType
	Timestamp() time.Time
	WithTimestamp(t time.Time) Signal
}

// TradeSignal is a full bracket snapshot for a new entry
type TradeSignal struct {
	SignalID     string      `json:"signal_id"`
	Instrument   string      `json:"instrument"`
	Direction    Direction   `json:"direction"`
	Mode         Mode        `json:"mode"`
	EntryType    OrderType   `json:"entry_type"`
	EntryPrice   float64     `json:"entry_price"`
	StopPrice    float64     `json:"stop_price"`
	Target1Price float64     `json:"target1_price"`
	Target2Price float64     `json:"target2_price"`
	Target3Price float64     `json:"target3_price"`
	T1Contracts  int         `json:"t1_contracts"`
	T2Contracts  int         `json:"t2_contracts"`
	T3Contracts  int         `json:"t3_contracts"`
	T4Contracts  int         `json:"t4_contracts"` // runner
	SessionRange float64     `json:"session_range"`
	CurrentATR   float64     `json:"current_atr"`
	Ladder       TrailLadder `json:"ladder"`
	Anchor       *AnchorRule `json:"anchor,omitempty"`
	At           time.Time   `json:"timestamp"`
}

func (s TradeSignal) Type() SignalType     { return SignalTrade }
func (s TradeSignal) Timestamp() time.Time { return s.At }
func (s TradeSignal) WithTimestamp(t time.Time) Signal {
	s.At = t
	return s
}

// TargetPrices returns T1..T3 in ladder order
func (s TradeSignal) TargetPrices() [3]float64 {
	return [3]float64{s.Target1Price, s.Target2Price, s.Target3Price}
}

// StopDistance returns |entry - stop|
func (s TradeSignal) StopDistance() float64 {
	d := s.EntryPrice - s.StopPrice
	if d < 0 {
		return -d
	}
	return d
}

// StopUpdateSignal is broadcast whenever the primary moves a stop
type StopUpdateSignal struct {
	SignalID  string    `json:"signal_id"`
	StopPrice float64   `json:"stop_price"`
	Level     string    `json:"level"`
	At        time.Time `json:"timestamp"`
}

func (s StopUpdateSignal) Type() SignalType     { return SignalStopUpdate }
func (s StopUpdateSignal) Timestamp() time.Time { return s.At }
func (s StopUpdateSignal) WithTimestamp(t time.Time) Signal {
	s.At = t
	return s
}

// EntryUpdateSignal is broadcast when a pending entry is repriced
type EntryUpdateSignal struct {
	SignalID   string    `json:"signal_id"`
	EntryPrice float64   `json:"entry_price"`
	At         time.Time `json:"timestamp"`
}

func (s EntryUpdateSignal) Type() SignalType     { return SignalEntryUpdate }
func (s EntryUpdateSignal) Timestamp() time.Time { return s.At }
func (s EntryUpdateSignal) WithTimestamp(t time.Time) Signal {
	s.At = t
	return s
}

// OrderCancelSignal is broadcast when a pending entry is cancelled
type OrderCancelSignal struct {
	SignalID string    `json:"signal_id"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"timestamp"`
}

func (s OrderCancelSignal) Type() SignalType     { return SignalOrderCancel }
func (s OrderCancelSignal) Timestamp() time.Time { return s.At }
func (s OrderCancelSignal) WithTimestamp(t time.Time) Signal {
	s.At = t
	return s
}

// FlattenSignal closes everything
type FlattenSignal struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"timestamp"`
}

func (s FlattenSignal) Type() SignalType     { return SignalFlatten }
func (s FlattenSignal) Timestamp() time.Time { return s.At }
func (s FlattenSignal) WithTimestamp(t time.Time) Signal {
	s.At = t
	return s
}

// BreakevenSignal moves one position (or all when SignalID is empty) to breakeven
type BreakevenSignal struct {
	SignalID string    `json:"signal_id,omitempty"`
	At       time.Time `json:"timestamp"`
}

func (s BreakevenSignal) Type() SignalType     { return SignalBreakeven }
func (s BreakevenSignal) Timestamp() time.Time { return s.At }
func (s BreakevenSignal) WithTimestamp(t time.Time) Signal {
	s.At = t
	return s
}

// TargetSlot names a target leg for actions
type TargetSlot string

const (
	SlotT1     TargetSlot = "T1"
	SlotT2     TargetSlot = "T2"
	SlotT3     TargetSlot = "T3"
	SlotRunner TargetSlot = "RUNNER"
)

// Index returns 0..2 for fixed targets, -1 for the runner
func (s TargetSlot) Index() int {
	switch s {
	case SlotT1:
		return 0
	case SlotT2:
		return 1
	case SlotT3:
		return 2
	default:
		return -1
	}
}

// TargetActionKind is the broadcast form of a target/runner action
type TargetActionKind string

const (
	ActionFillAtMarket    TargetActionKind = "FILL_AT_MARKET"
	ActionMoveToBreakeven TargetActionKind = "MOVE_TO_BREAKEVEN"
	ActionMoveStopToEntry TargetActionKind = "MOVE_STOP_TO_ENTRY"
	ActionCancelTarget    TargetActionKind = "CANCEL_TARGET"
)

// TargetActionSignal mirrors a manual target action
type TargetActionSignal struct {
	SignalID string           `json:"signal_id"`
	Slot     TargetSlot       `json:"slot"`
	Action   TargetActionKind `json:"action"`
	At       time.Time        `json:"timestamp"`
}

func (s TargetActionSignal) Type() SignalType     { return SignalTargetAction }
func (s TargetActionSignal) Timestamp() time.Time { return s.At }
func (s TargetActionSignal) WithTimestamp(t time.Time) Signal {
	s.At = t
	return s
}
