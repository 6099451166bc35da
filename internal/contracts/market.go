package contracts

import "time"

// Direction represents the side of a position
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Sign returns +1 for Long, -1 for Short
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// Valid checks the direction value
func (d Direction) Valid() bool {
	return d == Long || d == Short
}

// Mode governs entry construction and which trailing rule applies
type Mode string

const (
	ModeBreakout  Mode = "BREAKOUT"  // opening range breakout
	ModePullback  Mode = "PULLBACK"  // limit pullback
	ModeAnchored  Mode = "ANCHORED"  // indicator-anchored trend
	ModeMomentum  Mode = "MOMENTUM"  // momentum stop entry
	ModeReversion Mode = "REVERSION" // mean reversion
)

// Modes lists every entry mode
var Modes = []Mode{ModeBreakout, ModePullback, ModeAnchored, ModeMomentum, ModeReversion}

// IndicatorRelative reports whether stop/targets re-anchor on the actual fill price
func (m Mode) IndicatorRelative() bool {
	return m != ModeBreakout
}

// Tick is a single last-price update
type Tick struct {
	Instrument string    `json:"instrument"`
	Price      float64   `json:"price"`
	Time       time.Time `json:"time"`
}

// SessionRange is the opening range supplied by the session detector
type SessionRange struct {
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Complete bool    `json:"complete"`
}

// Width returns High - Low, or 0 until complete
func (r SessionRange) Width() float64 {
	if !r.Complete {
		return 0
	}
	return r.High - r.Low
}

// IndicatorKind names a black-box indicator series
type IndicatorKind string

const (
	IndicatorATR IndicatorKind = "ATR"
	IndicatorEMA IndicatorKind = "EMA"
	IndicatorRSI IndicatorKind = "RSI"
)

// IndicatorSource provides the latest indicator values
// ok=false 이면 아직 warm-up 전
type IndicatorSource interface {
	LatestValue(kind IndicatorKind, period int) (float64, bool)
}

// RangeSource provides the current session range
type RangeSource interface {
	Range() SessionRange
}
