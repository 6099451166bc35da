package contracts

import (
	"fmt"
	"math"
	"time"
)

// PositionState represents the life cycle of a position
type PositionState string

const (
	PositionPendingEntry PositionState = "PENDING_ENTRY"
	PositionOpen         PositionState = "OPEN"
	PositionClosed       PositionState = "CLOSED"
)

// Slices 목표별 계약 수 (T1/T2/T3 + runner)
type Slices struct {
	T1     int `json:"t1"`
	T2     int `json:"t2"`
	T3     int `json:"t3"`
	Runner int `json:"runner"`
}

// Total returns the sum of all slices
func (s Slices) Total() int {
	return s.T1 + s.T2 + s.T3 + s.Runner
}

// Targets returns the fixed-target slices in ladder order
func (s Slices) Targets() [3]int {
	return [3]int{s.T1, s.T2, s.T3}
}

// Target is one fixed profit-target slice
type Target struct {
	Price     float64 `json:"price"`
	Qty       int     `json:"qty"`
	FilledQty int     `json:"filled_qty"`
	Filled    bool    `json:"filled"`
}

// Working reports whether the target still has unfilled size
func (t Target) Working() bool {
	return t.Qty > 0 && !t.Filled
}

// ManualBreakeven 수동 BE (자동 트레일링보다 먼저 검사)
type ManualBreakeven struct {
	Armed     bool `json:"armed"`
	Triggered bool `json:"triggered"`
}

// PositionSpec is everything needed to open a position
type PositionSpec struct {
	ID           string      `json:"id"`
	Instrument   string      `json:"instrument"`
	Direction    Direction   `json:"direction"`
	Mode         Mode        `json:"mode"`
	EntryType    OrderType   `json:"entry_type"`
	EntryPrice   float64     `json:"entry_price"`
	StopPrice    float64     `json:"stop_price"`
	TargetPrices [3]float64  `json:"target_prices"`
	Slices       Slices      `json:"slices"`
	Ladder       TrailLadder `json:"ladder"`
	Anchor       *AnchorRule `json:"anchor,omitempty"`
}

// Validate checks spec consistency before it reaches the ledger
func (s PositionSpec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("position id is required")
	}
	if !s.Direction.Valid() {
		return fmt.Errorf("invalid direction %q", s.Direction)
	}
	if s.Slices.Total() <= 0 {
		return fmt.Errorf("position %s has no contracts", s.ID)
	}
	if s.Slices.T1 < 0 || s.Slices.T2 < 0 || s.Slices.T3 < 0 || s.Slices.Runner < 0 {
		return fmt.Errorf("position %s has a negative slice", s.ID)
	}
	// stop이 진입가의 반대편에 있어야 함
	if (s.EntryPrice-s.StopPrice)*s.Direction.Sign() <= 0 {
		return fmt.Errorf("stop %.2f is not on the protective side of entry %.2f", s.StopPrice, s.EntryPrice)
	}
	return nil
}

// Position is one entry attempt and its full bracket
// ⭐ SSOT: Ledger만 소유, 다른 컴포넌트는 Ledger.Update로만 변경
type Position struct {
	ID         string        `json:"id"`
	Instrument string        `json:"instrument"`
	Direction  Direction     `json:"direction"`
	Mode       Mode          `json:"mode"`
	EntryType  OrderType     `json:"entry_type"`
	State      PositionState `json:"state"`

	TotalContracts     int `json:"total_contracts"`
	RemainingContracts int `json:"remaining_contracts"`
	RunnerContracts    int `json:"runner_contracts"`
	RunnerFilledQty    int `json:"runner_filled_qty"`

	IntendedEntryPrice float64 `json:"intended_entry_price"`
	EntryPrice         float64 `json:"entry_price"`
	InitialStopPrice   float64 `json:"initial_stop_price"`
	CurrentStopPrice   float64 `json:"current_stop_price"`
	CurrentTrailLevel  int     `json:"current_trail_level"`

	// fill 가격 기준 재계산용 거리
	StopDistance    float64    `json:"stop_distance"`
	TargetDistances [3]float64 `json:"target_distances"`

	Targets [3]Target `json:"targets"`

	EntryFilled      bool `json:"entry_filled"`
	BracketSubmitted bool `json:"bracket_submitted"`

	ExtremePriceSinceEntry float64 `json:"extreme_price_since_entry"`
	TicksSinceEntry        int     `json:"ticks_since_entry"`

	Ladder       TrailLadder `json:"ladder"`
	Anchor       *AnchorRule `json:"anchor,omitempty"`
	AnchorActive bool        `json:"anchor_active"`

	ManualBreakeven       ManualBreakeven `json:"manual_breakeven"`
	AutoBreakevenDisabled bool            `json:"auto_breakeven_disabled"`
	TrailDisabled         bool            `json:"trail_disabled"`

	CreatedAt time.Time `json:"created_at"`
	FilledAt  time.Time `json:"filled_at,omitempty"`
}

// NewPosition builds a pending position from a validated spec
func NewPosition(spec PositionSpec, now time.Time) *Position {
	p := &Position{
		ID:                 spec.ID,
		Instrument:         spec.Instrument,
		Direction:          spec.Direction,
		Mode:               spec.Mode,
		EntryType:          spec.EntryType,
		State:              PositionPendingEntry,
		TotalContracts:     spec.Slices.Total(),
		RemainingContracts: spec.Slices.Total(),
		RunnerContracts:    spec.Slices.Runner,
		IntendedEntryPrice: spec.EntryPrice,
		EntryPrice:         spec.EntryPrice,
		InitialStopPrice:   spec.StopPrice,
		CurrentStopPrice:   spec.StopPrice,
		StopDistance:       math.Abs(spec.EntryPrice - spec.StopPrice),
		Ladder:             spec.Ladder,
		Anchor:             spec.Anchor,
		CreatedAt:          now,
	}

	qty := spec.Slices.Targets()
	for i := range p.Targets {
		p.Targets[i] = Target{Price: spec.TargetPrices[i], Qty: qty[i]}
		p.TargetDistances[i] = math.Abs(spec.TargetPrices[i] - spec.EntryPrice)
	}
	p.ExtremePriceSinceEntry = spec.EntryPrice

	// anchor가 cross를 요구하지 않으면 처음부터 phase 2
	if p.Anchor != nil && !p.Anchor.RequireCross {
		p.AnchorActive = true
	}

	return p
}

// FilledExitQty returns contracts closed by target and runner fills
func (p *Position) FilledExitQty() int {
	n := p.RunnerFilledQty
	for _, t := range p.Targets {
		n += t.FilledQty
	}
	return n
}

// CheckInvariant verifies Remaining = Total - filled exits and Remaining >= 0
func (p *Position) CheckInvariant() error {
	if p.RemainingContracts < 0 {
		return fmt.Errorf("position %s: remaining %d < 0", p.ID, p.RemainingContracts)
	}
	if want := p.TotalContracts - p.FilledExitQty(); p.RemainingContracts != want {
		return fmt.Errorf("position %s: remaining %d != total %d - filled %d",
			p.ID, p.RemainingContracts, p.TotalContracts, p.FilledExitQty())
	}
	return nil
}

// Profit returns the directional distance of price from entry
func (p *Position) Profit(price float64) float64 {
	return (price - p.EntryPrice) * p.Direction.Sign()
}

// Improves reports whether stop locks in more than the current stop
func (p *Position) Improves(stop float64) bool {
	return (stop-p.CurrentStopPrice)*p.Direction.Sign() > 0
}

// Offset returns entry shifted by points in the position's favour
func (p *Position) Offset(from, points float64) float64 {
	return from + points*p.Direction.Sign()
}

// TrackExtreme updates the running favourable extreme
func (p *Position) TrackExtreme(price float64) {
	if p.Direction == Long {
		p.ExtremePriceSinceEntry = math.Max(p.ExtremePriceSinceEntry, price)
	} else {
		p.ExtremePriceSinceEntry = math.Min(p.ExtremePriceSinceEntry, price)
	}
}

// ReanchorOnFill moves stop and targets so their distances hold from the fill price
// 반환값: 조정 여부
func (p *Position) ReanchorOnFill(fill float64) bool {
	if fill == p.IntendedEntryPrice {
		return false
	}
	p.EntryPrice = fill
	p.InitialStopPrice = p.Offset(fill, -p.StopDistance)
	p.CurrentStopPrice = p.InitialStopPrice
	for i := range p.Targets {
		p.Targets[i].Price = p.Offset(fill, p.TargetDistances[i])
	}
	return true
}

// Reprice moves a pending entry and keeps stop/target distances
func (p *Position) Reprice(entry float64) {
	p.IntendedEntryPrice = entry
	p.EntryPrice = entry
	p.ExtremePriceSinceEntry = entry
	p.InitialStopPrice = p.Offset(entry, -p.StopDistance)
	p.CurrentStopPrice = p.InitialStopPrice
	for i := range p.Targets {
		p.Targets[i].Price = p.Offset(entry, p.TargetDistances[i])
	}
}

// UnfilledTargetQty returns contracts still resting on fixed targets
func (p *Position) UnfilledTargetQty() int {
	n := 0
	for _, t := range p.Targets {
		if t.Qty > t.FilledQty {
			n += t.Qty - t.FilledQty
		}
	}
	return n
}

// RunnerOpenQty returns runner contracts not yet closed by hand
func (p *Position) RunnerOpenQty() int {
	return p.RunnerContracts - p.RunnerFilledQty
}

// TargetsFilled reports whether targets 0..n-1 are all filled or empty
func (p *Position) TargetsFilled(n int) bool {
	for i := 0; i < n && i < len(p.Targets); i++ {
		if p.Targets[i].Qty > 0 && !p.Targets[i].Filled {
			return false
		}
	}
	return true
}

// Clone returns a deep copy for snapshots
func (p *Position) Clone() Position {
	c := *p
	if p.Anchor != nil {
		a := *p.Anchor
		c.Anchor = &a
	}
	return c
}

// PendingStopReplacement exists between "cancel issued" and "cancel confirmed"
type PendingStopReplacement struct {
	PositionID string      `json:"position_id"`
	Instrument string      `json:"instrument"`
	Qty        int         `json:"qty"`
	StopPrice  float64     `json:"stop_price"`
	Direction  Direction   `json:"direction"`
	Cancelling OrderHandle `json:"cancelling"`
	Label      string      `json:"label"`
	CreatedAt  time.Time   `json:"created_at"`
}

// DropTarget gives up on the unfilled rest of target idx; those contracts ride with the runner
func (p *Position) DropTarget(idx int) int {
	t := &p.Targets[idx]
	moved := t.Qty - t.FilledQty
	if moved < 0 {
		moved = 0
	}
	t.Qty = t.FilledQty
	t.Filled = true
	p.RunnerContracts += moved
	return moved
}
