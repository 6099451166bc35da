package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/wonny/orbit/internal/contracts"
)

var (
	// ErrNotFound is returned when no position has the id
	ErrNotFound = errors.New("position not found")
	// ErrDuplicate is returned when an id is already in use
	ErrDuplicate = errors.New("position already exists")
	// ErrInvariantViolation means remaining size no longer matches fills
	ErrInvariantViolation = errors.New("position invariant violated")
)

// Ledger owns every open or pending position keyed by entry id
// ⭐ SSOT: Position 레코드의 유일한 소유자
// 단일 actor 에서만 접근 (락 없음)
type Ledger struct {
	positions map[string]*contracts.Position
	order     []string // 생성 순서
	now       func() time.Time
}

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{
		positions: make(map[string]*contracts.Position),
		now:       time.Now,
	}
}

// Create validates spec and stores a new pending position
func (l *Ledger) Create(spec contracts.PositionSpec) (*contracts.Position, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid position spec: %w", err)
	}
	if _, exists := l.positions[spec.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, spec.ID)
	}

	p := contracts.NewPosition(spec, l.now())
	l.positions[p.ID] = p
	l.order = append(l.order, p.ID)
	return p, nil
}

// Get returns the position for id
func (l *Ledger) Get(id string) (*contracts.Position, bool) {
	p, ok := l.positions[id]
	return p, ok
}

// Update applies fn to the position and re-checks the size invariant
// 위반 시 ErrInvariantViolation (호출자가 강제 청산)
func (l *Ledger) Update(id string, fn func(p *contracts.Position)) error {
	p, ok := l.positions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	fn(p)

	if err := p.CheckInvariant(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
	}
	return nil
}

// Remove drops the position and marks it closed
func (l *Ledger) Remove(id string) {
	p, ok := l.positions[id]
	if !ok {
		return
	}
	p.State = contracts.PositionClosed
	delete(l.positions, id)

	for i, oid := range l.order {
		if oid == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// ForEach visits positions in creation order
// fn 안에서 Remove 해도 안전 (ids 복사 후 순회)
func (l *Ledger) ForEach(fn func(p *contracts.Position)) {
	ids := make([]string, len(l.order))
	copy(ids, l.order)

	for _, id := range ids {
		if p, ok := l.positions[id]; ok {
			fn(p)
		}
	}
}

// Len returns the number of tracked positions
func (l *Ledger) Len() int {
	return len(l.positions)
}

// Snapshot returns copies of every position in creation order
func (l *Ledger) Snapshot() []contracts.Position {
	out := make([]contracts.Position, 0, len(l.positions))
	l.ForEach(func(p *contracts.Position) {
		out = append(out, p.Clone())
	})
	return out
}
