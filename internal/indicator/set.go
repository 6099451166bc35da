package indicator

import (
	"fmt"
	"sync"
	"time"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/pkg/logger"
)

// Spec names one series to compute
type Spec struct {
	Kind   contracts.IndicatorKind
	Period int
}

func (s Spec) String() string {
	return fmt.Sprintf("%s(%d)", s.Kind, s.Period)
}

// Set aggregates ticks into bars and updates every registered series
// ⭐ SSOT: contracts.IndicatorSource 구현, 미등록 series는 항상 warm-up 상태
type Set struct {
	interval time.Duration

	mu       sync.RWMutex
	series   map[Spec]series
	bar      Bar
	barStart time.Time
	barOpen  bool
	closed   int

	logger *logger.Logger
}

// New creates a set over bars of interval; duplicate specs are merged
func New(interval time.Duration, specs []Spec, log *logger.Logger) (*Set, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("bar interval must be > 0")
	}
	s := &Set{
		interval: interval,
		series:   make(map[Spec]series, len(specs)),
		logger:   log.WithField("component", "indicator"),
	}
	for _, spec := range specs {
		if spec.Period <= 0 {
			return nil, fmt.Errorf("%s: period must be > 0", spec)
		}
		if _, ok := s.series[spec]; ok {
			continue
		}
		switch spec.Kind {
		case contracts.IndicatorEMA:
			s.series[spec] = newEMA(spec.Period)
		case contracts.IndicatorATR:
			s.series[spec] = newATR(spec.Period)
		case contracts.IndicatorRSI:
			s.series[spec] = newRSI(spec.Period)
		default:
			return nil, fmt.Errorf("%s: unknown indicator", spec)
		}
	}
	return s, nil
}

// OnTick folds a trade into the current bar, closing it on a new interval
func (s *Set) OnTick(price float64, at time.Time) {
	if price <= 0 {
		return
	}
	start := at.Truncate(s.interval)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.barOpen && !start.Equal(s.barStart) {
		s.closeLocked()
	}
	if !s.barOpen {
		s.bar = Bar{Open: price, High: price, Low: price, Close: price}
		s.barStart = start
		s.barOpen = true
		return
	}
	if price > s.bar.High {
		s.bar.High = price
	}
	if price < s.bar.Low {
		s.bar.Low = price
	}
	s.bar.Close = price
}

// AddBar feeds a closed bar directly (replay, warm-up from history)
func (s *Set) AddBar(b Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(b)
}

// LatestValue implements contracts.IndicatorSource
func (s *Set) LatestValue(kind contracts.IndicatorKind, period int) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ser, ok := s.series[Spec{Kind: kind, Period: period}]
	if !ok {
		return 0, false
	}
	return ser.value()
}

// Bars returns the number of closed bars seen
func (s *Set) Bars() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Set) closeLocked() {
	s.addLocked(s.bar)
	s.barOpen = false
}

func (s *Set) addLocked(b Bar) {
	for _, ser := range s.series {
		ser.add(b)
	}
	s.closed++
	if s.closed%100 == 0 {
		s.logger.WithField("bars", s.closed).Debug("Indicator bars processed")
	}
}
