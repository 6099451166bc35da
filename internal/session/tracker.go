package session

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/pkg/logger"
)

// Config describes the trading session and opening-range window
type Config struct {
	Start     string // "HH:MM" (Location 기준)
	End       string // Start보다 이르면 자정을 넘는 세션
	ORMinutes int
	Location  *time.Location
}

// DefaultConfig returns a 09:30-16:00 New York session with a 5 minute range
func DefaultConfig() Config {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return Config{Start: "09:30", End: "16:00", ORMinutes: 5, Location: loc}
}

// Tracker builds the opening range from ticks and resets at each session start
// ⭐ SSOT: 세션 구간/OR 계산은 여기서만
type Tracker struct {
	cfg   Config
	start time.Duration // 자정 기준 offset
	end   time.Duration

	mu           sync.RWMutex
	sessionStart time.Time // 현재 세션 시작 시각 (zero = 아직 없음)
	high, low    float64
	samples      int
	complete     bool

	logger *logger.Logger
}

// NewTracker validates cfg and creates a tracker
func NewTracker(cfg Config, log *logger.Logger) (*Tracker, error) {
	start, err := parseClock(cfg.Start)
	if err != nil {
		return nil, fmt.Errorf("session start: %w", err)
	}
	end, err := parseClock(cfg.End)
	if err != nil {
		return nil, fmt.Errorf("session end: %w", err)
	}
	if cfg.ORMinutes <= 0 {
		return nil, fmt.Errorf("opening range minutes must be > 0")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	return &Tracker{
		cfg:    cfg,
		start:  start,
		end:    end,
		high:   math.Inf(-1),
		low:    math.Inf(1),
		logger: log.WithField("component", "session"),
	}, nil
}

// CrossesMidnight reports whether the session ends on the next calendar day
func (t *Tracker) CrossesMidnight() bool {
	return t.end <= t.start
}

// OnTick folds one trade into the range
func (t *Tracker) OnTick(price float64, at time.Time) {
	if price <= 0 {
		return
	}
	at = at.In(t.cfg.Location)
	start := t.sessionStartFor(at)

	t.mu.Lock()
	defer t.mu.Unlock()

	if !start.Equal(t.sessionStart) {
		t.resetLocked(start)
	}

	orEnd := start.Add(time.Duration(t.cfg.ORMinutes) * time.Minute)
	switch {
	case at.Before(orEnd):
		t.high = math.Max(t.high, price)
		t.low = math.Min(t.low, price)
		t.samples++
	case !t.complete && t.samples > 0:
		t.complete = true
		t.logger.WithFields(map[string]interface{}{
			"session": start.Format("2006-01-02 15:04"),
			"high":    t.high,
			"low":     t.low,
			"range":   t.high - t.low,
		}).Info("Opening range complete")
	}
}

// Range returns the current session range
func (t *Tracker) Range() contracts.SessionRange {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.samples == 0 {
		return contracts.SessionRange{}
	}
	return contracts.SessionRange{High: t.high, Low: t.low, Complete: t.complete}
}

// InSession reports whether at falls between session start and end
func (t *Tracker) InSession(at time.Time) bool {
	at = at.In(t.cfg.Location)
	start := t.sessionStartFor(at)
	length := t.end - t.start
	if t.CrossesMidnight() {
		length += 24 * time.Hour
	}
	return at.Before(start.Add(length))
}

// Reset clears the range until the next tick
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked(time.Time{})
}

func (t *Tracker) resetLocked(start time.Time) {
	if !t.sessionStart.IsZero() && !start.IsZero() {
		t.logger.WithField("session", start.Format("2006-01-02 15:04")).Info("Session reset")
	}
	t.sessionStart = start
	t.high = math.Inf(-1)
	t.low = math.Inf(1)
	t.samples = 0
	t.complete = false
}

// sessionStartFor returns the latest session start at or before at
// 자정을 넘는 세션은 전날 시작 시각에 속함
func (t *Tracker) sessionStartFor(at time.Time) time.Time {
	y, m, d := at.Date()
	hh, mm := int(t.start/time.Hour), int(t.start%time.Hour/time.Minute)
	start := time.Date(y, m, d, hh, mm, 0, 0, t.cfg.Location)
	if at.Before(start) {
		start = time.Date(y, m, d-1, hh, mm, 0, 0, t.cfg.Location)
	}
	return start
}

// parseClock parses "HH:MM" into an offset from midnight
func parseClock(s string) (time.Duration, error) {
	c, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return time.Duration(c.Hour())*time.Hour + time.Duration(c.Minute())*time.Minute, nil
}
