package signalbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/wonny/orbit/internal/contracts"
	"github.com/wonny/orbit/pkg/logger"
	"github.com/wonny/orbit/pkg/metrics"
)

// Handler receives one signal
type Handler func(sig contracts.Signal)

// Subscription is the token returned by Subscribe
// 함수는 비교할 수 없으므로 해제는 토큰으로
type Subscription struct {
	id  uint64
	typ contracts.SignalType // 빈 값 = 전체 구독
}

type entry struct {
	id      uint64
	handler Handler
}

// Bus delivers signals synchronously to typed and catch-all subscribers
// ⭐ SSOT: 프로세스 내 시그널 전달은 여기서만, 전역 인스턴스 없음
type Bus struct {
	mu     sync.RWMutex
	byType map[contracts.SignalType][]entry
	all    []entry
	nextID uint64

	now    func() time.Time
	logger *logger.Logger
}

// New creates an empty bus
func New(log *logger.Logger) *Bus {
	return &Bus{
		byType: make(map[contracts.SignalType][]entry),
		now:    time.Now,
		logger: log,
	}
}

// Subscribe registers h for one signal type
func (b *Bus) Subscribe(typ contracts.SignalType, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.byType[typ] = append(b.byType[typ], entry{id: b.nextID, handler: h})
	return Subscription{id: b.nextID, typ: typ}
}

// SubscribeAll registers h for every signal type (relays)
func (b *Bus) SubscribeAll(h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.all = append(b.all, entry{id: b.nextID, handler: h})
	return Subscription{id: b.nextID}
}

// Unsubscribe removes a subscription; unknown tokens are ignored
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.typ == "" {
		b.all = without(b.all, sub.id)
		return
	}
	b.byType[sub.typ] = without(b.byType[sub.typ], sub.id)
	if len(b.byType[sub.typ]) == 0 {
		delete(b.byType, sub.typ)
	}
}

// Count returns the number of handlers that would receive typ
func (b *Bus) Count(typ contracts.SignalType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byType[typ]) + len(b.all)
}

// Publish stamps the signal and delivers it; returns handlers that completed
// 타입 구독자 먼저 (등록 순서), 이후 전체 구독자
func (b *Bus) Publish(sig contracts.Signal) int {
	if sig == nil {
		return 0
	}
	stamped := sig.WithTimestamp(b.now())
	typ := stamped.Type()

	// lock 밖에서 호출 (handler가 다시 Subscribe/Publish 할 수 있음)
	b.mu.RLock()
	targets := make([]entry, 0, len(b.byType[typ])+len(b.all))
	targets = append(targets, b.byType[typ]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()

	metrics.SignalsPublished.WithLabelValues(string(typ)).Inc()

	delivered := 0
	for _, t := range targets {
		if b.deliver(t, stamped) {
			delivered++
		}
	}

	b.logger.WithFields(map[string]interface{}{
		"type":        typ,
		"subscribers": len(targets),
		"delivered":   delivered,
	}).Debug("Signal published")

	return delivered
}

func (b *Bus) deliver(t entry, sig contracts.Signal) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SignalHandlerPanics.WithLabelValues(string(sig.Type())).Inc()
			b.logger.WithFields(map[string]interface{}{
				"type":         sig.Type(),
				"subscription": t.id,
				"panic":        fmt.Sprint(r),
			}).Error("Signal handler panicked")
			ok = false
		}
	}()

	t.handler(sig)
	return true
}

func without(entries []entry, id uint64) []entry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.id != id {
			out = append(out, e)
		}
	}
	return out
}
