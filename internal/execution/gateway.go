package execution

import (
	"context"
	"errors"

	"github.com/wonny/orbit/internal/contracts"
)

// ErrSubmissionFailed means the gateway returned no order handle
// ⭐ 재시도 없음: 대부분 지속적인 문제 (계정/종목 상태)
var ErrSubmissionFailed = errors.New("order submission returned no handle")

// Entry state errors for operations that need a pending or a filled entry
var (
	ErrEntryFilled    = errors.New("entry already filled")
	ErrEntryNotFilled = errors.New("entry not filled")
)

// Gateway defines the external execution gateway
// ⭐ SSOT: 주문 경로 인터페이스는 여기서만 정의
// 제출은 fire-and-forget, 상태 변경은 OrderEvent로 비동기 통지
type Gateway interface {
	// Submit sends an order; empty handle or error means no handle
	Submit(ctx context.Context, req *contracts.OrderRequest) (contracts.OrderHandle, error)

	// Cancel requests cancellation; confirmation arrives as a CANCELLED event
	Cancel(ctx context.Context, handle contracts.OrderHandle) error

	// RoundToTick rounds a price to the instrument tick size
	RoundToTick(price float64) float64

	// TickSize returns the instrument tick size
	TickSize() float64
}

// Drainer is implemented by gateways that queue state changes for the owning actor
// actor가 task 실행 후 Drain()으로 이벤트를 같은 goroutine에서 처리
type Drainer interface {
	Drain() []contracts.OrderEvent
}

// submit wraps Gateway.Submit so that an empty handle is always an error
func submit(ctx context.Context, gw Gateway, req *contracts.OrderRequest) (contracts.OrderHandle, error) {
	h, err := gw.Submit(ctx, req)
	if err != nil {
		return "", errors.Join(ErrSubmissionFailed, err)
	}
	if h == "" {
		return "", ErrSubmissionFailed
	}
	return h, nil
}
