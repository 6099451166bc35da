package contracts

import "time"

// OrderHandle identifies a working order at the gateway
// 빈 문자열 = 핸들 없음 (제출 실패)
type OrderHandle string

// OrderRequest represents an order passed from the engine to the gateway
// ⭐ SSOT: Engine → Gateway 주문 정보 전달
type OrderRequest struct {
	PositionID string    `json:"position_id"`
	Instrument string    `json:"instrument"`
	Role       OrderRole `json:"role"`
	Side       OrderSide `json:"side"` // BUY or SELL
	Type       OrderType `json:"type"`
	Qty        int       `json:"qty"`
	LimitPrice float64   `json:"limit_price,omitempty"` // LIMIT
	StopPrice  float64   `json:"stop_price,omitempty"`  // STOP_MARKET
	CreatedAt  time.Time `json:"created_at"`
}

// OrderEvent is an asynchronous state change reported by the gateway
type OrderEvent struct {
	Handle       OrderHandle `json:"handle"`
	State        OrderState  `json:"state"`
	FilledQty    int         `json:"filled_qty"` // cumulative
	AvgFillPrice float64     `json:"avg_fill_price"`
	Time         time.Time   `json:"time"`
}

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the order kind accepted by the gateway
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
)

// OrderRole tells which leg of a bracket an order belongs to
type OrderRole string

const (
	RoleEntry   OrderRole = "ENTRY"
	RoleStop    OrderRole = "STOP"
	RoleTarget1 OrderRole = "TARGET1"
	RoleTarget2 OrderRole = "TARGET2"
	RoleTarget3 OrderRole = "TARGET3"
	RoleRunner  OrderRole = "RUNNER" // runner slice closed by hand
	RoleFlatten OrderRole = "FLATTEN"
)

// TargetRole returns the order role for target index 0..2
func TargetRole(idx int) OrderRole {
	switch idx {
	case 0:
		return RoleTarget1
	case 1:
		return RoleTarget2
	default:
		return RoleTarget3
	}
}

// TargetIndex returns 0..2 for target roles, -1 otherwise
func (r OrderRole) TargetIndex() int {
	switch r {
	case RoleTarget1:
		return 0
	case RoleTarget2:
		return 1
	case RoleTarget3:
		return 2
	default:
		return -1
	}
}

// OrderState represents gateway order states
type OrderState string

const (
	StateWorking   OrderState = "WORKING"
	StateFilled    OrderState = "FILLED"
	StateCancelled OrderState = "CANCELLED"
	StateRejected  OrderState = "REJECTED"
)

// IsTerminal checks if no further transitions can happen
func (s OrderState) IsTerminal() bool {
	return s == StateFilled || s == StateCancelled || s == StateRejected
}

// IsMarketOrder checks if the order is a market order
func (o *OrderRequest) IsMarketOrder() bool {
	return o.Type == OrderTypeMarket
}

// ExitSide returns the side that closes a position in direction d
func ExitSide(d Direction) OrderSide {
	if d == Long {
		return OrderSideSell
	}
	return OrderSideBuy
}

// EntrySide returns the side that opens a position in direction d
func EntrySide(d Direction) OrderSide {
	if d == Long {
		return OrderSideBuy
	}
	return OrderSideSell
}

// Opposite returns the side that offsets s
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}
