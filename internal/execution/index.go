package execution

import "github.com/wonny/orbit/internal/contracts"

// OrderRef links a gateway handle to its position and bracket leg
type OrderRef struct {
	PositionID string
	Role       contracts.OrderRole
	Request    contracts.OrderRequest
}

// OrderIndex maps handle → position id, maintained at submission time
// ⭐ SSOT: 주문 이름 문자열 파싱 없이 handle로만 포지션 식별
type OrderIndex struct {
	byHandle map[contracts.OrderHandle]OrderRef
	live     map[string]map[contracts.OrderRole]contracts.OrderHandle
}

// NewOrderIndex creates an empty index
func NewOrderIndex() *OrderIndex {
	return &OrderIndex{
		byHandle: make(map[contracts.OrderHandle]OrderRef),
		live:     make(map[string]map[contracts.OrderRole]contracts.OrderHandle),
	}
}

// Track records a freshly submitted order as live for its role
func (x *OrderIndex) Track(h contracts.OrderHandle, req contracts.OrderRequest) {
	x.byHandle[h] = OrderRef{PositionID: req.PositionID, Role: req.Role, Request: req}

	roles, ok := x.live[req.PositionID]
	if !ok {
		roles = make(map[contracts.OrderRole]contracts.OrderHandle)
		x.live[req.PositionID] = roles
	}
	roles[req.Role] = h
}

// Lookup resolves a handle
func (x *OrderIndex) Lookup(h contracts.OrderHandle) (OrderRef, bool) {
	ref, ok := x.byHandle[h]
	return ref, ok
}

// Live returns the live handle for a position leg
func (x *OrderIndex) Live(positionID string, role contracts.OrderRole) (contracts.OrderHandle, bool) {
	roles, ok := x.live[positionID]
	if !ok {
		return "", false
	}
	h, ok := roles[role]
	return h, ok
}

// Unlive marks a leg as no longer live; the handle stays resolvable
// cancel 요청 직후 호출 → 확인 콜백에서 Lookup 가능
func (x *OrderIndex) Unlive(positionID string, role contracts.OrderRole, h contracts.OrderHandle) {
	roles, ok := x.live[positionID]
	if !ok {
		return
	}
	if cur, ok := roles[role]; ok && cur == h {
		delete(roles, role)
	}
	if len(roles) == 0 {
		delete(x.live, positionID)
	}
}

// Release forgets a handle after its terminal event
func (x *OrderIndex) Release(h contracts.OrderHandle) {
	ref, ok := x.byHandle[h]
	if !ok {
		return
	}
	x.Unlive(ref.PositionID, ref.Role, h)
	delete(x.byHandle, h)
}

// LiveHandles returns every live handle of a position
func (x *OrderIndex) LiveHandles(positionID string) map[contracts.OrderRole]contracts.OrderHandle {
	out := make(map[contracts.OrderRole]contracts.OrderHandle)
	for role, h := range x.live[positionID] {
		out[role] = h
	}
	return out
}

// LiveStops counts live stop orders of a position (0 or 1)
func (x *OrderIndex) LiveStops(positionID string) int {
	if _, ok := x.Live(positionID, contracts.RoleStop); ok {
		return 1
	}
	return 0
}
