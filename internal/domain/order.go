package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderState is the lifecycle state of a single exchange order message.
// Transitions are monotonic toward a terminal state; see CanTransitionTo.
type OrderState string

const (
	OrderLive             OrderState = "live"
	OrderPartiallyFilled  OrderState = "partially_filled"
	OrderFilled           OrderState = "filled"
	OrderCanceled         OrderState = "canceled"
	OrderFailed           OrderState = "failed"
)

// IsTerminal reports whether the state is one an order never leaves.
func (s OrderState) IsTerminal() bool {
	return s == OrderFilled || s == OrderCanceled || s == OrderFailed
}

// rank gives each state a monotonic ordinal; terminal states outrank all
// non-terminal ones regardless of arrival order.
func (s OrderState) rank() int {
	switch s {
	case OrderLive:
		return 0
	case OrderPartiallyFilled:
		return 1
	case OrderFilled, OrderCanceled, OrderFailed:
		return 2
	default:
		return -1
	}
}

// CanTransitionTo reports whether moving from s to next respects the
// monotonic-toward-terminal invariant. A terminal state can never be
// displaced by an earlier one for the same oid.
func (s OrderState) CanTransitionTo(next OrderState) bool {
	if s.IsTerminal() {
		return false
	}
	return next.rank() >= s.rank()
}

// Order is the normalized record for one exchange order, keyed by Oid.
type Order struct {
	Oid        string
	Cloid      string // empty when the frame omitted clOrdId
	Pid        string // position id the fill carried, if any
	Symbol     string
	Side       string // "buy" | "sell"
	PosSide    string // "long" | "short" | "net"
	OrdType    string // "market" | "limit" | "post_only" | "fok" | "ioc" | "trigger"
	Px         decimal.Decimal
	Sz         decimal.Decimal
	FillPx     decimal.Decimal
	FillSz     decimal.Decimal
	State      OrderState
	Leverage   decimal.Decimal
	MarginMode string
	Tag        string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ApplyState updates o.State respecting the monotonic invariant. It
// reports false (and leaves the order unchanged) if next would move the
// state backward.
func (o *Order) ApplyState(next OrderState) bool {
	if !o.State.CanTransitionTo(next) {
		return false
	}
	o.State = next
	return true
}
