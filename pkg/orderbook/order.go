package orderbook

import (
	"github.com/shopspring/decimal"
)

// OrderID is assigned by the engine on admission. IDs are monotonically
// increasing and never reused, except when a triggered stop is re-injected
// under its original ID.
type OrderID uint64

// Tick is an integer offset into the price grid. Valid ticks are in
// [0, grid size); extrema use values outside that range as sentinels.
type Tick int

const tickNone Tick = -1

// CallbackMsg tags an execution notification.
type CallbackMsg int

const (
	MsgFill CallbackMsg = iota
	MsgCancel
	MsgStopToLimit
	MsgWake
)

func (m CallbackMsg) String() string {
	switch m {
	case MsgFill:
		return "FILL"
	case MsgCancel:
		return "CANCEL"
	case MsgStopToLimit:
		return "STOP_TO_LIMIT"
	case MsgWake:
		return "WAKE"
	}
	return "UNKNOWN"
}

// ExecCallback receives execution notifications for an order. Callbacks run
// outside the engine lock, on the thread of whichever submission drains the
// deferred queue; they may submit further orders but must not block on them
// completing out of band.
type ExecCallback func(msg CallbackMsg, id OrderID, price decimal.Decimal, size uint64)

// AdminCallback is invoked once on admission with the final OrderID, even if
// the order filled or errored immediately. It runs on the dispatcher and must
// not submit blocking orders.
type AdminCallback func(id OrderID)

// limitOrder is a resting entry in a limit chain.
type limitOrder struct {
	id        OrderID
	remaining uint64
	exec      ExecCallback
}

// stopOrder is a resting entry in a stop chain. limit == tickNone denotes a
// stop-market order.
type stopOrder struct {
	id    OrderID
	buy   bool
	limit Tick
	size  uint64
	exec  ExecCallback
}

// OrderKind discriminates OrderInfo.
type OrderKind int

const (
	OrderNone OrderKind = iota
	OrderLimit
	OrderStop
	OrderStopLimit
)

// OrderInfo describes a resting order. Kind == OrderNone means the ID was not
// found in the book.
type OrderInfo struct {
	Kind      OrderKind
	Buy       bool
	Price     decimal.Decimal // limit price; zero for stop-market
	StopPrice decimal.Decimal // stop price; zero for limits
	Size      uint64
}

// DepthLevel is one aggregated price level of the book.
type DepthLevel struct {
	Tick  Tick
	Price decimal.Decimal
	Size  uint64
}
