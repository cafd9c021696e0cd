package orderbook

import "github.com/gammazero/deque"

// checkStops runs the stop-trigger pass at the end of any trade-inducing
// operation. Triggered stops are not executed on this call stack: each is
// re-submitted to the pipeline non-blockingly under its original ID, so it
// waits behind the current completion. That bounds stack depth and keeps
// FIFO fairness among triggered orders.
//
// Priority within the triggered set: buy stops low-to-high, then sell stops
// high-to-low. (Pure FIFO across both sides by timestamp is a known variant,
// not implemented.)
func (ob *OrderBook) checkStops() {
	if !ob.needStopCheck {
		return
	}
	ob.needStopCheck = false
	ob.triggerBuyStops()
	ob.triggerSellStops()
}

// triggerBuyStops scans from the low buy-stop bound up to the last trade
// inclusive. Each triggered cell is copied out and cleared before its orders
// are re-injected, so a taker among them that moves the market further cannot
// re-enter the same cell.
func (ob *OrderBook) triggerBuyStops() {
	for t := ob.x.lowBuyStop; t <= ob.last && t <= ob.x.highBuyStop; t++ {
		fired := ob.detachStops(t, true)
		ob.x.lowBuyStop = t + 1
		for _, s := range fired {
			ob.reinject(s)
		}
	}
	if ob.x.lowBuyStop > ob.x.highBuyStop {
		ob.x.clearBuyStops()
	}
}

func (ob *OrderBook) triggerSellStops() {
	for t := ob.x.highSellStop; t >= ob.last && t >= ob.x.lowSellStop; t-- {
		fired := ob.detachStops(t, false)
		ob.x.highSellStop = t - 1
		for _, s := range fired {
			ob.reinject(s)
		}
	}
	if ob.x.lowSellStop > ob.x.highSellStop {
		ob.x.clearSellStops()
	}
}

// detachStops removes and returns the side's stops at t in FIFO order,
// leaving opposite-side stops in place.
func (ob *OrderBook) detachStops(t Tick, buy bool) []*stopOrder {
	c := ob.grid.at(t)
	if c.stops.Len() == 0 {
		return nil
	}
	var fired []*stopOrder
	var kept deque.Deque[*stopOrder]
	for c.stops.Len() > 0 {
		s := c.stops.PopFront()
		if s.buy == buy {
			fired = append(fired, s)
		} else {
			kept.PushBack(s)
		}
	}
	c.stops = kept
	return fired
}

// reinject converts a triggered stop into a limit or market submission under
// its original ID so the owner sees continuity.
func (ob *OrderBook) reinject(s *stopOrder) {
	if s.limit != tickNone {
		ob.deferred.push(MsgStopToLimit, s.exec, s.id, s.limit, s.size)
		ob.pipe.submitAsync(&submission{
			kind: submitLimit, buy: s.buy, tick: s.limit,
			size: s.size, exec: s.exec, id: s.id,
		})
		return
	}
	ob.pipe.submitAsync(&submission{
		kind: submitMarket, buy: s.buy,
		size: s.size, exec: s.exec, id: s.id,
	})
}
