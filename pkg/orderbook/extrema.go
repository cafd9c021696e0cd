package orderbook

import "fmt"

// extrema caches the outermost populated ticks per chain kind and side, so
// depth queries and stop scans do not walk the whole grid. The cached bounds
// are a lossy hint over the grid: they may be wider than the populated
// region, never narrower. Empty regions are represented by inverted
// sentinels (low == n, high == -1).
type extrema struct {
	n int // grid size; sentinel above is n, below is -1

	bid     Tick
	ask     Tick
	bidSize uint64
	askSize uint64

	lowBuyLimit   Tick
	highSellLimit Tick

	lowBuyStop   Tick
	highBuyStop  Tick
	lowSellStop  Tick
	highSellStop Tick
}

func newExtrema(n int) extrema {
	x := extrema{n: n}
	x.bid, x.ask = -1, Tick(n)
	x.lowBuyLimit, x.highSellLimit = Tick(n), -1
	x.clearBuyStops()
	x.clearSellStops()
	return x
}

func (x *extrema) clearBuyStops()  { x.lowBuyStop, x.highBuyStop = Tick(x.n), -1 }
func (x *extrema) clearSellStops() { x.lowSellStop, x.highSellStop = Tick(x.n), -1 }

// limitInserted applies the insert update rule after size has been appended
// to the limit chain at t. chainSize is the chain total including the new
// order.
func (x *extrema) limitInserted(buy bool, t Tick, chainSize uint64) {
	if buy {
		if t >= x.bid {
			x.bid = t
			x.bidSize = chainSize
		}
		if t < x.lowBuyLimit {
			x.lowBuyLimit = t
		}
		return
	}
	if t <= x.ask {
		x.ask = t
		x.askSize = chainSize
	}
	if t > x.highSellLimit {
		x.highSellLimit = t
	}
}

// limitPulled adjusts the cache after removing size from the chain at t.
// emptied reports whether the pull left the chain empty. The inner bound is
// re-scanned over the grid; the outer bound is only nudged (lazy), keeping
// the cache conservative.
func (x *extrema) limitPulled(g *priceGrid, buy bool, t Tick, size uint64, emptied bool) error {
	if buy {
		if t < x.lowBuyLimit || t > x.bid {
			return fmt.Errorf("%w: buy limit pull at %d outside [%d, %d]", ErrCacheValue, t, x.lowBuyLimit, x.bid)
		}
		if !emptied {
			if t == x.bid {
				x.bidSize -= size
			}
			return nil
		}
		if t == x.lowBuyLimit {
			x.lowBuyLimit++
		}
		if t == x.bid {
			x.findNewBid(g)
		}
		return nil
	}
	if t < x.ask || t > x.highSellLimit {
		return fmt.Errorf("%w: sell limit pull at %d outside [%d, %d]", ErrCacheValue, t, x.ask, x.highSellLimit)
	}
	if !emptied {
		if t == x.ask {
			x.askSize -= size
		}
		return nil
	}
	if t == x.highSellLimit {
		x.highSellLimit--
	}
	if t == x.ask {
		x.findNewAsk(g)
	}
	return nil
}

// findNewBid walks downward from the current bid over empty chains and stops
// at the first populated one, or collapses the buy side when none remains.
func (x *extrema) findNewBid(g *priceGrid) bool {
	t := x.bid
	for t >= x.lowBuyLimit && (t < 0 || g.at(t).limits.Len() == 0) {
		t--
	}
	if t < x.lowBuyLimit || t < 0 {
		x.bid = -1
		x.bidSize = 0
		x.lowBuyLimit = Tick(x.n)
		return false
	}
	x.bid = t
	x.bidSize = g.at(t).limitSize()
	return true
}

// findNewAsk is the sell-side mirror of findNewBid.
func (x *extrema) findNewAsk(g *priceGrid) bool {
	t := x.ask
	for t <= x.highSellLimit && (int(t) >= x.n || g.at(t).limits.Len() == 0) {
		t++
	}
	if t > x.highSellLimit || int(t) >= x.n {
		x.ask = Tick(x.n)
		x.askSize = 0
		x.highSellLimit = -1
		return false
	}
	x.ask = t
	x.askSize = g.at(t).limitSize()
	return true
}

func (x *extrema) stopInserted(buy bool, t Tick) {
	if buy {
		if t < x.lowBuyStop {
			x.lowBuyStop = t
		}
		if t > x.highBuyStop {
			x.highBuyStop = t
		}
		return
	}
	if t < x.lowSellStop {
		x.lowSellStop = t
	}
	if t > x.highSellStop {
		x.highSellStop = t
	}
}

// stopPulled nudges the cached bound by one tick when the pull emptied a
// boundary cell. No grid scan; the next trigger pass re-synchronizes.
func (x *extrema) stopPulled(buy bool, t Tick, emptied bool) {
	if !emptied {
		return
	}
	if buy {
		if t == x.lowBuyStop {
			x.lowBuyStop++
		}
		if t == x.highBuyStop {
			x.highBuyStop--
		}
		if x.lowBuyStop > x.highBuyStop {
			x.clearBuyStops()
		}
		return
	}
	if t == x.lowSellStop {
		x.lowSellStop++
	}
	if t == x.highSellStop {
		x.highSellStop--
	}
	if x.lowSellStop > x.highSellStop {
		x.clearSellStops()
	}
}
