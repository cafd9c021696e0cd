package orderbook

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradePrint is one time-and-sales entry.
type TradePrint struct {
	At    time.Time
	Tick  Tick
	Price decimal.Decimal
	Size  uint64
}

// tape is a bounded ring of recent trade prints; overflow drops oldest.
type tape struct {
	buf  []TradePrint
	next int
	full bool
}

func newTape(capacity int) tape {
	return tape{buf: make([]TradePrint, capacity)}
}

func (tp *tape) add(p TradePrint) {
	if len(tp.buf) == 0 {
		return
	}
	tp.buf[tp.next] = p
	tp.next++
	if tp.next == len(tp.buf) {
		tp.next = 0
		tp.full = true
	}
}

// all returns prints oldest first.
func (tp *tape) all() []TradePrint {
	if !tp.full {
		out := make([]TradePrint, tp.next)
		copy(out, tp.buf[:tp.next])
		return out
	}
	out := make([]TradePrint, 0, len(tp.buf))
	out = append(out, tp.buf[tp.next:]...)
	out = append(out, tp.buf[:tp.next]...)
	return out
}

// MarketDepth aggregates per-tick chain sizes from the inside outward,
// bounded by maxDepth levels and by the extrema. maxDepth <= 0 means no
// bound.
func (ob *OrderBook) MarketDepth(buy bool, maxDepth int) []DepthLevel {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.depthLocked(buy, maxDepth)
}

func (ob *OrderBook) depthLocked(buy bool, maxDepth int) []DepthLevel {
	var out []DepthLevel
	add := func(t Tick) bool {
		c := ob.grid.at(t)
		if c.limits.Len() == 0 {
			return true
		}
		out = append(out, DepthLevel{Tick: t, Price: ob.grid.ladder.priceOf(t), Size: c.limitSize()})
		return maxDepth <= 0 || len(out) < maxDepth
	}
	if buy {
		for t := ob.x.bid; t >= ob.x.lowBuyLimit; t-- {
			if !add(t) {
				break
			}
		}
	} else {
		for t := ob.x.ask; t <= ob.x.highSellLimit; t++ {
			if !add(t) {
				break
			}
		}
	}
	return out
}

// BestBid returns the inside bid price and aggregate size. Size 0 means the
// side is empty.
func (ob *OrderBook) BestBid() (decimal.Decimal, uint64) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if ob.x.bid < 0 {
		return decimal.Zero, 0
	}
	return ob.grid.ladder.priceOf(ob.x.bid), ob.x.bidSize
}

// BestAsk returns the inside ask price and aggregate size.
func (ob *OrderBook) BestAsk() (decimal.Decimal, uint64) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if int(ob.x.ask) >= ob.grid.size() {
		return decimal.Zero, 0
	}
	return ob.grid.ladder.priceOf(ob.x.ask), ob.x.askSize
}

// LastTrade returns the most recent trade print.
func (ob *OrderBook) LastTrade() (decimal.Decimal, uint64, time.Time) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.grid.ladder.priceOf(ob.last), ob.lastSize, ob.lastAt
}

// TotalVolume returns cumulative traded size.
func (ob *OrderBook) TotalVolume() uint64 {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.volume
}

// TimeAndSales returns the retained trade prints, oldest first.
func (ob *OrderBook) TimeAndSales() []TradePrint {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.tape.all()
}

// TickSize returns the price increment of the grid.
func (ob *OrderBook) TickSize() decimal.Decimal {
	return ob.grid.ladder.incr
}

// DumpBuyLimits aggregates every populated buy-limit level, inside out.
func (ob *OrderBook) DumpBuyLimits() []DepthLevel {
	return ob.MarketDepth(true, 0)
}

// DumpSellLimits aggregates every populated sell-limit level, inside out.
func (ob *OrderBook) DumpSellLimits() []DepthLevel {
	return ob.MarketDepth(false, 0)
}

// DumpBuyStops aggregates resting buy-stop sizes per tick, low to high.
func (ob *OrderBook) DumpBuyStops() []DepthLevel {
	return ob.dumpStops(true)
}

// DumpSellStops aggregates resting sell-stop sizes per tick, low to high.
func (ob *OrderBook) DumpSellStops() []DepthLevel {
	return ob.dumpStops(false)
}

func (ob *OrderBook) dumpStops(buy bool) []DepthLevel {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	lo, hi := ob.x.lowSellStop, ob.x.highSellStop
	if buy {
		lo, hi = ob.x.lowBuyStop, ob.x.highBuyStop
	}
	var out []DepthLevel
	for t := lo; t <= hi; t++ {
		c := ob.grid.at(t)
		var total uint64
		for i := 0; i < c.stops.Len(); i++ {
			if s := c.stops.At(i); s.buy == buy {
				total += s.size
			}
		}
		if total > 0 {
			out = append(out, DepthLevel{Tick: t, Price: ob.grid.ladder.priceOf(t), Size: total})
		}
	}
	return out
}
