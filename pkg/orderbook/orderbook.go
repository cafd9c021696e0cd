package orderbook

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// OrderBook is a single-symbol price-time priority matching engine. All
// mutations are serialized through the order pipeline onto one dispatcher
// goroutine holding the master lock; queries take the lock briefly. The book
// is volatile: nothing survives Close.
type OrderBook struct {
	cfg  Config
	grid *priceGrid

	mu sync.Mutex // master lock
	x  extrema

	last     Tick
	lastSize uint64
	lastAt   time.Time
	volume   uint64
	tape     tape

	needStopCheck bool
	nextID        OrderID

	deferred *callbackQueue
	pipe     *pipeline
	waker    *waker
	wakerOn  bool
}

// New builds the book, seeds the last-trade pointer from the reference price,
// and starts the dispatcher (and the waker when configured).
func New(cfg Config) (*OrderBook, error) {
	grid, err := newPriceGrid(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.TapeCapacity == 0 {
		cfg.TapeCapacity = defaultTapeCapacity
	}

	ob := &OrderBook{
		cfg:  cfg,
		grid: grid,
		x:    newExtrema(grid.size()),
		last: grid.ladder.tickOf(cfg.Reference),
		tape: newTape(cfg.TapeCapacity),
	}
	ob.deferred = &callbackQueue{ob: ob}
	ob.pipe = newPipeline(ob)
	ob.waker = newWaker(ob, cfg.WakerSleep)

	go ob.pipe.dispatch()
	if cfg.WakerSleep > 0 {
		ob.wakerOn = true
		go ob.waker.run()
	}
	return ob, nil
}

// Close shuts the pipeline down, breaks pending promises, stops the waker and
// flushes any deferred callbacks.
func (ob *OrderBook) Close() {
	ob.pipe.shutdown()
	if ob.wakerOn {
		ob.waker.stop()
	}
	ob.deferred.drain()
}

// RegisterWaker subscribes a callback to periodic wake pings carrying the
// current last-trade price.
func (ob *OrderBook) RegisterWaker(cb ExecCallback) {
	ob.waker.register(cb)
}

// InsertLimit submits a limit order and blocks until it is matched or
// resting. Execution callbacks for the order run before InsertLimit returns.
func (ob *OrderBook) InsertLimit(buy bool, price decimal.Decimal, size uint64, exec ExecCallback, admin AdminCallback) (OrderID, error) {
	res := ob.pipe.submit(&submission{
		kind: submitLimit, buy: buy, tick: ob.grid.ladder.tickOf(price),
		size: size, exec: exec, admin: admin,
	})
	return res.id, res.err
}

// InsertMarket submits a market order. An unfillable remainder returns a
// LiquidityError; fills before exhaustion are honored and their callbacks run
// before the error is returned.
func (ob *OrderBook) InsertMarket(buy bool, size uint64, exec ExecCallback, admin AdminCallback) (OrderID, error) {
	res := ob.pipe.submit(&submission{
		kind: submitMarket, buy: buy, size: size, exec: exec, admin: admin,
	})
	return res.id, res.err
}

// InsertStop submits a stop-market order resting at stopPrice. Stops are
// never matched at insertion; placement relative to the market is the
// caller's contract.
func (ob *OrderBook) InsertStop(buy bool, stopPrice decimal.Decimal, size uint64, exec ExecCallback, admin AdminCallback) (OrderID, error) {
	res := ob.pipe.submit(&submission{
		kind: submitStop, buy: buy, stop: ob.grid.ladder.tickOf(stopPrice),
		tick: tickNone, size: size, exec: exec, admin: admin,
	})
	return res.id, res.err
}

// InsertStopLimit submits a stop order that becomes a limit at limitPrice
// when triggered.
func (ob *OrderBook) InsertStopLimit(buy bool, stopPrice, limitPrice decimal.Decimal, size uint64, exec ExecCallback, admin AdminCallback) (OrderID, error) {
	res := ob.pipe.submit(&submission{
		kind: submitStopLimit, buy: buy, stop: ob.grid.ladder.tickOf(stopPrice),
		tick: ob.grid.ladder.tickOf(limitPrice), size: size, exec: exec, admin: admin,
	})
	return res.id, res.err
}

// PullOrder cancels a resting order. searchLimitsFirst picks which chain
// family to scan first. Returns false when the ID is not in the book;
// pulling an already-pulled ID is a no-op.
func (ob *OrderBook) PullOrder(id OrderID, searchLimitsFirst bool) bool {
	res := ob.pipe.submit(&submission{
		kind: submitPull, id: id, searchLimitsFirst: searchLimitsFirst,
	})
	return res.pulled
}

// ReplaceWithLimit pulls id and inserts a limit order in its place under one
// dispatcher record. Returns 0 when id was not found.
func (ob *OrderBook) ReplaceWithLimit(id OrderID, buy bool, price decimal.Decimal, size uint64, exec ExecCallback, admin AdminCallback) (OrderID, error) {
	return ob.replace(id, true, &submission{
		kind: submitLimit, buy: buy, tick: ob.grid.ladder.tickOf(price),
		size: size, exec: exec, admin: admin,
	})
}

// ReplaceWithMarket pulls id and submits a market order in its place.
func (ob *OrderBook) ReplaceWithMarket(id OrderID, buy bool, size uint64, exec ExecCallback, admin AdminCallback) (OrderID, error) {
	return ob.replace(id, true, &submission{
		kind: submitMarket, buy: buy, size: size, exec: exec, admin: admin,
	})
}

// ReplaceWithStop pulls id and inserts a stop-market order in its place.
func (ob *OrderBook) ReplaceWithStop(id OrderID, buy bool, stopPrice decimal.Decimal, size uint64, exec ExecCallback, admin AdminCallback) (OrderID, error) {
	return ob.replace(id, false, &submission{
		kind: submitStop, buy: buy, stop: ob.grid.ladder.tickOf(stopPrice),
		tick: tickNone, size: size, exec: exec, admin: admin,
	})
}

// ReplaceWithStopLimit pulls id and inserts a stop-limit order in its place.
func (ob *OrderBook) ReplaceWithStopLimit(id OrderID, buy bool, stopPrice, limitPrice decimal.Decimal, size uint64, exec ExecCallback, admin AdminCallback) (OrderID, error) {
	return ob.replace(id, false, &submission{
		kind: submitStopLimit, buy: buy, stop: ob.grid.ladder.tickOf(stopPrice),
		tick: ob.grid.ladder.tickOf(limitPrice), size: size, exec: exec, admin: admin,
	})
}

func (ob *OrderBook) replace(id OrderID, searchLimitsFirst bool, with *submission) (OrderID, error) {
	res := ob.pipe.submit(&submission{
		kind: submitReplace, id: id, searchLimitsFirst: searchLimitsFirst, with: with,
	})
	return res.id, res.err
}

// process executes one pipeline record under the master lock. Dispatcher
// only.
func (ob *OrderBook) process(sub *submission) subResult {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.processLocked(sub)
}

func (ob *OrderBook) processLocked(sub *submission) subResult {
	switch sub.kind {
	case submitLimit:
		id, err := ob.insertLimit(sub.buy, sub.tick, sub.size, sub.exec, sub.id)
		return subResult{id: id, err: err}
	case submitMarket:
		id, err := ob.insertMarket(sub.buy, sub.size, sub.exec, sub.id)
		return subResult{id: id, err: err}
	case submitStop, submitStopLimit:
		id, err := ob.insertStop(sub.buy, sub.stop, sub.tick, sub.size, sub.exec, sub.id)
		return subResult{id: id, err: err}
	case submitPull:
		pulled, err := ob.pull(sub.id, sub.searchLimitsFirst)
		return subResult{pulled: pulled, err: err}
	case submitReplace:
		pulled, err := ob.pull(sub.id, sub.searchLimitsFirst)
		if err != nil {
			return subResult{err: err}
		}
		if !pulled {
			return subResult{}
		}
		return ob.processLocked(sub.with)
	}
	return subResult{err: fmt.Errorf("%w: unknown submission kind %d", ErrLogic, sub.kind)}
}

func (ob *OrderBook) adoptID(explicit OrderID) OrderID {
	if explicit != 0 {
		return explicit
	}
	ob.nextID++
	return ob.nextID
}

func (ob *OrderBook) insertLimit(buy bool, t Tick, size uint64, exec ExecCallback, explicit OrderID) (OrderID, error) {
	if size == 0 {
		return 0, fmt.Errorf("%w: zero size", ErrInvalidOrder)
	}
	if !ob.grid.ladder.valid(t) {
		return 0, fmt.Errorf("%w: tick %d out of range", ErrInvalidOrder, t)
	}
	id := ob.adoptID(explicit)

	rmdr := size
	if (buy && t >= ob.x.ask) || (!buy && t <= ob.x.bid) {
		rmdr = ob.trade(buy, t, size, id, exec)
	}
	if rmdr > 0 {
		c := ob.grid.at(t)
		c.limits.PushBack(&limitOrder{id: id, remaining: rmdr, exec: exec})
		ob.x.limitInserted(buy, t, c.limitSize())
	}
	ob.checkStops()
	return id, nil
}

func (ob *OrderBook) insertMarket(buy bool, size uint64, exec ExecCallback, explicit OrderID) (OrderID, error) {
	if size == 0 {
		return 0, fmt.Errorf("%w: zero size", ErrInvalidOrder)
	}
	id := ob.adoptID(explicit)
	rmdr := ob.trade(buy, tickNone, size, id, exec)
	// stops fire even on the liquidity path so fills that already happened
	// are not lost
	ob.checkStops()
	if rmdr > 0 {
		return id, &LiquidityError{Filled: size - rmdr, Requested: size}
	}
	return id, nil
}

func (ob *OrderBook) insertStop(buy bool, stopT, limitT Tick, size uint64, exec ExecCallback, explicit OrderID) (OrderID, error) {
	if size == 0 {
		return 0, fmt.Errorf("%w: zero size", ErrInvalidOrder)
	}
	if !ob.grid.ladder.valid(stopT) {
		return 0, fmt.Errorf("%w: stop tick %d out of range", ErrInvalidOrder, stopT)
	}
	if limitT != tickNone && !ob.grid.ladder.valid(limitT) {
		return 0, fmt.Errorf("%w: limit tick %d out of range", ErrInvalidOrder, limitT)
	}
	id := ob.adoptID(explicit)
	ob.grid.at(stopT).stops.PushBack(&stopOrder{id: id, buy: buy, limit: limitT, size: size, exec: exec})
	ob.x.stopInserted(buy, stopT)
	return id, nil
}

// trade consumes opposing liquidity from the inside out. limit == tickNone
// removes the price bound (market order). Returns the unfilled remainder.
func (ob *OrderBook) trade(buy bool, limit Tick, size uint64, id OrderID, exec ExecCallback) uint64 {
	for size > 0 {
		var inside Tick
		if buy {
			inside = ob.x.ask
			if int(inside) >= ob.grid.size() || (limit != tickNone && inside > limit) {
				break
			}
		} else {
			inside = ob.x.bid
			if inside < 0 || (limit != tickNone && inside < limit) {
				break
			}
		}
		if ob.grid.at(inside).limits.Len() == 0 {
			break
		}
		size = ob.hitChain(inside, size, id, exec)
		var more bool
		if buy {
			more = ob.x.findNewAsk(ob.grid)
		} else {
			more = ob.x.findNewBid(ob.grid)
		}
		if !more {
			break
		}
	}
	return size
}

// hitChain walks the limit chain at t in FIFO order, trading against each
// resting order and pushing the two deferred fill callbacks per trade. After
// the walk, exhausted orders are bulk-erased from the front.
func (ob *OrderBook) hitChain(t Tick, size uint64, takerID OrderID, takerCB ExecCallback) uint64 {
	c := ob.grid.at(t)
	for i := 0; i < c.limits.Len() && size > 0; i++ {
		rest := c.limits.At(i)
		if rest.remaining == 0 {
			continue
		}
		q := min(size, rest.remaining)
		rest.remaining -= q
		size -= q
		ob.deferred.push(MsgFill, takerCB, takerID, t, q)
		ob.deferred.push(MsgFill, rest.exec, rest.id, t, q)
		ob.recordTrade(t, q)
	}
	for c.limits.Len() > 0 && c.limits.Front().remaining == 0 {
		c.limits.PopFront()
	}
	return size
}

func (ob *OrderBook) recordTrade(t Tick, size uint64) {
	ob.last = t
	ob.lastSize = size
	ob.lastAt = time.Now()
	ob.volume += size
	ob.tape.add(TradePrint{At: ob.lastAt, Tick: t, Price: ob.grid.ladder.priceOf(t), Size: size})
	ob.needStopCheck = true
}

func (ob *OrderBook) pull(id OrderID, limitsFirst bool) (bool, error) {
	if limitsFirst {
		found, err := ob.pullLimit(id)
		if err != nil || found {
			return found, err
		}
		return ob.pullStop(id), nil
	}
	if ob.pullStop(id) {
		return true, nil
	}
	return ob.pullLimit(id)
}

func (ob *OrderBook) pullLimit(id OrderID) (bool, error) {
	for t := ob.x.lowBuyLimit; t <= ob.x.bid; t++ {
		if ok, err := ob.removeLimitAt(id, t, true); ok || err != nil {
			return ok, err
		}
	}
	for t := ob.x.ask; t <= ob.x.highSellLimit; t++ {
		if ok, err := ob.removeLimitAt(id, t, false); ok || err != nil {
			return ok, err
		}
	}
	return false, nil
}

func (ob *OrderBook) removeLimitAt(id OrderID, t Tick, buy bool) (bool, error) {
	c := ob.grid.at(t)
	i := c.limits.Index(func(o *limitOrder) bool { return o.id == id })
	if i < 0 {
		return false, nil
	}
	o := c.limits.Remove(i)
	if err := ob.x.limitPulled(ob.grid, buy, t, o.remaining, c.limits.Len() == 0); err != nil {
		return false, err
	}
	ob.deferred.push(MsgCancel, o.exec, id, t, o.remaining)
	return true, nil
}

func (ob *OrderBook) pullStop(id OrderID) bool {
	if ob.removeStopIn(id, ob.x.lowBuyStop, ob.x.highBuyStop, true) {
		return true
	}
	return ob.removeStopIn(id, ob.x.lowSellStop, ob.x.highSellStop, false)
}

func (ob *OrderBook) removeStopIn(id OrderID, lo, hi Tick, buy bool) bool {
	for t := lo; t <= hi; t++ {
		c := ob.grid.at(t)
		i := c.stops.Index(func(s *stopOrder) bool { return s.id == id && s.buy == buy })
		if i < 0 {
			continue
		}
		s := c.stops.Remove(i)
		ob.x.stopPulled(buy, t, c.stops.Len() == 0)
		ob.deferred.push(MsgCancel, s.exec, id, t, s.size)
		return true
	}
	return false
}

// GetOrderInfo describes a resting order without disturbing it. Kind ==
// OrderNone when the ID is not in the book.
func (ob *OrderBook) GetOrderInfo(id OrderID, searchLimitsFirst bool) OrderInfo {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if searchLimitsFirst {
		if info, ok := ob.limitInfo(id); ok {
			return info
		}
		if info, ok := ob.stopInfo(id); ok {
			return info
		}
	} else {
		if info, ok := ob.stopInfo(id); ok {
			return info
		}
		if info, ok := ob.limitInfo(id); ok {
			return info
		}
	}
	return OrderInfo{Kind: OrderNone}
}

func (ob *OrderBook) limitInfo(id OrderID) (OrderInfo, bool) {
	scan := func(lo, hi Tick, buy bool) (OrderInfo, bool) {
		for t := lo; t <= hi; t++ {
			c := ob.grid.at(t)
			i := c.limits.Index(func(o *limitOrder) bool { return o.id == id })
			if i < 0 {
				continue
			}
			o := c.limits.At(i)
			return OrderInfo{
				Kind: OrderLimit, Buy: buy,
				Price: ob.grid.ladder.priceOf(t), Size: o.remaining,
			}, true
		}
		return OrderInfo{}, false
	}
	if info, ok := scan(ob.x.lowBuyLimit, ob.x.bid, true); ok {
		return info, true
	}
	return scan(ob.x.ask, ob.x.highSellLimit, false)
}

func (ob *OrderBook) stopInfo(id OrderID) (OrderInfo, bool) {
	scan := func(lo, hi Tick, buy bool) (OrderInfo, bool) {
		for t := lo; t <= hi; t++ {
			c := ob.grid.at(t)
			i := c.stops.Index(func(s *stopOrder) bool { return s.id == id && s.buy == buy })
			if i < 0 {
				continue
			}
			s := c.stops.At(i)
			info := OrderInfo{
				Kind: OrderStop, Buy: buy,
				StopPrice: ob.grid.ladder.priceOf(t), Size: s.size,
			}
			if s.limit != tickNone {
				info.Kind = OrderStopLimit
				info.Price = ob.grid.ladder.priceOf(s.limit)
			}
			return info, true
		}
		return OrderInfo{}, false
	}
	if info, ok := scan(ob.x.lowBuyStop, ob.x.highBuyStop, true); ok {
		return info, true
	}
	return scan(ob.x.lowSellStop, ob.x.highSellStop, false)
}
