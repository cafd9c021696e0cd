package marketmaker

import (
	"errors"
	"sync"
	"time"

	"github.com/joripage/matchbook/pkg/orderbook"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	errAlreadyRunning = errors.New("market maker already running")
	errNotRunning     = errors.New("market maker not running")
)

// Book is the narrow engine surface agents need. Agents hold this view and
// the engine holds only their callback, so neither owns the other.
type Book interface {
	InsertLimit(buy bool, price decimal.Decimal, size uint64, exec orderbook.ExecCallback, admin orderbook.AdminCallback) (orderbook.OrderID, error)
	PullOrder(id orderbook.OrderID, searchLimitsFirst bool) bool
	RegisterWaker(cb orderbook.ExecCallback)
	TickSize() decimal.Decimal
	LastTrade() (decimal.Decimal, uint64, time.Time)
}

// Agent is anything the simulator can start against a book.
type Agent interface {
	Start(book Book, implied decimal.Decimal) error
	Stop()
}

type openOrder struct {
	buy   bool
	price decimal.Decimal
	size  uint64
}

// MarketMaker is the base agent: it tracks its open orders, net position and
// working size per side, and fans each callback out to the bookkeeping, an
// optional external observer, and the strategy hook.
type MarketMaker struct {
	mu       sync.Mutex
	book     Book
	tick     decimal.Decimal
	running  bool
	myOrders map[orderbook.OrderID]openOrder

	pos        int64
	bidOut     uint64
	offerOut   uint64
	lastWasBuy bool

	ext  orderbook.ExecCallback // external observer, may be nil
	hook orderbook.ExecCallback // strategy reaction, set by variants
}

func newMarketMaker(ext orderbook.ExecCallback) *MarketMaker {
	return &MarketMaker{
		myOrders: make(map[orderbook.OrderID]openOrder),
		ext:      ext,
	}
}

// Start binds the agent to a book and subscribes it to wake pings.
func (mm *MarketMaker) Start(book Book, implied decimal.Decimal) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.running {
		return errAlreadyRunning
	}
	mm.book = book
	mm.tick = book.TickSize()
	mm.running = true
	book.RegisterWaker(mm.Callback)
	return nil
}

// Stop pulls every open order and stops reacting. The waker registration
// stays; wakes on a stopped agent are ignored.
func (mm *MarketMaker) Stop() {
	mm.mu.Lock()
	if !mm.running {
		mm.mu.Unlock()
		return
	}
	mm.running = false
	book := mm.book
	open := make([]orderbook.OrderID, 0, len(mm.myOrders))
	for id := range mm.myOrders {
		open = append(open, id)
	}
	mm.mu.Unlock()

	for _, id := range open {
		book.PullOrder(id, true)
	}
}

// Insert places a limit order owned by this agent.
func (mm *MarketMaker) Insert(buy bool, price decimal.Decimal, size uint64) (orderbook.OrderID, error) {
	mm.mu.Lock()
	if !mm.running {
		mm.mu.Unlock()
		return 0, errNotRunning
	}
	book := mm.book
	mm.mu.Unlock()

	return book.InsertLimit(buy, price, size, mm.Callback, func(id orderbook.OrderID) {
		mm.mu.Lock()
		mm.myOrders[id] = openOrder{buy: buy, price: price, size: size}
		if buy {
			mm.bidOut += size
		} else {
			mm.offerOut += size
		}
		mm.mu.Unlock()
	})
}

// Callback is the agent's execution callback: bookkeeping first, then the
// external observer, then the strategy hook.
func (mm *MarketMaker) Callback(msg orderbook.CallbackMsg, id orderbook.OrderID, price decimal.Decimal, size uint64) {
	mm.baseCallback(msg, id, price, size)
	if mm.ext != nil {
		mm.ext(msg, id, price, size)
	}
	mm.mu.Lock()
	hook, running := mm.hook, mm.running
	mm.mu.Unlock()
	if running && hook != nil {
		hook(msg, id, price, size)
	}
}

func (mm *MarketMaker) baseCallback(msg orderbook.CallbackMsg, id orderbook.OrderID, price decimal.Decimal, size uint64) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	switch msg {
	case orderbook.MsgFill:
		o, ok := mm.myOrders[id]
		if !ok {
			// fill raced the admission record; position tracking skips it
			zap.S().Debugw("fill for untracked order", "id", id)
			return
		}
		mm.lastWasBuy = o.buy
		if o.buy {
			mm.pos += int64(size)
			mm.bidOut -= size
		} else {
			mm.pos -= int64(size)
			mm.offerOut -= size
		}
		o.size -= size
		if o.size == 0 {
			delete(mm.myOrders, id)
		} else {
			mm.myOrders[id] = o
		}
	case orderbook.MsgCancel:
		o, ok := mm.myOrders[id]
		if !ok {
			return
		}
		if o.buy {
			mm.bidOut -= o.size
		} else {
			mm.offerOut -= o.size
		}
		delete(mm.myOrders, id)
	case orderbook.MsgStopToLimit, orderbook.MsgWake:
	}
}

// Pos returns the agent's net position.
func (mm *MarketMaker) Pos() int64 {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.pos
}

// BidOut returns working buy size.
func (mm *MarketMaker) BidOut() uint64 {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.bidOut
}

// OfferOut returns working sell size.
func (mm *MarketMaker) OfferOut() uint64 {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.offerOut
}

// OpenOrders returns how many orders the agent is resting.
func (mm *MarketMaker) OpenOrders() int {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return len(mm.myOrders)
}

// StartAll binds a set of agents to one book around an implied price.
func StartAll(book Book, implied decimal.Decimal, agents ...Agent) error {
	for _, a := range agents {
		if err := a.Start(book, implied); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every agent.
func StopAll(agents ...Agent) {
	for _, a := range agents {
		a.Stop()
	}
}
