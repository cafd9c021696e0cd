package marketmaker

import (
	"github.com/joripage/matchbook/pkg/orderbook"
	"github.com/shopspring/decimal"
)

// Simple1 quotes a fixed size one tick around the market and re-quotes the
// opposite side of every fill, capped by a maximum net position.
type Simple1 struct {
	*MarketMaker
	size   uint64
	maxPos int64
}

func NewSimple1(size uint64, maxPos int64, ext orderbook.ExecCallback) *Simple1 {
	s := &Simple1{
		MarketMaker: newMarketMaker(ext),
		size:        size,
		maxPos:      maxPos,
	}
	s.hook = s.react
	return s
}

func (s *Simple1) Start(book Book, implied decimal.Decimal) error {
	if err := s.MarketMaker.Start(book, implied); err != nil {
		return err
	}
	// opening quotes straddle the implied price
	s.tryInsert(false, implied.Add(s.tick))
	s.tryInsert(true, implied.Sub(s.tick))
	return nil
}

func (s *Simple1) react(msg orderbook.CallbackMsg, id orderbook.OrderID, price decimal.Decimal, size uint64) {
	switch msg {
	case orderbook.MsgFill:
		// mirror the fill one tick away
		s.mu.Lock()
		wasBuy := s.lastWasBuy
		s.mu.Unlock()
		if wasBuy {
			s.tryInsert(false, price.Add(s.tick))
		} else {
			s.tryInsert(true, price.Sub(s.tick))
		}
	case orderbook.MsgWake:
		if s.OpenOrders() > 0 || price.IsZero() {
			return
		}
		s.tryInsert(false, price.Add(s.tick))
		s.tryInsert(true, price.Sub(s.tick))
	}
}

func (s *Simple1) tryInsert(buy bool, price decimal.Decimal) {
	pos := s.Pos()
	if buy && pos >= s.maxPos {
		return
	}
	if !buy && pos <= -s.maxPos {
		return
	}
	if _, err := s.Insert(buy, price, s.size); err != nil {
		return
	}
}

// Simple1Factory builds n identical Simple1 agents.
func Simple1Factory(n int, size uint64, maxPos int64) []Agent {
	agents := make([]Agent, 0, n)
	for i := 0; i < n; i++ {
		agents = append(agents, NewSimple1(size, maxPos, nil))
	}
	return agents
}
