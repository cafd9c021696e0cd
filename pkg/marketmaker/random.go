package marketmaker

import (
	"math/rand"
	"sync"
	"time"

	"github.com/joripage/matchbook/pkg/orderbook"
	"github.com/shopspring/decimal"
)

// Dispersion widens the tick band a Random agent quotes into.
type Dispersion int

const (
	DispersionNone     Dispersion = 1
	DispersionLow      Dispersion = 3
	DispersionModerate Dispersion = 5
	DispersionHigh     Dispersion = 7
	DispersionVeryHigh Dispersion = 10
)

// Random quotes randomized sizes at randomized distances from the last
// trade on each wake, leaning against its own position.
type Random struct {
	*MarketMaker
	szLow, szHigh uint64
	maxPos        int64
	disp          Dispersion

	rmu sync.Mutex
	rnd *rand.Rand
}

func NewRandom(szLow, szHigh uint64, maxPos int64, d Dispersion, ext orderbook.ExecCallback) *Random {
	r := &Random{
		MarketMaker: newMarketMaker(ext),
		szLow:       szLow,
		szHigh:      szHigh,
		maxPos:      maxPos,
		disp:        d,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	r.hook = r.react
	return r
}

func (r *Random) Start(book Book, implied decimal.Decimal) error {
	if err := r.MarketMaker.Start(book, implied); err != nil {
		return err
	}
	r.quoteAround(implied)
	return nil
}

func (r *Random) react(msg orderbook.CallbackMsg, id orderbook.OrderID, price decimal.Decimal, size uint64) {
	if msg != orderbook.MsgWake || price.IsZero() {
		return
	}
	r.quoteAround(price)
}

func (r *Random) quoteAround(mid decimal.Decimal) {
	pos := r.Pos()
	buy := r.flip()
	// lean against the position once it reaches the cap
	if pos >= r.maxPos {
		buy = false
	} else if pos <= -r.maxPos {
		buy = true
	}

	offset := r.tick.Mul(decimal.NewFromInt(r.ticksAway()))
	price := mid.Add(offset)
	if buy {
		price = mid.Sub(offset)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return
	}
	if _, err := r.Insert(buy, price, r.size()); err != nil {
		return
	}
}

func (r *Random) size() uint64 {
	r.rmu.Lock()
	defer r.rmu.Unlock()
	if r.szHigh <= r.szLow {
		return r.szLow
	}
	return r.szLow + uint64(r.rnd.Int63n(int64(r.szHigh-r.szLow+1)))
}

func (r *Random) ticksAway() int64 {
	r.rmu.Lock()
	defer r.rmu.Unlock()
	return 1 + r.rnd.Int63n(int64(r.disp))
}

func (r *Random) flip() bool {
	r.rmu.Lock()
	defer r.rmu.Unlock()
	return r.rnd.Intn(2) == 0
}

// RandomFactory builds n Random agents with independent seeds.
func RandomFactory(n int, szLow, szHigh uint64, maxPos int64, d Dispersion) []Agent {
	agents := make([]Agent, 0, n)
	for i := 0; i < n; i++ {
		agents = append(agents, NewRandom(szLow, szHigh, maxPos, d, nil))
	}
	return agents
}
