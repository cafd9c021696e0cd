package orderbook

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config fixes the price range and tick ratio of a book for its lifetime.
type Config struct {
	Reference decimal.Decimal // implied starting price; seeds the last-trade pointer
	Min       decimal.Decimal
	Max       decimal.Decimal
	TickNum   int64 // tick ratio numerator
	TickDen   int64 // tick ratio denominator

	WakerSleep   time.Duration // 0 disables the waker
	TapeCapacity int           // time-and-sales ring size; defaults to defaultTapeCapacity
}

const (
	maxTicks            = 1 << 20
	defaultTapeCapacity = 1000
)

// tickLadder converts between external decimal prices and grid ticks.
// Conversion rounds to the nearest tick.
type tickLadder struct {
	min   decimal.Decimal
	incr  decimal.Decimal
	count int
}

func newTickLadder(cfg Config) (tickLadder, error) {
	if cfg.TickNum <= 0 || cfg.TickDen <= 0 {
		return tickLadder{}, fmt.Errorf("%w: tick ratio %d/%d", ErrAllocation, cfg.TickNum, cfg.TickDen)
	}
	incr := decimal.NewFromInt(cfg.TickNum).DivRound(decimal.NewFromInt(cfg.TickDen), 12)
	if !cfg.Max.GreaterThan(cfg.Min) {
		return tickLadder{}, fmt.Errorf("%w: empty price range [%s, %s]", ErrAllocation, cfg.Min, cfg.Max)
	}
	span := cfg.Max.Sub(cfg.Min).DivRound(incr, 0).IntPart()
	count := int(span) + 1
	if count <= 1 {
		return tickLadder{}, fmt.Errorf("%w: range [%s, %s] holds no ticks", ErrAllocation, cfg.Min, cfg.Max)
	}
	if count > maxTicks {
		return tickLadder{}, fmt.Errorf("%w: %d ticks exceeds limit %d", ErrAllocation, count, maxTicks)
	}
	l := tickLadder{min: cfg.Min, incr: incr, count: count}
	if ref := l.tickOf(cfg.Reference); !l.valid(ref) {
		return tickLadder{}, fmt.Errorf("%w: reference %s outside [%s, %s]", ErrAllocation, cfg.Reference, cfg.Min, cfg.Max)
	}
	return l, nil
}

func (l tickLadder) tickOf(p decimal.Decimal) Tick {
	return Tick(p.Sub(l.min).DivRound(l.incr, 0).IntPart())
}

func (l tickLadder) priceOf(t Tick) decimal.Decimal {
	if !l.valid(t) {
		return decimal.Zero
	}
	return l.min.Add(l.incr.Mul(decimal.NewFromInt(int64(t))))
}

func (l tickLadder) valid(t Tick) bool {
	return t >= 0 && int(t) < l.count
}
