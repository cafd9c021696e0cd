package orderbook

import (
	"github.com/gammazero/deque"
)

// cell is one price point of the grid. Both chains are FIFO in arrival order;
// that ordering is the time-priority guarantee.
type cell struct {
	limits deque.Deque[*limitOrder]
	stops  deque.Deque[*stopOrder]
}

func (c *cell) limitSize() uint64 {
	var total uint64
	for i := 0; i < c.limits.Len(); i++ {
		total += c.limits.At(i).remaining
	}
	return total
}

// priceGrid is a dense preallocated array of cells indexed by tick. O(1)
// random access to any price point; fixed for the lifetime of the book.
type priceGrid struct {
	ladder tickLadder
	cells  []cell
}

func newPriceGrid(cfg Config) (*priceGrid, error) {
	ladder, err := newTickLadder(cfg)
	if err != nil {
		return nil, err
	}
	return &priceGrid{
		ladder: ladder,
		cells:  make([]cell, ladder.count),
	}, nil
}

func (g *priceGrid) size() int { return len(g.cells) }

func (g *priceGrid) at(t Tick) *cell { return &g.cells[t] }
