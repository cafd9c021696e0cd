package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/joripage/matchbook/pkg/orderbook"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config controls the market-data publisher.
type Config struct {
	Interval     time.Duration
	TapeChannel  string
	QuoteChannel string
}

// TapeMsg is one published trade print.
type TapeMsg struct {
	Price string `json:"price"`
	Size  uint64 `json:"size"`
	At    int64  `json:"at"` // unix nanos
}

// QuoteMsg is one published top-of-book snapshot.
type QuoteMsg struct {
	Bid     string `json:"bid"`
	BidSize uint64 `json:"bid_size"`
	Ask     string `json:"ask"`
	AskSize uint64 `json:"ask_size"`
	Last    string `json:"last"`
	Volume  uint64 `json:"volume"`
}

// Feed polls the book on an interval and publishes new trade prints and the
// current quote to redis channels.
type Feed struct {
	cfg  Config
	rdb  *redis.Client
	book *orderbook.OrderBook

	lastSeen time.Time
	stopCh   chan struct{}
	done     chan struct{}
}

func NewFeed(cfg Config, rdb *redis.Client, book *orderbook.OrderBook) *Feed {
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	if cfg.TapeChannel == "" {
		cfg.TapeChannel = "matchbook.tape"
	}
	if cfg.QuoteChannel == "" {
		cfg.QuoteChannel = "matchbook.quote"
	}
	return &Feed{
		cfg:    cfg,
		rdb:    rdb,
		book:   book,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (f *Feed) Start(ctx context.Context) {
	go f.run(ctx)
}

func (f *Feed) Stop() {
	close(f.stopCh)
	<-f.done
}

func (f *Feed) run(ctx context.Context) {
	defer close(f.done)
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.publishTape(ctx)
			f.publishQuote(ctx)
		}
	}
}

func (f *Feed) publishTape(ctx context.Context) {
	prints := f.book.TimeAndSales()
	for _, p := range prints {
		if !p.At.After(f.lastSeen) {
			continue
		}
		f.lastSeen = p.At
		f.publish(ctx, f.cfg.TapeChannel, TapeMsg{
			Price: p.Price.String(),
			Size:  p.Size,
			At:    p.At.UnixNano(),
		})
	}
}

func (f *Feed) publishQuote(ctx context.Context) {
	bid, bidSize := f.book.BestBid()
	ask, askSize := f.book.BestAsk()
	last, _, _ := f.book.LastTrade()
	f.publish(ctx, f.cfg.QuoteChannel, QuoteMsg{
		Bid:     bid.String(),
		BidSize: bidSize,
		Ask:     ask.String(),
		AskSize: askSize,
		Last:    last.String(),
		Volume:  f.book.TotalVolume(),
	})
}

func (f *Feed) publish(ctx context.Context, channel string, msg any) {
	payload, err := json.Marshal(msg)
	if err != nil {
		zap.S().Errorw("marshal feed message", "err", err)
		return
	}

	boff := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	err = backoff.Retry(func() error {
		return f.rdb.Publish(ctx, channel, payload).Err()
	}, boff)
	if err != nil {
		zap.S().Warnw("publish feed message", "channel", channel, "err", err)
	}
}
