package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/joripage/matchbook/config"
	"github.com/joripage/matchbook/pkg/feed"
	redis_wrapper "github.com/joripage/matchbook/pkg/infra/redis"
	"github.com/joripage/matchbook/pkg/logging"
	"github.com/joripage/matchbook/pkg/marketmaker"
	"github.com/joripage/matchbook/pkg/orderbook"
	"github.com/shopspring/decimal"
)

func main() {
	var (
		configFile = flag.String("config", "./config/simulator.yaml", "config file path")
		duration   = flag.Duration("duration", 30*time.Second, "simulation run time")
		nSimple    = flag.Int("simple", 2, "number of simple market makers")
		nRandom    = flag.Int("random", 3, "number of random market makers")
	)
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	undo := logging.Init(logging.ParseLevel(cfg.LogLevel))
	defer undo()

	engineCfg, err := cfg.Engine.OrderbookConfig()
	if err != nil {
		log.Fatalf("engine config: %v", err)
	}
	book, err := orderbook.New(engineCfg)
	if err != nil {
		log.Fatalf("new order book: %v", err)
	}
	defer book.Close()

	if cfg.Feed != nil && cfg.Feed.Enable {
		rdb, err := redis_wrapper.InitRedis(cfg.Redis)
		if err != nil {
			log.Fatalf("init redis: %v", err)
		}
		f := feed.NewFeed(feed.Config{
			Interval:     time.Duration(cfg.Feed.IntervalMs) * time.Millisecond,
			TapeChannel:  cfg.Feed.TapeChannel,
			QuoteChannel: cfg.Feed.QuoteChannel,
		}, rdb, book)
		f.Start(context.Background())
		defer f.Stop()
	}

	implied, _ := decimal.NewFromString(cfg.Engine.ReferencePrice)
	agents := marketmaker.Simple1Factory(*nSimple, 10, 500)
	agents = append(agents, marketmaker.RandomFactory(*nRandom, 1, 20, 200, marketmaker.DispersionModerate)...)
	if err := marketmaker.StartAll(book, implied, agents...); err != nil {
		log.Fatalf("start agents: %v", err)
	}

	fmt.Printf("running %d agents for %s\n", len(agents), *duration)
	time.Sleep(*duration)
	marketmaker.StopAll(agents...)

	last, size, at := book.LastTrade()
	fmt.Printf("total volume: %d\n", book.TotalVolume())
	fmt.Printf("last trade:   %d @ %s (%s)\n", size, last, at.Format(time.RFC3339Nano))
	fmt.Println("buy limits:")
	for _, lvl := range book.DumpBuyLimits() {
		fmt.Printf("  %s  %d\n", lvl.Price, lvl.Size)
	}
	fmt.Println("sell limits:")
	for _, lvl := range book.DumpSellLimits() {
		fmt.Printf("  %s  %d\n", lvl.Price, lvl.Size)
	}
	fmt.Printf("time and sales: %d prints retained\n", len(book.TimeAndSales()))
}
