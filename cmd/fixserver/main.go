package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joripage/matchbook/config"
	"github.com/joripage/matchbook/pkg/fixgate"
	"github.com/joripage/matchbook/pkg/logging"
	"github.com/joripage/matchbook/pkg/orderbook"
)

func main() {
	configFile := flag.String("config", "./config/fixserver.yaml", "config file path")
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

	if cfg.Fix == nil || !cfg.Fix.Enable {
		log.Fatalf("fix gateway disabled in config")
	}
	gw := fixgate.NewGateway(book)
	if err := gw.Start(cfg.Fix.ConfigFile); err != nil {
		log.Fatalf("start fix gateway: %v", err)
	}
	defer gw.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
