// closeall liquidates every holding at market. Manual emergency tool; it
// shares no state with the running bot.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/itaek/kw-trader/internal/broker"
	"github.com/itaek/kw-trader/internal/config"
	"github.com/itaek/kw-trader/internal/logger"
	"github.com/itaek/kw-trader/internal/protocol"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dryRun := flag.Bool("dry-run", false, "list holdings without selling")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)
	ctx := context.Background()

	proto := protocol.NewClient(cfg.Broker.Endpoint, log)
	if err := proto.Connect(ctx); err != nil {
		log.Error("broker connect failed", "error", err)
		os.Exit(1)
	}
	defer proto.Close()

	if err := proto.Login(ctx, cfg.BrokerToken()); err != nil {
		log.Error("broker login failed", "error", err)
		os.Exit(1)
	}

	gw := broker.NewGateway(proto, cfg, log)

	holdings, err := gw.GetHoldings(ctx)
	if err != nil {
		log.Error("get holdings failed", "error", err)
		os.Exit(1)
	}
	if len(holdings) == 0 {
		log.Info("no holdings to close")
		return
	}

	for _, h := range holdings {
		if h.Quantity < 1 {
			continue
		}
		if *dryRun {
			log.Info("would sell", "code", h.Code, "name", h.Name, "qty", h.Quantity)
			continue
		}

		result, err := gw.OrderSell(ctx, h.Code, h.Quantity, 0, broker.OrderMarket)
		if err != nil {
			log.Error("sell failed", "code", h.Code, "error", err)
			continue
		}
		log.Info("sell placed", "code", h.Code, "qty", h.Quantity, "order_id", result.OrderID)
	}
}
