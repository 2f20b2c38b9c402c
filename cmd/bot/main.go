package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/itaek/kw-trader/internal/account"
	"github.com/itaek/kw-trader/internal/ai"
	"github.com/itaek/kw-trader/internal/broker"
	"github.com/itaek/kw-trader/internal/config"
	"github.com/itaek/kw-trader/internal/executor"
	"github.com/itaek/kw-trader/internal/krx"
	"github.com/itaek/kw-trader/internal/logger"
	"github.com/itaek/kw-trader/internal/market"
	"github.com/itaek/kw-trader/internal/orchestrator"
	"github.com/itaek/kw-trader/internal/position"
	"github.com/itaek/kw-trader/internal/protocol"
	"github.com/itaek/kw-trader/internal/risk"
	"github.com/itaek/kw-trader/internal/scanner"
	sig "github.com/itaek/kw-trader/internal/signal"
	"github.com/itaek/kw-trader/internal/storage"
	"github.com/itaek/kw-trader/internal/telegram"
	"github.com/itaek/kw-trader/internal/web"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	dbPath := flag.String("db", "data/kw-trader.db", "path to SQLite database")
	flag.Parse()

	// .env is optional; it only overrides the broker token
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)
	log.Info("starting kw-trader", "endpoint", cfg.Broker.Endpoint)

	db, err := storage.NewDatabase(*dbPath)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	repo := storage.NewRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Broker session: the one startup failure that halts the process.
	proto := protocol.NewClient(cfg.Broker.Endpoint, log)
	if err := proto.Connect(ctx); err != nil {
		log.Error("broker connect failed", "error", err)
		os.Exit(1)
	}
	if err := proto.Login(ctx, cfg.BrokerToken()); err != nil {
		log.Error("broker login failed", "error", err)
		os.Exit(1)
	}
	gw := broker.NewGateway(proto, cfg, log)

	notifier := telegram.NewNotifier(cfg, log)
	acct := account.NewState(log)
	tracker := position.NewTracker(log)
	riskMgr := risk.NewManager(cfg, log)
	detector := sig.NewDetector(cfg, log)
	mon := market.NewMonitor(gw, krx.NewClient(log), cfg, log)

	var scorer scanner.Scorer
	if cfg.AI.Enabled {
		scorer = ai.NewClient(cfg, log)
	}
	scan := scanner.NewScanner(gw, mon, scanner.NewValidator(cfg), scorer, repo, cfg, log)

	exec := executor.NewExecutor(gw, gw, acct, riskMgr, repo, notifier, cfg, log)
	orch := orchestrator.New(gw, mon, scan, detector, exec, tracker, acct, riskMgr, repo, notifier, cfg, log)

	if err := orch.Initialize(ctx); err != nil {
		log.Error("orchestrator init failed", "error", err)
		os.Exit(1)
	}
	if err := orch.RunConditionFiltering(ctx); err != nil {
		log.Warn("initial watchlist refresh failed", "error", err)
	}

	webServer := web.NewServer(orch, repo, cfg, log)

	loopDone := make(chan struct{})
	go func() {
		orch.MonitorAndTrade(ctx)
		close(loopDone)
	}()

	go func() {
		if err := webServer.Start(); err != nil {
			log.Error("web server error", "error", err)
		}
	}()

	notifier.NotifyStatus("🤖 kw-trader started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", "signal", sig.String())

	cancel()
	<-loopDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Error("web server shutdown error", "error", err)
	}
	if err := proto.Close(); err != nil {
		log.Error("broker channel close error", "error", err)
	}

	log.Info("kw-trader stopped")
}
