package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/wattswap/wattswap/params"
	"github.com/wattswap/wattswap/pkg/api"
	"github.com/wattswap/wattswap/pkg/ledger"
	"github.com/wattswap/wattswap/pkg/market"
	"github.com/wattswap/wattswap/pkg/token"
	"github.com/wattswap/wattswap/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.LogFile)

	// ---- Ledger ----
	store, err := ledger.Open(cfg.Ledger.DBPath, cfg.Ledger.Rent, sugar)
	if err != nil {
		sugar.Fatalw("ledger_open_failed", "path", cfg.Ledger.DBPath, "err", err)
	}
	defer store.Close()
	sugar.Infow("ledger_opened", "path", cfg.Ledger.DBPath, "rent", cfg.Ledger.Rent)

	// ---- Domain services ----
	tokens := token.NewManager(store, sugar)
	engine := market.NewEngine(store, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	server := api.NewServer(store, tokens, engine, sugar)
	sugar.Infow("node_starting", "listen", cfg.API.Listen)

	if err := server.Start(ctx, cfg.API.Listen); err != nil {
		sugar.Fatalw("api_server_failed", "err", err)
	}

	sugar.Info("node_stopped")
}
