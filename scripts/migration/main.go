package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"chainlist-backend/config"
	"chainlist-backend/db"
	"chainlist-backend/pkg/logging"

	"go.uber.org/zap"
)

func main() {
	reset := flag.Bool("reset", false, "delete all ledger rows after migrating")
	flag.Parse()

	// Load Env (.env file, then shell)
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := db.Open(ctx, cfg.MySQL)
	if err != nil {
		logger.Fatal("connect", zap.Error(err))
	}
	defer conn.Close()

	// 1. Create tables
	logger.Info("applying migrations", zap.String("database", cfg.MySQL.Database))
	if err := db.Migrate(ctx, conn); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	// 2. Optionally wipe rows
	if *reset {
		logger.Warn("resetting ledger tables")
		if err := db.Reset(ctx, conn); err != nil {
			logger.Fatal("reset", zap.Error(err))
		}
	}

	logger.Info("migration done")
}
