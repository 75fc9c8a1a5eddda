package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chainlist-backend/config"
	"chainlist-backend/controller"
	"chainlist-backend/dao"
	"chainlist-backend/db"
	"chainlist-backend/pkg/logging"
	"chainlist-backend/usecase"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type store interface {
	usecase.LedgerStore
	usecase.AccountStore
}

func main() {
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	// 1. Store
	var st store
	switch cfg.Store {
	case config.StoreMySQL:
		conn, err := db.Open(ctx, cfg.MySQL)
		if err != nil {
			return err
		}
		defer conn.Close()
		if err := db.Migrate(ctx, conn); err != nil {
			return err
		}
		logger.Info("connected to database", zap.String("host", cfg.MySQL.Host), zap.String("database", cfg.MySQL.Database))
		st = dao.NewMySQLStore(conn)
	default:
		logger.Warn("using in-memory store, state is lost on exit")
		st = dao.NewMemoryStore()
	}

	// 2. Dependency Injection
	hub := usecase.NewEventHub(cfg.SubscriberBuffer, logger.Named("hub"))
	ledger := usecase.NewLedgerUsecase(st, hub,
		usecase.WithLogger(logger.Named("ledger")),
		usecase.WithSelfPurchase(cfg.AllowSelfPurchase),
	)
	accounts := usecase.NewAccountUsecase(st, logger.Named("accounts"))
	if err := accounts.Seed(ctx, cfg.SeedAccounts); err != nil {
		return fmt.Errorf("seed accounts: %w", err)
	}

	// 3. Routing
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           controller.NewRouter(ledger, accounts, logger.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 4. Start Server
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.Int("port", cfg.Port), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		// Ends open event streams so Shutdown does not wait on them.
		ledger.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
