package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wealthpath/buckets/internal/config"
	"github.com/wealthpath/buckets/internal/docstore"
	"github.com/wealthpath/buckets/internal/docstore/firestore"
	"github.com/wealthpath/buckets/internal/docstore/memory"
	"github.com/wealthpath/buckets/internal/docstore/postgres"
	"github.com/wealthpath/buckets/internal/handler"
	"github.com/wealthpath/buckets/internal/identity"
	"github.com/wealthpath/buckets/internal/logger"
	"github.com/wealthpath/buckets/internal/scheduler"
	"github.com/wealthpath/buckets/internal/service"
	"github.com/wealthpath/buckets/internal/session"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup structured logger
	log := logger.Setup(os.Stdout, cfg.Env, cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx := context.Background()

	store, closer, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	// Initialize services
	issuer := identity.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)
	accounts := identity.NewAccounts(store, issuer, log)
	sessions := session.NewManager(store, accounts, cfg, log)
	billing := service.NewBillingService(accounts, sessions, cfg.BillingWebhookSecret, log)
	counters := service.NewCounterService(store, log)

	r := handler.NewRouter(handler.RouterDeps{
		Config:   cfg,
		Tokens:   issuer,
		Accounts: accounts,
		Sessions: sessions,
		Billing:  billing,
	})

	sched := scheduler.New(scheduler.Config{
		Schedule:   cfg.Reconcile.Schedule,
		Timeout:    cfg.Reconcile.Timeout,
		Enabled:    cfg.Reconcile.Enabled,
		EvictEvery: cfg.SessionEvictInterval,
	}, counters, sessions, log)
	if err := sched.Start(); err != nil {
		log.Error("Failed to start scheduler", slog.String("error", err.Error()))
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Handle graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("Shutting down server...")

		// Stop scheduler first
		<-sched.Stop().Done()
		log.Info("Scheduler stopped")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Error("Server shutdown error", slog.String("error", err.Error()))
		}
		// Pending budget edits are written before the store closes.
		if err := sessions.Shutdown(ctx); err != nil {
			log.Error("Flushing sessions failed", slog.String("error", err.Error()))
		}
	}()

	log.Info("Server starting", slog.String("port", cfg.Port), slog.String("store", cfg.StoreBackend))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listening: %w", err)
	}
	<-done
	return nil
}

// openStore selects the document store backend.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (docstore.Store, io.Closer, error) {
	switch cfg.StoreBackend {
	case "postgres":
		db, err := postgres.Open(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, nil, err
		}
		return postgres.New(db, log), db, nil
	case "firestore":
		if cfg.FirestoreProjectID == "" {
			return nil, nil, errors.New("FIRESTORE_PROJECT_ID is required for the firestore backend")
		}
		fs, err := firestore.Open(ctx, cfg.FirestoreProjectID, log)
		if err != nil {
			return nil, nil, err
		}
		return fs, fs, nil
	case "memory", "":
		log.Warn("using in-memory document store, data is lost on restart")
		return memory.New(), io.NopCloser(nil), nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}
