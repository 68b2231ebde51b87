package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fraudgate/internal/advisor"
	"fraudgate/internal/api"
	"fraudgate/internal/auth"
	"fraudgate/internal/config"
	"fraudgate/internal/fraud"
	"fraudgate/internal/storage"
	"fraudgate/internal/transfer"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newAdjudicator() fraud.Adjudicator {
	if a.Config.Advisor.APIKey == "" {
		return nil
	}
	return advisor.New(advisor.Options{
		APIKey:          a.Config.Advisor.APIKey,
		BaseURL:         a.Config.Advisor.BaseURL,
		Models:          a.Config.Advisor.Models,
		Timeout:         a.Config.Advisor.RequestTimeout,
		Temperature:     a.Config.Advisor.Temperature,
		MaxOutputTokens: a.Config.Advisor.MaxOutputTokens,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newEvaluator(store *storage.Store) (*fraud.Evaluator, func()) {
	var signals storage.SignalStore
	closer := func() {}
	if store != nil {
		signals = store
		if a.Config.Redis.Enabled {
			cache := storage.NewFlagCache(store, a.Config.Redis, a.Logger)
			signals = cache
			closer = func() { _ = cache.Close() }
		}
	}

	collector := fraud.NewCollector(signals, a.Logger)
	return fraud.NewEvaluator(collector, a.newAdjudicator(), a.Logger), closer
}

// Serve runs the HTTP authorization boundary until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; running with the degraded fallback policy")
	}
	if closeStore != nil {
		defer closeStore()
	}

	evaluator, closeCache := a.newEvaluator(store)
	defer closeCache()

	var transactions storage.TransactionStore
	var beneficiaries storage.BeneficiaryStore
	var events storage.FraudEventStore
	var audit storage.AuditStore
	var locker storage.UserLocker
	var pinger api.Pinger
	if store != nil {
		transactions = store
		beneficiaries = store
		events = store
		audit = store
		locker = store
		pinger = store
	}

	authorizer := transfer.NewAuthorizer(evaluator, transactions, beneficiaries, events, audit, locker, a.Logger)
	resolver := auth.NewResolver(a.Config.Auth, a.Logger)

	server := api.NewServer(evaluator, authorizer, resolver, pinger, a.Config.Auth, a.Logger)
	httpServer := api.NewHTTPServer(a.Config.Server, server.Routes())

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", httpServer.Addr).Msg("starting authorization server")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		a.Logger.Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.Config.Server.WriteTimeout)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("server terminated with error")
			return err
		}
		return nil
	}
}

// CheckOptions configure a one-off evaluation from the CLI.
type CheckOptions struct {
	UserID        string
	Amount        float64
	BeneficiaryID string
	Description   string
}

// Check performs a single fraud evaluation and returns the wire verdict.
func (a *App) Check(ctx context.Context, opts CheckOptions) (fraud.CheckResult, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return fraud.CheckResult{}, err
	}
	if closeStore != nil {
		defer closeStore()
	}

	evaluator, closeCache := a.newEvaluator(store)
	defer closeCache()

	eval := evaluator.Evaluate(ctx, opts.UserID, decimal.NewFromFloat(opts.Amount), opts.BeneficiaryID, opts.Description)
	return eval.Wire(), nil
}
