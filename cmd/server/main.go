package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tillworks/posprint/internal/api"
	"github.com/tillworks/posprint/internal/config"
	"github.com/tillworks/posprint/internal/controller"
	"github.com/tillworks/posprint/internal/grants"
	"github.com/tillworks/posprint/internal/orders"
	"github.com/tillworks/posprint/internal/store"
	"github.com/tillworks/posprint/internal/transport"
)

// Version is set during build via ldflags
var Version = "dev"

// staticAccounts serves one configured business name for every tenant.
// Single-store deployments set BUSINESS_NAME and skip the accounts
// backend entirely.
type staticAccounts string

func (s staticAccounts) BusinessName(ctx context.Context, userID string) (string, error) {
	return string(s), nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("failed to load configuration")
	}

	log := newLogger(cfg.LogLevel)
	log.Info().Str("version", Version).Msg("posprint starting")

	st, err := store.Open(cfg.DatabasePath, log)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("failed to open database")
	}

	registry, err := grants.New(cfg.GrantsPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.GrantsPath).Msg("failed to load device grants")
	}

	hub := transport.NewUSBHub(transport.GousbHost{}, registry, transport.AutoApprovePrompt{}, log)

	ctrl := controller.New(controller.Deps{
		Store:     st,
		Hub:       hub,
		Orders:    orders.NewClient(cfg.OrdersBaseURL, nil, log),
		Accounts:  staticAccounts(cfg.BusinessName),
		ProxyBase: cfg.ProxyBaseURL,
		Logger:    log,
	})

	server := api.NewServer(ctrl, log)

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("address", cfg.ServerAddress).Msg("api server listening")
		serverErr <- server.Run(cfg.ServerAddress)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatal().Err(err).Msg("api server failed")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}
