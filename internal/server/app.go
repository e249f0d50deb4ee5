// Package server initializes and runs the auth service: it opens the
// database, applies migrations, wires the identity service with its mail
// dispatcher, and starts the HTTP server with graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/avolkau/wayfinder-auth/internal/auth"
	"github.com/avolkau/wayfinder-auth/internal/logging"
	"github.com/avolkau/wayfinder-auth/internal/server/config"
	"github.com/avolkau/wayfinder-auth/internal/server/identity"
	"github.com/avolkau/wayfinder-auth/internal/server/notify"
	"github.com/avolkau/wayfinder-auth/internal/server/repositories/repomanager"
	"github.com/avolkau/wayfinder-auth/internal/server/web"
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	service    *identity.Service
	signer     *auth.Signer
	dispatcher *notify.Dispatcher
	limiter    *web.PerKeyLimiter
	registry   *prometheus.Registry
	handler    *web.Handler
}

func NewApp(cfg *config.Config) (*App, error) {

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	m := repomanager.NewPostgresRepositoryManager()
	if err := m.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	smtpCfg, err := notify.SMTPConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("smtp config error: %w", err)
	}
	var sender notify.Sender = notify.NoopSender{}
	if smtpCfg.Enabled() {
		sender = notify.NewSMTPSender(smtpCfg)
	} else {
		logger.Warn(context.Background(), "SMTP is not configured, emails will be dropped")
	}
	dispatcher := notify.NewDispatcher(sender, cfg.PublicBaseURL, logger)

	signer := auth.NewSigner([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTokenValidity)
	service := identity.NewService(db, m, signer, dispatcher, logger, cfg)

	registry := prometheus.NewRegistry()
	metrics := web.NewCollector(registry)
	limiter := web.NewPerKeyLimiter(cfg.LoginRatePerMinute)

	handler := web.NewHandler(service, signer, logger, metrics, limiter)

	return &App{
		config:     cfg,
		logger:     logger,
		db:         db,
		service:    service,
		signer:     signer,
		dispatcher: dispatcher,
		limiter:    limiter,
		registry:   registry,
		handler:    handler,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	router := web.NewRouter(app.handler, app.signer, app.registry)
	s := web.NewServer(app.config.EndpointAddrHTTP, router, app.logger)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	app.limiter.Stop()
	app.dispatcher.Close()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "closing db", "error", err.Error())
	}
}
