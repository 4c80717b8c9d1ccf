package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/cartsync/internal"
	"github.com/dukerupert/cartsync/internal/cart"
	"github.com/dukerupert/cartsync/internal/domain"
	"github.com/dukerupert/cartsync/internal/gateway"
	"github.com/dukerupert/cartsync/internal/guestcart"
	"github.com/dukerupert/cartsync/internal/handler/api"
	"github.com/dukerupert/cartsync/internal/middleware"
	"github.com/dukerupert/cartsync/internal/router"
	"github.com/dukerupert/cartsync/internal/routes"
	"github.com/dukerupert/cartsync/internal/session"
	"github.com/dukerupert/cartsync/internal/storage"
	"github.com/dukerupert/cartsync/internal/telemetry"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize Sentry error tracking
	sentryCleanup, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:              cfg.Sentry.DSN,
		Enabled:          cfg.Sentry.Enabled,
		Environment:      cfg.Sentry.Environment,
		Release:          cfg.Sentry.Release,
		SampleRate:       cfg.Sentry.SampleRate,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
		Debug:            cfg.Sentry.Debug,
	}, logger)
	if err != nil {
		logger.Warn("Failed to initialize Sentry, continuing without error tracking", "error", err)
	} else {
		defer sentryCleanup()
	}

	// ==========================================================================
	// Guest cart persistence
	// ==========================================================================

	logger.Info("Initializing guest cart storage...", "provider", cfg.Storage.Provider)
	backend, err := storage.NewStorage(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if closer, ok := backend.(io.Closer); ok {
		defer closer.Close()
	}
	guest := guestcart.New(backend, internal.Component(logger, "guestcart"))
	logger.Info("Guest cart storage ready", "provider", cfg.Storage.Provider, "has_guest_cart", guest.Exists(ctx))

	// ==========================================================================
	// Session
	// ==========================================================================

	sessionSignal := session.NewSignal(nil)

	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("cartsync"),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warn("NATS disconnected", "error", err)
				}
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer nc.Drain()

		bridge := session.NewNATSBridge(sessionSignal, internal.Component(logger, "session"))
		if err := bridge.Subscribe(nc, cfg.NATS.Subject); err != nil {
			return err
		}
		defer bridge.Close()
	}

	// ==========================================================================
	// Metrics
	// ==========================================================================

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	cartMetrics := telemetry.NewCartMetrics(cfg.Metrics.Namespace, registry)
	httpMetrics := middleware.NewMetrics(cfg.Metrics.Namespace, registry)

	// ==========================================================================
	// Cart engine
	// ==========================================================================

	client := gateway.New(gateway.Config{
		BaseURL: cfg.Cart.APIURL,
		Timeout: cfg.Cart.Timeout,
	}, sessionSignal.Token, cartMetrics, internal.Component(logger, "gateway"))

	store := cart.NewStore(domain.NewGuestCart(nil))
	products := cart.NewProductCache()
	store.Subscribe(products.Learn)

	engineLogger := internal.Component(logger, "cart")
	engine := cart.NewEngine(ctx, store, guest, client, sessionSignal, engineLogger, cartMetrics, cart.Options{
		Catalog:       products,
		ClearOnLogout: cfg.Cart.ClearOnLogout,
		OnMerge: func(r cart.MergeReport) {
			telemetry.AddBreadcrumb("cart", r.Summary(), map[string]interface{}{
				"user_id":   r.UserID,
				"attempted": r.Attempted,
				"restored":  r.Restored,
				"failed":    len(r.Failed),
			})
		},
	})
	engine.Start(ctx)

	updater := cart.NewUpdater(engine,
		cart.WithQuietPeriod(cfg.Cart.Debounce),
		cart.WithLogger(engineLogger),
	)

	// ==========================================================================
	// HTTP API
	// ==========================================================================

	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer limiter.Stop()

	currentUserID := func() string {
		if u := sessionSignal.Current(); u != nil {
			return u.ID
		}
		return ""
	}

	r := router.New(
		router.Recovery(logger),
		middleware.RequestID,
		telemetry.SentryMiddleware(),
		httpMetrics.Middleware,
		middleware.WithRequestLogger(logger, currentUserID),
		router.Logger(logger),
		router.CORS(cfg.HTTP.AllowedOrigins),
	)

	routes.RegisterOpsRoutes(r, routes.OpsDeps{Metrics: httpMetrics.Handler()})
	routes.RegisterAPIRoutes(r, routes.APIDeps{
		CartHandler:    api.NewCartHandler(engine, updater, logger),
		SessionHandler: api.NewSessionHandler(sessionSignal, engine, engine.Wait, logger),
		RateLimiter:    limiter,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Cart.Timeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting cart API", "address", srv.Addr, "cart_api", cfg.Cart.APIURL)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}

	// Reject new intents, then let in-flight quantity updates and resyncs land.
	done := make(chan struct{})
	go func() {
		updater.Close()
		engine.Close()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("Cart engine stopped")
	case <-shutdownCtx.Done():
		logger.Warn("Timed out waiting for cart engine to stop")
	}

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
