package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"setorin.id/notifclient/internal/application"
	"setorin.id/notifclient/internal/config"
	"setorin.id/notifclient/internal/eventbus"
	"setorin.id/notifclient/internal/hostnotify"
	"setorin.id/notifclient/internal/identity"
	"setorin.id/notifclient/internal/metrics"
	"setorin.id/notifclient/internal/proxy"
	transporthttp "setorin.id/notifclient/internal/transport/http"
	"setorin.id/notifclient/internal/transport/ws"
)

func main() {
	// ── Logging ──────────────────────────────────────────────────────────────
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// ── Config ───────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.Server.IsProduction() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("env", cfg.Server.Env).
		Str("port", cfg.Server.Port).
		Str("gateway", cfg.Gateway.URL).
		Msg("starting setorin notification client")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Metrics ──────────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// ── Identity ─────────────────────────────────────────────────────────────
	var tokens identity.TokenStore
	if cfg.Identity.Keyring {
		ring, err := identity.OpenKeyring(cfg.Identity.KeyringService)
		if err != nil {
			log.Warn().Err(err).Msg("keyring unavailable, identity will not be persisted")
		} else {
			tokens = identity.NewKeyringStore(ring)
		}
	}
	holder := identity.NewHolder(tokens)
	if err := holder.Restore(); err != nil {
		log.Warn().Err(err).Msg("failed to restore persisted identity")
	}
	if cfg.Identity.Token != "" {
		if err := holder.Set(cfg.Identity.UserID, cfg.Identity.Token); err != nil {
			log.Fatal().Err(err).Msg("configured token is unusable")
		}
	}

	// ── Gateway, Proxy & Host Notifications ──────────────────────────────────
	bus := eventbus.New()
	gateway := ws.New(cfg.Gateway.URL, bus,
		ws.WithPingInterval(cfg.Gateway.PingInterval),
		ws.WithReconnectDelay(cfg.Gateway.ReconnectDelay),
		ws.WithHandshakeTimeout(cfg.Gateway.HandshakeTimeout),
		ws.WithMetrics(m),
	)
	api := proxy.New(cfg.API.BaseURL, cfg.API.Timeout, proxy.WithMetrics(m))

	desktop := cfg.Notify.Desktop
	notifier := hostnotify.New(hostnotify.LogSink{}, func() bool { return desktop }, m)

	// ── Session Binding ──────────────────────────────────────────────────────
	binding := application.NewBinding(holder, gateway, api, bus, notifier,
		application.WithPageSize(cfg.Store.PageSize),
		application.WithStoreMetrics(m),
	)

	// ── HTTP Server ──────────────────────────────────────────────────────────
	hub := transporthttp.NewHub()
	handler := transporthttp.NewHandler(binding, hub)
	router := transporthttp.NewRouter(handler, reg)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return binding.Run(gctx)
	})

	g.Go(func() error {
		unsubscribe := binding.Subscribe(hub.Broadcast)
		defer unsubscribe()
		<-gctx.Done()
		return nil
	})

	g.Go(func() error {
		log.Info().Str("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := router.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		log.Info().Msg("HTTP server stopped")
		return nil
	})

	// ── Graceful Shutdown ────────────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := router.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("notification client exited with error")
	}

	log.Info().Msg("setorin notification client stopped")
}
