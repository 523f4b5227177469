package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/jrsteele09/go-oidc-engine/internal/config"
	"github.com/jrsteele09/go-oidc-engine/internal/telemetry"
	"github.com/jrsteele09/go-oidc-engine/server"
	"github.com/jrsteele09/go-oidc-engine/token/keys"
)

func main() {
	configPath := flag.String("config", config.GetEnv("OIDC_CONFIG", ""), "path to a yaml, json or toml configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run(configPath string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	log.Logger = logger
	displayAppname(cfg.Server.AppName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Err(err).Msg("failed to close stores")
		}
	}()

	cat, err := loadCatalog(ctx, cfg.Bootstrap.CatalogPath)
	if err != nil {
		return err
	}
	if cfg.Bootstrap.Enabled {
		password, err := server.InitialiseSystem(ctx, cfg, cat.clients, cat.users, logger)
		if err != nil {
			return err
		}
		if password != "" {
			logger.Warn().
				Str("username", cfg.Bootstrap.AdminUser).
				Str("password", password).
				Msg("generated administrator password, it must be changed on first login")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tel, err := telemetry.New(otel.GetTracerProvider(), registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	deps := server.Dependencies{
		Grants:    st.grants,
		Sessions:  st.sessions,
		Keys:      st.keys,
		Clients:   cat.clients,
		Resources: cat.resources,
		Users:     cat.users,
		Throttle:  st.throttle,
	}
	if secret := cfg.KeyManagement.DataProtectionSecret; secret != "" {
		protector, err := keys.NewChaChaProtector(secret)
		if err != nil {
			return err
		}
		deps.KeyProtector = protector
	}
	components, err := server.NewComponents(cfg, deps, tel, logger)
	if err != nil {
		return err
	}

	handler := server.New(cfg, components,
		server.WithLogger(logger),
		server.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	httpServer := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Cleanup.Enabled {
		if err := components.TokenCleanup.Start(gctx); err != nil {
			return err
		}
		defer components.TokenCleanup.Stop()
	}
	if cfg.ServerSideSessions.RemoveExpiredSessions {
		if err := components.SessionCleanup.Start(gctx); err != nil {
			return err
		}
		defer components.SessionCleanup.Stop()
	}

	g.Go(func() error {
		return listenAndServe(httpServer, logger)
	})
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(httpServer, cfg.Server.ShutdownTimeout)
	})
	return g.Wait()
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Logging.Pretty || cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("app", cfg.Server.AppName).Logger()
}

func listenAndServe(server *http.Server, logger zerolog.Logger) error {
	logger.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func shutdown(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
