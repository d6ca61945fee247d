// Command server runs the authcore authentication service.
//
// Configuration is read from a YAML file (see config.Load for discovery)
// with AUTHCORE_* environment overrides. A .env file in the working
// directory is loaded first when present.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/rhuss/authcore/pkg/config"
	"github.com/rhuss/authcore/pkg/debug"
	"github.com/rhuss/authcore/pkg/session"
	transporthttp "github.com/rhuss/authcore/pkg/transport/http"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := debug.Setup(debug.Options{
		Categories: cfg.Logging.Debug,
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	manager := session.NewManager(stores.users, stores.sessions, sessionConfig(cfg.Session))
	if err := manager.PromoteAdmins(ctx, cfg.Auth.AdminEmails); err != nil {
		return fmt.Errorf("promoting admins: %w", err)
	}

	if cfg.Session.SweepInterval > 0 {
		go session.NewSweeper(manager, cfg.Session.SweepInterval).Run(ctx)
	}

	linker, err := buildLinker(ctx, cfg.OAuth, stores.accounts)
	if err != nil {
		return err
	}

	gate, err := buildGate(cfg.Auth, manager, stores.users)
	if err != nil {
		return err
	}

	limiter := buildLimiter(cfg.RateLimit)
	defer limiter.Stop()

	svc := transporthttp.Services{
		Sessions: manager,
		Users:    manager,
		Gate:     gate,
		Limiter:  limiter,
		Health:   stores.health,
	}
	if linker != nil {
		svc.Identity = linker
	}

	metricsPath := ""
	if cfg.Observability.Metrics.Enabled {
		metricsPath = cfg.Observability.Metrics.Path
	}

	srv := transporthttp.NewServer(svc,
		transporthttp.WithAddr(fmt.Sprintf(":%d", cfg.Server.Port)),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithMetricsPath(metricsPath),
	)

	slog.Info("authcore starting",
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Type,
		"sessions", stores.sessionBackend,
		"auth_modes", cfg.Auth.Modes,
		"providers", len(cfg.OAuth.Providers),
	)
	return srv.Run(ctx)
}
