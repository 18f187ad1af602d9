package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/pkg/checkout"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "configs/local.yaml", "path to config yaml (empty for env-only)")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the config")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "checkout: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := checkout.NewApp(ctx, cfg, checkout.WithVersion(version))
	if err != nil {
		return err
	}
	log.Logger = app.Logger

	srv := app.Server()

	errCh := make(chan error, 1)
	go func() {
		app.Logger.Info().
			Str("address", srv.Addr()).
			Str("route_prefix", cfg.Server.RoutePrefix).
			Str("version", version).
			Msg("server.listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			_ = app.Close()
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	app.Logger.Info().Msg("server.shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("server.shutdown_failed")
	}
	if err := app.Close(); err != nil {
		return fmt.Errorf("close resources: %w", err)
	}
	app.Logger.Info().Msg("server.stopped")
	return nil
}
