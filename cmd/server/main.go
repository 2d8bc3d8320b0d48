/*
main.go - HTTP server entry point

PURPOSE:
  Loads configuration, builds the backfill engine and serves the XP API.
  Handles graceful shutdown.

STARTUP SEQUENCE:
  1. Load config (xp.yaml, XP_* environment, --config)
  2. Build the app (store, badge catalogue, locker, engine)
  3. Configure HTTP router
  4. Start server with graceful shutdown

FLAGS:
  --config   Path to a config file (default: ./xp.yaml if present)

ENVIRONMENT:
  XP_JWT_SECRET     Token signing secret (required)
  XP_DATABASE_DSN   Database path or URL
  XP_REDIS_ADDR     Redis address when lock.driver is redis
  Any key can be set as XP_<SECTION>_<KEY>, e.g. XP_SERVER_PORT=3000

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the store and locker
  4. Exit

SEE ALSO:
  - app/app.go: dependency wiring
  - api/server.go: Router configuration
*/
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

	"github.com/spf13/cobra"

	"github.com/studyhall/xp-engine/api"
	"github.com/studyhall/xp-engine/app"
	"github.com/studyhall/xp-engine/config"
	"github.com/studyhall/xp-engine/logger"
)

func main() {
	var configFile string

	cmd := &cobra.Command{
		Use:           "xp-server",
		Short:         "Serve the XP ledger and backfill API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "config file (default ./xp.yaml)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	handler := api.NewHandler(a.Engine, log)
	handler.Scenarios = a.Scenarios()

	router := api.NewRouter(handler, api.RouterOptions{
		JWTSecret:      []byte(cfg.Auth.JWTSecret),
		AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout(),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout() + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.Server.Port, "scenarios", handler.Scenarios != nil)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
