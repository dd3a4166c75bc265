// Command otgw-bridge is the gateway process entrypoint: load config,
// resolve credentials, start the Bridge, and run until a termination
// signal asks it to drain and stop (spec §4.8).
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/edgebridge/otgw/internal/bridge"
	"github.com/edgebridge/otgw/internal/config"
	"github.com/edgebridge/otgw/internal/credstore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway config file")
	credPrefix := flag.String("cred-prefix", "", "env var prefix for ${credential:key} lookups (default OTGW_CRED_)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("otgw-bridge: .env load failed", "error", err)
	}

	store := credstore.NewEnvStore(*credPrefix)
	mgr, err := config.NewManager(*configPath, store.Get)
	if err != nil {
		logger.Error("otgw-bridge: load config", "error", err)
		os.Exit(1)
	}

	br := bridge.New(mgr.Get(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := br.Start(ctx); err != nil {
		logger.Error("otgw-bridge: start", "error", err)
		os.Exit(1)
	}
	logger.Info("otgw-bridge: running", "config", *configPath, "sources", len(mgr.Get().Sources))

	<-ctx.Done()
	logger.Info("otgw-bridge: shutdown signal received, draining")

	shutdownTimeout := time.Duration(mgr.Get().Server.ShutdownTimeout) * time.Second
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := br.Stop(stopCtx); err != nil {
		logger.Error("otgw-bridge: stop", "error", err)
		os.Exit(1)
	}
	logger.Info("otgw-bridge: stopped cleanly")
}
