package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/matt0x6f/ironcord-gateway/internal/config"
	"github.com/matt0x6f/ironcord-gateway/internal/constants"
	"github.com/matt0x6f/ironcord-gateway/internal/logger"
	"github.com/matt0x6f/ironcord-gateway/internal/relay"
	"github.com/matt0x6f/ironcord-gateway/internal/storage"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "gateway.scfg", "path to the configuration file")
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Setup(os.Stderr, cfg.LogFormat); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	level, _ := logger.ParseLevel(cfg.LogLevel)
	logger.SetLevel(level)

	if dir := filepath.Dir(cfg.Database); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Log.Fatal().Err(err).Str("dir", dir).Msg("Failed to create database directory")
		}
	}
	store, err := storage.NewStorage(cfg.Database, constants.MessageBufferSize, constants.MessageFlushInterval)
	if err != nil {
		logger.Log.Fatal().Err(err).Str("path", cfg.Database).Msg("Failed to open storage")
	}

	if flag.NArg() > 0 {
		err := runAdmin(store, os.Stdout, flag.Args())
		store.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	app := NewApp(cfg, store)
	server := &http.Server{
		Addr: cfg.Listen,
		Handler: relay.NewServer(app, store, relay.Options{
			PerSecond: cfg.RateLimit.PerSecond,
			Burst:     cfg.RateLimit.Burst,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info().Str("listen", cfg.Listen).Str("irc", fmt.Sprintf("%s:%d", cfg.IRC.Host, cfg.IRC.Port)).Msg("Gateway listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Log.Info().Str("signal", sig.String()).Msg("Received signal, initiating shutdown")
	case err := <-errCh:
		logger.Log.Error().Err(err).Msg("HTTP server failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}
	app.Shutdown()
	if err := store.Close(); err != nil {
		logger.Log.Error().Err(err).Msg("Failed to close storage")
	}
	logger.Log.Info().Msg("Shutdown complete")
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: %s [-config path] [command]

Without a command the gateway serves WebSocket sessions. Commands:
  user add <email> <password> <irc-nick>
  token <email> <password>
  guild add <owner-email> <name>
  guild join <guild-id> <email>
  guild list <email>
  channel add <guild-id> <name> [topic]
  channel list <guild-id>
  messages <channel> [limit]

`, filepath.Base(os.Args[0]))
	flag.PrintDefaults()
}
