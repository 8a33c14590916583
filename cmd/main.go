package main

import (
	"chat-relay/infrastructure/peer"
	"chat-relay/internal"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component, serves until a signal arrives and shuts down in order.
// Keeping it out of main lets deferred cleanup run before the exit code is set.
func run() error {
	// 1. Configuration & Logger
	// A missing .env is fine, the process environment and defaults still apply.
	_ = godotenv.Load()
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	config, err := internal.LoadConfig(es)
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(config.LogLevel)
	instanceID := uuid.NewString()
	log = log.With("instance_id", instanceID)
	peer.RedirectGRPCLogs(log)

	relay, err := internal.NewInstance(log, config, instanceID)
	if err != nil {
		return fmt.Errorf("relay setup failed: %w", err)
	}

	// 2. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Start the relay, a bind failure ends the process
	if err = relay.Start(ctx); err != nil {
		return fmt.Errorf("orchestrator failed to start: %w", err)
	}

	// 4. HTTP Server Setup
	server := &http.Server{
		Addr:              config.ListenAddr(),
		Handler:           relay.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Use an error channel to capture Serve() issues
	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", server.Addr, "peers", config.PeerHosts)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// 5. Wait for Stop or Error
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case serveErr = <-errChan:
	}

	// 6. Final Cleanup: publisher, subscribers, workers, then HTTP
	relay.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown failed", "error", err)
	}
	log.Info("Program stopped cleanly")

	return serveErr
}
