// ABOUTME: Reference ERP gateway for development and integration testing
// ABOUTME: Serves orders, approvals, and reference data from a seeded SQLite database
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/harperreed/vendas/logging"
	"github.com/harperreed/vendas/server"
	"go.uber.org/zap"
)

func main() {
	dbPath := flag.String("db", "gateway.db", "SQLite database path, or :memory:")
	addr := flag.String("addr", "127.0.0.1:8080", "Listen address")
	seedPath := flag.String("seed", "", "Seed file (default: built-in demo company)")
	noSeed := flag.Bool("no-seed", false, "Do not seed the database")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger := logging.Must(*logLevel, logging.FormatJSON)
	defer func() { _ = logger.Sync() }()
	gin.SetMode(gin.ReleaseMode)

	if err := run(logger, *dbPath, *addr, *seedPath, *noSeed); err != nil {
		log.Fatalf("Gateway failed: %v", err)
	}
}

func run(logger *zap.Logger, dbPath, addr, seedPath string, noSeed bool) error {
	store, err := server.OpenSQL(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !noSeed {
		seed := server.DefaultSeed()
		if seedPath != "" {
			if seed, err = server.LoadSeed(seedPath); err != nil {
				return err
			}
		}
		if err := store.ApplySeed(ctx, seed); err != nil {
			return err
		}
		logger.Info("seed applied", zap.Int("sessions", len(seed.Sessions)), zap.Int("entities", len(seed.Reference)))
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           server.New(store, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", zap.String("addr", addr), zap.String("db", dbPath))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
