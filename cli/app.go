// ABOUTME: Runtime wiring shared by the CLI commands
// ABOUTME: Builds the store, gateway client, queue manager, sync orchestrator, and metrics from config
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/harperreed/vendas/config"
	"github.com/harperreed/vendas/db"
	"github.com/harperreed/vendas/gateway"
	"github.com/harperreed/vendas/metrics"
	"github.com/harperreed/vendas/queue"
	"github.com/harperreed/vendas/sync"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// Remote is everything the device needs from the gateway.
type Remote interface {
	queue.Gateway
	sync.ReferenceSource
	sync.HealthChecker
}

// App is one process' worth of services.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    *db.Store
	Remote   Remote
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Queue    *queue.Manager
	Sync     *sync.Orchestrator
	Monitor  *sync.Monitor

	Out io.Writer
	In  io.Reader
}

// Open builds the services described by cfg. The caller must Close the app.
func Open(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if !cfg.HasSession() {
		return nil, fmt.Errorf("no session configured, run 'vendas session set' first")
	}

	store, err := db.Open(cfg.StorePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if store.Degraded() {
		fmt.Fprintf(os.Stderr, "Warning: %v\nOrders queued now will not survive a restart.\n", store.DegradedErr())
	}

	client, err := gateway.New(cfg.GatewayURL, gateway.WithToken(cfg.Token), gateway.WithLogger(logger))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create gateway client: %w", err)
	}

	return NewApp(cfg, store, client, logger), nil
}

// NewApp wires services over an open store and a remote.
func NewApp(cfg *config.Config, store *db.Store, remote Remote, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	mgr := queue.New(store, remote, queue.Options{
		Logger:        logger,
		Metrics:       m,
		SubmitTimeout: cfg.SubmitTimeout(),
		Retention:     cfg.Retention(),
	})
	orch := sync.New(store, remote, mgr, sync.Options{
		CompanyID:    cfg.Session.CompanyID,
		Logger:       logger,
		Metrics:      m,
		FetchTimeout: cfg.FetchTimeout(),
	})

	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Remote:   remote,
		Registry: reg,
		Metrics:  m,
		Queue:    mgr,
		Sync:     orch,
		Monitor:  sync.NewMonitor(orch, logger, m),
		Out:      os.Stdout,
		In:       os.Stdin,
	}
}

// Prober returns a connectivity prober driving the app's monitor.
func (a *App) Prober() *sync.Prober {
	return sync.NewProber(a.Remote, a.Monitor, a.Config.ProbeInterval())
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}

func (a *App) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(a.Out, format, args...)
}
