// ABOUTME: Daemon CLI command
// ABOUTME: Runs the local API, the connectivity prober, and the confirmed-order purge until interrupted
package cli

import (
	"context"
	"flag"
	"time"

	"github.com/harperreed/vendas/web"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const purgeInterval = 6 * time.Hour

// ServeCommand blocks until ctx is cancelled or one of the tasks fails.
func ServeCommand(ctx context.Context, a *App, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", a.Config.ListenAddr, "Local API listen address")
	noProbe := fs.Bool("no-probe", false, "Do not probe the gateway; connectivity comes from POST /api/connectivity")
	_ = fs.Parse(args)

	srv, err := web.NewServer(web.Options{
		Store:    a.Store,
		Queue:    a.Queue,
		Sync:     a.Sync,
		Monitor:  a.Monitor,
		Session:  a.Config.Session,
		Gatherer: a.Registry,
		Logger:   a.Logger,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx, *addr)
	})
	if !*noProbe {
		g.Go(func() error {
			return a.Prober().Run(gctx)
		})
	}
	g.Go(func() error {
		return a.purgeLoop(gctx, purgeInterval)
	})

	a.Logger.Info("device daemon started",
		zap.String("addr", *addr),
		zap.String("company", a.Config.Session.CompanyID),
		zap.Bool("probe", !*noProbe))
	return g.Wait()
}

func (a *App) purgeLoop(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := a.Queue.Purge(ctx); err != nil {
				a.Logger.Warn("purge failed", zap.Error(err))
			}
		}
	}
}
