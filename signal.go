package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// serveComponents are what a graceful serve shutdown waits on, in the order
// they stop. Logged so a stuck shutdown shows what it is waiting for.
var serveComponents = []string{
	"display connections",
	"photo downloads",
	"refresh scheduler",
	"cache watcher",
	"ledger",
}

// drainWatcher turns SIGINT/SIGTERM into a serve shutdown. The first signal
// cancels the serve context and the components drain; a second one while
// draining exits immediately.
type drainWatcher struct {
	logger   *slog.Logger
	draining []string
	signals  <-chan os.Signal
	exit     func(code int)
}

// shutdownContext returns a context that serve runs under until the first
// SIGINT/SIGTERM.
func shutdownContext(parent context.Context, logger *slog.Logger, draining ...string) context.Context {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	w := &drainWatcher{
		logger:   logger,
		draining: draining,
		signals:  sigCh,
		exit:     os.Exit,
	}

	ctx, cancel := context.WithCancel(parent)

	go func() {
		defer signal.Stop(sigCh)
		w.watch(parent, ctx, cancel)
	}()

	return ctx
}

func (w *drainWatcher) watch(parent, ctx context.Context, cancel context.CancelFunc) {
	select {
	case sig := <-w.signals:
		w.logger.Info("stopping serve",
			slog.String("signal", sig.String()),
			slog.Any("draining", w.draining),
		)
		cancel()
	case <-ctx.Done():
		return
	}

	select {
	case sig := <-w.signals:
		w.logger.Warn("signal received while draining, exiting without cleanup",
			slog.String("signal", sig.String()),
			slog.Any("draining", w.draining),
		)
		w.exit(1)
	case <-parent.Done():
	}
}
