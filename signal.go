package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// exitFunc is swapped in tests so a second signal does not kill the binary.
var exitFunc = os.Exit

// shutdownContext cancels on the first SIGINT or SIGTERM so a running sync
// can commit its last page and the server can drain requests. A second
// signal exits immediately.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	return notifyShutdown(parent, logger, syscall.SIGINT, syscall.SIGTERM)
}

func notifyShutdown(parent context.Context, logger *slog.Logger, sigs ...os.Signal) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, sigs...)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("shutting down", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("second signal, exiting now", slog.String("signal", sig.String()))
			exitFunc(1)
		case <-parent.Done():
		}
	}()

	return ctx
}
