package node

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/xerrors"
)

// DefaultStopTimeout bounds each component's StopFunc.
const DefaultStopTimeout = 30 * time.Second

// ShutdownHandler stops one daemon component.
type ShutdownHandler struct {
	Component string
	StopFunc  StopFunc
}

// MonitorShutdown waits for SIGTERM, SIGINT or a send on trigger (the
// Shutdown API method), then stops the components in order. Each StopFunc
// gets its own stopTimeout; a failing or slow component does not keep the
// later ones running.
//
// The returned channel yields the combined stop errors, nil on a clean
// shutdown, and is then closed.
func MonitorShutdown(trigger <-chan struct{}, stopTimeout time.Duration, handlers ...ShutdownHandler) <-chan error {
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}

	sigCh := make(chan os.Signal, 2)
	out := make(chan error, 1)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			log.Warnw("shutdown requested", "signal", sig)
		case <-trigger:
			log.Warn("shutdown requested over api")
		}

		var errs error
		for _, h := range handlers {
			if err := stopComponent(h, stopTimeout); err != nil {
				log.Errorw("stopping component", "component", h.Component, "error", err)
				errs = multierr.Append(errs, xerrors.Errorf("stopping %s: %w", h.Component, err))
				continue
			}
			log.Infow("component stopped", "component", h.Component)
		}

		if errs == nil {
			log.Warn("daemon stopped")
		}
		_ = log.Sync() //nolint:errcheck

		out <- errs
		close(out)
	}()

	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	return out
}

func stopComponent(h ShutdownHandler, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- h.StopFunc(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return xerrors.Errorf("gave up after %s: %w", timeout, ctx.Err())
	}
}
