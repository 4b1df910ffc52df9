package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultShutdownTimeout bounds how long shutdown may take before it is forced
const DefaultShutdownTimeout = 5 * time.Second

// ShutdownManager handles graceful shutdown of services
type ShutdownManager struct {
	logger          logrus.FieldLogger
	server          *http.Server
	shutdownFuncs   []namedShutdownFunc
	shutdownTimeout time.Duration
	mu              sync.Mutex
}

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

// ShutdownPhase orders shutdown functions. Phases run one after another in
// ascending order; the functions within a phase run concurrently.
type ShutdownPhase int

const (
	// PhaseStop halts producers such as schedulers and worker pools.
	PhaseStop ShutdownPhase = iota
	// PhaseFlush drains buffered data into backing stores.
	PhaseFlush
	// PhaseRelease closes backing stores and exporters.
	PhaseRelease
)

var shutdownPhases = []ShutdownPhase{PhaseStop, PhaseFlush, PhaseRelease}

func (p ShutdownPhase) String() string {
	switch p {
	case PhaseStop:
		return "stop"
	case PhaseFlush:
		return "flush"
	case PhaseRelease:
		return "release"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

type namedShutdownFunc struct {
	phase ShutdownPhase
	name  string
	fn    ShutdownFunc
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger logrus.FieldLogger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	return &ShutdownManager{
		logger:          logger,
		server:          server,
		shutdownTimeout: timeout,
	}
}

// RegisterShutdownFunc registers fn to run in phase once the HTTP server
// has stopped accepting requests. A phase starts only after every
// function of the previous phase has returned.
func (sm *ShutdownManager) RegisterShutdownFunc(phase ShutdownPhase, name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.shutdownFuncs = append(sm.shutdownFuncs, namedShutdownFunc{phase: phase, name: name, fn: fn})
}

// WaitForShutdown blocks until SIGINT, SIGTERM or ctx is done, then shuts
// everything down.
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	sm.logger.Info("Received shutdown signal, starting graceful shutdown")
	return sm.Shutdown(context.Background())
}

// Shutdown stops the HTTP server, then runs the registered functions phase
// by phase. Everything must finish within the shutdown timeout; a phase
// that overruns it aborts the remaining phases.
func (sm *ShutdownManager) Shutdown(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, sm.shutdownTimeout)
	defer cancel()

	var errs []error

	if sm.server != nil {
		sm.logger.Info("Shutting down HTTP server")
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("HTTP server shutdown error")
			errs = append(errs, fmt.Errorf("HTTP server shutdown failed: %w", err))
		}
	}

	sm.mu.Lock()
	funcs := append([]namedShutdownFunc(nil), sm.shutdownFuncs...)
	sm.mu.Unlock()

	for _, phase := range shutdownPhases {
		if err := sm.runPhase(ctx, phase, funcs); err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	sm.logger.Info("Graceful shutdown complete")
	return nil
}

func (sm *ShutdownManager) runPhase(ctx context.Context, phase ShutdownPhase, funcs []namedShutdownFunc) error {
	var g errgroup.Group
	for _, f := range funcs {
		if f.phase != phase {
			continue
		}
		g.Go(func() error {
			log := sm.logger.WithFields(logrus.Fields{"component": f.name, "phase": phase.String()})
			if err := f.fn(ctx); err != nil {
				log.WithError(err).Error("Shutdown function failed")
				return fmt.Errorf("%s: %w", f.name, err)
			}
			log.Debug("Shutdown function complete")
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		sm.logger.WithField("phase", phase.String()).Warn("Shutdown timeout reached, forcing shutdown")
		return fmt.Errorf("shutdown timeout reached in %s phase", phase)
	}
}
