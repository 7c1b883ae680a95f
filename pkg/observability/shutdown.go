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
)

// ShutdownFunc releases one resource during shutdown. It must honor the
// context deadline.
type ShutdownFunc func(context.Context) error

type shutdownHook struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager drains the HTTP server and then releases dependencies
// in registration order. Registration order is teardown order, so hooks
// that flush telemetry belong last.
type ShutdownManager struct {
	logger  *Logger
	server  *http.Server
	timeout time.Duration

	mu    sync.Mutex
	hooks []shutdownHook

	trigger chan struct{}
	once    sync.Once
}

// NewShutdownManager builds a manager around server. A zero timeout
// defaults to 30 seconds. server may be nil for processes that own no
// listener of their own.
func NewShutdownManager(logger *Logger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if logger == nil {
		logger = NewLogger(InfoLevel, nil)
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:  logger,
		server:  server,
		timeout: timeout,
		trigger: make(chan struct{}),
	}
}

// OnShutdown registers a named hook. Nil hooks are ignored. The name
// only feeds logs and error messages.
func (sm *ShutdownManager) OnShutdown(name string, fn ShutdownFunc) {
	if fn == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.hooks = append(sm.hooks, shutdownHook{name: name, fn: fn})
}

// Trigger starts the shutdown sequence without an OS signal. Safe to
// call from any goroutine; repeated calls are no-ops.
func (sm *ShutdownManager) Trigger() {
	sm.once.Do(func() { close(sm.trigger) })
}

// WaitForShutdown blocks until SIGINT, SIGTERM or Trigger, drains the
// server and runs the hooks. It returns once every hook finished or
// the timeout expired, whichever comes first.
func (sm *ShutdownManager) WaitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		sm.logger.Infof("Received signal %s, shutting down", sig)
	case <-sm.trigger:
		sm.logger.Info("Shutdown triggered, shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	var errs []error
	if sm.server != nil {
		sm.logger.Info("Draining HTTP server")
		if err := sm.server.Shutdown(ctx); err != nil {
			// A failed drain must not skip resource teardown.
			sm.logger.WithError(err).Error("HTTP server drain failed")
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}

	done := make(chan error, 1)
	go func() { done <- sm.runHooks(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			errs = append(errs, err)
		}
	case <-ctx.Done():
		sm.logger.Warnf("Shutdown window (%s) expired, abandoning remaining hooks", sm.timeout)
		errs = append(errs, fmt.Errorf("shutdown timed out after %s", sm.timeout))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	sm.logger.Info("Shutdown complete")
	return nil
}

func (sm *ShutdownManager) runHooks(ctx context.Context) error {
	sm.mu.Lock()
	hooks := make([]shutdownHook, len(sm.hooks))
	copy(hooks, sm.hooks)
	sm.mu.Unlock()

	var errs []error
	for _, h := range hooks {
		sm.logger.Infof("Running shutdown hook %q", h.name)
		if err := h.fn(ctx); err != nil {
			sm.logger.WithError(err).Errorf("Shutdown hook %q failed", h.name)
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}
