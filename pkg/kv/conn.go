package kv

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/curatorhq/curator/pkg/observability"
)

// ConnManager owns the remote store connection and decides which backend
// serves commands. It is safe for concurrent use; all state transitions
// happen under its mutex and listeners are invoked outside it.
type ConnManager struct {
	cfg     Config
	logger  *observability.Logger
	metrics *observability.Metrics
	engine  *Engine

	mu             sync.Mutex
	state          ConnState
	client         *redis.Client
	remote         *redisCommands
	attempts       int
	cycleRunning   bool
	lastCycleStart time.Time
	listeners      []Listener
	keepaliveStop  chan struct{}
	stopCh         chan struct{}
	closed         bool
}

// NewConnManager builds a manager in the disconnected state. Connect starts
// the lifecycle; nothing dials before that. logger and metrics may be nil.
func NewConnManager(cfg Config, logger *observability.Logger, metrics *observability.Metrics) *ConnManager {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &ConnManager{
		cfg:     cfg,
		logger:  logger.WithComponent("kv"),
		metrics: metrics,
		engine:  NewEngine(),
		stopCh:  make(chan struct{}),
	}
}

// Notify registers a lifecycle listener. Listeners registered after an event
// fired do not see it retroactively.
func (m *ConnManager) Notify(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// fire dispatches ev to all listeners and mirrors the state into the gauge.
// Never called with the mutex held.
func (m *ConnManager) fire(ev Event, st ConnState) {
	m.mu.Lock()
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.StoreState.Set(float64(st))
	}
	for _, l := range listeners {
		observability.Guard(m.logger, "store listener", func() { l(ev, st) })
	}
}

// State reports the current lifecycle state.
func (m *ConnManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts reports the attempt counter of the current or last reconnect
// cycle. It resets to zero on a successful connection.
func (m *ConnManager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Engine returns the in-process fallback engine. Exposed for maintenance
// jobs that need to inspect it regardless of connection state.
func (m *ConnManager) Engine() *Engine {
	return m.engine
}

// Connect establishes the initial connection. In in-memory mode it pins the
// engine instead and never dials. A failed initial attempt leaves a reconnect
// cycle running and returns the dial error; the manager recovers on its own.
func (m *ConnManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.cfg.InMemory {
		m.state = StateFailed
		m.mu.Unlock()
		m.logger.Warn("in-memory mode forced, remote store disabled")
		m.fire(EventFallback, StateFailed)
		return nil
	}
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.mu.Unlock()

	if err := m.dial(ctx); err != nil {
		m.logger.WithError(err).Warn("initial store connection failed")
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		m.startReconnect(false)
		return err
	}

	m.becomeConnected()
	m.logger.WithField("url", m.cfg.URL).Info("store connected")
	m.fire(EventConnect, StateConnected)
	return nil
}

// dial builds a client, verifies it with a ping and installs it. The attempt
// is bounded by two timeouts racing: the overall connect timeout and the
// shorter ping timeout nested inside it.
func (m *ConnManager) dial(ctx context.Context) error {
	opts, err := redis.ParseURL(m.cfg.URL)
	if err != nil {
		return fmt.Errorf("invalid store URL: %w", err)
	}
	if m.cfg.Password != "" {
		opts.Password = m.cfg.Password
	}
	if m.cfg.DB >= 0 {
		opts.DB = m.cfg.DB
	}
	if m.cfg.PoolSize > 0 {
		opts.PoolSize = m.cfg.PoolSize
	}
	opts.DialTimeout = m.cfg.ConnectTimeout
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second
	// The manager owns retries; the client must fail fast.
	opts.MaxRetries = -1

	client := redis.NewClient(opts)

	connectCtx, cancelConnect := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancelConnect()
	pingCtx, cancelPing := context.WithTimeout(connectCtx, m.cfg.PingTimeout)
	defer cancelPing()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("store ping failed: %w", err)
	}

	m.mu.Lock()
	if m.client != nil {
		m.client.Close()
	}
	m.client = client
	m.remote = newRedisCommands(client, m.onTransportError)
	m.mu.Unlock()
	return nil
}

// becomeConnected flips the state, resets the attempt counter and starts the
// keepalive prober.
func (m *ConnManager) becomeConnected() {
	m.mu.Lock()
	m.state = StateConnected
	m.attempts = 0
	m.cycleRunning = false
	stop := make(chan struct{})
	m.keepaliveStop = stop
	m.mu.Unlock()
	go m.keepalive(stop)
}

func (m *ConnManager) keepalive(stop chan struct{}) {
	interval := m.cfg.KeepaliveInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PingTimeout)
			err := m.pingRemote(ctx)
			cancel()
			if err != nil {
				m.logger.WithError(err).Warn("store keepalive probe failed")
				m.handleDisconnect()
				return
			}
		}
	}
}

func (m *ConnManager) pingRemote(ctx context.Context) error {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()
	if client == nil {
		return ErrStoreUnavailable
	}
	return client.Ping(ctx).Err()
}

// onTransportError is the remote adapter's error hook. Command-level errors
// (missing keys, type mismatches, caller context expiry) never reach it.
func (m *ConnManager) onTransportError(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	m.handleDisconnect()
}

// handleDisconnect reacts to a lost connection. Only the first reporter wins;
// the keepalive prober and concurrent command failures race here.
func (m *ConnManager) handleDisconnect() {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	if m.keepaliveStop != nil {
		close(m.keepaliveStop)
		m.keepaliveStop = nil
	}
	m.mu.Unlock()
	m.logger.Warn("store connection lost")
	m.fire(EventDisconnect, StateDisconnected)
	m.startReconnect(false)
}

// startReconnect admits at most one reconnect cycle. Without force it refuses
// while another cycle runs, after the manager failed over, and inside the
// throttle window after the previous cycle started. Returns whether a cycle
// was started.
func (m *ConnManager) startReconnect(force bool) bool {
	m.mu.Lock()
	if m.closed || m.cycleRunning || m.cfg.InMemory {
		m.mu.Unlock()
		return false
	}
	switch m.state {
	case StateConnecting, StateConnected, StateReconnecting:
		m.mu.Unlock()
		return false
	case StateFailed:
		if !force {
			m.mu.Unlock()
			return false
		}
	}
	if !force && !m.lastCycleStart.IsZero() && time.Since(m.lastCycleStart) < m.cfg.MinReconnectInterval {
		m.mu.Unlock()
		m.logger.Debug("reconnect cycle suppressed, previous cycle started too recently")
		return false
	}
	m.cycleRunning = true
	m.lastCycleStart = time.Now()
	m.state = StateReconnecting
	m.mu.Unlock()

	m.fire(EventReconnecting, StateReconnecting)
	go m.reconnectLoop()
	return true
}

// reconnectBackoff computes the delay before attempt n (1-based):
// base * 1.5^(n-1), capped.
func reconnectBackoff(base, limit time.Duration, attempt int) time.Duration {
	d := time.Duration(float64(base) * math.Pow(1.5, float64(attempt-1)))
	if d > limit {
		return limit
	}
	return d
}

func (m *ConnManager) reconnectLoop() {
	maxAttempts := m.cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		m.mu.Lock()
		if m.closed {
			m.cycleRunning = false
			m.mu.Unlock()
			return
		}
		m.attempts = attempt
		m.mu.Unlock()

		wait := reconnectBackoff(m.cfg.ReconnectBase, m.cfg.ReconnectCap, attempt)
		m.logger.WithFields(map[string]interface{}{
			"attempt": attempt,
			"wait":    wait.String(),
		}).Debug("scheduling store reconnect attempt")

		select {
		case <-m.stopCh:
			m.mu.Lock()
			m.cycleRunning = false
			m.mu.Unlock()
			return
		case <-time.After(wait):
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
		err := m.dial(ctx)
		cancel()
		if err == nil {
			m.becomeConnected()
			m.logger.WithField("attempt", attempt).Info("store connection restored")
			if m.metrics != nil {
				m.metrics.StoreReconnectsTotal.Inc()
			}
			m.fire(EventConnect, StateConnected)
			return
		}
		m.logger.WithError(err).WithField("attempt", attempt).Warn("store reconnect attempt failed")
	}

	m.mu.Lock()
	m.state = StateFailed
	m.cycleRunning = false
	if m.client != nil {
		m.client.Close()
		m.client = nil
		m.remote = nil
	}
	m.mu.Unlock()
	m.logger.Error("store reconnect attempts exhausted, falling back to in-memory engine")
	if m.metrics != nil {
		m.metrics.StoreFallbackTotal.Inc()
	}
	m.fire(EventFallback, StateFailed)
}

// ForceReconnect abandons the current backend and starts a reconnect cycle,
// bypassing the throttle guard. It is the only way out of the failed state.
// A no-op while a cycle is already running.
func (m *ConnManager) ForceReconnect() {
	m.mu.Lock()
	if m.closed || m.cfg.InMemory || m.cycleRunning {
		m.mu.Unlock()
		return
	}
	switch m.state {
	case StateConnecting, StateReconnecting:
		m.mu.Unlock()
		return
	}
	wasConnected := m.state == StateConnected
	if m.keepaliveStop != nil {
		close(m.keepaliveStop)
		m.keepaliveStop = nil
	}
	m.state = StateDisconnected
	m.mu.Unlock()

	m.logger.Info("forced store reconnect requested")
	if wasConnected {
		m.fire(EventDisconnect, StateDisconnected)
	}
	m.startReconnect(true)
}

// Active resolves the backend for the current state: the remote client when
// connected, the engine after failover, and ErrStoreUnavailable while a
// cycle is in flight. In the disconnected state it additionally kicks a
// reconnect cycle (subject to the throttle guard) so traffic keeps nudging
// the manager back toward the remote store.
func (m *ConnManager) Active() (Commands, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	st := m.state
	remote := m.remote
	m.mu.Unlock()

	switch st {
	case StateConnected:
		if remote == nil {
			return nil, ErrStoreUnavailable
		}
		return remote, nil
	case StateFailed:
		return m.engine, nil
	case StateDisconnected:
		m.startReconnect(false)
		return nil, ErrStoreUnavailable
	default:
		return nil, ErrStoreUnavailable
	}
}

// Close shuts the manager down: stops the keepalive prober and any running
// cycle, closes the client and the engine's timers. Idempotent.
func (m *ConnManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stopCh)
	if m.keepaliveStop != nil {
		close(m.keepaliveStop)
		m.keepaliveStop = nil
	}
	client := m.client
	m.client = nil
	m.remote = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	m.engine.Close()
	if client != nil {
		return client.Close()
	}
	return nil
}

// HealthCheck returns a dependency probe for the health endpoint. It reports
// healthy while the remote store answers pings, degraded while serving from
// the in-memory engine, and unhealthy mid-reconnect.
func (m *ConnManager) HealthCheck() observability.DependencyCheck {
	return func(ctx context.Context) observability.DependencyStatus {
		switch m.State() {
		case StateConnected:
			if err := m.pingRemote(ctx); err != nil {
				return observability.DependencyStatus{Status: observability.StatusUnhealthy, Message: err.Error()}
			}
			return observability.DependencyStatus{Status: observability.StatusHealthy}
		case StateFailed:
			return observability.DependencyStatus{Status: observability.StatusDegraded, Message: "serving from in-memory engine"}
		default:
			return observability.DependencyStatus{Status: observability.StatusUnhealthy, Message: "store " + m.State().String()}
		}
	}
}
