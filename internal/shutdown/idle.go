// Package shutdown provides idle monitoring for scale-to-zero deployments.
package shutdown

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// InFlightFunc reports work in progress outside the HTTP request count, such
// as generations that outlive their connection.
type InFlightFunc func() int64

// IdleMonitorConfig holds configuration for the idle monitor.
type IdleMonitorConfig struct {
	Timeout       time.Duration // Idle period before shutdown (0 = disabled)
	CheckInterval time.Duration // Default: Timeout/6 clamped to [5s, 30s]
	Logger        *slog.Logger
	ExcludePaths  []string     // URL path prefixes that don't count as activity (e.g. /healthz)
	InFlight      InFlightFunc // Optional
}

// IdleMonitor signals shutdown once no request and no generation has been
// active for the configured timeout. This lets platforms like Fly.io stop
// idle machines.
type IdleMonitor struct {
	cfg          IdleMonitorConfig
	active       atomic.Int64
	mu           sync.Mutex
	lastActivity time.Time
	shutdown     chan struct{}
	stop         chan struct{}
	stopOnce     sync.Once
}

// NewIdleMonitor creates a new idle monitor.
func NewIdleMonitor(cfg IdleMonitorConfig) *IdleMonitor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = min(max(cfg.Timeout/6, 5*time.Second), 30*time.Second)
	}
	return &IdleMonitor{
		cfg:          cfg,
		lastActivity: time.Now(),
		shutdown:     make(chan struct{}),
		stop:         make(chan struct{}),
	}
}

// Start begins monitoring. It is a no-op when the timeout is 0.
func (m *IdleMonitor) Start() {
	if m.cfg.Timeout <= 0 {
		m.cfg.Logger.Debug("idle monitoring disabled (timeout=0)")
		return
	}
	m.cfg.Logger.Info("idle monitoring started", "timeout", m.cfg.Timeout, "exclude_paths", m.cfg.ExcludePaths)
	go m.run()
}

// Stop stops the monitor without signalling shutdown.
func (m *IdleMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// ShutdownChan is closed when the idle timeout is reached.
func (m *IdleMonitor) ShutdownChan() <-chan struct{} {
	return m.shutdown
}

// Middleware counts requests as activity, except for excluded paths.
func (m *IdleMonitor) Middleware(next http.Handler) http.Handler {
	if m.cfg.Timeout <= 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range m.cfg.ExcludePaths {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		m.active.Add(1)
		m.touch()
		defer func() {
			m.active.Add(-1)
			m.touch()
		}()

		next.ServeHTTP(w, r)
	})
}

func (m *IdleMonitor) touch() {
	m.mu.Lock()
	m.lastActivity = time.Now()
	m.mu.Unlock()
}

func (m *IdleMonitor) run() {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if m.idle() {
				close(m.shutdown)
				return
			}
		}
	}
}

// idle reports whether the timeout has elapsed with nothing in flight. Busy
// checks restart the idle period so a full grace period follows the last
// generation.
func (m *IdleMonitor) idle() bool {
	requests := m.active.Load()
	var generations int64
	if m.cfg.InFlight != nil {
		generations = m.cfg.InFlight()
	}

	if requests > 0 || generations > 0 {
		m.touch()
		m.cfg.Logger.Debug("idle check: busy", "active_requests", requests, "generations_in_flight", generations)
		return false
	}

	m.mu.Lock()
	idleFor := time.Since(m.lastActivity)
	m.mu.Unlock()

	if idleFor < m.cfg.Timeout {
		return false
	}
	m.cfg.Logger.Info("idle timeout reached, signaling graceful shutdown",
		"idle_time", idleFor,
		"timeout", m.cfg.Timeout,
	)
	return true
}
