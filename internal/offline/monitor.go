// Package offline keeps remote writes flowing across connectivity loss.
package offline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Prober checks reachability of the remote store, e.g. a database ping.
type Prober func(ctx context.Context) error

// Monitor tracks connectivity with a periodic probe and change
// notifications.
type Monitor struct {
	Probe    Prober
	Interval time.Duration
	Timeout  time.Duration

	mu       sync.Mutex
	online   bool
	known    bool
	onChange []func(online bool)
}

func NewMonitor(probe Prober, interval, timeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Monitor{Probe: probe, Interval: interval, Timeout: timeout}
}

// OnChange registers a callback invoked on every connectivity transition.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Online reports the last observed state; before the first probe the
// monitor assumes connectivity.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.known {
		return true
	}
	return m.online
}

// Check runs an on-demand probe and updates state, firing change callbacks.
func (m *Monitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()
	err := m.Probe(probeCtx)
	return m.observe(err == nil)
}

func (m *Monitor) observe(online bool) bool {
	m.mu.Lock()
	changed := !m.known || m.online != online
	m.known = true
	m.online = online
	cbs := make([]func(bool), len(m.onChange))
	copy(cbs, m.onChange)
	m.mu.Unlock()

	if changed {
		slog.Info("connectivity changed", "online", online)
		for _, fn := range cbs {
			fn(online)
		}
	}
	return online
}

// Run probes on an interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
