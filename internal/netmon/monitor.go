// Package netmon observes network reachability for the sync daemon.
// Workers consult it before claiming tasks and park while offline.
package netmon

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"
)

// probeTimeout bounds a single reachability dial.
const probeTimeout = 5 * time.Second

// DialFunc dials a network address. Tests inject failures through it.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Monitor periodically probes a remote address and tracks reachability.
// State changes bump a monotonically increasing generation counter so
// callers can detect transitions without holding a lock on every check.
type Monitor struct {
	addr     string
	interval time.Duration
	dial     DialFunc
	logger   *slog.Logger

	mu         sync.Mutex
	online     bool
	generation uint64
	onlineCh   chan struct{} // closed while online
}

// New creates a Monitor probing addr every interval. The monitor starts in
// the online state; the first probe runs as soon as Run is called.
func New(addr string, interval time.Duration, logger *slog.Logger) *Monitor {
	dialer := &net.Dialer{Timeout: probeTimeout}

	m := &Monitor{
		addr:     addr,
		interval: interval,
		dial:     dialer.DialContext,
		logger:   logger,
		online:   true,
		onlineCh: make(chan struct{}),
	}
	close(m.onlineCh)

	return m
}

// SetDialFunc replaces the dialer. Call before Run; tests only.
func (m *Monitor) SetDialFunc(dial DialFunc) {
	m.dial = dial
}

// Run probes until ctx is canceled. One probe fires immediately.
func (m *Monitor) Run(ctx context.Context) error {
	m.probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

// State returns the current reachability and the state generation.
func (m *Monitor) State() (online bool, generation uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.online, m.generation
}

// WaitOnline blocks until the network is reachable or ctx is canceled.
func (m *Monitor) WaitOnline(ctx context.Context) error {
	for {
		m.mu.Lock()
		online, ch := m.online, m.onlineCh
		m.mu.Unlock()

		if online {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// probe dials the configured address once and records the result.
func (m *Monitor) probe(ctx context.Context) {
	conn, err := m.dial(ctx, "tcp", m.addr)
	if conn != nil {
		conn.Close()
	}

	m.setOnline(err == nil)
}

// setOnline records a reachability observation, bumping the generation and
// swapping the wait channel on transitions.
func (m *Monitor) setOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if online == m.online {
		return
	}

	m.online = online
	m.generation++

	if online {
		close(m.onlineCh)
		m.logger.Info("network reachable", slog.Uint64("generation", m.generation))
	} else {
		m.onlineCh = make(chan struct{})
		m.logger.Warn("network unreachable, pausing workers",
			slog.String("probe_addr", m.addr),
			slog.Uint64("generation", m.generation),
		)
	}
}
