// Package netmon tracks backend reachability. A periodic probe drives an
// online/offline state machine; transitions are published on the bus so the
// sync orchestrator and the UI react without polling. Probes can be
// overridden for testing via SimulateOffline/SimulateOnline.
package netmon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/franciszver/cohort3-challenge2/internal/bus"
)

// Bus event kinds published by the monitor.
const (
	EventOnline  = "net.online"
	EventOffline = "net.offline"
)

// ProbeFunc checks backend reachability. A nil error means reachable. The
// context carries the probe timeout.
type ProbeFunc func(ctx context.Context) error

// Options tunes the probe cadence.
type Options struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	SettleDelay   time.Duration // wait after a reconnect probe before trusting it
}

// State is a point-in-time connectivity snapshot.
type State struct {
	Online       bool
	Quality      string // "excellent", "good", "poor", or "unknown"
	LastChecked  time.Time
	OfflineSince time.Time // zero when online
}

// Monitor runs the connectivity state machine.
type Monitor struct {
	probe  ProbeFunc
	opts   Options
	bus    *bus.Bus
	logger *zap.Logger

	mu           sync.Mutex
	online       bool
	latency      time.Duration
	lastChecked  time.Time
	offlineSince time.Time
	simulated    *bool // non-nil overrides the probe

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a monitor. It starts optimistically online; the first probe
// corrects that if the backend is unreachable.
func New(probe ProbeFunc, opts Options, b *bus.Bus, logger *zap.Logger) *Monitor {
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 10 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	return &Monitor{
		probe:  probe,
		opts:   opts,
		bus:    b,
		logger: logger,
		online: true,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the probe loop. An immediate probe runs before the first
// tick so startup state is accurate.
func (m *Monitor) Start(ctx context.Context) error {
	go m.loop()
	return nil
}

// Stop ends the probe loop and waits for it to exit.
func (m *Monitor) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stop) })
	select {
	case <-m.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (m *Monitor) loop() {
	defer close(m.done)

	m.check(context.Background())
	ticker := time.NewTicker(m.opts.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.check(context.Background())
		}
	}
}

// Snapshot returns the current state without probing.
func (m *Monitor) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// Online reports the current state without probing.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// ForceCheck probes immediately and returns the resulting state. A reconnect
// observed here still goes through the settle delay before being committed.
func (m *Monitor) ForceCheck(ctx context.Context) State {
	return m.check(ctx)
}

// SimulateOffline forces the monitor offline until SimulateOnline or
// ClearSimulation is called. Takes effect immediately.
func (m *Monitor) SimulateOffline() {
	off := false
	m.setSimulated(&off)
}

// SimulateOnline forces the monitor online. Takes effect immediately,
// skipping the settle delay.
func (m *Monitor) SimulateOnline() {
	on := true
	m.setSimulated(&on)
}

// ClearSimulation resumes real probing at the next check.
func (m *Monitor) ClearSimulation() {
	m.mu.Lock()
	m.simulated = nil
	m.mu.Unlock()
}

func (m *Monitor) setSimulated(v *bool) {
	m.mu.Lock()
	m.simulated = v
	m.mu.Unlock()
	m.apply(*v, 0)
}

// check runs one probe cycle. An offline-to-online transition is only
// committed after the settle delay and a confirming probe, so a flapping
// link does not trigger premature sync attempts.
func (m *Monitor) check(ctx context.Context) State {
	online, latency, simulated := m.runProbe(ctx)

	m.mu.Lock()
	wasOnline := m.online
	m.mu.Unlock()

	if online && !wasOnline && !simulated && m.opts.SettleDelay > 0 {
		select {
		case <-time.After(m.opts.SettleDelay):
		case <-ctx.Done():
			return m.Snapshot()
		case <-m.stop:
			return m.Snapshot()
		}
		online, latency, _ = m.runProbe(ctx)
	}
	return m.apply(online, latency)
}

func (m *Monitor) runProbe(ctx context.Context) (online bool, latency time.Duration, simulated bool) {
	m.mu.Lock()
	sim := m.simulated
	m.mu.Unlock()
	if sim != nil {
		return *sim, 0, true
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()
	start := time.Now()
	err := m.probe(ctx)
	return err == nil, time.Since(start), false
}

func (m *Monitor) apply(online bool, latency time.Duration) State {
	m.mu.Lock()
	now := time.Now()
	m.lastChecked = now
	m.latency = latency
	changed := online != m.online
	var offlineFor time.Duration
	if changed {
		if online {
			offlineFor = now.Sub(m.offlineSince)
			m.offlineSince = time.Time{}
		} else {
			m.offlineSince = now
		}
		m.online = online
	}
	st := m.stateLocked()
	m.mu.Unlock()

	if changed {
		if online {
			m.logger.Info("connectivity restored", zap.Duration("offline_for", offlineFor))
			m.bus.Publish(bus.Event{Kind: EventOnline, Timestamp: now, Payload: st})
		} else {
			m.logger.Warn("connectivity lost")
			m.bus.Publish(bus.Event{Kind: EventOffline, Timestamp: now, Payload: st})
		}
	}
	return st
}

func (m *Monitor) stateLocked() State {
	st := State{
		Online:       m.online,
		LastChecked:  m.lastChecked,
		OfflineSince: m.offlineSince,
	}
	switch {
	case m.lastChecked.IsZero():
		st.Quality = "unknown"
	case !m.online:
		st.Quality = "poor"
	case m.latency > 2*time.Second:
		st.Quality = "poor"
	case m.latency > 500*time.Millisecond:
		st.Quality = "good"
	default:
		st.Quality = "excellent"
	}
	return st
}
