package netmon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/franciszver/cohort3-challenge2/internal/bus"
)

func newTestMonitor(probe ProbeFunc) (*Monitor, *bus.Bus) {
	b := bus.New()
	m := New(probe, Options{
		ProbeInterval: time.Hour, // tests drive checks manually
		ProbeTimeout:  time.Second,
		SettleDelay:   5 * time.Millisecond,
	}, b, zap.NewNop())
	return m, b
}

func TestForceCheckDetectsOffline(t *testing.T) {
	m, _ := newTestMonitor(func(ctx context.Context) error {
		return errors.New("unreachable")
	})

	st := m.ForceCheck(context.Background())
	if st.Online {
		t.Error("failed probe should flip state offline")
	}
	if st.Quality != "poor" {
		t.Errorf("quality = %q, want poor while offline", st.Quality)
	}
	if st.OfflineSince.IsZero() {
		t.Error("OfflineSince must be set while offline")
	}
}

func TestReconnectWaitsForSettleAndConfirms(t *testing.T) {
	var calls atomic.Int32
	var failing atomic.Bool
	failing.Store(true)
	m, _ := newTestMonitor(func(ctx context.Context) error {
		calls.Add(1)
		if failing.Load() {
			return errors.New("unreachable")
		}
		return nil
	})

	m.ForceCheck(context.Background())
	if m.Online() {
		t.Fatal("expected offline")
	}

	failing.Store(false)
	before := calls.Load()
	st := m.ForceCheck(context.Background())
	if !st.Online {
		t.Fatal("expected online after reconnect")
	}
	// The transition requires a confirming probe after the settle delay.
	if calls.Load() != before+2 {
		t.Errorf("probe calls during reconnect = %d, want 2", calls.Load()-before)
	}
	if !st.OfflineSince.IsZero() {
		t.Error("OfflineSince must be cleared once online")
	}
}

func TestTransitionsPublishBusEvents(t *testing.T) {
	var failing atomic.Bool
	m, b := newTestMonitor(func(ctx context.Context) error {
		if failing.Load() {
			return errors.New("unreachable")
		}
		return nil
	})
	events, unsub := b.Subscribe("net.", 8)
	defer unsub()

	failing.Store(true)
	m.ForceCheck(context.Background())
	failing.Store(false)
	m.ForceCheck(context.Background())

	want := []string{EventOffline, EventOnline}
	for _, kind := range want {
		select {
		case evt := <-events:
			if evt.Kind != kind {
				t.Errorf("event = %q, want %q", evt.Kind, kind)
			}
			if _, ok := evt.Payload.(State); !ok {
				t.Errorf("payload type = %T, want State", evt.Payload)
			}
		case <-time.After(time.Second):
			t.Fatalf("no %q event", kind)
		}
	}
}

func TestNoEventWithoutTransition(t *testing.T) {
	m, b := newTestMonitor(func(ctx context.Context) error { return nil })
	events, unsub := b.Subscribe("net.", 8)
	defer unsub()

	m.ForceCheck(context.Background())
	m.ForceCheck(context.Background())

	select {
	case evt := <-events:
		t.Errorf("unexpected event %q for steady online state", evt.Kind)
	default:
	}
}

func TestSimulationOverridesProbe(t *testing.T) {
	m, _ := newTestMonitor(func(ctx context.Context) error { return nil })

	m.SimulateOffline()
	if m.Online() {
		t.Fatal("SimulateOffline should take effect immediately")
	}
	// Probes are ignored while simulating.
	if st := m.ForceCheck(context.Background()); st.Online {
		t.Error("probe result should not override simulation")
	}

	m.SimulateOnline()
	if !m.Online() {
		t.Error("SimulateOnline should take effect immediately")
	}

	m.ClearSimulation()
	if st := m.ForceCheck(context.Background()); !st.Online {
		t.Error("after ClearSimulation the real probe decides")
	}
}

func TestStartStop(t *testing.T) {
	m, _ := newTestMonitor(func(ctx context.Context) error { return nil })
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestQualityClassification(t *testing.T) {
	m, _ := newTestMonitor(func(ctx context.Context) error { return nil })

	// Before the first probe nothing is known.
	if st := m.Snapshot(); st.Quality != "unknown" {
		t.Errorf("quality before first probe = %q, want unknown", st.Quality)
	}

	// A fast successful probe classifies as excellent.
	if st := m.ForceCheck(context.Background()); st.Quality != "excellent" {
		t.Errorf("quality after fast probe = %q, want excellent", st.Quality)
	}

	// A slow probe downgrades to good.
	m.probe = func(ctx context.Context) error {
		time.Sleep(600 * time.Millisecond)
		return nil
	}
	if st := m.ForceCheck(context.Background()); st.Quality != "good" {
		t.Errorf("quality after slow probe = %q, want good", st.Quality)
	}
}

func TestProbeTimeoutCountsAsOffline(t *testing.T) {
	m, _ := newTestMonitor(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	m.opts.ProbeTimeout = 10 * time.Millisecond

	if st := m.ForceCheck(context.Background()); st.Online {
		t.Error("hanging probe should count as offline")
	}
}
