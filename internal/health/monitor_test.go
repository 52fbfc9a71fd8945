package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/classline/classline/internal/bus"
)

type fakeSource struct {
	ch chan NetworkState
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan NetworkState, 8)}
}

func (f *fakeSource) Updates() <-chan NetworkState { return f.ch }
func (f *fakeSource) Close()                       {}

// probeServer is a controllable liveness endpoint.
type probeServer struct {
	*httptest.Server
	status atomic.Int32
	hits   atomic.Int32
}

func newProbeServer() *probeServer {
	ps := &probeServer{}
	ps.status.Store(http.StatusOK)
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		ps.hits.Add(1)
		w.WriteHeader(int(ps.status.Load()))
	}))
	return ps
}

func testMonitor(t *testing.T, ps *probeServer) (*Monitor, *fakeSource, <-chan bus.Event) {
	t.Helper()
	b := bus.New()
	src := newFakeSource()
	m := NewMonitor(Options{
		ProbeURL:      ps.URL + "/health",
		ProbeTimeout:  time.Second,
		ProbeInterval: time.Hour, // periodic cadence out of the way
		RecoveryDelay: 30 * time.Millisecond,
	}, src, b, zap.NewNop())

	ch, dispose := b.Subscribe("health.gate_changed", 32)
	t.Cleanup(dispose)

	m.Start(context.Background())
	t.Cleanup(m.Stop)
	return m, src, ch
}

func nextGate(t *testing.T, ch <-chan bus.Event) Gate {
	t.Helper()
	select {
	case evt := <-ch:
		gate, ok := evt.Payload.(Gate)
		if !ok {
			t.Fatalf("payload type = %T, want Gate", evt.Payload)
		}
		return gate
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for gate event")
		return Gate{}
	}
}

func waitGate(t *testing.T, m *Monitor, blocked bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Gate().Blocked == blocked {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("gate = %+v, want blocked=%v", m.Gate(), blocked)
}

// TestOfflineRecoveryScenario: network flips offline, the gate blocks with
// the no-internet variant; network returns, the gate opens and a verifying
// probe lands shortly after.
func TestOfflineRecoveryScenario(t *testing.T) {
	ps := newProbeServer()
	defer ps.Close()
	m, src, ch := testMonitor(t, ps)
	waitStartupProbe(t, ps)

	src.ch <- Offline
	gate := nextGate(t, ch)
	if !gate.Blocked || gate.Network != Offline {
		t.Fatalf("gate = %+v, want blocked offline", gate)
	}

	before := ps.hits.Load()
	src.ch <- Online
	gate = nextGate(t, ch)
	if gate.Blocked {
		t.Fatalf("gate = %+v, want open once both signals positive", gate)
	}

	// The verifying probe fires after the recovery delay.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && ps.hits.Load() == before {
		time.Sleep(5 * time.Millisecond)
	}
	if ps.hits.Load() == before {
		t.Error("no probe after network recovery")
	}
	_ = m
}

// TestGatingMonotonicity: modal visible iff offline OR unreachable;
// toggling one input while the other is positive flips visibility, and
// restoring both hides it.
func TestGatingMonotonicity(t *testing.T) {
	ps := newProbeServer()
	defer ps.Close()
	m, src, _ := testMonitor(t, ps)
	waitStartupProbe(t, ps)
	waitGate(t, m, false)

	// Offline while server reachable: blocked.
	src.ch <- Offline
	waitGate(t, m, true)

	// Back online, server still reachable: open.
	src.ch <- Online
	waitGate(t, m, false)

	// Server unreachable while online: blocked.
	ps.status.Store(http.StatusServiceUnavailable)
	m.ManualRetry()
	waitGate(t, m, true)

	// Server recovers: open again.
	ps.status.Store(http.StatusOK)
	m.ManualRetry()
	waitGate(t, m, false)
}

func TestManualRetryOfflineSkipsProbe(t *testing.T) {
	ps := newProbeServer()
	defer ps.Close()
	m, src, ch := testMonitor(t, ps)
	waitStartupProbe(t, ps)

	src.ch <- Offline
	_ = nextGate(t, ch)

	before := ps.hits.Load()
	m.ManualRetry()

	// The no-internet variant is re-shown without touching the server.
	gate := nextGate(t, ch)
	if !gate.Blocked || gate.Network != Offline {
		t.Fatalf("gate = %+v, want re-shown offline variant", gate)
	}
	time.Sleep(50 * time.Millisecond)
	if ps.hits.Load() != before {
		t.Error("manual retry probed the server while offline")
	}
}

func TestManualRetryClosesGateOnlyOnSuccess(t *testing.T) {
	ps := newProbeServer()
	ps.status.Store(http.StatusServiceUnavailable)
	defer ps.Close()
	m, _, _ := testMonitor(t, ps)

	// Startup probe fails: blocked.
	waitGate(t, m, true)

	// Retry against a still-failing server keeps the gate closed.
	m.ManualRetry()
	time.Sleep(50 * time.Millisecond)
	if !m.Gate().Blocked {
		t.Fatal("gate opened on a failed probe")
	}

	ps.status.Store(http.StatusOK)
	m.ManualRetry()
	waitGate(t, m, false)
}

func TestReportFaultOpensGate(t *testing.T) {
	ps := newProbeServer()
	defer ps.Close()
	m, _, _ := testMonitor(t, ps)
	waitStartupProbe(t, ps)
	waitGate(t, m, false)

	m.ReportFault(errors.New("dial tcp: connection refused"))
	waitGate(t, m, true)
	if got := m.Gate().Server; got != Unreachable {
		t.Errorf("server = %s, want UNREACHABLE", got)
	}
}

func TestForegroundProbesWhileOnline(t *testing.T) {
	ps := newProbeServer()
	defer ps.Close()
	m, _, _ := testMonitor(t, ps)
	waitStartupProbe(t, ps)

	before := ps.hits.Load()
	m.Foreground()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && ps.hits.Load() == before {
		time.Sleep(5 * time.Millisecond)
	}
	if ps.hits.Load() == before {
		t.Error("no probe on foreground")
	}
}

func waitStartupProbe(t *testing.T, ps *probeServer) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && ps.hits.Load() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if ps.hits.Load() == 0 {
		t.Fatal("no startup probe")
	}
}

// TestStartStopConcurrent drives the lifecycle from two goroutines; the
// race detector flags Stop reading the cancel func Start writes if the
// two are not synchronized.
func TestStartStopConcurrent(t *testing.T) {
	ps := newProbeServer()
	defer ps.Close()
	m := NewMonitor(Options{
		ProbeURL:      ps.URL + "/health",
		ProbeTimeout:  time.Second,
		ProbeInterval: time.Hour,
	}, newFakeSource(), bus.New(), zap.NewNop())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.Start(context.Background())
	}()
	go func() {
		defer wg.Done()
		m.Stop()
	}()
	wg.Wait()
	m.Stop()
}
