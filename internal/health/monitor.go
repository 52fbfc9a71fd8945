package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/classline/classline/internal/bus"
)

// NetworkState is the device-level reachability signal, independent of
// both the persistent connection and the backend probe.
type NetworkState string

const (
	Online  NetworkState = "ONLINE"
	Offline NetworkState = "OFFLINE"
)

// Reachability is the backend liveness verdict from the REST-style probe.
type Reachability string

const (
	Reachable   Reachability = "REACHABLE"
	Unreachable Reachability = "UNREACHABLE"
)

// Gate is the UI-blocking decision: blocked iff the device is offline or
// the backend is unreachable. Published as health.gate_changed.
type Gate struct {
	Blocked bool
	Network NetworkState
	Server  Reachability
}

// Options are the monitor tunables.
type Options struct {
	// ProbeURL is the backend liveness endpoint; 200 means reachable.
	ProbeURL string
	// ProbeTimeout bounds each probe request.
	ProbeTimeout time.Duration
	// ProbeInterval is the periodic probe cadence while online.
	ProbeInterval time.Duration
	// RecoveryDelay is how long after the network returns before the
	// verifying probe fires.
	RecoveryDelay time.Duration
}

// Monitor owns the connectivity gate. It watches the push-driven network
// source, probes the backend on its own cadence, and is the single funnel
// for collaborators reporting connectivity faults. It never touches the
// persistent connection.
type Monitor struct {
	opts    Options
	src     NetSource
	bus     *bus.Bus
	logger  *zap.Logger
	client  *http.Client
	limiter *rate.Limiter

	mu      sync.Mutex
	network NetworkState
	server  Reachability
	blocked bool

	probeCh chan struct{}
	cancel  context.CancelFunc
}

// NewMonitor creates a monitor. Call Start to begin watching.
func NewMonitor(opts Options, src NetSource, b *bus.Bus, logger *zap.Logger) *Monitor {
	return &Monitor{
		opts:   opts,
		src:    src,
		bus:    b,
		logger: logger,
		client: &http.Client{Timeout: opts.ProbeTimeout},
		// Collaborator fault reports collapse to at most one probe-worth
		// of work per second.
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		network: Online,
		server:  Reachable,
		probeCh: make(chan struct{}, 1),
	}
}

// Start probes once immediately and then runs the watch loop until Stop.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()
	go func() {
		m.probe(ctx)
		m.loop(ctx)
	}()
}

// Stop ends the watch loop and closes the network source.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.src.Close()
}

// Gate returns the current blocking decision.
func (m *Monitor) Gate() Gate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Gate{Blocked: m.blocked, Network: m.network, Server: m.server}
}

// ManualRetry is the blocking modal's retry action. The network state is
// re-checked first: still offline re-shows the no-internet variant without
// probing; online re-runs the probe, and only a successful probe closes
// the gate.
func (m *Monitor) ManualRetry() {
	m.mu.Lock()
	offline := m.network == Offline
	m.mu.Unlock()

	if offline {
		m.publishGate(true)
		return
	}
	m.requestProbe()
}

// Foreground is called when the app returns to the foreground; it probes
// if the device is online.
func (m *Monitor) Foreground() {
	m.mu.Lock()
	online := m.network == Online
	m.mu.Unlock()
	if online {
		m.requestProbe()
	}
}

// ReportFault is the single registered handler for collaborators whose
// REST call failed with no HTTP response. Reports are throttled so a
// burst of failing calls collapses into one gate update.
func (m *Monitor) ReportFault(err error) {
	if !m.limiter.Allow() {
		return
	}
	m.logger.Warn("connectivity fault reported", zap.Error(err))
	m.setServer(Unreachable)
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.opts.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case state, ok := <-m.src.Updates():
			if !ok {
				return
			}
			m.onNetworkChange(ctx, state)
		case <-ticker.C:
			m.mu.Lock()
			online := m.network == Online
			m.mu.Unlock()
			if online {
				m.probe(ctx)
			}
		case <-m.probeCh:
			m.probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) onNetworkChange(ctx context.Context, state NetworkState) {
	m.mu.Lock()
	prev := m.network
	m.network = state
	m.mu.Unlock()
	if prev == state {
		return
	}
	m.logger.Info("network state changed", zap.String("state", string(state)))
	m.recompute()

	if state == Online {
		// Verify the backend shortly after the network returns.
		delay := m.opts.RecoveryDelay
		go func() {
			select {
			case <-time.After(delay):
				m.requestProbe()
			case <-ctx.Done():
			}
		}()
	}
}

func (m *Monitor) requestProbe() {
	select {
	case m.probeCh <- struct{}{}:
	default:
	}
}

func (m *Monitor) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.opts.ProbeURL, nil)
	if err != nil {
		m.setServer(Unreachable)
		return
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Warn("health probe failed", zap.Error(err))
		m.setServer(Unreachable)
		return
	}
	_ = resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		m.setServer(Reachable)
	} else {
		m.logger.Warn("health probe rejected", zap.Int("status", resp.StatusCode))
		m.setServer(Unreachable)
	}
}

func (m *Monitor) setServer(state Reachability) {
	m.mu.Lock()
	changed := m.server != state
	m.server = state
	m.mu.Unlock()
	if changed {
		m.logger.Info("server reachability changed", zap.String("state", string(state)))
	}
	m.recompute()
}

// recompute applies the gating rule and publishes on change.
func (m *Monitor) recompute() {
	m.publishGate(false)
}

func (m *Monitor) publishGate(force bool) {
	m.mu.Lock()
	blocked := m.network == Offline || m.server == Unreachable
	changed := blocked != m.blocked
	m.blocked = blocked
	gate := Gate{Blocked: blocked, Network: m.network, Server: m.server}
	m.mu.Unlock()

	if changed || force {
		m.bus.Publish(bus.E("health.gate_changed", gate))
	}
}
