package health

import (
	"net"
	"time"
)

// NetSource pushes device-level network reachability transitions. The
// monitor never polls it; every transition is evaluated as it arrives.
type NetSource interface {
	Updates() <-chan NetworkState
	Close()
}

// InterfaceSource is the default NetSource: it watches for the presence
// of a non-loopback interface address and pushes a transition whenever
// that changes. The platform-owned reachability callback this stands in
// for is injected in app builds; the interface scan is the portable
// fallback.
type InterfaceSource struct {
	updates chan NetworkState
	done    chan struct{}
}

// NewInterfaceSource starts watching with the given scan period.
func NewInterfaceSource(period time.Duration) *InterfaceSource {
	s := &InterfaceSource{
		updates: make(chan NetworkState, 4),
		done:    make(chan struct{}),
	}
	go s.watch(period)
	return s
}

// Updates returns the transition channel. The current state is pushed
// first, then one value per change.
func (s *InterfaceSource) Updates() <-chan NetworkState {
	return s.updates
}

// Close stops the watcher.
func (s *InterfaceSource) Close() {
	close(s.done)
}

func (s *InterfaceSource) watch(period time.Duration) {
	last := scan()
	s.push(last)

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if cur := scan(); cur != last {
				last = cur
				s.push(cur)
			}
		case <-s.done:
			return
		}
	}
}

func (s *InterfaceSource) push(state NetworkState) {
	select {
	case s.updates <- state:
	default:
	}
}

func scan() NetworkState {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return Offline
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ipNet.IP.To4() != nil || ipNet.IP.To16() != nil {
			return Online
		}
	}
	return Offline
}
