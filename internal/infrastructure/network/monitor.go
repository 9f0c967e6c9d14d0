package network

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"auction-sync/pkg/logger"

	"github.com/jonboulle/clockwork"
)

// StaticMonitor reports whatever it was last told. Useful when the embedding
// application already tracks connectivity.
type StaticMonitor struct {
	online atomic.Bool
}

func NewStaticMonitor(online bool) *StaticMonitor {
	m := &StaticMonitor{}
	m.online.Store(online)
	return m
}

func (m *StaticMonitor) IsOnline() bool {
	return m.online.Load()
}

func (m *StaticMonitor) Set(online bool) {
	m.online.Store(online)
}

type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ProbeMonitor considers the network online while a TCP connection to the
// probe address can be opened.
type ProbeMonitor struct {
	address  string
	interval time.Duration
	timeout  time.Duration
	dial     DialFunc
	clock    clockwork.Clock
	log      logger.Logger

	online   atomic.Bool
	mu       sync.Mutex
	onChange []func(online bool)
	stop     chan struct{}
	stopOnce sync.Once
}

func NewProbeMonitor(address string, interval, timeout time.Duration, clock clockwork.Clock, log logger.Logger) *ProbeMonitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	dialer := &net.Dialer{}
	m := &ProbeMonitor{
		address:  address,
		interval: interval,
		timeout:  timeout,
		dial:     dialer.DialContext,
		clock:    clock,
		log:      log,
		stop:     make(chan struct{}),
	}
	m.online.Store(true)
	return m
}

// WithDialer replaces the probe dialer.
func (m *ProbeMonitor) WithDialer(dial DialFunc) *ProbeMonitor {
	m.dial = dial
	return m
}

func (m *ProbeMonitor) IsOnline() bool {
	return m.online.Load()
}

// OnChange registers fn for connectivity transitions.
func (m *ProbeMonitor) OnChange(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Start probes once synchronously and then every interval until Stop.
func (m *ProbeMonitor) Start() {
	m.Probe(context.Background())

	go func() {
		ticker := m.clock.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				m.Probe(context.Background())
			case <-m.stop:
				return
			}
		}
	}()
}

func (m *ProbeMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
}

// Probe checks connectivity now and notifies listeners on a change.
func (m *ProbeMonitor) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	online := true
	conn, err := m.dial(ctx, "tcp", m.address)
	if err != nil {
		online = false
	} else {
		conn.Close()
	}

	if m.online.Swap(online) != online {
		m.log.Info("Network connectivity changed", "online", online, "probe", m.address)
		m.mu.Lock()
		listeners := append([]func(bool){}, m.onChange...)
		m.mu.Unlock()
		for _, fn := range listeners {
			fn(online)
		}
	}
	return online
}
