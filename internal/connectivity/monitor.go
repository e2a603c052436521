package connectivity

import (
	"sync"

	"go.uber.org/zap"
)

// Listener receives the new connectivity state on every transition.
type Listener func(connected bool)

// Monitor is an explicitly constructed subject for the process-wide
// connected flag. Whatever observes the network (the kafka consumer,
// an ops endpoint, a platform callback) calls Set; subscribers are
// notified only when the value actually changes.
type Monitor struct {
	mu        sync.Mutex
	connected bool
	listeners map[int]Listener
	nextID    int
	logger    *zap.Logger
}

// NewMonitor creates a Monitor that starts in the connected state. The
// first real observation corrects it.
func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		connected: true,
		listeners: make(map[int]Listener),
		logger:    logger,
	}
}

// IsConnected returns the last observed state.
func (m *Monitor) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Subscribe registers a listener and returns an idempotent unsubscribe
// function.
func (m *Monitor) Subscribe(l Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Set records a new observation. Listeners run synchronously, outside
// the lock, only when the state changed.
func (m *Monitor) Set(connected bool) {
	m.mu.Lock()
	if m.connected == connected {
		m.mu.Unlock()
		return
	}
	m.connected = connected
	notify := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		notify = append(notify, l)
	}
	m.mu.Unlock()

	m.logger.Info("connectivity changed", zap.Bool("connected", connected))
	for _, l := range notify {
		l(connected)
	}
}
