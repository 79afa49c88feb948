// Package netmon tracks the device's network path and stamps each distinct
// path with a monotonically increasing epoch id. Latency history and probe
// results gathered on one path say little about another, so pool components
// scope their fast-moving state to the current epoch and reset it when the
// epoch advances.
package netmon

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Path describes one network context as reported by the platform: interface
// kind (wifi/cellular/wired), VPN state, the primary local address, and
// whether the path is usable at all.
type Path struct {
	Interface   string
	VPN         bool
	PrimaryAddr string
	Online      bool
}

// ChangeFunc is invoked after the epoch advances. It runs on the caller's
// goroutine and must not block.
type ChangeFunc func(epoch int64, online bool)

// Monitor assigns epoch ids to network paths. Epoch 0 is the path present at
// startup; any detected change increments the epoch by one and notifies
// registered dependents.
type Monitor struct {
	epoch  atomic.Int64
	online atomic.Bool

	mu        sync.Mutex
	last      Path
	seen      bool
	callbacks []ChangeFunc

	logger *zap.Logger
}

func NewMonitor(logger *zap.Logger) *Monitor {
	m := &Monitor{logger: logger}
	m.online.Store(true)
	return m
}

// Epoch returns the current epoch id.
func (m *Monitor) Epoch() int64 { return m.epoch.Load() }

// Online reports whether the current path is usable.
func (m *Monitor) Online() bool { return m.online.Load() }

// OnChange registers a callback invoked on every epoch increment.
func (m *Monitor) OnChange(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// SetPath feeds a platform path event into the monitor. The first event
// establishes epoch 0; any subsequent event that differs in interface, VPN
// state, primary address, or online state advances the epoch.
func (m *Monitor) SetPath(p Path) {
	m.mu.Lock()
	if !m.seen {
		m.seen = true
		m.last = p
		m.online.Store(p.Online)
		m.mu.Unlock()
		return
	}
	if p == m.last {
		m.mu.Unlock()
		return
	}
	m.last = p
	m.online.Store(p.Online)
	epoch := m.epoch.Add(1)
	callbacks := make([]ChangeFunc, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	m.logger.Info("network path changed",
		zap.Int64("epoch", epoch),
		zap.String("interface", p.Interface),
		zap.Bool("vpn", p.VPN),
		zap.Bool("online", p.Online))

	for _, fn := range callbacks {
		fn(epoch, p.Online)
	}
}
