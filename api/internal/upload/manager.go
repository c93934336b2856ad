package upload

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrTooManySessions = errors.New("upload: too many sessions")
	ErrSessionExists   = errors.New("upload: session already exists")
)

// Manager keeps one Controller per session key (an HTTP session id or a
// Telegram chat). Every controller shares the same analyzer and options.
type Manager struct {
	an    Analyzer
	opts  []Option
	items sync.Map // string -> *Controller
	n     atomic.Int64
	max   atomic.Int64
}

func NewManager(an Analyzer, opts ...Option) *Manager {
	return &Manager{an: an, opts: opts}
}

// SetMax caps the sessions Open will admit. Zero or less removes the cap.
func (m *Manager) SetMax(n int) { m.max.Store(int64(n)) }

func (m *Manager) Get(id string) (*Controller, bool) {
	v, ok := m.items.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Controller), true
}

// Create registers a fresh controller. It returns false and the existing
// controller when id is taken.
func (m *Manager) Create(id string) (*Controller, bool) {
	return m.CreateWith(id, m.an)
}

// CreateWith is Create with a session-specific analyzer.
func (m *Manager) CreateWith(id string, an Analyzer) (*Controller, bool) {
	c := NewController(an, m.opts...)
	v, loaded := m.items.LoadOrStore(id, c)
	if loaded {
		return v.(*Controller), false
	}
	m.n.Add(1)
	return c, true
}

// Open is CreateWith for untrusted callers: it honours the SetMax cap and
// reports a taken id as ErrSessionExists.
func (m *Manager) Open(id string, an Analyzer) (*Controller, error) {
	limit := m.max.Load()
	if n := m.n.Add(1); limit > 0 && n > limit {
		m.n.Add(-1)
		return nil, ErrTooManySessions
	}
	c := NewController(an, m.opts...)
	if _, loaded := m.items.LoadOrStore(id, c); loaded {
		m.n.Add(-1)
		return nil, ErrSessionExists
	}
	return c, nil
}

// Ensure returns the controller for id, creating it on first use.
func (m *Manager) Ensure(id string) *Controller {
	if c, ok := m.Get(id); ok {
		return c
	}
	c, _ := m.Create(id)
	return c
}

// Drop resets and removes the controller for id.
func (m *Manager) Drop(id string) bool {
	v, ok := m.items.LoadAndDelete(id)
	if !ok {
		return false
	}
	m.n.Add(-1)
	v.(*Controller).Close()
	return true
}

// Replace drops the session and registers a new one bound to an.
func (m *Manager) Replace(id string, an Analyzer) *Controller {
	m.Drop(id)
	c, _ := m.CreateWith(id, an)
	return c
}

func (m *Manager) Len() int { return int(m.n.Load()) }

// Sweep drops sessions whose last transition is older than idle. Sessions
// still analysing are kept. It returns the number dropped.
func (m *Manager) Sweep(idle time.Duration, now time.Time) int {
	cutoff := now.Add(-idle)
	dropped := 0
	m.items.Range(func(k, v any) bool {
		if !v.(*Controller).closeIfIdle(cutoff) {
			return true
		}
		if m.items.CompareAndDelete(k, v) {
			m.n.Add(-1)
			dropped++
		}
		return true
	})
	return dropped
}

// RunJanitor sweeps idle sessions every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, every, idle time.Duration, log *zap.Logger) {
	if every <= 0 || idle <= 0 {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := m.Sweep(idle, now); n > 0 {
				log.Info("idle sessions dropped", zap.Int("dropped", n), zap.Int("live", m.Len()))
			}
		}
	}
}
