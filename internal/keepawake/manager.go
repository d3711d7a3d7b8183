package keepawake

import (
	"context"
	"log"
	"sync"
	"time"
)

// Manager keeps the inhibitor in step with the viewer count.
type Manager struct {
	// reconcile serializes Refresh and Close so acquire and release never
	// interleave.
	reconcile sync.Mutex

	adapter Adapter
	viewers func() int
	now     func() time.Time

	mu     sync.Mutex
	status Status
	handle Handle
	gen    uint64
	closed bool
}

// NewManager creates a manager. viewers reports the current number of
// connected viewers and is read on every Refresh.
func NewManager(adapter Adapter, viewers func() int) *Manager {
	m := &Manager{
		adapter: adapter,
		viewers: viewers,
		now:     time.Now,
	}
	m.status = Status{State: StateOff, UpdatedAt: m.now()}
	return m
}

// Snapshot returns the current status.
func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Refresh acquires the inhibitor when viewers are connected and releases it
// when none are. Call it after every viewer connect and disconnect.
func (m *Manager) Refresh(ctx context.Context) Status {
	m.reconcile.Lock()
	defer m.reconcile.Unlock()

	n := m.viewers()

	m.mu.Lock()
	if m.closed {
		defer m.mu.Unlock()
		return m.status
	}
	m.status.Viewers = n

	if n == 0 {
		h := m.handle
		m.handle = nil
		m.gen++
		m.setLocked(StateOff, "")
		st := m.status
		m.mu.Unlock()

		if h != nil {
			log.Printf("keepawake: releasing inhibitor")
			if err := h.Release(ctx); err != nil {
				log.Printf("keepawake: release failed: %v", err)
				m.mu.Lock()
				m.status.LastError = err.Error()
				st = m.status
				m.mu.Unlock()
			}
		}
		return st
	}

	if m.handle != nil {
		select {
		case <-m.handle.Done():
			// Exited without a release; acquire a fresh one below.
			m.handle = nil
		default:
			defer m.mu.Unlock()
			return m.status
		}
	}
	m.mu.Unlock()

	h, err := m.adapter.Acquire(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		if m.status.State != StateDegraded {
			log.Printf("keepawake: %v", err)
		}
		m.setLocked(StateDegraded, err.Error())
		return m.status
	}
	m.handle = h
	m.gen++
	m.setLocked(StateOn, "")
	log.Printf("keepawake: inhibitor held for %d viewer(s)", n)
	go m.watch(h, m.gen)
	return m.status
}

// Close releases any held inhibitor. Later Refresh calls do nothing.
func (m *Manager) Close(ctx context.Context) error {
	m.reconcile.Lock()
	defer m.reconcile.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	h := m.handle
	m.handle = nil
	m.gen++
	m.setLocked(StateOff, "")
	m.mu.Unlock()

	if h == nil {
		return nil
	}
	if err := h.Release(ctx); err != nil {
		m.mu.Lock()
		m.status.LastError = err.Error()
		m.mu.Unlock()
		return err
	}
	return nil
}

// watch marks the manager degraded if h exits while still wanted.
func (m *Manager) watch(h Handle, gen uint64) {
	<-h.Done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != h || m.gen != gen || m.closed {
		return
	}

	msg := "inhibitor exited unexpectedly"
	if err := h.Err(); err != nil {
		msg = err.Error()
	}
	log.Printf("keepawake: %s", msg)
	m.handle = nil
	m.setLocked(StateDegraded, msg)
}

func (m *Manager) setLocked(state State, lastErr string) {
	m.status.State = state
	m.status.LastError = lastErr
	m.status.UpdatedAt = m.now()
}
