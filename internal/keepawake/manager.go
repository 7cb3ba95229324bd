package keepawake

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// releaseTimeout bounds how long stopping one inhibitor may take.
const releaseTimeout = 2 * time.Second

// Manager tracks the inhibitor of every held run.
type Manager struct {
	adapter Adapter
	now     func() time.Time

	mu        sync.Mutex
	holds     map[string]*hold
	lastError string
	updatedAt time.Time
}

type hold struct {
	run    Run
	handle Handle
	err    string
}

// NewManager creates a manager that starts inhibitors with adapter.
func NewManager(adapter Adapter) *Manager {
	m := &Manager{adapter: adapter, now: time.Now, holds: make(map[string]*hold)}
	m.updatedAt = m.now()
	return m
}

// Snapshot returns the current status.
func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{State: StateOff, LastError: m.lastError, UpdatedAt: m.updatedAt}
	for id, h := range m.holds {
		st.Runs = append(st.Runs, id)
		if st.State == StateOff {
			st.State = StateOn
		}
		if h.err != "" {
			st.State = StateDegraded
		}
	}
	sort.Strings(st.Runs)
	return st
}

// Hold keeps the host awake until the returned function is called or the
// analyzer process of run exits. The release function may be called more
// than once. A failed acquire is logged and leaves the run degraded; the
// analysis is not affected.
func (m *Manager) Hold(ctx context.Context, run Run) (release func()) {
	if run.ID == "" {
		run.ID = fmt.Sprintf("pid-%d", run.PID)
	}

	m.mu.Lock()
	if _, ok := m.holds[run.ID]; ok {
		m.mu.Unlock()
		return func() {}
	}
	h := &hold{run: run}
	m.holds[run.ID] = h
	m.updatedAt = m.now()
	m.mu.Unlock()

	handle, err := m.adapter.Acquire(ctx, run)

	m.mu.Lock()
	switch {
	case m.holds[run.ID] != h:
		// Released while acquiring.
		m.mu.Unlock()
		if handle != nil {
			m.stop(run, handle)
		}
	case err != nil:
		log.Printf("keepawake: %s: %v", run, err)
		h.err = err.Error()
		m.lastError = h.err
		m.updatedAt = m.now()
		m.mu.Unlock()
	default:
		h.handle = handle
		m.updatedAt = m.now()
		m.mu.Unlock()
		log.Printf("keepawake: holding for %s", run)
		go m.watch(h, handle)
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.release(h) })
	}
}

func (m *Manager) release(h *hold) {
	m.mu.Lock()
	if m.holds[h.run.ID] != h {
		m.mu.Unlock()
		return
	}
	delete(m.holds, h.run.ID)
	handle := h.handle
	h.handle = nil
	m.updatedAt = m.now()
	m.mu.Unlock()

	if handle != nil {
		m.stop(h.run, handle)
	}
}

func (m *Manager) stop(run Run, handle Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := handle.Release(ctx); err != nil {
		log.Printf("keepawake: release for %s: %v", run, err)
		m.mu.Lock()
		m.lastError = err.Error()
		m.mu.Unlock()
	}
}

// watch notices an inhibitor that exits while its run is still held. A
// clean exit means the analyzer process ended first; anything else
// degrades the run.
func (m *Manager) watch(h *hold, handle Handle) {
	<-handle.Done()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holds[h.run.ID] != h || h.handle != handle {
		return
	}
	h.handle = nil
	err := handle.Err()
	if err == nil {
		return
	}
	log.Printf("keepawake: inhibitor for %s exited: %v", h.run, err)
	h.err = err.Error()
	m.lastError = h.err
	m.updatedAt = m.now()
}
