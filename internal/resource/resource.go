// Package resource implements the Resource Manager: admits queries
// against a concurrency and memory budget, issues a Lease for each
// admitted query, and exposes cooperative cancellation tokens the
// Execution Engine polls during long scans.
package resource

import (
	"context"
	"sync"
	"time"

	"github.com/codeready-toolchain/sentinel/internal/apperrors"
	"github.com/codeready-toolchain/sentinel/internal/config"
)

// Lease represents one admitted query's claim on concurrency and memory
// budget. Callers must call Release exactly once.
type Lease struct {
	id        string
	memory    int64
	manager   *Manager
	cancel    context.CancelFunc
	ctx       context.Context
	startedAt time.Time
}

// Context returns a context that is canceled when Cancel is called on this
// lease or its parent is done.
func (l *Lease) Context() context.Context { return l.ctx }

// Cancel requests cooperative cancellation of the query holding this lease.
func (l *Lease) Cancel() { l.cancel() }

// Release returns the lease's memory and concurrency slot to the pool.
// Idempotent.
func (l *Lease) Release() {
	l.manager.release(l)
}

// Manager enforces the configured concurrency and memory ceilings.
type Manager struct {
	cfg config.ResourceConfig

	mu          sync.Mutex
	inFlight    int
	usedMemory  int64
	leases      map[string]*Lease
}

// New builds a Manager bound to the configured resource budgets.
func New(cfg config.ResourceConfig) *Manager {
	return &Manager{cfg: cfg, leases: make(map[string]*Lease)}
}

// Acquire admits a query requesting estimatedMemory bytes, returning a
// Lease on success or a capacity apperrors.Error if either the concurrency
// or memory ceiling would be exceeded.
func (m *Manager) Acquire(ctx context.Context, id string, estimatedMemory int64) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight >= m.cfg.MaxConcurrent {
		return nil, apperrors.Capacity(100*time.Millisecond,
			"resource manager at max concurrency (%d)", m.cfg.MaxConcurrent)
	}
	if m.usedMemory+estimatedMemory > m.cfg.MaxMemoryBytes {
		return nil, apperrors.Capacity(100*time.Millisecond,
			"resource manager at max memory budget (%d bytes)", m.cfg.MaxMemoryBytes)
	}

	leaseCtx, cancel := context.WithCancel(ctx)
	lease := &Lease{
		id:        id,
		memory:    estimatedMemory,
		manager:   m,
		cancel:    cancel,
		ctx:       leaseCtx,
		startedAt: time.Now(),
	}
	m.inFlight++
	m.usedMemory += estimatedMemory
	m.leases[id] = lease
	return lease, nil
}

func (m *Manager) release(l *Lease) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.leases[l.id]; !ok {
		return
	}
	delete(m.leases, l.id)
	m.inFlight--
	m.usedMemory -= l.memory
	l.cancel()
}

// CancelByID cancels an in-flight lease by ID, returning false if no such
// lease is active.
func (m *Manager) CancelByID(id string) bool {
	m.mu.Lock()
	lease, ok := m.leases[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	lease.Cancel()
	return true
}

// Stats reports current utilization for health/diagnostics endpoints.
type Stats struct {
	InFlight   int
	UsedMemory int64
	MaxConcurrent int
	MaxMemory     int64
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		InFlight:      m.inFlight,
		UsedMemory:    m.usedMemory,
		MaxConcurrent: m.cfg.MaxConcurrent,
		MaxMemory:     m.cfg.MaxMemoryBytes,
	}
}
