// Package rulestore implements the Rule Store: an atomically-swapped,
// in-memory snapshot of every correlation rule, refreshed as a whole from
// the relational backend, using an atomic-snapshot-under-RWMutex pattern.
package rulestore

import (
	"context"
	"fmt"
	"sync"

	"github.com/codeready-toolchain/sentinel/internal/rulemodel"
)

// Loader fetches the full rule set from durable storage. Satisfied by
// *store.RuleRepository.
type Loader interface {
	LoadAll(ctx context.Context) ([]*rulemodel.Rule, error)
}

// Store holds the current rule snapshot and exposes fast read access.
// Reload swaps the entire snapshot atomically so readers never observe a
// partially-updated rule set.
type Store struct {
	loader Loader

	mu       sync.RWMutex
	byID     map[string]*rulemodel.Rule
	all      []*rulemodel.Rule
	critical []*rulemodel.Rule
	version  uint64

	onReload []func([]*rulemodel.Rule)
}

// New creates an empty Store backed by loader. Call Reload before use.
func New(loader Loader) *Store {
	return &Store{loader: loader, byID: map[string]*rulemodel.Rule{}}
}

// OnReload registers a callback invoked synchronously, after the swap,
// every time Reload succeeds. Used to keep the Priority Classifier and
// Rule Cache's TTL indices consistent with the active rule set: the
// correlation engine's thresholds and switches reset on a rule reload.
func (s *Store) OnReload(fn func([]*rulemodel.Rule)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReload = append(s.onReload, fn)
}

// Reload fetches the full rule set and atomically replaces the snapshot.
// A failed load leaves the previous snapshot in place.
func (s *Store) Reload(ctx context.Context) error {
	rules, err := s.loader.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("reload rule snapshot: %w", err)
	}

	byID := make(map[string]*rulemodel.Rule, len(rules))
	var enabled, critical []*rulemodel.Rule
	for _, r := range rules {
		byID[r.ID] = r
		if !r.Enabled {
			continue
		}
		enabled = append(enabled, r)
		if r.IsCritical() {
			critical = append(critical, r)
		}
	}

	s.mu.Lock()
	s.byID = byID
	s.all = enabled
	s.critical = critical
	s.version++
	callbacks := append([]func([]*rulemodel.Rule){}, s.onReload...)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(enabled)
	}
	return nil
}

// All returns the currently enabled rule snapshot.
func (s *Store) All() []*rulemodel.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.all
}

// Critical returns the always-evaluated rule subset: severity critical,
// priority high, or type authentication/malware.
func (s *Store) Critical() []*rulemodel.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.critical
}

// Get returns a single rule by ID, including disabled rules, or nil.
func (s *Store) Get(id string) *rulemodel.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id]
}

// Version returns a counter incremented on every successful Reload, usable
// as a cheap staleness check by the Rule Cache.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
