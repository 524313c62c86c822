package http

import (
	"sync"
	"time"

	"github.com/sawpanic/seec/internal/config"
	"github.com/sawpanic/seec/internal/scheduler"
)

// TunablesStore is the mutex-guarded, live-reconfigurable home of the
// Admin Control Plane's three tunables (§4.8): max_concurrent_backtests,
// evolution_interval_seconds, monitoring_interval_seconds. The Evolution
// Scheduler reads it once per tick via Tunables(); a write here never
// touches an in-flight tick.
type TunablesStore struct {
	mu sync.RWMutex
	t  config.Tunables
}

func NewTunablesStore(initial config.Tunables) *TunablesStore {
	return &TunablesStore{t: initial}
}

// Get returns a copy of the current tunables.
func (s *TunablesStore) Get() config.Tunables {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.t
}

// Set validates and replaces the tunables wholesale; PUT semantics, not
// PATCH, so callers always send every field.
func (s *TunablesStore) Set(next config.Tunables) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t = next
	return nil
}

// Tunables implements scheduler.TunablesSource.
func (s *TunablesStore) Tunables() scheduler.Tunables {
	t := s.Get()
	return scheduler.Tunables{
		MaxConcurrentBacktests: t.MaxConcurrentBacktests,
		EvolutionInterval:      time.Duration(t.EvolutionIntervalSeconds) * time.Second,
		MonitoringInterval:     time.Duration(t.MonitoringIntervalSeconds) * time.Second,
	}
}
