package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sawpanic/seec/internal/domain"
)

// Memory is an in-memory Store used by tests and single-process
// deployments without Postgres configured.
type Memory struct {
	mu         sync.Mutex
	strategies map[string]domain.Strategy
}

func NewMemory() *Memory {
	return &Memory{strategies: make(map[string]domain.Strategy)}
}

func (m *Memory) Insert(_ context.Context, s domain.Strategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[s.ID] = s.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (domain.Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strategies[id]
	if !ok {
		return domain.Strategy{}, domain.NewError(domain.ErrRepositoryWrite, "strategy not found: "+id)
	}
	return s.Clone(), nil
}

func (m *Memory) Save(_ context.Context, s domain.Strategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.strategies[s.ID]; !ok {
		return domain.NewError(domain.ErrRepositoryWrite, "cannot save unknown strategy: "+s.ID)
	}
	m.strategies[s.ID] = s.Clone()
	return nil
}

// NextBatch implements the four-tier priority order in §4.6 as a single
// in-memory classification pass: every strategy is placed in the first
// tier it matches, each tier is sorted independently, and tiers are
// concatenated in priority order before truncating to limit.
func (m *Memory) NextBatch(_ context.Context, limit int, staleAfter time.Duration, now time.Time) ([]domain.Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tier1, tier2, tier3, tier4 []domain.Strategy

	for _, s := range m.strategies {
		if s.Status == domain.StatusDiscarded {
			continue
		}
		switch {
		case s.LastBacktestAt == nil:
			tier1 = append(tier1, s)
		case now.Sub(*s.LastBacktestAt) > staleAfter:
			tier2 = append(tier2, s)
		case s.Status == domain.StatusExperiment:
			tier3 = append(tier3, s)
		case s.Status == domain.StatusCandidate || s.Status == domain.StatusProposable:
			tier4 = append(tier4, s)
		}
	}

	sort.Slice(tier1, func(i, j int) bool { return tier1[i].CreatedAt.Before(tier1[j].CreatedAt) })
	sort.Slice(tier2, func(i, j int) bool { return tier2[i].LastBacktestAt.Before(*tier2[j].LastBacktestAt) })
	sort.Slice(tier3, func(i, j int) bool { return tier3[i].CreatedAt.Before(tier3[j].CreatedAt) })
	sort.Slice(tier4, func(i, j int) bool { return tier4[i].LastBacktestAt.Before(*tier4[j].LastBacktestAt) })

	ordered := make([]domain.Strategy, 0, len(tier1)+len(tier2)+len(tier3)+len(tier4))
	ordered = append(ordered, tier1...)
	ordered = append(ordered, tier2...)
	ordered = append(ordered, tier3...)
	ordered = append(ordered, tier4...)

	if limit < len(ordered) {
		ordered = ordered[:limit]
	}
	out := make([]domain.Strategy, len(ordered))
	for i, s := range ordered {
		out[i] = s.Clone()
	}
	return out, nil
}

func (m *Memory) TopProposable(_ context.Context, limit int) ([]domain.Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var proposable []domain.Strategy
	for _, s := range m.strategies {
		if s.Status == domain.StatusProposable {
			proposable = append(proposable, s)
		}
	}
	sort.Slice(proposable, func(i, j int) bool {
		si, sj := proposable[i].Score, proposable[j].Score
		if si == nil || sj == nil {
			return si != nil
		}
		return *si > *sj
	})
	if limit < len(proposable) {
		proposable = proposable[:limit]
	}
	out := make([]domain.Strategy, len(proposable))
	for i, s := range proposable {
		out[i] = s.Clone()
	}
	return out, nil
}
