package mcn

import (
	"context"
	"sync"

	"github.com/sawpanic/seec/internal/domain"
)

type registration struct {
	ruleSet  domain.RuleSet
	features map[string]struct{}
}

// Memory is an in-memory Store, used by tests and by single-process
// deployments that run without Postgres configured.
type Memory struct {
	mu          sync.Mutex
	registered  map[domain.Fingerprint]registration
	parentOf    map[domain.Fingerprint]domain.Fingerprint
	edgeKind    map[domain.Fingerprint]domain.MutationKind // kind of the edge into this fingerprint
	snapshots   map[domain.Fingerprint]map[domain.RegimeTag]domain.RegimeSnapshot
	neighborCap int // bounds the novelty neighborhood scan (§4.2 "configured neighborhood")
}

func NewMemory() *Memory {
	return &Memory{
		registered:  make(map[domain.Fingerprint]registration),
		parentOf:    make(map[domain.Fingerprint]domain.Fingerprint),
		edgeKind:    make(map[domain.Fingerprint]domain.MutationKind),
		snapshots:   make(map[domain.Fingerprint]map[domain.RegimeTag]domain.RegimeSnapshot),
		neighborCap: 500,
	}
}

func (m *Memory) Register(_ context.Context, fp domain.Fingerprint, ruleSet domain.RuleSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.registered[fp]; ok {
		return nil
	}
	m.registered[fp] = registration{ruleSet: ruleSet.Clone(), features: ruleSet.FeatureSet()}
	return nil
}

func (m *Memory) Registered(_ context.Context, fp domain.Fingerprint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.registered[fp]
	return ok, nil
}

func (m *Memory) LinkChild(_ context.Context, parentFP, childFP domain.Fingerprint, kind domain.MutationKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.registered[parentFP]; !ok {
		return domain.NewError(domain.ErrCycleDetected, "parent fingerprint is not registered")
	}
	if _, ok := m.registered[childFP]; !ok {
		return domain.NewError(domain.ErrCycleDetected, "child fingerprint is not registered")
	}
	if parentFP == childFP {
		return domain.NewError(domain.ErrCycleDetected, "child fingerprint equals parent fingerprint")
	}
	if m.isAncestor(childFP, parentFP) {
		return domain.NewError(domain.ErrCycleDetected, "linking would close a cycle in the lineage graph")
	}

	m.parentOf[childFP] = parentFP
	m.edgeKind[childFP] = kind
	return nil
}

// isAncestor reports whether candidate appears anywhere in fp's ancestry
// chain, walking parent pointers to the root.
func (m *Memory) isAncestor(candidate, fp domain.Fingerprint) bool {
	seen := make(map[domain.Fingerprint]bool)
	cur := fp
	for {
		if cur == candidate {
			return true
		}
		if seen[cur] {
			return false // already-corrupt chain; don't loop forever
		}
		seen[cur] = true
		parent, ok := m.parentOf[cur]
		if !ok {
			return false
		}
		cur = parent
	}
}

func (m *Memory) RecordRegime(_ context.Context, snapshot domain.RegimeSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.registered[snapshot.Fingerprint]; !ok {
		return domain.NewError(domain.ErrMCNWrite, "cannot record regime for an unregistered fingerprint")
	}
	byRegime, ok := m.snapshots[snapshot.Fingerprint]
	if !ok {
		byRegime = make(map[domain.RegimeTag]domain.RegimeSnapshot)
		m.snapshots[snapshot.Fingerprint] = byRegime
	}
	byRegime[snapshot.Regime] = snapshot // last writer wins (§5)
	return nil
}

func (m *Memory) Novelty(_ context.Context, fp domain.Fingerprint) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.registered[fp]
	if !ok {
		return 0, domain.NewError(domain.ErrMCNWrite, "fingerprint is not registered")
	}

	maxSim := 0.0
	scanned := 0
	for other, reg := range m.registered {
		if other == fp {
			continue
		}
		if scanned >= m.neighborCap {
			break
		}
		scanned++
		sim := jaccard(target.features, reg.features)
		if sim > maxSim {
			maxSim = sim
		}
	}
	return 1 - maxSim, nil
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 1
	}
	return float64(intersection) / float64(union)
}

func (m *Memory) Robustness(_ context.Context, fp domain.Fingerprint) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.registered[fp]; !ok {
		return 0, domain.NewError(domain.ErrMCNWrite, "fingerprint is not registered")
	}

	byRegime := m.snapshots[fp]
	total := 0.0
	weight := 1.0 / float64(len(domain.AllRegimes))
	for _, regime := range domain.AllRegimes {
		snap, ok := byRegime[regime]
		if !ok || !snap.Pass {
			continue // missing regime treated as fail (§4.2)
		}
		ratio := 0.0
		if snap.TrainSharpe > 0 {
			ratio = snap.Metrics.Sharpe / snap.TrainSharpe
		}
		ratio = clip(ratio, 0, 1.5)
		total += weight * ratio
	}
	return total * 100 / 1.5, nil
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (m *Memory) Lineage(_ context.Context, fp domain.Fingerprint) ([]domain.MutationKind, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.registered[fp]; !ok {
		return nil, domain.NewError(domain.ErrMCNWrite, "fingerprint is not registered")
	}

	var reversed []domain.MutationKind
	cur := fp
	seen := make(map[domain.Fingerprint]bool)
	for {
		kind, hasEdge := m.edgeKind[cur]
		if !hasEdge {
			break
		}
		if seen[cur] {
			break
		}
		seen[cur] = true
		reversed = append(reversed, kind)
		cur = m.parentOf[cur]
	}

	out := make([]domain.MutationKind, len(reversed))
	for i, k := range reversed {
		out[len(reversed)-1-i] = k
	}
	return out, nil
}
