// Package mutator implements the genetic mutation stage (§4.5): it produces
// up to M structurally distinct children from a parent strategy, each via
// exactly one closed mutation kind, and registers accepted children's
// lineage into MCN.
package mutator

import (
	"context"
	"math/rand"

	"github.com/sawpanic/seec/internal/domain"
	"github.com/sawpanic/seec/internal/mcn"
)

type Mutator struct {
	cfg     Config
	store   mcn.Store
	library []domain.Predicate
}

func New(cfg Config, store mcn.Store, library []domain.Predicate) *Mutator {
	return &Mutator{cfg: cfg, store: store, library: library}
}

// Mutate produces up to cfg.M children of parent, deterministically seeded.
// Rejected attempts (fingerprint collision or malformed result) are retried
// with the next mutation kind/seed up to cfg.MaxAttempts and never count
// against M (§4.5 "Rejected children are not counted against M").
func (m *Mutator) Mutate(ctx context.Context, parent domain.Strategy, seed int64) ([]domain.Strategy, error) {
	rng := rand.New(rand.NewSource(seed))
	children := make([]domain.Strategy, 0, m.cfg.M)

	for attempt := 0; attempt < m.cfg.MaxAttempts && len(children) < m.cfg.M; attempt++ {
		kind := domain.AllMutationKinds[attempt%len(domain.AllMutationKinds)]
		candidate := m.applyKind(kind, parent.RuleSet.Clone(), rng)

		if !candidate.WellFormed() {
			continue
		}
		childFP := domain.ComputeFingerprint(candidate)
		if childFP == parent.Fingerprint {
			continue
		}

		collision, err := m.collides(ctx, childFP)
		if err != nil {
			return children, err
		}
		if collision {
			continue
		}

		if err := m.store.Register(ctx, childFP, candidate); err != nil {
			return children, err
		}
		if err := m.store.LinkChild(ctx, parent.Fingerprint, childFP, kind); err != nil {
			return children, err
		}

		children = append(children, domain.Strategy{
			Name:              parent.Name + "-mutant",
			Description:       parent.Description,
			Owner:             parent.Owner,
			AssetClass:        parent.AssetClass,
			Fingerprint:       childFP,
			RuleSet:           candidate,
			Status:            domain.StatusExperiment,
			EvolutionAttempts: 0,
		})
	}

	return children, nil
}

// collides reports whether childFP already has a registration record in
// MCN — §4.5's "fingerprint already exists ... within a configured
// generational depth" collapses to a flat existence check here, since MCN
// guarantees at most one registration per fingerprint regardless of which
// ancestor produced it (§4.2 invariant); MaxAttempts instead bounds how
// many tries the loop in Mutate spends retrying before giving up.
func (m *Mutator) collides(ctx context.Context, childFP domain.Fingerprint) (bool, error) {
	return m.store.Registered(ctx, childFP)
}

func (m *Mutator) applyKind(kind domain.MutationKind, rs domain.RuleSet, rng *rand.Rand) domain.RuleSet {
	switch kind {
	case domain.MutationParameterJitter:
		return applyParameterJitter(rs, rng, m.cfg.JitterFraction)
	case domain.MutationRuleSwap:
		return applyRuleSwap(rs, rng, m.library)
	case domain.MutationThresholdShift:
		return applyThresholdShift(rs, rng, m.cfg.ThresholdFraction)
	case domain.MutationWindowResize:
		return applyWindowResize(rs, rng, m.cfg.WindowDelta)
	case domain.MutationIndicatorSubstitute:
		return applyIndicatorSubstitute(rs, rng)
	default:
		return rs
	}
}
