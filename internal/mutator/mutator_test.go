package mutator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/seec/internal/domain"
	"github.com/sawpanic/seec/internal/mcn"
)

func parentStrategy() domain.Strategy {
	rs := domain.RuleSet{
		Entry: []domain.Rule{
			{ID: "e1", Predicate: domain.Predicate{Indicator: domain.IndicatorRSI, Window: 14, Comparator: domain.CompLT, Threshold: 30}},
		},
		Exit: []domain.Rule{
			{ID: "x1", Predicate: domain.Predicate{Indicator: domain.IndicatorRSI, Window: 14, Comparator: domain.CompGT, Threshold: 70}},
		},
		Parameters: map[string]float64{"position_size": 1.0, "stop_loss_pct": 0.02},
	}
	return domain.Strategy{
		ID:          "parent",
		Name:        "base",
		Fingerprint: domain.ComputeFingerprint(rs),
		RuleSet:     rs,
		Status:      domain.StatusCandidate,
	}
}

func TestMutate_ProducesDistinctWellFormedChildren(t *testing.T) {
	ctx := context.Background()
	store := mcn.NewMemory()
	parent := parentStrategy()
	require.NoError(t, store.Register(ctx, parent.Fingerprint, parent.RuleSet))

	m := New(DefaultConfig(), store, DefaultLibrary())
	children, err := m.Mutate(ctx, parent, 7)
	require.NoError(t, err)
	require.NotEmpty(t, children)

	seen := map[domain.Fingerprint]bool{}
	for _, child := range children {
		assert.True(t, child.RuleSet.WellFormed())
		assert.NotEqual(t, parent.Fingerprint, child.Fingerprint)
		assert.False(t, seen[child.Fingerprint], "duplicate child fingerprint")
		seen[child.Fingerprint] = true
		assert.Equal(t, domain.StatusExperiment, child.Status)
		assert.Equal(t, 0, child.EvolutionAttempts)

		lineage, err := store.Lineage(ctx, child.Fingerprint)
		require.NoError(t, err)
		require.Len(t, lineage, 1)
	}
}

func TestMutate_DeterministicForSameSeed(t *testing.T) {
	ctx := context.Background()
	parent := parentStrategy()

	run := func() []domain.Fingerprint {
		store := mcn.NewMemory()
		require.NoError(t, store.Register(ctx, parent.Fingerprint, parent.RuleSet))
		m := New(DefaultConfig(), store, DefaultLibrary())
		children, err := m.Mutate(ctx, parent, 99)
		require.NoError(t, err)
		fps := make([]domain.Fingerprint, len(children))
		for i, c := range children {
			fps[i] = c.Fingerprint
		}
		return fps
	}

	assert.Equal(t, run(), run())
}

func TestMutate_RespectsMCap(t *testing.T) {
	ctx := context.Background()
	store := mcn.NewMemory()
	parent := parentStrategy()
	require.NoError(t, store.Register(ctx, parent.Fingerprint, parent.RuleSet))

	cfg := DefaultConfig()
	cfg.M = 2
	m := New(cfg, store, DefaultLibrary())
	children, err := m.Mutate(ctx, parent, 3)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(children), 2)
}
