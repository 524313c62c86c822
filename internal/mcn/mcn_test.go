package mcn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/seec/internal/domain"
)

func ruleSet(window int) domain.RuleSet {
	return domain.RuleSet{
		Entry: []domain.Rule{{ID: "e1", Predicate: domain.Predicate{Indicator: domain.IndicatorRSI, Window: window, Comparator: domain.CompLT, Threshold: 30}}},
		Exit:  []domain.Rule{{ID: "x1", Predicate: domain.Predicate{Indicator: domain.IndicatorRSI, Window: window, Comparator: domain.CompGT, Threshold: 70}}},
	}
}

func TestMemory_RegisterIsIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	rs := ruleSet(14)
	fp := domain.ComputeFingerprint(rs)

	require.NoError(t, m.Register(ctx, fp, rs))
	require.NoError(t, m.Register(ctx, fp, rs)) // second call: no-op, no error

	assert.Len(t, m.registered, 1)
}

func TestMemory_LinkChild_RejectsCycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	parent := domain.Fingerprint("parent")
	child := domain.Fingerprint("child")
	grandchild := domain.Fingerprint("grandchild")

	require.NoError(t, m.Register(ctx, parent, ruleSet(10)))
	require.NoError(t, m.Register(ctx, child, ruleSet(11)))
	require.NoError(t, m.Register(ctx, grandchild, ruleSet(12)))

	require.NoError(t, m.LinkChild(ctx, parent, child, domain.MutationParameterJitter))
	require.NoError(t, m.LinkChild(ctx, child, grandchild, domain.MutationWindowResize))

	err := m.LinkChild(ctx, grandchild, parent, domain.MutationRuleSwap)
	require.Error(t, err)
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.ErrCycleDetected, de.Code)
}

func TestMemory_LinkChild_RejectsSelfLoop(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	fp := domain.Fingerprint("self")
	require.NoError(t, m.Register(ctx, fp, ruleSet(10)))

	err := m.LinkChild(ctx, fp, fp, domain.MutationThresholdShift)
	require.Error(t, err)
}

func TestMemory_Lineage_OrdersOldestFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	a, b, c := domain.Fingerprint("a"), domain.Fingerprint("b"), domain.Fingerprint("c")
	require.NoError(t, m.Register(ctx, a, ruleSet(10)))
	require.NoError(t, m.Register(ctx, b, ruleSet(11)))
	require.NoError(t, m.Register(ctx, c, ruleSet(12)))

	require.NoError(t, m.LinkChild(ctx, a, b, domain.MutationParameterJitter))
	require.NoError(t, m.LinkChild(ctx, b, c, domain.MutationWindowResize))

	lineage, err := m.Lineage(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, []domain.MutationKind{domain.MutationParameterJitter, domain.MutationWindowResize}, lineage)
}

func TestMemory_Novelty_IdenticalFeaturesYieldZero(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	a, b := domain.Fingerprint("a"), domain.Fingerprint("b")
	require.NoError(t, m.Register(ctx, a, ruleSet(14)))
	require.NoError(t, m.Register(ctx, b, ruleSet(14))) // identical feature set

	novelty, err := m.Novelty(ctx, a)
	require.NoError(t, err)
	assert.InDelta(t, 0, novelty, 1e-9)
}

func TestMemory_Novelty_SoleFingerprintIsFullyNovel(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	a := domain.Fingerprint("a")
	require.NoError(t, m.Register(ctx, a, ruleSet(14)))

	novelty, err := m.Novelty(ctx, a)
	require.NoError(t, err)
	assert.InDelta(t, 1, novelty, 1e-9)
}

func TestMemory_Robustness_MissingRegimeCountsAsFail(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	fp := domain.Fingerprint("fp")
	require.NoError(t, m.Register(ctx, fp, ruleSet(14)))

	require.NoError(t, m.RecordRegime(ctx, domain.RegimeSnapshot{
		Fingerprint: fp, Regime: domain.RegimeBull,
		Metrics: domain.MetricRecord{Sharpe: 3}, TrainSharpe: 2, Pass: true,
	}))
	// bear, high_vol, low_vol are never recorded: treated as fail.

	robustness, err := m.Robustness(ctx, fp)
	require.NoError(t, err)
	// one of four regimes passing, ratio clipped to 1.5 (3/2=1.5): weight 0.25 * 1.5 / 1.5 * 100 = 25
	assert.InDelta(t, 25, robustness, 1e-6)
}

func TestMemory_Robustness_AllRegimesAtCapIsMax(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	fp := domain.Fingerprint("fp")
	require.NoError(t, m.Register(ctx, fp, ruleSet(14)))

	for _, regime := range domain.AllRegimes {
		require.NoError(t, m.RecordRegime(ctx, domain.RegimeSnapshot{
			Fingerprint: fp, Regime: regime,
			Metrics: domain.MetricRecord{Sharpe: 3}, TrainSharpe: 2, Pass: true,
		}))
	}

	robustness, err := m.Robustness(ctx, fp)
	require.NoError(t, err)
	assert.InDelta(t, 100, robustness, 1e-6)
}
