package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRuleSet() RuleSet {
	return RuleSet{
		Entry: []Rule{
			{ID: "e1", Predicate: Predicate{Indicator: IndicatorRSI, Window: 14, Comparator: CompLT, Threshold: 30}},
			{ID: "e2", Predicate: Predicate{Indicator: IndicatorEMA, Window: 9, Comparator: CompCrossAbove, RefIndicator: IndicatorEMA, RefWindow: 21}},
		},
		Exit: []Rule{
			{ID: "x1", Predicate: Predicate{Indicator: IndicatorRSI, Window: 14, Comparator: CompGT, Threshold: 70}},
		},
		Parameters: map[string]float64{
			"stop_loss_pct":   0.02,
			"position_size":   1.0,
		},
	}
}

func TestComputeFingerprint_StableAcrossRuleOrder(t *testing.T) {
	a := sampleRuleSet()
	b := sampleRuleSet()
	// reverse entry order in b; structurally identical, order differs.
	b.Entry[0], b.Entry[1] = b.Entry[1], b.Entry[0]

	fpA := ComputeFingerprint(a)
	fpB := ComputeFingerprint(b)
	assert.Equal(t, fpA, fpB, "fingerprint must be stable regardless of authored rule order")
}

func TestComputeFingerprint_DiffersOnSemanticChange(t *testing.T) {
	a := sampleRuleSet()
	b := sampleRuleSet()
	b.Entry[0].Predicate.Threshold = 35

	fpA := ComputeFingerprint(a)
	fpB := ComputeFingerprint(b)
	assert.NotEqual(t, fpA, fpB)
}

func TestComputeFingerprint_IDIsNotPartOfIdentity(t *testing.T) {
	a := sampleRuleSet()
	b := sampleRuleSet()
	b.Entry[0].ID = "renamed-but-same-predicate"

	assert.Equal(t, ComputeFingerprint(a), ComputeFingerprint(b))
}

func TestRuleSetWellFormed(t *testing.T) {
	rs := sampleRuleSet()
	require.True(t, rs.WellFormed())

	noEntry := rs.Clone()
	noEntry.Entry = nil
	assert.False(t, noEntry.WellFormed())

	badWindow := rs.Clone()
	badWindow.Entry[0].Predicate.Window = 0
	assert.False(t, badWindow.WellFormed())
}

func TestFeatureSet(t *testing.T) {
	rs := sampleRuleSet()
	fs := rs.FeatureSet()
	_, ok := fs["rsi:14"]
	assert.True(t, ok)
	_, ok = fs["ema:9"]
	assert.True(t, ok)
	_, ok = fs["ema:21"]
	assert.True(t, ok)
}
