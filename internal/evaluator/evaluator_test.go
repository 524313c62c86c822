package evaluator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/seec/internal/domain"
	"github.com/sawpanic/seec/internal/mcn"
)

func baseStrategy() domain.Strategy {
	return domain.Strategy{
		ID:          "s1",
		Fingerprint: domain.Fingerprint("fp1"),
		Status:      domain.StatusExperiment,
	}
}

func TestEvaluate_InsufficientBarsLeavesStateUnchanged(t *testing.T) {
	e := New(DefaultConfig(), mcn.NewMemory())
	strat := baseStrategy()
	strat.Status = domain.StatusCandidate

	result := domain.BacktestResult{} // zero-value: Train/Test have no data
	out, err := e.Evaluate(context.Background(), strat, result, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCandidate, out.Status)
	assert.Equal(t, 1, out.EvolutionAttempts)
	assert.Nil(t, out.Score)
}

func TestEvaluate_Promotion(t *testing.T) {
	store := mcn.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.Register(ctx, "fp1", domain.RuleSet{
		Entry: []domain.Rule{{ID: "e", Predicate: domain.Predicate{Indicator: domain.IndicatorRSI, Window: 14}}},
		Exit:  []domain.Rule{{ID: "x", Predicate: domain.Predicate{Indicator: domain.IndicatorRSI, Window: 14}}},
	}))

	e := New(DefaultConfig(), store)
	strat := baseStrategy()

	result := domain.BacktestResult{
		DataWindowHash: "w1",
		Train:          domain.MetricRecord{TotalTrades: 80, Sharpe: 2.3},
		Test: domain.MetricRecord{
			TotalTrades: 80, WinRate: 0.62, Sharpe: 2.1,
			ProfitFactor: 2.5, MaxDrawdown: 0.12, Sortino: 2.4,
		},
		TradeLog: []domain.TradeRecord{
			{ExitBar: 0, EntryPrice: 100, PnL: 10, Regime: domain.RegimeBull}, {ExitBar: 1, EntryPrice: 100, PnL: 9, Regime: domain.RegimeBull}, {ExitBar: 2, EntryPrice: 100, PnL: 11, Regime: domain.RegimeBull},
			{ExitBar: 3, EntryPrice: 100, PnL: 8, Regime: domain.RegimeBear}, {ExitBar: 4, EntryPrice: 100, PnL: 7, Regime: domain.RegimeBear}, {ExitBar: 5, EntryPrice: 100, PnL: 9, Regime: domain.RegimeBear},
			{ExitBar: 6, EntryPrice: 100, PnL: 6, Regime: domain.RegimeHighVol}, {ExitBar: 7, EntryPrice: 100, PnL: 5, Regime: domain.RegimeHighVol}, {ExitBar: 8, EntryPrice: 100, PnL: 7, Regime: domain.RegimeHighVol},
			{ExitBar: 9, EntryPrice: 100, PnL: 5, Regime: domain.RegimeLowVol}, {ExitBar: 10, EntryPrice: 100, PnL: 4, Regime: domain.RegimeLowVol}, {ExitBar: 11, EntryPrice: 100, PnL: 6, Regime: domain.RegimeLowVol},
			// train trades share the same 0-based ExitBar space but carry no Regime tag, so they must not be picked up above
			{ExitBar: 0, EntryPrice: 100, PnL: -50}, {ExitBar: 1, EntryPrice: 100, PnL: -50}, {ExitBar: 2, EntryPrice: 100, PnL: -50},
		},
	}

	out, err := e.Evaluate(ctx, strat, result, time.Now())
	require.NoError(t, err)
	require.NotNil(t, out.Score)
	assert.InDelta(t, 0.76, *out.Score, 0.05)
	assert.Equal(t, domain.StatusProposable, out.Status)
	assert.True(t, out.IsProposable)
}

func TestEvaluate_OverfittingDiscard(t *testing.T) {
	store := mcn.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.Register(ctx, "fp1", domain.RuleSet{
		Entry: []domain.Rule{{ID: "e", Predicate: domain.Predicate{Indicator: domain.IndicatorRSI, Window: 14}}},
		Exit:  []domain.Rule{{ID: "x", Predicate: domain.Predicate{Indicator: domain.IndicatorRSI, Window: 14}}},
	}))

	e := New(DefaultConfig(), store)
	strat := baseStrategy()

	result := domain.BacktestResult{
		Train: domain.MetricRecord{TotalTrades: 80, Sharpe: 3.0},
		Test:  domain.MetricRecord{TotalTrades: 80, Sharpe: 0.5, WinRate: 0.5}, // gap = 2.5 > 0.6
	}

	out, err := e.Evaluate(ctx, strat, result, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDiscarded, out.Status)
	assert.False(t, out.IsProposable)
	assert.NotEmpty(t, out.DiscardReason)
	require.NotNil(t, out.Score)
}

func TestEvaluate_CandidateBand(t *testing.T) {
	store := mcn.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.Register(ctx, "fp1", domain.RuleSet{
		Entry: []domain.Rule{{ID: "e", Predicate: domain.Predicate{Indicator: domain.IndicatorRSI, Window: 14}}},
		Exit:  []domain.Rule{{ID: "x", Predicate: domain.Predicate{Indicator: domain.IndicatorRSI, Window: 14}}},
	}))

	e := New(DefaultConfig(), store)
	strat := baseStrategy()

	result := domain.BacktestResult{
		Train: domain.MetricRecord{TotalTrades: 60, Sharpe: 1.2},
		Test:  domain.MetricRecord{TotalTrades: 60, Sharpe: 1.0, WinRate: 0.5, ProfitFactor: 1.2, MaxDrawdown: 0.2},
	}

	out, err := e.Evaluate(ctx, strat, result, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCandidate, out.Status)
	assert.False(t, out.IsProposable)
}
