// Package evaluator implements the promotion/demotion state machine (§4.4):
// a pure transform from a BacktestResult onto an updated Strategy
// evaluation state, consulting MCN only to register the evaluated
// fingerprint (a no-op when it is already registered), to read its
// novelty, and to write its per-regime snapshots.
package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/sawpanic/seec/internal/backtest"
	"github.com/sawpanic/seec/internal/domain"
	"github.com/sawpanic/seec/internal/mcn"
)

// Evaluator applies the ordered rule list in §4.4 to one BacktestResult.
type Evaluator struct {
	cfg Config
	mcn mcn.Store
}

func New(cfg Config, store mcn.Store) *Evaluator {
	return &Evaluator{cfg: cfg, mcn: store}
}

// Evaluate returns strat's next evaluation state. now is passed explicitly
// rather than read from the system clock, keeping the transform
// reproducible in tests (§4.3 "Determinism" applies equally here).
func (e *Evaluator) Evaluate(ctx context.Context, strat domain.Strategy, result domain.BacktestResult, now time.Time) (domain.Strategy, error) {
	out := strat.Clone()
	out.EvolutionAttempts++
	lastBacktestAt := now
	out.LastBacktestAt = &lastBacktestAt

	// Rule 1: either segment lacked enough bars to produce metrics.
	if !result.Train.HasData() || !result.Test.HasData() {
		return out, nil
	}

	trainMetrics := result.Train
	testMetrics := result.Test
	out.TrainMetrics = &trainMetrics
	out.TestMetrics = &testMetrics
	out.PerSymbolPerformance = result.PerSymbolTest

	// Strategies can reach the repository without an MCN record (seeds and
	// other direct inserts); Register is idempotent, so this is a no-op for
	// fingerprints the Mutator already registered.
	if err := e.mcn.Register(ctx, strat.Fingerprint, strat.RuleSet); err != nil {
		return strat, err
	}

	novelty, err := e.mcn.Novelty(ctx, strat.Fingerprint)
	if err != nil {
		return strat, err
	}

	score := 0.35*clip(testMetrics.Sharpe/3, 0, 1) +
		0.25*testMetrics.WinRate +
		0.2*clip(1-testMetrics.MaxDrawdown, 0, 1) +
		0.15*clip(testMetrics.ProfitFactor/3, 0, 1) +
		0.05*novelty
	out.Score = &score

	// Rule 2: overfitting / underperformance discard.
	overfittingGap := trainMetrics.Sharpe - testMetrics.Sharpe
	if overfittingGap > e.cfg.GMax || testMetrics.Sharpe < e.cfg.SMinTest {
		out.Status = domain.StatusDiscarded
		out.IsProposable = false
		out.DiscardReason = fmt.Sprintf("overfitting_gap=%.4f test_sharpe=%.4f", overfittingGap, testMetrics.Sharpe)
		return out, nil // rule 7: discarded paths never write regime snapshots
	}

	snapshots, passCount, err := e.scoreRegimes(strat.Fingerprint, result, trainMetrics.Sharpe, now)
	if err != nil {
		return strat, err
	}

	switch {
	case score >= e.cfg.TProposable &&
		testMetrics.TotalTrades >= e.cfg.NMin &&
		testMetrics.WinRate >= e.cfg.WMin &&
		passCount >= e.cfg.RMin:
		out.Status = domain.StatusProposable
		out.IsProposable = true
	case score >= e.cfg.TCandidate:
		out.Status = domain.StatusCandidate
		out.IsProposable = false
	default:
		out.Status = domain.StatusExperiment
		out.IsProposable = false
	}

	for _, snap := range snapshots {
		if err := e.mcn.RecordRegime(ctx, snap); err != nil {
			return out, err
		}
	}

	return out, nil
}

// scoreRegimes re-scores the test segment restricted to each regime's
// trades (§4.4 rule 7). Trades are matched by their own Regime tag, which
// the engine sets only on test-segment trades — train trades are never
// eligible, and a symbol's regime tags are never looked up against another
// symbol's bar-index space. A regime with no qualifying trades is recorded
// as a fail — its snapshot still exists (MCN's "no hidden state" invariant)
// but contributes nothing to the robustness/pass-count calculation.
func (e *Evaluator) scoreRegimes(fp domain.Fingerprint, result domain.BacktestResult, trainSharpe float64, now time.Time) ([]domain.RegimeSnapshot, int, error) {
	snapshots := make([]domain.RegimeSnapshot, 0, len(domain.AllRegimes))
	passCount := 0

	for _, regime := range domain.AllRegimes {
		var trades []domain.TradeRecord
		for _, t := range result.TradeLog {
			if t.Regime == regime {
				trades = append(trades, t)
			}
		}

		metrics := backtest.ComputeMetrics(trades, syntheticCurve(trades), e.barsPerYearOrDefault())
		pass := metrics.HasData() && metrics.Sharpe >= e.cfg.SMinTest
		if pass {
			passCount++
		}

		snapshots = append(snapshots, domain.RegimeSnapshot{
			Fingerprint: fp, Regime: regime, Metrics: metrics, TrainSharpe: trainSharpe,
			Pass: pass, DataWindowHash: result.DataWindowHash, RecordedAt: now,
		})
	}

	return snapshots, passCount, nil
}

// barsPerYearOrDefault mirrors backtest.DefaultConfig's BarsPerYear; regime
// re-scoring only affects Sharpe/Sortino/annualized-return scaling, which
// are relative measures robust to this being an hourly-bar assumption.
func (e *Evaluator) barsPerYearOrDefault() float64 {
	return 365 * 24
}

// syntheticCurve rebuilds a minimal equity curve from a trade subset so
// ComputeMetrics can derive drawdown statistics without access to the full
// per-bar series the original backtest ran over.
func syntheticCurve(trades []domain.TradeRecord) []domain.EquityPoint {
	curve := make([]domain.EquityPoint, 0, len(trades))
	equity, peak := 1.0, 1.0
	for i, t := range trades {
		if t.EntryPrice != 0 {
			equity *= 1 + t.PnL/t.EntryPrice
		}
		if equity > peak {
			peak = equity
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - equity) / peak
		}
		curve = append(curve, domain.EquityPoint{BarIndex: i, Equity: equity, Drawdown: dd})
	}
	return curve
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
