// Package backtest implements the Backtest Engine (§4.3): a deterministic,
// no-look-ahead replay of a strategy's rule set over a bar series, split by
// calendar time into train/test segments, producing a fixed MetricRecord
// pair and an equity curve.
package backtest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sawpanic/seec/internal/domain"
	"github.com/sawpanic/seec/internal/marketdata"
)

// Bar is an alias so this package never has to import marketdata types
// under two names.
type Bar = marketdata.Bar

// Gateway is the subset of marketdata.Gateway the engine depends on,
// narrowed for testability.
type Gateway interface {
	GetBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]Bar, error)
}

// CostModel is the fixed per-trade transaction cost (§4.3 step 2).
type CostModel struct {
	PerTradeBps float64
}

// apply returns price adjusted by the cost in the direction that hurts the
// trade (higher entry price, lower exit price).
func (c CostModel) apply(price float64, entering bool) float64 {
	adj := price * (c.PerTradeBps / 10000)
	if entering {
		return price + adj
	}
	return price - adj
}

// Config bounds the Engine's determinism and failure thresholds (§4.3,
// §7). All fields are frozen configuration, never mutated mid-run.
type Config struct {
	TrainRatio        float64 // default 0.7 (§4.3 step 1)
	MinBarsPerSegment int     // insufficient_bars threshold
	MaxGapFraction    float64 // data_gap_exceeds_threshold
	Cost              CostModel
	BarsPerYear       float64 // used for Sharpe/Sortino/annualized-return scaling
}

// DefaultConfig matches the frozen defaults named in §4.3/§4.4.
func DefaultConfig() Config {
	return Config{
		TrainRatio:        0.7,
		MinBarsPerSegment: 20,
		MaxGapFraction:    0.1,
		Cost:              CostModel{PerTradeBps: 10},
		BarsPerYear:       365 * 24, // hourly bars by default
	}
}

// Engine replays a rule set over historical bars.
type Engine struct {
	gateway Gateway
	config  Config
	clock   Clock
}

func NewEngine(gateway Gateway, config Config) *Engine {
	return &Engine{gateway: gateway, config: config, clock: RealClock{}}
}

func (e *Engine) SetClock(c Clock) { e.clock = c }

// Run executes the full protocol in §4.3 steps 1-5 for one strategy over
// one or more symbols, honoring ctx cancellation between symbols — the
// engine's only suspension/yield point (§5 "between bar batches").
func (e *Engine) Run(ctx context.Context, ruleSet domain.RuleSet, symbols []string, interval string, start, end time.Time, seed int64) (domain.BacktestResult, error) {
	if !ruleSet.WellFormed() {
		return domain.BacktestResult{}, domain.NewError(domain.ErrRuleSetMalformed, "rule set has no entry or exit rules")
	}

	trainEnd := start.Add(time.Duration(float64(end.Sub(start)) * e.config.TrainRatio))

	perSymbolTrain := make(map[string]domain.MetricRecord, len(symbols))
	perSymbolTest := make(map[string]domain.MetricRecord, len(symbols))
	var allTrades []domain.TradeRecord
	var trainCurves, testCurves [][]domain.EquityPoint

	for _, symbol := range symbols {
		select {
		case <-ctx.Done():
			return domain.BacktestResult{}, ctx.Err()
		default:
		}

		bars, err := e.gateway.GetBars(ctx, symbol, interval, start, end)
		if err != nil {
			return domain.BacktestResult{}, err
		}

		trainBars, testBars := splitByTime(bars, trainEnd)
		if len(trainBars) < e.config.MinBarsPerSegment || len(testBars) < e.config.MinBarsPerSegment {
			return domain.BacktestResult{}, domain.NewError(domain.ErrInsufficientBars,
				fmt.Sprintf("symbol %s: train=%d test=%d below minimum %d", symbol, len(trainBars), len(testBars), e.config.MinBarsPerSegment))
		}

		if gapFraction(bars, interval, start, end) > e.config.MaxGapFraction {
			return domain.BacktestResult{}, domain.NewError(domain.ErrDataGapExceeded,
				fmt.Sprintf("symbol %s exceeds max gap fraction %.2f", symbol, e.config.MaxGapFraction))
		}

		trainTrades, trainCurve := simulate(symbol, trainBars, ruleSet, e.config.Cost)
		testTrades, testCurve := simulate(symbol, testBars, ruleSet, e.config.Cost)

		perSymbolTrain[symbol] = computeMetrics(trainTrades, trainCurve, e.config.BarsPerYear)
		perSymbolTest[symbol] = computeMetrics(testTrades, testCurve, e.config.BarsPerYear)

		// Tag each test trade with the regime this symbol's own test bars
		// were in at ExitBar (§4.4 rule 7). Classifying per symbol, rather
		// than against a single shared bar series, keeps ExitBar's index
		// space aligned with the regime tags it's looked up against. Train
		// trades are never tagged, so regime re-scoring can't pick them up.
		regimeTags := marketdata.ClassifyRegimes(testBars)
		for i := range testTrades {
			if testTrades[i].ExitBar < len(regimeTags) {
				testTrades[i].Regime = regimeTags[testTrades[i].ExitBar]
			}
		}

		allTrades = append(allTrades, trainTrades...)
		allTrades = append(allTrades, testTrades...)
		trainCurves = append(trainCurves, trainCurve)
		testCurves = append(testCurves, testCurve)
	}

	trainAgg := aggregateMetrics(perSymbolTrain, symbols)
	testAgg := aggregateMetrics(perSymbolTest, symbols)

	combinedCurve := combineEquityCurves(append(append([][]domain.EquityPoint{}, trainCurves...), testCurves...))

	dataWindowHash := windowHash(symbols, interval, start, end)

	return domain.BacktestResult{
		RunID:          runID(seed, dataWindowHash),
		Seed:           seed,
		DataWindowHash: dataWindowHash,
		Train:          trainAgg,
		Test:           testAgg,
		PerSymbolTrain: perSymbolTrain,
		PerSymbolTest:  perSymbolTest,
		EquityCurve:    combinedCurve,
		TradeLog:       allTrades,
	}, nil
}

func splitByTime(bars []Bar, trainEnd time.Time) (train, test []Bar) {
	for _, b := range bars {
		if !b.Timestamp.After(trainEnd) {
			train = append(train, b)
		} else {
			test = append(test, b)
		}
	}
	return train, test
}

// gapFraction estimates the fraction of expected bars missing from the
// series given the interval's nominal duration (§4.3 "data_gap_exceeds_threshold").
func gapFraction(bars []Bar, interval string, start, end time.Time) float64 {
	step := intervalDuration(interval)
	if step <= 0 || len(bars) == 0 {
		return 0
	}
	expected := int(end.Sub(start)/step) + 1
	if expected <= 0 {
		return 0
	}
	missing := expected - len(bars)
	if missing < 0 {
		missing = 0
	}
	return float64(missing) / float64(expected)
}

func intervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

func aggregateMetrics(perSymbol map[string]domain.MetricRecord, symbols []string) domain.MetricRecord {
	n := 0
	var agg domain.MetricRecord
	for _, symbol := range symbols {
		m, ok := perSymbol[symbol]
		if !ok || !m.HasData() {
			continue
		}
		agg.TotalTrades += m.TotalTrades
		agg.WinRate += m.WinRate
		agg.AvgRewardRisk += m.AvgRewardRisk
		agg.Sharpe += m.Sharpe
		agg.Sortino += m.Sortino
		agg.MaxDrawdown += m.MaxDrawdown
		agg.ProfitFactor += m.ProfitFactor
		agg.AnnualizedReturn += m.AnnualizedReturn
		if m.LongestDrawdownBars > agg.LongestDrawdownBars {
			agg.LongestDrawdownBars = m.LongestDrawdownBars
		}
		n++
	}
	if n == 0 {
		return domain.MetricRecord{}
	}
	agg.WinRate /= float64(n)
	agg.AvgRewardRisk /= float64(n)
	agg.Sharpe /= float64(n)
	agg.Sortino /= float64(n)
	agg.MaxDrawdown /= float64(n)
	agg.ProfitFactor /= float64(n)
	agg.AnnualizedReturn /= float64(n)
	return agg
}

// combineEquityCurves aggregates per-symbol curves by equal weighting at
// each relative bar position (§4.3 step 4).
func combineEquityCurves(curves [][]domain.EquityPoint) []domain.EquityPoint {
	maxLen := 0
	for _, c := range curves {
		if len(c) > maxLen {
			maxLen = len(c)
		}
	}
	out := make([]domain.EquityPoint, 0, maxLen)
	peak := 0.0
	for i := 0; i < maxLen; i++ {
		sum, n := 0.0, 0
		for _, c := range curves {
			if i < len(c) {
				sum += c[i].Equity
				n++
			}
		}
		if n == 0 {
			continue
		}
		equity := sum / float64(n)
		if equity > peak {
			peak = equity
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - equity) / peak
		}
		out = append(out, domain.EquityPoint{BarIndex: i, Equity: equity, Drawdown: dd})
	}
	return out
}

func windowHash(symbols []string, interval string, start, end time.Time) string {
	return fmt.Sprintf("%v|%s|%d|%d", symbols, interval, start.UTC().Unix(), end.UTC().Unix())
}

// runID derives a stable identifier from the seed and data window so two
// runs of identical inputs produce a byte-identical BacktestResult (§4.3,
// §8), rather than a fresh random value every run.
func runID(seed int64, dataWindowHash string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s", seed, dataWindowHash)))
	return hex.EncodeToString(sum[:])
}
