package backtest

import (
	"math"

	"github.com/sawpanic/seec/internal/domain"
)

// ComputeMetrics reduces a closed trade log plus its equity curve into a
// MetricRecord. Reductions are all left-to-right over the trade/equity
// slices in chronological order so repeated runs over the same inputs are
// byte-identical (§4.3 "Determinism"). Exported so the Evaluator can
// re-score a trade subset per regime without duplicating the reduction.
func ComputeMetrics(trades []domain.TradeRecord, curve []domain.EquityPoint, barsPerYear float64) domain.MetricRecord {
	return computeMetrics(trades, curve, barsPerYear)
}

func computeMetrics(trades []domain.TradeRecord, curve []domain.EquityPoint, barsPerYear float64) domain.MetricRecord {
	if len(trades) == 0 {
		return domain.MetricRecord{}
	}

	wins, losses := 0, 0
	sumWin, sumLoss := 0.0, 0.0
	returns := make([]float64, 0, len(trades))

	for _, t := range trades {
		if t.PnL > 0 {
			wins++
			sumWin += t.PnL
		} else if t.PnL < 0 {
			losses++
			sumLoss += -t.PnL
		}
		if t.EntryPrice != 0 {
			returns = append(returns, t.PnL/t.EntryPrice)
		} else {
			returns = append(returns, 0)
		}
	}

	closedTrades := wins + losses
	winRate := 0.0
	if closedTrades > 0 {
		winRate = float64(wins) / float64(closedTrades)
	}

	avgWin := 0.0
	if wins > 0 {
		avgWin = sumWin / float64(wins)
	}
	avgLoss := 0.0
	if losses > 0 {
		avgLoss = sumLoss / float64(losses)
	}
	rewardRisk := 0.0
	if avgLoss > 0 {
		rewardRisk = avgWin / avgLoss
	}

	profitFactor := 0.0
	if sumLoss > 0 {
		profitFactor = sumWin / sumLoss
	} else if sumWin > 0 {
		profitFactor = sumWin // no losses: treat as uncapped upside, callers clip
	}

	mean, std := meanStdDev(returns)
	sharpe := 0.0
	if std > 0 {
		sharpe = (mean / std) * math.Sqrt(barsPerYear/float64(len(returns)))
	}

	downsideStd := downsideStdDev(returns, mean)
	sortino := 0.0
	if downsideStd > 0 {
		sortino = (mean / downsideStd) * math.Sqrt(barsPerYear/float64(len(returns)))
	}

	maxDD, longestDDBars := drawdownStats(curve)

	annualizedReturn := 0.0
	if len(curve) > 1 && curve[0].Equity > 0 {
		totalReturn := curve[len(curve)-1].Equity/curve[0].Equity - 1
		years := float64(len(curve)) / barsPerYear
		if years > 0 {
			annualizedReturn = totalReturn / years
		}
	}

	return domain.MetricRecord{
		TotalTrades:         closedTrades,
		WinRate:             winRate,
		AvgRewardRisk:       rewardRisk,
		Sharpe:              sharpe,
		Sortino:             sortino,
		MaxDrawdown:         maxDD,
		ProfitFactor:         profitFactor,
		AnnualizedReturn:    annualizedReturn,
		LongestDrawdownBars: longestDDBars,
	}
}

func meanStdDev(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))

	variance := 0.0
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	return mean, math.Sqrt(variance)
}

func downsideStdDev(xs []float64, mean float64) float64 {
	variance := 0.0
	n := 0
	for _, x := range xs {
		if x < mean {
			d := x - mean
			variance += d * d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(variance / float64(n))
}

// drawdownStats returns the maximum drawdown fraction and the longest run
// of consecutive bars spent below the running peak (§3 "longest drawdown
// duration (bars)").
func drawdownStats(curve []domain.EquityPoint) (maxDD float64, longestBars int) {
	if len(curve) == 0 {
		return 0, 0
	}
	peak := curve[0].Equity
	currentRun := 0
	for _, p := range curve {
		if p.Equity >= peak {
			peak = p.Equity
			currentRun = 0
		} else {
			currentRun++
		}
		if peak > 0 {
			dd := (peak - p.Equity) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
		if currentRun > longestBars {
			longestBars = currentRun
		}
	}
	return maxDD, longestBars
}
