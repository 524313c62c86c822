package marketdata

import (
	"math"

	"github.com/sawpanic/seec/internal/domain"
)

// ClassifyRegimes assigns exactly one of {bull, bear, high_vol, low_vol} to
// every bar, using trailing realized volatility and trend direction. This
// is the deterministic stub classifier §9's Open Questions explicitly
// permits ("tests should use a deterministic stub classifier") — regime
// assignment is Gateway's responsibility (GLOSSARY "Regime"), not the
// Backtest Engine's or Evaluator's.
func ClassifyRegimes(bars []Bar) []domain.RegimeTag {
	const window = 20
	const highVolThreshold = 0.03 // 3% trailing stdev of bar returns
	const lowVolThreshold = 0.005

	tags := make([]domain.RegimeTag, len(bars))
	for i := range bars {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		vol := realizedVol(bars, start, i)
		switch {
		case vol >= highVolThreshold:
			tags[i] = domain.RegimeHighVol
		case vol <= lowVolThreshold:
			tags[i] = domain.RegimeLowVol
		default:
			if trendUp(bars, start, i) {
				tags[i] = domain.RegimeBull
			} else {
				tags[i] = domain.RegimeBear
			}
		}
	}
	return tags
}

func realizedVol(bars []Bar, start, end int) float64 {
	if end <= start {
		return 0
	}
	returns := make([]float64, 0, end-start)
	for i := start + 1; i <= end; i++ {
		if bars[i-1].Close == 0 {
			continue
		}
		returns = append(returns, (bars[i].Close-bars[i-1].Close)/bars[i-1].Close)
	}
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	return math.Sqrt(variance)
}

func trendUp(bars []Bar, start, end int) bool {
	if end <= start {
		return bars[end].Close >= 0
	}
	return bars[end].Close >= bars[start].Close
}
