package backtest

import (
	"math"

	"github.com/sawpanic/seec/internal/domain"
)

// indicatorValue computes a rolling indicator at index i using only
// bars[0..i] — the no-look-ahead invariant (§4.3 "a rule may reference
// only bars with index ≤ current"). Returns (value, ok); ok is false when
// there are not yet enough bars to compute the window.
func indicatorValue(bars []Bar, i int, ind domain.Indicator, window int) (float64, bool) {
	if window <= 0 || i+1 < window {
		return 0, false
	}
	switch ind {
	case domain.IndicatorSMA:
		return sma(bars, i, window), true
	case domain.IndicatorEMA:
		return ema(bars, i, window), true
	case domain.IndicatorRSI:
		return rsi(bars, i, window)
	case domain.IndicatorATR:
		return atr(bars, i, window), true
	case domain.IndicatorMACD:
		return macd(bars, i, window), true
	case domain.IndicatorStochastic:
		return stochastic(bars, i, window), true
	default:
		return 0, false
	}
}

func sma(bars []Bar, i, window int) float64 {
	sum := 0.0
	for k := i - window + 1; k <= i; k++ {
		sum += bars[k].Close
	}
	return sum / float64(window)
}

func ema(bars []Bar, i, window int) float64 {
	alpha := 2.0 / (float64(window) + 1.0)
	e := bars[i-window+1].Close
	for k := i - window + 2; k <= i; k++ {
		e = alpha*bars[k].Close + (1-alpha)*e
	}
	return e
}

func rsi(bars []Bar, i, window int) (float64, bool) {
	if i+1 < window+1 {
		return 0, false
	}
	gain, loss := 0.0, 0.0
	for k := i - window + 1; k <= i; k++ {
		delta := bars[k].Close - bars[k-1].Close
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	if gain+loss == 0 {
		return 50, true
	}
	if loss == 0 {
		return 100, true
	}
	rs := (gain / float64(window)) / (loss / float64(window))
	return 100 - (100 / (1 + rs)), true
}

func atr(bars []Bar, i, window int) float64 {
	sum := 0.0
	for k := i - window + 1; k <= i; k++ {
		high, low, prevClose := bars[k].High, bars[k].Low, bars[k].Close
		if k > 0 {
			prevClose = bars[k-1].Close
		}
		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		sum += tr
	}
	return sum / float64(window)
}

func macd(bars []Bar, i, window int) float64 {
	fast := ema(bars, i, maxInt(window/2, 1))
	slow := ema(bars, i, window)
	return fast - slow
}

func stochastic(bars []Bar, i, window int) float64 {
	highest, lowest := bars[i-window+1].High, bars[i-window+1].Low
	for k := i - window + 1; k <= i; k++ {
		if bars[k].High > highest {
			highest = bars[k].High
		}
		if bars[k].Low < lowest {
			lowest = bars[k].Low
		}
	}
	if highest == lowest {
		return 50
	}
	return (bars[i].Close - lowest) / (highest - lowest) * 100
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// evaluatePredicate resolves a single predicate at bar index i. prevSign
// carries the prior bar's comparison sign so cross_above/cross_below can
// detect the crossing instant rather than a static comparison.
func evaluatePredicate(bars []Bar, i int, p domain.Predicate, prevSign map[string]int) bool {
	val, ok := indicatorValue(bars, i, p.Indicator, p.Window)
	if !ok {
		return false
	}

	var ref float64
	if p.RefIndicator != "" {
		refVal, ok := indicatorValue(bars, i, p.RefIndicator, p.RefWindow)
		if !ok {
			return false
		}
		ref = refVal
	} else {
		ref = p.Threshold
	}

	switch p.Comparator {
	case domain.CompGT:
		return val > ref
	case domain.CompLT:
		return val < ref
	case domain.CompGTE:
		return val >= ref
	case domain.CompLTE:
		return val <= ref
	case domain.CompCrossAbove, domain.CompCrossBelow:
		sign := 0
		if val > ref {
			sign = 1
		} else if val < ref {
			sign = -1
		}
		prev := prevSign[p.ID]
		prevSign[p.ID] = sign
		if p.Comparator == domain.CompCrossAbove {
			return prev <= 0 && sign > 0
		}
		return prev >= 0 && sign < 0
	default:
		return false
	}
}

// evaluateAll applies AND semantics across a rule list — every rule must
// pass for the group to trigger.
func evaluateAll(bars []Bar, i int, rules []domain.Rule, state map[string]int) bool {
	if len(rules) == 0 {
		return false
	}
	for _, r := range rules {
		if !evaluatePredicate(bars, i, r.Predicate, state) {
			return false
		}
	}
	return true
}

// evaluateAny applies OR semantics — any rule triggers the group. Used for
// exit rules so a strategy exits on the first satisfied condition.
func evaluateAny(bars []Bar, i int, rules []domain.Rule, state map[string]int) bool {
	for _, r := range rules {
		if evaluatePredicate(bars, i, r.Predicate, state) {
			return true
		}
	}
	return false
}
