package mutator

import "github.com/sawpanic/seec/internal/domain"

// DefaultLibrary is the fixed predicate library rule_swap draws from (§4.5
// "a fixed library"). Entries are partitioned by arity so a swap never
// changes a rule's arity.
func DefaultLibrary() []domain.Predicate {
	return []domain.Predicate{
		{Indicator: domain.IndicatorRSI, Window: 14, Comparator: domain.CompLT, Threshold: 30},
		{Indicator: domain.IndicatorRSI, Window: 14, Comparator: domain.CompGT, Threshold: 70},
		{Indicator: domain.IndicatorSMA, Window: 20, Comparator: domain.CompGT, Threshold: 0},
		{Indicator: domain.IndicatorEMA, Window: 50, Comparator: domain.CompLT, Threshold: 0},
		{Indicator: domain.IndicatorATR, Window: 14, Comparator: domain.CompGT, Threshold: 1.5},
		{Indicator: domain.IndicatorMACD, Window: 12, Comparator: domain.CompCrossAbove, RefIndicator: domain.IndicatorMACD, RefWindow: 26},
		{Indicator: domain.IndicatorStochastic, Window: 14, Comparator: domain.CompCrossBelow, RefIndicator: domain.IndicatorStochastic, RefWindow: 3},
	}
}

func libraryByArity(library []domain.Predicate, arity int) []domain.Predicate {
	out := make([]domain.Predicate, 0, len(library))
	for _, p := range library {
		if p.Arity() == arity {
			out = append(out, p)
		}
	}
	return out
}
