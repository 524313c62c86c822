// Package seedlib provides a handful of well-formed rule sets to populate
// an empty Strategy Repository on first run, so `seec serve`/`seec tick`
// have something to backtest without an operator hand-authoring a
// strategy first. The Mutator's own fixed predicate library
// (mutator.DefaultLibrary) is the source of truth for predicate
// construction elsewhere; this package only combines entry/exit pairs.
package seedlib

import "github.com/sawpanic/seec/internal/domain"

// Seeds returns distinct, well-formed experiment-stage rule sets spanning
// both predicate arities (fixed threshold and cross-indicator).
func Seeds() []domain.RuleSet {
	rsiOversold := domain.Rule{ID: "e1", Predicate: domain.Predicate{Indicator: domain.IndicatorRSI, Window: 14, Comparator: domain.CompLT, Threshold: 30}}
	rsiOverbought := domain.Rule{ID: "x1", Predicate: domain.Predicate{Indicator: domain.IndicatorRSI, Window: 14, Comparator: domain.CompGT, Threshold: 70}}
	smaFastAboveSlow := domain.Rule{ID: "e2", Predicate: domain.Predicate{Indicator: domain.IndicatorSMA, Window: 10, Comparator: domain.CompGT, RefIndicator: domain.IndicatorSMA, RefWindow: 50}}
	emaFastBelowSlow := domain.Rule{ID: "x2", Predicate: domain.Predicate{Indicator: domain.IndicatorEMA, Window: 12, Comparator: domain.CompLT, RefIndicator: domain.IndicatorEMA, RefWindow: 26}}
	macdCrossAbove := domain.Rule{ID: "e3", Predicate: domain.Predicate{Indicator: domain.IndicatorMACD, Window: 12, Comparator: domain.CompCrossAbove, RefIndicator: domain.IndicatorMACD, RefWindow: 26}}
	stochasticCrossBelow := domain.Rule{ID: "x3", Predicate: domain.Predicate{Indicator: domain.IndicatorStochastic, Window: 14, Comparator: domain.CompCrossBelow, RefIndicator: domain.IndicatorStochastic, RefWindow: 3}}
	atrContraction := domain.Rule{ID: "e4", Predicate: domain.Predicate{Indicator: domain.IndicatorATR, Window: 14, Comparator: domain.CompLT, Threshold: 0.5}}
	rsiMidCross := domain.Rule{ID: "x4", Predicate: domain.Predicate{Indicator: domain.IndicatorRSI, Window: 9, Comparator: domain.CompGT, Threshold: 50}}

	return []domain.RuleSet{
		{Entry: []domain.Rule{rsiOversold}, Exit: []domain.Rule{rsiOverbought}},
		{Entry: []domain.Rule{smaFastAboveSlow}, Exit: []domain.Rule{emaFastBelowSlow}},
		{Entry: []domain.Rule{macdCrossAbove}, Exit: []domain.Rule{stochasticCrossBelow}},
		{Entry: []domain.Rule{atrContraction}, Exit: []domain.Rule{rsiMidCross}},
	}
}
