package domain

import "strconv"

// Indicator is the closed set of feature families a predicate may reference
// (§4.5 "indicator_substitute: swap one indicator family for another of the
// same output shape"). Families grouped by output shape:
//   scalar-band:   SMA, EMA, RSI, ATR
//   oscillator:    MACD, Stochastic
type Indicator string

const (
	IndicatorSMA        Indicator = "sma"
	IndicatorEMA        Indicator = "ema"
	IndicatorRSI        Indicator = "rsi"
	IndicatorATR        Indicator = "atr"
	IndicatorMACD       Indicator = "macd"
	IndicatorStochastic Indicator = "stochastic"
)

// scalarBandFamily and oscillatorFamily group indicators of identical output
// shape so indicator_substitute never changes a predicate's arity.
var scalarBandFamily = []Indicator{IndicatorSMA, IndicatorEMA, IndicatorRSI, IndicatorATR}
var oscillatorFamily = []Indicator{IndicatorMACD, IndicatorStochastic}

// SameShapeFamily returns the closed set of indicators that may replace ind
// without changing predicate arity.
func SameShapeFamily(ind Indicator) []Indicator {
	for _, f := range scalarBandFamily {
		if f == ind {
			return scalarBandFamily
		}
	}
	for _, f := range oscillatorFamily {
		if f == ind {
			return oscillatorFamily
		}
	}
	return nil
}

// Comparator is the closed set of comparison operators a predicate may use.
type Comparator string

const (
	CompGT         Comparator = "gt"
	CompLT         Comparator = "lt"
	CompGTE        Comparator = "gte"
	CompLTE        Comparator = "lte"
	CompCrossAbove Comparator = "cross_above"
	CompCrossBelow Comparator = "cross_below"
)

// Predicate is one leaf of the rule tree: an indicator, sampled over Window
// bars, compared against either a fixed Threshold or a second indicator
// (RefIndicator/RefWindow), via Comparator.
//
// Arity 1: indicator vs constant threshold (RefIndicator == "").
// Arity 2: indicator vs a second indicator (cross rules).
type Predicate struct {
	ID           string
	Indicator    Indicator
	Window       int
	Comparator   Comparator
	Threshold    float64 // used when arity == 1
	RefIndicator Indicator // used when arity == 2
	RefWindow    int
}

// Arity returns 1 for threshold predicates and 2 for cross-indicator
// predicates; rule_swap and indicator_substitute must preserve it.
func (p Predicate) Arity() int {
	if p.RefIndicator == "" {
		return 1
	}
	return 2
}

// Rule pairs a stable ID with its predicate so mutation and lineage can
// reference "the same rule" across generations even after edits.
type Rule struct {
	ID        string
	Predicate Predicate
}

// RuleSet is the tagged-variant tree described as the strategy's rule set
// in §3: entry predicates, exit predicates, and free numeric parameters
// (e.g. position sizing, stop-loss percent) that parameter_jitter may tune
// without touching predicate structure.
type RuleSet struct {
	Entry      []Rule
	Exit       []Rule
	Parameters map[string]float64
}

// WellFormed enforces the minimal structural invariant the Mutator must
// never violate (§4.5 "no entry rule remains").
func (r RuleSet) WellFormed() bool {
	if len(r.Entry) == 0 || len(r.Exit) == 0 {
		return false
	}
	for _, rule := range r.Entry {
		if rule.Predicate.Window <= 0 {
			return false
		}
	}
	for _, rule := range r.Exit {
		if rule.Predicate.Window <= 0 {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so mutation never aliases the parent's slices
// or maps.
func (r RuleSet) Clone() RuleSet {
	out := RuleSet{
		Entry:      make([]Rule, len(r.Entry)),
		Exit:       make([]Rule, len(r.Exit)),
		Parameters: make(map[string]float64, len(r.Parameters)),
	}
	copy(out.Entry, r.Entry)
	copy(out.Exit, r.Exit)
	for k, v := range r.Parameters {
		out.Parameters[k] = v
	}
	return out
}

// FeatureSet returns the set of (indicator, window) pairs this rule set
// references, used by MCN novelty scoring as the rule-feature set whose
// Jaccard similarity is compared across fingerprints (§4.2).
func (r RuleSet) FeatureSet() map[string]struct{} {
	out := make(map[string]struct{})
	add := func(p Predicate) {
		out[featureKey(p.Indicator, p.Window)] = struct{}{}
		if p.RefIndicator != "" {
			out[featureKey(p.RefIndicator, p.RefWindow)] = struct{}{}
		}
	}
	for _, rule := range r.Entry {
		add(rule.Predicate)
	}
	for _, rule := range r.Exit {
		add(rule.Predicate)
	}
	return out
}

func featureKey(ind Indicator, window int) string {
	return string(ind) + ":" + strconv.Itoa(window)
}
