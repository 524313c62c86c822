package mutator

import (
	"math/rand"
	"sort"

	"github.com/sawpanic/seec/internal/domain"
)

// ruleLocation addresses one rule inside a RuleSet so a mutation can target
// a uniformly-chosen rule across both the entry and exit lists.
type ruleLocation struct {
	entry bool
	index int
}

func allLocations(rs domain.RuleSet) []ruleLocation {
	locs := make([]ruleLocation, 0, len(rs.Entry)+len(rs.Exit))
	for i := range rs.Entry {
		locs = append(locs, ruleLocation{entry: true, index: i})
	}
	for i := range rs.Exit {
		locs = append(locs, ruleLocation{entry: false, index: i})
	}
	return locs
}

func (l ruleLocation) get(rs domain.RuleSet) domain.Rule {
	if l.entry {
		return rs.Entry[l.index]
	}
	return rs.Exit[l.index]
}

func (l ruleLocation) set(rs domain.RuleSet, r domain.Rule) {
	if l.entry {
		rs.Entry[l.index] = r
	} else {
		rs.Exit[l.index] = r
	}
}

// applyParameterJitter adjusts one numeric parameter within ±fraction of its
// current value. A rule set with no free parameters is left unchanged;
// Mutate then rejects it because its fingerprint equals the parent's.
func applyParameterJitter(rs domain.RuleSet, rng *rand.Rand, fraction float64) domain.RuleSet {
	if len(rs.Parameters) == 0 {
		return rs
	}
	keys := make([]string, 0, len(rs.Parameters))
	for k := range rs.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	key := keys[rng.Intn(len(keys))]
	delta := (rng.Float64()*2 - 1) * fraction
	rs.Parameters[key] = rs.Parameters[key] * (1 + delta)
	return rs
}

// applyRuleSwap replaces one rule's predicate with a same-arity predicate
// drawn from the fixed library.
func applyRuleSwap(rs domain.RuleSet, rng *rand.Rand, library []domain.Predicate) domain.RuleSet {
	locs := allLocations(rs)
	if len(locs) == 0 {
		return rs
	}
	loc := locs[rng.Intn(len(locs))]
	current := loc.get(rs)
	candidates := libraryByArity(library, current.Predicate.Arity())
	if len(candidates) == 0 {
		return rs
	}
	replacement := candidates[rng.Intn(len(candidates))]
	loc.set(rs, domain.Rule{ID: current.ID, Predicate: replacement})
	return rs
}

// applyThresholdShift moves one predicate's comparison threshold within
// ±fraction of its current magnitude (a minimum absolute shift keeps a
// zero threshold from being a no-op).
func applyThresholdShift(rs domain.RuleSet, rng *rand.Rand, fraction float64) domain.RuleSet {
	locs := allLocations(rs)
	if len(locs) == 0 {
		return rs
	}
	loc := locs[rng.Intn(len(locs))]
	rule := loc.get(rs)
	magnitude := rule.Predicate.Threshold
	if magnitude == 0 {
		magnitude = 1
	}
	delta := (rng.Float64()*2 - 1) * fraction * magnitude
	if delta == 0 {
		delta = fraction * magnitude
	}
	rule.Predicate.Threshold += delta
	loc.set(rs, rule)
	return rs
}

// applyWindowResize changes one predicate's lookback window by up to
// ±maxDelta bars, never below 1.
func applyWindowResize(rs domain.RuleSet, rng *rand.Rand, maxDelta int) domain.RuleSet {
	locs := allLocations(rs)
	if len(locs) == 0 {
		return rs
	}
	loc := locs[rng.Intn(len(locs))]
	rule := loc.get(rs)
	delta := rng.Intn(2*maxDelta+1) - maxDelta
	if delta == 0 {
		delta = 1
	}
	newWindow := rule.Predicate.Window + delta
	if newWindow < 1 {
		newWindow = 1
	}
	rule.Predicate.Window = newWindow
	loc.set(rs, rule)
	return rs
}

// applyIndicatorSubstitute swaps one predicate's indicator for another of
// the same output shape (§4.5), preserving arity and window.
func applyIndicatorSubstitute(rs domain.RuleSet, rng *rand.Rand) domain.RuleSet {
	locs := allLocations(rs)
	if len(locs) == 0 {
		return rs
	}
	loc := locs[rng.Intn(len(locs))]
	rule := loc.get(rs)
	family := domain.SameShapeFamily(rule.Predicate.Indicator)
	alternatives := make([]domain.Indicator, 0, len(family))
	for _, ind := range family {
		if ind != rule.Predicate.Indicator {
			alternatives = append(alternatives, ind)
		}
	}
	if len(alternatives) == 0 {
		return rs
	}
	rule.Predicate.Indicator = alternatives[rng.Intn(len(alternatives))]
	loc.set(rs, rule)
	return rs
}

