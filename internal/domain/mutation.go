package domain

// MutationKind is the closed set of rule-space edits the Mutator may apply;
// exactly one kind is applied per child (§4.5).
type MutationKind string

const (
	MutationParameterJitter     MutationKind = "parameter_jitter"
	MutationRuleSwap            MutationKind = "rule_swap"
	MutationThresholdShift      MutationKind = "threshold_shift"
	MutationWindowResize        MutationKind = "window_resize"
	MutationIndicatorSubstitute MutationKind = "indicator_substitute"
)

// AllMutationKinds enumerates the closed set in a fixed order, used by the
// Mutator to cycle deterministically through kinds when producing M children.
var AllMutationKinds = [5]MutationKind{
	MutationParameterJitter,
	MutationRuleSwap,
	MutationThresholdShift,
	MutationWindowResize,
	MutationIndicatorSubstitute,
}
