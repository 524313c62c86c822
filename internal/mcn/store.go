// Package mcn implements the lineage-and-regime memory (§4.2): a
// content-addressed store of strategy fingerprints, parent/child mutation
// edges, and per-(fingerprint, regime) performance snapshots. It supplies
// the novelty and robustness inputs the Evaluator's scoring formula needs.
package mcn

import (
	"context"

	"github.com/sawpanic/seec/internal/domain"
)

// Store is the MCN contract. Every method may suspend on I/O (Postgres
// implementation) or return immediately (in-memory implementation) — callers
// must treat both as blocking operations that may be cancelled via ctx.
type Store interface {
	// Register creates a fingerprint's registration record if absent;
	// calling it again for the same fingerprint is a no-op (§4.2
	// "each fingerprint has at most one registration record").
	Register(ctx context.Context, fp domain.Fingerprint, ruleSet domain.RuleSet) error

	// Registered reports whether fp already has a registration record,
	// letting the Mutator detect a fingerprint collision before deciding
	// whether to register and link a candidate child.
	Registered(ctx context.Context, fp domain.Fingerprint) (bool, error)

	// LinkChild records a parent->child mutation edge. Returns an
	// ErrCycleDetected domain.Error if the edge would close a cycle or link a
	// fingerprint to itself. The in-memory store also returns
	// ErrCycleDetected when either fingerprint is unregistered; the Postgres
	// store does not check registration before inserting the edge.
	LinkChild(ctx context.Context, parentFP, childFP domain.Fingerprint, kind domain.MutationKind) error

	// RecordRegime overwrites the prior snapshot for (fingerprint, regime);
	// the snapshot's DataWindowHash is stored with it but is not part of the
	// key. Concurrent calls for the same key serialize with last-writer-wins
	// semantics (§5).
	RecordRegime(ctx context.Context, snapshot domain.RegimeSnapshot) error

	// Novelty returns 1 minus the maximum Jaccard similarity between fp's
	// rule-feature set and any other registered fingerprint's, over the
	// store's configured neighborhood. A fingerprint with no other registered
	// fingerprint has novelty 1; an unregistered fingerprint is an error.
	Novelty(ctx context.Context, fp domain.Fingerprint) (float64, error)

	// Robustness returns the [0,100] regime-pass score described in §4.2,
	// computed purely from stored snapshots.
	Robustness(ctx context.Context, fp domain.Fingerprint) (float64, error)

	// Lineage returns the ordered ancestry path of mutation kinds from the
	// root ancestor down to fp, oldest first.
	Lineage(ctx context.Context, fp domain.Fingerprint) ([]domain.MutationKind, error)
}
