// Package repository implements the Strategy Repository (§4.7): the sole
// owner of durable strategy state. Every other component operates on
// in-memory values handed to or returned from it; no component mutates a
// Strategy row directly.
package repository

import (
	"context"
	"time"

	"github.com/sawpanic/seec/internal/domain"
)

// Store is the Strategy Repository contract.
type Store interface {
	// Insert creates a new strategy row (used for both freshly authored
	// strategies and Mutator-produced children).
	Insert(ctx context.Context, s domain.Strategy) error

	// Get returns one strategy by ID.
	Get(ctx context.Context, id string) (domain.Strategy, error)

	// NextBatch returns up to limit strategies in the §4.6 priority order,
	// excluding discarded strategies. staleAfter is A_stale; now anchors
	// the "older than" comparisons so the query is reproducible in tests.
	NextBatch(ctx context.Context, limit int, staleAfter time.Duration, now time.Time) ([]domain.Strategy, error)

	// Save atomically overwrites every evaluation field of an existing
	// strategy (§4.7 "Writes ... must be atomic per strategy").
	Save(ctx context.Context, s domain.Strategy) error

	// TopProposable returns proposable strategies ordered by score
	// descending (§6 "Recommendation read API").
	TopProposable(ctx context.Context, limit int) ([]domain.Strategy, error)
}
