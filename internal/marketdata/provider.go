package marketdata

import (
	"context"
	"time"
)

// Provider is implemented once per upstream data source. The Gateway never
// calls a provider directly — every call passes through that provider's
// rate limiter and circuit breaker first (§4.1 policy).
type Provider interface {
	Name() string
	GetBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]Bar, error)
	GetQuote(ctx context.Context, symbol string) (Quote, error)
}

// RateLimit describes a provider's token bucket (§4.1 "Each provider has a
// token bucket (capacity, refill rate)").
type RateLimit struct {
	RPS   float64
	Burst int
}

// ProviderConfig binds a Provider implementation to its position in the
// fixed failover order and its rate limit.
type ProviderConfig struct {
	Provider  Provider
	RateLimit RateLimit
}
