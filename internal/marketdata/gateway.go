package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/seec/infra/breakers"
	"github.com/sawpanic/seec/internal/domain"
	"github.com/sawpanic/seec/internal/net/ratelimit"
)

// MetricsCallback receives (event, provider) pairs for every gateway
// decision worth counting: "rate_limited", "success", "failover". There is
// no separate event for an open circuit breaker.
type MetricsCallback func(event, provider string)

// Gateway implements the Market Data Gateway (§4.1): a fixed, configured
// list of providers tried in order, each gated by its own token bucket and
// circuit breaker, traversed at most once per call.
type Gateway struct {
	bindings []*binding
	limiter  *ratelimit.Manager
	cache    Cache
	cacheTTL time.Duration
	metrics  MetricsCallback
}

type binding struct {
	name     string
	provider Provider
	breaker  *breakers.Breaker
}

// NewGateway builds a Gateway over the given providers in fixed failover
// order. Each provider gets its own rate limiter bucket and circuit
// breaker; nothing about provider order or identity changes at runtime
// (§9 "no dynamic loading").
func NewGateway(configs []ProviderConfig, cache Cache, cacheTTL time.Duration) *Gateway {
	limiter := ratelimit.NewManager()
	bindings := make([]*binding, 0, len(configs))
	for _, c := range configs {
		name := c.Provider.Name()
		limiter.AddProvider(name, c.RateLimit.RPS, c.RateLimit.Burst)
		bindings = append(bindings, &binding{
			name:     name,
			provider: c.Provider,
			breaker:  breakers.New(name),
		})
	}
	return &Gateway{
		bindings: bindings,
		limiter:  limiter,
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

// SetMetricsCallback installs a callback invoked on every failover
// decision; nil disables reporting.
func (g *Gateway) SetMetricsCallback(cb MetricsCallback) { g.metrics = cb }

func (g *Gateway) emit(event, provider string) {
	if g.metrics != nil {
		g.metrics(event, provider)
	}
}

// GetBars returns the ordered bar series for (symbol, interval, window),
// trying providers in fixed order, failing over only on rate_limited or
// upstream_unavailable, and never looping the list more than once (§4.1).
func (g *Gateway) GetBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]Bar, error) {
	key := BarCacheKey(symbol, interval, start, end)
	if g.cache != nil {
		if raw, ok := g.cache.Get(key); ok {
			var bars []Bar
			if err := json.Unmarshal(raw, &bars); err == nil {
				return bars, nil
			}
		}
	}

	var lastErr error
	for i, b := range g.bindings {
		if !g.limiter.Allow(b.name, b.name) {
			g.emit("rate_limited", b.name)
			lastErr = domain.NewError(domain.ErrRateLimited, fmt.Sprintf("provider %s token bucket empty", b.name))
			continue
		}

		result, err := b.breaker.Execute(func() (any, error) {
			return b.provider.GetBars(ctx, symbol, interval, start, end)
		})
		if err != nil {
			code := classifyProviderError(err)
			lastErr = err
			log.Debug().Str("provider", b.name).Str("code", string(code)).Msg("gateway provider call failed")

			switch code {
			case domain.ErrRateLimited, domain.ErrUpstreamUnavail:
				if i < len(g.bindings)-1 {
					g.emit("failover", b.name)
				}
				continue
			default:
				// symbol_unknown, window_too_large: not a fallback
				// condition, same answer from every provider.
				return nil, err
			}
		}

		bars := result.([]Bar)
		g.emit("success", b.name)
		if g.cache != nil {
			if raw, err := json.Marshal(bars); err == nil {
				g.cache.Set(key, raw, g.cacheTTL)
			}
		}
		return bars, nil
	}

	if lastErr == nil {
		lastErr = domain.NewError(domain.ErrUpstreamUnavail, "no providers configured")
	}
	return nil, domain.WrapError(domain.ErrUpstreamUnavail, "all providers exhausted", lastErr)
}

// GetQuote returns the latest quote, applying the same fixed-order
// failover policy as GetBars but without caching (quotes are already
// TTL-bounded at the call site).
func (g *Gateway) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	var lastErr error
	for i, b := range g.bindings {
		if !g.limiter.Allow(b.name, b.name) {
			g.emit("rate_limited", b.name)
			lastErr = domain.NewError(domain.ErrRateLimited, fmt.Sprintf("provider %s token bucket empty", b.name))
			continue
		}

		result, err := b.breaker.Execute(func() (any, error) {
			return b.provider.GetQuote(ctx, symbol)
		})
		if err != nil {
			code := classifyProviderError(err)
			lastErr = err
			switch code {
			case domain.ErrRateLimited, domain.ErrUpstreamUnavail:
				if i < len(g.bindings)-1 {
					g.emit("failover", b.name)
				}
				continue
			default:
				return Quote{}, err
			}
		}

		g.emit("success", b.name)
		return result.(Quote), nil
	}

	if lastErr == nil {
		lastErr = domain.NewError(domain.ErrUpstreamUnavail, "no providers configured")
	}
	return Quote{}, domain.WrapError(domain.ErrUpstreamUnavail, "all providers exhausted", lastErr)
}

// Health reports a per-provider operational snapshot for the admin plane.
func (g *Gateway) Health() []Health {
	out := make([]Health, 0, len(g.bindings))
	for _, b := range g.bindings {
		state := b.breaker.State()
		stats := g.limiter.Stats()[b.name][b.name]
		out = append(out, Health{
			Provider:        b.name,
			Healthy:         state != "open",
			CircuitState:    state,
			TokensAvailable: stats.TokensAvailable,
		})
	}
	return out
}

func classifyProviderError(err error) domain.ErrorCode {
	var de *domain.Error
	if e, ok := err.(*domain.Error); ok {
		de = e
	} else {
		return domain.ErrUpstreamUnavail
	}
	return de.Code
}
