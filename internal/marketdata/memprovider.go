package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/sawpanic/seec/internal/domain"
)

// MemProvider is a deterministic, in-memory Provider backed by a fixed bar
// series per symbol. It is the reference provider used in tests and in the
// seed test scenarios (§8) where a stub classifier is explicitly permitted.
type MemProvider struct {
	ProviderName string
	Bars         map[string][]Bar // symbol -> full series, already interval-aligned
	Quotes       map[string]Quote
	// FailWith, if set, makes every call return this error instead of data
	// — used to simulate rate_limited/upstream_unavailable for failover
	// tests (§8 Scenario D).
	FailWith *domain.Error
}

func NewMemProvider(name string) *MemProvider {
	return &MemProvider{
		ProviderName: name,
		Bars:         make(map[string][]Bar),
		Quotes:       make(map[string]Quote),
	}
}

func (p *MemProvider) Name() string { return p.ProviderName }

func (p *MemProvider) GetBars(_ context.Context, symbol, _ string, start, end time.Time) ([]Bar, error) {
	if p.FailWith != nil {
		return nil, p.FailWith
	}
	series, ok := p.Bars[symbol]
	if !ok {
		return nil, domain.NewError(domain.ErrSymbolUnknown, fmt.Sprintf("unknown symbol %s", symbol))
	}
	out := make([]Bar, 0, len(series))
	for _, bar := range series {
		if !bar.Timestamp.Before(start) && !bar.Timestamp.After(end) {
			out = append(out, bar)
		}
	}
	return out, nil
}

func (p *MemProvider) GetQuote(_ context.Context, symbol string) (Quote, error) {
	if p.FailWith != nil {
		return Quote{}, p.FailWith
	}
	q, ok := p.Quotes[symbol]
	if !ok {
		return Quote{}, domain.NewError(domain.ErrSymbolUnknown, fmt.Sprintf("unknown symbol %s", symbol))
	}
	return q, nil
}
