package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sawpanic/seec/internal/infrastructure/httpclient"
)

// HTTPProvider is a generic REST-backed Provider: it issues HTTP requests
// through its own httpclient.ClientPool (bounded by the pool's
// MaxConcurrency, retried up to its MaxRetries) and decodes the response
// in the provider's own wire shape via the configured DecodeBars and
// DecodeQuote functions.
// Concrete providers are configured instances of this type rather than
// one hand-written client per exchange.
type HTTPProvider struct {
	name        string
	baseURL     string
	apiKey      string
	pool        *httpclient.ClientPool
	decodeBars  func([]byte) ([]Bar, error)
	decodeQuote func([]byte) (Quote, error)
}

// HTTPProviderConfig configures one REST market-data provider.
type HTTPProviderConfig struct {
	Name        string
	BaseURL     string
	APIKey      string
	Pool        httpclient.ClientConfig
	DecodeBars  func([]byte) ([]Bar, error)
	DecodeQuote func([]byte) (Quote, error)
}

func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	return &HTTPProvider{
		name:        cfg.Name,
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		pool:        httpclient.NewClientPool(cfg.Pool),
		decodeBars:  cfg.DecodeBars,
		decodeQuote: cfg.DecodeQuote,
	}
}

func (h *HTTPProvider) Name() string { return h.name }

func (h *HTTPProvider) GetBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]Bar, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("start", strconv.FormatInt(start.Unix(), 10))
	q.Set("end", strconv.FormatInt(end.Unix(), 10))

	body, err := h.get(ctx, "/bars", q)
	if err != nil {
		return nil, err
	}
	return h.decodeBars(body)
}

func (h *HTTPProvider) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	body, err := h.get(ctx, "/quote", q)
	if err != nil {
		return Quote{}, err
	}
	return h.decodeQuote(body)
}

func (h *HTTPProvider) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", h.name, err)
	}
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.pool.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", h.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s returned status %d", h.name, resp.StatusCode)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%s decode response: %w", h.name, err)
	}
	return raw, nil
}
