// Package marketdata implements the Market Data Gateway (§4.1): uniform
// access to OHLCV bar history and latest quotes across a fixed, configured
// list of providers, with per-provider token-bucket rate limiting, circuit
// breaking, and a hash-stable result cache.
package marketdata

import (
	"time"

	"github.com/sawpanic/seec/internal/domain"
)

// Bar is one OHLCV sample aligned to an interval boundary. Gaps in the
// series are explicit holes — the Gateway never interpolates (§4.1).
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Quote is the latest-price view returned by get_quote (§4.1).
type Quote struct {
	Symbol           string
	Price            float64
	Change24h        float64
	Change7d         float64
	AnnualizedVol    float64
	Volume           float64
	Sentiment        string
	Regime           domain.RegimeTag
	RegimeConfidence float64
	AsOf             time.Time
}

// Health is a per-provider operational snapshot, surfaced through the
// Admin Control Plane's read-only health endpoint.
type Health struct {
	Provider        string
	Healthy         bool
	CircuitState    string
	TokensAvailable float64
}
