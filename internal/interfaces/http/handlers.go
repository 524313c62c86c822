package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/sawpanic/seec/internal/config"
	"github.com/sawpanic/seec/internal/domain"
	"github.com/sawpanic/seec/internal/marketdata"
	"github.com/sawpanic/seec/internal/repository"
)

var errInvalidLimit = errors.New("limit must be a positive integer")

// ProviderHealthSource reports the Market Data Gateway's per-provider
// operational snapshot; *marketdata.Gateway implements this.
type ProviderHealthSource interface {
	Health() []marketdata.Health
}

// Handlers implements the Admin Control Plane's request handlers.
type Handlers struct {
	repo     repository.Store
	tunables *TunablesStore
	metrics  *MetricsRegistry
	gateway  ProviderHealthSource
}

func NewHandlers(repo repository.Store, tunables *TunablesStore, metrics *MetricsRegistry) *Handlers {
	return &Handlers{repo: repo, tunables: tunables, metrics: metrics}
}

// SetGateway wires the Market Data Gateway whose health ProvidersHealth
// reports; callers that skip this get an empty list rather than an error.
func (h *Handlers) SetGateway(g ProviderHealthSource) {
	h.gateway = g
}

// ProvidersHealth reports each configured provider's circuit-breaker state
// and remaining rate-limit tokens (§4.1), for operators diagnosing a
// failover without reading logs.
func (h *Handlers) ProvidersHealth(w http.ResponseWriter, r *http.Request) {
	if h.gateway == nil {
		writeJSON(w, http.StatusOK, []marketdata.Health{})
		return
	}
	writeJSON(w, http.StatusOK, h.gateway.Health())
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type healthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Time: time.Now()})
}

func (h *Handlers) GetTunables(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tunables.Get())
}

// PutTunables replaces every tunable atomically (§4.8 "changes take
// effect at the next scheduler tick"); a rejected write leaves the
// previous tunables in effect.
func (h *Handlers) PutTunables(w http.ResponseWriter, r *http.Request) {
	var next config.Tunables
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if err := h.tunables.Set(next); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.tunables.Get())
}

// recommendation is the §6.2 recommendation read API's shape: score-ranked
// proposable strategies with their metrics, explanation, risk note, and an
// estimated profit range. The range is derived from per-symbol test
// annualized returns (the closest persisted proxy to "historical test
// returns' min/max" without re-running the backtest).
type recommendation struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Fingerprint  string              `json:"fingerprint"`
	Score        float64             `json:"score"`
	TestMetrics  domain.MetricRecord `json:"test_metrics"`
	Explanation  string              `json:"explanation_human"`
	RiskNote     string              `json:"risk_note"`
	EstProfitMin float64             `json:"estimated_profit_min"`
	EstProfitMax float64             `json:"estimated_profit_max"`
}

func (h *Handlers) Recommendations(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := parsePositiveInt(l); err == nil {
			limit = parsed
		}
	}

	strategies, err := h.repo.TopProposable(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read recommendations: "+err.Error())
		return
	}

	out := make([]recommendation, 0, len(strategies))
	statusCounts := map[domain.Status]int{}
	for _, s := range strategies {
		statusCounts[s.Status]++
		rec := recommendation{ID: s.ID, Name: s.Name, Fingerprint: string(s.Fingerprint), Explanation: s.ExplanationHuman, RiskNote: s.RiskNote}
		if s.Score != nil {
			rec.Score = *s.Score
		}
		if s.TestMetrics != nil {
			rec.TestMetrics = *s.TestMetrics
		}
		rec.EstProfitMin, rec.EstProfitMax = profitRange(s.PerSymbolPerformance)
		out = append(out, rec)
	}

	if h.metrics != nil {
		for _, status := range []domain.Status{domain.StatusExperiment, domain.StatusCandidate, domain.StatusProposable, domain.StatusDiscarded} {
			h.metrics.SetStrategyCount(string(status), statusCounts[status])
		}
	}

	writeJSON(w, http.StatusOK, out)
}

func profitRange(perSymbol map[string]domain.MetricRecord) (min, max float64) {
	first := true
	for _, m := range perSymbol {
		if !m.HasData() {
			continue
		}
		if first {
			min, max = m.AnnualizedReturn, m.AnnualizedReturn
			first = false
			continue
		}
		if m.AnnualizedReturn < min {
			min = m.AnnualizedReturn
		}
		if m.AnnualizedReturn > max {
			max = m.AnnualizedReturn
		}
	}
	return min, max
}

func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "no such admin endpoint: "+r.URL.Path)
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errInvalidLimit
	}
	return n, nil
}
