package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/seec/internal/config"
	"github.com/sawpanic/seec/internal/domain"
	"github.com/sawpanic/seec/internal/marketdata"
	"github.com/sawpanic/seec/internal/repository"
)

type fakeHealthSource struct{ health []marketdata.Health }

func (f fakeHealthSource) Health() []marketdata.Health { return f.health }

func TestHandlers_ProvidersHealth_EmptyWithoutGateway(t *testing.T) {
	h := NewHandlers(repository.NewMemory(), NewTunablesStore(config.DefaultTunables()), nil)
	req := httptest.NewRequest(http.MethodGet, "/providers/health", nil)
	rec := httptest.NewRecorder()
	h.ProvidersHealth(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out []marketdata.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Empty(t, out)
}

func TestHandlers_ProvidersHealth_ReportsGatewaySnapshot(t *testing.T) {
	h := NewHandlers(repository.NewMemory(), NewTunablesStore(config.DefaultTunables()), nil)
	h.SetGateway(fakeHealthSource{health: []marketdata.Health{
		{Provider: "primary", Healthy: true, CircuitState: "closed", TokensAvailable: 9.5},
	}})

	req := httptest.NewRequest(http.MethodGet, "/providers/health", nil)
	rec := httptest.NewRecorder()
	h.ProvidersHealth(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out []marketdata.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "primary", out[0].Provider)
}

func TestTunablesStore_RejectsOutOfRangeWrite(t *testing.T) {
	store := NewTunablesStore(config.DefaultTunables())
	bad := config.DefaultTunables()
	bad.MaxConcurrentBacktests = 0
	require.Error(t, store.Set(bad))
	assert.Equal(t, config.DefaultTunables(), store.Get()) // rejected write leaves prior value
}

func TestHandlers_Recommendations_OrdersByScoreAndComputesProfitRange(t *testing.T) {
	repo := repository.NewMemory()
	ctx := context.Background()
	hi, lo := 0.9, 0.5
	require.NoError(t, repo.Insert(ctx, domain.Strategy{
		ID: "s2", Name: "s2", Status: domain.StatusProposable, Score: &lo,
	}))
	require.NoError(t, repo.Insert(ctx, domain.Strategy{
		ID: "s1", Name: "s1", Status: domain.StatusProposable, Score: &hi,
		PerSymbolPerformance: map[string]domain.MetricRecord{
			"BTC-USD": {TotalTrades: 10, AnnualizedReturn: 0.3},
			"ETH-USD": {TotalTrades: 8, AnnualizedReturn: 0.1},
		},
	}))

	h := NewHandlers(repo, NewTunablesStore(config.DefaultTunables()), nil)
	req := httptest.NewRequest(http.MethodGet, "/recommendations", nil)
	rec := httptest.NewRecorder()
	h.Recommendations(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out []recommendation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "s1", out[0].ID)
	assert.Equal(t, "s2", out[1].ID)
	assert.Equal(t, 0.1, out[0].EstProfitMin)
	assert.Equal(t, 0.3, out[0].EstProfitMax)
}
