package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/seec/internal/backtest"
	"github.com/sawpanic/seec/internal/domain"
	"github.com/sawpanic/seec/internal/evaluator"
	"github.com/sawpanic/seec/internal/marketdata"
	"github.com/sawpanic/seec/internal/mcn"
	"github.com/sawpanic/seec/internal/mutator"
	"github.com/sawpanic/seec/internal/repository"
)

type fakeGateway struct {
	bars  map[string][]marketdata.Bar
	err   error
	delay time.Duration

	// undelayed is how many GetBars calls return at once before delay
	// applies to every later call.
	undelayed int32
	calls     int32
}

func (f *fakeGateway) GetBars(ctx context.Context, symbol, _ string, _, _ time.Time) ([]marketdata.Bar, error) {
	call := atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 && call > f.undelayed {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.bars[symbol], nil
}

func sineBars(n int, start time.Time, step time.Duration) []marketdata.Bar {
	bars := make([]marketdata.Bar, n)
	price := 100.0
	for i := 0; i < n; i++ {
		delta := float64((i%10)-5) * 0.7
		price += delta
		bars[i] = marketdata.Bar{
			Timestamp: start.Add(time.Duration(i) * step),
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price,
			Volume:    1000,
		}
	}
	return bars
}

func wellFormedRuleSet() domain.RuleSet {
	return domain.RuleSet{
		Entry: []domain.Rule{
			{ID: "e1", Predicate: domain.Predicate{Indicator: domain.IndicatorRSI, Window: 5, Comparator: domain.CompLT, Threshold: 45}},
		},
		Exit: []domain.Rule{
			{ID: "x1", Predicate: domain.Predicate{Indicator: domain.IndicatorRSI, Window: 5, Comparator: domain.CompGT, Threshold: 55}},
		},
		Parameters: map[string]float64{"position_size": 1},
	}
}

func newHarness(t *testing.T, gw backtest.Gateway, cMax int) (*Scheduler, repository.Store) {
	t.Helper()
	btCfg := backtest.DefaultConfig()
	btCfg.MinBarsPerSegment = 10
	engine := backtest.NewEngine(gw, btCfg)

	store := mcn.NewMemory()
	eval := evaluator.New(evaluator.DefaultConfig(), store)
	mut := mutator.New(mutator.DefaultConfig(), store, mutator.DefaultLibrary())
	repo := repository.NewMemory()

	cfg := DefaultConfig()
	cfg.Universe = Universe{Symbols: []string{"BTC-USD"}, Interval: "1h", Lookback: 200 * time.Hour}
	cfg.TickTimeout = 10 * time.Second
	cfg.BacktestTimeout = 5 * time.Second

	tunables := StaticTunables{Value: Tunables{MaxConcurrentBacktests: cMax, EvolutionInterval: time.Second, MonitoringInterval: time.Second}}

	return New(repo, engine, eval, mut, tunables, cfg), repo
}

func TestTick_RunsBacktestAndPersistsUpdatedState(t *testing.T) {
	ctx := context.Background()
	barsStart := time.Now().Add(-250 * time.Hour)
	gw := &fakeGateway{bars: map[string][]marketdata.Bar{"BTC-USD": sineBars(250, barsStart, time.Hour)}}
	sched, repo := newHarness(t, gw, 5)

	strat := domain.Strategy{
		ID:        "s1",
		Name:      "s1",
		RuleSet:   wellFormedRuleSet(),
		CreatedAt: time.Now().Add(-time.Hour),
		Status:    domain.StatusExperiment,
	}
	strat.Fingerprint = domain.ComputeFingerprint(strat.RuleSet)
	require.NoError(t, repo.Insert(ctx, strat))

	require.NoError(t, sched.Tick(ctx))

	updated, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, updated.LastBacktestAt)
	assert.Equal(t, 1, updated.EvolutionAttempts)
	assert.Contains(t, []domain.Status{domain.StatusExperiment, domain.StatusCandidate, domain.StatusProposable, domain.StatusDiscarded}, updated.Status)
}

func TestTick_MalformedRuleSetDiscardsImmediately(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{}
	sched, repo := newHarness(t, gw, 5)

	strat := domain.Strategy{
		ID:        "malformed",
		Name:      "malformed",
		RuleSet:   domain.RuleSet{}, // no entry/exit rules
		CreatedAt: time.Now().Add(-time.Hour),
		Status:    domain.StatusExperiment,
	}
	require.NoError(t, repo.Insert(ctx, strat))

	require.NoError(t, sched.Tick(ctx))

	updated, err := repo.Get(ctx, "malformed")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDiscarded, updated.Status)
	assert.False(t, updated.IsProposable)
	assert.NotEmpty(t, updated.DiscardReason)
}

func TestTick_TransientErrorLeavesStatusUnchanged(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{err: domain.NewError(domain.ErrUpstreamUnavail, "provider down")}
	sched, repo := newHarness(t, gw, 5)

	strat := domain.Strategy{
		ID:        "transient",
		Name:      "transient",
		RuleSet:   wellFormedRuleSet(),
		CreatedAt: time.Now().Add(-time.Hour),
		Status:    domain.StatusExperiment,
	}
	require.NoError(t, repo.Insert(ctx, strat))

	require.NoError(t, sched.Tick(ctx))

	updated, err := repo.Get(ctx, "transient")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExperiment, updated.Status)
	assert.Equal(t, 1, updated.EvolutionAttempts)
	require.NotNil(t, updated.LastBacktestAt)
}

func TestTick_DataQualityErrorDiscardsAtAttemptCeiling(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{err: domain.NewError(domain.ErrInsufficientBars, "train=2 test=1")}
	sched, repo := newHarness(t, gw, 5)
	sched.cfg.MaxEvolutionAttempts = 1

	strat := domain.Strategy{
		ID:                "dq",
		Name:              "dq",
		RuleSet:           wellFormedRuleSet(),
		CreatedAt:         time.Now().Add(-time.Hour),
		Status:            domain.StatusExperiment,
		EvolutionAttempts: 0,
	}
	require.NoError(t, repo.Insert(ctx, strat))

	require.NoError(t, sched.Tick(ctx))

	updated, err := repo.Get(ctx, "dq")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDiscarded, updated.Status)
	assert.Equal(t, 1, updated.EvolutionAttempts)
}

func TestTick_RespectsMaxConcurrentBacktestsBound(t *testing.T) {
	ctx := context.Background()
	barsStart := time.Now().Add(-250 * time.Hour)
	gw := &fakeGateway{bars: map[string][]marketdata.Bar{"BTC-USD": sineBars(250, barsStart, time.Hour)}}
	sched, repo := newHarness(t, gw, 2)

	for i := 0; i < 5; i++ {
		s := domain.Strategy{
			ID:        string(rune('a' + i)),
			Name:      string(rune('a' + i)),
			RuleSet:   wellFormedRuleSet(),
			CreatedAt: time.Now().Add(-time.Duration(5-i) * time.Hour),
			Status:    domain.StatusExperiment,
		}
		require.NoError(t, repo.Insert(ctx, s))
	}

	require.NoError(t, sched.Tick(ctx))

	batch, err := repo.NextBatch(ctx, 10, sched.cfg.StaleAfter, time.Now())
	require.NoError(t, err)
	backtested := 0
	for _, s := range batch {
		if s.LastBacktestAt != nil {
			backtested++
		}
	}
	assert.Equal(t, 2, backtested) // only cMax=2 strategies dispatched this tick
}

func TestTick_CancelledTickPersistsOnlyCompletedWork(t *testing.T) {
	ctx := context.Background()
	barsStart := time.Now().Add(-250 * time.Hour)
	// c1 and c2 are dispatched together (cMax=2): the first bar fetch returns
	// at once and completes, the second outlives the 50ms tick and is
	// abandoned; c3 is never dispatched.
	gw := &fakeGateway{
		bars:      map[string][]marketdata.Bar{"BTC-USD": sineBars(250, barsStart, time.Hour)},
		delay:     80 * time.Millisecond,
		undelayed: 1,
	}
	sched, repo := newHarness(t, gw, 2)
	sched.cfg.TickTimeout = 50 * time.Millisecond

	ids := []string{"c1", "c2", "c3"}
	for i, id := range ids {
		s := domain.Strategy{
			ID:        id,
			Name:      id,
			RuleSet:   wellFormedRuleSet(),
			CreatedAt: time.Now().Add(-time.Duration(len(ids)-i) * time.Hour),
			Status:    domain.StatusExperiment,
		}
		require.NoError(t, repo.Insert(ctx, s))
	}

	err := sched.Tick(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var processed, untouched int
	for _, id := range ids {
		s, gerr := repo.Get(ctx, id)
		require.NoError(t, gerr)
		if s.LastBacktestAt != nil {
			processed++
		} else {
			untouched++
			assert.Equal(t, 0, s.EvolutionAttempts) // no partial state for undispatched strategies
		}
	}
	assert.GreaterOrEqual(t, processed, 1)
	assert.GreaterOrEqual(t, untouched, 1)
}
