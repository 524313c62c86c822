// Package scheduler implements the Evolution Scheduler (§4.6): the
// periodic orchestrator that draws a priority batch from the Strategy
// Repository, dispatches it to the Backtest Engine under a bounded
// concurrency budget, feeds results to the Evaluator, optionally invokes
// the Mutator, and persists the resulting state back to the repository.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/seec/internal/backtest"
	"github.com/sawpanic/seec/internal/domain"
	"github.com/sawpanic/seec/internal/evaluator"
	"github.com/sawpanic/seec/internal/mutator"
	"github.com/sawpanic/seec/internal/repository"
)

// Universe names the symbols, bar interval, and lookback window every
// drawn strategy is backtested over (§4.3 step 1 inputs).
type Universe struct {
	Symbols  []string
	Interval string
	Lookback time.Duration
}

// Config bounds one scheduler instance. The three tunables published by
// the Admin Control Plane (§4.8) are not part of Config: they live in
// Tunables and are read fresh at the start of every tick, never mid-tick.
type Config struct {
	Universe             Universe
	StaleAfter           time.Duration // A_stale (§4.6 tier 2)
	TickTimeout          time.Duration // T_tick_max (§5)
	BacktestTimeout      time.Duration // T_bt_max (§5)
	MaxEvolutionAttempts int           // A_max (§4.4 rule 3, §4.5 gate)
	MutationSeedBase     int64
}

func DefaultConfig() Config {
	return Config{
		Universe: Universe{
			Symbols:  []string{"BTC-USD", "ETH-USD"},
			Interval: "1h",
			Lookback: 180 * 24 * time.Hour,
		},
		StaleAfter:           7 * 24 * time.Hour,
		TickTimeout:          5 * time.Minute,
		BacktestTimeout:      60 * time.Second,
		MaxEvolutionAttempts: 20,
	}
}

// Tunables is the subset of Config the Admin Control Plane may change
// between ticks (§4.8).
type Tunables struct {
	MaxConcurrentBacktests int
	EvolutionInterval      time.Duration
	MonitoringInterval     time.Duration
}

// TunablesSource is read once at the start of every tick and once at the
// start of every sleep interval, so a write from the Admin Control Plane
// never reconfigures an in-flight tick (§4.8 "never reconfigured
// mid-flight").
type TunablesSource interface {
	Tunables() Tunables
}

// StaticTunables implements TunablesSource with a fixed value, for callers
// that do not wire a live admin API.
type StaticTunables struct{ Value Tunables }

func (s StaticTunables) Tunables() Tunables { return s.Value }

// MetricsSink receives scheduler-observed measurements; the Admin Control
// Plane's Prometheus registry implements this without the scheduler
// package importing anything HTTP-related.
type MetricsSink interface {
	ObserveTickDuration(d time.Duration)
	IncBacktestOutcome(outcome string)
	IncMutationChildren(n int)
	SetStrategyCount(status string, count int)
}

// noopMetrics is the default MetricsSink when none is wired.
type noopMetrics struct{}

func (noopMetrics) ObserveTickDuration(time.Duration) {}
func (noopMetrics) IncBacktestOutcome(string)          {}
func (noopMetrics) IncMutationChildren(int)            {}
func (noopMetrics) SetStrategyCount(string, int)       {}

// Scheduler is the Evolution Scheduler (§4.6).
type Scheduler struct {
	repo      repository.Store
	engine    *backtest.Engine
	evaluator *evaluator.Evaluator
	mutator   *mutator.Mutator
	tunables  TunablesSource
	cfg       Config
	metrics   MetricsSink

	mu        sync.Mutex
	lastTick  time.Time
	tickCount int64
}

func New(repo repository.Store, engine *backtest.Engine, eval *evaluator.Evaluator, mut *mutator.Mutator, tunables TunablesSource, cfg Config) *Scheduler {
	return &Scheduler{repo: repo, engine: engine, evaluator: eval, mutator: mut, tunables: tunables, cfg: cfg, metrics: noopMetrics{}}
}

// SetMetrics wires a MetricsSink; callers that don't need metrics can skip
// this and keep the zero-cost noop implementation.
func (s *Scheduler) SetMetrics(m MetricsSink) {
	if m != nil {
		s.metrics = m
	}
}

// Run alternates sleeping for the configured evolution interval and
// executing one tick, until ctx is cancelled (§5 "long-lived task that
// alternates between sleeping ... and executing one tick").
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().Msg("evolution scheduler starting")
	for {
		interval := s.tunables.Tunables().EvolutionInterval
		if interval <= 0 {
			interval = 60 * time.Second
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("evolution scheduler stopped")
			return ctx.Err()
		case <-timer.C:
			if err := s.Tick(ctx); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

// Tick executes one full pass of the §4.6 per-tick procedure. It returns
// the cancellation error if ctx was cancelled mid-tick; completed results
// up to that point have already been persisted (§5 "no partial
// BacktestResult is persisted", §8 Scenario E).
func (s *Scheduler) Tick(ctx context.Context) error {
	tunables := s.tunables.Tunables()
	cMax := tunables.MaxConcurrentBacktests
	if cMax < 1 {
		cMax = 1
	}
	if cMax > 20 {
		cMax = 20
	}

	tickCtx, cancel := context.WithTimeout(ctx, s.cfg.TickTimeout)
	defer cancel()

	now := time.Now()
	batch, err := s.repo.NextBatch(tickCtx, cMax, s.cfg.StaleAfter, now)
	if err != nil {
		log.Error().Err(err).Msg("failed to draw priority batch")
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	sem := make(chan struct{}, cMax)
	var wg sync.WaitGroup
	for i, strat := range batch {
		select {
		case <-tickCtx.Done():
			wg.Wait()
			return tickCtx.Err()
		default:
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(strat domain.Strategy, seed int64) {
			defer wg.Done()
			defer func() { <-sem }()
			s.processOne(tickCtx, strat, seed)
		}(strat, s.cfg.MutationSeedBase+int64(i)+now.UnixNano())
	}
	wg.Wait()

	s.mu.Lock()
	s.lastTick = now
	s.tickCount++
	s.mu.Unlock()

	s.metrics.ObserveTickDuration(time.Since(now))

	return tickCtx.Err()
}

// processOne runs one strategy's backtest/evaluate/mutate/persist
// sequence. A strategy never has two concurrent backtests (§5), which
// this preserves by construction: the caller dispatches at most one
// goroutine per batch entry.
func (s *Scheduler) processOne(ctx context.Context, strat domain.Strategy, seed int64) {
	logger := log.With().Str("strategy_id", strat.ID).Str("fingerprint", string(strat.Fingerprint)).Logger()

	btCtx, cancel := context.WithTimeout(ctx, s.cfg.BacktestTimeout)
	defer cancel()

	end := time.Now()
	start := end.Add(-s.cfg.Universe.Lookback)

	result, err := s.engine.Run(btCtx, strat.RuleSet, s.cfg.Universe.Symbols, s.cfg.Universe.Interval, start, end, seed)
	if err != nil {
		s.metrics.IncBacktestOutcome("error")
		s.handleBacktestError(ctx, strat, err, logger)
		return
	}
	s.metrics.IncBacktestOutcome("success")

	evalNow := time.Now()
	updated, err := s.evaluator.Evaluate(ctx, strat, result, evalNow)
	if err != nil {
		logger.Error().Err(err).Msg("evaluator failed; previous committed state retained")
		return
	}

	transitionedToCandidate := strat.Status != domain.StatusCandidate && updated.Status == domain.StatusCandidate

	if err := s.repo.Save(ctx, updated); err != nil {
		logger.Error().Err(err).Msg("repository write failed; tick aborts for this strategy")
		return
	}
	logger.Info().Str("status", string(updated.Status)).Msg("strategy evaluated")

	if transitionedToCandidate && updated.EvolutionAttempts < s.cfg.MaxEvolutionAttempts && s.mutator != nil {
		s.mutate(ctx, updated, seed, logger)
	}
}

// handleBacktestError applies §7's transient/data-quality/logic taxonomy
// to errors the Backtest Engine raises before the Evaluator ever sees a
// BacktestResult. Transient and data-quality errors leave state unchanged
// except for an attempts increment (persisted so the next tick's priority
// query still sees forward progress); data-quality errors that reach
// A_max, and logic errors, discard the strategy immediately.
func (s *Scheduler) handleBacktestError(ctx context.Context, strat domain.Strategy, err error, logger zerolog.Logger) {
	var domErr *domain.Error
	if !errors.As(err, &domErr) {
		logger.Error().Err(err).Msg("unclassified backtest error; previous committed state retained")
		return
	}

	updated := strat.Clone()
	updated.EvolutionAttempts++
	now := time.Now()
	updated.LastBacktestAt = &now

	switch {
	case domErr.Logic():
		updated.Status = domain.StatusDiscarded
		updated.DiscardReason = domErr.Error()
		updated.IsProposable = false
	case domErr.DataQuality():
		if updated.EvolutionAttempts >= s.cfg.MaxEvolutionAttempts {
			updated.Status = domain.StatusDiscarded
			updated.DiscardReason = domErr.Error()
			updated.IsProposable = false
		}
	case domErr.Transient():
		// No state change beyond the attempts/timestamp bump; retried
		// next tick per §7.
	default:
		logger.Error().Err(err).Msg("unrecognized domain error code; previous committed state retained")
		return
	}

	if err := s.repo.Save(ctx, updated); err != nil {
		logger.Error().Err(err).Msg("repository write failed while recording backtest error; tick aborts for this strategy")
		return
	}
	logger.Warn().Str("code", string(domErr.Code)).Int("attempts", updated.EvolutionAttempts).Msg("backtest did not produce a result")
}

// mutate invokes the Mutator for a strategy that just transitioned to
// candidate (§4.6 step 4), inserts every accepted child into the
// repository as a fresh experiment, and increments the parent's
// evolution_attempts once more to record the mutation step itself.
func (s *Scheduler) mutate(ctx context.Context, parent domain.Strategy, seed int64, logger zerolog.Logger) {
	children, err := s.mutator.Mutate(ctx, parent, seed)
	if err != nil {
		logger.Error().Err(err).Msg("mutator failed; parent state already persisted")
		return
	}
	for _, child := range children {
		if err := s.repo.Insert(ctx, child); err != nil {
			logger.Error().Err(err).Str("child_fingerprint", string(child.Fingerprint)).Msg("failed to insert mutated child")
			continue
		}
	}
	logger.Info().Int("children", len(children)).Msg("mutation step complete")
	s.metrics.IncMutationChildren(len(children))

	parent.EvolutionAttempts++
	if err := s.repo.Save(ctx, parent); err != nil {
		logger.Error().Err(err).Msg("failed to persist mutation attempt increment")
	}
}
