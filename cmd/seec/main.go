package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/seec/internal/backtest"
	"github.com/sawpanic/seec/internal/config"
	"github.com/sawpanic/seec/internal/domain"
	"github.com/sawpanic/seec/internal/evaluator"
	"github.com/sawpanic/seec/internal/infrastructure/db"
	"github.com/sawpanic/seec/internal/infrastructure/httpclient"
	seechttp "github.com/sawpanic/seec/internal/interfaces/http"
	"github.com/sawpanic/seec/internal/marketdata"
	"github.com/sawpanic/seec/internal/mcn"
	"github.com/sawpanic/seec/internal/mutator"
	"github.com/sawpanic/seec/internal/repository"
	"github.com/sawpanic/seec/internal/scheduler"
	"github.com/sawpanic/seec/internal/seedlib"
)

const (
	appName = "seec"
	version = "v0.1.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Strategy Evolution and Evaluation Core",
		Version: version,
		Long: `seec runs the Strategy Evolution and Evaluation Core: a scheduler
that backtests candidate trading strategies, evaluates and promotes them
through the experiment -> candidate -> proposable lifecycle, and mutates
strategies that have just become candidates into new experiment-stage
children.

Run 'seec serve' to start the scheduler and Admin Control Plane together.
Use 'seec tick' for a single non-blocking evolution pass, useful for cron.`,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Evolution Scheduler and Admin Control Plane until interrupted",
		RunE:  runServe,
	}
	serveCmd.Flags().String("providers", "", "Path to a providers.yaml config (omit to use in-memory synthetic providers)")
	serveCmd.Flags().Bool("seed", true, "Insert the built-in seed strategies if the repository is empty")
	serveCmd.Flags().String("postgres", "", "Postgres DSN for durable persistence (overrides DATABASE_URL; omit to use in-memory stores)")

	tickCmd := &cobra.Command{
		Use:   "tick",
		Short: "Run a single Evolution Scheduler tick and exit",
		RunE:  runTick,
	}
	tickCmd.Flags().String("providers", "", "Path to a providers.yaml config (omit to use in-memory synthetic providers)")
	tickCmd.Flags().String("postgres", "", "Postgres DSN for durable persistence (overrides DATABASE_URL; omit to use in-memory stores)")

	fingerprintCmd := &cobra.Command{
		Use:   "fingerprint <rule-set.yaml>",
		Short: "Print the canonical fingerprint of a rule set file",
		Args:  cobra.ExactArgs(1),
		RunE:  runFingerprint,
	}

	rootCmd.AddCommand(serveCmd, tickCmd, fingerprintCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// wiring holds every component main needs to assemble a Scheduler and an
// Admin Control Plane server over the same repository.
type wiring struct {
	repo      repository.Store
	sched     *scheduler.Scheduler
	tunables  *seechttp.TunablesStore
	metrics   *seechttp.MetricsRegistry
	gateway   *marketdata.Gateway
	dbManager *db.Manager // non-nil only when Postgres persistence is wired; Close it on shutdown
}

func buildWiring(cmd *cobra.Command) (*wiring, error) {
	providersPath, _ := cmd.Flags().GetString("providers")

	repo, mcnStore, dbManager, err := buildStores(cmd)
	if err != nil {
		return nil, err
	}

	gateway, err := buildGateway(providersPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build market data gateway: %w", err)
	}

	engine := backtest.NewEngine(gateway, backtest.DefaultConfig())
	eval := evaluator.New(evaluator.DefaultConfig(), mcnStore)
	mut := mutator.New(mutator.DefaultConfig(), mcnStore, mutator.DefaultLibrary())

	tunables := seechttp.NewTunablesStore(config.TunablesFromEnv())
	metrics := seechttp.NewMetricsRegistry()

	sched := scheduler.New(repo, engine, eval, mut, tunables, scheduler.DefaultConfig())
	sched.SetMetrics(metrics)

	return &wiring{repo: repo, sched: sched, tunables: tunables, metrics: metrics, gateway: gateway, dbManager: dbManager}, nil
}

// buildStores selects the durable Postgres-backed Strategy Repository and
// MCN store (§4.7/§6.4) when a DSN is available from --postgres or
// DATABASE_URL, falling back to the in-memory stores otherwise. The
// returned *db.Manager is non-nil only in the Postgres case and must be
// closed by the caller on shutdown.
func buildStores(cmd *cobra.Command) (repository.Store, mcn.Store, *db.Manager, error) {
	dsn, _ := cmd.Flags().GetString("postgres")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return repository.NewMemory(), mcn.NewMemory(), nil, nil
	}

	dbCfg := db.DefaultConfig()
	dbCfg.DSN = dsn
	dbCfg.Enabled = true

	manager, err := db.NewManager(dbCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	log.Info().Msg("durable persistence enabled: using postgres-backed strategy repository and MCN store")
	return manager.Repository(), manager.MCN(), manager, nil
}

// buildGateway constructs the Market Data Gateway. With a providers.yaml
// path it wires the enabled HTTP providers in a fixed failover order,
// sorted by provider name (the YAML map's own order is not kept); without one it falls back to deterministic in-memory providers so
// `seec serve`/`seec tick` work without any external dependency.
func buildGateway(providersPath string) (*marketdata.Gateway, error) {
	cache := marketdata.NewCache()

	if providersPath == "" {
		configs := []marketdata.ProviderConfig{
			{Provider: marketdata.NewMemProvider("primary"), RateLimit: marketdata.RateLimit{RPS: 10, Burst: 20}},
			{Provider: marketdata.NewMemProvider("secondary"), RateLimit: marketdata.RateLimit{RPS: 10, Burst: 20}},
		}
		return marketdata.NewGateway(configs, cache, 5*time.Minute), nil
	}

	providersCfg, err := config.LoadProvidersConfig(providersPath)
	if err != nil {
		return nil, err
	}
	if err := providersCfg.Validate(); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(providersCfg.Providers))
	for name := range providersCfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	enabled := providersCfg.EnabledOrder(names)

	configs := make([]marketdata.ProviderConfig, 0, len(enabled))
	for _, name := range enabled {
		pcfg, _ := providersCfg.GetProvider(name)
		provider := marketdata.NewHTTPProvider(marketdata.HTTPProviderConfig{
			Name:       name,
			BaseURL:    pcfg.BaseURL,
			DecodeBars: decodeBarsJSON,
			Pool: httpclient.ClientConfig{
				MaxConcurrency: providersCfg.Global.MaxConcurrentPerHost,
				RequestTimeout: pcfg.GetRequestTimeout(),
				BackoffBase:    pcfg.GetBaseBackoff(),
				BackoffMax:     pcfg.GetMaxBackoff(),
				UserAgent:      providersCfg.Global.UserAgent,
			},
		})
		configs = append(configs, marketdata.ProviderConfig{Provider: provider, RateLimit: pcfg.RateLimit()})
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("providers config %s enabled no providers", providersPath)
	}

	return marketdata.NewGateway(configs, cache, 5*time.Minute), nil
}

// decodeBarsJSON assumes a provider's /bars response is a plain JSON array
// of bar objects field-matching marketdata.Bar; providers with a different
// wire shape need their own decoder wired in here.
func decodeBarsJSON(body []byte) ([]marketdata.Bar, error) {
	var bars []marketdata.Bar
	if err := json.Unmarshal(body, &bars); err != nil {
		return nil, fmt.Errorf("decode bars: %w", err)
	}
	return bars, nil
}

func seedIfEmpty(ctx context.Context, repo repository.Store) error {
	existing, err := repo.NextBatch(ctx, 1, 0, time.Now())
	if err != nil {
		return fmt.Errorf("failed to probe repository: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	now := time.Now()
	for i, rs := range seedlib.Seeds() {
		strat := domain.Strategy{
			ID:          fmt.Sprintf("seed-%d", i+1),
			Name:        fmt.Sprintf("seed strategy %d", i+1),
			AssetClass:  "crypto",
			Fingerprint: domain.ComputeFingerprint(rs),
			RuleSet:     rs,
			CreatedAt:   now,
			Status:      domain.StatusExperiment,
		}
		if err := repo.Insert(ctx, strat); err != nil {
			return fmt.Errorf("failed to insert seed strategy %s: %w", strat.ID, err)
		}
	}
	log.Info().Int("count", len(seedlib.Seeds())).Msg("seeded empty repository with built-in strategies")
	return nil
}

// runServe starts the scheduler and the Admin Control Plane together and
// blocks until SIGINT/SIGTERM.
func runServe(cmd *cobra.Command, args []string) error {
	w, err := buildWiring(cmd)
	if err != nil {
		return err
	}
	if w.dbManager != nil {
		defer w.dbManager.Close()
	}

	if doSeed, _ := cmd.Flags().GetBool("seed"); doSeed {
		if err := seedIfEmpty(context.Background(), w.repo); err != nil {
			return err
		}
	}

	server, err := seechttp.NewServer(seechttp.DefaultServerConfig(), w.repo, w.tunables, w.metrics)
	if err != nil {
		return fmt.Errorf("failed to start admin control plane: %w", err)
	}
	server.SetGateway(w.gateway)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	schedErr := make(chan error, 1)
	go func() {
		schedErr <- w.sched.Run(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Msg("admin control plane starting")
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		cancel()
		return fmt.Errorf("admin control plane error: %w", err)
	case err := <-schedErr:
		if err != nil && err != context.Canceled {
			return fmt.Errorf("scheduler stopped unexpectedly: %w", err)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("admin control plane shutdown error")
		return err
	}

	log.Info().Msg("seec stopped")
	return nil
}

// runTick wires the same components as serve but executes exactly one
// scheduler tick, for invocation from an external cron.
func runTick(cmd *cobra.Command, args []string) error {
	w, err := buildWiring(cmd)
	if err != nil {
		return err
	}
	if w.dbManager != nil {
		defer w.dbManager.Close()
	}
	if err := seedIfEmpty(context.Background(), w.repo); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		log.Info().Msg("running non-interactively")
	}

	if err := w.sched.Tick(ctx); err != nil {
		return fmt.Errorf("tick failed: %w", err)
	}
	log.Info().Msg("tick complete")
	return nil
}

// runFingerprint prints the canonical fingerprint of a YAML-encoded rule
// set, the operational counterpart to ComputeFingerprint's stability
// guarantee (§6 "compatibility requirement").
func runFingerprint(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	var rs domain.RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return fmt.Errorf("failed to parse rule set: %w", err)
	}
	if !rs.WellFormed() {
		return fmt.Errorf("rule set in %s is not well-formed: needs at least one entry and one exit rule", args[0])
	}

	fmt.Println(string(domain.ComputeFingerprint(rs)))
	return nil
}
