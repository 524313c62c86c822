package mcn

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/seec/internal/domain"
)

// Postgres is a sqlx-backed Store, adapted from the repository's
// upsert-by-natural-key pattern used elsewhere for regime persistence:
// ON CONFLICT DO UPDATE keyed by the natural key, map-shaped columns
// marshaled to JSON, every statement timeout-bounded.
type Postgres struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewPostgres(db *sqlx.DB, timeout time.Duration) *Postgres {
	return &Postgres{db: db, timeout: timeout}
}

func (p *Postgres) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.timeout)
}

func (p *Postgres) Register(ctx context.Context, fp domain.Fingerprint, ruleSet domain.RuleSet) error {
	ctx, cancel := p.ctx(ctx)
	defer cancel()

	ruleSetJSON, err := json.Marshal(ruleSet)
	if err != nil {
		return domain.WrapError(domain.ErrMCNWrite, "marshal rule set", err)
	}

	const q = `
		INSERT INTO mcn_fingerprints (fingerprint, rule_set, registered_at)
		VALUES ($1, $2, now())
		ON CONFLICT (fingerprint) DO NOTHING`
	if _, err := p.db.ExecContext(ctx, q, string(fp), ruleSetJSON); err != nil {
		return domain.WrapError(domain.ErrMCNWrite, "insert fingerprint registration", err)
	}
	return nil
}

func (p *Postgres) Registered(ctx context.Context, fp domain.Fingerprint) (bool, error) {
	ctx, cancel := p.ctx(ctx)
	defer cancel()

	var exists bool
	const q = `SELECT EXISTS(SELECT 1 FROM mcn_fingerprints WHERE fingerprint = $1)`
	if err := p.db.GetContext(ctx, &exists, q, string(fp)); err != nil {
		return false, domain.WrapError(domain.ErrMCNWrite, "check fingerprint registration", err)
	}
	return exists, nil
}

func (p *Postgres) LinkChild(ctx context.Context, parentFP, childFP domain.Fingerprint, kind domain.MutationKind) error {
	ctx, cancel := p.ctx(ctx)
	defer cancel()

	if parentFP == childFP {
		return domain.NewError(domain.ErrCycleDetected, "child fingerprint equals parent fingerprint")
	}

	cyclic, err := p.wouldCycle(ctx, parentFP, childFP)
	if err != nil {
		return err
	}
	if cyclic {
		return domain.NewError(domain.ErrCycleDetected, "linking would close a cycle in the lineage graph")
	}

	const q = `
		INSERT INTO mcn_lineage_edges (parent_fingerprint, child_fingerprint, mutation_kind, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (child_fingerprint) DO UPDATE
		SET parent_fingerprint = EXCLUDED.parent_fingerprint,
		    mutation_kind      = EXCLUDED.mutation_kind,
		    created_at         = EXCLUDED.created_at`
	if _, err := p.db.ExecContext(ctx, q, string(parentFP), string(childFP), string(kind)); err != nil {
		return domain.WrapError(domain.ErrMCNWrite, "insert lineage edge", err)
	}
	return nil
}

// wouldCycle walks the parent chain starting at parentFP, looking for
// childFP; if found, linking parentFP->childFP would close a cycle.
func (p *Postgres) wouldCycle(ctx context.Context, parentFP, childFP domain.Fingerprint) (bool, error) {
	cur := parentFP
	seen := map[domain.Fingerprint]bool{}
	for {
		if cur == childFP {
			return true, nil
		}
		if seen[cur] {
			return false, nil
		}
		seen[cur] = true

		var next sql.NullString
		const q = `SELECT parent_fingerprint FROM mcn_lineage_edges WHERE child_fingerprint = $1`
		if err := p.db.GetContext(ctx, &next, q, string(cur)); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return false, nil
			}
			return false, domain.WrapError(domain.ErrMCNWrite, "walk lineage ancestry", err)
		}
		if !next.Valid {
			return false, nil
		}
		cur = domain.Fingerprint(next.String)
	}
}

func (p *Postgres) RecordRegime(ctx context.Context, snapshot domain.RegimeSnapshot) error {
	ctx, cancel := p.ctx(ctx)
	defer cancel()

	metricsJSON, err := json.Marshal(snapshot.Metrics)
	if err != nil {
		return domain.WrapError(domain.ErrMCNWrite, "marshal regime metrics", err)
	}

	const q = `
		INSERT INTO mcn_regime_snapshots
			(fingerprint, regime, metrics, train_sharpe, pass, data_window_hash, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (fingerprint, regime) DO UPDATE
		SET metrics          = EXCLUDED.metrics,
		    train_sharpe     = EXCLUDED.train_sharpe,
		    pass             = EXCLUDED.pass,
		    data_window_hash = EXCLUDED.data_window_hash,
		    recorded_at      = EXCLUDED.recorded_at`
	_, err = p.db.ExecContext(ctx, q,
		string(snapshot.Fingerprint), string(snapshot.Regime), metricsJSON,
		snapshot.TrainSharpe, snapshot.Pass, snapshot.DataWindowHash)
	if err != nil {
		return domain.WrapError(domain.ErrMCNWrite, "upsert regime snapshot", err)
	}
	return nil
}

func (p *Postgres) Novelty(ctx context.Context, fp domain.Fingerprint) (float64, error) {
	ctx, cancel := p.ctx(ctx)
	defer cancel()

	target, err := p.loadRuleSet(ctx, fp)
	if err != nil {
		return 0, err
	}
	targetFeatures := target.FeatureSet()

	const q = `SELECT fingerprint, rule_set FROM mcn_fingerprints WHERE fingerprint != $1 LIMIT 500`
	rows, err := p.db.QueryContext(ctx, q, string(fp))
	if err != nil {
		return 0, domain.WrapError(domain.ErrMCNWrite, "scan novelty neighborhood", err)
	}
	defer rows.Close()

	maxSim := 0.0
	for rows.Next() {
		var otherFP string
		var raw []byte
		if err := rows.Scan(&otherFP, &raw); err != nil {
			return 0, domain.WrapError(domain.ErrMCNWrite, "scan neighbor row", err)
		}
		var rs domain.RuleSet
		if err := json.Unmarshal(raw, &rs); err != nil {
			continue
		}
		sim := jaccard(targetFeatures, rs.FeatureSet())
		if sim > maxSim {
			maxSim = sim
		}
	}
	return 1 - maxSim, rows.Err()
}

func (p *Postgres) loadRuleSet(ctx context.Context, fp domain.Fingerprint) (domain.RuleSet, error) {
	var raw []byte
	const q = `SELECT rule_set FROM mcn_fingerprints WHERE fingerprint = $1`
	if err := p.db.GetContext(ctx, &raw, q, string(fp)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RuleSet{}, domain.NewError(domain.ErrMCNWrite, "fingerprint is not registered")
		}
		return domain.RuleSet{}, domain.WrapError(domain.ErrMCNWrite, "load rule set", err)
	}
	var rs domain.RuleSet
	if err := json.Unmarshal(raw, &rs); err != nil {
		return domain.RuleSet{}, domain.WrapError(domain.ErrMCNWrite, "unmarshal rule set", err)
	}
	return rs, nil
}

func (p *Postgres) Robustness(ctx context.Context, fp domain.Fingerprint) (float64, error) {
	ctx, cancel := p.ctx(ctx)
	defer cancel()

	const q = `
		SELECT regime, metrics, train_sharpe, pass
		FROM mcn_regime_snapshots
		WHERE fingerprint = $1`
	rows, err := p.db.QueryContext(ctx, q, string(fp))
	if err != nil {
		return 0, domain.WrapError(domain.ErrMCNWrite, "load regime snapshots", err)
	}
	defer rows.Close()

	byRegime := make(map[domain.RegimeTag]domain.RegimeSnapshot)
	for rows.Next() {
		var regime string
		var raw []byte
		var trainSharpe float64
		var pass bool
		if err := rows.Scan(&regime, &raw, &trainSharpe, &pass); err != nil {
			return 0, domain.WrapError(domain.ErrMCNWrite, "scan regime snapshot", err)
		}
		var metrics domain.MetricRecord
		if err := json.Unmarshal(raw, &metrics); err != nil {
			return 0, domain.WrapError(domain.ErrMCNWrite, "unmarshal regime metrics", err)
		}
		byRegime[domain.RegimeTag(regime)] = domain.RegimeSnapshot{
			Metrics: metrics, TrainSharpe: trainSharpe, Pass: pass,
		}
	}
	if err := rows.Err(); err != nil {
		return 0, domain.WrapError(domain.ErrMCNWrite, "iterate regime snapshots", err)
	}

	total := 0.0
	weight := 1.0 / float64(len(domain.AllRegimes))
	for _, regime := range domain.AllRegimes {
		snap, ok := byRegime[regime]
		if !ok || !snap.Pass {
			continue
		}
		ratio := 0.0
		if snap.TrainSharpe > 0 {
			ratio = snap.Metrics.Sharpe / snap.TrainSharpe
		}
		total += weight * clip(ratio, 0, 1.5)
	}
	return total * 100 / 1.5, nil
}

func (p *Postgres) Lineage(ctx context.Context, fp domain.Fingerprint) ([]domain.MutationKind, error) {
	ctx, cancel := p.ctx(ctx)
	defer cancel()

	var reversed []domain.MutationKind
	cur := fp
	seen := map[domain.Fingerprint]bool{}
	for {
		if seen[cur] {
			break
		}
		seen[cur] = true

		var kind, parent sql.NullString
		const q = `SELECT mutation_kind, parent_fingerprint FROM mcn_lineage_edges WHERE child_fingerprint = $1`
		err := p.db.QueryRowContext(ctx, q, string(cur)).Scan(&kind, &parent)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return nil, domain.WrapError(domain.ErrMCNWrite, "walk lineage edge", err)
		}
		if !kind.Valid || !parent.Valid {
			break
		}
		reversed = append(reversed, domain.MutationKind(kind.String))
		cur = domain.Fingerprint(parent.String)
	}

	out := make([]domain.MutationKind, len(reversed))
	for i, k := range reversed {
		out[len(reversed)-1-i] = k
	}
	return out, nil
}

// Schema is the SQL DDL this store expects; callers run it once via
// migration tooling before wiring a Postgres instance (§6 "relational
// schema").
const Schema = `
CREATE TABLE IF NOT EXISTS mcn_fingerprints (
	fingerprint   TEXT PRIMARY KEY,
	rule_set      JSONB NOT NULL,
	registered_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS mcn_lineage_edges (
	child_fingerprint  TEXT PRIMARY KEY REFERENCES mcn_fingerprints(fingerprint),
	parent_fingerprint TEXT NOT NULL REFERENCES mcn_fingerprints(fingerprint),
	mutation_kind      TEXT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS mcn_regime_snapshots (
	fingerprint      TEXT NOT NULL REFERENCES mcn_fingerprints(fingerprint),
	regime           TEXT NOT NULL,
	metrics          JSONB NOT NULL,
	train_sharpe     DOUBLE PRECISION NOT NULL,
	pass             BOOLEAN NOT NULL,
	data_window_hash TEXT NOT NULL,
	recorded_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (fingerprint, regime)
);
`
