package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/seec/internal/domain"
)

// Postgres is a sqlx-backed Store. It follows the same upsert-by-natural-key
// shape used by the MCN store: every write is one statement, JSON columns
// hold map/struct-shaped fields, and every call is timeout-bounded.
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

type strategyRow struct {
	ID                   string         `db:"id"`
	Name                 string         `db:"name"`
	Description          string         `db:"description"`
	Owner                string         `db:"owner"`
	AssetClass           string         `db:"asset_class"`
	Fingerprint          string         `db:"fingerprint"`
	RuleSet              []byte         `db:"rule_set"`
	CreatedAt            time.Time      `db:"created_at"`
	Status               string         `db:"status"`
	Score                sql.NullFloat64 `db:"score"`
	TrainMetrics         []byte         `db:"train_metrics"`
	TestMetrics          []byte         `db:"test_metrics"`
	LastBacktestAt       sql.NullTime   `db:"last_backtest_at"`
	EvolutionAttempts    int            `db:"evolution_attempts"`
	IsProposable         bool           `db:"is_proposable"`
	Generalized          bool           `db:"generalized"`
	PerSymbolPerformance []byte         `db:"per_symbol_performance"`
	ExplanationHuman     string         `db:"explanation_human"`
	RiskNote             string         `db:"risk_note"`
	DiscardReason        string         `db:"discard_reason"`
}

func toRow(s domain.Strategy) (strategyRow, error) {
	ruleSetJSON, err := json.Marshal(s.RuleSet)
	if err != nil {
		return strategyRow{}, domain.WrapError(domain.ErrRepositoryWrite, "marshal rule set", err)
	}
	perSymbolJSON, err := json.Marshal(s.PerSymbolPerformance)
	if err != nil {
		return strategyRow{}, domain.WrapError(domain.ErrRepositoryWrite, "marshal per-symbol performance", err)
	}

	row := strategyRow{
		ID:                   s.ID,
		Name:                 s.Name,
		Description:          s.Description,
		Owner:                s.Owner,
		AssetClass:           s.AssetClass,
		Fingerprint:          string(s.Fingerprint),
		RuleSet:              ruleSetJSON,
		CreatedAt:            s.CreatedAt,
		Status:               string(s.Status),
		EvolutionAttempts:    s.EvolutionAttempts,
		IsProposable:         s.IsProposable,
		Generalized:          s.Generalized,
		PerSymbolPerformance: perSymbolJSON,
		ExplanationHuman:     s.ExplanationHuman,
		RiskNote:             s.RiskNote,
		DiscardReason:        s.DiscardReason,
	}
	if s.Score != nil {
		row.Score = sql.NullFloat64{Float64: *s.Score, Valid: true}
	}
	if s.LastBacktestAt != nil {
		row.LastBacktestAt = sql.NullTime{Time: *s.LastBacktestAt, Valid: true}
	}
	if s.TrainMetrics != nil {
		b, err := json.Marshal(s.TrainMetrics)
		if err != nil {
			return strategyRow{}, domain.WrapError(domain.ErrRepositoryWrite, "marshal train metrics", err)
		}
		row.TrainMetrics = b
	}
	if s.TestMetrics != nil {
		b, err := json.Marshal(s.TestMetrics)
		if err != nil {
			return strategyRow{}, domain.WrapError(domain.ErrRepositoryWrite, "marshal test metrics", err)
		}
		row.TestMetrics = b
	}
	return row, nil
}

func (r strategyRow) toDomain() (domain.Strategy, error) {
	s := domain.Strategy{
		ID:                r.ID,
		Name:              r.Name,
		Description:       r.Description,
		Owner:             r.Owner,
		AssetClass:        r.AssetClass,
		Fingerprint:       domain.Fingerprint(r.Fingerprint),
		CreatedAt:         r.CreatedAt,
		Status:            domain.Status(r.Status),
		EvolutionAttempts: r.EvolutionAttempts,
		IsProposable:      r.IsProposable,
		Generalized:       r.Generalized,
		ExplanationHuman:  r.ExplanationHuman,
		RiskNote:          r.RiskNote,
		DiscardReason:     r.DiscardReason,
	}
	if len(r.RuleSet) > 0 {
		if err := json.Unmarshal(r.RuleSet, &s.RuleSet); err != nil {
			return domain.Strategy{}, domain.WrapError(domain.ErrRepositoryWrite, "unmarshal rule set", err)
		}
	}
	if len(r.PerSymbolPerformance) > 0 {
		if err := json.Unmarshal(r.PerSymbolPerformance, &s.PerSymbolPerformance); err != nil {
			return domain.Strategy{}, domain.WrapError(domain.ErrRepositoryWrite, "unmarshal per-symbol performance", err)
		}
	}
	if r.Score.Valid {
		v := r.Score.Float64
		s.Score = &v
	}
	if r.LastBacktestAt.Valid {
		v := r.LastBacktestAt.Time
		s.LastBacktestAt = &v
	}
	if len(r.TrainMetrics) > 0 {
		var m domain.MetricRecord
		if err := json.Unmarshal(r.TrainMetrics, &m); err != nil {
			return domain.Strategy{}, domain.WrapError(domain.ErrRepositoryWrite, "unmarshal train metrics", err)
		}
		s.TrainMetrics = &m
	}
	if len(r.TestMetrics) > 0 {
		var m domain.MetricRecord
		if err := json.Unmarshal(r.TestMetrics, &m); err != nil {
			return domain.Strategy{}, domain.WrapError(domain.ErrRepositoryWrite, "unmarshal test metrics", err)
		}
		s.TestMetrics = &m
	}
	return s, nil
}

func (p *Postgres) Insert(ctx context.Context, s domain.Strategy) error {
	ctx, cancel := p.ctx(ctx)
	defer cancel()

	row, err := toRow(s)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO strategies (
			id, name, description, owner, asset_class, fingerprint, rule_set, created_at,
			status, score, train_metrics, test_metrics, last_backtest_at, evolution_attempts,
			is_proposable, generalized, per_symbol_performance, explanation_human, risk_note, discard_reason
		) VALUES (
			:id, :name, :description, :owner, :asset_class, :fingerprint, :rule_set, :created_at,
			:status, :score, :train_metrics, :test_metrics, :last_backtest_at, :evolution_attempts,
			:is_proposable, :generalized, :per_symbol_performance, :explanation_human, :risk_note, :discard_reason
		)`
	if _, err := p.db.NamedExecContext(ctx, q, row); err != nil {
		return domain.WrapError(domain.ErrRepositoryWrite, "insert strategy", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (domain.Strategy, error) {
	ctx, cancel := p.ctx(ctx)
	defer cancel()

	var row strategyRow
	const q = `SELECT * FROM strategies WHERE id = $1`
	if err := p.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Strategy{}, domain.NewError(domain.ErrRepositoryWrite, "strategy not found: "+id)
		}
		return domain.Strategy{}, domain.WrapError(domain.ErrRepositoryWrite, "get strategy", err)
	}
	return row.toDomain()
}

// Save overwrites every evaluation field in one statement (§4.7 "atomic
// per strategy") — no reader can observe a partial update.
func (p *Postgres) Save(ctx context.Context, s domain.Strategy) error {
	ctx, cancel := p.ctx(ctx)
	defer cancel()

	row, err := toRow(s)
	if err != nil {
		return err
	}
	const q = `
		UPDATE strategies SET
			status = :status,
			score = :score,
			train_metrics = :train_metrics,
			test_metrics = :test_metrics,
			last_backtest_at = :last_backtest_at,
			evolution_attempts = :evolution_attempts,
			is_proposable = :is_proposable,
			generalized = :generalized,
			per_symbol_performance = :per_symbol_performance,
			explanation_human = :explanation_human,
			risk_note = :risk_note,
			discard_reason = :discard_reason
		WHERE id = :id`
	result, err := p.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return domain.WrapError(domain.ErrRepositoryWrite, "save strategy", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return domain.WrapError(domain.ErrRepositoryWrite, "check save result", err)
	}
	if affected == 0 {
		return domain.NewError(domain.ErrRepositoryWrite, "cannot save unknown strategy: "+s.ID)
	}
	return nil
}

// NextBatch expresses the §4.6 four-tier priority order as one
// deterministic query: each tier is a branch of a UNION ALL tagged with
// its tier number, and the outer ORDER BY sorts first by tier, then by
// the tier-appropriate timestamp column.
func (p *Postgres) NextBatch(ctx context.Context, limit int, staleAfter time.Duration, now time.Time) ([]domain.Strategy, error) {
	ctx, cancel := p.ctx(ctx)
	defer cancel()

	staleBefore := now.Add(-staleAfter)

	const q = `
		SELECT * FROM (
			SELECT s.*, 1 AS tier FROM strategies s
				WHERE s.status != 'discarded' AND s.last_backtest_at IS NULL
			UNION ALL
			SELECT s.*, 2 AS tier FROM strategies s
				WHERE s.status != 'discarded' AND s.last_backtest_at IS NOT NULL AND s.last_backtest_at < $1
			UNION ALL
			SELECT s.*, 3 AS tier FROM strategies s
				WHERE s.status = 'experiment' AND s.last_backtest_at IS NOT NULL AND s.last_backtest_at >= $1
			UNION ALL
			SELECT s.*, 4 AS tier FROM strategies s
				WHERE s.status IN ('candidate', 'proposable') AND s.last_backtest_at IS NOT NULL AND s.last_backtest_at >= $1
		) batch
		ORDER BY tier,
			CASE WHEN tier IN (1, 3) THEN created_at END ASC,
			CASE WHEN tier IN (2, 4) THEN last_backtest_at END ASC
		LIMIT $2`

	rows, err := p.db.QueryxContext(ctx, q, staleBefore, limit)
	if err != nil {
		return nil, domain.WrapError(domain.ErrRepositoryWrite, "select next batch", err)
	}
	defer rows.Close()

	var out []domain.Strategy
	for rows.Next() {
		var row strategyRow
		var tier int
		if err := rows.Scan(
			&row.ID, &row.Name, &row.Description, &row.Owner, &row.AssetClass, &row.Fingerprint,
			&row.RuleSet, &row.CreatedAt, &row.Status, &row.Score, &row.TrainMetrics, &row.TestMetrics,
			&row.LastBacktestAt, &row.EvolutionAttempts, &row.IsProposable, &row.Generalized,
			&row.PerSymbolPerformance, &row.ExplanationHuman, &row.RiskNote, &row.DiscardReason, &tier,
		); err != nil {
			return nil, domain.WrapError(domain.ErrRepositoryWrite, "scan next batch row", err)
		}
		s, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) TopProposable(ctx context.Context, limit int) ([]domain.Strategy, error) {
	ctx, cancel := p.ctx(ctx)
	defer cancel()

	const q = `SELECT * FROM strategies WHERE status = 'proposable' ORDER BY score DESC LIMIT $1`
	var rows []strategyRow
	if err := p.db.SelectContext(ctx, &rows, q, limit); err != nil {
		return nil, domain.WrapError(domain.ErrRepositoryWrite, "select top proposable", err)
	}
	out := make([]domain.Strategy, 0, len(rows))
	for _, row := range rows {
		s, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Schema is the SQL DDL this store expects.
const Schema = `
CREATE TABLE IF NOT EXISTS strategies (
	id                      TEXT PRIMARY KEY,
	name                    TEXT NOT NULL,
	description             TEXT NOT NULL DEFAULT '',
	owner                   TEXT NOT NULL DEFAULT '',
	asset_class             TEXT NOT NULL DEFAULT '',
	fingerprint             TEXT NOT NULL,
	rule_set                JSONB NOT NULL,
	created_at              TIMESTAMPTZ NOT NULL,
	status                  TEXT NOT NULL,
	score                   DOUBLE PRECISION,
	train_metrics           JSONB,
	test_metrics            JSONB,
	last_backtest_at        TIMESTAMPTZ,
	evolution_attempts      INT NOT NULL DEFAULT 0,
	is_proposable           BOOLEAN NOT NULL DEFAULT false,
	generalized             BOOLEAN NOT NULL DEFAULT false,
	per_symbol_performance  JSONB,
	explanation_human       TEXT NOT NULL DEFAULT '',
	risk_note               TEXT NOT NULL DEFAULT '',
	discard_reason          TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS strategies_status_idx ON strategies (status);
CREATE INDEX IF NOT EXISTS strategies_last_backtest_idx ON strategies (last_backtest_at);
`
