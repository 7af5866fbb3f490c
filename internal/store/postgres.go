package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// Pool is the slice of the pgx pool API the store uses. pgxpool.Pool
// satisfies it; pgxmock substitutes in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool, primarily for tests.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id               BIGSERIAL PRIMARY KEY,
	idempotency_key  TEXT NOT NULL UNIQUE,
	email            TEXT NOT NULL,
	campaign_id      TEXT NOT NULL,
	name             TEXT,
	enrichment_data  JSONB,
	status           TEXT NOT NULL DEFAULT 'PENDING',
	fit_score        INTEGER,
	intent           TEXT,
	reasoning        TEXT,
	evidence         JSONB,
	grounding_status TEXT,
	grounding_errors JSONB,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
CREATE INDEX IF NOT EXISTS idx_leads_email ON leads(email);

CREATE TABLE IF NOT EXISTS crm_sync_logs (
	id               TEXT PRIMARY KEY,
	action           TEXT NOT NULL,
	entity_type      TEXT NOT NULL,
	entity_id        TEXT,
	params           JSONB NOT NULL,
	result           TEXT NOT NULL,
	mcp_execution_id TEXT NOT NULL,
	idempotency_key  TEXT,
	mock             BOOLEAN NOT NULL DEFAULT false,
	lead_id          BIGINT,
	duration_ms      BIGINT NOT NULL DEFAULT 0,
	error_message    TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sync_logs_execution ON crm_sync_logs(mcp_execution_id);
CREATE INDEX IF NOT EXISTS idx_sync_logs_lead ON crm_sync_logs(lead_id);

CREATE TABLE IF NOT EXISTS lead_failures (
	id              BIGSERIAL PRIMARY KEY,
	original_job_id TEXT NOT NULL,
	lead_id         BIGINT NOT NULL,
	error           TEXT NOT NULL,
	attempts_made   INTEGER NOT NULL,
	failed_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_lead_failures_lead ON lead_failures(lead_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const leadColumns = `id, idempotency_key, email, campaign_id, name, enrichment_data, status,
	fit_score, intent, reasoning, evidence, grounding_status, grounding_errors, created_at, updated_at`

// CreateLead inserts a new lead, or returns the existing row unchanged when
// the idempotency key already exists. The bool reports whether a row was
// created.
func (s *PostgresStore) CreateLead(ctx context.Context, lead *model.Lead) (*model.Lead, bool, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO leads (idempotency_key, email, campaign_id, name, status)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (idempotency_key) DO NOTHING
		 RETURNING `+leadColumns,
		lead.IdempotencyKey, lead.Email, lead.CampaignID, nullable(lead.Name), string(model.LeadStatusPending),
	)

	created, err := scanLead(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, eris.Wrap(err, "postgres: create lead")
	}

	existing, err := s.GetLeadByKey(ctx, lead.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id int64) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get lead")
	}
	return lead, nil
}

func (s *PostgresStore) GetLeadByKey(ctx context.Context, idempotencyKey string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE idempotency_key = $1`, idempotencyKey)
	lead, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get lead by key")
	}
	return lead, nil
}

func (s *PostgresStore) UpdateLeadEnrichment(ctx context.Context, id int64, enrichment map[string]any) error {
	raw, err := json.Marshal(enrichment)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal enrichment")
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE leads SET enrichment_data = $1, updated_at = now() WHERE id = $2`,
		raw, id,
	)
	return eris.Wrap(err, "postgres: update enrichment")
}

// UpdateLeadAnalysis persists the grounded analysis outputs and moves the
// lead to ENRICHED.
func (s *PostgresStore) UpdateLeadAnalysis(ctx context.Context, id int64, analysis *model.AnalysisResult) error {
	evidence, err := json.Marshal(analysis.Evidence)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal evidence")
	}
	groundingErrors, err := json.Marshal(analysis.GroundingErrors)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal grounding errors")
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE leads SET fit_score = $1, intent = $2, reasoning = $3, evidence = $4,
		        grounding_status = $5, grounding_errors = $6, status = $7, updated_at = now()
		 WHERE id = $8`,
		analysis.FitScore, string(analysis.Intent), analysis.Reasoning, evidence,
		string(analysis.GroundingStatus), groundingErrors, string(model.LeadStatusEnriched), id,
	)
	return eris.Wrap(err, "postgres: update analysis")
}

// UpdateLeadStatus enforces the lead state machine: the current status must
// allow the transition.
func (s *PostgresStore) UpdateLeadStatus(ctx context.Context, id int64, status model.LeadStatus) error {
	var current string
	if err := s.pool.QueryRow(ctx, `SELECT status FROM leads WHERE id = $1`, id).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return eris.Wrap(err, "postgres: read status")
	}
	if !model.CanTransition(model.LeadStatus(current), status) {
		return eris.Wrapf(ErrInvalidTransition, "%s -> %s", current, status)
	}

	_, err := s.pool.Exec(ctx,
		`UPDATE leads SET status = $1, updated_at = now() WHERE id = $2`,
		string(status), id,
	)
	return eris.Wrap(err, "postgres: update status")
}

func (s *PostgresStore) CountLeadsByStatus(ctx context.Context) (map[model.LeadStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM leads GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by status")
	}
	defer rows.Close()

	counts := make(map[model.LeadStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan count")
		}
		counts[model.LeadStatus(status)] = count
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count rows")
}

func (s *PostgresStore) AppendSyncLog(ctx context.Context, entry *model.CrmSyncLog) error {
	params, err := json.Marshal(entry.Params)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal sync log params")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO crm_sync_logs (id, action, entity_type, entity_id, params, result,
		        mcp_execution_id, idempotency_key, mock, lead_id, duration_ms, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID, entry.Action, entry.EntityType, nullable(entry.EntityID), params, entry.Result,
		entry.MCPExecutionID, nullable(entry.IdempotencyKey), entry.Mock, entry.LeadID,
		entry.DurationMs, nullable(entry.ErrorMessage), entry.Timestamp,
	)
	return eris.Wrap(err, "postgres: append sync log")
}

func (s *PostgresStore) ListSyncLogs(ctx context.Context, executionID string) ([]model.CrmSyncLog, error) {
	return s.listSyncLogs(ctx,
		`SELECT id, action, entity_type, entity_id, params, result, mcp_execution_id,
		        idempotency_key, mock, lead_id, duration_ms, error_message, created_at
		 FROM crm_sync_logs WHERE mcp_execution_id = $1 ORDER BY created_at`,
		executionID,
	)
}

func (s *PostgresStore) ListSyncLogsForLead(ctx context.Context, leadID int64) ([]model.CrmSyncLog, error) {
	return s.listSyncLogs(ctx,
		`SELECT id, action, entity_type, entity_id, params, result, mcp_execution_id,
		        idempotency_key, mock, lead_id, duration_ms, error_message, created_at
		 FROM crm_sync_logs WHERE lead_id = $1 ORDER BY created_at`,
		leadID,
	)
}

func (s *PostgresStore) listSyncLogs(ctx context.Context, query string, arg any) ([]model.CrmSyncLog, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sync logs")
	}
	defer rows.Close()

	var entries []model.CrmSyncLog
	for rows.Next() {
		var e model.CrmSyncLog
		var entityID, idemKey, errMsg *string
		var params []byte
		if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &entityID, &params, &e.Result,
			&e.MCPExecutionID, &idemKey, &e.Mock, &e.LeadID, &e.DurationMs, &errMsg, &e.Timestamp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sync log")
		}
		if err := json.Unmarshal(params, &e.Params); err != nil {
			return nil, eris.Wrap(err, "postgres: decode sync log params")
		}
		e.EntityID = deref(entityID)
		e.IdempotencyKey = deref(idemKey)
		e.ErrorMessage = deref(errMsg)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: sync log rows")
}

func (s *PostgresStore) RecordPermanentFailure(ctx context.Context, entry *model.DLQEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO lead_failures (original_job_id, lead_id, error, attempts_made, failed_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.OriginalJobID, entry.LeadID, entry.Error, entry.AttemptsMade, entry.FailedAt,
	)
	return eris.Wrap(err, "postgres: record failure")
}

// scanLead reads one lead row.
func scanLead(row pgx.Row) (*model.Lead, error) {
	var l model.Lead
	var name, intent, reasoning, groundingStatus *string
	var fitScore *int
	var enrichment, evidence, groundingErrors []byte

	err := row.Scan(&l.ID, &l.IdempotencyKey, &l.Email, &l.CampaignID, &name, &enrichment, &l.Status,
		&fitScore, &intent, &reasoning, &evidence, &groundingStatus, &groundingErrors,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}

	l.Name = deref(name)
	l.FitScore = fitScore
	l.Intent = model.Intent(deref(intent))
	l.Reasoning = deref(reasoning)
	l.GroundingStatus = model.GroundingStatus(deref(groundingStatus))
	if len(enrichment) > 0 {
		if err := json.Unmarshal(enrichment, &l.EnrichmentData); err != nil {
			return nil, eris.Wrap(err, "decode enrichment")
		}
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &l.Evidence); err != nil {
			return nil, eris.Wrap(err, "decode evidence")
		}
	}
	if len(groundingErrors) > 0 {
		if err := json.Unmarshal(groundingErrors, &l.GroundingErrors); err != nil {
			return nil, eris.Wrap(err, "decode grounding errors")
		}
	}
	return &l, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
