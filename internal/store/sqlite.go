package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite, for local runs and
// tests that want a real database without Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	idempotency_key  TEXT NOT NULL UNIQUE,
	email            TEXT NOT NULL,
	campaign_id      TEXT NOT NULL,
	name             TEXT,
	enrichment_data  TEXT,
	status           TEXT NOT NULL DEFAULT 'PENDING',
	fit_score        INTEGER,
	intent           TEXT,
	reasoning        TEXT,
	evidence         TEXT,
	grounding_status TEXT,
	grounding_errors TEXT,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);

CREATE TABLE IF NOT EXISTS crm_sync_logs (
	id               TEXT PRIMARY KEY,
	action           TEXT NOT NULL,
	entity_type      TEXT NOT NULL,
	entity_id        TEXT,
	params           TEXT NOT NULL,
	result           TEXT NOT NULL,
	mcp_execution_id TEXT NOT NULL,
	idempotency_key  TEXT,
	mock             INTEGER NOT NULL DEFAULT 0,
	lead_id          INTEGER,
	duration_ms      INTEGER NOT NULL DEFAULT 0,
	error_message    TEXT,
	created_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sync_logs_execution ON crm_sync_logs(mcp_execution_id);

CREATE TABLE IF NOT EXISTS lead_failures (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	original_job_id TEXT NOT NULL,
	lead_id         INTEGER NOT NULL,
	error           TEXT NOT NULL,
	attempts_made   INTEGER NOT NULL,
	failed_at       DATETIME NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return eris.Wrap(s.db.Close(), "sqlite: close")
}

func (s *SQLiteStore) CreateLead(ctx context.Context, lead *model.Lead) (*model.Lead, bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (idempotency_key, email, campaign_id, name, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		lead.IdempotencyKey, lead.Email, lead.CampaignID, lead.Name, string(model.LeadStatusPending), now, now,
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: create lead")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: rows affected")
	}

	stored, err := s.GetLeadByKey(ctx, lead.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return stored, affected > 0, nil
}

const sqliteLeadColumns = `id, idempotency_key, email, campaign_id, name, enrichment_data, status,
	fit_score, intent, reasoning, evidence, grounding_status, grounding_errors, created_at, updated_at`

func (s *SQLiteStore) GetLead(ctx context.Context, id int64) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteLeadColumns+` FROM leads WHERE id = ?`, id)
	return scanSQLiteLead(row)
}

func (s *SQLiteStore) GetLeadByKey(ctx context.Context, idempotencyKey string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteLeadColumns+` FROM leads WHERE idempotency_key = ?`, idempotencyKey)
	return scanSQLiteLead(row)
}

func (s *SQLiteStore) UpdateLeadEnrichment(ctx context.Context, id int64, enrichment map[string]any) error {
	raw, err := json.Marshal(enrichment)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal enrichment")
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE leads SET enrichment_data = ?, updated_at = ? WHERE id = ?`,
		string(raw), time.Now().UTC(), id,
	)
	return eris.Wrap(err, "sqlite: update enrichment")
}

func (s *SQLiteStore) UpdateLeadAnalysis(ctx context.Context, id int64, analysis *model.AnalysisResult) error {
	evidence, err := json.Marshal(analysis.Evidence)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal evidence")
	}
	groundingErrors, err := json.Marshal(analysis.GroundingErrors)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal grounding errors")
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE leads SET fit_score = ?, intent = ?, reasoning = ?, evidence = ?,
		        grounding_status = ?, grounding_errors = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		analysis.FitScore, string(analysis.Intent), analysis.Reasoning, string(evidence),
		string(analysis.GroundingStatus), string(groundingErrors), string(model.LeadStatusEnriched),
		time.Now().UTC(), id,
	)
	return eris.Wrap(err, "sqlite: update analysis")
}

func (s *SQLiteStore) UpdateLeadStatus(ctx context.Context, id int64, status model.LeadStatus) error {
	var current string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM leads WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: read status")
	}
	if !model.CanTransition(model.LeadStatus(current), status) {
		return eris.Wrapf(ErrInvalidTransition, "%s -> %s", current, status)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE leads SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	return eris.Wrap(err, "sqlite: update status")
}

func (s *SQLiteStore) CountLeadsByStatus(ctx context.Context) (map[model.LeadStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM leads GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by status")
	}
	defer rows.Close()

	counts := make(map[model.LeadStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan count")
		}
		counts[model.LeadStatus(status)] = count
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count rows")
}

func (s *SQLiteStore) AppendSyncLog(ctx context.Context, entry *model.CrmSyncLog) error {
	params, err := json.Marshal(entry.Params)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal sync log params")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO crm_sync_logs (id, action, entity_type, entity_id, params, result,
		        mcp_execution_id, idempotency_key, mock, lead_id, duration_ms, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Action, entry.EntityType, entry.EntityID, string(params), entry.Result,
		entry.MCPExecutionID, entry.IdempotencyKey, entry.Mock, entry.LeadID,
		entry.DurationMs, entry.ErrorMessage, entry.Timestamp,
	)
	return eris.Wrap(err, "sqlite: append sync log")
}

func (s *SQLiteStore) ListSyncLogs(ctx context.Context, executionID string) ([]model.CrmSyncLog, error) {
	return s.listSyncLogs(ctx,
		`SELECT id, action, entity_type, entity_id, params, result, mcp_execution_id,
		        idempotency_key, mock, lead_id, duration_ms, error_message, created_at
		 FROM crm_sync_logs WHERE mcp_execution_id = ? ORDER BY created_at`,
		executionID,
	)
}

func (s *SQLiteStore) ListSyncLogsForLead(ctx context.Context, leadID int64) ([]model.CrmSyncLog, error) {
	return s.listSyncLogs(ctx,
		`SELECT id, action, entity_type, entity_id, params, result, mcp_execution_id,
		        idempotency_key, mock, lead_id, duration_ms, error_message, created_at
		 FROM crm_sync_logs WHERE lead_id = ? ORDER BY created_at`,
		leadID,
	)
}

func (s *SQLiteStore) listSyncLogs(ctx context.Context, query string, arg any) ([]model.CrmSyncLog, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sync logs")
	}
	defer rows.Close()

	var entries []model.CrmSyncLog
	for rows.Next() {
		var e model.CrmSyncLog
		var entityID, idemKey, errMsg sql.NullString
		var leadID sql.NullInt64
		var params string
		if err := rows.Scan(&e.ID, &e.Action, &e.EntityType, &entityID, &params, &e.Result,
			&e.MCPExecutionID, &idemKey, &e.Mock, &leadID, &e.DurationMs, &errMsg, &e.Timestamp); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sync log")
		}
		if err := json.Unmarshal([]byte(params), &e.Params); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode sync log params")
		}
		e.EntityID = entityID.String
		e.IdempotencyKey = idemKey.String
		e.ErrorMessage = errMsg.String
		if leadID.Valid {
			id := leadID.Int64
			e.LeadID = &id
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: sync log rows")
}

func (s *SQLiteStore) RecordPermanentFailure(ctx context.Context, entry *model.DLQEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lead_failures (original_job_id, lead_id, error, attempts_made, failed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.OriginalJobID, entry.LeadID, entry.Error, entry.AttemptsMade, entry.FailedAt,
	)
	return eris.Wrap(err, "sqlite: record failure")
}

func scanSQLiteLead(row *sql.Row) (*model.Lead, error) {
	var l model.Lead
	var name, intent, reasoning, groundingStatus sql.NullString
	var enrichment, evidence, groundingErrors sql.NullString
	var fitScore sql.NullInt64

	err := row.Scan(&l.ID, &l.IdempotencyKey, &l.Email, &l.CampaignID, &name, &enrichment, &l.Status,
		&fitScore, &intent, &reasoning, &evidence, &groundingStatus, &groundingErrors,
		&l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan lead")
	}

	l.Name = name.String
	l.Intent = model.Intent(intent.String)
	l.Reasoning = reasoning.String
	l.GroundingStatus = model.GroundingStatus(groundingStatus.String)
	if fitScore.Valid {
		score := int(fitScore.Int64)
		l.FitScore = &score
	}
	if enrichment.Valid && enrichment.String != "" {
		if err := json.Unmarshal([]byte(enrichment.String), &l.EnrichmentData); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode enrichment")
		}
	}
	if evidence.Valid && evidence.String != "" {
		if err := json.Unmarshal([]byte(evidence.String), &l.Evidence); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode evidence")
		}
	}
	if groundingErrors.Valid && groundingErrors.String != "" {
		if err := json.Unmarshal([]byte(groundingErrors.String), &l.GroundingErrors); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode grounding errors")
		}
	}
	return &l, nil
}

var _ Store = (*SQLiteStore)(nil)
var _ Store = (*PostgresStore)(nil)
