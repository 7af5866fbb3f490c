// Package store is the persistence boundary for leads and the CRM audit log.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// ErrNotFound is returned when a lead does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrInvalidTransition is returned when a status update violates the lead
// state machine.
var ErrInvalidTransition = eris.New("store: invalid status transition")

// Store defines the persistence interface for the lead pipeline.
type Store interface {
	// Leads
	CreateLead(ctx context.Context, lead *model.Lead) (*model.Lead, bool, error)
	GetLead(ctx context.Context, id int64) (*model.Lead, error)
	GetLeadByKey(ctx context.Context, idempotencyKey string) (*model.Lead, error)
	UpdateLeadEnrichment(ctx context.Context, id int64, enrichment map[string]any) error
	UpdateLeadAnalysis(ctx context.Context, id int64, analysis *model.AnalysisResult) error
	UpdateLeadStatus(ctx context.Context, id int64, status model.LeadStatus) error
	CountLeadsByStatus(ctx context.Context) (map[model.LeadStatus]int, error)

	// Audit log
	AppendSyncLog(ctx context.Context, entry *model.CrmSyncLog) error
	ListSyncLogs(ctx context.Context, executionID string) ([]model.CrmSyncLog, error)
	ListSyncLogsForLead(ctx context.Context, leadID int64) ([]model.CrmSyncLog, error)

	// Permanent failures
	RecordPermanentFailure(ctx context.Context, entry *model.DLQEntry) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
