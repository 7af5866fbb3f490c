package model

import "time"

// CrmSyncLog is one append-only audit row for a single CRM tool call.
// Params are stored post-redaction; raw PII never reaches this table.
type CrmSyncLog struct {
	ID             string         `json:"id"`
	Action         string         `json:"action"`
	EntityType     string         `json:"entity_type"`
	EntityID       string         `json:"entity_id,omitempty"`
	Params         map[string]any `json:"params"`
	Result         string         `json:"result"`
	MCPExecutionID string         `json:"mcp_execution_id"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Mock           bool           `json:"mock"`
	LeadID         *int64         `json:"lead_id,omitempty"`
	DurationMs     int64          `json:"duration_ms"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}
