// Package model defines the core domain types for the lead pipeline.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// LeadStatus represents the lifecycle state of a lead.
type LeadStatus string

const (
	// LeadStatusPending means the lead is ingested and awaiting analysis.
	LeadStatusPending LeadStatus = "PENDING"
	// LeadStatusEnriched means AI analysis has been persisted.
	LeadStatusEnriched LeadStatus = "ENRICHED"
	// LeadStatusSynced means all CRM actions completed.
	LeadStatusSynced LeadStatus = "SYNCED_TO_CRM"
	// LeadStatusAIRejected means grounding rejected the analysis. Terminal.
	LeadStatusAIRejected LeadStatus = "AI_REJECTED"
	// LeadStatusMCPBlocked means the action layer refused to execute.
	LeadStatusMCPBlocked LeadStatus = "MCP_BLOCKED"
	// LeadStatusPermanentlyFailed means retries were exhausted. Terminal.
	LeadStatusPermanentlyFailed LeadStatus = "PERMANENTLY_FAILED"
)

// allowedTransitions encodes the lead state machine. A lead may only move
// along these edges; the store rejects anything else.
var allowedTransitions = map[LeadStatus][]LeadStatus{
	LeadStatusPending:    {LeadStatusEnriched, LeadStatusPermanentlyFailed},
	LeadStatusEnriched:   {LeadStatusSynced, LeadStatusAIRejected, LeadStatusMCPBlocked, LeadStatusPermanentlyFailed},
	LeadStatusMCPBlocked: {LeadStatusEnriched, LeadStatusSynced, LeadStatusPermanentlyFailed},
}

// CanTransition reports whether a lead may move from one status to another.
// Idempotent writes of the same status are allowed.
func CanTransition(from, to LeadStatus) bool {
	if from == to {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Lead is the primary persistent record. Created on first ingest of an
// (email, campaign) pair, mutated only by the worker, never deleted.
type Lead struct {
	ID             int64          `json:"id"`
	IdempotencyKey string         `json:"idempotency_key"`
	Email          string         `json:"email"`
	CampaignID     string         `json:"campaign_id"`
	Name           string         `json:"name,omitempty"`
	EnrichmentData map[string]any `json:"enrichment_data,omitempty"`
	Status         LeadStatus     `json:"status"`

	// Analysis outputs, populated once by the worker.
	FitScore        *int            `json:"fit_score,omitempty"`
	Intent          Intent          `json:"intent,omitempty"`
	Reasoning       string          `json:"reasoning,omitempty"`
	Evidence        []Evidence      `json:"evidence,omitempty"`
	GroundingStatus GroundingStatus `json:"grounding_status,omitempty"`
	GroundingErrors []string        `json:"grounding_errors,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmailDomain returns the part of the lead's email after '@', or "" when the
// email has no domain part.
func (l *Lead) EmailDomain() string {
	_, domain, ok := strings.Cut(l.Email, "@")
	if !ok {
		return ""
	}
	return strings.ToLower(domain)
}

// IdempotencyKey derives the unique ingest key for an (email, campaign) pair.
// Normalisation is part of the contract: the same pair always hashes the same
// regardless of case or surrounding whitespace.
func IdempotencyKey(email, campaignID string) string {
	norm := strings.ToLower(strings.TrimSpace(email)) + ":" + strings.ToLower(strings.TrimSpace(campaignID))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}
