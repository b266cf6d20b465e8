package model

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of an audit.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusCompleted Status = "COMPLETED"
)

// Tier is the evidentiary strength of a completed audit, derived from which
// notarization fields are present.
type Tier string

const (
	// TierFull: content published and the proof memo confirmed on the ledger.
	TierFull Tier = "full"
	// TierHashOnly: integrity hash computed, publication or anchoring missing.
	TierHashOnly Tier = "hash_only"
	// TierUnnotarized: no integrity hash.
	TierUnnotarized Tier = "unnotarized"
)

// State is the free-form inspection state: checklist, selections,
// observations. It is stored as JSON.
type State map[string]any

// Audit is a single sanitary inspection record.
type Audit struct {
	ID      uuid.UUID `json:"id"        db:"id"`
	Title   string    `json:"title"     db:"title"`
	TypeKey string    `json:"type_key"  db:"type_key"`
	Status  Status    `json:"status"    db:"status"`
	State   State     `json:"state"     db:"state"`
	Stats   Stats     `json:"stats"     db:"stats"`

	// ContentLocator is the archive's identifier for the published checklist;
	// ContentURL is where it can be fetched.
	ContentLocator *string `json:"content_locator" db:"content_locator"`
	ContentURL     *string `json:"content_url"     db:"content_url"`
	// ContentTimestamp is the exact timestamp string embedded in the published
	// payload and the hashed record. Kept so the hash can be recomputed.
	ContentTimestamp    *string    `json:"content_timestamp"     db:"content_timestamp"`
	IntegrityHash       *string    `json:"integrity_hash"        db:"integrity_hash"`
	LedgerTransactionID *string    `json:"ledger_transaction_id" db:"ledger_transaction_id"`
	LedgerSignature     *string    `json:"ledger_signature"      db:"ledger_signature"`
	NotarizedAt         *time.Time `json:"notarized_at"          db:"notarized_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	// Tier is computed at read time and never stored.
	Tier Tier `json:"tier" db:"-"`
}

// ComputeTier derives the evidentiary tier from the notarization fields.
func (a *Audit) ComputeTier() Tier {
	if a.IntegrityHash == nil || *a.IntegrityHash == "" {
		return TierUnnotarized
	}
	if a.ContentLocator != nil && a.LedgerTransactionID != nil {
		return TierFull
	}
	return TierHashOnly
}

// Stats are the computed checklist statistics shown on the audit summary.
type Stats struct {
	Total           int     `json:"total"`
	Completed       int     `json:"completed"`
	Passed          int     `json:"passed"`
	Partial         int     `json:"partial"`
	Failed          int     `json:"failed"`
	CriticalFailed  int     `json:"critical_failed"`
	Progress        float64 `json:"progress"`
	TotalCritical   int     `json:"total_critical"`
	TotalCheckboxes int     `json:"total_checkboxes"`
	ScorePercentage float64 `json:"score_percentage"`
	Concept         string  `json:"concept"`
	ConceptColor    string  `json:"concept_color"`
}

// CreateDraftRequest is the payload for opening a new draft audit.
type CreateDraftRequest struct {
	Title   string `json:"title"    binding:"required"`
	TypeKey string `json:"type_key" binding:"required"`
	State   State  `json:"state"`
}
