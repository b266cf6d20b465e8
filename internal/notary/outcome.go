package notary

import (
	"github.com/shopspring/decimal"

	"github.com/jmerrifield20/auditnotary/internal/anchor"
	"github.com/jmerrifield20/auditnotary/internal/archive"
	"github.com/jmerrifield20/auditnotary/internal/audit/model"
)

// StepStatus is the result of one best-effort pipeline step.
type StepStatus string

const (
	StepOK       StepStatus = "ok"
	StepDegraded StepStatus = "degraded"
	// StepSkipped means a prerequisite step produced nothing to work on.
	StepSkipped StepStatus = "skipped"
)

// UploadOutcome reports whether the checklist was published.
type UploadOutcome struct {
	Status  StepStatus       `json:"status"`
	Receipt *archive.Receipt `json:"receipt,omitempty"`
	Reason  string           `json:"reason,omitempty"`
	Err     error            `json:"-"`
}

// AnchorOutcome reports whether the proof memo reached the ledger.
type AnchorOutcome struct {
	Status StepStatus     `json:"status"`
	Anchor *anchor.Anchor `json:"anchor,omitempty"`
	Reason string         `json:"reason,omitempty"`
	Err    error          `json:"-"`
}

// CostReport sums what a completion paid to external services. Telemetry
// only; never persisted.
type CostReport struct {
	StorageCost decimal.Decimal `json:"storage_cost"`
	NetworkFee  decimal.Decimal `json:"network_fee"`
}

// Total is StorageCost + NetworkFee.
func (c CostReport) Total() decimal.Decimal {
	return c.StorageCost.Add(c.NetworkFee)
}

// Result is returned by Orchestrator.Complete.
type Result struct {
	Audit  *model.Audit  `json:"audit"`
	Tier   model.Tier    `json:"tier"`
	Upload UploadOutcome `json:"upload"`
	Anchor AnchorOutcome `json:"anchor"`
	Cost   CostReport    `json:"cost"`
	// Memo is the proof text submitted to the ledger, empty when no hash
	// could be computed.
	Memo string `json:"memo,omitempty"`
}
