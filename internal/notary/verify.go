package notary

import (
	"errors"

	"github.com/google/uuid"

	"github.com/jmerrifield20/auditnotary/internal/audit/model"
)

// ErrNotCompleted is returned when verifying an audit that is still a draft.
var ErrNotCompleted = errors.New("audit is not completed")

// Verification compares the stored integrity hash with one recomputed from
// the stored audit.
type Verification struct {
	AuditID             uuid.UUID  `json:"audit_id"`
	Tier                model.Tier `json:"tier"`
	StoredHash          *string    `json:"stored_hash"`
	ComputedHash        string     `json:"computed_hash,omitempty"`
	Matches             bool       `json:"matches"`
	ContentLocator      *string    `json:"content_locator"`
	ContentURL          *string    `json:"content_url"`
	LedgerTransactionID *string    `json:"ledger_transaction_id"`
	// ExpectedMemo is the memo text the ledger transaction should carry.
	ExpectedMemo string `json:"expected_memo,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// RecordFromAudit rebuilds the CompositeRecord a completed audit was hashed
// over. ok is false when the audit carries no content timestamp.
func RecordFromAudit(a *model.Audit) (rec CompositeRecord, ok bool) {
	if a.ContentTimestamp == nil {
		return CompositeRecord{}, false
	}
	return CompositeRecord{
		Title:          a.Title,
		TypeKey:        a.TypeKey,
		Content:        ExtractVerifiableContent(a.State),
		Timestamp:      *a.ContentTimestamp,
		ContentLocator: a.ContentLocator,
	}, true
}

// Verify recomputes the integrity hash of a completed audit.
func Verify(a *model.Audit) (*Verification, error) {
	if a.Status != model.StatusCompleted {
		return nil, ErrNotCompleted
	}
	v := &Verification{
		AuditID:             a.ID,
		Tier:                a.ComputeTier(),
		StoredHash:          a.IntegrityHash,
		ContentLocator:      a.ContentLocator,
		ContentURL:          a.ContentURL,
		LedgerTransactionID: a.LedgerTransactionID,
	}
	if a.IntegrityHash == nil {
		v.Reason = "audit has no integrity hash"
		return v, nil
	}
	rec, ok := RecordFromAudit(a)
	if !ok {
		v.Reason = "audit has no content timestamp"
		return v, nil
	}
	h, err := rec.Hash()
	if err != nil {
		return nil, err
	}
	v.ComputedHash = h
	v.Matches = h == *a.IntegrityHash
	if !v.Matches {
		v.Reason = "stored content no longer matches the integrity hash"
	}
	url := ""
	if a.ContentURL != nil {
		url = *a.ContentURL
	}
	v.ExpectedMemo = BuildMemo(url, *a.IntegrityHash)
	return v, nil
}

// VerifyPayload is the third-party check: given the exact bytes fetched from
// the archive and the locator they were published under, it recomputes the
// hash and compares it with expected.
func VerifyPayload(published []byte, locator *string, expected string) (computed string, matches bool, err error) {
	p, err := DecodePayload(published)
	if err != nil {
		return "", false, err
	}
	computed, err = RecordFromPayload(p, locator).Hash()
	if err != nil {
		return "", false, err
	}
	return computed, computed == expected, nil
}
