// Package journal keeps a local, append-only hash chain of notarization
// outcomes. It lets an operator prove which completions the service recorded
// and in what order, independently of the public ledger.
//
// The chain starts with a genesis entry whose Hash is GenesisHash (64 hex
// zeros). Each later entry commits to its predecessor's hash, so Verify
// detects any edited, removed or reordered entry.
package journal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jmerrifield20/auditnotary/internal/canonical"
)

// GenesisHash is the fixed hash of entry 0.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Event names.
const (
	EventGenesis   = "genesis"
	EventCompleted = "completed"
)

// ErrEntryNotFound is returned by Get for an index past the chain tip.
var ErrEntryNotFound = errors.New("journal entry not found")

// Record is what the notary reports for one completion.
type Record struct {
	AuditID             string  `json:"audit_id"`
	Tier                string  `json:"tier"`
	IntegrityHash       *string `json:"integrity_hash"`
	ContentLocator      *string `json:"content_locator"`
	LedgerTransactionID *string `json:"ledger_transaction_id"`
}

// Entry is one link of the chain.
type Entry struct {
	Index               int       `json:"index"`
	Timestamp           time.Time `json:"timestamp"`
	AuditID             string    `json:"audit_id"`
	Event               string    `json:"event"`
	Tier                string    `json:"tier"`
	IntegrityHash       string    `json:"integrity_hash"`
	ContentLocator      string    `json:"content_locator"`
	LedgerTransactionID string    `json:"ledger_transaction_id"`
	// DataHash is the canonical hash of the Record the entry was built from.
	DataHash string `json:"data_hash"`
	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

// Journal is implemented by MemoryJournal and PostgresJournal.
type Journal interface {
	// Append chains a new completion entry after the current tip.
	Append(ctx context.Context, rec Record) (*Entry, error)
	// Get returns the entry at a zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)
	// Len counts entries including genesis.
	Len(ctx context.Context) (int, error)
	// Verify walks the chain and returns nil if it is intact.
	Verify(ctx context.Context) error
	// Root returns the tip hash.
	Root(ctx context.Context) (string, error)
}

// newEntry builds and seals the completion entry that follows prevHash.
func newEntry(index int, ts time.Time, rec Record, prevHash string) (*Entry, error) {
	dataHash, err := canonical.Hash(rec)
	if err != nil {
		return nil, fmt.Errorf("hash record: %w", err)
	}
	e := &Entry{
		Index:               index,
		Timestamp:           ts,
		AuditID:             rec.AuditID,
		Event:               EventCompleted,
		Tier:                rec.Tier,
		IntegrityHash:       deref(rec.IntegrityHash),
		ContentLocator:      deref(rec.ContentLocator),
		LedgerTransactionID: deref(rec.LedgerTransactionID),
		DataHash:            dataHash,
		PrevHash:            prevHash,
	}
	e.Hash = hashEntry(e)
	return e, nil
}

// record rebuilds the Record an entry was built from. Empty strings map back
// to nil; none of the three fields is ever an empty string when present.
func (e *Entry) record() Record {
	return Record{
		AuditID:             e.AuditID,
		Tier:                e.Tier,
		IntegrityHash:       orNil(e.IntegrityHash),
		ContentLocator:      orNil(e.ContentLocator),
		LedgerTransactionID: orNil(e.LedgerTransactionID),
	}
}

// hashEntry must never be called on the genesis entry.
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s|%s|%s|%s",
		e.Index, e.Timestamp.Format(time.RFC3339Nano),
		e.AuditID, e.Event, e.Tier, e.IntegrityHash,
		e.ContentLocator, e.LedgerTransactionID, e.DataHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

func genesisEntry(ts time.Time) *Entry {
	return &Entry{
		Index:     0,
		Timestamp: ts,
		Event:     EventGenesis,
		DataHash:  GenesisHash,
		PrevHash:  GenesisHash,
		Hash:      GenesisHash,
	}
}

// verifyLink checks curr against its predecessor; prev is nil for genesis.
func verifyLink(prev, curr *Entry) error {
	if prev == nil {
		if curr.Hash != GenesisHash {
			return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
		}
		return nil
	}
	if curr.Index != prev.Index+1 {
		return fmt.Errorf("index gap between %d and %d", prev.Index, curr.Index)
	}
	if curr.PrevHash != prev.Hash {
		return fmt.Errorf("hash chain broken at index %d", curr.Index)
	}
	if dh, err := canonical.Hash(curr.record()); err != nil || dh != curr.DataHash {
		return fmt.Errorf("entry %d has invalid data hash", curr.Index)
	}
	if curr.Hash != hashEntry(curr) {
		return fmt.Errorf("entry %d has invalid hash", curr.Index)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
