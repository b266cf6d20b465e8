package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jmerrifield20/auditnotary/internal/audit/model"
)

var (
	// ErrNotFound is returned when an audit does not exist.
	ErrNotFound = errors.New("audit not found")
	// ErrAlreadyCompleted is returned when a write requires a DRAFT audit but
	// the stored audit is already COMPLETED.
	ErrAlreadyCompleted = errors.New("audit already completed")
)

// Repository persists audits. Both the Postgres and the in-memory
// implementations satisfy it.
type Repository interface {
	Create(ctx context.Context, a *model.Audit) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Audit, error)
	List(ctx context.Context, limit, offset int) ([]*model.Audit, error)
	// UpdateDraft saves title, state and stats of an audit still in DRAFT.
	UpdateDraft(ctx context.Context, a *model.Audit) error
	// Complete saves every field and moves the audit from DRAFT to COMPLETED
	// in one conditional write. If another writer completed it first,
	// ErrAlreadyCompleted is returned and nothing is written.
	Complete(ctx context.Context, a *model.Audit) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// decodeState unmarshals a stored JSON object keeping number literals intact
// so hashes recomputed from stored state match the ones computed at
// completion time.
func decodeState(raw []byte) (model.State, error) {
	if len(raw) == 0 {
		return model.State{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var s model.State
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	if s == nil {
		s = model.State{}
	}
	return s, nil
}
