package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmerrifield20/auditnotary/internal/audit/model"
)

// MemoryRepository is an in-process Repository used when no database is
// configured and in tests. Stored values are copied in and out through the
// same JSON encoding Postgres uses, so callers never share state.
type MemoryRepository struct {
	mu     sync.RWMutex
	audits map[uuid.UUID]*model.Audit
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{audits: make(map[uuid.UUID]*model.Audit)}
}

func (r *MemoryRepository) Create(_ context.Context, a *model.Audit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a.ID = uuid.New()
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Status == "" {
		a.Status = model.StatusDraft
	}
	a.Tier = a.ComputeTier()

	cp, err := clone(a)
	if err != nil {
		return err
	}
	r.audits[a.ID] = cp
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*model.Audit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.audits[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(a)
}

func (r *MemoryRepository) List(_ context.Context, limit, offset int) ([]*model.Audit, error) {
	if limit <= 0 {
		limit = 50
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*model.Audit, 0, len(r.audits))
	for _, a := range r.audits {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	out := []*model.Audit{}
	for i := offset; i < len(all) && len(out) < limit; i++ {
		cp, err := clone(all[i])
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (r *MemoryRepository) UpdateDraft(_ context.Context, a *model.Audit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.audits[a.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != model.StatusDraft {
		return ErrAlreadyCompleted
	}

	a.UpdatedAt = time.Now().UTC()
	next := *cur
	next.Title = a.Title
	next.TypeKey = a.TypeKey
	next.State = a.State
	next.Stats = a.Stats
	next.UpdatedAt = a.UpdatedAt
	cp, err := clone(&next)
	if err != nil {
		return err
	}
	r.audits[a.ID] = cp
	return nil
}

func (r *MemoryRepository) Complete(_ context.Context, a *model.Audit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.audits[a.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != model.StatusDraft {
		return ErrAlreadyCompleted
	}

	a.Status = model.StatusCompleted
	a.UpdatedAt = time.Now().UTC()
	a.CreatedAt = cur.CreatedAt
	a.Tier = a.ComputeTier()
	cp, err := clone(a)
	if err != nil {
		return err
	}
	r.audits[a.ID] = cp
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.audits[id]; !ok {
		return ErrNotFound
	}
	delete(r.audits, id)
	return nil
}

func clone(a *model.Audit) (*model.Audit, error) {
	cp := *a
	raw, err := json.Marshal(a.State)
	if err != nil {
		return nil, err
	}
	if cp.State, err = decodeState(raw); err != nil {
		return nil, err
	}
	cp.ContentLocator = copyStr(a.ContentLocator)
	cp.ContentURL = copyStr(a.ContentURL)
	cp.ContentTimestamp = copyStr(a.ContentTimestamp)
	cp.IntegrityHash = copyStr(a.IntegrityHash)
	cp.LedgerTransactionID = copyStr(a.LedgerTransactionID)
	cp.LedgerSignature = copyStr(a.LedgerSignature)
	if a.NotarizedAt != nil {
		t := *a.NotarizedAt
		cp.NotarizedAt = &t
	}
	return &cp, nil
}

func copyStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
