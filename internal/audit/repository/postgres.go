package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmerrifield20/auditnotary/internal/audit/model"
)

const auditColumns = `
	id, title, type_key, status, state, stats,
	content_locator, content_url, content_timestamp, integrity_hash,
	ledger_transaction_id, ledger_signature, notarized_at,
	created_at, updated_at`

// AuditRepository provides CRUD operations for audits against PostgreSQL.
type AuditRepository struct {
	db *pgxpool.Pool
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts a new draft audit.
func (r *AuditRepository) Create(ctx context.Context, a *model.Audit) error {
	state, stats, err := marshalBody(a)
	if err != nil {
		return err
	}

	a.ID = uuid.New()
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Status == "" {
		a.Status = model.StatusDraft
	}
	a.Tier = a.ComputeTier()

	query := `INSERT INTO audits (` + auditColumns + `) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10,
		$11, $12, $13,
		$14, $15
	)`
	_, err = r.db.Exec(ctx, query,
		a.ID, a.Title, a.TypeKey, a.Status, state, stats,
		a.ContentLocator, a.ContentURL, a.ContentTimestamp, a.IntegrityHash,
		a.LedgerTransactionID, a.LedgerSignature, a.NotarizedAt,
		a.CreatedAt, a.UpdatedAt,
	)
	return err
}

// GetByID retrieves an audit by its UUID.
func (r *AuditRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Audit, error) {
	query := `SELECT ` + auditColumns + ` FROM audits WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

// List returns audits newest first.
func (r *AuditRepository) List(ctx context.Context, limit, offset int) ([]*model.Audit, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + auditColumns + ` FROM audits
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	audits := []*model.Audit{}
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		audits = append(audits, a)
	}
	return audits, rows.Err()
}

// UpdateDraft saves title, type key, state and stats while the audit is a DRAFT.
func (r *AuditRepository) UpdateDraft(ctx context.Context, a *model.Audit) error {
	state, stats, err := marshalBody(a)
	if err != nil {
		return err
	}

	a.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE audits SET
			title      = $2,
			type_key   = $3,
			state      = $4,
			stats      = $5,
			updated_at = $6
		WHERE id = $1 AND status = 'DRAFT'`

	tag, err := r.db.Exec(ctx, query, a.ID, a.Title, a.TypeKey, state, stats, a.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrCompleted(ctx, a.ID)
	}
	return nil
}

// Complete writes the notarization fields and flips status to COMPLETED,
// only if the row is still a DRAFT.
func (r *AuditRepository) Complete(ctx context.Context, a *model.Audit) error {
	state, stats, err := marshalBody(a)
	if err != nil {
		return err
	}

	a.Status = model.StatusCompleted
	a.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE audits SET
			title                 = $2,
			type_key              = $3,
			state                 = $4,
			stats                 = $5,
			status                = 'COMPLETED',
			content_locator       = $6,
			content_url           = $7,
			content_timestamp     = $8,
			integrity_hash        = $9,
			ledger_transaction_id = $10,
			ledger_signature      = $11,
			notarized_at          = $12,
			updated_at            = $13
		WHERE id = $1 AND status = 'DRAFT'`

	tag, err := r.db.Exec(ctx, query,
		a.ID, a.Title, a.TypeKey, state, stats,
		a.ContentLocator, a.ContentURL, a.ContentTimestamp, a.IntegrityHash,
		a.LedgerTransactionID, a.LedgerSignature, a.NotarizedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.missOrCompleted(ctx, a.ID)
	}
	a.Tier = a.ComputeTier()
	return nil
}

// Delete permanently removes an audit.
func (r *AuditRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM audits WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// missOrCompleted explains why a conditional DRAFT update touched no rows.
func (r *AuditRepository) missOrCompleted(ctx context.Context, id uuid.UUID) error {
	var status model.Status
	err := r.db.QueryRow(ctx, `SELECT status FROM audits WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrAlreadyCompleted
}

// scanOne executes a query returning a single audit row.
func (r *AuditRepository) scanOne(ctx context.Context, query string, args ...any) (*model.Audit, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return r.scan(rows)
}

// scan reads a single audit in auditColumns order.
func (r *AuditRepository) scan(rows pgx.Rows) (*model.Audit, error) {
	var a model.Audit
	var stateRaw, statsRaw []byte

	err := rows.Scan(
		&a.ID, &a.Title, &a.TypeKey, &a.Status, &stateRaw, &statsRaw,
		&a.ContentLocator, &a.ContentURL, &a.ContentTimestamp, &a.IntegrityHash,
		&a.LedgerTransactionID, &a.LedgerSignature, &a.NotarizedAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if a.State, err = decodeState(stateRaw); err != nil {
		return nil, err
	}
	if len(statsRaw) > 0 {
		if err := json.Unmarshal(statsRaw, &a.Stats); err != nil {
			return nil, fmt.Errorf("unmarshal stats: %w", err)
		}
	}
	a.Tier = a.ComputeTier()
	return &a, nil
}

func marshalBody(a *model.Audit) (state, stats []byte, err error) {
	s := a.State
	if s == nil {
		s = model.State{}
	}
	if state, err = json.Marshal(s); err != nil {
		return nil, nil, fmt.Errorf("marshal state: %w", err)
	}
	if stats, err = json.Marshal(a.Stats); err != nil {
		return nil, nil, fmt.Errorf("marshal stats: %w", err)
	}
	return state, stats, nil
}
