package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/auditnotary/internal/audit/model"
	"github.com/jmerrifield20/auditnotary/internal/audit/repository"
	"github.com/jmerrifield20/auditnotary/internal/notary"
)

// Completer runs the notarized DRAFT to COMPLETED transition.
// *notary.Orchestrator satisfies this interface.
type Completer interface {
	Complete(ctx context.Context, id uuid.UUID, patch *model.AuditPatch) (*notary.Result, error)
}

// AuditService contains the business logic for the audit lifecycle.
type AuditService struct {
	repo      repository.Repository
	completer Completer
	logger    *zap.Logger
}

// NewAuditService creates a new AuditService.
func NewAuditService(repo repository.Repository, completer Completer, logger *zap.Logger) *AuditService {
	return &AuditService{repo: repo, completer: completer, logger: logger}
}

// CreateDraft opens a new DRAFT audit.
func (s *AuditService) CreateDraft(ctx context.Context, req *model.CreateDraftRequest) (*model.Audit, error) {
	title := strings.TrimSpace(req.Title)
	typeKey := strings.TrimSpace(req.TypeKey)
	if title == "" {
		return nil, &model.ErrValidation{Msg: "title must not be blank"}
	}
	if typeKey == "" {
		return nil, &model.ErrValidation{Msg: "type_key must not be blank"}
	}
	state := req.State
	if state == nil {
		state = model.State{}
	}

	a := &model.Audit{
		Title:   title,
		TypeKey: typeKey,
		Status:  model.StatusDraft,
		State:   state,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create audit: %w", err)
	}
	s.logger.Info("draft audit created",
		zap.String("audit_id", a.ID.String()),
		zap.String("type_key", a.TypeKey),
	)
	return a, nil
}

// Get retrieves an audit by ID.
func (s *AuditService) Get(ctx context.Context, id uuid.UUID) (*model.Audit, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns audits newest first.
func (s *AuditService) List(ctx context.Context, limit, offset int) ([]*model.Audit, error) {
	return s.repo.List(ctx, limit, offset)
}

// UpdateDraft applies patch to a DRAFT audit. Completed audits are immutable
// and return repository.ErrAlreadyCompleted.
func (s *AuditService) UpdateDraft(ctx context.Context, id uuid.UUID, patch *model.AuditPatch) (*model.Audit, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == model.StatusCompleted {
		return nil, repository.ErrAlreadyCompleted
	}
	patch.Apply(a)
	if err := s.repo.UpdateDraft(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Complete notarizes and completes a DRAFT audit.
func (s *AuditService) Complete(ctx context.Context, id uuid.UUID, patch *model.AuditPatch) (*notary.Result, error) {
	return s.completer.Complete(ctx, id, patch)
}

// Verify recomputes the integrity hash of a completed audit from its stored
// fields.
func (s *AuditService) Verify(ctx context.Context, id uuid.UUID) (*notary.Verification, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return notary.Verify(a)
}

// Delete permanently removes an audit.
func (s *AuditService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("audit deleted", zap.String("audit_id", id.String()))
	return nil
}
