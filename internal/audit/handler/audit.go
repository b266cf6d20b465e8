package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/auditnotary/internal/audit/model"
	"github.com/jmerrifield20/auditnotary/internal/audit/repository"
	"github.com/jmerrifield20/auditnotary/internal/audit/service"
	"github.com/jmerrifield20/auditnotary/internal/notary"
)

// AuditHandler handles HTTP requests for audits.
type AuditHandler struct {
	svc    *service.AuditService
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(svc *service.AuditService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{svc: svc, logger: logger}
}

// Register registers all audit routes on the given router group.
func (h *AuditHandler) Register(rg *gin.RouterGroup) {
	audits := rg.Group("/audits")
	{
		audits.POST("", h.CreateDraft)
		audits.GET("", h.ListAudits)
		audits.GET("/:id", h.GetAudit)
		audits.PATCH("/:id", h.UpdateDraft)
		audits.DELETE("/:id", h.DeleteAudit)
		audits.POST("/:id/complete", h.CompleteAudit)
		audits.GET("/:id/verification", h.VerifyAudit)
	}
}

// CreateDraft handles POST /audits and opens a new draft.
func (h *AuditHandler) CreateDraft(c *gin.Context) {
	var req model.CreateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	audit, err := h.svc.CreateDraft(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, "create audit", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"audit": audit})
}

// ListAudits handles GET /audits, newest first.
func (h *AuditHandler) ListAudits(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	audits, err := h.svc.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.fail(c, "list audits", err)
		return
	}
	if audits == nil {
		audits = []*model.Audit{}
	}
	c.JSON(http.StatusOK, gin.H{"audits": audits, "count": len(audits)})
}

// GetAudit handles GET /audits/:id.
func (h *AuditHandler) GetAudit(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	audit, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get audit", err)
		return
	}
	audit.Tier = audit.ComputeTier()
	c.JSON(http.StatusOK, gin.H{"audit": audit})
}

// UpdateDraft handles PATCH /audits/:id and saves progress on a draft.
func (h *AuditHandler) UpdateDraft(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	patch, err := model.DecodePatch(c.Request.Body)
	if err != nil {
		h.fail(c, "decode patch", err)
		return
	}

	audit, err := h.svc.UpdateDraft(c.Request.Context(), id, patch)
	if err != nil {
		h.fail(c, "update audit", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit": audit})
}

// CompleteAudit handles POST /audits/:id/complete. It applies the optional
// final patch, notarizes and completes the audit. Degraded notarization is
// still a 200; the response reports the tier and each step's outcome.
func (h *AuditHandler) CompleteAudit(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	patch, err := model.DecodePatch(c.Request.Body)
	if err != nil {
		h.fail(c, "decode patch", err)
		return
	}

	res, err := h.svc.Complete(c.Request.Context(), id, patch)
	if err != nil {
		h.fail(c, "complete audit", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// VerifyAudit handles GET /audits/:id/verification by recomputing the
// integrity hash from the stored audit.
func (h *AuditHandler) VerifyAudit(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	v, err := h.svc.Verify(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "verify audit", err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// DeleteAudit handles DELETE /audits/:id.
func (h *AuditHandler) DeleteAudit(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, "delete audit", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// fail maps service errors to HTTP responses.
func (h *AuditHandler) fail(c *gin.Context, op string, err error) {
	var verr *model.ErrValidation
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Msg})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "audit not found"})
	case errors.Is(err, repository.ErrAlreadyCompleted):
		c.JSON(http.StatusConflict, gin.H{"error": "audit already completed"})
	case errors.Is(err, notary.ErrNotCompleted):
		c.JSON(http.StatusConflict, gin.H{"error": "audit is not completed"})
	default:
		h.logger.Error(op, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + op})
	}
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid audit ID"})
		return uuid.Nil, false
	}
	return id, true
}
