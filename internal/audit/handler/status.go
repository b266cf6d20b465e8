package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jmerrifield20/auditnotary/internal/health"
)

// AnchorInfo describes the ledger anchoring client. *anchor.Client satisfies it.
type AnchorInfo interface {
	Available() bool
	Identity() string
}

// BackendNamer names the archive backend. Every archive.Uploader satisfies it.
type BackendNamer interface {
	Backend() string
}

// StatusHandler reports which notarization capabilities are configured.
type StatusHandler struct {
	anchor  AnchorInfo
	archive BackendNamer
	appID   string
	health  *health.HealthChecker // nil = no dependency statuses
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(anchor AnchorInfo, archive BackendNamer, appID string) *StatusHandler {
	return &StatusHandler{anchor: anchor, archive: archive, appID: appID}
}

// SetHealthChecker adds dependency probe results to the status response.
func (h *StatusHandler) SetHealthChecker(hc *health.HealthChecker) {
	h.health = hc
}

// Register mounts GET /notary/status.
func (h *StatusHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/notary/status", h.Status)
}

// Status handles GET /notary/status.
func (h *StatusHandler) Status(c *gin.Context) {
	resp := gin.H{
		"anchoring": gin.H{
			"available": h.anchor.Available(),
			"signer":    h.anchor.Identity(),
		},
		"archive": gin.H{
			"backend": h.archive.Backend(),
			"enabled": h.archive.Backend() != "none",
		},
		"app_id": h.appID,
	}
	if h.health != nil {
		resp["dependencies"] = h.health.Statuses()
	}
	c.JSON(http.StatusOK, resp)
}
