package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	docapp "github.com/ledgerlink/backend/internal/application/document"
)

// OrphanLister reports cross-store links that no longer resolve
type OrphanLister interface {
	Orphans(ctx context.Context, companyID *uuid.UUID) ([]docapp.OrphanResponse, error)
}

// ReconciliationHandler exposes the orphan audit
type ReconciliationHandler struct {
	BaseHandler
	orphans OrphanLister
}

// NewReconciliationHandler creates a new ReconciliationHandler
func NewReconciliationHandler(orphans OrphanLister) *ReconciliationHandler {
	return &ReconciliationHandler{orphans: orphans}
}

// RegisterRoutes mounts the reconciliation endpoints
func (h *ReconciliationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/reconciliation/orphans", h.ListOrphans)
}

// ListOrphans godoc
//
//	@Summary		Audit document links for orphans
//	@Description	Read-only. Markers are raised by the scheduled audit, not by this call.
//	@Tags			reconciliation
//	@Produce		json
//	@Param			company_id	query		string	false	"Restrict to one company"
//	@Success		200			{object}	APIResponse[[]docapp.OrphanResponse]
//	@Router			/reconciliation/orphans [get]
func (h *ReconciliationHandler) ListOrphans(c *gin.Context) {
	companyID, err := getOptionalUUID(c, "company_id")
	if err != nil {
		h.BadRequest(c, "Invalid company ID format")
		return
	}

	findings, err := h.orphans.Orphans(c.Request.Context(), companyID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, findings)
}
