package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	docapp "github.com/ledgerlink/backend/internal/application/document"
	"github.com/ledgerlink/backend/internal/domain/document"
	"github.com/stretchr/testify/assert"
)

type orphanListerFunc func(ctx context.Context, companyID *uuid.UUID) ([]docapp.OrphanResponse, error)

func (f orphanListerFunc) Orphans(ctx context.Context, companyID *uuid.UUID) ([]docapp.OrphanResponse, error) {
	return f(ctx, companyID)
}

func TestReconciliationHandler_ListOrphans(t *testing.T) {
	gin.SetMode(gin.TestMode)
	companyID := uuid.New()

	var got *uuid.UUID
	lister := orphanListerFunc(func(_ context.Context, id *uuid.UUID) ([]docapp.OrphanResponse, error) {
		got = id
		return []docapp.OrphanResponse{{Kind: document.MarkerMissingLedgerEntry, DocumentID: uuid.New(), CompanyID: companyID}}, nil
	})
	r := gin.New()
	NewReconciliationHandler(lister).RegisterRoutes(r.Group("/api/v1"))

	w := doJSON(r, http.MethodGet, "/api/v1/reconciliation/orphans?company_id="+companyID.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, &companyID, got)
	assert.Contains(t, w.Body.String(), string(document.MarkerMissingLedgerEntry))

	w = doJSON(r, http.MethodGet, "/api/v1/reconciliation/orphans", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, got)

	w = doJSON(r, http.MethodGet, "/api/v1/reconciliation/orphans?company_id=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
