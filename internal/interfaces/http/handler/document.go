package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	docapp "github.com/ledgerlink/backend/internal/application/document"
)

// DocumentService is the application surface the document endpoints use
type DocumentService interface {
	Ingest(ctx context.Context, req docapp.IngestRequest) (*docapp.DocumentResponse, error)
	Get(ctx context.Context, id uuid.UUID) (*docapp.DocumentResponse, error)
	List(ctx context.Context, companyID uuid.UUID, f docapp.ListFilter) (*docapp.ListResult, error)
	Process(ctx context.Context, id uuid.UUID) (*docapp.OutcomeResponse, error)
	Repair(ctx context.Context, id uuid.UUID) (*docapp.OutcomeResponse, error)
	Review(ctx context.Context, id uuid.UUID, req docapp.ReviewRequest) (*docapp.OutcomeResponse, error)
	LedgerEntry(ctx context.Context, id uuid.UUID) (*docapp.LedgerEntryResponse, error)
	ClearCorrupt(ctx context.Context, id uuid.UUID) (*docapp.DocumentResponse, error)
}

// DocumentHandler handles document-related API endpoints
type DocumentHandler struct {
	BaseHandler
	documentService DocumentService
}

// NewDocumentHandler creates a new DocumentHandler
func NewDocumentHandler(documentService DocumentService) *DocumentHandler {
	return &DocumentHandler{documentService: documentService}
}

// RegisterRoutes mounts the document endpoints
func (h *DocumentHandler) RegisterRoutes(rg *gin.RouterGroup) {
	docs := rg.Group("/documents")
	docs.POST("", h.Ingest)
	docs.GET("", h.List)
	docs.GET("/:id", h.Get)
	docs.POST("/:id/process", h.Process)
	docs.POST("/:id/repair", h.Repair)
	docs.POST("/:id/review", h.Review)
	docs.GET("/:id/ledger-entry", h.GetLedgerEntry)
	docs.POST("/:id/clear-corrupt", h.ClearCorrupt)
}

// Ingest godoc
//
//	@Summary	Register an uploaded document
//	@Tags		documents
//	@Accept		json
//	@Produce	json
//	@Param		request	body		docapp.IngestRequest	true	"Document registration"
//	@Success	201		{object}	APIResponse[docapp.DocumentResponse]
//	@Failure	400		{object}	ErrorResponse
//	@Failure	422		{object}	ErrorResponse
//	@Failure	503		{object}	ErrorResponse
//	@Router		/documents [post]
func (h *DocumentHandler) Ingest(c *gin.Context) {
	var req docapp.IngestRequest
	if !h.BindJSON(c, &req) {
		return
	}

	doc, err := h.documentService.Ingest(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, doc)
}

// List godoc
//
//	@Summary	List a company's documents with ledger context
//	@Tags		documents
//	@Produce	json
//	@Param		company_id	query		string	true	"Company ID"
//	@Param		project_id	query		string	false	"Project ID"
//	@Param		status		query		string	false	"Internal status"
//	@Param		page		query		int		false	"Page number"
//	@Param		page_size	query		int		false	"Page size"
//	@Success	200			{object}	APIResponse[[]docapp.DocumentListItem]
//	@Router		/documents [get]
func (h *DocumentHandler) List(c *gin.Context) {
	companyID, err := getCompanyID(c)
	if err != nil {
		if errors.Is(err, errMissingCompany) {
			h.BadRequest(c, err.Error())
			return
		}
		h.BadRequest(c, "Invalid company ID format")
		return
	}

	var filter docapp.ListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	if filter.ProjectID, err = getOptionalUUID(c, "project_id"); err != nil {
		h.BadRequest(c, "Invalid project ID format")
		return
	}

	result, err := h.documentService.List(c.Request.Context(), companyID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	page, pageSize := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = len(result.Items)
	}
	h.SuccessWithMeta(c, result.Items, result.Total, page, pageSize)
}

// Get godoc
//
//	@Summary	Get a document with its latest extraction
//	@Tags		documents
//	@Produce	json
//	@Param		id	path		string	true	"Document ID"
//	@Success	200	{object}	APIResponse[docapp.DocumentResponse]
//	@Failure	404	{object}	ErrorResponse
//	@Failure	409	{object}	ErrorResponse	"Quarantined by a checksum mismatch"
//	@Router		/documents/{id} [get]
func (h *DocumentHandler) Get(c *gin.Context) {
	id, ok := h.parseIDParam(c)
	if !ok {
		return
	}

	doc, err := h.documentService.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, doc)
}

// Process godoc
//
//	@Summary	Run extraction and posting for a document
//	@Tags		documents
//	@Produce	json
//	@Param		id	path		string	true	"Document ID"
//	@Success	200	{object}	APIResponse[docapp.OutcomeResponse]
//	@Router		/documents/{id}/process [post]
func (h *DocumentHandler) Process(c *gin.Context) {
	id, ok := h.parseIDParam(c)
	if !ok {
		return
	}

	outcome, err := h.documentService.Process(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, outcome)
}

// Repair re-drives the document-side writes of a posting that failed halfway
func (h *DocumentHandler) Repair(c *gin.Context) {
	id, ok := h.parseIDParam(c)
	if !ok {
		return
	}

	outcome, err := h.documentService.Repair(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, outcome)
}

// Review godoc
//
//	@Summary	Approve or reject a document waiting for review
//	@Tags		documents
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string					true	"Document ID"
//	@Param		request	body		docapp.ReviewRequest	true	"Review decision"
//	@Success	200		{object}	APIResponse[docapp.OutcomeResponse]
//	@Failure	422		{object}	ErrorResponse
//	@Router		/documents/{id}/review [post]
func (h *DocumentHandler) Review(c *gin.Context) {
	id, ok := h.parseIDParam(c)
	if !ok {
		return
	}

	var req docapp.ReviewRequest
	if !h.BindJSON(c, &req) {
		return
	}

	outcome, err := h.documentService.Review(c.Request.Context(), id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, outcome)
}

// GetLedgerEntry godoc
//
//	@Summary	Resolve the ledger entry a document posted
//	@Tags		documents
//	@Produce	json
//	@Param		id	path		string	true	"Document ID"
//	@Success	200	{object}	APIResponse[docapp.LedgerEntryResponse]
//	@Failure	404	{object}	ErrorResponse
//	@Router		/documents/{id}/ledger-entry [get]
func (h *DocumentHandler) GetLedgerEntry(c *gin.Context) {
	id, ok := h.parseIDParam(c)
	if !ok {
		return
	}

	entry, err := h.documentService.LedgerEntry(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, entry)
}

// ClearCorrupt lifts the quarantine of a document whose content was restored
func (h *DocumentHandler) ClearCorrupt(c *gin.Context) {
	id, ok := h.parseIDParam(c)
	if !ok {
		return
	}

	doc, err := h.documentService.ClearCorrupt(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, doc)
}
