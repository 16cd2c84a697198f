package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/interfaces/http/dto"
	"github.com/ledgerlink/backend/internal/interfaces/http/middleware"
)

// CompanyIDHeader carries the company a request acts for when the query string does not
const CompanyIDHeader = middleware.CompanyIDHeader

// retryAfterSeconds is sent with 503 responses so clients back off
const retryAfterSeconds = 1

var errMissingCompany = errors.New("company_id is required")

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	return middleware.GetRequestID(c)
}

// getCompanyID reads the company from the company_id query parameter or the
// X-Company-ID header. There is no default company.
func getCompanyID(c *gin.Context) (uuid.UUID, error) {
	raw := c.Query("company_id")
	if raw == "" {
		raw = c.GetHeader(CompanyIDHeader)
	}
	if raw == "" {
		return uuid.Nil, errMissingCompany
	}
	return uuid.Parse(raw)
}

// getOptionalUUID parses an optional UUID query parameter
func getOptionalUUID(c *gin.Context, name string) (*uuid.UUID, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// parseIDParam binds the :id path parameter
func (h *BaseHandler) parseIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid document ID format")
		return uuid.Nil, false
	}
	return id, true
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// ServiceUnavailable sends a 503 response with a Retry-After hint
func (h *BaseHandler) ServiceUnavailable(c *gin.Context, code, message string) {
	c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	h.Error(c, http.StatusServiceUnavailable, code, message)
}

// BindJSON binds the request body, answering with field-level details on failure
func (h *BaseHandler) BindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		middleware.HandleValidationError(c, err)
		return false
	}
	return true
}

// HandleError converts application errors to HTTP responses. Store
// failures never leak their cause to the client; they are logged by the
// request logger through c.Error.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	code, message := dto.ClassifyError(err)
	status := dto.GetHTTPStatus(code)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	if status == http.StatusServiceUnavailable {
		h.ServiceUnavailable(c, code, message)
		return
	}
	h.Error(c, status, code, message)
}
