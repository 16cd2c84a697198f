package handler

import "github.com/ledgerlink/backend/internal/interfaces/http/dto"

// APIResponse is dto.Response with a typed payload. Handlers write
// dto.Response; API docs and clients read it back as APIResponse[T].
type APIResponse[T any] struct {
	Success bool           `json:"success"`
	Data    T              `json:"data,omitempty"`
	Error   *dto.ErrorInfo `json:"error,omitempty"`
	Meta    *dto.Meta      `json:"meta,omitempty"`
}

// ErrorResponse is the shape of every failed request
type ErrorResponse = APIResponse[struct{}]
