package document

import (
	"context"

	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/domain/shared"
)

// Extractor is the external extraction service (OCR / LLM). Calls may be slow
// and may fail; the implementation owns its timeout and retry policy.
type Extractor interface {
	Extract(ctx context.Context, documentID uuid.UUID, contentLocator string) (ExtractionResult, error)
}

// ErrExtractionFailed is the kind of every non-retryable extraction failure
var ErrExtractionFailed = shared.NewDomainError("EXTRACTION_FAILED", "Document extraction failed")
