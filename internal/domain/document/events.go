package document

import (
	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/domain/shared"
)

// Event types raised by the posting pipeline
const (
	EventTypeDocumentLinked        = "DocumentLinked"
	EventTypeDocumentNeedsReview   = "DocumentNeedsReview"
	EventTypeDocumentPostingFailed = "DocumentPostingFailed"
	EventTypeReconciliationMarker  = "ReconciliationMarkerRaised"
)

// DocumentLinkedEvent is raised once a document is linked to its ledger entry
type DocumentLinkedEvent struct {
	shared.EventHeader
	DocumentID    uuid.UUID  `json:"document_id"`
	LedgerEntryID uuid.UUID  `json:"ledger_entry_id"`
	ProjectID     *uuid.UUID `json:"project_id,omitempty"`
	LinkVersion   int64      `json:"link_version"`
}

// NewDocumentLinkedEvent creates a DocumentLinkedEvent
func NewDocumentLinkedEvent(link *CrossStoreLink) *DocumentLinkedEvent {
	return &DocumentLinkedEvent{
		EventHeader: shared.NewEventHeader(EventTypeDocumentLinked, link.DocumentID, link.CompanyID),
		DocumentID:      link.DocumentID,
		LedgerEntryID:   *link.LedgerEntryID,
		ProjectID:       link.ProjectID,
		LinkVersion:     link.Version,
	}
}

// DocumentNeedsReviewEvent is raised when automatic posting was blocked
type DocumentNeedsReviewEvent struct {
	shared.EventHeader
	DocumentID uuid.UUID `json:"document_id"`
	Reason     string    `json:"reason"`
	Confidence float64   `json:"confidence"`
}

// NewDocumentNeedsReviewEvent creates a DocumentNeedsReviewEvent
func NewDocumentNeedsReviewEvent(doc *Document, reason string, confidence float64) *DocumentNeedsReviewEvent {
	return &DocumentNeedsReviewEvent{
		EventHeader: shared.NewEventHeader(EventTypeDocumentNeedsReview, doc.ID, doc.CompanyID),
		DocumentID:      doc.ID,
		Reason:          reason,
		Confidence:      confidence,
	}
}

// ReconciliationMarkerEvent carries a marker to the reconciliation job
type ReconciliationMarkerEvent struct {
	shared.EventHeader
	Marker ReconciliationMarker `json:"marker"`
}

// NewReconciliationMarkerEvent wraps m in an event
func NewReconciliationMarkerEvent(m *ReconciliationMarker) *ReconciliationMarkerEvent {
	eventType := EventTypeReconciliationMarker
	if m.Reason == MarkerPostingFailed {
		eventType = EventTypeDocumentPostingFailed
	}
	return &ReconciliationMarkerEvent{
		EventHeader: shared.NewEventHeader(eventType, m.DocumentID, m.CompanyID),
		Marker:          *m,
	}
}
