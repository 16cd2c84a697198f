package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/domain/document"
	"github.com/ledgerlink/backend/internal/domain/shared"
	"github.com/ledgerlink/backend/internal/infrastructure/persistence/models"
	"github.com/ledgerlink/backend/internal/infrastructure/pool"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	constraintDocumentPK   = "documents_pkey"
	constraintExtractionPK = "financial_extractions_pkey"
	constraintLinkPK       = "cross_store_links_pkey"
	constraintMarkerPK     = "reconciliation_markers_pkey"

	defaultLinkPageSize = 500
)

// DocumentStore implements document.Store over the document database. Content
// stays behind the locator; reads only touch metadata rows.
type DocumentStore struct {
	pool    *pool.Pool[*gorm.DB]
	retry   retrier
	content document.ContentStore
	logger  *zap.Logger

	onQuarantine func(ctx context.Context, doc *document.Document)
}

// NewDocumentStore creates a DocumentStore
func NewDocumentStore(p *pool.Pool[*gorm.DB], opts ...StoreOption) *DocumentStore {
	cfg := newStoreConfig(opts)
	logger := cfg.logger.With(zap.String("store", StoreDocument))
	return &DocumentStore{
		pool:    p,
		retry:   retrier{store: StoreDocument, policy: cfg.policy, logger: logger},
		content: cfg.content,
		logger:  logger,

		onQuarantine: cfg.onQuarantine,
	}
}

var _ document.Store = (*DocumentStore)(nil)

func (s *DocumentStore) exec(ctx context.Context, op string, target errorTarget, fn func(db *gorm.DB) error) error {
	return s.retry.run(ctx, op, func() error {
		return s.pool.Do(ctx, func(ctx context.Context, db *gorm.DB) error {
			return classify(fn(db.WithContext(ctx)), target)
		})
	})
}

// CreateDocument inserts a document record
func (s *DocumentStore) CreateDocument(ctx context.Context, doc *document.Document) error {
	m := models.DocumentModelFromDomain(doc)
	target := errorTarget{entity: "document", id: doc.ID.String(), unique: constraintDocumentPK}
	return s.exec(ctx, "create document", target, func(db *gorm.DB) error {
		return db.Create(m).Error
	})
}

// GetDocument loads a document. Corrupt records and checksum mismatches
// return a DataIntegrityError; a mismatch also flags the record corrupt.
func (s *DocumentStore) GetDocument(ctx context.Context, id uuid.UUID) (*document.Document, error) {
	var m models.DocumentModel
	err := s.exec(ctx, "get document", errorTarget{entity: "document"}, func(db *gorm.DB) error {
		return db.First(&m, "id = ?", id).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	doc := m.ToDomain()
	if doc.Corrupt {
		return nil, &shared.DataIntegrityError{DocumentID: id, Expected: doc.Checksum}
	}
	if s.content == nil {
		return doc, nil
	}
	if err := s.verify(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *DocumentStore) verify(ctx context.Context, doc *document.Document) error {
	stored, err := s.content.Checksum(ctx, doc.ContentLocator)
	if err != nil {
		return fmt.Errorf("verify content of document %s: %w", doc.ID, err)
	}
	if stored == "" {
		return nil
	}
	want, err := document.ParseChecksum(doc.Checksum)
	if err != nil {
		return err
	}
	got, err := document.ParseChecksum(stored)
	if err != nil || got.Algorithm != want.Algorithm {
		s.logger.Debug("Content checksum not comparable",
			zap.String("document_id", doc.ID.String()),
			zap.String("stored", stored))
		return nil
	}
	if got.Equal(want) {
		return nil
	}

	s.logger.Warn("Document checksum mismatch, quarantining",
		zap.String("document_id", doc.ID.String()),
		zap.String("expected", want.String()),
		zap.String("actual", got.String()))
	if err := s.MarkCorrupt(ctx, doc.ID); err != nil {
		s.logger.Error("Failed to flag document corrupt", zap.String("document_id", doc.ID.String()), zap.Error(err))
	} else if s.onQuarantine != nil {
		s.onQuarantine(ctx, doc)
	}
	return &shared.DataIntegrityError{DocumentID: doc.ID, Expected: want.String(), Actual: got.String()}
}

// UpdateDocumentStatus applies update when the stored status is one of the
// target's predecessors. The guard is part of the UPDATE so concurrent
// writers cannot both move the same document.
func (s *DocumentStore) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, update document.StatusUpdate) error {
	if !update.Status.IsValid() {
		return shared.NewDomainError("INVALID_STATUS", fmt.Sprintf("Unknown document status %q", update.Status))
	}
	from := document.Predecessors(update.Status)
	if len(from) == 0 {
		return fmt.Errorf("status %s cannot be entered: %w", update.Status, shared.ErrInvalidState)
	}

	values := map[string]any{
		"status":         update.Status,
		"failure_reason": update.FailureReason,
		"updated_at":     time.Now().UTC(),
	}
	if update.LedgerEntryID != nil {
		values["ledger_entry_id"] = *update.LedgerEntryID
	}

	return s.exec(ctx, "update document status", errorTarget{entity: "document", id: id.String()}, func(db *gorm.DB) error {
		result := db.Model(&models.DocumentModel{}).
			Where("id = ? AND status IN ?", id, from).
			Updates(values)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			return nil
		}
		var current models.DocumentModel
		if err := db.Select("id", "status").First(&current, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		return fmt.Errorf("document %s is %s, cannot move to %s: %w", id, current.Status, update.Status, shared.ErrInvalidState)
	})
}

// BatchGetDocumentMetadata loads metadata for ids in one query. Corrupt and
// missing documents are absent from the result.
func (s *DocumentStore) BatchGetDocumentMetadata(ctx context.Context, ids []uuid.UUID) ([]document.Metadata, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return []document.Metadata{}, nil
	}
	var rows []models.DocumentModel
	err := s.exec(ctx, "batch get document metadata", errorTarget{entity: "document"}, func(db *gorm.DB) error {
		return db.Select(models.DocumentMetadataColumns).
			Where("id IN ? AND corrupt = ?", ids, false).
			Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return toMetadata(rows), nil
}

// ListDocuments returns one page of a company's non-corrupt documents and the total count
func (s *DocumentStore) ListDocuments(ctx context.Context, companyID uuid.UUID, filter document.Filter) ([]document.Metadata, int64, error) {
	page := filter.Filter.Normalize()
	var (
		rows  []models.DocumentModel
		total int64
	)
	err := s.exec(ctx, "list documents", errorTarget{entity: "document"}, func(db *gorm.DB) error {
		query := db.Model(&models.DocumentModel{}).Where("company_id = ? AND corrupt = ?", companyID, false)
		if filter.ProjectID != nil {
			query = query.Where("project_id = ?", *filter.ProjectID)
		}
		if filter.Status != nil {
			query = query.Where("status = ?", *filter.Status)
		}
		if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
			return err
		}
		return query.Select(models.DocumentMetadataColumns).
			Order(documentSort.clause(page.OrderBy, page.OrderDir)).
			Offset(page.Offset()).
			Limit(page.PageSize).
			Find(&rows).Error
	})
	if err != nil {
		return nil, 0, err
	}
	return toMetadata(rows), total, nil
}

// MarkCorrupt quarantines a document
func (s *DocumentStore) MarkCorrupt(ctx context.Context, id uuid.UUID) error {
	return s.setCorrupt(ctx, "mark corrupt", id, true)
}

// ClearCorrupt is the manual clear of the quarantine flag
func (s *DocumentStore) ClearCorrupt(ctx context.Context, id uuid.UUID) error {
	return s.setCorrupt(ctx, "clear corrupt", id, false)
}

func (s *DocumentStore) setCorrupt(ctx context.Context, op string, id uuid.UUID, corrupt bool) error {
	return s.exec(ctx, op, errorTarget{entity: "document", id: id.String()}, func(db *gorm.DB) error {
		result := db.Model(&models.DocumentModel{}).
			Where("id = ?", id).
			Updates(map[string]any{"corrupt": corrupt, "updated_at": time.Now().UTC()})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

// CreateFinancialExtraction inserts an extraction record
func (s *DocumentStore) CreateFinancialExtraction(ctx context.Context, extraction *document.FinancialExtraction) error {
	m := models.FinancialExtractionModelFromDomain(extraction)
	target := errorTarget{entity: "financial_extraction", id: extraction.ID.String(), unique: constraintExtractionPK}
	return s.exec(ctx, "create extraction", target, func(db *gorm.DB) error {
		return db.Create(m).Error
	})
}

// GetLatestExtraction returns the newest extraction recorded for a document
func (s *DocumentStore) GetLatestExtraction(ctx context.Context, documentID uuid.UUID) (*document.FinancialExtraction, error) {
	var m models.FinancialExtractionModel
	err := s.exec(ctx, "get latest extraction", errorTarget{entity: "financial_extraction"}, func(db *gorm.DB) error {
		return db.Where("document_id = ?", documentID).
			Order("created_at DESC, id DESC").
			First(&m).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	return m.ToDomain(), nil
}

// UpdateExtractionLink moves an extraction to status and records its ledger entry
func (s *DocumentStore) UpdateExtractionLink(ctx context.Context, id uuid.UUID, status document.LinkStatus, ledgerEntryID *uuid.UUID) error {
	if !status.IsValid() {
		return shared.NewDomainError("INVALID_LINK_STATUS", "Link status is not valid")
	}
	values := map[string]any{"link_status": status, "updated_at": time.Now().UTC()}
	if ledgerEntryID != nil {
		values["ledger_entry_id"] = *ledgerEntryID
	}
	return s.exec(ctx, "update extraction link", errorTarget{entity: "financial_extraction", id: id.String()}, func(db *gorm.DB) error {
		result := db.Model(&models.FinancialExtractionModel{}).Where("id = ?", id).Updates(values)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

// GetLink loads the link of a document
func (s *DocumentStore) GetLink(ctx context.Context, documentID uuid.UUID) (*document.CrossStoreLink, error) {
	var m models.CrossStoreLinkModel
	err := s.exec(ctx, "get link", errorTarget{entity: "cross_store_link"}, func(db *gorm.DB) error {
		return db.First(&m, "document_id = ?", documentID).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	return m.ToDomain(), nil
}

// ClaimLink inserts the first version of a document's link. Losing the race
// to another claim returns ErrLinkVersionConflict.
func (s *DocumentStore) ClaimLink(ctx context.Context, link *document.CrossStoreLink) error {
	if link.Version != 1 {
		return shared.NewDomainError("INVALID_LINK_VERSION", "A claim must start at version 1")
	}
	m := models.CrossStoreLinkModelFromDomain(link)
	target := errorTarget{entity: "cross_store_link", id: link.DocumentID.String(), unique: constraintLinkPK}
	err := s.exec(ctx, "claim link", target, func(db *gorm.DB) error {
		return db.Create(m).Error
	})
	var conflict *shared.ConflictError
	if errors.As(err, &conflict) {
		return document.ErrLinkVersionConflict
	}
	return err
}

// SwapLink replaces the stored link when its version still equals
// expectedVersion. The new version must be expectedVersion+1.
func (s *DocumentStore) SwapLink(ctx context.Context, link *document.CrossStoreLink, expectedVersion int64) error {
	if link.Version != expectedVersion+1 {
		return shared.NewDomainError("INVALID_LINK_VERSION",
			fmt.Sprintf("Link version must advance by one (expected %d, got %d)", expectedVersion+1, link.Version))
	}
	values := map[string]any{
		"state":           link.State,
		"project_id":      link.ProjectID,
		"ledger_entry_id": link.LedgerEntryID,
		"extraction_id":   link.ExtractionID,
		"version":         link.Version,
		"attempt_id":      link.AttemptID,
		"claimed_at":      link.ClaimedAt,
		"updated_at":      link.UpdatedAt,
	}
	return s.exec(ctx, "swap link", errorTarget{entity: "cross_store_link", id: link.DocumentID.String()}, func(db *gorm.DB) error {
		result := db.Model(&models.CrossStoreLinkModel{}).
			Where("document_id = ? AND version = ?", link.DocumentID, expectedVersion).
			Updates(values)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return document.ErrLinkVersionConflict
		}
		return nil
	})
}

// ListLinks returns links ordered by document ID after filter.AfterDocument
func (s *DocumentStore) ListLinks(ctx context.Context, filter document.LinkFilter) ([]document.CrossStoreLink, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLinkPageSize
	}
	var rows []models.CrossStoreLinkModel
	err := s.exec(ctx, "list links", errorTarget{entity: "cross_store_link"}, func(db *gorm.DB) error {
		query := db.Model(&models.CrossStoreLinkModel{})
		if filter.CompanyID != nil {
			query = query.Where("company_id = ?", *filter.CompanyID)
		}
		if len(filter.States) > 0 {
			query = query.Where("state IN ?", filter.States)
		}
		if filter.AfterDocument != uuid.Nil {
			query = query.Where("document_id > ?", filter.AfterDocument)
		}
		if filter.ClaimedBefore != nil {
			query = query.Where("claimed_at < ?", *filter.ClaimedBefore)
		}
		return query.Order("document_id ASC").Limit(limit).Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return toLinks(rows), nil
}

// BatchGetLinksByLedgerEntries loads links pointing at the given entries in one query
func (s *DocumentStore) BatchGetLinksByLedgerEntries(ctx context.Context, ledgerEntryIDs []uuid.UUID) ([]document.CrossStoreLink, error) {
	ledgerEntryIDs = uniqueIDs(ledgerEntryIDs)
	if len(ledgerEntryIDs) == 0 {
		return []document.CrossStoreLink{}, nil
	}
	var rows []models.CrossStoreLinkModel
	err := s.exec(ctx, "batch get links", errorTarget{entity: "cross_store_link"}, func(db *gorm.DB) error {
		return db.Where("ledger_entry_id IN ?", ledgerEntryIDs).Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return toLinks(rows), nil
}

// CreateMarker inserts a reconciliation marker
func (s *DocumentStore) CreateMarker(ctx context.Context, marker *document.ReconciliationMarker) error {
	m := models.ReconciliationMarkerModelFromDomain(marker)
	target := errorTarget{entity: "reconciliation_marker", id: marker.ID.String(), unique: constraintMarkerPK}
	return s.exec(ctx, "create marker", target, func(db *gorm.DB) error {
		return db.Create(m).Error
	})
}

// ListOpenMarkers returns unresolved markers, oldest first
func (s *DocumentStore) ListOpenMarkers(ctx context.Context, companyID *uuid.UUID, limit int) ([]document.ReconciliationMarker, error) {
	if limit <= 0 {
		limit = defaultLinkPageSize
	}
	var rows []models.ReconciliationMarkerModel
	err := s.exec(ctx, "list open markers", errorTarget{entity: "reconciliation_marker"}, func(db *gorm.DB) error {
		query := db.Where("resolved_at IS NULL")
		if companyID != nil {
			query = query.Where("company_id = ?", *companyID)
		}
		return query.Order("created_at ASC, id ASC").Limit(limit).Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	markers := make([]document.ReconciliationMarker, 0, len(rows))
	for i := range rows {
		markers = append(markers, *rows[i].ToDomain())
	}
	return markers, nil
}

// ResolveMarkers closes the open markers of a document. An empty reason
// resolves every open marker of the document.
func (s *DocumentStore) ResolveMarkers(ctx context.Context, documentID uuid.UUID, reason document.MarkerReason) error {
	return s.exec(ctx, "resolve markers", errorTarget{entity: "reconciliation_marker"}, func(db *gorm.DB) error {
		query := db.Model(&models.ReconciliationMarkerModel{}).
			Where("document_id = ? AND resolved_at IS NULL", documentID)
		if reason != "" {
			query = query.Where("reason = ?", reason)
		}
		return query.Update("resolved_at", time.Now().UTC()).Error
	})
}

func toMetadata(rows []models.DocumentModel) []document.Metadata {
	out := make([]document.Metadata, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToMetadata())
	}
	return out
}

func toLinks(rows []models.CrossStoreLinkModel) []document.CrossStoreLink {
	out := make([]document.CrossStoreLink, 0, len(rows))
	for i := range rows {
		out = append(out, *rows[i].ToDomain())
	}
	return out
}
