// Package document is the application service behind document ingestion,
// listing and review.
package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/application/metadata"
	"github.com/ledgerlink/backend/internal/application/posting"
	"github.com/ledgerlink/backend/internal/application/reconciliation"
	"github.com/ledgerlink/backend/internal/domain/document"
	"github.com/ledgerlink/backend/internal/domain/ledger"
	"github.com/ledgerlink/backend/internal/domain/shared"
	"github.com/ledgerlink/backend/internal/infrastructure/cache"
	"go.uber.org/zap"
)

// ResultRejected is the review result of a rejected extraction
const ResultRejected = "rejected"

const listNamespace = "documents"

// Service handles document operations across both stores
type Service struct {
	ledger   ledger.Store
	docs     document.Store
	content  document.ContentStore
	loader   *metadata.Loader
	pipeline *posting.Pipeline
	resolver *reconciliation.Resolver
	cache    *cache.Cache
	logger   *zap.Logger
}

// Option configures a Service
type Option func(*Service)

// WithContentStore checks that content exists before a document is registered
func WithContentStore(cs document.ContentStore) Option {
	return func(s *Service) {
		s.content = cs
	}
}

// WithCache caches document lists
func WithCache(c *cache.Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a new Service
func NewService(
	ledgerStore ledger.Store,
	docStore document.Store,
	pipeline *posting.Pipeline,
	resolver *reconciliation.Resolver,
	opts ...Option,
) *Service {
	s := &Service{
		ledger:   ledgerStore,
		docs:     docStore,
		loader:   metadata.NewLoader(docStore, ledgerStore),
		pipeline: pipeline,
		resolver: resolver,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest registers a stored document for a company and optional project. The
// structured-side ref is written first: a ref without its document is never
// listed, while a document without its ref could not be posted.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*DocumentResponse, error) {
	if _, err := s.ledger.GetCompany(ctx, req.CompanyID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.NewReferenceError("document", req.CompanyID.String(), "documents_company_fk", err)
		}
		return nil, err
	}
	if req.ProjectID != nil {
		if err := s.checkProject(ctx, req.CompanyID, *req.ProjectID); err != nil {
			return nil, err
		}
	}

	doc, err := document.NewDocument(req.CompanyID, req.ProjectID, req.ContentLocator, req.Checksum, req.MimeType)
	if err != nil {
		return nil, err
	}

	if s.content != nil {
		exists, err := s.content.Exists(ctx, doc.ContentLocator)
		if err != nil {
			return nil, fmt.Errorf("check content %s: %w", doc.ContentLocator, err)
		}
		if !exists {
			return nil, shared.NewDomainError("CONTENT_NOT_FOUND",
				fmt.Sprintf("No content stored at %s", doc.ContentLocator))
		}
	}

	if err := s.ledger.CreateDocumentRef(ctx, &ledger.DocumentRef{
		DocumentID: doc.ID,
		CompanyID:  doc.CompanyID,
		ProjectID:  doc.ProjectID,
		Checksum:   doc.Checksum,
	}); err != nil {
		return nil, err
	}
	if err := s.docs.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}
	s.invalidate(ctx, doc.CompanyID, doc.ProjectID)

	s.logger.Info("Document ingested",
		zap.String("document_id", doc.ID.String()),
		zap.String("company_id", doc.CompanyID.String()),
	)
	return ToDocumentResponse(doc, nil), nil
}

func (s *Service) checkProject(ctx context.Context, companyID, projectID uuid.UUID) error {
	project, err := s.ledger.GetProject(ctx, projectID)
	if errors.Is(err, shared.ErrNotFound) {
		return shared.NewReferenceError("document", projectID.String(), "documents_project_fk", err)
	}
	if err != nil {
		return err
	}
	if !project.BelongsTo(companyID) {
		return shared.NewReferenceError("document", projectID.String(), "documents_project_company", nil)
	}
	if !project.IsActive() {
		return shared.NewDomainError("PROJECT_ARCHIVED", fmt.Sprintf("Project %s is archived", project.Code))
	}
	return nil
}

// Get returns a document with its latest extraction
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*DocumentResponse, error) {
	doc, err := s.docs.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	extraction, err := s.docs.GetLatestExtraction(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return ToDocumentResponse(doc, nil), nil
	}
	if err != nil {
		return nil, err
	}
	return ToDocumentResponse(doc, extraction), nil
}

// List returns one page of a company's documents enriched from both stores.
// Pages are cached per query shape and dropped when the company or project
// is written to.
func (s *Service) List(ctx context.Context, companyID uuid.UUID, f ListFilter) (*ListResult, error) {
	filter := document.Filter{
		Filter: shared.Filter{
			Page:     f.Page,
			PageSize: f.PageSize,
			OrderBy:  f.SortBy,
			OrderDir: f.SortOrder,
		}.Normalize(),
		ProjectID: f.ProjectID,
	}
	if f.Status != "" {
		status := document.Status(f.Status)
		if !status.IsValid() {
			return nil, shared.NewDomainError("INVALID_STATUS", fmt.Sprintf("Unknown document status %q", f.Status))
		}
		filter.Status = &status
	}

	load := func(ctx context.Context) (ListResult, error) {
		return s.loadPage(ctx, companyID, filter)
	}
	if s.cache == nil {
		res, err := load(ctx)
		return &res, err
	}

	key := cache.NewKey(listNamespace, cache.QueryTags(companyID, filter.ProjectID)...).
		UUID(companyID).
		OptUUID(filter.ProjectID).
		Str(f.Status).
		Int(filter.Page).
		Int(filter.PageSize).
		Str(filter.OrderBy).
		Str(filter.OrderDir).
		Key()
	res, err := cache.GetOrLoad(ctx, s.cache, key, load)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *Service) loadPage(ctx context.Context, companyID uuid.UUID, filter document.Filter) (ListResult, error) {
	page, total, err := s.docs.ListDocuments(ctx, companyID, filter)
	if err != nil {
		return ListResult{}, err
	}
	ids := make([]uuid.UUID, len(page))
	for i, m := range page {
		ids[i] = m.ID
	}
	loaded, err := s.loader.LoadMetadataFor(ctx, ids)
	if err != nil {
		return ListResult{}, err
	}
	items := make([]DocumentListItem, 0, len(loaded))
	for _, m := range metadata.Ordered(ids, loaded) {
		items = append(items, ToDocumentListItem(m))
	}
	return ListResult{Items: items, Total: total}, nil
}

// Process runs the posting pipeline on a document
func (s *Service) Process(ctx context.Context, id uuid.UUID) (*OutcomeResponse, error) {
	out, err := s.pipeline.Process(ctx, id)
	if err != nil {
		return nil, err
	}
	return ToOutcomeResponse(out), nil
}

// Repair completes the document side of a posting whose ledger entry exists
func (s *Service) Repair(ctx context.Context, id uuid.UUID) (*OutcomeResponse, error) {
	out, err := s.pipeline.Repair(ctx, id)
	if err != nil {
		return nil, err
	}
	return ToOutcomeResponse(out), nil
}

// Review applies a reviewer's decision to a document waiting for review.
// Approving posts the stored extraction; rejecting keeps the document in
// review with its extraction marked rejected and its markers closed.
func (s *Service) Review(ctx context.Context, id uuid.UUID, req ReviewRequest) (*OutcomeResponse, error) {
	switch req.Decision {
	case DecisionApprove:
		out, err := s.pipeline.Approve(ctx, id, req.ProjectID)
		if err != nil {
			return nil, err
		}
		return ToOutcomeResponse(out), nil
	case DecisionReject:
		return s.reject(ctx, id, req.Reason)
	default:
		return nil, shared.NewDomainError("INVALID_DECISION", fmt.Sprintf("Unknown review decision %q", req.Decision))
	}
}

func (s *Service) reject(ctx context.Context, id uuid.UUID, reason string) (*OutcomeResponse, error) {
	doc, err := s.docs.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != document.StatusNeedsReview {
		return nil, fmt.Errorf("document %s is %s, not waiting for review: %w", doc.ID, doc.Status, shared.ErrInvalidState)
	}
	extraction, err := s.docs.GetLatestExtraction(ctx, id)
	if err != nil {
		return nil, err
	}
	if extraction.LinkStatus != document.LinkStatusRejected {
		if err := s.docs.UpdateExtractionLink(ctx, extraction.ID, document.LinkStatusRejected, nil); err != nil {
			return nil, err
		}
	}

	// The rejection is kept as a closed marker so the decision stays auditable.
	marker := document.NewMarker(doc.CompanyID, doc.ID, nil, document.MarkerReviewRejected, reason)
	if err := s.docs.CreateMarker(ctx, marker); err != nil {
		return nil, err
	}
	if err := s.docs.ResolveMarkers(ctx, doc.ID, ""); err != nil {
		return nil, err
	}
	s.invalidate(ctx, doc.CompanyID, doc.ProjectID)

	s.logger.Info("Extraction rejected",
		zap.String("document_id", doc.ID.String()),
		zap.String("reason", reason),
	)
	return &OutcomeResponse{
		DocumentID:     doc.ID,
		Status:         doc.Status.Visible(),
		InternalStatus: doc.Status,
		Result:         ResultRejected,
		Reason:         reason,
	}, nil
}

// LedgerEntry returns the ledger entry a document is linked to
func (s *Service) LedgerEntry(ctx context.Context, id uuid.UUID) (*LedgerEntryResponse, error) {
	entry, err := s.resolver.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, shared.ErrNotFound
	}
	return ToLedgerEntryResponse(entry), nil
}

// Orphans audits the links of one company, or all when companyID is nil
func (s *Service) Orphans(ctx context.Context, companyID *uuid.UUID) ([]OrphanResponse, error) {
	findings, err := s.resolver.AuditOrphans(ctx, reconciliation.AuditFilter{CompanyID: companyID})
	if err != nil {
		return nil, err
	}
	return ToOrphanResponses(findings), nil
}

// ClearCorrupt lifts the quarantine of a document and verifies it again. A
// document whose content still mismatches is quarantined again and the
// DataIntegrityError returned.
func (s *Service) ClearCorrupt(ctx context.Context, id uuid.UUID) (*DocumentResponse, error) {
	if err := s.docs.ClearCorrupt(ctx, id); err != nil {
		return nil, err
	}
	resp, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, resp.CompanyID, resp.ProjectID)
	return resp, nil
}

func (s *Service) invalidate(ctx context.Context, companyID uuid.UUID, projectID *uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateTags(ctx, cache.WriteTags(companyID, projectID)...); err != nil {
		s.logger.Warn("Failed to invalidate document cache",
			zap.String("company_id", companyID.String()), zap.Error(err))
	}
}
