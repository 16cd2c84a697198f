// Package reconciliation resolves cross-store links and audits them for
// orphans. Auditing only reports; repairing a finding is an operator decision.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader/v7"
	"github.com/ledgerlink/backend/internal/domain/document"
	"github.com/ledgerlink/backend/internal/domain/ledger"
	"github.com/ledgerlink/backend/internal/domain/shared"
	"github.com/ledgerlink/backend/internal/infrastructure/config"
	"github.com/ledgerlink/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

const (
	defaultPageSize        = 200
	defaultStaleClaimAfter = 15 * time.Minute
	defaultSeenTTL         = 24 * time.Hour
	openMarkerScanLimit    = 10000
)

// DocumentStore is the part of the document store the resolver reads and
// raises markers in
type DocumentStore interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*document.Document, error)
	BatchGetDocumentMetadata(ctx context.Context, ids []uuid.UUID) ([]document.Metadata, error)
	GetLink(ctx context.Context, documentID uuid.UUID) (*document.CrossStoreLink, error)
	ListLinks(ctx context.Context, filter document.LinkFilter) ([]document.CrossStoreLink, error)
	CreateMarker(ctx context.Context, marker *document.ReconciliationMarker) error
	ListOpenMarkers(ctx context.Context, companyID *uuid.UUID, limit int) ([]document.ReconciliationMarker, error)
}

// LedgerReader loads ledger entries by ID in one query
type LedgerReader interface {
	BatchGetLedgerEntries(ctx context.Context, ids []uuid.UUID) ([]ledger.LedgerEntry, error)
}

// SeenSet remembers published findings across audit runs
type SeenSet interface {
	MarkSeen(ctx context.Context, id string, ttl time.Duration) (bool, error)
}

// Resolver follows links from documents to ledger entries
type Resolver struct {
	docs      DocumentStore
	ledger    LedgerReader
	entries   *dataloader.Loader[uuid.UUID, *ledger.LedgerEntry]
	seen      SeenSet
	publisher shared.EventPublisher
	metrics   *telemetry.CoordinatorMetrics
	logger    *zap.Logger

	pageSize        int
	staleClaimAfter time.Duration
	seenTTL         time.Duration
	now             func() time.Time
}

// Option configures a Resolver
type Option func(*Resolver)

// WithSeenSet deduplicates published findings across runs and replicas
func WithSeenSet(s SeenSet, ttl time.Duration) Option {
	return func(r *Resolver) {
		r.seen = s
		if ttl > 0 {
			r.seenTTL = ttl
		}
	}
}

// WithPublisher publishes a marker event per new finding
func WithPublisher(pub shared.EventPublisher) Option {
	return func(r *Resolver) {
		r.publisher = pub
	}
}

// WithMetrics counts findings by kind
func WithMetrics(m *telemetry.CoordinatorMetrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver creates a Resolver
func NewResolver(docs DocumentStore, ledgerReader LedgerReader, cfg config.ReconciliationConfig, opts ...Option) *Resolver {
	r := &Resolver{
		docs:            docs,
		ledger:          ledgerReader,
		logger:          zap.NewNop(),
		pageSize:        cfg.PageSize,
		staleClaimAfter: cfg.StaleClaimAfter,
		seenTTL:         defaultSeenTTL,
		now:             time.Now,
	}
	if r.pageSize <= 0 {
		r.pageSize = defaultPageSize
	}
	if r.staleClaimAfter <= 0 {
		r.staleClaimAfter = defaultStaleClaimAfter
	}
	for _, opt := range opts {
		opt(r)
	}
	// Lookups from concurrent Resolve calls share one IN query. Results are
	// not cached between batches; an audit must see the store as it is.
	r.entries = dataloader.NewBatchedLoader(r.loadEntries,
		dataloader.WithWait[uuid.UUID, *ledger.LedgerEntry](time.Millisecond),
		dataloader.WithBatchCapacity[uuid.UUID, *ledger.LedgerEntry](r.pageSize),
		dataloader.WithCache[uuid.UUID, *ledger.LedgerEntry](&dataloader.NoCache[uuid.UUID, *ledger.LedgerEntry]{}),
	)
	return r
}

func (r *Resolver) loadEntries(ctx context.Context, ids []uuid.UUID) []*dataloader.Result[*ledger.LedgerEntry] {
	results := make([]*dataloader.Result[*ledger.LedgerEntry], len(ids))
	entries, err := r.ledger.BatchGetLedgerEntries(ctx, ids)
	if err != nil {
		for i := range results {
			results[i] = &dataloader.Result[*ledger.LedgerEntry]{Error: err}
		}
		return results
	}

	byID := make(map[uuid.UUID]*ledger.LedgerEntry, len(entries))
	for i := range entries {
		byID[entries[i].ID] = &entries[i]
	}
	for i, id := range ids {
		if e, ok := byID[id]; ok {
			results[i] = &dataloader.Result[*ledger.LedgerEntry]{Data: e}
		} else {
			results[i] = &dataloader.Result[*ledger.LedgerEntry]{Error: shared.ErrNotFound}
		}
	}
	return results
}

// Resolve returns the ledger entry a document is linked to, or nil when the
// document has no completed link or the entry does not resolve.
func (r *Resolver) Resolve(ctx context.Context, documentID uuid.UUID) (*ledger.LedgerEntry, error) {
	link, err := r.docs.GetLink(ctx, documentID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !link.IsLinked() {
		return nil, nil
	}
	entry, err := r.entries.Load(ctx, *link.LedgerEntryID)()
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// OrphanedLink is one audit finding. Kind reuses the marker reasons.
type OrphanedLink struct {
	Kind   document.MarkerReason   `json:"kind"`
	Link   document.CrossStoreLink `json:"link"`
	Detail string                  `json:"detail"`
}

// key identifies the finding for deduplication. A link that moves on to a
// new version is reported again.
func (o OrphanedLink) key() string {
	return fmt.Sprintf("%s:%s:%d", o.Kind, o.Link.DocumentID, o.Link.Version)
}

// AuditFilter narrows an audit
type AuditFilter struct {
	CompanyID *uuid.UUID
}

// AuditOrphans scans every link and reports links whose ledger entry or
// document no longer resolves, posting claims older than the stale-claim age
// and links left in posting_failed. It writes nothing.
func (r *Resolver) AuditOrphans(ctx context.Context, filter AuditFilter) ([]OrphanedLink, error) {
	ctx, span := telemetry.StartSpan(ctx, "reconciliation.audit")
	defer span.End()

	var (
		findings []OrphanedLink
		cursor   uuid.UUID
		scanned  int
	)
	staleBefore := r.now().Add(-r.staleClaimAfter)
	for {
		links, err := r.docs.ListLinks(ctx, document.LinkFilter{
			CompanyID:     filter.CompanyID,
			AfterDocument: cursor,
			Limit:         r.pageSize,
		})
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		if len(links) == 0 {
			break
		}
		page, err := r.auditPage(ctx, links, staleBefore)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		findings = append(findings, page...)
		scanned += len(links)
		cursor = links[len(links)-1].DocumentID
		if len(links) < r.pageSize {
			break
		}
	}
	telemetry.SetAttributes(span, "links_scanned", scanned, "findings", len(findings))
	return findings, nil
}

func (r *Resolver) auditPage(ctx context.Context, links []document.CrossStoreLink, staleBefore time.Time) ([]OrphanedLink, error) {
	missingEntries, err := r.missingEntries(ctx, links)
	if err != nil {
		return nil, err
	}
	missingDocs, err := r.missingDocuments(ctx, links)
	if err != nil {
		return nil, err
	}

	var out []OrphanedLink
	for _, link := range links {
		if _, ok := missingDocs[link.DocumentID]; ok {
			out = append(out, OrphanedLink{Kind: document.MarkerMissingDocument, Link: link,
				Detail: "document no longer exists"})
		}
		if link.LedgerEntryID != nil {
			if _, ok := missingEntries[*link.LedgerEntryID]; ok {
				out = append(out, OrphanedLink{Kind: document.MarkerMissingLedgerEntry, Link: link,
					Detail: fmt.Sprintf("ledger entry %s does not resolve", *link.LedgerEntryID)})
			}
		}
		switch {
		case link.State == document.LinkStatePosting && link.UpdatedAt.Before(staleBefore):
			out = append(out, OrphanedLink{Kind: document.MarkerStaleClaim, Link: link,
				Detail: fmt.Sprintf("posting claim idle since %s", link.UpdatedAt.Format(time.RFC3339))})
		case link.State == document.LinkStatePostingFailed:
			out = append(out, OrphanedLink{Kind: document.MarkerPostingFailed, Link: link,
				Detail: "posting failed"})
		}
	}
	return out, nil
}

// missingEntries loads every ledger entry a page points at through the loader
func (r *Resolver) missingEntries(ctx context.Context, links []document.CrossStoreLink) (map[uuid.UUID]struct{}, error) {
	ids := make([]uuid.UUID, 0, len(links))
	for _, link := range links {
		if link.LedgerEntryID != nil {
			ids = append(ids, *link.LedgerEntryID)
		}
	}
	missing := make(map[uuid.UUID]struct{})
	if len(ids) == 0 {
		return missing, nil
	}
	_, errs := r.entries.LoadMany(ctx, ids)()
	for i, err := range errs {
		if err == nil {
			continue
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
		missing[ids[i]] = struct{}{}
	}
	return missing, nil
}

// missingDocuments reports documents absent from the batch read that are not
// merely quarantined
func (r *Resolver) missingDocuments(ctx context.Context, links []document.CrossStoreLink) (map[uuid.UUID]struct{}, error) {
	ids := make([]uuid.UUID, len(links))
	for i, link := range links {
		ids[i] = link.DocumentID
	}
	found, err := r.docs.BatchGetDocumentMetadata(ctx, ids)
	if err != nil {
		return nil, err
	}
	present := make(map[uuid.UUID]struct{}, len(found))
	for _, m := range found {
		present[m.ID] = struct{}{}
	}

	missing := make(map[uuid.UUID]struct{})
	for _, id := range ids {
		if _, ok := present[id]; ok {
			continue
		}
		_, err := r.docs.GetDocument(ctx, id)
		var integrity *shared.DataIntegrityError
		switch {
		case errors.Is(err, shared.ErrNotFound):
			missing[id] = struct{}{}
		case err == nil, errors.As(err, &integrity):
		default:
			return nil, err
		}
	}
	return missing, nil
}

// RunAudit audits all links and raises a marker for every finding not seen
// before. posting_failed findings are counted but not raised again; the
// pipeline raised them when the posting failed. It returns the number of new
// markers.
func (r *Resolver) RunAudit(ctx context.Context) (int, error) {
	findings, err := r.AuditOrphans(ctx, AuditFilter{})
	if err != nil {
		return 0, err
	}

	counts := make(map[document.MarkerReason]int)
	for _, f := range findings {
		counts[f.Kind]++
	}
	for kind, n := range counts {
		r.metrics.RecordOrphans(ctx, string(kind), n)
	}

	open, err := r.openMarkers(ctx)
	if err != nil {
		return 0, err
	}

	raised := 0
	for _, f := range findings {
		if f.Kind == document.MarkerPostingFailed {
			continue
		}
		if _, ok := open[openKey(f.Link.DocumentID, f.Kind)]; ok {
			continue
		}
		if r.seen != nil {
			isNew, err := r.seen.MarkSeen(ctx, f.key(), r.seenTTL)
			if err != nil {
				return raised, err
			}
			if !isNew {
				continue
			}
		}
		marker := document.NewMarker(f.Link.CompanyID, f.Link.DocumentID, f.Link.LedgerEntryID, f.Kind, f.Detail)
		if err := r.docs.CreateMarker(ctx, marker); err != nil {
			return raised, err
		}
		open[openKey(f.Link.DocumentID, f.Kind)] = struct{}{}
		raised++
		r.logger.Warn("Orphaned link found",
			zap.String("document_id", f.Link.DocumentID.String()),
			zap.String("kind", string(f.Kind)),
			zap.Int64("link_version", f.Link.Version),
		)
		if r.publisher != nil {
			if err := r.publisher.Publish(ctx, document.NewReconciliationMarkerEvent(marker)); err != nil {
				r.logger.Warn("Failed to publish reconciliation marker",
					zap.String("marker_id", marker.ID.String()), zap.Error(err))
			}
		}
	}
	return raised, nil
}

func (r *Resolver) openMarkers(ctx context.Context) (map[string]struct{}, error) {
	markers, err := r.docs.ListOpenMarkers(ctx, nil, openMarkerScanLimit)
	if err != nil {
		return nil, err
	}
	open := make(map[string]struct{}, len(markers))
	for _, m := range markers {
		open[openKey(m.DocumentID, m.Reason)] = struct{}{}
	}
	return open, nil
}

func openKey(documentID uuid.UUID, reason document.MarkerReason) string {
	return string(reason) + ":" + documentID.String()
}
