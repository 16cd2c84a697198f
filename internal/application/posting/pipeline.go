// Package posting runs documents from extraction to a linked ledger entry.
//
// A run moves a document through
//
//	uploaded -> extracting -> extracted -> posting -> linked
//
// with extraction_failed, needs_review and posting_failed as the off-ramps.
// Concurrent runs on one document are serialized by a compare-and-swap on the
// document's CrossStoreLink; only the holder of the claim writes a ledger entry.
package posting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/domain/document"
	"github.com/ledgerlink/backend/internal/domain/ledger"
	"github.com/ledgerlink/backend/internal/domain/shared"
	"github.com/ledgerlink/backend/internal/infrastructure/cache"
	"github.com/ledgerlink/backend/internal/infrastructure/config"
	"github.com/ledgerlink/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Outcome values recorded in metrics and returned to callers
const (
	OutcomeLinked           = "linked"
	OutcomeNeedsReview      = "needs_review"
	OutcomeExtractionFailed = "extraction_failed"
	OutcomePostingFailed    = "posting_failed"
	OutcomeInProgress       = "in_progress"
	OutcomeAlreadyLinked    = "already_linked"
)

// Outcome describes where a run left the document
type Outcome struct {
	DocumentID    uuid.UUID       `json:"document_id"`
	Result        string          `json:"result"`
	Status        document.Status `json:"status"`
	LedgerEntryID *uuid.UUID      `json:"ledger_entry_id,omitempty"`
	LinkVersion   int64           `json:"link_version,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

// Visible returns the status shown to end users
func (o *Outcome) Visible() document.VisibleStatus {
	return o.Status.Visible()
}

// Pipeline coordinates the structured and document stores for one document at a time
type Pipeline struct {
	ledger    ledger.Store
	docs      document.Store
	extractor document.Extractor
	cache     *cache.Cache
	publisher shared.EventPublisher
	metrics   *telemetry.CoordinatorMetrics
	logger    *zap.Logger

	threshold         float64
	extractionTimeout time.Duration
	operationTimeout  time.Duration
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithCache invalidates cached views after every status change and ledger write
func WithCache(c *cache.Cache) Option {
	return func(p *Pipeline) {
		p.cache = c
	}
}

// WithPublisher publishes pipeline events
func WithPublisher(pub shared.EventPublisher) Option {
	return func(p *Pipeline) {
		p.publisher = pub
	}
}

// WithMetrics records run outcomes
func WithMetrics(m *telemetry.CoordinatorMetrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a Pipeline. The confidence threshold is required.
func New(ledgerStore ledger.Store, docStore document.Store, extractor document.Extractor, cfg config.PipelineConfig, opts ...Option) (*Pipeline, error) {
	if cfg.ConfidenceThreshold <= 0 || cfg.ConfidenceThreshold > 1 {
		return nil, fmt.Errorf("confidence threshold must be in (0, 1], got %v", cfg.ConfidenceThreshold)
	}
	p := &Pipeline{
		ledger:            ledgerStore,
		docs:              docStore,
		extractor:         extractor,
		logger:            zap.NewNop(),
		threshold:         cfg.ConfidenceThreshold,
		extractionTimeout: cfg.ExtractionTimeout,
		operationTimeout:  cfg.OperationTimeout,
	}
	if p.extractionTimeout <= 0 {
		p.extractionTimeout = 60 * time.Second
	}
	if p.operationTimeout <= 0 {
		p.operationTimeout = 5 * time.Second
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Threshold returns the confidence needed for automatic posting
func (p *Pipeline) Threshold() float64 { return p.threshold }

// Process advances a document as far as it can go without a human. It is
// safe to call repeatedly: linked documents are returned unchanged and a
// document another run is posting reports OutcomeInProgress.
func (p *Pipeline) Process(ctx context.Context, documentID uuid.UUID) (*Outcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.process", telemetry.AttrDocumentID, documentID)
	defer span.End()

	doc, err := p.docs.GetDocument(ctx, documentID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttributes(span, telemetry.AttrCompanyID, doc.CompanyID, "status", string(doc.Status))

	var out *Outcome
	switch doc.Status {
	case document.StatusUploaded, document.StatusExtractionFailed, document.StatusExtracting:
		out, err = p.extract(ctx, doc)
	case document.StatusExtracted:
		var extraction *document.FinancialExtraction
		extraction, err = p.docs.GetLatestExtraction(ctx, doc.ID)
		if errors.Is(err, shared.ErrNotFound) {
			out, err = p.extract(ctx, doc)
			break
		}
		if err == nil {
			out, err = p.complete(ctx, doc, extraction.Result(), extraction)
		}
	case document.StatusNeedsReview:
		out = &Outcome{DocumentID: doc.ID, Result: OutcomeNeedsReview, Status: doc.Status, Reason: doc.FailureReason}
	case document.StatusPostingFailed:
		out, err = p.retryPosting(ctx, doc)
	default:
		out, err = p.observe(ctx, doc.ID)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttributes(span, telemetry.AttrOutcome, out.Result)
	return out, nil
}

// extract calls the extraction service and hands the result to complete
func (p *Pipeline) extract(ctx context.Context, doc *document.Document) (*Outcome, error) {
	if doc.Status != document.StatusExtracting {
		if err := p.setStatus(ctx, doc, document.StatusUpdate{Status: document.StatusExtracting}); err != nil {
			if errors.Is(err, shared.ErrInvalidState) {
				return p.observe(ctx, doc.ID)
			}
			return nil, err
		}
		doc.Status = document.StatusExtracting
	}

	extractCtx, cancel := context.WithTimeout(ctx, p.extractionTimeout)
	result, err := p.extractor.Extract(extractCtx, doc.ID, doc.ContentLocator)
	cancel()
	if err != nil {
		return p.failExtraction(ctx, doc, err)
	}
	if err := p.setStatus(ctx, doc, document.StatusUpdate{Status: document.StatusExtracted}); err != nil {
		if errors.Is(err, shared.ErrInvalidState) {
			return p.observe(ctx, doc.ID)
		}
		return nil, err
	}
	doc.Status = document.StatusExtracted
	return p.complete(ctx, doc, result, nil)
}

func (p *Pipeline) failExtraction(ctx context.Context, doc *document.Document, cause error) (*Outcome, error) {
	// The document must not stay in extracting after the caller gives up.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.operationTimeout)
	defer cancel()

	reason := cause.Error()
	if err := p.setStatus(writeCtx, doc, document.StatusUpdate{
		Status:        document.StatusExtractionFailed,
		FailureReason: reason,
	}); err != nil {
		p.logger.Error("Failed to record extraction failure",
			zap.String("document_id", doc.ID.String()), zap.Error(err))
	}
	p.metrics.RecordPipelineOutcome(ctx, OutcomeExtractionFailed)

	if ctx.Err() != nil {
		return nil, &shared.TimedOutError{Op: "extract document", Err: ctx.Err()}
	}
	var timedOut *shared.TimedOutError
	if errors.As(cause, &timedOut) {
		return nil, cause
	}
	p.logger.Warn("Extraction failed", zap.String("document_id", doc.ID.String()), zap.Error(cause))
	return &Outcome{DocumentID: doc.ID, Result: OutcomeExtractionFailed, Status: document.StatusExtractionFailed, Reason: reason}, nil
}

// CompleteExtraction takes an extraction result for a document and either posts
// it or parks the document for review. Two completions racing on the same
// document create at most one ledger entry; the loser reports the winner's link.
func (p *Pipeline) CompleteExtraction(ctx context.Context, documentID uuid.UUID, result document.ExtractionResult) (*Outcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.complete", telemetry.AttrDocumentID, documentID)
	defer span.End()

	if err := result.Validate(); err != nil {
		return nil, err
	}
	doc, err := p.docs.GetDocument(ctx, documentID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if doc.Status != document.StatusExtracted {
		err := p.setStatus(ctx, doc, document.StatusUpdate{Status: document.StatusExtracted})
		if errors.Is(err, shared.ErrInvalidState) {
			return p.observe(ctx, doc.ID)
		}
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		doc.Status = document.StatusExtracted
	}
	out, err := p.complete(ctx, doc, result, nil)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttributes(span, telemetry.AttrOutcome, out.Result)
	return out, nil
}

// complete decides between automatic posting and review for an extracted document
func (p *Pipeline) complete(ctx context.Context, doc *document.Document, result document.ExtractionResult, existing *document.FinancialExtraction) (*Outcome, error) {
	target, reason, err := p.resolveTarget(ctx, doc, result)
	if err != nil {
		return nil, err
	}
	if reason == "" && result.Confidence < p.threshold {
		reason = fmt.Sprintf("confidence %.2f below threshold %.2f", result.Confidence, p.threshold)
	}
	if reason != "" {
		return p.park(ctx, doc, result, existing, reason)
	}
	return p.post(ctx, doc, result, target, existing)
}

// park moves the document to needs_review and keeps the extraction for the reviewer
func (p *Pipeline) park(ctx context.Context, doc *document.Document, result document.ExtractionResult, existing *document.FinancialExtraction, reason string) (*Outcome, error) {
	if existing == nil {
		extraction, err := document.NewFinancialExtraction(doc, result, document.LinkStatusNeedsReview)
		if err != nil {
			return nil, err
		}
		extraction.ReviewReason = reason
		if err := p.docs.CreateFinancialExtraction(ctx, extraction); err != nil {
			return nil, err
		}
	}
	err := p.setStatus(ctx, doc, document.StatusUpdate{
		Status:        document.StatusNeedsReview,
		FailureReason: reason,
	})
	if errors.Is(err, shared.ErrInvalidState) {
		return p.observe(ctx, doc.ID)
	}
	if err != nil {
		return nil, err
	}

	p.publish(ctx, document.NewDocumentNeedsReviewEvent(doc, reason, result.Confidence))
	p.metrics.RecordPipelineOutcome(ctx, OutcomeNeedsReview)
	p.logger.Info("Document needs review",
		zap.String("document_id", doc.ID.String()),
		zap.Float64("confidence", result.Confidence),
		zap.String("reason", reason))
	return &Outcome{DocumentID: doc.ID, Result: OutcomeNeedsReview, Status: document.StatusNeedsReview, Reason: reason}, nil
}

// Approve posts a document waiting for review with its stored extraction. A
// non-nil projectID overrides the extracted project reference. The reviewer's
// approval replaces the confidence check; references must still resolve.
func (p *Pipeline) Approve(ctx context.Context, documentID uuid.UUID, projectID *uuid.UUID) (*Outcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.approve", telemetry.AttrDocumentID, documentID)
	defer span.End()

	doc, err := p.docs.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != document.StatusNeedsReview {
		if doc.Status == document.StatusLinked || doc.Status == document.StatusPosting {
			return p.observe(ctx, doc.ID)
		}
		return nil, fmt.Errorf("document %s is %s, not waiting for review: %w", doc.ID, doc.Status, shared.ErrInvalidState)
	}
	extraction, err := p.docs.GetLatestExtraction(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if extraction.LinkStatus == document.LinkStatusRejected {
		return nil, fmt.Errorf("extraction for document %s was rejected: %w", doc.ID, shared.ErrInvalidState)
	}

	result := extraction.Result()
	if projectID != nil {
		// Lists filtered by the original project change as well
		defer p.invalidate(context.WithoutCancel(ctx), doc.CompanyID, doc.ProjectID, p.logger)
		doc.ProjectID = projectID
		result.ProjectRef = projectID.String()
	}
	target, reason, err := p.resolveTarget(ctx, doc, result)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return nil, shared.NewDomainError("UNRESOLVED_REFERENCE", reason)
	}
	out, err := p.post(ctx, doc, result, target, extraction)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return out, nil
}

// post claims the document's link and, holding the claim, runs the posting
// steps. Once the claim is held the run finishes even if ctx is cancelled.
func (p *Pipeline) post(ctx context.Context, doc *document.Document, result document.ExtractionResult, target *postingTarget, existing *document.FinancialExtraction) (*Outcome, error) {
	attemptID := uuid.New()
	claim := document.NewClaim(doc, target.projectID(), attemptID)
	if err := p.docs.ClaimLink(ctx, claim); err != nil {
		if errors.Is(err, document.ErrLinkVersionConflict) {
			return p.retake(ctx, doc, result, target, existing, attemptID)
		}
		return nil, err
	}
	return p.runClaimed(ctx, doc, result, target, existing, claim)
}

// retake handles a lost claim. A link left in posting_failed without a ledger
// entry may be claimed again; anything else belongs to another run.
func (p *Pipeline) retake(ctx context.Context, doc *document.Document, result document.ExtractionResult, target *postingTarget, existing *document.FinancialExtraction, attemptID uuid.UUID) (*Outcome, error) {
	current, err := p.docs.GetLink(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if current.State != document.LinkStatePostingFailed || current.LedgerEntryID != nil {
		return p.outcomeFromLink(ctx, current, OutcomeInProgress)
	}

	claim := current.Next(document.LinkStatePosting)
	claim.AttemptID = attemptID
	claim.ProjectID = target.projectID()
	claim.ClaimedAt = claim.UpdatedAt
	if err := p.docs.SwapLink(ctx, claim, current.Version); err != nil {
		if errors.Is(err, document.ErrLinkVersionConflict) {
			return p.observe(ctx, doc.ID)
		}
		return nil, err
	}
	return p.runClaimed(ctx, doc, result, target, existing, claim)
}

// runClaimed executes steps (b) to (f) in order for the holder of claim
func (p *Pipeline) runClaimed(ctx context.Context, doc *document.Document, result document.ExtractionResult, target *postingTarget, existing *document.FinancialExtraction, claim *document.CrossStoreLink) (*Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := telemetry.StartSpan(ctx, "pipeline.post",
		telemetry.AttrDocumentID, doc.ID,
		telemetry.AttrCompanyID, doc.CompanyID,
		telemetry.AttrLinkVersion, claim.Version)
	defer span.End()
	log := p.logger.With(zap.String("document_id", doc.ID.String()), zap.String("attempt_id", claim.AttemptID.String()))

	if err := p.step(ctx, func(ctx context.Context) error {
		return p.setStatus(ctx, doc, document.StatusUpdate{Status: document.StatusPosting})
	}); err != nil {
		p.releaseClaim(ctx, claim, log)
		telemetry.RecordError(span, err)
		return nil, err
	}

	// (a)+(b) structured store: ledger entry and document ref in one transaction
	entry, err := target.ledgerEntry(doc, result)
	if err == nil {
		err = p.step(ctx, func(ctx context.Context) error {
			return p.ledger.PostLedgerEntryForDocument(ctx, entry, doc.ID)
		})
		if err != nil && p.alreadyPosted(ctx, entry, err, log) {
			err = nil
		}
	}
	if err != nil {
		log.Error("Ledger posting failed", zap.Error(err))
		p.abandon(ctx, doc, claim, err, log)
		telemetry.RecordError(span, err)
		p.metrics.RecordPipelineOutcome(ctx, OutcomePostingFailed)
		return nil, err
	}
	telemetry.AddEvent(span, "ledger_entry_created", telemetry.AttrLedgerEntryID, entry.ID)

	// From here the ledger entry is durable and failures are repaired, not rolled back.
	return p.finish(ctx, doc, result, existing, claim, entry, log)
}

// alreadyPosted reports whether a conflict on posting is this attempt's own
// entry, committed by an earlier try whose acknowledgement was lost.
func (p *Pipeline) alreadyPosted(ctx context.Context, entry *ledger.LedgerEntry, err error, log *zap.Logger) bool {
	var conflict *shared.ConflictError
	if !errors.As(err, &conflict) {
		return false
	}
	var stored *ledger.LedgerEntry
	if lookupErr := p.step(ctx, func(ctx context.Context) error {
		var err error
		stored, err = p.ledger.GetLedgerEntry(ctx, entry.ID)
		return err
	}); lookupErr != nil {
		return false
	}
	if stored.SourceRef != entry.SourceRef {
		return false
	}
	log.Warn("Ledger entry already committed, continuing",
		zap.String("ledger_entry_id", entry.ID.String()),
		zap.String("constraint", conflict.Constraint))
	return true
}

// finish runs steps (c) to (f) for a ledger entry that already exists
func (p *Pipeline) finish(ctx context.Context, doc *document.Document, result document.ExtractionResult, existing *document.FinancialExtraction, link *document.CrossStoreLink, entry *ledger.LedgerEntry, log *zap.Logger) (*Outcome, error) {
	entryID := entry.ID

	// (c)+(d) document store: extraction pointing at the entry
	var extractionID uuid.UUID
	err := p.step(ctx, func(ctx context.Context) error {
		if existing != nil {
			extractionID = existing.ID
			return p.docs.UpdateExtractionLink(ctx, existing.ID, document.LinkStatusLinked, &entryID)
		}
		extraction, err := document.NewFinancialExtraction(doc, result, document.LinkStatusLinked)
		if err != nil {
			return err
		}
		extraction.LedgerEntryID = &entryID
		if err := p.docs.CreateFinancialExtraction(ctx, extraction); err != nil {
			return err
		}
		extractionID = extraction.ID
		return nil
	})
	if err != nil {
		return p.postingFailed(ctx, doc, link, entryID, err, log)
	}

	// (e) finalize the link
	linked := link.Next(document.LinkStateLinked)
	linked.LedgerEntryID = &entryID
	linked.ExtractionID = &extractionID
	if err := p.step(ctx, func(ctx context.Context) error {
		return p.docs.SwapLink(ctx, linked, link.Version)
	}); err != nil {
		return p.postingFailed(ctx, doc, link, entryID, err, log)
	}
	if err := p.step(ctx, func(ctx context.Context) error {
		return p.setStatus(ctx, doc, document.StatusUpdate{
			Status:        document.StatusLinked,
			LedgerEntryID: &entryID,
		})
	}); err != nil {
		return p.postingFailed(ctx, doc, linked, entryID, err, log)
	}

	// (f) cached lists of the company and project are stale now
	p.invalidate(ctx, doc.CompanyID, entry.ProjectID, log)

	if err := p.docs.ResolveMarkers(ctx, doc.ID, document.MarkerPostingFailed); err != nil {
		log.Warn("Failed to resolve posting markers", zap.Error(err))
	}
	p.publish(ctx, document.NewDocumentLinkedEvent(linked))
	p.metrics.RecordPipelineOutcome(ctx, OutcomeLinked)
	log.Info("Document linked",
		zap.String("ledger_entry_id", entryID.String()),
		zap.Int64("link_version", linked.Version))

	return &Outcome{
		DocumentID:    doc.ID,
		Result:        OutcomeLinked,
		Status:        document.StatusLinked,
		LedgerEntryID: &entryID,
		LinkVersion:   linked.Version,
	}, nil
}

// postingFailed records a document-side failure after the ledger entry was
// written. The entry stays; the document and link point at it for repair.
func (p *Pipeline) postingFailed(ctx context.Context, doc *document.Document, link *document.CrossStoreLink, entryID uuid.UUID, cause error, log *zap.Logger) (*Outcome, error) {
	failure := &shared.PostingFailedError{
		DocumentID:    doc.ID,
		LedgerEntryID: entryID,
		FailedAt:      time.Now().UTC(),
		Err:           cause,
	}
	log.Error("Posting failed after ledger write", zap.Error(failure))

	failed := link.Next(document.LinkStatePostingFailed)
	failed.LedgerEntryID = &entryID
	if err := p.step(ctx, func(ctx context.Context) error {
		return p.docs.SwapLink(ctx, failed, link.Version)
	}); err != nil {
		log.Error("Failed to record posting failure on link", zap.Error(err))
	} else {
		link = failed
	}
	if err := p.step(ctx, func(ctx context.Context) error {
		return p.setStatus(ctx, doc, document.StatusUpdate{
			Status:        document.StatusPostingFailed,
			LedgerEntryID: &entryID,
			FailureReason: cause.Error(),
		})
	}); err != nil {
		log.Error("Failed to record posting failure on document", zap.Error(err))
	}

	marker := document.NewMarker(doc.CompanyID, doc.ID, &entryID, document.MarkerPostingFailed, failure.Error())
	if err := p.step(ctx, func(ctx context.Context) error {
		return p.docs.CreateMarker(ctx, marker)
	}); err != nil {
		log.Error("Failed to persist reconciliation marker", zap.Error(err))
	}
	p.publish(ctx, document.NewReconciliationMarkerEvent(marker))
	p.invalidate(ctx, doc.CompanyID, doc.ProjectID, log)
	p.metrics.RecordPipelineOutcome(ctx, OutcomePostingFailed)

	return &Outcome{
		DocumentID:    doc.ID,
		Result:        OutcomePostingFailed,
		Status:        document.StatusPostingFailed,
		LedgerEntryID: &entryID,
		LinkVersion:   link.Version,
		Reason:        cause.Error(),
	}, nil
}

// abandon handles a failed ledger write. Nothing was posted, so the claim is
// marked failed without an entry and a later run may claim it again.
func (p *Pipeline) abandon(ctx context.Context, doc *document.Document, claim *document.CrossStoreLink, cause error, log *zap.Logger) {
	failed := claim.Next(document.LinkStatePostingFailed)
	if err := p.step(ctx, func(ctx context.Context) error {
		return p.docs.SwapLink(ctx, failed, claim.Version)
	}); err != nil {
		log.Error("Failed to release link claim", zap.Error(err))
	}
	if err := p.step(ctx, func(ctx context.Context) error {
		return p.setStatus(ctx, doc, document.StatusUpdate{
			Status:        document.StatusPostingFailed,
			FailureReason: cause.Error(),
		})
	}); err != nil {
		log.Error("Failed to record posting failure on document", zap.Error(err))
	}
}

// releaseClaim gives up a claim before anything was posted
func (p *Pipeline) releaseClaim(ctx context.Context, claim *document.CrossStoreLink, log *zap.Logger) {
	failed := claim.Next(document.LinkStatePostingFailed)
	if err := p.step(ctx, func(ctx context.Context) error {
		return p.docs.SwapLink(ctx, failed, claim.Version)
	}); err != nil {
		log.Error("Failed to release link claim", zap.Error(err))
	}
}

// retryPosting continues a document left in posting_failed. When the ledger
// entry exists only the document side is completed; otherwise posting starts over.
func (p *Pipeline) retryPosting(ctx context.Context, doc *document.Document) (*Outcome, error) {
	link, err := p.docs.GetLink(ctx, doc.ID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	if link != nil && link.LedgerEntryID != nil {
		return p.Repair(ctx, doc.ID)
	}

	// Nothing was posted. Extractions are only stored by the posting steps
	// and by review, so the result may have to be fetched again.
	var result document.ExtractionResult
	extraction, err := p.docs.GetLatestExtraction(ctx, doc.ID)
	switch {
	case err == nil:
		result = extraction.Result()
	case errors.Is(err, shared.ErrNotFound):
		extractCtx, cancel := context.WithTimeout(ctx, p.extractionTimeout)
		result, err = p.extractor.Extract(extractCtx, doc.ID, doc.ContentLocator)
		cancel()
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	target, reason, err := p.resolveTarget(ctx, doc, result)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return nil, shared.NewDomainError("UNRESOLVED_REFERENCE", reason)
	}
	return p.post(ctx, doc, result, target, extraction)
}

// Repair completes the document side of a posting whose ledger entry exists
// but whose link was never finalized. It takes over the link with a
// compare-and-swap so it cannot race another repair.
func (p *Pipeline) Repair(ctx context.Context, documentID uuid.UUID) (*Outcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.repair", telemetry.AttrDocumentID, documentID)
	defer span.End()

	link, err := p.docs.GetLink(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if link.IsLinked() {
		return p.outcomeFromLink(ctx, link, OutcomeAlreadyLinked)
	}
	if link.State != document.LinkStatePostingFailed || link.LedgerEntryID == nil {
		return nil, fmt.Errorf("link of document %s is %s without a ledger entry: %w", documentID, link.State, shared.ErrInvalidState)
	}

	doc, err := p.docs.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	entry, err := p.ledger.GetLedgerEntry(ctx, *link.LedgerEntryID)
	if err != nil {
		return nil, err
	}
	extraction, err := p.docs.GetLatestExtraction(ctx, documentID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	var result document.ExtractionResult
	if extraction != nil {
		result = extraction.Result()
		if extraction.LedgerEntryID != nil && *extraction.LedgerEntryID != entry.ID {
			extraction = nil
		}
	} else {
		result = document.ExtractionResult{Amount: entry.Amount, Currency: entry.Currency, Confidence: 1}
	}

	claim := link.Next(document.LinkStatePosting)
	claim.AttemptID = uuid.New()
	if err := p.docs.SwapLink(ctx, claim, link.Version); err != nil {
		if errors.Is(err, document.ErrLinkVersionConflict) {
			return p.observe(ctx, documentID)
		}
		return nil, err
	}
	log := p.logger.With(zap.String("document_id", doc.ID.String()), zap.String("attempt_id", claim.AttemptID.String()))
	log.Info("Repairing posting", zap.String("ledger_entry_id", entry.ID.String()))
	return p.finish(context.WithoutCancel(ctx), doc, result, extraction, claim, entry, log)
}

// observe reports the state another run left behind
func (p *Pipeline) observe(ctx context.Context, documentID uuid.UUID) (*Outcome, error) {
	link, err := p.docs.GetLink(ctx, documentID)
	if err == nil {
		return p.outcomeFromLink(ctx, link, OutcomeInProgress)
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	doc, err := p.docs.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		DocumentID:    doc.ID,
		Result:        OutcomeInProgress,
		Status:        doc.Status,
		LedgerEntryID: doc.LedgerEntryID,
		Reason:        doc.FailureReason,
	}, nil
}

func (p *Pipeline) outcomeFromLink(ctx context.Context, link *document.CrossStoreLink, pending string) (*Outcome, error) {
	out := &Outcome{
		DocumentID:    link.DocumentID,
		LedgerEntryID: link.LedgerEntryID,
		LinkVersion:   link.Version,
	}
	switch link.State {
	case document.LinkStateLinked:
		out.Result = OutcomeAlreadyLinked
		out.Status = document.StatusLinked
	case document.LinkStatePostingFailed:
		out.Result = OutcomePostingFailed
		out.Status = document.StatusPostingFailed
	default:
		out.Result = pending
		out.Status = document.StatusPosting
	}
	p.logger.Debug("Observed existing link",
		zap.String("document_id", link.DocumentID.String()),
		zap.String("state", string(link.State)),
		zap.Int64("version", link.Version))
	return out, nil
}

// step runs one store write under the operation timeout
func (p *Pipeline) step(ctx context.Context, fn func(ctx context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, p.operationTimeout)
	defer cancel()
	return fn(stepCtx)
}

// setStatus records a status change and drops the cached lists that show the
// document. Cached pages are filtered by status, so every transition counts.
func (p *Pipeline) setStatus(ctx context.Context, doc *document.Document, update document.StatusUpdate) error {
	if err := p.docs.UpdateDocumentStatus(ctx, doc.ID, update); err != nil {
		return err
	}
	p.invalidate(ctx, doc.CompanyID, doc.ProjectID, p.logger)
	return nil
}

func (p *Pipeline) invalidate(ctx context.Context, companyID uuid.UUID, projectID *uuid.UUID, log *zap.Logger) {
	if p.cache == nil {
		return
	}
	if err := p.step(ctx, func(ctx context.Context) error {
		return p.cache.InvalidateTags(ctx, cache.WriteTags(companyID, projectID)...)
	}); err != nil {
		log.Error("Cache invalidation failed", zap.Error(err))
	}
}

func (p *Pipeline) publish(ctx context.Context, events ...shared.DomainEvent) {
	if p.publisher == nil {
		return
	}
	if err := p.step(ctx, func(ctx context.Context) error {
		return p.publisher.Publish(ctx, events...)
	}); err != nil {
		p.logger.Error("Failed to publish pipeline events", zap.Error(err))
	}
}
