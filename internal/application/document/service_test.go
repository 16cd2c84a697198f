package document

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/application/posting"
	"github.com/ledgerlink/backend/internal/application/reconciliation"
	"github.com/ledgerlink/backend/internal/domain/document"
	"github.com/ledgerlink/backend/internal/domain/ledger"
	"github.com/ledgerlink/backend/internal/domain/shared"
	"github.com/ledgerlink/backend/internal/infrastructure/cache"
	"github.com/ledgerlink/backend/internal/infrastructure/config"
	"github.com/ledgerlink/backend/internal/infrastructure/persistence"
	"github.com/ledgerlink/backend/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testChecksum = "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

type stubExtractor struct {
	mu     sync.Mutex
	result document.ExtractionResult
}

func (s *stubExtractor) Extract(context.Context, uuid.UUID, string) (document.ExtractionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, nil
}

func (s *stubExtractor) set(confidence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = document.ExtractionResult{
		Amount:     decimal.RequireFromString("88.20"),
		Currency:   "EUR",
		Confidence: confidence,
		Entities:   document.Attributes{document.EntityEntryType: document.StringValue("expense")},
	}
}

type stubContent struct {
	stored map[string]bool
}

func (c *stubContent) Exists(_ context.Context, locator string) (bool, error) {
	return c.stored[locator], nil
}

func (c *stubContent) Checksum(context.Context, string) (string, error) { return "", nil }

// countingDocs counts list queries to observe caching
type countingDocs struct {
	document.Store
	lists atomic.Int32
}

func (c *countingDocs) ListDocuments(ctx context.Context, companyID uuid.UUID, filter document.Filter) ([]document.Metadata, int64, error) {
	c.lists.Add(1)
	return c.Store.ListDocuments(ctx, companyID, filter)
}

type fixture struct {
	svc       *Service
	ledger    *persistence.StructuredStore
	docs      *persistence.DocumentStore
	counted   *countingDocs
	extractor *stubExtractor
	company   *ledger.Company
	project   *ledger.Project
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	ctx := context.Background()
	retry := persistence.WithRetryPolicy(persistence.RetryPolicy{MaxRetries: 1, InitialInterval: time.Millisecond})

	ledgerStore := persistence.NewStructuredStore(
		testutil.NewPool(t, persistence.StoreStructured, testutil.NewStructuredDB(t), 4),
		persistence.WithLogger(logger), retry)
	docStore := persistence.NewDocumentStore(
		testutil.NewPool(t, persistence.StoreDocument, testutil.NewDocumentDB(t), 4),
		persistence.WithLogger(logger), retry)

	company, err := ledger.NewCompany("Globex", "EUR")
	require.NoError(t, err)
	require.NoError(t, ledgerStore.CreateCompany(ctx, company))
	project, err := ledger.NewProject(company.ID, "FIT-OUT", "Office fit-out")
	require.NoError(t, err)
	require.NoError(t, ledgerStore.CreateProject(ctx, project))

	c := cache.New(cache.NewMemoryBackend(), cache.WithLogger(logger))
	t.Cleanup(func() { _ = c.Close() })

	extractor := &stubExtractor{}
	pipeline, err := posting.New(ledgerStore, docStore, extractor, config.PipelineConfig{ConfidenceThreshold: 0.75},
		posting.WithCache(c), posting.WithLogger(logger))
	require.NoError(t, err)
	resolver := reconciliation.NewResolver(docStore, ledgerStore, config.ReconciliationConfig{})

	counted := &countingDocs{Store: docStore}
	opts = append([]Option{WithCache(c), WithLogger(logger)}, opts...)
	svc := NewService(ledgerStore, counted, pipeline, resolver, opts...)

	return &fixture{
		svc:       svc,
		ledger:    ledgerStore,
		docs:      docStore,
		counted:   counted,
		extractor: extractor,
		company:   company,
		project:   project,
	}
}

func (f *fixture) ingest(t *testing.T, projectID *uuid.UUID) *DocumentResponse {
	t.Helper()
	resp, err := f.svc.Ingest(context.Background(), IngestRequest{
		CompanyID:      f.company.ID,
		ProjectID:      projectID,
		ContentLocator: "gs://inbox/" + uuid.NewString() + ".pdf",
		Checksum:       testChecksum,
		MimeType:       "application/pdf",
	})
	require.NoError(t, err)
	return resp
}

func TestService_Ingest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.ingest(t, &f.project.ID)
	assert.Equal(t, document.VisibleProcessing, resp.Status)
	assert.Equal(t, document.StatusUploaded, resp.InternalStatus)

	contexts, err := f.ledger.BatchGetDocumentContexts(ctx, []uuid.UUID{resp.ID})
	require.NoError(t, err)
	require.Len(t, contexts, 1)
	assert.Equal(t, testChecksum, contexts[0].Ref.Checksum)
	require.NotNil(t, contexts[0].Project)
	assert.Equal(t, "FIT-OUT", contexts[0].Project.Code)
}

func TestService_Ingest_ValidatesReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other, err := ledger.NewCompany("Initech", "USD")
	require.NoError(t, err)
	require.NoError(t, f.ledger.CreateCompany(ctx, other))
	foreign, err := ledger.NewProject(other.ID, "X", "Theirs")
	require.NoError(t, err)
	require.NoError(t, f.ledger.CreateProject(ctx, foreign))
	archived, err := ledger.NewProject(f.company.ID, "OLD", "Closed")
	require.NoError(t, err)
	require.NoError(t, f.ledger.CreateProject(ctx, archived))
	require.NoError(t, f.ledger.ArchiveProject(ctx, archived.ID))

	unknown := uuid.New()
	tests := []struct {
		name      string
		companyID uuid.UUID
		projectID *uuid.UUID
		reference bool
	}{
		{"unknown company", uuid.New(), nil, true},
		{"unknown project", f.company.ID, &unknown, true},
		{"foreign project", f.company.ID, &foreign.ID, true},
		{"archived project", f.company.ID, &archived.ID, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Ingest(ctx, IngestRequest{
				CompanyID:      tt.companyID,
				ProjectID:      tt.projectID,
				ContentLocator: "gs://inbox/a.pdf",
				Checksum:       testChecksum,
				MimeType:       "application/pdf",
			})
			require.Error(t, err)
			var ref *shared.ReferenceError
			assert.Equal(t, tt.reference, errors.As(err, &ref))
		})
	}

	list, err := f.svc.List(ctx, f.company.ID, ListFilter{})
	require.NoError(t, err)
	assert.Zero(t, list.Total)
}

func TestService_Ingest_RequiresStoredContent(t *testing.T) {
	content := &stubContent{stored: map[string]bool{"s3://inbox/present.pdf": true}}
	f := newFixture(t, WithContentStore(content))
	ctx := context.Background()

	req := IngestRequest{
		CompanyID:      f.company.ID,
		ContentLocator: "s3://inbox/absent.pdf",
		Checksum:       testChecksum,
		MimeType:       "application/pdf",
	}
	_, err := f.svc.Ingest(ctx, req)
	var domainErr *shared.DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, "CONTENT_NOT_FOUND", domainErr.Code)

	req.ContentLocator = "s3://inbox/present.pdf"
	_, err = f.svc.Ingest(ctx, req)
	require.NoError(t, err)
}

func TestService_List_EnrichesAndCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.extractor.set(0.9)

	linked := f.ingest(t, &f.project.ID)
	pending := f.ingest(t, nil)
	out, err := f.svc.Process(ctx, linked.ID)
	require.NoError(t, err)
	require.Equal(t, posting.OutcomeLinked, out.Result)

	list, err := f.svc.List(ctx, f.company.ID, ListFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(2), list.Total)
	require.Len(t, list.Items, 2)

	byID := map[uuid.UUID]DocumentListItem{}
	for _, item := range list.Items {
		byID[item.ID] = item
	}
	got := byID[linked.ID]
	assert.Equal(t, document.VisibleLinked, got.Status)
	assert.Equal(t, "FIT-OUT", got.ProjectCode)
	require.NotNil(t, got.Amount)
	assert.True(t, decimal.RequireFromString("88.20").Equal(*got.Amount))
	assert.Equal(t, "EUR", got.Currency)
	assert.Nil(t, byID[pending.ID].Amount)

	calls := f.counted.lists.Load()
	_, err = f.svc.List(ctx, f.company.ID, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, calls, f.counted.lists.Load(), "second read is served from cache")

	f.ingest(t, nil)
	list, err = f.svc.List(ctx, f.company.ID, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), list.Total, "ingest invalidates the company's lists")
}

func TestService_List_ReflectsPipelineTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.extractor.set(0.3)
	doc := f.ingest(t, nil)

	list, err := f.svc.List(ctx, f.company.ID, ListFilter{})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, document.VisibleProcessing, list.Items[0].Status)

	_, err = f.svc.Process(ctx, doc.ID)
	require.NoError(t, err)

	list, err = f.svc.List(ctx, f.company.ID, ListFilter{})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, document.VisibleNeedsReview, list.Items[0].Status)

	inReview, err := f.svc.List(ctx, f.company.ID, ListFilter{Status: string(document.StatusNeedsReview)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), inReview.Total)

	_, err = f.svc.Review(ctx, doc.ID, ReviewRequest{Decision: DecisionReject, Reason: "blurry scan"})
	require.NoError(t, err)
	calls := f.counted.lists.Load()
	_, err = f.svc.List(ctx, f.company.ID, ListFilter{})
	require.NoError(t, err)
	assert.Greater(t, f.counted.lists.Load(), calls, "rejection drops cached lists")
}

func TestService_List_ApproveOverrideRefreshesOriginalProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.extractor.set(0.3)

	other, err := ledger.NewProject(f.company.ID, "HVAC", "Heating retrofit")
	require.NoError(t, err)
	require.NoError(t, f.ledger.CreateProject(ctx, other))

	doc := f.ingest(t, &f.project.ID)
	_, err = f.svc.Process(ctx, doc.ID)
	require.NoError(t, err)

	byProject := ListFilter{ProjectID: &f.project.ID}
	list, err := f.svc.List(ctx, f.company.ID, byProject)
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, document.VisibleNeedsReview, list.Items[0].Status)

	_, err = f.svc.Review(ctx, doc.ID, ReviewRequest{Decision: DecisionApprove, ProjectID: &other.ID})
	require.NoError(t, err)

	list, err = f.svc.List(ctx, f.company.ID, byProject)
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, document.VisibleLinked, list.Items[0].Status)
}

func TestService_List_RejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.List(context.Background(), f.company.ID, ListFilter{Status: "shredded"})
	require.Error(t, err)
}

func TestService_Review(t *testing.T) {
	ctx := context.Background()

	t.Run("approve with project override", func(t *testing.T) {
		f := newFixture(t)
		f.extractor.set(0.3)
		doc := f.ingest(t, nil)

		out, err := f.svc.Process(ctx, doc.ID)
		require.NoError(t, err)
		require.Equal(t, document.VisibleNeedsReview, out.Status)

		out, err = f.svc.Review(ctx, doc.ID, ReviewRequest{Decision: DecisionApprove, ProjectID: &f.project.ID})
		require.NoError(t, err)
		assert.Equal(t, posting.OutcomeLinked, out.Result)

		entry, err := f.svc.LedgerEntry(ctx, doc.ID)
		require.NoError(t, err)
		require.NotNil(t, entry.ProjectID)
		assert.Equal(t, f.project.ID, *entry.ProjectID)
	})

	t.Run("reject", func(t *testing.T) {
		f := newFixture(t)
		f.extractor.set(0.3)
		doc := f.ingest(t, nil)
		_, err := f.svc.Process(ctx, doc.ID)
		require.NoError(t, err)

		out, err := f.svc.Review(ctx, doc.ID, ReviewRequest{Decision: DecisionReject, Reason: "duplicate invoice"})
		require.NoError(t, err)
		assert.Equal(t, ResultRejected, out.Result)
		assert.Equal(t, document.VisibleNeedsReview, out.Status)

		got, err := f.svc.Get(ctx, doc.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Extraction)
		assert.Equal(t, document.LinkStatusRejected, got.Extraction.LinkStatus)

		markers, err := f.docs.ListOpenMarkers(ctx, nil, 10)
		require.NoError(t, err)
		assert.Empty(t, markers)

		_, err = f.svc.Review(ctx, doc.ID, ReviewRequest{Decision: DecisionApprove})
		assert.ErrorIs(t, err, shared.ErrInvalidState)
	})

	t.Run("document not in review", func(t *testing.T) {
		f := newFixture(t)
		doc := f.ingest(t, nil)
		_, err := f.svc.Review(ctx, doc.ID, ReviewRequest{Decision: DecisionReject})
		assert.ErrorIs(t, err, shared.ErrInvalidState)
	})

	t.Run("unknown decision", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Review(ctx, uuid.New(), ReviewRequest{Decision: "maybe"})
		require.Error(t, err)
	})
}

func TestService_LedgerEntry_NotFoundUntilLinked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.extractor.set(0.95)
	doc := f.ingest(t, nil)

	_, err := f.svc.LedgerEntry(ctx, doc.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.Process(ctx, doc.ID)
	require.NoError(t, err)
	entry, err := f.svc.LedgerEntry(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID.String(), entry.SourceRef)
}

func TestService_ClearCorrupt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.ingest(t, nil)

	require.NoError(t, f.docs.MarkCorrupt(ctx, doc.ID))
	_, err := f.svc.Get(ctx, doc.ID)
	var integrity *shared.DataIntegrityError
	require.True(t, errors.As(err, &integrity))

	resp, err := f.svc.ClearCorrupt(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, resp.ID)
}

func TestService_Orphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	missing := uuid.New()
	claim := &document.CrossStoreLink{
		DocumentID: uuid.New(),
		CompanyID:  f.company.ID,
		State:      document.LinkStatePosting,
		Version:    1,
		AttemptID:  uuid.New(),
		ClaimedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	require.NoError(t, f.docs.ClaimLink(ctx, claim))
	next := claim.Next(document.LinkStateLinked)
	next.LedgerEntryID = &missing
	require.NoError(t, f.docs.SwapLink(ctx, next, 1))

	orphans, err := f.svc.Orphans(ctx, &f.company.ID)
	require.NoError(t, err)
	kinds := map[document.MarkerReason]bool{}
	for _, o := range orphans {
		kinds[o.Kind] = true
	}
	assert.True(t, kinds[document.MarkerMissingDocument])
	assert.True(t, kinds[document.MarkerMissingLedgerEntry])
}
