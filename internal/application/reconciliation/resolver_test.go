package reconciliation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/domain/document"
	"github.com/ledgerlink/backend/internal/domain/ledger"
	"github.com/ledgerlink/backend/internal/domain/shared"
	"github.com/ledgerlink/backend/internal/infrastructure/cache"
	"github.com/ledgerlink/backend/internal/infrastructure/config"
	"github.com/ledgerlink/backend/internal/infrastructure/event"
	"github.com/ledgerlink/backend/internal/infrastructure/persistence"
	"github.com/ledgerlink/backend/internal/infrastructure/scheduler"
	"github.com/ledgerlink/backend/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testChecksum = "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

type countingLedger struct {
	LedgerReader
	calls atomic.Int32
}

func (c *countingLedger) BatchGetLedgerEntries(ctx context.Context, ids []uuid.UUID) ([]ledger.LedgerEntry, error) {
	c.calls.Add(1)
	return c.LedgerReader.BatchGetLedgerEntries(ctx, ids)
}

type brokenLedger struct{}

func (brokenLedger) BatchGetLedgerEntries(context.Context, []uuid.UUID) ([]ledger.LedgerEntry, error) {
	return nil, &shared.StoreUnavailableError{Store: "structured", Attempts: 3, Err: errors.New("down")}
}

type markerRecorder struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (r *markerRecorder) Handle(_ context.Context, ev shared.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *markerRecorder) EventTypes() []string { return nil }

func (r *markerRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fixture struct {
	ledger  *persistence.StructuredStore
	docs    *persistence.DocumentStore
	company *ledger.Company
	events  *markerRecorder
	bus     *event.MemoryBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	retry := persistence.WithRetryPolicy(persistence.RetryPolicy{MaxRetries: 1, InitialInterval: time.Millisecond})
	ledgerStore := persistence.NewStructuredStore(
		testutil.NewPool(t, persistence.StoreStructured, testutil.NewStructuredDB(t), 4),
		persistence.WithLogger(logger), retry)
	docStore := persistence.NewDocumentStore(
		testutil.NewPool(t, persistence.StoreDocument, testutil.NewDocumentDB(t), 4),
		persistence.WithLogger(logger), retry)

	company, err := ledger.NewCompany("Acme", "USD")
	require.NoError(t, err)
	require.NoError(t, ledgerStore.CreateCompany(context.Background(), company))

	events := &markerRecorder{}
	bus := event.NewMemoryBus(logger)
	bus.Subscribe(events)
	return &fixture{ledger: ledgerStore, docs: docStore, company: company, events: events, bus: bus}
}

func (f *fixture) resolver(t *testing.T, opts ...Option) *Resolver {
	t.Helper()
	opts = append([]Option{WithPublisher(f.bus), WithLogger(zaptest.NewLogger(t))}, opts...)
	return NewResolver(f.docs, f.ledger, config.ReconciliationConfig{
		StaleClaimAfter: 10 * time.Minute,
		PageSize:        2,
	}, opts...)
}

func (f *fixture) document(t *testing.T) *document.Document {
	t.Helper()
	doc, err := document.NewDocument(f.company.ID, nil, "s3://docs/"+uuid.NewString()+".pdf", testChecksum, "application/pdf")
	require.NoError(t, err)
	require.NoError(t, f.docs.CreateDocument(context.Background(), doc))
	return doc
}

func (f *fixture) entry(t *testing.T) *ledger.LedgerEntry {
	t.Helper()
	e, err := ledger.NewLedgerEntry(f.company.ID, ledger.EntryTypeExpense, decimal.NewFromInt(40), "USD", time.Now(), "")
	require.NoError(t, err)
	require.NoError(t, f.ledger.CreateLedgerEntry(context.Background(), e))
	return e
}

// link writes a claim for documentID and, unless state is posting, swaps it
// to state pointing at entryID.
func (f *fixture) link(t *testing.T, documentID uuid.UUID, state document.LinkState, entryID *uuid.UUID) *document.CrossStoreLink {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	claim := &document.CrossStoreLink{
		DocumentID: documentID,
		CompanyID:  f.company.ID,
		State:      document.LinkStatePosting,
		Version:    1,
		AttemptID:  uuid.New(),
		ClaimedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, f.docs.ClaimLink(ctx, claim))
	if state == document.LinkStatePosting {
		return claim
	}
	next := claim.Next(state)
	next.LedgerEntryID = entryID
	require.NoError(t, f.docs.SwapLink(ctx, next, claim.Version))
	return next
}

func kinds(findings []OrphanedLink) map[uuid.UUID][]document.MarkerReason {
	out := make(map[uuid.UUID][]document.MarkerReason)
	for _, f := range findings {
		out[f.Link.DocumentID] = append(out[f.Link.DocumentID], f.Kind)
	}
	return out
}

func TestResolver_Resolve(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(t)
	ctx := context.Background()

	linkedDoc := f.document(t)
	e := f.entry(t)
	f.link(t, linkedDoc.ID, document.LinkStateLinked, &e.ID)

	got, err := r.Resolve(ctx, linkedDoc.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, e.ID, got.ID)

	t.Run("no link", func(t *testing.T) {
		got, err := r.Resolve(ctx, f.document(t).ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("claim in progress", func(t *testing.T) {
		doc := f.document(t)
		f.link(t, doc.ID, document.LinkStatePosting, nil)
		got, err := r.Resolve(ctx, doc.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("entry does not resolve", func(t *testing.T) {
		doc := f.document(t)
		missing := uuid.New()
		f.link(t, doc.ID, document.LinkStateLinked, &missing)
		got, err := r.Resolve(ctx, doc.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestResolver_Resolve_PropagatesStoreErrors(t *testing.T) {
	f := newFixture(t)
	doc := f.document(t)
	entryID := uuid.New()
	f.link(t, doc.ID, document.LinkStateLinked, &entryID)

	r := NewResolver(f.docs, brokenLedger{}, config.ReconciliationConfig{})
	_, err := r.Resolve(context.Background(), doc.ID)
	assert.ErrorIs(t, err, shared.ErrStoreUnavailable)
}

func TestResolver_Resolve_ConcurrentLookupsShareBatches(t *testing.T) {
	f := newFixture(t)
	counter := &countingLedger{LedgerReader: f.ledger}
	r := NewResolver(f.docs, counter, config.ReconciliationConfig{PageSize: 50})

	docs := make([]uuid.UUID, 8)
	for i := range docs {
		doc := f.document(t)
		e := f.entry(t)
		f.link(t, doc.ID, document.LinkStateLinked, &e.ID)
		docs[i] = doc.ID
	}

	var wg sync.WaitGroup
	for _, id := range docs {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			got, err := r.Resolve(context.Background(), id)
			assert.NoError(t, err)
			assert.NotNil(t, got)
		}(id)
	}
	wg.Wait()
	assert.LessOrEqual(t, int(counter.calls.Load()), len(docs))
}

func TestResolver_AuditOrphans(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(t)
	ctx := context.Background()

	healthy := f.document(t)
	e := f.entry(t)
	f.link(t, healthy.ID, document.LinkStateLinked, &e.ID)

	lostEntry := f.document(t)
	missingEntry := uuid.New()
	f.link(t, lostEntry.ID, document.LinkStateLinked, &missingEntry)

	purged := uuid.New()
	e2 := f.entry(t)
	f.link(t, purged, document.LinkStateLinked, &e2.ID)

	quarantined := f.document(t)
	e3 := f.entry(t)
	f.link(t, quarantined.ID, document.LinkStateLinked, &e3.ID)
	require.NoError(t, f.docs.MarkCorrupt(ctx, quarantined.ID))

	failed := f.document(t)
	e4 := f.entry(t)
	f.link(t, failed.ID, document.LinkStatePostingFailed, &e4.ID)

	claimed := f.document(t)
	f.link(t, claimed.ID, document.LinkStatePosting, nil)

	findings, err := r.AuditOrphans(ctx, AuditFilter{})
	require.NoError(t, err)
	got := kinds(findings)

	assert.NotContains(t, got, healthy.ID)
	assert.NotContains(t, got, quarantined.ID, "quarantined documents are not missing")
	assert.NotContains(t, got, claimed.ID, "fresh claims are not stale")
	assert.Equal(t, []document.MarkerReason{document.MarkerMissingLedgerEntry}, got[lostEntry.ID])
	assert.Equal(t, []document.MarkerReason{document.MarkerMissingDocument}, got[purged])
	assert.Equal(t, []document.MarkerReason{document.MarkerPostingFailed}, got[failed.ID])

	r.now = func() time.Time { return time.Now().Add(time.Hour) }
	findings, err = r.AuditOrphans(ctx, AuditFilter{})
	require.NoError(t, err)
	assert.Equal(t, []document.MarkerReason{document.MarkerStaleClaim}, kinds(findings)[claimed.ID])

	markers, err := f.docs.ListOpenMarkers(ctx, nil, 100)
	require.NoError(t, err)
	assert.Empty(t, markers, "auditing writes nothing")
}

func TestResolver_AuditOrphans_FiltersByCompany(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(t)
	missing := uuid.New()
	f.link(t, f.document(t).ID, document.LinkStateLinked, &missing)

	other := uuid.New()
	findings, err := r.AuditOrphans(context.Background(), AuditFilter{CompanyID: &other})
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestResolver_AuditOrphans_OneLedgerQueryPerPage(t *testing.T) {
	f := newFixture(t)
	counter := &countingLedger{LedgerReader: f.ledger}
	r := NewResolver(f.docs, counter, config.ReconciliationConfig{PageSize: 100})

	for i := 0; i < 5; i++ {
		e := f.entry(t)
		f.link(t, f.document(t).ID, document.LinkStateLinked, &e.ID)
	}
	findings, err := r.AuditOrphans(context.Background(), AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, findings)
	assert.Equal(t, int32(1), counter.calls.Load())
}

func TestResolver_RunAudit_RaisesEachFindingOnce(t *testing.T) {
	f := newFixture(t)
	seen := cache.NewMemorySeenSet()
	t.Cleanup(func() { _ = seen.Close() })
	r := f.resolver(t, WithSeenSet(seen, time.Hour))
	ctx := context.Background()

	lost := f.document(t)
	missing := uuid.New()
	f.link(t, lost.ID, document.LinkStateLinked, &missing)

	failed := f.document(t)
	e := f.entry(t)
	f.link(t, failed.ID, document.LinkStatePostingFailed, &e.ID)

	raised, err := r.RunAudit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, raised, "posting_failed findings were raised by the pipeline")
	assert.Equal(t, 1, f.events.Len())

	markers, err := f.docs.ListOpenMarkers(ctx, nil, 100)
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, lost.ID, markers[0].DocumentID)
	assert.Equal(t, document.MarkerMissingLedgerEntry, markers[0].Reason)
	require.NotNil(t, markers[0].LedgerEntryID)
	assert.Equal(t, missing, *markers[0].LedgerEntryID)

	raised, err = r.RunAudit(ctx)
	require.NoError(t, err)
	assert.Zero(t, raised)

	// A resolved marker is not raised again while the finding is remembered.
	require.NoError(t, f.docs.ResolveMarkers(ctx, lost.ID, ""))
	raised, err = r.RunAudit(ctx)
	require.NoError(t, err)
	assert.Zero(t, raised)
	assert.Equal(t, 1, f.events.Len())
}

func TestResolver_RunAudit_WithoutSeenSetUsesOpenMarkers(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(t)
	ctx := context.Background()

	lost := f.document(t)
	missing := uuid.New()
	f.link(t, lost.ID, document.LinkStateLinked, &missing)

	raised, err := r.RunAudit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, raised)

	raised, err = r.RunAudit(ctx)
	require.NoError(t, err)
	assert.Zero(t, raised)

	require.NoError(t, f.docs.ResolveMarkers(ctx, lost.ID, ""))
	raised, err = r.RunAudit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, raised)
}

func TestResolver_RunAudit_UnderScheduler(t *testing.T) {
	f := newFixture(t)
	r := f.resolver(t)
	missing := uuid.New()
	f.link(t, f.document(t).ID, document.LinkStateLinked, &missing)

	s, err := scheduler.NewAuditScheduler(r.RunAudit, scheduler.NewLocalLocker(), zaptest.NewLogger(t), scheduler.AuditSchedulerConfig{
		Enabled:  true,
		Interval: time.Hour,
		LockKey:  "ledgerlink:audit",
		LockTTL:  time.Minute,
	})
	require.NoError(t, err)

	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
