// Package metadata enriches known document IDs with data from both stores in
// a fixed number of round trips.
package metadata

import (
	"context"

	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/domain/document"
	"github.com/ledgerlink/backend/internal/domain/ledger"
	"github.com/ledgerlink/backend/internal/infrastructure/telemetry"
	"golang.org/x/sync/errgroup"
)

// DocumentReader is the batch read of the document store
type DocumentReader interface {
	BatchGetDocumentMetadata(ctx context.Context, ids []uuid.UUID) ([]document.Metadata, error)
}

// LedgerReader is the batch read of the structured store
type LedgerReader interface {
	BatchGetDocumentContexts(ctx context.Context, documentIDs []uuid.UUID) ([]ledger.DocumentContext, error)
}

// Metadata is a document joined with its structured-side context
type Metadata struct {
	Document    document.Metadata   `json:"document"`
	Ref         *ledger.DocumentRef `json:"ref,omitempty"`
	Project     *ledger.Project     `json:"project,omitempty"`
	LedgerEntry *ledger.LedgerEntry `json:"ledger_entry,omitempty"`
}

// Loader loads metadata for document IDs with one query per store
type Loader struct {
	docs   DocumentReader
	ledger LedgerReader
}

// NewLoader creates a Loader
func NewLoader(docs DocumentReader, ledgerReader LedgerReader) *Loader {
	return &Loader{docs: docs, ledger: ledgerReader}
}

// LoadMetadataFor returns metadata keyed by document ID. The two stores are
// queried concurrently, once each, whatever the number of IDs. IDs unknown to
// the document store, or quarantined there, are absent from the map.
func (l *Loader) LoadMetadataFor(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Metadata, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]Metadata{}, nil
	}
	ctx, span := telemetry.StartSpan(ctx, "metadata.load", "ids", len(ids))
	defer span.End()

	var (
		docs     []document.Metadata
		contexts []ledger.DocumentContext
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		docs, err = l.docs.BatchGetDocumentMetadata(gctx, ids)
		return err
	})
	g.Go(func() error {
		var err error
		contexts, err = l.ledger.BatchGetDocumentContexts(gctx, ids)
		return err
	})
	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	byDocument := make(map[uuid.UUID]*ledger.DocumentContext, len(contexts))
	for i := range contexts {
		byDocument[contexts[i].Ref.DocumentID] = &contexts[i]
	}

	out := make(map[uuid.UUID]Metadata, len(docs))
	for _, d := range docs {
		m := Metadata{Document: d}
		if c, ok := byDocument[d.ID]; ok && c.Ref.CompanyID == d.CompanyID {
			ref := c.Ref
			m.Ref = &ref
			m.Project = c.Project
			m.LedgerEntry = c.LedgerEntry
		}
		out[d.ID] = m
	}
	telemetry.SetAttributes(span, "found", len(out))
	return out, nil
}

// Ordered returns the loaded metadata in the order of ids, skipping absent ones
func Ordered(ids []uuid.UUID, loaded map[uuid.UUID]Metadata) []Metadata {
	out := make([]Metadata, 0, len(loaded))
	for _, id := range ids {
		if m, ok := loaded[id]; ok {
			out = append(out, m)
		}
	}
	return out
}
