package posting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/domain/document"
	"github.com/ledgerlink/backend/internal/domain/ledger"
	"github.com/ledgerlink/backend/internal/domain/shared"
)

const maxDescriptionLen = 500

// postingTarget is an extraction result with its references resolved
type postingTarget struct {
	company   *ledger.Company
	project   *ledger.Project
	entryType ledger.EntryType
	currency  string
}

func (t *postingTarget) projectID() *uuid.UUID {
	if t.project == nil {
		return nil
	}
	id := t.project.ID
	return &id
}

// ledgerEntry builds the entry the document posts. The document ID is the
// source reference so the ledger side can be traced back without a join.
func (t *postingTarget) ledgerEntry(doc *document.Document, result document.ExtractionResult) (*ledger.LedgerEntry, error) {
	date, ok := result.TransactionDate()
	if !ok {
		date = doc.CreatedAt
		if date.IsZero() {
			date = time.Now().UTC()
		}
	}
	entry, err := ledger.NewLedgerEntry(doc.CompanyID, t.entryType, result.Amount, t.currency, date, doc.ID.String())
	if err != nil {
		return nil, err
	}
	if err := entry.WithProject(t.project); err != nil {
		return nil, err
	}
	entry.Description = truncate(strings.TrimSpace(result.Entity(document.EntityDescription)), maxDescriptionLen)
	return entry, nil
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// resolveTarget resolves the company and project an extraction refers to. A
// non-empty reason means the result cannot be posted automatically; err is
// reserved for store failures.
func (p *Pipeline) resolveTarget(ctx context.Context, doc *document.Document, result document.ExtractionResult) (*postingTarget, string, error) {
	company, err := p.ledger.GetCompany(ctx, doc.CompanyID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Sprintf("company %s does not exist", doc.CompanyID), nil
	}
	if err != nil {
		return nil, "", err
	}
	if !companyMatches(company, result.CompanyRef) {
		return nil, fmt.Sprintf("company reference %q does not match the document's company", result.CompanyRef), nil
	}

	target := &postingTarget{company: company}

	if !result.Amount.IsPositive() {
		return nil, "extracted amount must be positive", nil
	}
	if target.currency, err = ledger.NormalizeCurrency(result.Currency); err != nil {
		return nil, fmt.Sprintf("currency %q is not a valid ISO 4217 code", result.Currency), nil
	}
	if target.entryType, err = ledger.ParseEntryType(result.Entity(document.EntityEntryType)); err != nil {
		return nil, err.Error(), nil
	}

	project, reason, err := p.resolveProject(ctx, doc, result.ProjectRef)
	if err != nil || reason != "" {
		return nil, reason, err
	}
	target.project = project
	return target, "", nil
}

func (p *Pipeline) resolveProject(ctx context.Context, doc *document.Document, ref string) (*ledger.Project, string, error) {
	ref = strings.TrimSpace(ref)

	var (
		project *ledger.Project
		err     error
	)
	switch {
	case ref == "" && doc.ProjectID == nil:
		return nil, "", nil
	case ref == "":
		project, err = p.ledger.GetProject(ctx, *doc.ProjectID)
	default:
		if id, parseErr := uuid.Parse(ref); parseErr == nil {
			project, err = p.ledger.GetProject(ctx, id)
		} else {
			project, err = p.ledger.FindProjectByCode(ctx, doc.CompanyID, ref)
		}
	}
	if errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Sprintf("project reference %q does not resolve", ref), nil
	}
	if err != nil {
		return nil, "", err
	}

	if !project.BelongsTo(doc.CompanyID) {
		return nil, fmt.Sprintf("project %s belongs to another company", project.ID), nil
	}
	if !project.IsActive() {
		return nil, fmt.Sprintf("project %s is archived", project.Code), nil
	}
	if doc.ProjectID != nil && *doc.ProjectID != project.ID {
		return nil, fmt.Sprintf("extracted project %s differs from the document's project", project.Code), nil
	}
	return project, "", nil
}

// companyMatches accepts an empty reference, the company ID or its name
func companyMatches(company *ledger.Company, ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return true
	}
	if id, err := uuid.Parse(ref); err == nil {
		return id == company.ID
	}
	return strings.EqualFold(ref, company.Name)
}
