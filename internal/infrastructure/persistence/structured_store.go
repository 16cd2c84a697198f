package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/domain/ledger"
	"github.com/ledgerlink/backend/internal/domain/shared"
	"github.com/ledgerlink/backend/internal/infrastructure/persistence/models"
	"github.com/ledgerlink/backend/internal/infrastructure/pool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Constraint names reported when the driver does not supply one
const (
	constraintCompanyPK        = "companies_pkey"
	constraintProjectCode      = "projects_company_id_code_key"
	constraintProjectCompany   = "projects_company_id_fkey"
	constraintAccountCode      = "accounts_company_id_code_key"
	constraintAccountCompany   = "accounts_company_id_fkey"
	constraintEntryReferences  = "ledger_entries_company_refs_fkey"
	constraintEntryReversal    = "ledger_entries_reverses_entry_id_key"
	constraintRefReferences    = "document_refs_company_refs_fkey"
	constraintRefLinkedOnce    = "document_refs_ledger_entry_once"
	constraintLedgerAppendOnly = "ledger_append_only"
)

// documentContextColumns is the projection of BatchGetDocumentContexts
const documentContextColumns = `r.document_id, r.company_id, r.project_id, r.checksum, r.ledger_entry_id,
	r.created_at AS ref_created_at,
	p.code AS project_code, p.name AS project_name, p.status AS project_status,
	p.archived_at AS project_archived_at, p.created_at AS project_created_at,
	e.type AS entry_type, e.amount AS entry_amount, e.currency AS entry_currency,
	e.entry_date AS entry_date, e.source_ref AS entry_source_ref, e.created_at AS entry_created_at`

// StructuredStore implements ledger.Store over the relational store. Every
// call borrows a connection from the structured pool.
type StructuredStore struct {
	pool   *pool.Pool[*gorm.DB]
	retry  retrier
	logger *zap.Logger
}

// NewStructuredStore creates a StructuredStore
func NewStructuredStore(p *pool.Pool[*gorm.DB], opts ...StoreOption) *StructuredStore {
	cfg := newStoreConfig(opts)
	logger := cfg.logger.With(zap.String("store", StoreStructured))
	return &StructuredStore{
		pool:   p,
		retry:  retrier{store: StoreStructured, policy: cfg.policy, logger: logger},
		logger: logger,
	}
}

var _ ledger.Store = (*StructuredStore)(nil)

// exec runs fn on a pooled connection with transient retries. Driver errors
// are classified against target.
func (s *StructuredStore) exec(ctx context.Context, op string, target errorTarget, fn func(db *gorm.DB) error) error {
	return s.retry.run(ctx, op, func() error {
		return s.pool.Do(ctx, func(ctx context.Context, db *gorm.DB) error {
			return classify(fn(db.WithContext(ctx)), target)
		})
	})
}

// CreateCompany inserts a company
func (s *StructuredStore) CreateCompany(ctx context.Context, company *ledger.Company) error {
	m := models.CompanyModelFromDomain(company)
	target := errorTarget{entity: "company", id: company.ID.String(), unique: constraintCompanyPK}
	return s.exec(ctx, "create company", target, func(db *gorm.DB) error {
		return db.Create(m).Error
	})
}

// GetCompany loads a company by ID
func (s *StructuredStore) GetCompany(ctx context.Context, id uuid.UUID) (*ledger.Company, error) {
	var m models.CompanyModel
	err := s.exec(ctx, "get company", errorTarget{entity: "company"}, func(db *gorm.DB) error {
		return db.First(&m, "id = ?", id).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	return m.ToDomain(), nil
}

// CreateProject inserts a project. An unknown company is a ReferenceError and a
// duplicate code within the company is a ConflictError.
func (s *StructuredStore) CreateProject(ctx context.Context, project *ledger.Project) error {
	m := models.ProjectModelFromDomain(project)
	target := errorTarget{
		entity:    "project",
		id:        project.ID.String(),
		unique:    constraintProjectCode,
		reference: constraintProjectCompany,
	}
	return s.exec(ctx, "create project", target, func(db *gorm.DB) error {
		return db.Create(m).Error
	})
}

// GetProject loads a project by ID
func (s *StructuredStore) GetProject(ctx context.Context, id uuid.UUID) (*ledger.Project, error) {
	var m models.ProjectModel
	err := s.exec(ctx, "get project", errorTarget{entity: "project"}, func(db *gorm.DB) error {
		return db.First(&m, "id = ?", id).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	return m.ToDomain(), nil
}

// FindProjectByCode loads a project by its code within a company
func (s *StructuredStore) FindProjectByCode(ctx context.Context, companyID uuid.UUID, code string) (*ledger.Project, error) {
	var m models.ProjectModel
	err := s.exec(ctx, "find project", errorTarget{entity: "project"}, func(db *gorm.DB) error {
		return db.Where("company_id = ? AND code = ?", companyID, code).First(&m).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	return m.ToDomain(), nil
}

// ArchiveProject soft-deletes a project
func (s *StructuredStore) ArchiveProject(ctx context.Context, id uuid.UUID) error {
	return s.exec(ctx, "archive project", errorTarget{entity: "project", id: id.String()}, func(db *gorm.DB) error {
		var m models.ProjectModel
		if err := db.First(&m, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		project := m.ToDomain()
		if err := project.Archive(); err != nil {
			return err
		}
		result := db.Model(&models.ProjectModel{}).
			Where("id = ? AND status = ?", id, ledger.ProjectStatusActive).
			Updates(map[string]any{
				"status":      project.Status,
				"archived_at": project.ArchivedAt,
				"updated_at":  project.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return shared.ErrConcurrencyConflict
		}
		return nil
	})
}

// BatchGetProjectsByIDs loads all projects in one IN query. Missing IDs are skipped.
func (s *StructuredStore) BatchGetProjectsByIDs(ctx context.Context, ids []uuid.UUID) ([]ledger.Project, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return []ledger.Project{}, nil
	}
	var rows []models.ProjectModel
	err := s.exec(ctx, "batch get projects", errorTarget{entity: "project"}, func(db *gorm.DB) error {
		return db.Where("id IN ?", ids).Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	projects := make([]ledger.Project, 0, len(rows))
	for i := range rows {
		projects = append(projects, *rows[i].ToDomain())
	}
	return projects, nil
}

// CreateAccount inserts an account
func (s *StructuredStore) CreateAccount(ctx context.Context, account *ledger.Account) error {
	m := models.AccountModelFromDomain(account)
	target := errorTarget{
		entity:    "account",
		id:        account.ID.String(),
		unique:    constraintAccountCode,
		reference: constraintAccountCompany,
	}
	return s.exec(ctx, "create account", target, func(db *gorm.DB) error {
		return db.Create(m).Error
	})
}

// BatchGetAccountsByIDs loads accounts in one IN query
func (s *StructuredStore) BatchGetAccountsByIDs(ctx context.Context, ids []uuid.UUID) ([]ledger.Account, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return []ledger.Account{}, nil
	}
	var rows []models.AccountModel
	err := s.exec(ctx, "batch get accounts", errorTarget{entity: "account"}, func(db *gorm.DB) error {
		return db.Where("id IN ?", ids).Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	accounts := make([]ledger.Account, 0, len(rows))
	for i := range rows {
		accounts = append(accounts, *rows[i].ToDomain())
	}
	return accounts, nil
}

// CreateLedgerEntry appends an entry. A project or account of another company
// violates the composite foreign keys and surfaces as a ReferenceError.
func (s *StructuredStore) CreateLedgerEntry(ctx context.Context, entry *ledger.LedgerEntry) error {
	m := models.LedgerEntryModelFromDomain(entry)
	return s.exec(ctx, "create ledger entry", entryTarget(entry.ID), func(db *gorm.DB) error {
		return db.Create(m).Error
	})
}

// GetLedgerEntry loads an entry by ID
func (s *StructuredStore) GetLedgerEntry(ctx context.Context, id uuid.UUID) (*ledger.LedgerEntry, error) {
	var m models.LedgerEntryModel
	err := s.exec(ctx, "get ledger entry", errorTarget{entity: "ledger_entry"}, func(db *gorm.DB) error {
		return db.First(&m, "id = ?", id).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	return m.ToDomain(), nil
}

// GetLedgerEntriesByCompany returns one page of a company's entries and the total count
func (s *StructuredStore) GetLedgerEntriesByCompany(ctx context.Context, companyID uuid.UUID, filter ledger.LedgerEntryFilter) ([]ledger.LedgerEntry, int64, error) {
	page := filter.Filter.Normalize()
	var (
		rows  []models.LedgerEntryModel
		total int64
	)
	err := s.exec(ctx, "list ledger entries", errorTarget{entity: "ledger_entry"}, func(db *gorm.DB) error {
		query := db.Model(&models.LedgerEntryModel{}).Where("company_id = ?", companyID)
		if filter.ProjectID != nil {
			query = query.Where("project_id = ?", *filter.ProjectID)
		}
		if filter.Type != nil {
			query = query.Where("type = ?", *filter.Type)
		}
		if filter.From != nil {
			query = query.Where("entry_date >= ?", *filter.From)
		}
		if filter.To != nil {
			query = query.Where("entry_date <= ?", *filter.To)
		}
		if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
			return err
		}
		return query.
			Order(ledgerEntrySort.clause(page.OrderBy, page.OrderDir)).
			Offset(page.Offset()).
			Limit(page.PageSize).
			Find(&rows).Error
	})
	if err != nil {
		return nil, 0, err
	}
	entries := make([]ledger.LedgerEntry, 0, len(rows))
	for i := range rows {
		entries = append(entries, *rows[i].ToDomain())
	}
	return entries, total, nil
}

// BatchGetLedgerEntries loads entries in one IN query
func (s *StructuredStore) BatchGetLedgerEntries(ctx context.Context, ids []uuid.UUID) ([]ledger.LedgerEntry, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return []ledger.LedgerEntry{}, nil
	}
	var rows []models.LedgerEntryModel
	err := s.exec(ctx, "batch get ledger entries", errorTarget{entity: "ledger_entry"}, func(db *gorm.DB) error {
		return db.Where("id IN ?", ids).Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	entries := make([]ledger.LedgerEntry, 0, len(rows))
	for i := range rows {
		entries = append(entries, *rows[i].ToDomain())
	}
	return entries, nil
}

// UpdateLedgerEntryAmount always fails. Corrections are reversals.
func (s *StructuredStore) UpdateLedgerEntryAmount(_ context.Context, id uuid.UUID, _ decimal.Decimal) error {
	return shared.NewConflictError("ledger_entry", id.String(), constraintLedgerAppendOnly,
		fmt.Errorf("posted amounts are immutable, post a reversal instead"))
}

// ReverseLedgerEntry appends an offsetting entry. An entry can be reversed once.
func (s *StructuredStore) ReverseLedgerEntry(ctx context.Context, id uuid.UUID, reason string) (*ledger.LedgerEntry, error) {
	var reversal *ledger.LedgerEntry
	err := s.exec(ctx, "reverse ledger entry", entryTarget(id),
		func(db *gorm.DB) error {
			var m models.LedgerEntryModel
			if err := db.First(&m, "id = ?", id).Error; err != nil {
				return notFound(err)
			}
			r, err := m.ToDomain().Reverse(reason)
			if err != nil {
				return err
			}
			if err := db.Create(models.LedgerEntryModelFromDomain(r)).Error; err != nil {
				return err
			}
			reversal = r
			return nil
		})
	if err != nil {
		return nil, err
	}
	return reversal, nil
}

// CreateDocumentRef writes the structured-side pointer for an ingested document
func (s *StructuredStore) CreateDocumentRef(ctx context.Context, ref *ledger.DocumentRef) error {
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = time.Now().UTC()
	}
	m := models.DocumentRefModelFromDomain(ref)
	target := errorTarget{entity: "document_ref", id: ref.DocumentID.String(), reference: constraintRefReferences}
	return s.exec(ctx, "create document ref", target, func(db *gorm.DB) error {
		return db.Create(m).Error
	})
}

// PostLedgerEntryForDocument creates entry and points the document's ref at it
// in one transaction. The ref must exist, belong to the entry's company and
// not be linked yet.
func (s *StructuredStore) PostLedgerEntryForDocument(ctx context.Context, entry *ledger.LedgerEntry, documentID uuid.UUID) error {
	m := models.LedgerEntryModelFromDomain(entry)
	return s.exec(ctx, "post ledger entry", entryTarget(entry.ID), func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(m).Error; err != nil {
				return err
			}

			result := tx.Model(&models.DocumentRefModel{}).
				Where("document_id = ? AND company_id = ? AND ledger_entry_id IS NULL", documentID, entry.CompanyID).
				Update("ledger_entry_id", entry.ID)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 1 {
				return nil
			}

			var ref models.DocumentRefModel
			if err := tx.First(&ref, "document_id = ?", documentID).Error; err != nil {
				return shared.NewReferenceError("ledger_entry", documentID.String(), constraintRefReferences, notFound(err))
			}
			if ref.CompanyID != entry.CompanyID {
				return shared.NewReferenceError("ledger_entry", documentID.String(), constraintRefReferences,
					fmt.Errorf("document belongs to another company"))
			}
			return shared.NewConflictError("document_ref", documentID.String(), constraintRefLinkedOnce,
				fmt.Errorf("document already linked to ledger entry %s", ref.LedgerEntryID))
		})
	})
}

// BatchGetDocumentContexts loads refs joined with their project and ledger
// entry in a single query. Unknown IDs are absent from the result.
func (s *StructuredStore) BatchGetDocumentContexts(ctx context.Context, documentIDs []uuid.UUID) ([]ledger.DocumentContext, error) {
	documentIDs = uniqueIDs(documentIDs)
	if len(documentIDs) == 0 {
		return []ledger.DocumentContext{}, nil
	}
	var rows []models.DocumentContextRow
	err := s.exec(ctx, "batch get document contexts", errorTarget{entity: "document_ref"}, func(db *gorm.DB) error {
		return db.Table("document_refs AS r").
			Select(documentContextColumns).
			Joins("LEFT JOIN projects p ON p.id = r.project_id AND p.company_id = r.company_id").
			Joins("LEFT JOIN ledger_entries e ON e.id = r.ledger_entry_id AND e.company_id = r.company_id").
			Where("r.document_id IN ?", documentIDs).
			Scan(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	contexts := make([]ledger.DocumentContext, 0, len(rows))
	for i := range rows {
		contexts = append(contexts, rows[i].ToDomain())
	}
	return contexts, nil
}

func entryTarget(id uuid.UUID) errorTarget {
	return errorTarget{
		entity:    "ledger_entry",
		id:        id.String(),
		unique:    constraintEntryReversal,
		reference: constraintEntryReferences,
	}
}

// uniqueIDs drops nil and repeated IDs, keeping first-seen order
func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
