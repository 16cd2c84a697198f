package shared

import (
	"time"

	"github.com/google/uuid"
)

// BaseEntity carries identity and timestamps. Timestamps are always UTC.
type BaseEntity struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewBaseEntity() BaseEntity {
	now := time.Now().UTC()
	return BaseEntity{ID: uuid.New(), CreatedAt: now, UpdatedAt: now}
}

// CompanyEntity lives inside one company's isolation boundary
type CompanyEntity struct {
	BaseEntity
	CompanyID uuid.UUID `json:"company_id"`
}

func NewCompanyEntity(companyID uuid.UUID) CompanyEntity {
	return CompanyEntity{BaseEntity: NewBaseEntity(), CompanyID: companyID}
}

// BelongsTo reports whether the entity is inside the given company
func (e CompanyEntity) BelongsTo(companyID uuid.UUID) bool {
	return e.CompanyID == companyID
}
