package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/domain/shared"
)

// BaseModel is the identity and timestamp columns every table carries
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (m *BaseModel) Entity() shared.BaseEntity {
	return shared.BaseEntity{ID: m.ID, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt}
}

func (m *BaseModel) SetEntity(e shared.BaseEntity) {
	m.ID, m.CreatedAt, m.UpdatedAt = e.ID, e.CreatedAt, e.UpdatedAt
}

// CompanyScopedModel is BaseModel plus the owning company, indexed because
// every listing filters on it.
type CompanyScopedModel struct {
	BaseModel
	CompanyID uuid.UUID `gorm:"type:uuid;not null;index"`
}

func (m *CompanyScopedModel) CompanyEntity() shared.CompanyEntity {
	return shared.CompanyEntity{BaseEntity: m.Entity(), CompanyID: m.CompanyID}
}

func (m *CompanyScopedModel) SetCompanyEntity(e shared.CompanyEntity) {
	m.SetEntity(e.BaseEntity)
	m.CompanyID = e.CompanyID
}
