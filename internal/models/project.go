package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Project & stage execution models. A project is created once, by converting
// a validated estimate; each lot becomes one stage.

type StageStatus string

const (
	StagePlanned    StageStatus = "planned"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
	StageSuspended  StageStatus = "suspended"
	StageCancelled  StageStatus = "cancelled"
)

// IsTerminalStageStatus reports whether no further transition is allowed.
func IsTerminalStageStatus(s StageStatus) bool {
	return s == StageCompleted || s == StageCancelled
}

type Project struct {
	ID         uint      `gorm:"primaryKey"`
	Name       string    `gorm:"not null;index"`
	StartDate  time.Time `gorm:"not null"` // date calendaire, minuit UTC
	PlannedEnd time.Time `gorm:"not null"`

	InitialBudget decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"` // budget HT à la conversion
	RevisedBudget decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`

	// Permanent directional link back to the source estimate.
	SourceEstimateID uint `gorm:"not null;uniqueIndex"`

	ManagerID uint    `gorm:"index"` // conducteur de travaux
	Manager   User    `gorm:"foreignKey:ManagerID"`
	Stages    []Stage `gorm:"foreignKey:ProjectID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Stage struct {
	ID        uint   `gorm:"primaryKey"`
	ProjectID uint   `gorm:"not null;index"`
	Name      string `gorm:"not null"`
	Position  int    `gorm:"not null"`

	PlannedStart time.Time `gorm:"not null"`
	PlannedEnd   time.Time `gorm:"not null"`
	ActualStart  *time.Time
	ActualEnd    *time.Time

	PlannedBudget decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"` // HT, avant remise

	Progress int         `gorm:"not null;default:0"` // avancement en % [0,100]
	Status   StageStatus `gorm:"type:varchar(20);not null;default:'planned';index"`

	SubcontractorID *uint          // sous-traitant affecté, optionnel
	Subcontractor   *Subcontractor `gorm:"foreignKey:SubcontractorID"`

	// Soft delete: an inactive stage is excluded from aggregates and
	// validations but its movements stay addressable.
	Active bool `gorm:"not null;default:true;index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
