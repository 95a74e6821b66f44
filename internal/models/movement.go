package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Financial movements: append-only ledger attached to a project, optionally
// scoped to one of its stages. Corrections are new movements, never edits.

type MovementDirection string

const (
	MovementInflow  MovementDirection = "inflow"  // encaissement
	MovementOutflow MovementDirection = "outflow" // décaissement
)

type FinancialMovement struct {
	ID        uint              `gorm:"primaryKey"`
	Reference string            `gorm:"size:36;not null;uniqueIndex"` // uuid
	Label     string            `gorm:"not null"`
	Amount    decimal.Decimal   `gorm:"type:decimal(18,2);not null"` // > 0
	Direction MovementDirection `gorm:"type:varchar(10);not null;index"`
	Date      time.Time         `gorm:"not null"`

	ProjectID uint  `gorm:"not null;index"`
	StageID   *uint `gorm:"index"` // nil = mouvement direct projet
	InvoiceID *uint // facture liée, optionnel

	CreatedAt time.Time
}
