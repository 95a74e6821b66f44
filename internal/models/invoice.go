package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoicing models. The core only needs enough of an invoice for a financial
// movement to point at; issuing and rendering live outside this module.
type Invoice struct {
	ID        uint            `gorm:"primaryKey"`
	Number    string          `gorm:"size:40;not null;uniqueIndex"`
	ClientID  uint            `gorm:"not null;index"`
	Client    Client          `gorm:"foreignKey:ClientID"`
	ProjectID *uint           `gorm:"index"` // projet concerné, optionnel
	TotalTTC  decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	Status    string          `gorm:"not null;default:'draft'"` // draft, issued, paid
	IssuedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
