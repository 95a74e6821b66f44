package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Estimate (DQE) models: three-level cost breakdown Lot -> Chapter -> Item.

type EstimateStatus string

const (
	EstimateDraft     EstimateStatus = "draft"     // structure librement modifiable
	EstimateValidated EstimateStatus = "validated" // structure gelée, prêt à convertir
	EstimateConverted EstimateStatus = "converted" // lecture seule, projet créé
)

// Units of measure accepted on an Item line.
const (
	UnitM3   = "m3"   // mètre cube
	UnitML   = "ml"   // mètre linéaire
	UnitM2   = "m2"   // mètre carré
	UnitENS  = "ens"  // ensemble
	UnitFORF = "forf" // forfait
	UnitU    = "u"    // unité
	UnitKG   = "kg"
	UnitT    = "t"
	UnitH    = "h"
)

var knownUnits = map[string]bool{
	UnitM3: true, UnitML: true, UnitM2: true, UnitENS: true,
	UnitFORF: true, UnitU: true, UnitKG: true, UnitT: true, UnitH: true,
}

// IsValidUnit reports whether u is a known unit of measure.
func IsValidUnit(u string) bool { return knownUnits[u] }

type Estimate struct {
	ID              uint            `gorm:"primaryKey"`
	Reference       string          `gorm:"size:40;not null;uniqueIndex"` // ex: DQE-2025-0001
	Name            string          `gorm:"not null"`
	ClientID        uint            `gorm:"not null;index"`
	Client          Client          `gorm:"foreignKey:ClientID"`
	Status          EstimateStatus  `gorm:"type:varchar(20);not null;default:'draft';index"`
	VATRate         decimal.Decimal `gorm:"type:decimal(5,2);not null;default:18"` // taux de TVA en %
	DiscountPercent decimal.Decimal `gorm:"type:decimal(5,2);not null;default:0"`  // remise en %
	DiscountFlat    decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"` // remise forfaitaire HT
	Lots            []Lot           `gorm:"foreignKey:EstimateID"`

	// GrossHT is display state owned by the aggregator, never edited directly.
	GrossHT decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`

	// Conversion link, written once when the estimate becomes a project.
	ConvertedProjectID *uint
	ConvertedAt        *time.Time
	ConvertedBy        *uint
	ConversionToken    string `gorm:"size:36"` // uuid, traçabilité du lien devis/projet

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Lot struct {
	ID         uint      `gorm:"primaryKey"`
	EstimateID uint      `gorm:"not null;index:idx_estimate_lot_code,priority:1"`
	Code       string    `gorm:"size:20;not null;index:idx_estimate_lot_code,unique,priority:2"`
	Name       string    `gorm:"not null"`
	Position   int       `gorm:"not null"` // ordinal 1-based, ordre d'allocation par défaut
	Chapters   []Chapter `gorm:"foreignKey:LotID"`

	// Aggregator-owned display state.
	TotalHT           decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	PercentOfEstimate decimal.Decimal `gorm:"type:decimal(8,4);not null;default:0"` // part du devis en %

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Chapter struct {
	ID       uint   `gorm:"primaryKey"`
	LotID    uint   `gorm:"not null;index"`
	Code     string `gorm:"size:20;not null"`
	Name     string `gorm:"not null"`
	Position int    `gorm:"not null"`
	Items    []Item `gorm:"foreignKey:ChapterID"`

	TotalHT decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Item struct {
	ID          uint            `gorm:"primaryKey"`
	ChapterID   uint            `gorm:"not null;index"`
	Code        string          `gorm:"size:20;not null"`
	Designation string          `gorm:"not null"`
	Unit        string          `gorm:"size:10;not null"`                      // unité de mesure, voir constantes Unit*
	Quantity    decimal.Decimal `gorm:"type:decimal(18,3);not null;default:0"` // >= 0
	UnitPrice   decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"` // prix unitaire HT, >= 0

	// LineTotal = Quantity x UnitPrice, recomputed by the aggregator.
	LineTotal decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
