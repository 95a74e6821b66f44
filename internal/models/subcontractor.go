package models

import "time"

// Subcontractor (sous-traitant) assignable to a stage.
type Subcontractor struct {
	ID        uint   `gorm:"primaryKey"`
	Nom       string `gorm:"not null;index"` // raison sociale
	Specialty string // ex: gros oeuvre, électricité, plomberie
	Contact   string // nom du contact principal
	Telephone string
	Email     string
	NINEA     string `gorm:"index"` // identifiant fiscal
	RCCM      string // registre du commerce
	CreatedAt time.Time
	UpdatedAt time.Time
}
