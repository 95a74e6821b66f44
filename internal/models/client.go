package models

import "time"

// Client entity (maître d'ouvrage)
type Client struct {
	ID            uint   `gorm:"primaryKey"`
	Nom           string `gorm:"not null;index"` // raison sociale ou nom
	NomCommercial string `gorm:"index"`
	Contact       string // nom du contact principal
	Telephone     string
	Email         string
	Adresse       string
	Ville         string
	Pays          string
	NINEA         string `gorm:"index"` // identifiant fiscal
	RCCM          string // registre du commerce
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
