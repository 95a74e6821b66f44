package models

import "time"

// User related models. Authentication lives outside this module; the core
// only keeps a user record for attribution (conversion, audit trail).
type User struct {
	ID        uint   `gorm:"primaryKey"`
	Email     string `gorm:"unique;not null;index"`
	Nom       string `gorm:"index"`
	Prenom    string `gorm:"index"`
	RoleID    uint   // clé étrangère vers Role
	Role      Role   `gorm:"foreignKey:RoleID"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Role struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"unique;not null"` // admin, conducteur, comptable
	Description string // optionnel
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
