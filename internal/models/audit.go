package models

import "time"

// Audit logging
type AuditLog struct {
	ID         uint      `gorm:"primaryKey"`
	UserID     uint      // qui a fait la modification
	EntityType string    // ex: "Estimate", "Project", "Stage"
	EntityID   uint      // ID de l'entité modifiée
	Action     string    // ex: "validate", "convert", "start", "complete"
	Field      string    // champ modifié (optionnel)
	OldValue   string    // ancienne valeur (optionnel)
	NewValue   string    // nouvelle valeur (optionnel)
	CreatedAt  time.Time // quand
}
