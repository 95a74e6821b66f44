package services

import (
	"fmt"

	"github.com/dfall/chantier-app/internal/models"
)

// Error taxonomy. Every rejected operation returns one of these with enough
// context (entity, field, lot/stage code) to present to a user. Nothing is
// silently swallowed and partial writes are never committed.

// ValidationError: malformed or out-of-range input. Recoverable, no state mutated.
type ValidationError struct {
	Field  string // champ ou code de l'entité en cause
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// PreconditionError: the entity is not in a state that allows the requested
// operation (estimate not validated, already converted, last active stage...).
// Recoverable, no state mutated.
type PreconditionError struct {
	Entity string
	ID     uint
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition: %s %d: %s", e.Entity, e.ID, e.Reason)
}

func preconditionf(entity string, id uint, format string, args ...any) error {
	return &PreconditionError{Entity: entity, ID: id, Reason: fmt.Sprintf(format, args...)}
}

// ConflictError: a concurrent mutation was detected at commit time. The
// caller should re-fetch and retry.
type ConflictError struct {
	Entity string
	ID     uint
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s %d was modified concurrently", e.Entity, e.ID)
}

// InvalidStateError: a stage operation not allowed in the stage's current
// status (progress edit outside in_progress, transition from a terminal state).
type InvalidStateError struct {
	StageID uint
	Status  models.StageStatus
	Op      string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state: stage %d is %s, cannot %s", e.StageID, e.Status, e.Op)
}

// ConsistencyError: an aggregation invariant does not hold on stored data.
// Treated as a defect: logged by the caller and the operation aborted rather
// than persisting inconsistent totals.
type ConsistencyError struct {
	Node   string // ex: "lot GO", "chapter GO.100"
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency: %s: %s", e.Node, e.Detail)
}
