package services

import (
	"errors"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dfall/chantier-app/internal/models"
)

// Stage lifecycle machine.
//
//	planned -> in_progress -> {completed | suspended | cancelled}
//	suspended -> in_progress
//
// completed and cancelled are terminal. Explicit commands and progress-driven
// auto-transitions run through the same transition function, so the implicit
// completion at 100% and the explicit complete command cannot disagree or
// double-stamp.

type StageCommand string

const (
	CmdStart    StageCommand = "start"
	CmdComplete StageCommand = "complete"
	CmdSuspend  StageCommand = "suspend"
	CmdResume   StageCommand = "resume"
	CmdCancel   StageCommand = "cancel"
)

// stageEvent is the tagged union dispatched to the transition function:
// either an explicit command or a progress update, never both.
type stageEvent struct {
	command  StageCommand
	progress *int
}

// transitionStage applies ev to st in place. now is the timestamp used for
// the actual-date stamps. All guards live here and nowhere else.
func transitionStage(st *models.Stage, ev stageEvent, now time.Time) error {
	if ev.progress != nil {
		p := *ev.progress
		if p < 0 || p > 100 {
			return validationf("progress", "must be within [0,100], got %d", p)
		}
		// Progress is only editable while execution is running.
		if st.Status != models.StageInProgress {
			return &InvalidStateError{StageID: st.ID, Status: st.Status, Op: "set progress"}
		}
		if p == 100 {
			return transitionStage(st, stageEvent{command: CmdComplete}, now)
		}
		st.Progress = p
		return nil
	}

	switch ev.command {
	case CmdStart:
		if st.Status != models.StagePlanned {
			return &InvalidStateError{StageID: st.ID, Status: st.Status, Op: "start"}
		}
		st.Status = models.StageInProgress
		if st.Progress == 0 {
			st.Progress = 1 // exécution visiblement démarrée
		}
		if st.ActualStart == nil {
			d := DateOnly(now)
			st.ActualStart = &d
		}
	case CmdComplete:
		if st.Status != models.StageInProgress {
			return &InvalidStateError{StageID: st.ID, Status: st.Status, Op: "complete"}
		}
		st.Status = models.StageCompleted
		st.Progress = 100
		d := DateOnly(now)
		st.ActualEnd = &d
	case CmdSuspend:
		if st.Status != models.StageInProgress {
			return &InvalidStateError{StageID: st.ID, Status: st.Status, Op: "suspend"}
		}
		st.Status = models.StageSuspended
	case CmdResume:
		if st.Status != models.StageSuspended {
			return &InvalidStateError{StageID: st.ID, Status: st.Status, Op: "resume"}
		}
		st.Status = models.StageInProgress
	case CmdCancel:
		if models.IsTerminalStageStatus(st.Status) {
			return &InvalidStateError{StageID: st.ID, Status: st.Status, Op: "cancel"}
		}
		st.Status = models.StageCancelled
	default:
		return validationf("command", "unknown stage command %q", ev.command)
	}
	return nil
}

// StageService drives persisted stages through the lifecycle with
// optimistic-concurrency discipline: the prior status is re-validated by the
// UPDATE itself, and a vanished row count means a concurrent writer won.
type StageService struct{ DB *gorm.DB }

func NewStageService(db *gorm.DB) *StageService { return &StageService{DB: db} }

// Apply runs an explicit command against a stage.
func (s *StageService) Apply(stageID uint, cmd StageCommand, userID uint) (*models.Stage, error) {
	return s.dispatch(stageID, stageEvent{command: cmd}, userID)
}

// SetProgress runs a progress update against a stage. Setting 100 while
// in_progress completes the stage.
func (s *StageService) SetProgress(stageID uint, progress int, userID uint) (*models.Stage, error) {
	return s.dispatch(stageID, stageEvent{progress: &progress}, userID)
}

func (s *StageService) dispatch(stageID uint, ev stageEvent, userID uint) (*models.Stage, error) {
	var out models.Stage
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		st, err := loadStage(tx, stageID)
		if err != nil {
			return err
		}
		if !st.Active {
			return preconditionf("stage", st.ID, "inactive")
		}
		prevStatus := st.Status
		prevProgress := st.Progress
		if err := transitionStage(st, ev, time.Now()); err != nil {
			return err
		}

		res := tx.Model(&models.Stage{}).
			Where("id = ? AND status = ? AND active = ?", st.ID, prevStatus, true).
			Updates(map[string]any{
				"status":       st.Status,
				"progress":     st.Progress,
				"actual_start": st.ActualStart,
				"actual_end":   st.ActualEnd,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &ConflictError{Entity: "stage", ID: st.ID}
		}

		action := string(ev.command)
		if ev.progress != nil {
			action = "progress"
		}
		if err := tx.Create(&models.AuditLog{
			UserID:     userID,
			EntityType: "Stage",
			EntityID:   st.ID,
			Action:     action,
			Field:      "status",
			OldValue:   string(prevStatus) + "/" + strconv.Itoa(prevProgress),
			NewValue:   string(st.Status) + "/" + strconv.Itoa(st.Progress),
		}).Error; err != nil {
			return err
		}
		out = *st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Deactivate soft-deletes a stage. Refused when the project would be left
// without any active stage; history and movements stay addressable.
func (s *StageService) Deactivate(stageID, userID uint) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		st, err := loadStage(tx, stageID)
		if err != nil {
			return err
		}
		if !st.Active {
			return preconditionf("stage", st.ID, "already inactive")
		}
		// The active-sibling requirement is part of the UPDATE predicate
		// itself, so two racing deactivations of the last two active stages
		// cannot both pass a prior count and strand the project.
		res := tx.Model(&models.Stage{}).
			Where("id = ? AND active = ?", st.ID, true).
			Where("EXISTS (SELECT 1 FROM stages siblings WHERE siblings.project_id = ? AND siblings.id <> ? AND siblings.active = ?)",
				st.ProjectID, st.ID, true).
			Update("active", false)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var others int64
			if err := tx.Model(&models.Stage{}).
				Where("project_id = ? AND id <> ? AND active = ?", st.ProjectID, st.ID, true).
				Count(&others).Error; err != nil {
				return err
			}
			if others == 0 {
				return preconditionf("project", st.ProjectID, "must keep at least one active stage")
			}
			return &ConflictError{Entity: "stage", ID: st.ID}
		}
		return tx.Create(&models.AuditLog{
			UserID: userID, EntityType: "Stage", EntityID: st.ID,
			Action: "deactivate", Field: "active", OldValue: "true", NewValue: "false",
		}).Error
	})
}

// Reactivate flips the flag back; status and progress are preserved.
func (s *StageService) Reactivate(stageID, userID uint) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		st, err := loadStage(tx, stageID)
		if err != nil {
			return err
		}
		if st.Active {
			return preconditionf("stage", st.ID, "already active")
		}
		res := tx.Model(&models.Stage{}).
			Where("id = ? AND active = ?", st.ID, false).
			Update("active", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &ConflictError{Entity: "stage", ID: st.ID}
		}
		return tx.Create(&models.AuditLog{
			UserID: userID, EntityType: "Stage", EntityID: st.ID,
			Action: "reactivate", Field: "active", OldValue: "false", NewValue: "true",
		}).Error
	})
}

// StageInput creates a stage by hand on an existing project, outside of
// conversion (extra works, avenant).
type StageInput struct {
	ProjectID       uint
	Name            string
	PlannedStart    time.Time
	PlannedEnd      time.Time
	PlannedBudget   decimal.Decimal
	SubcontractorID *uint
}

func (s *StageService) Create(in StageInput, userID uint) (*models.Stage, error) {
	if in.Name == "" {
		return nil, validationf("name", "required")
	}
	if in.PlannedStart.IsZero() || in.PlannedEnd.IsZero() {
		return nil, validationf("planned_dates", "required")
	}
	start, end := DateOnly(in.PlannedStart), DateOnly(in.PlannedEnd)
	if end.Before(start) {
		return nil, validationf("planned_end", "must not precede planned start")
	}
	if in.PlannedBudget.IsNegative() {
		return nil, validationf("planned_budget", "must not be negative, got %s", in.PlannedBudget)
	}
	var st models.Stage
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var project models.Project
		if err := tx.First(&project, in.ProjectID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return validationf("project_id", "project %d not found", in.ProjectID)
			}
			return err
		}
		var maxPos int
		row := tx.Model(&models.Stage{}).Where("project_id = ?", project.ID).
			Select("COALESCE(MAX(position), 0)").Row()
		if err := row.Scan(&maxPos); err != nil {
			return err
		}
		st = models.Stage{
			ProjectID:       project.ID,
			Name:            in.Name,
			Position:        maxPos + 1,
			PlannedStart:    start,
			PlannedEnd:      end,
			PlannedBudget:   in.PlannedBudget,
			Status:          models.StagePlanned,
			SubcontractorID: in.SubcontractorID,
			Active:          true,
		}
		if err := tx.Create(&st).Error; err != nil {
			return err
		}
		return tx.Create(&models.AuditLog{
			UserID: userID, EntityType: "Stage", EntityID: st.ID, Action: "create",
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func loadStage(tx *gorm.DB, stageID uint) (*models.Stage, error) {
	var st models.Stage
	if err := tx.First(&st, stageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, validationf("stage_id", "stage %d not found", stageID)
		}
		return nil, err
	}
	return &st, nil
}
