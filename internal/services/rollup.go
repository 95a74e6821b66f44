package services

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dfall/chantier-app/internal/models"
)

// Financial rollup: append-only ledger of movements plus stage- and
// project-level aggregation. Movements are immutable once recorded:
// corrections are new movements, so the service exposes no update or delete.
type RollupService struct{ DB *gorm.DB }

func NewRollupService(db *gorm.DB) *RollupService { return &RollupService{DB: db} }

type MovementInput struct {
	Label     string
	Amount    decimal.Decimal
	Direction models.MovementDirection
	Date      time.Time
	ProjectID uint
	StageID   *uint // nil = mouvement direct projet
	InvoiceID *uint
}

// RecordMovement appends one movement to the ledger. A stage-scoped movement
// may target an inactive stage: its history stays addressable.
func (s *RollupService) RecordMovement(in MovementInput) (*models.FinancialMovement, error) {
	if in.Label == "" {
		return nil, validationf("label", "required")
	}
	if !in.Amount.IsPositive() {
		return nil, validationf("amount", "must be positive, got %s", in.Amount)
	}
	if in.Direction != models.MovementInflow && in.Direction != models.MovementOutflow {
		return nil, validationf("direction", "unknown direction %q", in.Direction)
	}
	if in.Date.IsZero() {
		return nil, validationf("date", "required")
	}
	var mv models.FinancialMovement
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var project models.Project
		if err := tx.First(&project, in.ProjectID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return validationf("project_id", "project %d not found", in.ProjectID)
			}
			return err
		}
		if in.StageID != nil {
			var st models.Stage
			if err := tx.Where("id = ? AND project_id = ?", *in.StageID, project.ID).
				First(&st).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return validationf("stage_id", "stage %d not found in project %d", *in.StageID, project.ID)
				}
				return err
			}
		}
		mv = models.FinancialMovement{
			Reference: uuid.NewString(),
			Label:     in.Label,
			Amount:    in.Amount,
			Direction: in.Direction,
			Date:      DateOnly(in.Date),
			ProjectID: project.ID,
			StageID:   in.StageID,
			InvoiceID: in.InvoiceID,
		}
		return tx.Create(&mv).Error
	})
	if err != nil {
		return nil, err
	}
	return &mv, nil
}

// Rollup aggregates a set of movements.
type Rollup struct {
	TotalInflow  decimal.Decimal
	TotalOutflow decimal.Decimal
	Net          decimal.Decimal // inflow - outflow
}

func rollupOf(movements []models.FinancialMovement) Rollup {
	r := Rollup{TotalInflow: decimal.Zero, TotalOutflow: decimal.Zero}
	for _, m := range movements {
		switch m.Direction {
		case models.MovementInflow:
			r.TotalInflow = r.TotalInflow.Add(m.Amount)
		case models.MovementOutflow:
			r.TotalOutflow = r.TotalOutflow.Add(m.Amount)
		}
	}
	r.Net = r.TotalInflow.Sub(r.TotalOutflow)
	return r
}

// StageRollup aggregates the movements of one stage, active or not:
// an inactive stage's history remains individually queryable.
func (s *RollupService) StageRollup(stageID uint) (Rollup, error) {
	if _, err := loadStage(s.DB, stageID); err != nil {
		return Rollup{}, err
	}
	var movements []models.FinancialMovement
	if err := s.DB.Where("stage_id = ?", stageID).Find(&movements).Error; err != nil {
		return Rollup{}, err
	}
	return rollupOf(movements), nil
}

// StageActualCost is the stage's spend to date: the sum of its outflows.
func (s *RollupService) StageActualCost(stageID uint) (decimal.Decimal, error) {
	r, err := s.StageRollup(stageID)
	if err != nil {
		return decimal.Zero, err
	}
	return r.TotalOutflow, nil
}

// ProjectRollup aggregates movements attached directly to the project plus
// those of its active stages. Inactive stages are excluded from the live
// figures.
func (s *RollupService) ProjectRollup(projectID uint) (Rollup, error) {
	var project models.Project
	if err := s.DB.First(&project, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Rollup{}, validationf("project_id", "project %d not found", projectID)
		}
		return Rollup{}, err
	}
	var movements []models.FinancialMovement
	err := s.DB.
		Where("project_id = ?", projectID).
		Where("stage_id IS NULL OR stage_id IN (?)",
			s.DB.Model(&models.Stage{}).Select("id").
				Where("project_id = ? AND active = ?", projectID, true)).
		Find(&movements).Error
	if err != nil {
		return Rollup{}, err
	}
	return rollupOf(movements), nil
}

// ProjectFinance couples spend with budget. A negative margin is a
// reportable condition, not an error.
type ProjectFinance struct {
	InitialBudget decimal.Decimal
	RevisedBudget decimal.Decimal
	ActualCost    decimal.Decimal
	Margin        decimal.Decimal // revised budget - actual cost
}

func (s *RollupService) ProjectFinance(projectID uint) (ProjectFinance, error) {
	var project models.Project
	if err := s.DB.First(&project, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ProjectFinance{}, validationf("project_id", "project %d not found", projectID)
		}
		return ProjectFinance{}, err
	}
	r, err := s.ProjectRollup(projectID)
	if err != nil {
		return ProjectFinance{}, err
	}
	return ProjectFinance{
		InitialBudget: project.InitialBudget,
		RevisedBudget: project.RevisedBudget,
		ActualCost:    r.TotalOutflow,
		Margin:        project.RevisedBudget.Sub(r.TotalOutflow),
	}, nil
}
