package services

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dfall/chantier-app/internal/models"
)

// Conversion planner: turns a validated estimate into a project with one
// scheduled stage per lot. The whole conversion is a single transaction:
// either the project and all stages exist and the estimate is marked
// converted, or nothing is persisted.
type ConversionService struct {
	DB  *gorm.DB
	Log *logrus.Logger
}

func NewConversionService(db *gorm.DB, log *logrus.Logger) *ConversionService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ConversionService{DB: db, Log: log}
}

type ConvertInput struct {
	EstimateID  uint
	ProjectName string
	StartDate   time.Time
	TotalDays   int
	Policy      AllocationPolicy
	ManagerID   uint
	ConvertedBy uint
}

// Convert builds the project skeleton from the estimate's cost breakdown.
// Stage budgets come from pre-discount lot totals; commercial discounts only
// affect the estimate/invoice level, never execution budgets.
func (s *ConversionService) Convert(in ConvertInput) (*models.Project, error) {
	if in.ProjectName == "" {
		return nil, validationf("project_name", "required")
	}
	if in.StartDate.IsZero() {
		return nil, validationf("start_date", "required")
	}

	var project models.Project
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		est, err := loadEstimateTree(tx, in.EstimateID)
		if err != nil {
			return err
		}
		switch est.Status {
		case models.EstimateConverted:
			return preconditionf("estimate", est.ID, "already converted")
		case models.EstimateValidated:
			// prêt à convertir
		default:
			return preconditionf("estimate", est.ID, "not validated (status %s)", est.Status)
		}
		if len(est.Lots) == 0 {
			return validationf("lots", "estimate %s has no lots", est.Reference)
		}
		// Every lot must carry costed content: an empty branch cannot
		// become a meaningful stage.
		for _, lot := range est.Lots {
			if len(lot.Chapters) == 0 {
				return validationf("lot "+lot.Code, "has no chapters")
			}
			for _, ch := range lot.Chapters {
				if len(ch.Items) == 0 {
					return validationf("chapter "+lot.Code+"."+ch.Code, "has no items")
				}
			}
		}

		// Authoritative totals, then abort rather than plan on stale data.
		if err := VerifyAggregates(est); err != nil {
			s.Log.WithError(err).WithField("estimate", est.Reference).
				Error("aggregate invariant violated, conversion aborted")
			return err
		}
		Aggregate(est)

		costs := make([]LotCost, len(est.Lots))
		for i, lot := range est.Lots {
			costs[i] = LotCost{LotID: lot.ID, TotalHT: lot.TotalHT}
		}
		allocs, err := Allocate(costs, in.TotalDays, in.Policy)
		if err != nil {
			return err
		}
		daysByLot := make(map[uint]int, len(allocs))
		for _, a := range allocs {
			daysByLot[a.LotID] = a.Days
		}

		start := DateOnly(in.StartDate)
		now := time.Now().UTC()
		token := uuid.NewString()

		project = models.Project{
			Name:             in.ProjectName,
			StartDate:        start,
			InitialBudget:    est.GrossHT,
			RevisedBudget:    est.GrossHT,
			SourceEstimateID: est.ID,
			ManagerID:        in.ManagerID,
		}

		// Sequential, non-overlapping calendar ranges in lot ordinal order:
		// stage k ends start+days-1, stage k+1 starts the next day.
		cursor := start
		stages := make([]models.Stage, len(est.Lots))
		for i, lot := range est.Lots {
			days := daysByLot[lot.ID]
			end := cursor.AddDate(0, 0, days-1)
			stages[i] = models.Stage{
				Name:          lot.Name,
				Position:      lot.Position,
				PlannedStart:  cursor,
				PlannedEnd:    end,
				PlannedBudget: lot.TotalHT,
				Status:        models.StagePlanned,
				Active:        true,
			}
			cursor = end.AddDate(0, 0, 1)
		}
		project.PlannedEnd = stages[len(stages)-1].PlannedEnd
		project.Stages = stages

		if err := tx.Create(&project).Error; err != nil {
			return err
		}

		// Commit-time revalidation: the status-guarded UPDATE is what makes
		// two concurrent conversions resolve to one success.
		res := tx.Model(&models.Estimate{}).
			Where("id = ? AND status = ?", est.ID, models.EstimateValidated).
			Updates(map[string]any{
				"status":               models.EstimateConverted,
				"converted_project_id": project.ID,
				"converted_at":         now,
				"converted_by":         in.ConvertedBy,
				"conversion_token":     token,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var current models.Estimate
			if err := tx.First(&current, est.ID).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if current.Status == models.EstimateConverted {
				return preconditionf("estimate", est.ID, "already converted")
			}
			return &ConflictError{Entity: "estimate", ID: est.ID}
		}

		if err := tx.Create(&models.AuditLog{
			UserID:     in.ConvertedBy,
			EntityType: "Estimate",
			EntityID:   est.ID,
			Action:     "convert",
			NewValue:   token,
		}).Error; err != nil {
			return err
		}

		s.Log.WithFields(logrus.Fields{
			"estimate": est.Reference,
			"project":  project.ID,
			"stages":   len(stages),
		}).Info("estimate converted")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &project, nil
}
