package services

import (
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/dfall/chantier-app/internal/models"
)

// EstimateService owns every mutation of the estimate tree. Each mutation
// runs in a transaction that ends with a full recompute of the derived
// totals, so readers never observe stale aggregates.
type EstimateService struct{ DB *gorm.DB }

func NewEstimateService(db *gorm.DB) *EstimateService { return &EstimateService{DB: db} }

// DefaultVATRate applies when an estimate is created without an explicit rate.
var DefaultVATRate = decimal.NewFromInt(18)

type EstimateInput struct {
	Reference string
	Name      string
	ClientID  uint
	VATRate   *decimal.Decimal // nil = taux par défaut
}

func (s *EstimateService) Create(in EstimateInput) (*models.Estimate, error) {
	if in.Reference == "" {
		return nil, validationf("reference", "required")
	}
	if in.Name == "" {
		return nil, validationf("name", "required")
	}
	if in.ClientID == 0 {
		return nil, validationf("client_id", "required")
	}
	rate := DefaultVATRate
	if in.VATRate != nil {
		if in.VATRate.IsNegative() {
			return nil, validationf("vat_rate", "must not be negative, got %s", in.VATRate)
		}
		rate = *in.VATRate
	}
	est := models.Estimate{
		Reference: in.Reference,
		Name:      in.Name,
		ClientID:  in.ClientID,
		Status:    models.EstimateDraft,
		VATRate:   rate,
	}
	if err := s.DB.Create(&est).Error; err != nil {
		return nil, err
	}
	return &est, nil
}

// Get loads an estimate with its full tree in ordinal order.
func (s *EstimateService) Get(id uint) (*models.Estimate, error) {
	return loadEstimateTree(s.DB, id)
}

func loadEstimateTree(db *gorm.DB, id uint) (*models.Estimate, error) {
	var est models.Estimate
	err := db.
		Preload("Lots", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Lots.Chapters", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Lots.Chapters.Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&est, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, validationf("estimate_id", "estimate %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &est, nil
}

// requireDraft loads the bare estimate and rejects structural edits once the
// structure is frozen (validated or converted).
func requireDraft(tx *gorm.DB, estimateID uint) (*models.Estimate, error) {
	var est models.Estimate
	if err := tx.First(&est, estimateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, validationf("estimate_id", "estimate %d not found", estimateID)
		}
		return nil, err
	}
	if est.Status != models.EstimateDraft {
		return nil, preconditionf("estimate", est.ID, "structure is frozen (status %s)", est.Status)
	}
	return &est, nil
}

// refreshAggregates reloads the tree, recomputes every derived total and
// persists the refreshed display columns inside the caller's transaction.
func refreshAggregates(tx *gorm.DB, estimateID uint) error {
	est, err := loadEstimateTree(tx, estimateID)
	if err != nil {
		return err
	}
	Aggregate(est)
	for li := range est.Lots {
		lot := &est.Lots[li]
		for ci := range lot.Chapters {
			ch := &lot.Chapters[ci]
			for ii := range ch.Items {
				it := &ch.Items[ii]
				if err := tx.Model(&models.Item{}).Where("id = ?", it.ID).
					Update("line_total", it.LineTotal).Error; err != nil {
					return err
				}
			}
			if err := tx.Model(&models.Chapter{}).Where("id = ?", ch.ID).
				Update("total_ht", ch.TotalHT).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&models.Lot{}).Where("id = ?", lot.ID).
			Updates(map[string]any{
				"total_ht":            lot.TotalHT,
				"percent_of_estimate": lot.PercentOfEstimate,
			}).Error; err != nil {
			return err
		}
	}
	return tx.Model(&models.Estimate{}).Where("id = ?", est.ID).
		Update("gross_ht", est.GrossHT).Error
}

// --- Lots ---

func (s *EstimateService) AddLot(estimateID uint, code, name string) (*models.Lot, error) {
	if code == "" {
		return nil, validationf("code", "required")
	}
	if name == "" {
		return nil, validationf("name", "required")
	}
	var lot models.Lot
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		est, err := requireDraft(tx, estimateID)
		if err != nil {
			return err
		}
		var dup int64
		if err := tx.Model(&models.Lot{}).
			Where("estimate_id = ? AND code = ?", est.ID, code).Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			return validationf("code", "lot %s already exists in estimate %s", code, est.Reference)
		}
		var maxPos int
		row := tx.Model(&models.Lot{}).Where("estimate_id = ?", est.ID).
			Select("COALESCE(MAX(position), 0)").Row()
		if err := row.Scan(&maxPos); err != nil {
			return err
		}
		lot = models.Lot{EstimateID: est.ID, Code: code, Name: name, Position: maxPos + 1}
		if err := tx.Create(&lot).Error; err != nil {
			return err
		}
		return refreshAggregates(tx, est.ID)
	})
	if err != nil {
		return nil, err
	}
	return &lot, nil
}

func (s *EstimateService) UpdateLot(estimateID, lotID uint, code, name string) (*models.Lot, error) {
	if code == "" {
		return nil, validationf("code", "required")
	}
	if name == "" {
		return nil, validationf("name", "required")
	}
	var lot models.Lot
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		est, err := requireDraft(tx, estimateID)
		if err != nil {
			return err
		}
		if err := tx.Where("id = ? AND estimate_id = ?", lotID, est.ID).First(&lot).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return validationf("lot_id", "lot %d not found in estimate %d", lotID, est.ID)
			}
			return err
		}
		var dup int64
		if err := tx.Model(&models.Lot{}).
			Where("estimate_id = ? AND code = ? AND id <> ?", est.ID, code, lot.ID).
			Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			return validationf("code", "lot %s already exists in estimate %s", code, est.Reference)
		}
		lot.Code = code
		lot.Name = name
		if err := tx.Save(&lot).Error; err != nil {
			return err
		}
		return refreshAggregates(tx, est.ID)
	})
	if err != nil {
		return nil, err
	}
	return &lot, nil
}

func (s *EstimateService) RemoveLot(estimateID, lotID uint) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		est, err := requireDraft(tx, estimateID)
		if err != nil {
			return err
		}
		var lot models.Lot
		if err := tx.Where("id = ? AND estimate_id = ?", lotID, est.ID).First(&lot).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return validationf("lot_id", "lot %d not found in estimate %d", lotID, est.ID)
			}
			return err
		}
		if err := tx.Where("chapter_id IN (?)",
			tx.Model(&models.Chapter{}).Select("id").Where("lot_id = ?", lot.ID),
		).Delete(&models.Item{}).Error; err != nil {
			return err
		}
		if err := tx.Where("lot_id = ?", lot.ID).Delete(&models.Chapter{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&lot).Error; err != nil {
			return err
		}
		// Keep ordinal positions dense.
		if err := tx.Model(&models.Lot{}).
			Where("estimate_id = ? AND position > ?", est.ID, lot.Position).
			Update("position", gorm.Expr("position - 1")).Error; err != nil {
			return err
		}
		return refreshAggregates(tx, est.ID)
	})
}

// --- Chapters ---

func (s *EstimateService) AddChapter(estimateID, lotID uint, code, name string) (*models.Chapter, error) {
	if code == "" {
		return nil, validationf("code", "required")
	}
	if name == "" {
		return nil, validationf("name", "required")
	}
	var ch models.Chapter
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		est, err := requireDraft(tx, estimateID)
		if err != nil {
			return err
		}
		var lot models.Lot
		if err := tx.Where("id = ? AND estimate_id = ?", lotID, est.ID).First(&lot).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return validationf("lot_id", "lot %d not found in estimate %d", lotID, est.ID)
			}
			return err
		}
		var maxPos int
		row := tx.Model(&models.Chapter{}).Where("lot_id = ?", lot.ID).
			Select("COALESCE(MAX(position), 0)").Row()
		if err := row.Scan(&maxPos); err != nil {
			return err
		}
		ch = models.Chapter{LotID: lot.ID, Code: code, Name: name, Position: maxPos + 1}
		if err := tx.Create(&ch).Error; err != nil {
			return err
		}
		return refreshAggregates(tx, est.ID)
	})
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (s *EstimateService) RemoveChapter(estimateID, chapterID uint) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		est, err := requireDraft(tx, estimateID)
		if err != nil {
			return err
		}
		ch, err := chapterInEstimate(tx, est.ID, chapterID)
		if err != nil {
			return err
		}
		if err := tx.Where("chapter_id = ?", ch.ID).Delete(&models.Item{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(ch).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Chapter{}).
			Where("lot_id = ? AND position > ?", ch.LotID, ch.Position).
			Update("position", gorm.Expr("position - 1")).Error; err != nil {
			return err
		}
		return refreshAggregates(tx, est.ID)
	})
}

func chapterInEstimate(tx *gorm.DB, estimateID, chapterID uint) (*models.Chapter, error) {
	var ch models.Chapter
	err := tx.Joins("JOIN lots ON lots.id = chapters.lot_id").
		Where("chapters.id = ? AND lots.estimate_id = ?", chapterID, estimateID).
		First(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, validationf("chapter_id", "chapter %d not found in estimate %d", chapterID, estimateID)
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// --- Items ---

type ItemInput struct {
	Code        string
	Designation string
	Unit        string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

func (in ItemInput) validate() error {
	if in.Code == "" {
		return validationf("code", "required")
	}
	if in.Designation == "" {
		return validationf("designation", "required")
	}
	if !models.IsValidUnit(in.Unit) {
		return validationf("unit", "unknown unit of measure %q", in.Unit)
	}
	if in.Quantity.IsNegative() {
		return validationf("quantity", "must not be negative, got %s", in.Quantity)
	}
	if in.UnitPrice.IsNegative() {
		return validationf("unit_price", "must not be negative, got %s", in.UnitPrice)
	}
	return nil
}

func (s *EstimateService) AddItem(estimateID, chapterID uint, in ItemInput) (*models.Item, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var item models.Item
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		est, err := requireDraft(tx, estimateID)
		if err != nil {
			return err
		}
		ch, err := chapterInEstimate(tx, est.ID, chapterID)
		if err != nil {
			return err
		}
		item = models.Item{
			ChapterID:   ch.ID,
			Code:        in.Code,
			Designation: in.Designation,
			Unit:        in.Unit,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
		}
		if err := tx.Create(&item).Error; err != nil {
			return err
		}
		return refreshAggregates(tx, est.ID)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *EstimateService) UpdateItem(estimateID, itemID uint, in ItemInput) (*models.Item, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var item models.Item
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		est, err := requireDraft(tx, estimateID)
		if err != nil {
			return err
		}
		if err := itemInEstimate(tx, est.ID, itemID, &item); err != nil {
			return err
		}
		item.Code = in.Code
		item.Designation = in.Designation
		item.Unit = in.Unit
		item.Quantity = in.Quantity
		item.UnitPrice = in.UnitPrice
		if err := tx.Save(&item).Error; err != nil {
			return err
		}
		return refreshAggregates(tx, est.ID)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *EstimateService) RemoveItem(estimateID, itemID uint) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		est, err := requireDraft(tx, estimateID)
		if err != nil {
			return err
		}
		var item models.Item
		if err := itemInEstimate(tx, est.ID, itemID, &item); err != nil {
			return err
		}
		if err := tx.Delete(&item).Error; err != nil {
			return err
		}
		return refreshAggregates(tx, est.ID)
	})
}

func itemInEstimate(tx *gorm.DB, estimateID, itemID uint, out *models.Item) error {
	err := tx.Joins("JOIN chapters ON chapters.id = items.chapter_id").
		Joins("JOIN lots ON lots.id = chapters.lot_id").
		Where("items.id = ? AND lots.estimate_id = ?", itemID, estimateID).
		First(out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return validationf("item_id", "item %d not found in estimate %d", itemID, estimateID)
	}
	return err
}

// --- Commercial terms & lifecycle ---

// SetDiscounts updates the estimate-level commercial discounts. Discounts are
// not part of the frozen structure: they stay editable until conversion.
func (s *EstimateService) SetDiscounts(estimateID uint, percent, flat decimal.Decimal) error {
	if percent.IsNegative() || percent.GreaterThan(hundred) {
		return validationf("discount_percent", "must be within [0,100], got %s", percent)
	}
	if flat.IsNegative() {
		return validationf("discount_flat", "must not be negative, got %s", flat)
	}
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var est models.Estimate
		if err := tx.First(&est, estimateID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return validationf("estimate_id", "estimate %d not found", estimateID)
			}
			return err
		}
		if est.Status == models.EstimateConverted {
			return preconditionf("estimate", est.ID, "already converted, read-only")
		}
		return tx.Model(&est).Updates(map[string]any{
			"discount_percent": percent,
			"discount_flat":    flat,
		}).Error
	})
}

// Validate freezes the estimate structure (draft -> validated). At least one
// lot is required; the finer "every lot costed" check belongs to conversion.
func (s *EstimateService) Validate(estimateID, userID uint) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		est, err := requireDraft(tx, estimateID)
		if err != nil {
			return err
		}
		var lots int64
		if err := tx.Model(&models.Lot{}).Where("estimate_id = ?", est.ID).Count(&lots).Error; err != nil {
			return err
		}
		if lots == 0 {
			return validationf("lots", "estimate %s has no lots", est.Reference)
		}
		if err := refreshAggregates(tx, est.ID); err != nil {
			return err
		}
		res := tx.Model(&models.Estimate{}).
			Where("id = ? AND status = ?", est.ID, models.EstimateDraft).
			Update("status", models.EstimateValidated)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &ConflictError{Entity: "estimate", ID: est.ID}
		}
		return tx.Create(&models.AuditLog{
			UserID:     userID,
			EntityType: "Estimate",
			EntityID:   est.ID,
			Action:     "validate",
			OldValue:   string(models.EstimateDraft),
			NewValue:   string(models.EstimateValidated),
		}).Error
	})
}

// Totals runs the discount engine over the estimate's aggregated gross amount.
func (s *EstimateService) Totals(estimateID uint) (Totals, error) {
	est, err := loadEstimateTree(s.DB, estimateID)
	if err != nil {
		return Totals{}, err
	}
	Aggregate(est)
	return ComputeTotals(est.GrossHT, est.DiscountPercent, est.DiscountFlat, est.VATRate)
}

// DisplayAmount rounds a money amount for presentation; internal math stays
// full precision.
func DisplayAmount(d decimal.Decimal) string { return d.StringFixed(2) }
