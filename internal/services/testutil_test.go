package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dfall/chantier-app/internal/models"
)

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Role{}, &models.User{}, &models.Client{}, &models.Subcontractor{},
		&models.Estimate{}, &models.Lot{}, &models.Chapter{}, &models.Item{},
		&models.Project{}, &models.Stage{},
		&models.Invoice{}, &models.FinancialMovement{}, &models.AuditLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// seedClientAndUser creates the minimal surrounding records an estimate needs.
func seedClientAndUser(t *testing.T, db *gorm.DB) (models.Client, models.User) {
	t.Helper()
	role := models.Role{Name: "conducteur"}
	if err := db.Create(&role).Error; err != nil {
		t.Fatalf("role: %v", err)
	}
	user := models.User{Email: "chef@test", Nom: "Diop", Prenom: "Awa", RoleID: role.ID}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("user: %v", err)
	}
	client := models.Client{Nom: "SCI Almadies", Ville: "Dakar", Pays: "SN"}
	if err := db.Create(&client).Error; err != nil {
		t.Fatalf("client: %v", err)
	}
	return client, user
}

// seedEstimateTree builds a two-lot estimate through the service so derived
// totals are persisted the same way production code does it.
//
// Lot GO (gros oeuvre): 700 000 HT. Lot SE (second oeuvre): 300 000 HT.
func seedEstimateTree(t *testing.T, db *gorm.DB) (*models.Estimate, models.User) {
	t.Helper()
	client, user := seedClientAndUser(t, db)
	svc := NewEstimateService(db)

	est, err := svc.Create(EstimateInput{Reference: "DQE-2025-0001", Name: "Villa R+1", ClientID: client.ID})
	if err != nil {
		t.Fatalf("create estimate: %v", err)
	}
	type chapterSpec struct {
		code, name string
		items      []ItemInput
	}
	type lotSpec struct {
		code, name string
		chapters   []chapterSpec
	}
	lots := []lotSpec{
		{"GO", "Gros oeuvre", []chapterSpec{
			{"100", "Terrassement", []ItemInput{
				{Code: "100.1", Designation: "Fouilles en rigole", Unit: models.UnitM3, Quantity: dec("1000"), UnitPrice: dec("400")},
			}},
			{"200", "Béton armé", []ItemInput{
				{Code: "200.1", Designation: "Béton de fondation", Unit: models.UnitM3, Quantity: dec("600"), UnitPrice: dec("500")},
			}},
		}},
		{"SE", "Second oeuvre", []chapterSpec{
			{"300", "Menuiserie", []ItemInput{
				{Code: "300.1", Designation: "Portes intérieures", Unit: models.UnitU, Quantity: dec("30"), UnitPrice: dec("10000")},
			}},
		}},
	}
	for _, ls := range lots {
		lot, err := svc.AddLot(est.ID, ls.code, ls.name)
		if err != nil {
			t.Fatalf("add lot %s: %v", ls.code, err)
		}
		for _, cs := range ls.chapters {
			ch, err := svc.AddChapter(est.ID, lot.ID, cs.code, cs.name)
			if err != nil {
				t.Fatalf("add chapter %s: %v", cs.code, err)
			}
			for _, it := range cs.items {
				if _, err := svc.AddItem(est.ID, ch.ID, it); err != nil {
					t.Fatalf("add item %s: %v", it.Code, err)
				}
			}
		}
	}
	full, err := svc.Get(est.ID)
	if err != nil {
		t.Fatalf("reload estimate: %v", err)
	}
	return full, user
}

// seedConvertedProject validates and converts the seeded estimate.
func seedConvertedProject(t *testing.T, db *gorm.DB) (*models.Project, *models.Estimate, models.User) {
	t.Helper()
	est, user := seedEstimateTree(t, db)
	if err := NewEstimateService(db).Validate(est.ID, user.ID); err != nil {
		t.Fatalf("validate: %v", err)
	}
	project, err := NewConversionService(db, nil).Convert(ConvertInput{
		EstimateID:  est.ID,
		ProjectName: "Chantier Villa R+1",
		StartDate:   date(2025, 1, 1),
		TotalDays:   100,
		Policy:      PolicyProportional,
		ManagerID:   user.ID,
		ConvertedBy: user.ID,
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	return project, est, user
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func mustEqualAmount(t *testing.T, label string, got, want decimal.Decimal) {
	t.Helper()
	if !got.Round(2).Equal(want.Round(2)) {
		t.Fatalf("%s = %s, want %s", label, got, want)
	}
}
