package services

import (
	"errors"
	"testing"

	"github.com/dfall/chantier-app/internal/models"
)

func TestEstimateTreePersistedTotals(t *testing.T) {
	db := setupServiceTestDB(t)
	est, _ := seedEstimateTree(t, db)

	mustEqualAmount(t, "grossHT", est.GrossHT, dec("1000000"))
	mustEqualAmount(t, "lot GO total", est.Lots[0].TotalHT, dec("700000"))
	mustEqualAmount(t, "lot GO share", est.Lots[0].PercentOfEstimate, dec("70"))
	mustEqualAmount(t, "lot SE total", est.Lots[1].TotalHT, dec("300000"))
	mustEqualAmount(t, "chapter 100 total", est.Lots[0].Chapters[0].TotalHT, dec("400000"))
	if est.Status != models.EstimateDraft {
		t.Fatalf("status = %s, want draft", est.Status)
	}
}

func TestEstimateMutationRefreshesAncestors(t *testing.T) {
	db := setupServiceTestDB(t)
	est, _ := seedEstimateTree(t, db)
	svc := NewEstimateService(db)

	// Double the quantity of the terrassement item: every ancestor total
	// must follow within the same operation.
	itemID := est.Lots[0].Chapters[0].Items[0].ID
	if _, err := svc.UpdateItem(est.ID, itemID, ItemInput{
		Code: "100.1", Designation: "Fouilles en rigole", Unit: models.UnitM3,
		Quantity: dec("2000"), UnitPrice: dec("400"),
	}); err != nil {
		t.Fatalf("update item: %v", err)
	}

	got, err := svc.Get(est.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	mustEqualAmount(t, "chapter 100 total", got.Lots[0].Chapters[0].TotalHT, dec("800000"))
	mustEqualAmount(t, "lot GO total", got.Lots[0].TotalHT, dec("1100000"))
	mustEqualAmount(t, "grossHT", got.GrossHT, dec("1400000"))

	// And removal walks the totals back down.
	if err := svc.RemoveItem(est.ID, itemID); err != nil {
		t.Fatalf("remove item: %v", err)
	}
	got, err = svc.Get(est.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	mustEqualAmount(t, "grossHT after removal", got.GrossHT, dec("600000"))
}

func TestEstimateItemValidation(t *testing.T) {
	db := setupServiceTestDB(t)
	est, _ := seedEstimateTree(t, db)
	svc := NewEstimateService(db)
	chapterID := est.Lots[0].Chapters[0].ID

	cases := []struct {
		name string
		in   ItemInput
	}{
		{"unknown unit", ItemInput{Code: "X", Designation: "x", Unit: "pouce", Quantity: dec("1"), UnitPrice: dec("1")}},
		{"negative quantity", ItemInput{Code: "X", Designation: "x", Unit: models.UnitU, Quantity: dec("-1"), UnitPrice: dec("1")}},
		{"negative unit price", ItemInput{Code: "X", Designation: "x", Unit: models.UnitU, Quantity: dec("1"), UnitPrice: dec("-1")}},
		{"missing code", ItemInput{Designation: "x", Unit: models.UnitU, Quantity: dec("1"), UnitPrice: dec("1")}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := svc.AddItem(est.ID, chapterID, c.in)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestEstimateDuplicateLotCode(t *testing.T) {
	db := setupServiceTestDB(t)
	est, _ := seedEstimateTree(t, db)
	svc := NewEstimateService(db)

	_, err := svc.AddLot(est.ID, "GO", "Doublon")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for duplicate code, got %v", err)
	}
}

func TestEstimateUpdateLot(t *testing.T) {
	db := setupServiceTestDB(t)
	est, user := seedEstimateTree(t, db)
	svc := NewEstimateService(db)
	lotID := est.Lots[0].ID

	lot, err := svc.UpdateLot(est.ID, lotID, "GO-A", "Gros oeuvre tranche A")
	if err != nil {
		t.Fatalf("update lot: %v", err)
	}
	if lot.Code != "GO-A" || lot.Name != "Gros oeuvre tranche A" {
		t.Fatalf("lot after update: %s / %s", lot.Code, lot.Name)
	}
	got, err := svc.Get(est.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Lots[0].Code != "GO-A" {
		t.Fatalf("persisted code = %s, want GO-A", got.Lots[0].Code)
	}
	mustEqualAmount(t, "grossHT after rename", got.GrossHT, dec("1000000"))

	// Renaming onto a sibling's code is a duplicate; keeping its own is not.
	var verr *ValidationError
	if _, err := svc.UpdateLot(est.ID, lotID, "SE", "Collision"); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for duplicate code, got %v", err)
	}
	if _, err := svc.UpdateLot(est.ID, lotID, "GO-A", "Gros oeuvre"); err != nil {
		t.Fatalf("update keeping own code: %v", err)
	}

	if err := svc.Validate(est.ID, user.ID); err != nil {
		t.Fatalf("validate: %v", err)
	}
	var perr *PreconditionError
	if _, err := svc.UpdateLot(est.ID, lotID, "GO-B", "Gelé"); !errors.As(err, &perr) {
		t.Fatalf("expected PreconditionError on frozen estimate, got %v", err)
	}
}

func TestEstimateRemoveLotKeepsPositionsDense(t *testing.T) {
	db := setupServiceTestDB(t)
	est, _ := seedEstimateTree(t, db)
	svc := NewEstimateService(db)

	if _, err := svc.AddLot(est.ID, "VRD", "Voirie et réseaux"); err != nil {
		t.Fatalf("add lot: %v", err)
	}
	if err := svc.RemoveLot(est.ID, est.Lots[0].ID); err != nil {
		t.Fatalf("remove lot: %v", err)
	}
	got, err := svc.Get(est.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(got.Lots) != 2 {
		t.Fatalf("lot count = %d, want 2", len(got.Lots))
	}
	for i, lot := range got.Lots {
		if lot.Position != i+1 {
			t.Fatalf("lot %s position = %d, want %d", lot.Code, lot.Position, i+1)
		}
	}
	mustEqualAmount(t, "grossHT after lot removal", got.GrossHT, dec("300000"))
}

func TestEstimateFrozenAfterValidation(t *testing.T) {
	db := setupServiceTestDB(t)
	est, user := seedEstimateTree(t, db)
	svc := NewEstimateService(db)

	if err := svc.Validate(est.ID, user.ID); err != nil {
		t.Fatalf("validate: %v", err)
	}

	var perr *PreconditionError
	if _, err := svc.AddLot(est.ID, "VRD", "Voirie"); !errors.As(err, &perr) {
		t.Fatalf("expected PreconditionError on AddLot, got %v", err)
	}
	if err := svc.RemoveItem(est.ID, est.Lots[0].Chapters[0].Items[0].ID); !errors.As(err, &perr) {
		t.Fatalf("expected PreconditionError on RemoveItem, got %v", err)
	}

	// Commercial terms stay editable until conversion.
	if err := svc.SetDiscounts(est.ID, dec("10"), dec("5000")); err != nil {
		t.Fatalf("SetDiscounts on validated estimate: %v", err)
	}

	// Validating twice is rejected.
	if err := svc.Validate(est.ID, user.ID); !errors.As(err, &perr) {
		t.Fatalf("expected PreconditionError on second validation, got %v", err)
	}
}

func TestEstimateValidateRequiresLots(t *testing.T) {
	db := setupServiceTestDB(t)
	client, user := seedClientAndUser(t, db)
	svc := NewEstimateService(db)
	est, err := svc.Create(EstimateInput{Reference: "DQE-0002", Name: "Vide", ClientID: client.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var verr *ValidationError
	if err := svc.Validate(est.ID, user.ID); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestEstimateTotalsAppliesDiscounts(t *testing.T) {
	db := setupServiceTestDB(t)
	est, _ := seedEstimateTree(t, db)
	svc := NewEstimateService(db)

	if err := svc.SetDiscounts(est.ID, dec("10"), dec("5000")); err != nil {
		t.Fatalf("SetDiscounts: %v", err)
	}
	totals, err := svc.Totals(est.ID)
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	// 1 000 000 HT -10% -5 000 = 895 000; TVA 18% = 161 100.
	mustEqualAmount(t, "netHT", totals.NetHT, dec("895000"))
	mustEqualAmount(t, "vatAmount", totals.VATAmount, dec("161100"))
	mustEqualAmount(t, "totalTTC", totals.TotalTTC, dec("1056100"))
}

func TestEstimateDefaultVATRate(t *testing.T) {
	db := setupServiceTestDB(t)
	client, _ := seedClientAndUser(t, db)
	svc := NewEstimateService(db)
	est, err := svc.Create(EstimateInput{Reference: "DQE-0003", Name: "Hangar", ClientID: client.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	mustEqualAmount(t, "default VAT rate", est.VATRate, dec("18"))
}
