package services

import "github.com/shopspring/decimal"

// Discount engine: turns a gross HT amount plus commercial discounts into
// net HT, VAT and TTC amounts. Pure, no persisted state. The order is fixed:
// percentage discount first, then flat discount, floored at zero.

// Totals is the result of ComputeTotals.
type Totals struct {
	GrossHT        decimal.Decimal
	DiscountAmount decimal.Decimal // total effectively removed, capped by the floor
	NetHT          decimal.Decimal
	VATAmount      decimal.Decimal
	TotalTTC       decimal.Decimal

	// DiscountCapped is raised when the combined discounts met or exceeded
	// the gross amount. The floored result is still returned; the caller
	// decides how to report it.
	DiscountCapped bool
}

// ComputeTotals applies discountPercent then discountFlat to grossHT, floors
// net HT at zero, and derives VAT and TTC. All rates are percentages
// (vatRatePercent 18 means 18%).
func ComputeTotals(grossHT, discountPercent, discountFlat, vatRatePercent decimal.Decimal) (Totals, error) {
	if grossHT.IsNegative() {
		return Totals{}, validationf("grossHT", "must not be negative, got %s", grossHT)
	}
	if discountPercent.IsNegative() || discountPercent.GreaterThan(hundred) {
		return Totals{}, validationf("discountPercent", "must be within [0,100], got %s", discountPercent)
	}
	if discountFlat.IsNegative() {
		return Totals{}, validationf("discountFlat", "must not be negative, got %s", discountFlat)
	}
	if vatRatePercent.IsNegative() {
		return Totals{}, validationf("vatRatePercent", "must not be negative, got %s", vatRatePercent)
	}

	afterPercent := grossHT.Sub(grossHT.Mul(discountPercent).Div(hundred))
	netHT := afterPercent.Sub(discountFlat)
	capped := false
	if !netHT.IsPositive() {
		// Combined discounts consume the whole gross amount. Net HT is
		// never negative; surface the condition instead of failing.
		capped = !grossHT.IsZero() || netHT.IsNegative()
		netHT = decimal.Zero
	}
	vat := netHT.Mul(vatRatePercent).Div(hundred)

	return Totals{
		GrossHT:        grossHT,
		DiscountAmount: grossHT.Sub(netHT),
		NetHT:          netHT,
		VATAmount:      vat,
		TotalTTC:       netHT.Add(vat),
		DiscountCapped: capped,
	}, nil
}
