package services

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dfall/chantier-app/internal/models"
)

// Cost aggregation over the estimate tree. Totals and percentage shares are
// derived values: this is the only code allowed to write them, and it must
// run after every structural or numeric mutation before anyone reads totals.

var hundred = decimal.NewFromInt(100)

// Aggregate recomputes LineTotal, Chapter.TotalHT, Lot.TotalHT,
// Lot.PercentOfEstimate and Estimate.GrossHT bottom-up in a single pass.
// Idempotent: repeated calls never accumulate. Full precision throughout;
// rounding to 2 decimals happens only at display boundaries.
func Aggregate(e *models.Estimate) {
	if e == nil {
		return
	}
	gross := decimal.Zero
	for li := range e.Lots {
		lot := &e.Lots[li]
		lotTotal := decimal.Zero
		for ci := range lot.Chapters {
			ch := &lot.Chapters[ci]
			chTotal := decimal.Zero
			for ii := range ch.Items {
				it := &ch.Items[ii]
				it.LineTotal = it.Quantity.Mul(it.UnitPrice)
				chTotal = chTotal.Add(it.LineTotal)
			}
			ch.TotalHT = chTotal
			lotTotal = lotTotal.Add(chTotal)
		}
		lot.TotalHT = lotTotal
		gross = gross.Add(lotTotal)
	}
	e.GrossHT = gross

	// Percentage shares in a second sweep; an empty or zero-cost estimate
	// gets all-zero shares, never a division by zero.
	for li := range e.Lots {
		lot := &e.Lots[li]
		if gross.IsZero() {
			lot.PercentOfEstimate = decimal.Zero
			continue
		}
		lot.PercentOfEstimate = lot.TotalHT.Mul(hundred).Div(gross)
	}
}

// VerifyAggregates checks the stored display totals against a fresh recompute
// and returns a ConsistencyError naming the first divergent node. Comparison
// is at 2-decimal tolerance since stored columns are decimal(18,2).
func VerifyAggregates(e *models.Estimate) error {
	if e == nil {
		return nil
	}
	fresh := cloneTree(e)
	Aggregate(fresh)

	if !sameAmount(e.GrossHT, fresh.GrossHT) {
		return &ConsistencyError{
			Node:   fmt.Sprintf("estimate %s", e.Reference),
			Detail: fmt.Sprintf("grossHT stored %s, recomputed %s", e.GrossHT, fresh.GrossHT),
		}
	}
	for li := range e.Lots {
		lot, want := &e.Lots[li], &fresh.Lots[li]
		if !sameAmount(lot.TotalHT, want.TotalHT) {
			return &ConsistencyError{
				Node:   fmt.Sprintf("lot %s", lot.Code),
				Detail: fmt.Sprintf("totalHT stored %s, recomputed %s", lot.TotalHT, want.TotalHT),
			}
		}
		for ci := range lot.Chapters {
			ch, wch := &lot.Chapters[ci], &want.Chapters[ci]
			if !sameAmount(ch.TotalHT, wch.TotalHT) {
				return &ConsistencyError{
					Node:   fmt.Sprintf("chapter %s.%s", lot.Code, ch.Code),
					Detail: fmt.Sprintf("totalHT stored %s, recomputed %s", ch.TotalHT, wch.TotalHT),
				}
			}
		}
	}
	return nil
}

func sameAmount(a, b decimal.Decimal) bool {
	return a.Round(2).Equal(b.Round(2))
}

func cloneTree(e *models.Estimate) *models.Estimate {
	c := *e
	c.Lots = make([]models.Lot, len(e.Lots))
	for li, lot := range e.Lots {
		cl := lot
		cl.Chapters = make([]models.Chapter, len(lot.Chapters))
		for ci, ch := range lot.Chapters {
			cc := ch
			cc.Items = append([]models.Item(nil), ch.Items...)
			cl.Chapters[ci] = cc
		}
		c.Lots[li] = cl
	}
	return &c
}
