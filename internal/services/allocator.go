package services

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Duration allocator: distributes a total day count across lots according to
// a policy. Pure. The invariant is exact: allocated days always sum to
// totalDays.

type AllocationPolicy string

const (
	PolicyProportional AllocationPolicy = "proportional"
	PolicyEqual        AllocationPolicy = "equal"
	PolicyCustom       AllocationPolicy = "custom" // pas encore supporté
)

// MinStageDays is the floor every proportional allocation is held at.
const MinStageDays = 5

// LotCost is the allocator's view of a lot: identity plus weight.
type LotCost struct {
	LotID   uint
	TotalHT decimal.Decimal
}

// Allocation assigns a day count to a lot.
type Allocation struct {
	LotID uint
	Days  int
}

// Allocate distributes totalDays over lots (given in ordinal order) by
// policy. Custom is rejected as not yet supported rather than silently
// falling back to equal.
func Allocate(lots []LotCost, totalDays int, policy AllocationPolicy) ([]Allocation, error) {
	if len(lots) == 0 {
		return nil, validationf("lots", "at least one lot is required")
	}
	if totalDays <= 0 {
		return nil, validationf("totalDays", "must be positive, got %d", totalDays)
	}

	switch policy {
	case PolicyEqual:
		if totalDays < len(lots) {
			return nil, validationf("totalDays", "%d days cannot cover %d stages", totalDays, len(lots))
		}
		return allocateEqual(lots, totalDays), nil
	case PolicyProportional:
		if totalDays < MinStageDays*len(lots) {
			return nil, validationf("totalDays", "%d days cannot give %d stages %d days each", totalDays, len(lots), MinStageDays)
		}
		return allocateProportional(lots, totalDays), nil
	case PolicyCustom:
		return nil, validationf("policy", "custom allocation is not yet supported")
	default:
		return nil, validationf("policy", "unknown policy %q", policy)
	}
}

// allocateEqual gives totalDays/N to everyone and hands the remainder out
// one day at a time in ordinal order.
func allocateEqual(lots []LotCost, totalDays int) []Allocation {
	base := totalDays / len(lots)
	rem := totalDays % len(lots)
	out := make([]Allocation, len(lots))
	for i, lc := range lots {
		days := base
		if i < rem {
			days++
		}
		out[i] = Allocation{LotID: lc.LotID, Days: days}
	}
	return out
}

func allocateProportional(lots []LotCost, totalDays int) []Allocation {
	sum := decimal.Zero
	for _, lc := range lots {
		sum = sum.Add(lc.TotalHT)
	}
	// All lots zero-cost: proportional has no weights, fall back to equal.
	if sum.IsZero() {
		return allocateEqual(lots, totalDays)
	}

	total := decimal.NewFromInt(int64(totalDays))
	out := make([]Allocation, len(lots))
	allocated := 0
	for i, lc := range lots {
		days := int(total.Mul(lc.TotalHT).Div(sum).Round(0).IntPart())
		if days < MinStageDays {
			days = MinStageDays
		}
		out[i] = Allocation{LotID: lc.LotID, Days: days}
		allocated += days
	}

	// Rounding and the minimum floor both perturb the exact sum; reconcile
	// against the largest allocations, never pushing one below the floor
	// while an alternative exists.
	residual := totalDays - allocated
	if residual == 0 {
		return out
	}

	order := make([]int, len(out))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return out[order[a]].Days > out[order[b]].Days })

	if residual > 0 {
		out[order[0]].Days += residual
		return out
	}
	deficit := -residual
	for _, i := range order {
		if deficit == 0 {
			break
		}
		room := out[i].Days - MinStageDays
		if room <= 0 {
			continue
		}
		take := room
		if take > deficit {
			take = deficit
		}
		out[i].Days -= take
		deficit -= take
	}
	return out
}
