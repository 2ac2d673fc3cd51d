// Package pricing computes overage charges for photo selections. All money
// is in integer cents; there is no floating point anywhere in the math.
package pricing

// Quote is the priced outcome of one selection.
type Quote struct {
	OverageCount int   `json:"overageCount"`
	OverageCents int64 `json:"overageCents"`
	TotalCents   int64 `json:"totalCents"`
}

// Calculate prices a selection of selectedCount photos against a package
// that includes includedCount photos, charging extraPriceCents per photo
// beyond the included allowance.
//
// Purchase-more orders are selections made after a previous order was
// already delivered: the included allowance was consumed by that order, so
// every photo in the new selection is billable.
//
// Negative inputs are treated as zero. A gallery with no package configured
// passes includedCount 0, which makes the whole selection billable.
func Calculate(selectedCount, includedCount int, extraPriceCents int64, isPurchaseMore bool) Quote {
	if selectedCount < 0 {
		selectedCount = 0
	}
	if includedCount < 0 || isPurchaseMore {
		includedCount = 0
	}
	if extraPriceCents < 0 {
		extraPriceCents = 0
	}

	overage := selectedCount - includedCount
	if overage < 0 {
		overage = 0
	}

	cents := int64(overage) * extraPriceCents
	return Quote{
		OverageCount: overage,
		OverageCents: cents,
		TotalCents:   cents,
	}
}
