package pricing

import "testing"

func TestCalculate(t *testing.T) {
	tests := []struct {
		name           string
		selected       int
		included       int
		extraCents     int64
		purchaseMore   bool
		wantCount      int
		wantCents      int64
	}{
		{"within allowance", 3, 5, 200, false, 0, 0},
		{"exactly at allowance", 5, 5, 200, false, 0, 0},
		{"two over", 7, 5, 200, false, 2, 400},
		{"no package", 4, 0, 150, false, 4, 600},
		{"free extras", 10, 2, 0, false, 8, 0},
		{"purchase more ignores allowance", 3, 5, 200, true, 3, 600},
		{"purchase more with zero price", 3, 5, 0, true, 3, 0},
		{"empty selection", 0, 5, 200, false, 0, 0},
		{"negative selected clamped", -3, 5, 200, false, 0, 0},
		{"negative included clamped", 4, -2, 100, false, 4, 400},
		{"negative price clamped", 7, 5, -200, false, 2, 0},
		{"all negative", -1, -1, -1, false, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Calculate(tt.selected, tt.included, tt.extraCents, tt.purchaseMore)
			if q.OverageCount != tt.wantCount {
				t.Errorf("OverageCount = %d, want %d", q.OverageCount, tt.wantCount)
			}
			if q.OverageCents != tt.wantCents {
				t.Errorf("OverageCents = %d, want %d", q.OverageCents, tt.wantCents)
			}
			if q.TotalCents != q.OverageCents {
				t.Errorf("TotalCents = %d, want %d (equal to OverageCents)", q.TotalCents, q.OverageCents)
			}
		})
	}
}

// The documented property: overage equals selected minus the effective
// allowance, never negative, priced at the clamped per-photo rate.
func TestCalculateProperty(t *testing.T) {
	for selected := 0; selected <= 12; selected++ {
		for included := -2; included <= 8; included += 2 {
			for _, extra := range []int64{-50, 0, 125} {
				for _, pm := range []bool{false, true} {
					q := Calculate(selected, included, extra, pm)

					eff := included
					if pm || eff < 0 {
						eff = 0
					}
					wantCount := selected - eff
					if wantCount < 0 {
						wantCount = 0
					}
					rate := extra
					if rate < 0 {
						rate = 0
					}

					if q.OverageCount != wantCount || q.OverageCents != int64(wantCount)*rate {
						t.Fatalf("Calculate(%d, %d, %d, %v) = %+v, want count %d cents %d",
							selected, included, extra, pm, q, wantCount, int64(wantCount)*rate)
					}
				}
			}
		}
	}
}
