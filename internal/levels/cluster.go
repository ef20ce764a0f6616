package levels

import (
	"math"
	"sort"

	"tickinsight/internal/model"
)

// cluster groups swings by single linkage on price: after sorting, a swing
// joins the current cluster when it is within tol of the previous swing.
// n is the number of bars the swings were found in; it scales recency weights.
func cluster(swings []model.SwingPoint, tol float64, n int, weighted bool) []model.Level {
	if len(swings) == 0 {
		return nil
	}
	sorted := append([]model.SwingPoint(nil), swings...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Price != sorted[j].Price {
			return sorted[i].Price < sorted[j].Price
		}
		return sorted[i].Index < sorted[j].Index
	})

	var out []model.Level
	start := 0
	for i := 1; i <= len(sorted); i++ {
		if i < len(sorted) && sorted[i].Price-sorted[i-1].Price <= tol {
			continue
		}
		out = append(out, level(sorted[start:i], n, weighted))
		start = i
	}
	return out
}

func level(members []model.SwingPoint, n int, weighted bool) model.Level {
	lv := model.Level{
		Touches:        len(members),
		Low:            math.Inf(1),
		High:           math.Inf(-1),
		LastTouchIndex: -1,
	}
	var sum float64
	for _, m := range members {
		sum += m.Price
		lv.Low = math.Min(lv.Low, m.Price)
		lv.High = math.Max(lv.High, m.Price)
		if m.Index > lv.LastTouchIndex {
			lv.LastTouchIndex = m.Index
			lv.LastTouchTime = m.Time
		}
		if weighted {
			lv.Strength += recencyWeight(m.Index, n)
		}
	}
	lv.Price = sum / float64(len(members))
	if !weighted {
		lv.Strength = float64(len(members))
	}
	return lv
}

// recencyWeight ranges from just above 0.5 for the oldest bar to 1 for the newest.
func recencyWeight(idx, n int) float64 {
	if n <= 0 {
		return 1
	}
	return 0.5 + 0.5*float64(idx+1)/float64(n)
}
