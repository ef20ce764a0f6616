package levels

import "tickinsight/internal/model"

// FindSwings returns swing highs and lows: bar i is a swing high when its
// high is strictly greater than every high within k bars on both sides, and
// a swing low symmetrically. Equal neighbours (plateaus) disqualify a bar.
// The first and last k bars can never be swings.
func FindSwings(candles []model.Candle, k int) (highs, lows []model.SwingPoint) {
	if k < 1 {
		k = 1
	}
	n := len(candles)
	for i := k; i < n-k; i++ {
		isHigh, isLow := true, true
		for j := i - k; j <= i+k && (isHigh || isLow); j++ {
			if j == i {
				continue
			}
			if candles[j].High >= candles[i].High {
				isHigh = false
			}
			if candles[j].Low <= candles[i].Low {
				isLow = false
			}
		}
		if isHigh {
			highs = append(highs, model.SwingPoint{Index: i, Price: candles[i].High, Kind: model.SwingHigh, Time: candles[i].OpenTime})
		}
		if isLow {
			lows = append(lows, model.SwingPoint{Index: i, Price: candles[i].Low, Kind: model.SwingLow, Time: candles[i].OpenTime})
		}
	}
	return highs, lows
}
