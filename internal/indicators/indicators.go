package indicators

import "math"

// EMA returns the exponential moving average. The first period values seed
// with a simple average; indexes before period−1 are NaN.
func EMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	var sum float64
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	out[period-1] = sum / float64(period)

	k := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// RSI returns the relative strength index with Wilder smoothing.
func RSI(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) <= period {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		diff := values[i] - values[i-1]
		if diff > 0 {
			avgGain += diff
		} else {
			avgLoss -= diff
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		diff := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if diff > 0 {
			gain = diff
		} else {
			loss = -diff
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// ATR returns Wilder's average true range.
func ATR(high, low, close []float64, period int) []float64 {
	out := nanSlice(len(close))
	if period <= 0 || len(close) <= period {
		return out
	}

	tr := make([]float64, len(close))
	tr[0] = high[0] - low[0]
	for i := 1; i < len(close); i++ {
		tr[i] = trueRange(high[i], low[i], close[i-1])
	}

	var sum float64
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	out[period] = sum / float64(period)
	for i := period + 1; i < len(close); i++ {
		out[i] = (out[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return out
}

func trueRange(h, l, prevClose float64) float64 {
	return math.Max(h-l, math.Max(math.Abs(h-prevClose), math.Abs(l-prevClose)))
}

// ADX returns the average directional index with Wilder smoothing.
// Values need roughly 2·period bars before they stabilize.
func ADX(high, low, close []float64, period int) []float64 {
	out := nanSlice(len(close))
	if period <= 0 || len(close) < 2*period+1 {
		return out
	}

	n := len(close)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
		tr[i] = trueRange(high[i], low[i], close[i-1])
	}

	var smTR, smPlus, smMinus float64
	for i := 1; i <= period; i++ {
		smTR += tr[i]
		smPlus += plusDM[i]
		smMinus += minusDM[i]
	}

	dx := make([]float64, n)
	dx[period] = dxValue(smPlus, smMinus, smTR)
	for i := period + 1; i < n; i++ {
		smTR = smTR - smTR/float64(period) + tr[i]
		smPlus = smPlus - smPlus/float64(period) + plusDM[i]
		smMinus = smMinus - smMinus/float64(period) + minusDM[i]
		dx[i] = dxValue(smPlus, smMinus, smTR)
	}

	var sum float64
	for i := period; i < 2*period; i++ {
		sum += dx[i]
	}
	out[2*period-1] = sum / float64(period)
	for i := 2 * period; i < n; i++ {
		out[i] = (out[i-1]*float64(period-1) + dx[i]) / float64(period)
	}
	return out
}

func dxValue(plus, minus, tr float64) float64 {
	if tr == 0 {
		return 0
	}
	plusDI := 100 * plus / tr
	minusDI := 100 * minus / tr
	if plusDI+minusDI == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI)
}

// Supertrend returns the indicator line and, per bar, whether the trend is
// up (price above the line).
func Supertrend(high, low, close []float64, period int, multiplier float64) (line []float64, up []bool) {
	n := len(close)
	line = nanSlice(n)
	up = make([]bool, n)
	atr := ATR(high, low, close, period)

	upper := nanSlice(n)
	lower := nanSlice(n)
	for i := period; i < n; i++ {
		mid := (high[i] + low[i]) / 2
		basicUpper := mid + multiplier*atr[i]
		basicLower := mid - multiplier*atr[i]

		if i == period || math.IsNaN(upper[i-1]) {
			upper[i], lower[i] = basicUpper, basicLower
			up[i] = close[i] > upper[i]
			if up[i] {
				line[i] = lower[i]
			} else {
				line[i] = upper[i]
			}
			continue
		}

		if basicUpper < upper[i-1] || close[i-1] > upper[i-1] {
			upper[i] = basicUpper
		} else {
			upper[i] = upper[i-1]
		}
		if basicLower > lower[i-1] || close[i-1] < lower[i-1] {
			lower[i] = basicLower
		} else {
			lower[i] = lower[i-1]
		}

		if up[i-1] {
			up[i] = close[i] >= lower[i]
		} else {
			up[i] = close[i] > upper[i]
		}
		if up[i] {
			line[i] = lower[i]
		} else {
			line[i] = upper[i]
		}
	}
	return line, up
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}
