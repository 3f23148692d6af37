package strategy

import "math"

// ewm computes an exponentially weighted mean with adjust-style weighting:
// each output is sum(w_i * x_i) / sum(w_i) with w_i = (1-alpha)^age. NaN
// inputs are skipped but still age the weights; outputs are NaN until
// minPeriods observations have been seen.
func ewm(values []float64, alpha float64, minPeriods int) []float64 {
	out := make([]float64, len(values))
	var num, den float64
	seen := 0
	for i, v := range values {
		num *= 1 - alpha
		den *= 1 - alpha
		if !math.IsNaN(v) {
			num += v
			den++
			seen++
		}
		if seen < minPeriods || den == 0 {
			out[i] = math.NaN()
		} else {
			out[i] = num / den
		}
	}
	return out
}

// spanAlpha converts an EMA span to its smoothing factor.
func spanAlpha(span int) float64 {
	return 2.0 / (float64(span) + 1)
}

// RSI returns the relative strength index of the close series, smoothed with
// alpha = 1/length and warmed up over length observations. Values are rounded
// to two decimals so threshold comparisons are stable across platforms.
func RSI(closes []float64, length int) []float64 {
	n := len(closes)
	gains := make([]float64, n)
	losses := make([]float64, n)
	if n > 0 {
		gains[0] = math.NaN()
		losses[0] = math.NaN()
	}
	for i := 1; i < n; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains[i] = d
		}
		if d < 0 {
			losses[i] = -d
		}
	}

	alpha := 1.0 / float64(length)
	avgGain := ewm(gains, alpha, length)
	avgLoss := ewm(losses, alpha, length)

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		switch {
		case math.IsNaN(avgGain[i]) || math.IsNaN(avgLoss[i]):
			out[i] = math.NaN()
		case avgLoss[i] == 0:
			out[i] = 100
		default:
			rs := avgGain[i] / avgLoss[i]
			out[i] = math.Round((100-100/(1+rs))*100) / 100
		}
	}
	return out
}

// MACD returns the MACD line (fast EMA minus slow EMA) and its signal line.
func MACD(closes []float64, fast, slow, signal int) (line, sig []float64) {
	emaFast := ewm(closes, spanAlpha(fast), 1)
	emaSlow := ewm(closes, spanAlpha(slow), 1)

	line = make([]float64, len(closes))
	for i := range line {
		line[i] = emaFast[i] - emaSlow[i]
	}
	sig = ewm(line, spanAlpha(signal), 1)
	return line, sig
}
