package audio

import "math"

// Normalize scales x so its peak maps to full-scale 16-bit PCM.
// NaN and Inf samples count as silence. An all-silent input stays all zeros.
func Normalize(x []float64) []int {
	out := make([]int, len(x))

	peak := 0.0
	for _, v := range x {
		if isFinite(v) {
			peak = max(peak, math.Abs(v))
		}
	}
	if peak == 0 {
		return out
	}

	for i, v := range x {
		if !isFinite(v) {
			continue
		}
		out[i] = int(int16(v / peak * math.MaxInt16))
	}

	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
