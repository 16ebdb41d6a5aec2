package audio

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// Resample changes the length of x to num samples with Fourier interpolation:
// take the real spectrum, truncate or zero-pad it, and invert it. The Nyquist bin of
// an even-length spectrum is split when upsampling and merged when downsampling.
func Resample(x []float64, num int) []float64 {
	nx := len(x)
	if num < 1 || nx == 0 {
		return []float64{}
	}
	if num == nx {
		out := make([]float64, nx)
		copy(out, x)
		return out
	}

	spectrum := fourier.NewFFT(nx).Coefficients(nil, x)

	n := min(num, nx)
	y := make([]complex128, num/2+1)
	copy(y, spectrum[:n/2+1])

	if n%2 == 0 {
		switch {
		case num < nx:
			y[n/2] *= 2
		case num > nx:
			y[n/2] *= 0.5
		}
	}

	out := fourier.NewFFT(num).Sequence(nil, y)

	// Sequence is unnormalised, so dividing by the input length yields the num/nx gain.
	scale := 1 / float64(nx)
	for i := range out {
		out[i] *= scale
	}

	return out
}
