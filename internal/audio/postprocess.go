package audio

import (
	"errors"
	"fmt"
	"math"
)

// MaxStretch caps how many times longer than the model output a resampled waveform may be.
const MaxStretch = 8

var (
	// ErrInvalidSpeed is returned for a speed that is not a finite positive number.
	ErrInvalidSpeed = errors.New("audio: speed must be a finite positive number")

	// ErrStretchTooLarge is returned when a speed would grow the waveform past MaxStretch.
	ErrStretchTooLarge = errors.New("audio: speed stretches the waveform too far")
)

// PostProcess turns a model waveform into a WAV file.
// speed != 1 resamples to int(len/speed) samples, which shortens or stretches playback
// at the same sample rate.
func PostProcess(waveform []float32, sampleRate int, speed float64) ([]byte, error) {
	if math.IsNaN(speed) || math.IsInf(speed, 0) || speed <= 0 {
		return nil, ErrInvalidSpeed
	}

	// Checked in float64 so a tiny speed cannot overflow the int conversion.
	target := float64(len(waveform)) / speed
	if target > float64(MaxStretch*len(waveform)) {
		return nil, fmt.Errorf("%w: %d samples at speed %v", ErrStretchTooLarge, len(waveform), speed)
	}

	x := make([]float64, len(waveform))
	for i, v := range waveform {
		if f := float64(v); isFinite(f) {
			x[i] = f
		}
	}

	if speed != 1 {
		x = Resample(x, int(target))
	}

	return EncodeWAV(Normalize(x), sampleRate)
}
