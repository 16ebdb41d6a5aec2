// Package backendtest provides an in-memory backend for tests.
package backendtest

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/ekisa-team/ttsd/internal/backend"
)

// Fake is a configurable backend.Backend. The zero value returns one second of a
// 440 Hz tone at 24 kHz on the cpu.
type Fake struct {
	Rate      int
	Dev       backend.Device
	VoiceList []string

	// Waveform overrides the generated tone.
	Waveform []float32

	// Err is returned from every Infer call.
	Err error

	// Block, when set, holds Infer until it is closed or the context ends.
	Block chan struct{}

	// IgnoreContext makes a blocked Infer wait for Block only.
	IgnoreContext bool

	// PanicWith makes Infer panic with the value.
	PanicWith any

	mu        sync.Mutex
	calls     int
	active    int
	maxActive int
	closed    bool
	last      *backend.Request
}

func (f *Fake) Provider() backend.Provider { return backend.ProviderONNX }

func (f *Fake) Device() backend.Device {
	if f.Dev == "" {
		return backend.DeviceCPU
	}
	return f.Dev
}

func (f *Fake) SampleRate() int {
	if f.Rate == 0 {
		return 24000
	}
	return f.Rate
}

func (f *Fake) Voices() []string {
	return slices.Clone(f.VoiceList)
}

// Infer records the call and returns the configured outcome.
func (f *Fake) Infer(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	f.mu.Lock()
	f.calls++
	f.active++
	f.maxActive = max(f.maxActive, f.active)
	f.last = req
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.PanicWith != nil {
		panic(f.PanicWith)
	}

	if f.Block != nil {
		if f.IgnoreContext {
			<-f.Block
		} else {
			select {
			case <-f.Block:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	if f.Err != nil {
		return nil, f.Err
	}

	if req.Voice != "" && len(f.VoiceList) > 0 && !slices.Contains(f.VoiceList, req.Voice) {
		return nil, fmt.Errorf("%w: %q", backend.ErrUnknownVoice, req.Voice)
	}

	wave := f.Waveform
	if wave == nil {
		wave = Tone(f.SampleRate(), 440, f.SampleRate())
	}

	return &backend.Response{
		Waveform: slices.Clone(wave),
		Metadata: &backend.ResponseMetadata{
			Provider: backend.ProviderONNX,
			Voice:    req.Voice,
			Samples:  len(wave),
		},
	}, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

// Calls returns the number of Infer calls.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// MaxActive returns the highest number of concurrent Infer calls observed.
func (f *Fake) MaxActive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// LastRequest returns the most recent request.
func (f *Fake) LastRequest() *backend.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// Tone returns n samples of a half-amplitude sine at freq Hz.
func Tone(n int, freq float64, rate int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

var _ backend.Backend = (*Fake)(nil)
