package model

import (
	"time"

	"github.com/ekisa-team/ttsd/internal/backend"
)

// Status is the current loading status of the served model.
type Status string

const (
	// StatusUnloaded indicates that loading has not started.
	StatusUnloaded Status = "unloaded"

	// StatusLoading indicates that the model is being downloaded or opened.
	StatusLoading Status = "loading"

	// StatusReady indicates that the handle can serve synthesis.
	StatusReady Status = "ready"

	// StatusFailed indicates that the model failed to load.
	StatusFailed Status = "failed"
)

// Handle is the loaded model. It is fully populated before it is published and
// never mutated afterwards.
type Handle struct {
	ID         string
	Provider   backend.Provider
	Path       string
	ModelFile  string
	Device     backend.Device
	SampleRate int
	LoadedAt   time.Time

	synth backend.Backend
}

// NewHandle wraps an opened backend.
func NewHandle(id, path string, b backend.Backend) *Handle {
	return &Handle{
		ID:         id,
		Provider:   b.Provider(),
		Path:       path,
		ModelFile:  path,
		Device:     b.Device(),
		SampleRate: b.SampleRate(),
		LoadedAt:   time.Now(),
		synth:      b,
	}
}

// Synthesizer returns the backend that runs inference.
func (h *Handle) Synthesizer() backend.Backend {
	return h.synth
}

// Close releases the backend.
func (h *Handle) Close() error {
	return h.synth.Close()
}
