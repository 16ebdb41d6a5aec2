package backend

import (
	"context"
	"fmt"
	"time"
)

// Provider is a string identifier for a backend provider.
type Provider string

const (
	ProviderONNX  Provider = "onnx"
	ProviderPiper Provider = "piper"
)

// Device is the compute device an inference session runs on.
type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCUDA Device = "cuda"
	DeviceCPU  Device = "cpu"
)

// ParseDevice parses a configured device preference. Empty means auto.
func ParseDevice(s string) (Device, error) {
	switch Device(s) {
	case "", DeviceAuto:
		return DeviceAuto, nil
	case DeviceCUDA, DeviceCPU:
		return Device(s), nil
	default:
		return "", fmt.Errorf("unknown device %q", s)
	}
}

// Backend defines the core interface for speech synthesis backends.
type Backend interface {
	// Provider returns the backend identifier.
	Provider() Provider

	// Device returns the device the model was placed on. Never DeviceAuto.
	Device() Device

	// SampleRate returns the native output sample rate of the model.
	SampleRate() int

	// Voices returns the available voice presets, sorted.
	Voices() []string

	// Infer generates a mono waveform for the request.
	Infer(ctx context.Context, req *Request) (*Response, error)

	// Close releases the runtime resources.
	Close() error
}

// Request encapsulates all parameters for an inference call.
type Request struct {
	// Text is the input text to synthesize.
	Text string

	// Voice is the voice preset name. Empty selects the backend default.
	Voice string

	// Parameters contains backend-specific inference parameters.
	Parameters map[string]any
}

// Response contains the result of an inference operation.
type Response struct {
	// Waveform holds mono float samples, nominally in [-1, 1].
	Waveform []float32

	// Metadata contains backend-specific information.
	Metadata *ResponseMetadata
}

// ResponseMetadata contains metadata about the response.
type ResponseMetadata struct {
	Provider        Provider       `json:"provider"`
	Model           string         `json:"model"`
	Voice           string         `json:"voice"`
	Timestamp       time.Time      `json:"timestamp"`
	Samples         int            `json:"samples"`
	BackendSpecific map[string]any `json:"backend_specific,omitempty"`
}

// Options configures a backend when it is opened.
type Options struct {
	// ModelID identifies the model in logs and metadata.
	ModelID string

	// ModelPath is the downloaded artifact directory.
	ModelPath string

	// Device is the requested device preference.
	Device Device

	// SampleRate is used when the artifact does not declare one.
	SampleRate int

	// Parameters carries backend-specific settings from the config.
	Parameters map[string]any

	// Runner executes external binaries. Nil uses os/exec.
	Runner CommandRunner
}
