package backend

import "errors"

// Error definitions for the backend package.
var (
	ErrNotFound          = errors.New("backend not found in registry")
	ErrAlreadyRegistered = errors.New("backend is already registered in the registry")
	ErrUnknownVoice      = errors.New("unknown voice preset")
	ErrEmptyInput        = errors.New("text produced no tokens")
	ErrInputTooLong      = errors.New("text exceeds the model input limit")
	ErrEmptyWaveform     = errors.New("model returned an empty waveform")
	ErrDeviceUnavailable = errors.New("requested device is unavailable")
)
