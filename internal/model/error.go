package model

import "errors"

// Error definitions for the model package.
var (
	ErrAlreadyLoaded = errors.New("model already loaded")
	ErrNoBackend     = errors.New("backend returned no synthesizer")
)
