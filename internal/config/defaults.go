package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/ekisa-team/ttsd/internal/envvar"
)

// Defaults for the served model and its limits.
const (
	DefaultModelID        = "kokoro-82m"
	DefaultModelRepo      = "onnx-community/Kokoro-82M-v1.0-ONNX"
	DefaultBackend        = "onnx"
	DefaultDevice         = "auto"
	DefaultSampleRate     = 24000
	DefaultTimeoutSeconds = 120
	DefaultLogLevel       = "info"
	DefaultNATSSubject    = "tts.synthesize"
	DefaultNATSQueue      = "ttsd"

	defaultHTTPPort = 8600
	defaultGRPCPort = 8601
)

// DefaultConfigPath returns the default path for the ttsd config directory.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "ttsd", "config")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "ttsd")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "ttsd")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "ttsd")
		}
		return filepath.Join(home, ".config", "ttsd")
	}
}

// DefaultModelsPath returns the default path for the ttsd models directory.
func DefaultModelsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "ttsd", "models")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Local", "ttsd", "models")
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "ttsd", "models")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
			return filepath.Join(xdg, "ttsd", "models")
		}
		return filepath.Join(home, ".cache", "ttsd", "models")
	}
}

// DefaultHTTPPort returns the HTTP port, honoring TTSD_SERVER_HTTP_PORT.
func DefaultHTTPPort() int {
	return portFromEnv(envvar.TtsdServerHTTPPort, defaultHTTPPort)
}

// DefaultGRPCPort returns the gRPC port, honoring TTSD_SERVER_GRPC_PORT.
func DefaultGRPCPort() int {
	return portFromEnv(envvar.TtsdServerGRPCPort, defaultGRPCPort)
}

// Default returns a configuration that serves the default model from Hugging Face.
func Default() *Config {
	cfg := &Config{Version: "1"}
	cfg.Model.SetHuggingFaceSource(HuggingFaceSource{Repo: DefaultModelRepo})
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = DefaultHTTPPort()
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = DefaultGRPCPort()
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Model.ID == "" {
		cfg.Model.ID = DefaultModelID
	}
	if cfg.Model.Backend == "" {
		cfg.Model.Backend = DefaultBackend
	}
	if cfg.Model.Device == "" {
		cfg.Model.Device = DefaultDevice
	}
	if cfg.Model.SampleRate == 0 {
		cfg.Model.SampleRate = DefaultSampleRate
	}
	if cfg.Synthesis.TimeoutSeconds == 0 {
		cfg.Synthesis.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = os.Getenv(envvar.TtsdNATSURL)
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = DefaultNATSSubject
	}
	if cfg.NATS.Queue == "" {
		cfg.NATS.Queue = DefaultNATSQueue
	}
}

func portFromEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			return p
		}
	}
	return fallback
}
