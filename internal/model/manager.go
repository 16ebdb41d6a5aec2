package model

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ekisa-team/ttsd/internal/backend"
	"github.com/ekisa-team/ttsd/internal/config"
	"github.com/ekisa-team/ttsd/internal/config/source"
	"github.com/ekisa-team/ttsd/internal/envvar"
	"github.com/ekisa-team/ttsd/internal/xfs"
)

// DownloaderFunc picks the downloader for a source type.
type DownloaderFunc func(config.SourceType) (source.Downloader, error)

// Option configures a Manager.
type Option func(*Manager)

// WithRunner sets the command runner used by downloaders and backends.
func WithRunner(r backend.CommandRunner) Option {
	return func(m *Manager) { m.runner = r }
}

// WithDownloaders replaces the downloader lookup.
func WithDownloaders(f DownloaderFunc) Option {
	return func(m *Manager) { m.downloaders = f }
}

// Manager resolves, downloads and opens the served model once.
type Manager struct {
	backends    *backend.Registry
	runner      backend.CommandRunner
	downloaders DownloaderFunc
	status      Status
	lastErr     error
	mu          sync.RWMutex
}

// NewManager creates a Manager that opens backends from the registry.
func NewManager(backends *backend.Registry, opts ...Option) *Manager {
	m := &Manager{
		backends: backends,
		status:   StatusUnloaded,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.downloaders == nil {
		m.downloaders = func(t config.SourceType) (source.Downloader, error) {
			return source.GetDownloader(t, m.runner)
		}
	}

	return m
}

// Status returns the load status and, when failed, the error.
func (m *Manager) Status() (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.status, m.lastErr
}

func (m *Manager) setStatus(s Status, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.status, m.lastErr = s, err
}

// Load downloads the configured model and opens it on the best device.
// It runs once per process; any error is meant to be fatal to the caller.
func (m *Manager) Load(ctx context.Context, cfg *config.Config) (*Handle, error) {
	m.mu.Lock()
	if m.status != StatusUnloaded && m.status != StatusFailed {
		m.mu.Unlock()
		return nil, ErrAlreadyLoaded
	}
	m.status, m.lastErr = StatusLoading, nil
	m.mu.Unlock()

	h, err := m.load(ctx, cfg)
	if err != nil {
		m.setStatus(StatusFailed, err)
		return nil, err
	}

	m.setStatus(StatusReady, nil)
	return h, nil
}

func (m *Manager) load(ctx context.Context, cfg *config.Config) (*Handle, error) {
	mc := cfg.Model
	start := time.Now()

	device, err := backend.ParseDevice(mc.Device)
	if err != nil {
		return nil, err
	}

	modelSource, err := mc.GetSource()
	if err != nil {
		return nil, fmt.Errorf("failed to get model source for %s: %w", mc.ID, err)
	}

	modelsPath := resolveModelsPath(cfg)
	if err := source.EnsureModelsDirectory(modelsPath); err != nil {
		return nil, fmt.Errorf("failed to prepare models directory %s: %w", modelsPath, err)
	}

	downloader, err := m.downloaders(modelSource.Type())
	if err != nil {
		return nil, fmt.Errorf("failed to get downloader for %s: %w", mc.ID, err)
	}

	path, cached, err := downloader.Download(ctx, &mc, modelsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to download model %s into %s: %w", mc.ID, modelsPath, err)
	}

	slog.Info("Loading model",
		"model_id", mc.ID,
		"backend", mc.Backend,
		"device_preference", device,
		"path", path,
		"cached", cached,
		"memory", humanize.Bytes(residentMemory()))

	b, err := m.backends.Open(ctx, backend.Provider(mc.Backend), backend.Options{
		ModelID:    mc.ID,
		ModelPath:  path,
		Device:     device,
		SampleRate: mc.SampleRate,
		Parameters: mc.Parameters,
		Runner:     m.runner,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend for %s: %w", mc.Backend, mc.ID, err)
	}
	if b == nil {
		return nil, ErrNoBackend
	}

	h := NewHandle(mc.ID, path, b)
	if loc, ok := b.(backend.ModelLocator); ok {
		file, err := loc.ResolveModelPath(path)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("failed to locate model file for %s: %w", mc.ID, err)
		}
		h.ModelFile = file
	}

	slog.Info("Model loaded",
		"model_id", h.ID,
		"model_file", h.ModelFile,
		"device", h.Device,
		"sample_rate", h.SampleRate,
		"voices", len(b.Voices()),
		"memory", humanize.Bytes(residentMemory()),
		"elapsed", time.Since(start).Round(time.Millisecond))

	return h, nil
}

// resolveModelsPath returns the path to the models directory.
// Precedence:
// 1. TTSD_MODELS_PATH environment variable.
// 2. ModelsDir field in the config.
// 3. Default models path.
func resolveModelsPath(cfg *config.Config) string {
	if p := os.Getenv(envvar.TtsdModelsPath); p != "" {
		return xfs.ExpandTilde(p)
	}
	if cfg.Storage.ModelsDir != "" {
		return xfs.ExpandTilde(cfg.Storage.ModelsDir)
	}
	return xfs.ExpandTilde(config.DefaultModelsPath())
}

// residentMemory reports the process resident set size, which includes native
// runtime allocations. Outside Linux it falls back to the Go heap footprint.
func residentMemory() uint64 {
	if data, err := os.ReadFile("/proc/self/statm"); err == nil {
		if fields := strings.Fields(string(data)); len(fields) > 1 {
			if pages, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
				return pages * uint64(os.Getpagesize())
			}
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys
}
