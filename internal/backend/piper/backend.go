package piper

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ekisa-team/ttsd/internal/backend"
	"github.com/ekisa-team/ttsd/internal/mapsafe"
)

const (
	defaultBinary  = "piper"
	defaultTimeout = 2 * time.Minute
)

// voiceConfig is the subset of <model>.onnx.json piper ships next to each voice.
type voiceConfig struct {
	Audio struct {
		SampleRate int `json:"sample_rate"`
	} `json:"audio"`
	SpeakerIDMap map[string]int `json:"speaker_id_map"`
}

// Backend implements backend.Backend for the Piper CLI.
type Backend struct {
	Locator

	executor   *backend.Executor
	modelID    string
	modelPath  string
	sampleRate int
	speakers   map[string]int
	params     map[string]any
}

// New creates a piper backend for the voice found under opts.ModelPath.
// Piper runs on the CPU, so the device preference only matters when it demands cuda.
func New(_ context.Context, opts backend.Options) (backend.Backend, error) {
	if opts.Device == backend.DeviceCUDA {
		return nil, fmt.Errorf("%w: piper runs on cpu only", backend.ErrDeviceUnavailable)
	}

	p := opts.Parameters
	bin := mapsafe.Get(p, "binary", defaultBinary)
	timeout := time.Duration(mapsafe.Get(p, "timeout_seconds", int(defaultTimeout/time.Second))) * time.Second

	var executor *backend.Executor
	if opts.Runner != nil {
		executor = backend.NewExecutorWithRunner(bin, timeout, opts.Runner)
	} else {
		var err error
		if executor, err = backend.NewExecutor(bin, timeout); err != nil {
			return nil, err
		}
	}

	modelPath, err := Locator{}.ResolveModelPath(opts.ModelPath)
	if err != nil {
		return nil, err
	}

	b := &Backend{
		executor:   executor,
		modelID:    opts.ModelID,
		modelPath:  modelPath,
		sampleRate: opts.SampleRate,
		params:     p,
	}

	if err := b.readVoiceConfig(modelPath + ".json"); err != nil {
		return nil, err
	}

	return b, nil
}

func (b *Backend) readVoiceConfig(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read voice config: %w", err)
	}

	var vc voiceConfig
	if err := json.Unmarshal(data, &vc); err != nil {
		return fmt.Errorf("failed to parse voice config: %w", err)
	}

	if vc.Audio.SampleRate > 0 {
		b.sampleRate = vc.Audio.SampleRate
	}
	b.speakers = vc.SpeakerIDMap

	return nil
}

// Provider returns the backend identifier.
func (b *Backend) Provider() backend.Provider {
	return backend.ProviderPiper
}

// Device returns the device piper runs on.
func (b *Backend) Device() backend.Device {
	return backend.DeviceCPU
}

// SampleRate returns the voice's output sample rate.
func (b *Backend) SampleRate() int {
	return b.sampleRate
}

// Voices returns the speaker names of a multi-speaker voice.
func (b *Backend) Voices() []string {
	names := make([]string, 0, len(b.speakers))
	for name := range b.speakers {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// Infer synthesizes speech from text.
// Piper reads text on stdin and, with --output_raw, writes 16-bit mono PCM to stdout.
func (b *Backend) Infer(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, backend.ErrEmptyInput
	}

	args, err := b.buildArgs(req)
	if err != nil {
		return nil, err
	}

	stdout, stderr, err := b.executor.Execute(ctx, args, strings.NewReader(text+"\n"))
	if err != nil {
		return nil, fmt.Errorf("execution failed: %w: %s", err, strings.TrimSpace(string(stderr)))
	}

	waveform := decodePCM16(stdout)
	if len(waveform) == 0 {
		return nil, backend.ErrEmptyWaveform
	}

	return &backend.Response{
		Waveform: waveform,
		Metadata: &backend.ResponseMetadata{
			Provider:  backend.ProviderPiper,
			Model:     b.modelID,
			Voice:     req.Voice,
			Timestamp: time.Now(),
			Samples:   len(waveform),
			BackendSpecific: map[string]any{
				"args": args,
			},
		},
	}, nil
}

// buildArgs builds Piper command-line arguments.
func (b *Backend) buildArgs(req *backend.Request) ([]string, error) {
	args := []string{
		"--model", b.modelPath,
		"--output_raw",
	}

	// Speaker ID
	if req.Voice != "" {
		id, ok := b.speakers[req.Voice]
		if !ok {
			return nil, fmt.Errorf("%w: %q", backend.ErrUnknownVoice, req.Voice)
		}
		args = append(args, "--speaker", strconv.Itoa(id))
	}

	for _, name := range []string{"length_scale", "noise_scale", "noise_w", "sentence_silence"} {
		if v := mapsafe.Get(b.params, name, -1.0); v >= 0 {
			args = append(args, "--"+name, strconv.FormatFloat(v, 'f', 2, 64))
		}
	}

	return args, nil
}

// decodePCM16 converts little-endian int16 samples to floats in [-1, 1).
func decodePCM16(raw []byte) []float32 {
	out := make([]float32, len(raw)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(raw[2*i:]))) / 32768
	}
	return out
}

// Close cleans up resources. Piper does not have any resources to clean up.
func (b *Backend) Close() error {
	return nil
}

// Locator finds the voice graph inside a downloaded piper voice directory.
type Locator struct{}

// ResolveModelPath returns basePath itself when it is a .onnx file, else the first
// .onnx file found beneath it.
func (Locator) ResolveModelPath(basePath string) (string, error) {
	info, err := os.Stat(basePath)
	if err != nil {
		return "", fmt.Errorf("model path: %w", err)
	}
	if !info.IsDir() {
		return basePath, nil
	}

	matches, err := filepath.Glob(filepath.Join(basePath, "*.onnx"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		matches, _ = filepath.Glob(filepath.Join(basePath, "*", "*.onnx"))
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no .onnx voice found in %s", basePath)
	}

	slices.Sort(matches)
	return matches[0], nil
}

var _ backend.ModelLocator = (*Backend)(nil)
