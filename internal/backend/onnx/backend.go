package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ekisa-team/ttsd/internal/backend"
	"github.com/ekisa-team/ttsd/internal/mapsafe"
	"github.com/ekisa-team/ttsd/internal/xfs"
)

const (
	defaultModelFile   = "onnx/model.onnx"
	defaultConfigFile  = "config.json"
	defaultVoicesDir   = "voices"
	defaultStyleDim    = 256
	defaultMaxTokens   = 510
	defaultPhonemeTime = 30 * time.Second
)

// Backend runs a Kokoro-style graph (input_ids, style, speed) -> waveform.
type Backend struct {
	session     *ort.DynamicAdvancedSession
	processor   *Processor
	device      backend.Device
	modelID     string
	modelName   string
	modelSpeed  float32
	inputNames  []string
	outputNames []string
}

// New opens the ONNX graph in opts.ModelPath on the best device allowed by opts.Device.
func New(_ context.Context, opts backend.Options) (backend.Backend, error) {
	p := opts.Parameters

	procOpts := processorOptions{
		configFile:   mapsafe.Get(p, "config_file", defaultConfigFile),
		voicesDir:    mapsafe.Get(p, "voices_dir", defaultVoicesDir),
		styleDim:     mapsafe.Get(p, "style_dim", defaultStyleDim),
		maxTokens:    mapsafe.Get(p, "max_tokens", defaultMaxTokens),
		padID:        int64(mapsafe.Get(p, "pad_id", 0)),
		sampleRate:   opts.SampleRate,
		defaultVoice: mapsafe.Get(p, "default_voice", ""),
	}
	if procOpts.styleDim <= 0 {
		return nil, fmt.Errorf("style_dim must be positive, got %d", procOpts.styleDim)
	}

	if bin := mapsafe.Get(p, "phonemizer", ""); bin != "" {
		exec, err := backend.NewExecutor(bin, defaultPhonemeTime)
		if err != nil {
			return nil, fmt.Errorf("phonemizer: %w", err)
		}
		procOpts.phonemizer = exec
		procOpts.phonemeArgs = mapsafe.Get(p, "phonemizer_args", []string{"-q", "--ipa", "--stdin", "-v", "en-us"})
	}

	processor, err := LoadProcessor(opts.ModelPath, procOpts)
	if err != nil {
		return nil, err
	}

	b := &Backend{
		processor:   processor,
		modelID:     opts.ModelID,
		modelName:   mapsafe.Get(p, "model_file", defaultModelFile),
		modelSpeed:  mapsafe.Get(p, "model_speed", float32(1)),
		inputNames:  mapsafe.Get(p, "input_names", []string{"input_ids", "style", "speed"}),
		outputNames: []string{mapsafe.Get(p, "output_name", "waveform")},
	}
	if len(b.inputNames) != 3 {
		return nil, fmt.Errorf("input_names must list 3 inputs, got %d", len(b.inputNames))
	}

	modelFile, err := b.ResolveModelPath(opts.ModelPath)
	if err != nil {
		return nil, err
	}

	if err := acquireRuntime(); err != nil {
		return nil, err
	}

	threads := mapsafe.Get(p, "intra_op_threads", 0)

	var errs []error
	for _, device := range candidateDevices(opts.Device) {
		session, err := b.openSession(modelFile, device, threads)
		if err != nil {
			slog.Warn("Failed to create ONNX session", "device", device, "error", err)
			errs = append(errs, err)
			continue
		}

		b.session = session
		b.device = device
		break
	}

	if b.session == nil {
		_ = releaseRuntime()
		return nil, fmt.Errorf("failed to create ONNX session: %w", errors.Join(errs...))
	}

	slog.Info("ONNX session ready",
		"model", opts.ModelID,
		"file", modelFile,
		"device", b.device,
		"sample_rate", processor.SampleRate(),
		"voices", len(processor.voices))

	return b, nil
}

func (b *Backend) openSession(modelFile string, device backend.Device, threads int) (*ort.DynamicAdvancedSession, error) {
	opts, err := sessionOptions(device, threads)
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	return ort.NewDynamicAdvancedSession(modelFile, b.inputNames, b.outputNames, opts)
}

// ResolveModelPath returns the graph file inside the artifact directory.
func (b *Backend) ResolveModelPath(basePath string) (string, error) {
	file, err := xfs.Within(basePath, b.modelName)
	if err != nil {
		return "", fmt.Errorf("model_file: %w", err)
	}
	return file, nil
}

// Provider returns the backend identifier.
func (b *Backend) Provider() backend.Provider {
	return backend.ProviderONNX
}

// Device returns the device the session was created on.
func (b *Backend) Device() backend.Device {
	return b.device
}

// SampleRate returns the native output sample rate.
func (b *Backend) SampleRate() int {
	return b.processor.SampleRate()
}

// Voices returns the available voice presets.
func (b *Backend) Voices() []string {
	return b.processor.Voices()
}

// Infer synthesizes one utterance.
func (b *Backend) Infer(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	tokens, err := b.processor.Encode(ctx, req.Text)
	if err != nil {
		return nil, err
	}

	style, voice, err := b.processor.Style(req.Voice, len(tokens)-2)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputIDs, err := ort.NewTensor(ort.NewShape(1, int64(len(tokens))), tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer inputIDs.Destroy()

	styleTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(style))), slices.Clone(style))
	if err != nil {
		return nil, fmt.Errorf("failed to create style tensor: %w", err)
	}
	defer styleTensor.Destroy()

	speedTensor, err := ort.NewTensor(ort.NewShape(1), []float32{b.modelSpeed})
	if err != nil {
		return nil, fmt.Errorf("failed to create speed tensor: %w", err)
	}
	defer speedTensor.Destroy()

	inputs := []ort.Value{inputIDs, styleTensor, speedTensor}
	outputs := make([]ort.Value, 1)

	start := time.Now()
	if err := b.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("failed to run inference: %w", err)
	}
	if outputs[0] == nil {
		return nil, backend.ErrEmptyWaveform
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}

	// The tensor owns its buffer, so copy before Destroy.
	waveform := slices.Clone(out.GetData())
	if len(waveform) == 0 {
		return nil, backend.ErrEmptyWaveform
	}

	nonFinite := 0
	for _, v := range waveform {
		if !finite(v) {
			nonFinite++
		}
	}

	return &backend.Response{
		Waveform: waveform,
		Metadata: &backend.ResponseMetadata{
			Provider:  backend.ProviderONNX,
			Model:     b.modelID,
			Voice:     voice,
			Timestamp: time.Now(),
			Samples:   len(waveform),
			BackendSpecific: map[string]any{
				"tokens":     len(tokens),
				"device":     string(b.device),
				"run_ms":     time.Since(start).Milliseconds(),
				"non_finite": nonFinite,
			},
		},
	}, nil
}

var _ backend.ModelLocator = (*Backend)(nil)

// Close destroys the session and releases the runtime.
func (b *Backend) Close() error {
	var errs []error
	if b.session != nil {
		errs = append(errs, b.session.Destroy())
		b.session = nil
	}
	errs = append(errs, releaseRuntime())

	return errors.Join(errs...)
}
