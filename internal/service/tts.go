package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/ekisa-team/ttsd/internal/audio"
	"github.com/ekisa-team/ttsd/internal/backend"
	"github.com/ekisa-team/ttsd/internal/model"
)

const previewRunes = 50

// Accepted playback speeds. Slower speeds stretch the waveform and cost memory.
const (
	MinSpeed = 0.25
	MaxSpeed = 4.0
)

// Limits bounds each synthesis request.
type Limits struct {
	// Timeout bounds waiting for and running the inference. Zero disables it.
	Timeout time.Duration

	// MaxTextLength caps the input in runes. Zero means unbounded.
	MaxTextLength int
}

// Request is a single synthesis call.
type Request struct {
	Text        string
	VoicePreset string
	Speed       float64
}

// Result is a synthesized WAV file and how it was made.
type Result struct {
	WAV        []byte
	SampleRate int
	Device     backend.Device
	Voice      string
	Elapsed    time.Duration
}

// TTS is the text-to-speech service around the loaded model handle.
type TTS struct {
	handle        atomic.Pointer[model.Handle]
	gate          *Gate
	timeout       atomic.Int64
	maxTextLength atomic.Int64
}

// NewTTS creates a service with no model attached.
func NewTTS(limits Limits) *TTS {
	s := &TTS{gate: NewGate()}
	s.SetLimits(limits)
	return s
}

// Attach publishes the loaded handle. It can only be done once.
func (s *TTS) Attach(h *model.Handle) error {
	if h == nil {
		return errors.New("service: nil model handle")
	}
	if !s.handle.CompareAndSwap(nil, h) {
		return model.ErrAlreadyLoaded
	}
	return nil
}

// Handle returns the attached handle, or nil before the model is loaded.
func (s *TTS) Handle() *model.Handle {
	return s.handle.Load()
}

// SetLimits replaces the request limits. Safe to call while serving.
func (s *TTS) SetLimits(l Limits) {
	s.timeout.Store(int64(l.Timeout))
	s.maxTextLength.Store(int64(l.MaxTextLength))
}

// Limits returns the current request limits.
func (s *TTS) Limits() Limits {
	return Limits{
		Timeout:       time.Duration(s.timeout.Load()),
		MaxTextLength: int(s.maxTextLength.Load()),
	}
}

// Voices lists the voice presets of the loaded model.
func (s *TTS) Voices() ([]string, error) {
	h := s.handle.Load()
	if h == nil {
		return nil, ErrNotReady
	}
	return h.Synthesizer().Voices(), nil
}

// Synthesize turns text into a WAV file.
func (s *TTS) Synthesize(ctx context.Context, req Request) (*Result, error) {
	h := s.handle.Load()
	if h == nil {
		return nil, ErrNotReady
	}

	limits := s.Limits()
	if err := validate(req, limits); err != nil {
		return nil, err
	}

	start := time.Now()
	logger := slog.With("request_id", RequestIDFromContext(ctx))
	logger.Info("Synthesis request",
		"text", preview(req.Text),
		"voice", req.VoicePreset,
		"speed", req.Speed)

	runCtx := ctx
	if limits.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, limits.Timeout)
		defer cancel()
	}

	resp, err := Do(runCtx, s.gate, func(ctx context.Context) (*backend.Response, error) {
		return h.Synthesizer().Infer(ctx, &backend.Request{
			Text:  req.Text,
			Voice: req.VoicePreset,
		})
	})
	if err != nil {
		err = classify(runCtx, err, limits.Timeout)
		logger.Error("Synthesis failed", "error", err)
		return nil, err
	}
	if resp == nil || len(resp.Waveform) == 0 {
		logger.Error("Synthesis failed", "error", backend.ErrEmptyWaveform)
		return nil, synthesisError(backend.ErrEmptyWaveform)
	}

	wav, err := audio.PostProcess(resp.Waveform, h.SampleRate, req.Speed)
	if err != nil {
		err = synthesisError(fmt.Errorf("post-processing: %w", err))
		logger.Error("Synthesis failed", "error", err)
		return nil, err
	}

	voice := req.VoicePreset
	if resp.Metadata != nil && resp.Metadata.Voice != "" {
		voice = resp.Metadata.Voice
	}

	res := &Result{
		WAV:        wav,
		SampleRate: h.SampleRate,
		Device:     h.Device,
		Voice:      voice,
		Elapsed:    time.Since(start),
	}

	logger.Info("Synthesis completed",
		"elapsed", res.Elapsed.Round(time.Millisecond),
		"sample_rate", res.SampleRate,
		"size_kb", fmt.Sprintf("%.1f", float64(len(wav))/1024))

	return res, nil
}

func validate(req Request, limits Limits) error {
	if strings.TrimSpace(req.Text) == "" {
		return invalidInput("text must not be empty")
	}
	if math.IsNaN(req.Speed) || req.Speed < MinSpeed || req.Speed > MaxSpeed {
		return invalidInput("speed must be between %v and %v, got %v", MinSpeed, MaxSpeed, req.Speed)
	}
	if limits.MaxTextLength > 0 {
		if n := utf8.RuneCountInString(req.Text); n > limits.MaxTextLength {
			return invalidInput("text is %d characters, limit is %d", n, limits.MaxTextLength)
		}
	}
	return nil
}

// classify maps a backend or gate error onto a service error kind.
func classify(ctx context.Context, err error, timeout time.Duration) error {
	switch {
	case errors.Is(err, backend.ErrUnknownVoice),
		errors.Is(err, backend.ErrEmptyInput),
		errors.Is(err, backend.ErrInputTooLong):
		return &Error{Kind: ErrInvalidInput, Err: err}
	case errors.Is(err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded):
		return synthesisError(fmt.Errorf("synthesis timed out after %s: %w", timeout, err))
	default:
		return synthesisError(err)
	}
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	return string([]rune(text)[:previewRunes]) + "..."
}
