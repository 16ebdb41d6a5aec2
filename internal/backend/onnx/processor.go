package onnx

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/ekisa-team/ttsd/internal/backend"
)

// generationConfig is the subset of the artifact's config.json the processor reads.
type generationConfig struct {
	Vocab      map[string]int64 `json:"vocab"`
	SampleRate int              `json:"sample_rate"`
	StyleDim   int              `json:"style_dim"`
}

type processorOptions struct {
	configFile   string
	voicesDir    string
	styleDim     int
	maxTokens    int
	padID        int64
	sampleRate   int
	defaultVoice string
	phonemizer   *backend.Executor
	phonemeArgs  []string
}

// Processor turns text into token ids and resolves voice style vectors.
type Processor struct {
	vocab        map[rune]int64
	padID        int64
	voices       map[string][]float32
	styleDim     int
	maxTokens    int
	sampleRate   int
	defaultVoice string
	phonemizer   *backend.Executor
	phonemeArgs  []string
}

// LoadProcessor reads the vocabulary, generation config and voice presets from dir.
func LoadProcessor(dir string, opts processorOptions) (*Processor, error) {
	data, err := os.ReadFile(filepath.Join(dir, opts.configFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read generation config: %w", err)
	}

	var gc generationConfig
	if err := json.Unmarshal(data, &gc); err != nil {
		return nil, fmt.Errorf("failed to parse generation config: %w", err)
	}
	if len(gc.Vocab) == 0 {
		return nil, fmt.Errorf("generation config %s has no vocab", opts.configFile)
	}

	p := &Processor{
		vocab:       make(map[rune]int64, len(gc.Vocab)),
		padID:       opts.padID,
		styleDim:    opts.styleDim,
		maxTokens:   opts.maxTokens,
		sampleRate:  opts.sampleRate,
		phonemizer:  opts.phonemizer,
		phonemeArgs: opts.phonemeArgs,
	}
	if gc.SampleRate > 0 {
		p.sampleRate = gc.SampleRate
	}
	if gc.StyleDim > 0 {
		p.styleDim = gc.StyleDim
	}

	for sym, id := range gc.Vocab {
		r := []rune(sym)
		if len(r) != 1 {
			continue
		}
		p.vocab[r[0]] = id
	}

	p.voices, err = loadVoices(filepath.Join(dir, opts.voicesDir), p.styleDim)
	if err != nil {
		return nil, err
	}

	p.defaultVoice = opts.defaultVoice
	if p.defaultVoice == "" {
		p.defaultVoice = p.Voices()[0]
	}
	if _, ok := p.voices[p.defaultVoice]; !ok {
		return nil, fmt.Errorf("default voice %q: %w", p.defaultVoice, backend.ErrUnknownVoice)
	}

	return p, nil
}

// loadVoices reads every *.bin under dir as little-endian float32 rows of styleDim values.
// A voice is named by its path relative to dir without the extension.
func loadVoices(dir string, styleDim int) (map[string][]float32, error) {
	voices := make(map[string][]float32)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".bin" {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if len(raw) == 0 || len(raw)%(4*styleDim) != 0 {
			return fmt.Errorf("voice file %s: size %d is not a multiple of %d float32 values", path, len(raw), styleDim)
		}

		vec := make([]float32, len(raw)/4)
		if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, vec); err != nil {
			return fmt.Errorf("voice file %s: %w", path, err)
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(strings.TrimSuffix(rel, ".bin"))
		voices[name] = vec
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load voices: %w", err)
	}
	if len(voices) == 0 {
		return nil, fmt.Errorf("no voice presets found in %s", dir)
	}

	return voices, nil
}

// Encode normalises text and maps it to token ids, wrapped in pad tokens.
func (p *Processor) Encode(ctx context.Context, text string) ([]int64, error) {
	text = norm.NFKC.String(strings.TrimSpace(text))

	if p.phonemizer != nil {
		stdout, stderr, err := p.phonemizer.Execute(ctx, p.phonemeArgs, strings.NewReader(text))
		if err != nil {
			return nil, fmt.Errorf("phonemizer failed: %w: %s", err, strings.TrimSpace(string(stderr)))
		}
		text = strings.Join(strings.Fields(string(stdout)), " ")
	}

	ids := make([]int64, 0, len(text)+2)
	ids = append(ids, p.padID)
	for _, r := range text {
		if id, ok := p.vocab[r]; ok {
			ids = append(ids, id)
		}
	}

	n := len(ids) - 1
	if n == 0 {
		return nil, backend.ErrEmptyInput
	}
	if p.maxTokens > 0 && n > p.maxTokens {
		return nil, fmt.Errorf("%w: %d tokens, limit is %d", backend.ErrInputTooLong, n, p.maxTokens)
	}

	return append(ids, p.padID), nil
}

// Style returns the style vector of voice for a sequence of n content tokens.
// An empty voice selects the default preset.
func (p *Processor) Style(voice string, n int) ([]float32, string, error) {
	if voice == "" {
		voice = p.defaultVoice
	}

	vec, ok := p.voices[voice]
	if !ok {
		return nil, voice, fmt.Errorf("%w: %q", backend.ErrUnknownVoice, voice)
	}

	rows := len(vec) / p.styleDim
	row := min(max(n, 0), rows-1)

	return vec[row*p.styleDim : (row+1)*p.styleDim], voice, nil
}

// Voices returns the preset names, sorted.
func (p *Processor) Voices() []string {
	names := make([]string, 0, len(p.voices))
	for name := range p.voices {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// SampleRate returns the native output sample rate.
func (p *Processor) SampleRate() int {
	return p.sampleRate
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
