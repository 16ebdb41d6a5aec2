package onnx

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/ttsd/internal/backend"
)

const testStyleDim = 4

// writeArtifact lays out a minimal Kokoro-style artifact directory.
func writeArtifact(t *testing.T, config string, voices map[string][]float32) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(config), 0o600))

	for name, vec := range voices {
		path := filepath.Join(dir, "voices", filepath.FromSlash(name)+".bin")
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

		var buf bytes.Buffer
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, vec))
		require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	}

	return dir
}

func rows(n int) []float32 {
	out := make([]float32, 0, n*testStyleDim)
	for r := range n {
		for range testStyleDim {
			out = append(out, float32(r))
		}
	}
	return out
}

func testOptions() processorOptions {
	return processorOptions{
		configFile: "config.json",
		voicesDir:  "voices",
		styleDim:   testStyleDim,
		maxTokens:  8,
		sampleRate: 24000,
	}
}

const testConfig = `{"vocab": {"$": 0, "h": 1, "e": 2, "l": 3, "o": 4, " ": 5, "fi": 9}}`

func TestLoadProcessor(t *testing.T) {
	dir := writeArtifact(t, testConfig, map[string][]float32{
		"af_heart":        rows(3),
		"v2/en_speaker_0": rows(2),
	})

	p, err := LoadProcessor(dir, testOptions())
	require.NoError(t, err)

	assert.Equal(t, []string{"af_heart", "v2/en_speaker_0"}, p.Voices())
	assert.Equal(t, 24000, p.SampleRate())
	assert.Equal(t, testStyleDim, p.styleDim)
	assert.Equal(t, "af_heart", p.defaultVoice)
}

func TestLoadProcessor_ConfigOverrides(t *testing.T) {
	dir := writeArtifact(t, `{"vocab": {"a": 1}, "sample_rate": 22050, "style_dim": 2}`, map[string][]float32{
		"a": {0, 0, 1, 1},
	})

	p, err := LoadProcessor(dir, testOptions())
	require.NoError(t, err)
	assert.Equal(t, 22050, p.SampleRate())
	assert.Equal(t, 2, p.styleDim)
}

func TestLoadProcessor_Errors(t *testing.T) {
	t.Run("missing config", func(t *testing.T) {
		_, err := LoadProcessor(t.TempDir(), testOptions())
		assert.Error(t, err)
	})

	t.Run("empty vocab", func(t *testing.T) {
		dir := writeArtifact(t, `{"vocab": {}}`, map[string][]float32{"a": rows(1)})
		_, err := LoadProcessor(dir, testOptions())
		assert.ErrorContains(t, err, "no vocab")
	})

	t.Run("no voices", func(t *testing.T) {
		dir := writeArtifact(t, testConfig, nil)
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "voices"), 0o755))
		_, err := LoadProcessor(dir, testOptions())
		assert.ErrorContains(t, err, "no voice presets")
	})

	t.Run("truncated voice", func(t *testing.T) {
		dir := writeArtifact(t, testConfig, map[string][]float32{"a": {1, 2, 3}})
		_, err := LoadProcessor(dir, testOptions())
		assert.ErrorContains(t, err, "not a multiple")
	})

	t.Run("unknown default voice", func(t *testing.T) {
		dir := writeArtifact(t, testConfig, map[string][]float32{"a": rows(1)})
		opts := testOptions()
		opts.defaultVoice = "missing"
		_, err := LoadProcessor(dir, opts)
		assert.ErrorIs(t, err, backend.ErrUnknownVoice)
	})
}

func TestProcessor_Encode(t *testing.T) {
	dir := writeArtifact(t, testConfig, map[string][]float32{"a": rows(1)})
	p, err := LoadProcessor(dir, testOptions())
	require.NoError(t, err)

	ids, err := p.Encode(context.Background(), "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2, 3, 3, 4, 0}, ids)

	// NFKC folds the ligature into "fi"; neither rune is in the vocab, so only "o" survives.
	ids, err = p.Encode(context.Background(), "ﬁo")
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 4, 0}, ids)

	_, err = p.Encode(context.Background(), "xyz")
	assert.ErrorIs(t, err, backend.ErrEmptyInput)

	_, err = p.Encode(context.Background(), "hello hello")
	assert.ErrorIs(t, err, backend.ErrInputTooLong)
}

func TestProcessor_Style(t *testing.T) {
	dir := writeArtifact(t, testConfig, map[string][]float32{
		"a": rows(3),
		"b": rows(1),
	})
	p, err := LoadProcessor(dir, testOptions())
	require.NoError(t, err)

	style, voice, err := p.Style("", 1)
	require.NoError(t, err)
	assert.Equal(t, "a", voice)
	assert.Equal(t, []float32{1, 1, 1, 1}, style)

	// Longer sequences clamp to the last row.
	style, _, err = p.Style("a", 50)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 2, 2, 2}, style)

	style, _, err = p.Style("b", 5)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 0}, style)

	_, _, err = p.Style("nope", 1)
	assert.ErrorIs(t, err, backend.ErrUnknownVoice)
}

func TestLibraryPath_Env(t *testing.T) {
	t.Setenv("ONNXRUNTIME_LIB_PATH", "/opt/ort/libonnxruntime.so")
	assert.Equal(t, "/opt/ort/libonnxruntime.so", libraryPath())
}

func TestBackend_ResolveModelPath(t *testing.T) {
	b := &Backend{modelName: defaultModelFile}

	got, err := b.ResolveModelPath("/models/kokoro")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/models/kokoro", "onnx", "model.onnx"), got)

	b.modelName = "../../etc/passwd"
	_, err = b.ResolveModelPath("/models/kokoro")
	assert.Error(t, err)
}

func TestCandidateDevices(t *testing.T) {
	assert.Equal(t, []backend.Device{backend.DeviceCUDA, backend.DeviceCPU}, candidateDevices(backend.DeviceAuto))
	assert.Equal(t, []backend.Device{backend.DeviceCPU}, candidateDevices(backend.DeviceCPU))
	assert.Equal(t, []backend.Device{backend.DeviceCUDA}, candidateDevices(backend.DeviceCUDA))
}
