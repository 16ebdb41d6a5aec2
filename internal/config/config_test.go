package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
version: "1"
server:
  http_port: 9000
  grpc_port: -1
log:
  level: debug
model:
  id: bark-small
  backend: onnx
  device: cpu
  source:
    huggingface:
      repo: onnx-community/Kokoro-82M-v1.0-ONNX
      revision: main
      include: ["onnx/model.onnx", "voices/*", "config.json"]
  parameters:
    model_file: onnx/model.onnx
    style_dim: 256
synthesis:
  timeout_seconds: 30
  max_text_length: 2000
nats:
  url: nats://127.0.0.1:4222
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, -1, cfg.Server.GRPCPort)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "bark-small", cfg.Model.ID)
	assert.Equal(t, "cpu", cfg.Model.Device)
	assert.Equal(t, DefaultSampleRate, cfg.Model.SampleRate)
	assert.Equal(t, "onnx/model.onnx", cfg.Model.Parameters["model_file"])
	assert.Equal(t, 30*time.Second, cfg.Synthesis.Timeout())
	assert.Equal(t, 2000, cfg.Synthesis.MaxTextLength)
	assert.Equal(t, DefaultNATSSubject, cfg.NATS.Subject)

	src, err := cfg.Model.GetSource()
	require.NoError(t, err)
	assert.Equal(t, SourceTypeHuggingFace, src.Type())
	hf, ok := src.(HuggingFaceSource)
	require.True(t, ok)
	assert.Equal(t, "main", hf.Revision)
	assert.Len(t, hf.Include, 3)
}

func TestParse_RejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing model":   "version: \"1\"\n",
		"unknown backend": "version: \"1\"\nmodel:\n  backend: bark\n  source:\n    local:\n      path: /m\n",
		"two sources":     "version: \"1\"\nmodel:\n  source:\n    local:\n      path: /m\n    huggingface:\n      repo: a/b\n",
		"bad port":        "version: \"1\"\nserver:\n  http_port: 70000\nmodel:\n  source:\n    local:\n      path: /m\n",
		"unknown key":     "version: \"1\"\nmodel:\n  source:\n    local:\n      path: /m\nextra: true\n",
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("model: [unterminated"))
	assert.ErrorContains(t, err, "invalid YAML")
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, found, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, DefaultModelID, cfg.Model.ID)
	assert.Equal(t, DefaultBackend, cfg.Model.Backend)
	assert.Equal(t, DefaultTimeoutSeconds, cfg.Synthesis.TimeoutSeconds)
	require.NotNil(t, cfg.Model.Source.HuggingFace)
	assert.Equal(t, DefaultModelRepo, cfg.Model.Source.HuggingFace.Repo)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, t.TempDir(), sampleConfig)

	cfg, found, err := Load(path)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 9000, cfg.Server.HTTPPort)
}

func TestApplyDefaults_EnvPorts(t *testing.T) {
	t.Setenv("TTSD_SERVER_HTTP_PORT", "9100")
	t.Setenv("TTSD_SERVER_GRPC_PORT", "not-a-port")

	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, 9100, cfg.Server.HTTPPort)
	assert.Equal(t, defaultGRPCPort, cfg.Server.GRPCPort)
}

func TestModelConfig_GetSource(t *testing.T) {
	var m ModelConfig
	_, err := m.GetSource()
	assert.Error(t, err)

	m.SetHuggingFaceSource(HuggingFaceSource{Repo: "a/b"})
	m.SetLocalSource(LocalSource{Path: "/models/b"})

	src, err := m.GetSource()
	require.NoError(t, err)
	assert.Equal(t, SourceTypeLocal, src.Type())
	assert.Nil(t, m.Source.HuggingFace)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, t.TempDir(), sampleConfig)

	var (
		mu       sync.Mutex
		reloaded *Config
	)
	w, err := NewWatcher(path, func(cfg *Config, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			reloaded = cfg
		}
	})
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, "debug", w.Snapshot().Log.Level)

	updated := []byte(replaceOnce(sampleConfig, "level: debug", "level: warn"))
	require.NoError(t, os.WriteFile(path, updated, 0o600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return reloaded != nil && reloaded.Log.Level == "warn"
	}, 5*time.Second, 50*time.Millisecond)

	assert.Equal(t, "warn", w.Snapshot().Log.Level)
	assert.GreaterOrEqual(t, w.ReloadCount(), uint32(1))
}

func replaceOnce(s, old, repl string) string {
	for i := 0; i+len(old) <= len(s); i++ {
		if s[i:i+len(old)] == old {
			return s[:i] + repl + s[i+len(old):]
		}
	}
	return s
}
