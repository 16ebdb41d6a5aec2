package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/ttsd/internal/config"
	"github.com/ekisa-team/ttsd/internal/envvar"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	errs  []error
}

func (f *fakeRunner) Run(_ context.Context, name string, args []string, _ io.Reader) ([]byte, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, append([]string{name}, args...))
	if len(f.errs) == 0 {
		return nil, nil, nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	if err != nil {
		return nil, []byte("rate limited"), err
	}
	return nil, nil, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func hfModel(src config.HuggingFaceSource) *config.ModelConfig {
	m := &config.ModelConfig{ID: "kokoro"}
	m.SetHuggingFaceSource(src)
	return m
}

func newTestDownloader(r *fakeRunner) *HuggingFaceDownloader {
	d := NewHuggingFaceDownloader(r)
	d.retryDelay = time.Millisecond
	return d
}

func TestGetDownloader(t *testing.T) {
	d, err := GetDownloader(config.SourceTypeHuggingFace, nil)
	require.NoError(t, err)
	assert.IsType(t, &HuggingFaceDownloader{}, d)

	d, err = GetDownloader(config.SourceTypeLocal, nil)
	require.NoError(t, err)
	assert.IsType(t, &LocalDownloader{}, d)

	_, err = GetDownloader("s3", nil)
	assert.ErrorIs(t, err, ErrUnsupportedSource)
}

func TestHuggingFaceDownload(t *testing.T) {
	t.Setenv(envvar.HuggingFaceToken, "")

	dir := t.TempDir()
	r := &fakeRunner{}
	d := newTestDownloader(r)

	model := hfModel(config.HuggingFaceSource{
		Repo:     "onnx-community/Kokoro-82M-v1.0-ONNX",
		Revision: "main",
		Include:  []string{"onnx/model.onnx", "voices/*"},
	})

	path, cached, err := d.Download(context.Background(), model, dir)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, filepath.Join(dir, "onnx-community", "Kokoro-82M-v1.0-ONNX"), path)

	require.Len(t, r.calls, 1)
	assert.Equal(t, []string{
		"hf", "download", "onnx-community/Kokoro-82M-v1.0-ONNX", "--local-dir", path,
		"--revision", "main",
		"--include", "onnx/model.onnx", "--include", "voices/*",
	}, r.calls[0])
	assert.FileExists(t, filepath.Join(path, markerFilename))

	t.Run("unchanged marker skips the download", func(t *testing.T) {
		again, cached, err := d.Download(context.Background(), model, dir)
		require.NoError(t, err)
		assert.True(t, cached)
		assert.Equal(t, path, again)
		assert.Equal(t, 1, r.count())
	})

	t.Run("changed revision downloads again", func(t *testing.T) {
		model.Source.HuggingFace.Revision = "v1.0"
		_, cached, err := d.Download(context.Background(), model, dir)
		require.NoError(t, err)
		assert.False(t, cached)
		assert.Equal(t, 2, r.count())
	})

	t.Run("force download ignores the marker", func(t *testing.T) {
		model.Source.HuggingFace.ForceDownload = true
		_, cached, err := d.Download(context.Background(), model, dir)
		require.NoError(t, err)
		assert.False(t, cached)
		assert.Equal(t, 3, r.count())
		assert.Contains(t, r.calls[2], "--force-download")
	})
}

func TestHuggingFaceDownloadRetries(t *testing.T) {
	t.Setenv(envvar.HuggingFaceToken, "")

	transient := errors.New("exit status 1")

	t.Run("succeeds after a transient failure", func(t *testing.T) {
		r := &fakeRunner{errs: []error{transient, nil}}
		_, _, err := newTestDownloader(r).Download(context.Background(), hfModel(config.HuggingFaceSource{Repo: "org/voice"}), t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, 2, r.count())
	})

	t.Run("gives up after three attempts", func(t *testing.T) {
		r := &fakeRunner{errs: []error{transient, transient, transient}}
		dir := t.TempDir()
		_, _, err := newTestDownloader(r).Download(context.Background(), hfModel(config.HuggingFaceSource{Repo: "org/voice"}), dir)
		require.ErrorIs(t, err, transient)
		assert.Contains(t, err.Error(), "rate limited")
		assert.Equal(t, defaultMaxRetries, r.count())
		assert.NoFileExists(t, filepath.Join(dir, "org", "voice", markerFilename))
	})

	t.Run("stops when the context is canceled", func(t *testing.T) {
		r := &fakeRunner{errs: []error{transient, transient, transient}}
		d := newTestDownloader(r)
		d.retryDelay = time.Hour

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)

		_, _, err := d.Download(ctx, hfModel(config.HuggingFaceSource{Repo: "org/voice"}), t.TempDir())
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, r.count())
	})
}

func TestHuggingFaceBuildArgs(t *testing.T) {
	d := NewHuggingFaceDownloader(&fakeRunner{})

	t.Run("token from environment", func(t *testing.T) {
		t.Setenv(envvar.HuggingFaceToken, "hf_env")
		args := d.buildArgs("org/voice", "/models/org/voice", config.HuggingFaceSource{Repo: "org/voice"})
		assert.Equal(t, []string{"download", "org/voice", "--local-dir", "/models/org/voice", "--token", "hf_env"}, args)
	})

	t.Run("configured token wins", func(t *testing.T) {
		t.Setenv(envvar.HuggingFaceToken, "hf_env")
		args := d.buildArgs("org/voice", "/m", config.HuggingFaceSource{
			Token:      "hf_cfg",
			RepoType:   "model",
			Exclude:    []string{"*.pt"},
			MaxWorkers: 4,
		})
		assert.Equal(t, []string{
			"download", "org/voice", "--local-dir", "/m",
			"--repo-type", "model",
			"--exclude", "*.pt",
			"--token", "hf_cfg",
			"--max-workers", "4",
		}, args)
	})
}

func TestHuggingFaceRejectsBadRepo(t *testing.T) {
	r := &fakeRunner{}
	for _, repo := range []string{"", "  ", "../etc"} {
		_, _, err := newTestDownloader(r).Download(context.Background(), hfModel(config.HuggingFaceSource{Repo: repo}), t.TempDir())
		assert.Error(t, err, repo)
	}
	assert.Zero(t, r.count())
}

func TestLocalDownloader(t *testing.T) {
	dir := t.TempDir()

	m := &config.ModelConfig{ID: "piper"}
	m.SetLocalSource(config.LocalSource{Path: dir})

	path, cached, err := (&LocalDownloader{}).Download(context.Background(), m, "/unused")
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, dir, path)

	m.SetLocalSource(config.LocalSource{Path: filepath.Join(dir, "missing")})
	_, _, err = (&LocalDownloader{}).Download(context.Background(), m, "/unused")
	assert.Error(t, err)

	_, _, err = (&LocalDownloader{}).Download(context.Background(), hfModel(config.HuggingFaceSource{Repo: "org/voice"}), "/unused")
	assert.Error(t, err)
}

func TestEnsureModelsDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureModelsDirectory(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
