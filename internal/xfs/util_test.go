package xfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, home, ExpandTilde("~"))
	assert.Equal(t, filepath.Join(home, "models"), ExpandTilde("~/models"))
	assert.Equal(t, "/var/lib/ttsd", ExpandTilde("/var/lib/ttsd"))
	assert.Equal(t, "~other/models", ExpandTilde("~other/models"))
}

func TestWithin(t *testing.T) {
	root := t.TempDir()

	got, err := Within(root, "v2/en_speaker_0.bin")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "v2", "en_speaker_0.bin"), got)

	_, err = Within(root, "../secrets")
	assert.ErrorIs(t, err, ErrOutsideRoot)

	_, err = Within(root, "/etc/passwd")
	assert.ErrorIs(t, err, ErrOutsideRoot)
}

func TestIsDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	assert.True(t, IsDir(dir))
	assert.False(t, IsDir(file))
	assert.False(t, IsDir(filepath.Join(dir, "missing")))
}
