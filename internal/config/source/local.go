package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ekisa-team/ttsd/internal/config"
	"github.com/ekisa-team/ttsd/internal/xfs"
)

// LocalDownloader serves a model directory that already exists on disk.
type LocalDownloader struct{}

// Download checks that the configured directory exists. Nothing is copied.
func (d *LocalDownloader) Download(_ context.Context, modelConfig *config.ModelConfig, _ string) (string, bool, error) {
	src, err := modelConfig.GetSource()
	if err != nil {
		return "", false, fmt.Errorf("failed to get model source: %w", err)
	}

	local, ok := src.(config.LocalSource)
	if !ok {
		return "", false, fmt.Errorf("invalid source type: %T", src)
	}

	path := xfs.ExpandTilde(local.Path)
	if !xfs.IsDir(path) {
		return "", false, fmt.Errorf("local model directory %q does not exist", path)
	}

	slog.Info("Using local model directory", "path", path)
	return path, true, nil
}
