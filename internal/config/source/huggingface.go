package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ekisa-team/ttsd/internal/backend"
	"github.com/ekisa-team/ttsd/internal/config"
	"github.com/ekisa-team/ttsd/internal/envvar"
)

const (
	defaultRetryDelay = 2 * time.Second
	defaultMaxRetries = 3
	defaultTimeout    = 5 * time.Minute
	markerFilename    = ".ttsd-downloaded"
	hfBinary          = "hf"
)

// HuggingFaceDownloader downloads a model repository with the hf CLI.
type HuggingFaceDownloader struct {
	runner     backend.CommandRunner
	retryDelay time.Duration
	timeout    time.Duration
}

// NewHuggingFaceDownloader creates a downloader. A nil runner uses os/exec.
func NewHuggingFaceDownloader(runner backend.CommandRunner) *HuggingFaceDownloader {
	if runner == nil {
		runner = backend.ExecCommandRunner{}
	}

	return &HuggingFaceDownloader{
		runner:     runner,
		retryDelay: defaultRetryDelay,
		timeout:    defaultTimeout,
	}
}

// Download downloads the repository into targetDir/<repo>.
func (d *HuggingFaceDownloader) Download(ctx context.Context, modelConfig *config.ModelConfig, targetDir string) (string, bool, error) {
	src, err := modelConfig.GetSource()
	if err != nil {
		return "", false, fmt.Errorf("failed to get model source: %w", err)
	}

	hfSource, ok := src.(config.HuggingFaceSource)
	if !ok {
		return "", false, fmt.Errorf("invalid source type: %T", src)
	}

	repo := strings.TrimSpace(hfSource.Repo)
	if repo == "" || strings.Contains(repo, "..") {
		return "", false, fmt.Errorf("invalid repo name: %q", hfSource.Repo)
	}

	fullPath := filepath.Join(targetDir, repo)
	markerPath := filepath.Join(fullPath, markerFilename)
	markerContent := d.markerContent(repo, hfSource.Revision, hfSource.Include, hfSource.Exclude)

	if !hfSource.ForceDownload && !d.shouldRedownload(markerPath, markerContent) {
		slog.Info("Model already downloaded and up-to-date, skipping", "repo", repo, "path", fullPath)
		return fullPath, true, nil
	}

	if err := os.MkdirAll(fullPath, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create directory: %w", err)
	}

	args := d.buildArgs(repo, fullPath, hfSource)

	var lastErr error
	for attempt := range defaultMaxRetries {
		if attempt > 0 {
			slog.Info("Retrying download", "repo", repo, "attempt", attempt+1, "last_error", lastErr)

			select {
			case <-ctx.Done():
				return "", false, fmt.Errorf("download canceled: %w", ctx.Err())
			case <-time.After(d.retryDelay):
			}
		} else {
			slog.Info("Downloading model", "repo", repo, "path", fullPath)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
		_, stderr, err := d.runner.Run(attemptCtx, hfBinary, args, nil)
		attemptErr := attemptCtx.Err()
		cancel()

		if err == nil {
			if err := os.WriteFile(markerPath, []byte(markerContent), 0o644); err != nil {
				slog.Warn("Failed to write download marker", "path", markerPath, "error", err)
			}

			slog.Info("Model downloaded successfully", "repo", repo, "path", fullPath, "attempt", attempt+1)
			return fullPath, false, nil
		}

		lastErr = fmt.Errorf("hf download %s: %w: %s", repo, err, strings.TrimSpace(string(stderr)))
		slog.Error("Failed to download model", "repo", repo, "attempt", attempt+1, "error", lastErr)

		if errors.Is(attemptErr, context.DeadlineExceeded) {
			slog.Warn("Download timed out", "repo", repo, "attempt", attempt+1)
		}
		if ctx.Err() != nil {
			return "", false, fmt.Errorf("download canceled: %w", ctx.Err())
		}
	}

	return "", false, lastErr
}

func (d *HuggingFaceDownloader) buildArgs(repo, dir string, src config.HuggingFaceSource) []string {
	args := []string{"download", repo, "--local-dir", dir}

	if src.Revision != "" {
		args = append(args, "--revision", src.Revision)
	}
	if src.RepoType != "" {
		args = append(args, "--repo-type", src.RepoType)
	}
	for _, inc := range src.Include {
		args = append(args, "--include", inc)
	}
	for _, exc := range src.Exclude {
		args = append(args, "--exclude", exc)
	}
	if src.ForceDownload {
		args = append(args, "--force-download")
	}

	token := src.Token
	if token == "" {
		token = os.Getenv(envvar.HuggingFaceToken)
	}
	if token != "" {
		args = append(args, "--token", token)
	}
	if src.MaxWorkers > 0 {
		args = append(args, "--max-workers", strconv.Itoa(src.MaxWorkers))
	}

	return args
}

// markerContent identifies what was downloaded so config changes trigger a new download.
func (d *HuggingFaceDownloader) markerContent(repo, revision string, include, exclude []string) string {
	return fmt.Sprintf("repo: %s\nrevision: %s\ninclude: %s\nexclude: %s\n",
		repo, revision, strings.Join(include, ","), strings.Join(exclude, ","))
}

// shouldRedownload compares the marker file with the expected content.
func (d *HuggingFaceDownloader) shouldRedownload(markerPath, expectedContent string) bool {
	content, err := os.ReadFile(markerPath)
	if err != nil {
		slog.Debug("Marker file missing or unreadable", "path", markerPath, "error", err)
		return true
	}

	if string(content) != expectedContent {
		slog.Info("Model config changed (marker mismatch), will redownload", "marker_path", markerPath)
		return true
	}

	return false
}
