package converter

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/cuongbtq/media-converter/internal/domain"
)

// FFmpeg runs a local ffmpeg binary
type FFmpeg struct {
	binary string
	opts   Options
	logger *slog.Logger
}

// NewFFmpeg creates a new FFmpeg converter. An empty binary means "ffmpeg" on PATH.
func NewFFmpeg(binary string, opts Options, logger *slog.Logger) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{binary: binary, opts: opts, logger: logger}
}

// Convert runs ffmpeg and waits for it to exit
func (f *FFmpeg) Convert(ctx context.Context, input, output string) error {
	if err := checkInput(input); err != nil {
		return err
	}

	if _, err := exec.LookPath(f.binary); err != nil {
		return domain.NewConversionFailed("ffmpeg not found: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return domain.NewTransientError("failed to create output directory", err)
	}

	runCtx, cancel := withTimeout(ctx, f.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, f.binary, Args(f.opts, input, output)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		os.Remove(output)
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) && runCtx.Err() == nil {
			return domain.NewConversionFailed("failed to run ffmpeg: %v", err)
		}
		return classify(ctx, runCtx, f.opts.Timeout, err, stderr.String())
	}

	f.logger.Debug("ffmpeg finished",
		slog.String("input", input),
		slog.String("output", output),
		slog.Duration("duration", time.Since(start)),
	)

	return nil
}
