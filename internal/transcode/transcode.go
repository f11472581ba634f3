package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"vidpipe/internal/ffmpeg"
	"vidpipe/internal/layout"
	"vidpipe/internal/logging"
	"vidpipe/internal/services"
)

const component = "transcoder"

// Transcoder encodes HLS renditions.
type Transcoder struct {
	runner  *ffmpeg.Runner
	timeout time.Duration
	logger  *slog.Logger
}

// New builds a Transcoder. A zero timeout leaves runs bounded only by ctx.
func New(runner *ffmpeg.Runner, timeout time.Duration, logger *slog.Logger) *Transcoder {
	return &Transcoder{
		runner:  runner,
		timeout: timeout,
		logger:  logging.NewComponentLogger(logger, component),
	}
}

// Transcode encodes sourcePath at resolution into outputDir and returns the
// manifest path. Any previous content of outputDir is replaced on success and
// left untouched on failure.
func (t *Transcoder) Transcode(ctx context.Context, sourcePath string, resolution layout.Kind, outputDir string) (string, error) {
	size, ok := DimensionsFor(resolution)
	if !ok {
		return "", services.Wrap(services.ErrValidation, component, "transcode", fmt.Sprintf("unsupported resolution %q", resolution), nil)
	}
	if _, err := os.Stat(sourcePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", services.Wrap(services.ErrEncodingFailed, component, "stat source", sourcePath, err)
		}
		return "", services.Wrap(services.ErrTransient, component, "stat source", sourcePath, err)
	}

	parent := filepath.Dir(outputDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", services.Wrap(services.ErrTransient, component, "create output parent", parent, err)
	}
	staging, err := os.MkdirTemp(parent, layout.StagingPrefix(outputDir))
	if err != nil {
		return "", services.Wrap(services.ErrTransient, component, "create staging dir", parent, err)
	}
	promoted := false
	defer func() {
		if !promoted {
			_ = os.RemoveAll(staging)
		}
	}()

	runCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	logger := logging.WithContext(ctx, t.logger)
	started := time.Now()
	logger.Info("transcode started", logging.String(logging.FieldKind, string(resolution)), logging.String("size", size.String()))

	if err := t.runner.Run(runCtx, ffmpeg.Invocation{
		Component:     component,
		Operation:     "encode " + string(resolution),
		Args:          BuildArgs(sourcePath, size, staging),
		FailureMarker: services.ErrEncodingFailed,
	}); err != nil {
		return "", err
	}

	stagedManifest := filepath.Join(staging, layout.ManifestName())
	info, err := os.Stat(stagedManifest)
	if err != nil || info.Size() == 0 {
		return "", services.Wrap(services.ErrEncodingFailed, component, "verify manifest", "ffmpeg exited 0 without writing a manifest", err)
	}

	if err := promote(staging, outputDir); err != nil {
		return "", services.Wrap(services.ErrTransient, component, "promote output", outputDir, err)
	}
	promoted = true

	manifest := filepath.Join(outputDir, layout.ManifestName())
	logger.Info("transcode finished",
		logging.String(logging.FieldKind, string(resolution)),
		logging.String("manifest", manifest),
		logging.Duration("elapsed", time.Since(started)),
	)
	return manifest, nil
}

// promote replaces dst with src. dst is removed first because rename cannot
// replace a non-empty directory.
func promote(src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	return os.Rename(src, dst)
}
