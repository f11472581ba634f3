// Package thumbnail extracts a single representative frame from a source file
// and stores it as a downscaled PNG.
package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/renameio/v2"

	"vidpipe/internal/ffmpeg"
	"vidpipe/internal/layout"
	"vidpipe/internal/logging"
	"vidpipe/internal/media/ffprobe"
	"vidpipe/internal/services"
)

const component = "thumbnail"

// Prober reports media metadata for a source file.
type Prober func(ctx context.Context, path string) (ffprobe.Result, error)

// Options configures an Extractor.
type Options struct {
	Offset   time.Duration
	MaxWidth int
	Timeout  time.Duration
}

// Extractor produces thumbnails with ffmpeg.
type Extractor struct {
	runner *ffmpeg.Runner
	probe  Prober
	opts   Options
	logger *slog.Logger
}

// New builds an Extractor. probe may be nil, in which case the frame is
// always taken from the start of the source.
func New(runner *ffmpeg.Runner, probe Prober, opts Options, logger *slog.Logger) *Extractor {
	return &Extractor{
		runner: runner,
		probe:  probe,
		opts:   opts,
		logger: logging.NewComponentLogger(logger, component),
	}
}

// FFprobe returns a Prober backed by the ffprobe binary.
func FFprobe(binary string) Prober {
	return func(ctx context.Context, path string) (ffprobe.Result, error) {
		return ffprobe.Inspect(ctx, binary, path)
	}
}

// Extract writes a PNG frame of sourcePath to outputPath and returns outputPath.
func (e *Extractor) Extract(ctx context.Context, sourcePath, outputPath string) (string, error) {
	if _, err := os.Stat(sourcePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", services.Wrap(services.ErrFrameExtraction, component, "stat source", sourcePath, err)
		}
		return "", services.Wrap(services.ErrTransient, component, "stat source", sourcePath, err)
	}

	runCtx := ctx
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	logger := logging.WithContext(ctx, e.logger)
	offset := e.frameOffset(runCtx, sourcePath, logger)

	outputDir := filepath.Dir(outputPath)
	parent := filepath.Dir(outputDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", services.Wrap(services.ErrTransient, component, "create output parent", parent, err)
	}
	staging, err := os.MkdirTemp(parent, layout.StagingPrefix(outputDir))
	if err != nil {
		return "", services.Wrap(services.ErrTransient, component, "create staging dir", parent, err)
	}
	defer os.RemoveAll(staging)

	frame := filepath.Join(staging, "frame.png")
	if err := e.runner.Run(runCtx, ffmpeg.Invocation{
		Component:     component,
		Operation:     "extract frame",
		Args:          BuildArgs(sourcePath, offset, frame),
		FailureMarker: services.ErrFrameExtraction,
	}); err != nil {
		return "", err
	}

	encoded, err := e.downscale(frame)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrTransient, component, "create output dir", outputDir, err)
	}
	if err := renameio.WriteFile(outputPath, encoded, 0o644); err != nil {
		return "", services.Wrap(services.ErrTransient, component, "write thumbnail", outputPath, err)
	}

	logger.Info("thumbnail written", logging.String("path", outputPath), logging.Duration("offset", offset))
	return outputPath, nil
}

// frameOffset clamps the configured offset to the first frame when the source
// is shorter than the offset or its duration cannot be determined.
func (e *Extractor) frameOffset(ctx context.Context, sourcePath string, logger *slog.Logger) time.Duration {
	if e.opts.Offset <= 0 || e.probe == nil {
		return 0
	}
	result, err := e.probe(ctx, sourcePath)
	if err != nil {
		logger.Debug("duration probe failed; using first frame", logging.Error(err))
		return 0
	}
	duration, ok := result.Duration()
	if !ok || duration <= e.opts.Offset {
		return 0
	}
	return e.opts.Offset
}

func (e *Extractor) downscale(framePath string) ([]byte, error) {
	info, err := os.Stat(framePath)
	if err != nil || info.Size() == 0 {
		return nil, services.Wrap(services.ErrFrameExtraction, component, "read frame", "ffmpeg exited 0 without writing a frame", err)
	}
	img, err := imaging.Open(framePath)
	if err != nil {
		return nil, services.Wrap(services.ErrFrameExtraction, component, "decode frame", framePath, err)
	}
	if e.opts.MaxWidth > 0 && img.Bounds().Dx() > e.opts.MaxWidth {
		img = imaging.Resize(img, e.opts.MaxWidth, 0, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, services.Wrap(services.ErrFrameExtraction, component, "encode png", "", err)
	}
	return buf.Bytes(), nil
}

// BuildArgs returns the ffmpeg arguments that grab one frame at offset.
func BuildArgs(sourcePath string, offset time.Duration, framePath string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-nostats",
		"-loglevel", "error",
		"-ss", formatSeconds(offset),
		"-i", sourcePath,
		"-frames:v", "1",
		framePath,
	}
}

func formatSeconds(d time.Duration) string {
	if d <= 0 {
		return "0"
	}
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

