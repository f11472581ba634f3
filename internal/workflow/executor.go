package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"vidpipe/internal/config"
	"vidpipe/internal/ffmpeg"
	"vidpipe/internal/layout"
	"vidpipe/internal/queue"
	"vidpipe/internal/services"
	"vidpipe/internal/thumbnail"
	"vidpipe/internal/transcode"
)

// Executor produces the artifact of a job.
type Executor interface {
	// Execute runs the job and returns the artifact path.
	Execute(ctx context.Context, job *queue.Job) (string, error)
	// Discard removes any output the job produced.
	Discard(job *queue.Job) error
}

// MediaExecutor routes resolution jobs to the transcoder and thumbnail jobs to
// the extractor, placing output where the layout resolver says.
type MediaExecutor struct {
	resolver   *layout.Resolver
	transcoder *transcode.Transcoder
	extractor  *thumbnail.Extractor
}

// NewMediaExecutor builds a MediaExecutor.
func NewMediaExecutor(resolver *layout.Resolver, transcoder *transcode.Transcoder, extractor *thumbnail.Extractor) *MediaExecutor {
	return &MediaExecutor{resolver: resolver, transcoder: transcoder, extractor: extractor}
}

// NewMediaExecutorFromConfig wires the resolver, transcoder and extractor
// from configuration around one shared ffmpeg runner.
func NewMediaExecutorFromConfig(cfg *config.Config, logger *slog.Logger) (*MediaExecutor, error) {
	resolver, err := layout.New(cfg.Paths.MediaRoot)
	if err != nil {
		return nil, err
	}
	runner := ffmpeg.NewRunner(cfg.FFmpeg.Binary, cfg.KillGrace(), logger)
	extractor := thumbnail.New(runner, thumbnail.FFprobe(cfg.FFmpeg.FFprobeBinary), thumbnail.Options{
		Offset:   cfg.ThumbnailOffset(),
		MaxWidth: cfg.FFmpeg.ThumbnailMaxWidth,
		Timeout:  cfg.ThumbnailTimeout(),
	}, logger)
	return NewMediaExecutor(resolver, transcode.New(runner, cfg.EncodeTimeout(), logger), extractor), nil
}

// Execute implements Executor.
func (e *MediaExecutor) Execute(ctx context.Context, job *queue.Job) (string, error) {
	target, err := e.resolver.Resolve(job.EntityID, job.Kind)
	if err != nil {
		return "", err
	}
	switch {
	case job.Kind == layout.KindThumbnail:
		return e.extractor.Extract(ctx, job.SourcePath, target)
	case job.Kind.IsResolution():
		outputDir, err := e.resolver.OutputDir(job.EntityID, job.Kind)
		if err != nil {
			return "", err
		}
		return e.transcoder.Transcode(ctx, job.SourcePath, job.Kind, outputDir)
	default:
		return "", services.Wrap(services.ErrValidation, "workflow", "execute", fmt.Sprintf("unknown job kind %q", job.Kind), nil)
	}
}

// Discard implements Executor.
func (e *MediaExecutor) Discard(job *queue.Job) error {
	dir, err := e.resolver.OutputDir(job.EntityID, job.Kind)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("discard %s: %w", dir, err)
	}
	return nil
}
