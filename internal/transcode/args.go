package transcode

import (
	"fmt"
	"path/filepath"

	"vidpipe/internal/layout"
)

// Dimensions is a target frame size.
type Dimensions struct {
	Width  int
	Height int
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

var renditions = map[layout.Kind]Dimensions{
	layout.Kind480p:  {Width: 854, Height: 480},
	layout.Kind720p:  {Width: 1280, Height: 720},
	layout.Kind1080p: {Width: 1920, Height: 1080},
}

// DimensionsFor returns the frame size for a resolution tag.
func DimensionsFor(resolution layout.Kind) (Dimensions, bool) {
	d, ok := renditions[resolution]
	return d, ok
}

const (
	hlsSegmentSeconds = "10"
	videoProfile      = "baseline"
	videoLevel        = "3.0"
)

// BuildArgs returns the ffmpeg arguments that encode sourcePath into a single
// HLS playlist plus segments inside dir.
func BuildArgs(sourcePath string, size Dimensions, dir string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-nostats",
		"-loglevel", "error",
		"-i", sourcePath,
		"-c:v", "libx264",
		"-profile:v", videoProfile,
		"-level", videoLevel,
		"-s", size.String(),
		"-c:a", "aac",
		"-start_number", "0",
		"-hls_time", hlsSegmentSeconds,
		"-hls_list_size", "0",
		"-hls_segment_filename", layout.SegmentFilenamePattern(dir),
		"-f", "hls",
		filepath.Join(dir, layout.ManifestName()),
	}
}
