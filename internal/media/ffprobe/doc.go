// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Stream: individual audio/video stream properties
//   - Format: container-level metadata (duration, size)
//
// Inspect executes ffprobe and returns the parsed Result. Helper methods
// report the container duration and the primary video stream, which the
// thumbnail extractor and watch-folder ingestion rely on.
package ffprobe
