// Package transcode renders one HLS rendition of a source file with ffmpeg.
//
// Output is written into a fresh staging directory next to the final output
// directory and swapped into place only after ffmpeg exits 0 and the
// manifest is non-empty, so readers never observe a half-written rendition.
package transcode
