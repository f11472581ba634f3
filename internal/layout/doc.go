// Package layout maps entity identifiers and artifact kinds to their fixed
// locations under the media root.
//
// Every function here is pure: paths are derived from the inputs alone and
// the filesystem is never consulted. The shapes are part of the persisted
// contract with the delivery layer:
//
//	{root}/hls/{resolution}/{entityID}/index.m3u8
//	{root}/thumbnails/{entityID}/{entityID}_thumb.png
//
// Entity identifiers are restricted to letters, digits, '_' and '-', so an
// identifier is always a single safe path component and can never collide
// with the ".partial-*" staging directories written next to output dirs.
package layout
