// Package delivery answers where a finished artifact lives on disk. It is the
// lookup surface for an external web layer; it never serves bytes itself.
package delivery

import (
	"errors"
	"fmt"
	"os"

	"vidpipe/internal/layout"
	"vidpipe/internal/services"
)

// ErrNotFound is returned when the requested file does not exist. It matches
// services.ErrNotFound as well.
var ErrNotFound = fmt.Errorf("artifact %w", services.ErrNotFound)

// Locator resolves artifact files for delivery.
type Locator struct {
	resolver *layout.Resolver
}

// NewLocator builds a Locator over resolver.
func NewLocator(resolver *layout.Resolver) *Locator {
	return &Locator{resolver: resolver}
}

// ManifestPath returns the rendition manifest of entityID at resolution.
func (l *Locator) ManifestPath(entityID string, resolution layout.Kind) (string, error) {
	if !resolution.IsResolution() {
		return "", fmt.Errorf("%w: %q is not a resolution", ErrNotFound, resolution)
	}
	path, err := l.resolver.Resolve(entityID, resolution)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return existing(path)
}

// SegmentPath returns one HLS segment file. name must be a plain "*.ts" name.
func (l *Locator) SegmentPath(entityID string, resolution layout.Kind, name string) (string, error) {
	path, err := l.resolver.SegmentPath(entityID, resolution, name)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return existing(path)
}

// ThumbnailPath returns the thumbnail PNG of entityID.
func (l *Locator) ThumbnailPath(entityID string) (string, error) {
	path, err := l.resolver.Resolve(entityID, layout.KindThumbnail)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return existing(path)
}

func existing(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrNotFound, path)
	}
	return path, nil
}
