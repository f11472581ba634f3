package delivery_test

import (
	"errors"
	"path/filepath"
	"testing"

	"vidpipe/internal/delivery"
	"vidpipe/internal/layout"
	"vidpipe/internal/testsupport"
)

func newLocator(t *testing.T) (*delivery.Locator, string) {
	t.Helper()
	root := t.TempDir()
	resolver, err := layout.New(root)
	if err != nil {
		t.Fatalf("layout.New: %v", err)
	}
	return delivery.NewLocator(resolver), root
}

func TestLocatorFindsArtifacts(t *testing.T) {
	loc, root := newLocator(t)
	manifest := filepath.Join(root, "hls", "720p", "42", "index.m3u8")
	segment := filepath.Join(root, "hls", "720p", "42", "index0.ts")
	thumb := filepath.Join(root, "thumbnails", "42", "42_thumb.png")
	for _, path := range []string{manifest, segment, thumb} {
		testsupport.WriteFile(t, path, 8)
	}

	if got, err := loc.ManifestPath("42", layout.Kind720p); err != nil || got != manifest {
		t.Fatalf("ManifestPath = %q, %v", got, err)
	}
	if got, err := loc.SegmentPath("42", layout.Kind720p, "index0.ts"); err != nil || got != segment {
		t.Fatalf("SegmentPath = %q, %v", got, err)
	}
	if got, err := loc.ThumbnailPath("42"); err != nil || got != thumb {
		t.Fatalf("ThumbnailPath = %q, %v", got, err)
	}
}

func TestLocatorNotFound(t *testing.T) {
	loc, _ := newLocator(t)
	tests := []struct {
		name string
		call func() (string, error)
	}{
		{"missing manifest", func() (string, error) { return loc.ManifestPath("42", layout.Kind480p) }},
		{"thumbnail is not a resolution", func() (string, error) { return loc.ManifestPath("42", layout.KindThumbnail) }},
		{"missing thumbnail", func() (string, error) { return loc.ThumbnailPath("42") }},
		{"missing segment", func() (string, error) { return loc.SegmentPath("42", layout.Kind1080p, "index3.ts") }},
		{"segment traversal", func() (string, error) { return loc.SegmentPath("42", layout.Kind1080p, "../index.m3u8") }},
		{"segment wrong extension", func() (string, error) { return loc.SegmentPath("42", layout.Kind1080p, "index.m3u8") }},
		{"unsafe id", func() (string, error) { return loc.ThumbnailPath("../42") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.call(); !errors.Is(err, delivery.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}
