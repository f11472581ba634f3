package layout

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"vidpipe/internal/services"
)

const (
	hlsDir         = "hls"
	thumbnailsDir  = "thumbnails"
	originalsDir   = "originals"
	manifestName   = "index.m3u8"
	thumbSuffix    = "_thumb.png"
	stagingSuffix  = ".partial-"
	segmentPattern = "index%d.ts"
)

var entityIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// ErrInvalidSegment is returned for segment names that are not plain .ts file names.
var ErrInvalidSegment = errors.New("invalid segment name")

// Resolver derives artifact paths beneath a fixed media root.
type Resolver struct {
	root string
}

// New constructs a Resolver rooted at root, which must be an absolute path.
func New(root string) (*Resolver, error) {
	root = strings.TrimSpace(root)
	if root == "" || !filepath.IsAbs(root) {
		return nil, services.Wrap(services.ErrValidation, "layout", "new resolver", fmt.Sprintf("media root %q must be an absolute path", root), nil)
	}
	return &Resolver{root: filepath.Clean(root)}, nil
}

// Root returns the media root.
func (r *Resolver) Root() string { return r.root }

// ValidateEntityID rejects identifiers that are not safe single path components.
func ValidateEntityID(id string) error {
	if !entityIDPattern.MatchString(id) {
		return services.Wrap(services.ErrValidation, "layout", "validate id", fmt.Sprintf("invalid entity id %q", id), nil)
	}
	return nil
}

// Resolve returns the final artifact path for (entityID, kind): the HLS
// manifest for renditions and the PNG file for thumbnails.
func (r *Resolver) Resolve(entityID string, kind Kind) (string, error) {
	dir, err := r.OutputDir(entityID, kind)
	if err != nil {
		return "", err
	}
	if kind == KindThumbnail {
		return filepath.Join(dir, entityID+thumbSuffix), nil
	}
	return filepath.Join(dir, manifestName), nil
}

// OutputDir returns the directory owned by one artifact of an entity.
func (r *Resolver) OutputDir(entityID string, kind Kind) (string, error) {
	if err := ValidateEntityID(entityID); err != nil {
		return "", err
	}
	switch {
	case kind.IsResolution():
		return filepath.Join(r.root, hlsDir, string(kind), entityID), nil
	case kind == KindThumbnail:
		return filepath.Join(r.root, thumbnailsDir, entityID), nil
	default:
		return "", services.Wrap(services.ErrValidation, "layout", "resolve", fmt.Sprintf("unknown artifact kind %q", kind), nil)
	}
}

// SegmentPath returns the location of one HLS segment. The name must be a
// plain file name ending in ".ts".
func (r *Resolver) SegmentPath(entityID string, resolution Kind, name string) (string, error) {
	if !resolution.IsResolution() {
		return "", services.Wrap(services.ErrValidation, "layout", "segment path", fmt.Sprintf("%q is not a resolution", resolution), nil)
	}
	if err := ValidateSegmentName(name); err != nil {
		return "", err
	}
	dir, err := r.OutputDir(entityID, resolution)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ValidateSegmentName checks that name is a bare "*.ts" file name.
func ValidateSegmentName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) ||
		strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".ts") || len(name) <= len(".ts") {
		return fmt.Errorf("%w: %q", ErrInvalidSegment, name)
	}
	return nil
}

// SegmentFilenamePattern returns the ffmpeg segment name template inside dir.
func SegmentFilenamePattern(dir string) string {
	return filepath.Join(dir, segmentPattern)
}

// ManifestName is the rendition playlist file name.
func ManifestName() string { return manifestName }

// EntityDirs lists every artifact directory derivable for an entity.
func (r *Resolver) EntityDirs(entityID string) ([]string, error) {
	dirs := make([]string, 0, len(allKinds))
	for _, kind := range allKinds {
		dir, err := r.OutputDir(entityID, kind)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, dir)
	}
	return dirs, nil
}

// StagingPattern returns a glob matching in-progress staging directories for
// one artifact of an entity.
func (r *Resolver) StagingPattern(entityID string, kind Kind) (string, error) {
	dir, err := r.OutputDir(entityID, kind)
	if err != nil {
		return "", err
	}
	return dir + stagingSuffix + "*", nil
}

// StagingPrefix returns the prefix used when creating a staging directory
// next to outputDir.
func StagingPrefix(outputDir string) string {
	return filepath.Base(outputDir) + stagingSuffix
}

// IsStagingName reports whether a directory entry name is a staging directory.
func IsStagingName(name string) bool {
	return strings.Contains(name, stagingSuffix)
}

// StagingOwner returns the entity id a directory entry name belongs to,
// stripping the staging suffix when present.
func StagingOwner(name string) string {
	if idx := strings.Index(name, stagingSuffix); idx >= 0 {
		return name[:idx]
	}
	return name
}

// OriginalsDir is where watch-folder ingestion places source files.
func (r *Resolver) OriginalsDir() string {
	return filepath.Join(r.root, originalsDir)
}

// ArtifactParents lists the directories whose children are per-entity
// artifact directories.
func (r *Resolver) ArtifactParents() []string {
	parents := make([]string, 0, len(allKinds))
	for _, kind := range resolutions {
		parents = append(parents, filepath.Join(r.root, hlsDir, string(kind)))
	}
	return append(parents, filepath.Join(r.root, thumbnailsDir))
}
