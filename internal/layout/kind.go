package layout

import (
	"fmt"
	"strings"

	"vidpipe/internal/services"
)

// Kind identifies one derived artifact of an entity.
type Kind string

const (
	Kind480p      Kind = "480p"
	Kind720p      Kind = "720p"
	Kind1080p     Kind = "1080p"
	KindThumbnail Kind = "thumbnail"
)

var (
	allKinds    = []Kind{Kind480p, Kind720p, Kind1080p, KindThumbnail}
	resolutions = []Kind{Kind480p, Kind720p, Kind1080p}
)

// AllKinds returns every artifact kind produced for an entity, renditions first.
func AllKinds() []Kind {
	return append([]Kind(nil), allKinds...)
}

// Resolutions returns the HLS rendition kinds.
func Resolutions() []Kind {
	return append([]Kind(nil), resolutions...)
}

// IsResolution reports whether the kind is an HLS rendition.
func (k Kind) IsResolution() bool {
	switch k {
	case Kind480p, Kind720p, Kind1080p:
		return true
	}
	return false
}

// Valid reports whether the kind is known.
func (k Kind) Valid() bool {
	return k.IsResolution() || k == KindThumbnail
}

func (k Kind) String() string { return string(k) }

// ParseKind converts user input such as "720P" into a Kind.
func ParseKind(value string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(value)))
	if !kind.Valid() {
		return "", services.Wrap(services.ErrValidation, "layout", "parse kind", fmt.Sprintf("unknown artifact kind %q", value), nil)
	}
	return kind, nil
}
