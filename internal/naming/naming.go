// Package naming provides the naming conventions for images derived from
// a virtual disk: mirror destinations, differencing children and the
// metadata identifiers of named entries.
//
// Paths may use either separator so that Windows paths can be handled on
// any host.
package naming

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// metadataNamespace scopes the identifiers derived from metadata key names.
var metadataNamespace = uuid.MustParse("b7a1c1de-3f0e-4a5b-8d52-7f6c1e0b9a24")

// splitExt splits path into everything before the extension and the
// extension itself, dot included.
func splitExt(path string) (string, string) {
	sep := strings.LastIndexAny(path, `/\`)
	dot := strings.LastIndex(path, ".")
	if dot <= sep+1 {
		return path, ""
	}
	return path[:dot], path[dot:]
}

// DiskName returns the base name of an image path without its extension.
//
// Example: /srv/vdisk/data.qcow2 → data
func DiskName(path string) string {
	stem, _ := splitExt(path)
	if i := strings.LastIndexAny(stem, `/\`); i >= 0 {
		stem = stem[i+1:]
	}
	return stem
}

// MirrorPath returns the default mirror destination for an image.
// Format: {dir}/{name}-mirror{ext}
//
// Example: C:\disks\data.vhdx → C:\disks\data-mirror.vhdx
func MirrorPath(path string) string {
	stem, ext := splitExt(path)
	return stem + "-mirror" + ext
}

// ChildPath returns the path of a differencing child of parent.
// Format: {dir}/{name}-{suffix}{ext}
//
// Example: ChildPath("base.qcow2", "web01") → base-web01.qcow2
func ChildPath(parent, suffix string) string {
	stem, ext := splitExt(parent)
	return fmt.Sprintf("%s-%s%s", stem, suffix, ext)
}

// MetadataID returns the identifier a metadata entry named key is stored
// under. The same key always maps to the same identifier.
func MetadataID(key string) uuid.UUID {
	return uuid.NewSHA1(metadataNamespace, []byte(key))
}

// ResolveMetadataID returns id when it is set and the identifier derived
// from key otherwise.
func ResolveMetadataID(key, id string) (uuid.UUID, error) {
	if id == "" {
		if key == "" {
			return uuid.Nil, fmt.Errorf("metadata entry needs a key or an id")
		}
		return MetadataID(key), nil
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid metadata id %q: %w", id, err)
	}
	return parsed, nil
}
