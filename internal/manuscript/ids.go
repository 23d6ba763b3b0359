package manuscript

import (
	"path"
	"strings"
)

// System identifiers for manuscripts that are not wiki articles.
const (
	HomeID       = ""
	DisallowedID = "text-to-speech:disallowed"
	ErrorID      = "text-to-speech:error"
)

// IDFromPath derives a manuscript identifier from a request path or article
// title. An empty path is the home manuscript. Dot segments are resolved
// against the root, so an identifier never climbs out of its storage
// directory.
func IDFromPath(p string) string {
	id := strings.ReplaceAll(strings.TrimSpace(p), " ", "_")
	return strings.TrimPrefix(path.Clean("/"+id), "/")
}

// IsSystem reports whether id names a built-in manuscript.
func IsSystem(id string) bool {
	return id == HomeID || id == DisallowedID || id == ErrorID
}
