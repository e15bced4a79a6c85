package relocate

import (
	"strings"

	"github.com/blacktop/machoreloc/pkg/macho"
)

// systemPrefixes are the locations of libraries every macOS install provides.
var systemPrefixes = []string{
	"/usr/lib/",
	"/System/Library/",
}

// IsSystem reports whether path is a dependency that must never be bundled.
func IsSystem(path string) bool {
	for _, prefix := range systemPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// NonSystem returns the dependencies of img that are not system libraries, in
// declaration order and with duplicates preserved.
func NonSystem(img *macho.Image) []macho.Dylib {
	var deps []macho.Dylib
	for _, d := range img.Dylibs {
		if !IsSystem(d.Name) {
			deps = append(deps, d)
		}
	}
	return deps
}
