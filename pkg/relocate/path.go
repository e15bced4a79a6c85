package relocate

import (
	"path/filepath"
	"strings"
)

// Dynamic loader path tokens.
const (
	LoaderPath     = "@loader_path"
	ExecutablePath = "@executable_path"
	RpathToken     = "@rpath"
)

// RelativePath returns the path that leads from the directory from to the
// directory to. Both must be absolute. The result is "." when they are the same.
func RelativePath(from, to string) string {
	f := components(from)
	t := components(to)

	i := 0
	for i < len(f) && i < len(t) && f[i] == t[i] {
		i++
	}

	var parts []string
	for range f[i:] {
		parts = append(parts, "..")
	}
	parts = append(parts, t[i:]...)
	if len(parts) == 0 {
		return "."
	}
	return strings.Join(parts, "/")
}

func components(p string) []string {
	p = strings.Trim(filepath.ToSlash(filepath.Clean(p)), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Rpath returns the runtime search path that makes a binary in imageDir find
// libraries in dir.
func Rpath(prefix, imageDir, dir string) string {
	rel := RelativePath(imageDir, dir)
	if rel == "." {
		return prefix
	}
	return prefix + "/" + rel
}

// RpathTarget is the name a dependency called name is rewritten to.
func RpathTarget(name string) string {
	return RpathToken + "/" + name
}

// expand substitutes a leading @loader_path or @executable_path. ok is false
// for any other @ token.
func expand(p, loaderDir, execDir string) (string, bool) {
	switch {
	case p == LoaderPath || strings.HasPrefix(p, LoaderPath+"/"):
		return filepath.Join(loaderDir, strings.TrimPrefix(p, LoaderPath)), true
	case p == ExecutablePath || strings.HasPrefix(p, ExecutablePath+"/"):
		return filepath.Join(execDir, strings.TrimPrefix(p, ExecutablePath)), true
	case strings.HasPrefix(p, "@"):
		return "", false
	}
	return p, true
}

// candidates returns where the dynamic loader would look for dep declared by a
// binary in loaderDir with the given rpaths, in lookup order.
func candidates(dep, loaderDir, execDir string, rpaths []string) []string {
	if rest, ok := strings.CutPrefix(dep, RpathToken+"/"); ok {
		var out []string
		for _, rp := range rpaths {
			if dir, ok := expand(rp, loaderDir, execDir); ok && filepath.IsAbs(dir) {
				out = append(out, filepath.Join(dir, rest))
			}
		}
		return out
	}
	if p, ok := expand(dep, loaderDir, execDir); ok && filepath.IsAbs(p) {
		return []string{p}
	}
	return nil
}
