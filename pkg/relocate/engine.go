// Package relocate rewrites Mach-O binaries and the non-system libraries they
// depend on so that they load from a bundle library directory through @rpath.
package relocate

import (
	"fmt"
	"path/filepath"

	"github.com/apex/log"
	"github.com/blacktop/machoreloc/internal/utils"
	"github.com/blacktop/machoreloc/pkg/macho"
)

// Relocate makes root and every non-system library it transitively depends on
// loadable from libDir. Missing libraries are copied into libDir.
func Relocate(root, libDir string, opts ...Option) error {
	c, err := NewContext(libDir, opts...)
	if err != nil {
		return err
	}
	return c.Relocate(root)
}

// Relocate relocates root and its dependency tree. Binaries already relocated
// through c are not processed again.
func (c *Context) Relocate(root string) error {
	path, err := canonical(root)
	if err != nil {
		return &FilesystemError{Binary: root, Path: root, Op: "resolve", Err: err}
	}
	if c.visited[path] {
		log.WithField("binary", path).Debug("already relocated")
		return nil
	}
	c.execDir = filepath.Dir(path)

	c.visited[path] = true
	work := []string{path}
	for len(work) > 0 {
		next := work[len(work)-1]
		work = work[:len(work)-1]

		deps, err := c.relocateImage(next)
		if err != nil {
			return err
		}
		// reversed so dependencies are processed in declaration order
		for i := len(deps) - 1; i >= 0; i-- {
			work = append(work, deps[i])
		}
	}

	return nil
}

// relocateImage edits a single binary and returns the libraries it depends on
// that were not visited before.
func (c *Context) relocateImage(path string) ([]string, error) {
	img, err := macho.Open(path)
	if err != nil {
		return nil, err
	}

	ctx := log.WithField("binary", path)
	if img.StaticArchive {
		ctx.Warn("skipping static archive")
		return nil, nil
	}
	ctx.Info("Relocating")

	dir := filepath.Dir(path)
	loaderDir := dir
	if origin, ok := c.origins[path]; ok {
		loaderDir = origin
	}
	var mutated bool

	for _, sd := range c.SearchDirs {
		rpath := Rpath(c.prefix, dir, sd)
		if img.HasRpath(rpath) || c.declared[path][rpath] {
			continue
		}
		utils.Indent(ctx.Debug, 2)(fmt.Sprintf("adding rpath %s", rpath))
		if err := c.mutator.AddRpath(path, rpath); err != nil {
			return nil, err
		}
		c.declare(path, rpath)
		mutated = true
	}

	if img.IsDylib() {
		if id := RpathTarget(filepath.Base(path)); img.InstallName != id {
			utils.Indent(ctx.Debug, 2)(fmt.Sprintf("changing install name %s => %s", img.InstallName, id))
			if err := c.mutator.ChangeSelfIdentity(path, id); err != nil {
				return nil, err
			}
			mutated = true
		}
	}

	var next []string
	rewritten := make(map[string]bool)
	for _, dep := range NonSystem(img) {
		// the declaration is rewritten before its library is searched for or
		// copied, so a later failure leaves only @rpath references behind
		if target := RpathTarget(filepath.Base(dep.Name)); dep.Name != target && !rewritten[dep.Name] {
			utils.Indent(ctx.Debug, 2)(fmt.Sprintf("changing %s => %s", dep.Name, target))
			if err := c.mutator.ChangeLoadDependency(path, dep.Name, target); err != nil {
				return nil, err
			}
			rewritten[dep.Name] = true
			mutated = true
		}

		found, err := c.locate(img, path, loaderDir, dep)
		if err != nil {
			return nil, err
		}
		if found == "" {
			ctx.WithField("dependency", dep.Name).Warn("skipping unresolvable weak dependency")
			continue
		}

		if !c.visited[found] {
			c.visited[found] = true
			next = append(next, found)
		}
	}

	if mutated && c.signer != nil {
		utils.Indent(ctx.Debug, 2)("re-signing")
		if err := c.signer.Sign(path); err != nil {
			return nil, err
		}
	}

	return next, nil
}

// locate returns the canonical path of the library dep of the binary at path
// inside the search directories, copying it into the library directory first
// when it is only found on the build filesystem. An unresolvable weak
// dependency yields "".
func (c *Context) locate(img *macho.Image, path, loaderDir string, dep macho.Dylib) (string, error) {
	name := filepath.Base(dep.Name)

	for _, sd := range c.SearchDirs {
		if candidate := filepath.Join(sd, name); utils.IsRegular(candidate) {
			found, err := canonical(candidate)
			if err != nil {
				return "", &FilesystemError{Binary: path, Path: candidate, Op: "resolve", Err: err}
			}
			return found, nil
		}
	}

	var src string
	for _, candidate := range candidates(dep.Name, loaderDir, c.execDir, img.Rpaths) {
		if utils.IsRegular(candidate) {
			src = candidate
			break
		}
	}
	if src == "" {
		if dep.Weak() {
			return "", nil
		}
		return "", &DependencyNotFoundError{Binary: path, Dependency: dep.Name, Searched: c.SearchDirs}
	}

	real, err := canonical(src)
	if err != nil {
		return "", &FilesystemError{Binary: path, Path: src, Op: "resolve", Err: err}
	}
	dst := filepath.Join(c.LibraryDir, name)
	if err := utils.CopyFile(real, dst); err != nil {
		return "", &FilesystemError{Binary: path, Path: real, Op: "copy", Err: err}
	}
	utils.Indent(log.WithField("dependency", dep.Name).Info, 2)(fmt.Sprintf("Copied %s", dst))

	found, err := canonical(dst)
	if err != nil {
		return "", &FilesystemError{Binary: path, Path: dst, Op: "resolve", Err: err}
	}
	c.origins[found] = filepath.Dir(real)

	return found, nil
}
