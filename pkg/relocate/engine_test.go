package relocate

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/blacktop/machoreloc/internal/testutil"
	"github.com/blacktop/machoreloc/pkg/macho"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a Mutator that records every call and applies it to the
// synthetic fixture on disk, so results can be re-parsed.
type recorder struct {
	calls  []string
	failOn string
}

func (r *recorder) AddRpath(bin, rpath string) error {
	return r.apply("add_rpath", bin, []string{rpath}, func(s *testutil.Slice) {
		s.Rpaths = append(s.Rpaths, rpath)
	})
}

func (r *recorder) ChangeLoadDependency(bin, oldName, newName string) error {
	return r.apply("change", bin, []string{oldName, newName}, func(s *testutil.Slice) {
		for i := range s.Deps {
			if s.Deps[i].Name == oldName {
				s.Deps[i].Name = newName
			}
		}
	})
}

func (r *recorder) ChangeSelfIdentity(bin, id string) error {
	return r.apply("id", bin, []string{id}, func(s *testutil.Slice) {
		s.ID = id
	})
}

func (r *recorder) apply(op, bin string, args []string, edit func(*testutil.Slice)) error {
	r.calls = append(r.calls, fmt.Sprintf("%s %s %v", op, bin, args))
	if op == r.failOn {
		return &MutationFailedError{Binary: bin, Op: op, Args: args, Output: "boom", Err: errors.New("exit status 1")}
	}

	img, err := macho.Open(bin)
	if err != nil {
		return err
	}
	arch := img.Arches[0]
	s := testutil.Slice{
		Is64:      arch.Magic.Is64(),
		BigEndian: arch.Magic.ByteOrder() == binary.BigEndian,
		CPU:       uint32(arch.CPU),
		Type:      uint32(arch.Type),
		ID:        arch.InstallName,
		Rpaths:    slices.Clone(arch.Rpaths),
	}
	for _, d := range arch.Dylibs {
		s.Deps = append(s.Deps, testutil.Dep{Cmd: uint32(d.Cmd), Name: d.Name})
	}
	edit(&s)

	info, err := os.Stat(bin)
	if err != nil {
		return err
	}
	return os.WriteFile(bin, s.Bytes(), info.Mode().Perm())
}

type countingSigner struct {
	signed []string
}

func (s *countingSigner) Sign(bin string) error {
	s.signed = append(s.signed, bin)
	return nil
}

// tempDir returns a symlink free temporary directory (/var is a symlink on macOS).
func tempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func open(t *testing.T, path string) *macho.Image {
	t.Helper()
	img, err := macho.Open(path)
	require.NoError(t, err)
	return img
}

func TestRelocateEndToEnd(t *testing.T) {
	dir := tempDir(t)
	foo := filepath.Join(dir, "opt", "x", "libfoo.dylib")
	tool := filepath.Join(dir, "bundle", "bin", "tool")
	lib := filepath.Join(dir, "bundle", "lib")

	testutil.WriteFile(t, foo, testutil.Dylib(foo).Bytes())
	testutil.WriteFile(t, tool, testutil.Exec("/usr/lib/libSystem.B.dylib", foo).Bytes())

	rec := &recorder{}
	require.NoError(t, Relocate(tool, lib, WithMutator(rec)))

	copied := filepath.Join(lib, "libfoo.dylib")
	assert.Equal(t, []string{
		fmt.Sprintf("add_rpath %s [@loader_path/../lib]", tool),
		fmt.Sprintf("change %s [%s @rpath/libfoo.dylib]", tool, foo),
		fmt.Sprintf("add_rpath %s [@loader_path]", copied),
		fmt.Sprintf("id %s [@rpath/libfoo.dylib]", copied),
	}, rec.calls)

	img := open(t, tool)
	assert.Equal(t, []string{"/usr/lib/libSystem.B.dylib", "@rpath/libfoo.dylib"}, img.LoadDylibs())
	assert.Equal(t, []string{"@loader_path/../lib"}, img.Rpaths)

	libImg := open(t, copied)
	assert.Equal(t, "@rpath/libfoo.dylib", libImg.InstallName)
	assert.Equal(t, []string{"@loader_path"}, libImg.Rpaths)

	info, err := os.Stat(copied)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	// the source library is left alone
	assert.Equal(t, foo, open(t, foo).InstallName)
}

func TestRelocateIdempotent(t *testing.T) {
	dir := tempDir(t)
	foo := filepath.Join(dir, "opt", "x", "libfoo.dylib")
	tool := filepath.Join(dir, "bundle", "bin", "tool")
	lib := filepath.Join(dir, "bundle", "lib")
	extra := filepath.Join(dir, "extra")
	require.NoError(t, os.MkdirAll(extra, 0o755))

	testutil.WriteFile(t, foo, testutil.Dylib(foo, "/usr/lib/libc++.1.dylib").Bytes())
	testutil.WriteFile(t, tool, testutil.Exec("/usr/lib/libSystem.B.dylib", foo).Bytes())

	first := &recorder{}
	require.NoError(t, Relocate(tool, lib, WithMutator(first), WithSearchDirs(extra)))
	assert.NotEmpty(t, first.calls)

	second := &recorder{}
	signer := &countingSigner{}
	require.NoError(t, Relocate(tool, lib, WithMutator(second), WithSearchDirs(extra), WithSigner(signer)))
	assert.Empty(t, second.calls)
	assert.Empty(t, signer.signed)
}

func TestRelocateCycle(t *testing.T) {
	dir := tempDir(t)
	lib := filepath.Join(dir, "lib")
	tool := filepath.Join(dir, "bin", "tool")
	libA := filepath.Join(lib, "libA.dylib")
	libB := filepath.Join(lib, "libB.dylib")

	testutil.WriteFile(t, libA, testutil.Dylib("@rpath/libA.dylib", "@rpath/libB.dylib").Bytes())
	testutil.WriteFile(t, libB, testutil.Dylib("@rpath/libB.dylib", "@rpath/libA.dylib").Bytes())
	testutil.WriteFile(t, tool, testutil.Exec("@rpath/libA.dylib").Bytes())

	rec := &recorder{}
	c, err := NewContext(lib, WithMutator(rec))
	require.NoError(t, err)
	require.NoError(t, c.Relocate(tool))

	assert.Equal(t, []string{tool, libA, libB}, c.Visited())
	assert.Equal(t, []string{
		fmt.Sprintf("add_rpath %s [@loader_path/../lib]", tool),
		fmt.Sprintf("add_rpath %s [@loader_path]", libA),
		fmt.Sprintf("add_rpath %s [@loader_path]", libB),
	}, rec.calls)

	// relocating a library that was already reached is a no-op
	rec.calls = nil
	require.NoError(t, c.Relocate(libB))
	assert.Empty(t, rec.calls)
}

func TestRelocateDuplicateDeclarations(t *testing.T) {
	dir := tempDir(t)
	foo := filepath.Join(dir, "opt", "libfoo.dylib")
	tool := filepath.Join(dir, "bin", "tool")
	lib := filepath.Join(dir, "lib")

	testutil.WriteFile(t, foo, testutil.Dylib("@rpath/libfoo.dylib").Bytes())
	testutil.WriteFile(t, tool, testutil.Exec(foo, "/usr/lib/libSystem.B.dylib", foo).Bytes())

	rec := &recorder{}
	require.NoError(t, Relocate(tool, lib, WithMutator(rec)))

	var changes int
	for _, call := range rec.calls {
		if strings.HasPrefix(call, "change ") {
			changes++
		}
	}
	assert.Equal(t, 1, changes)
	assert.Equal(t, []string{"@rpath/libfoo.dylib", "/usr/lib/libSystem.B.dylib", "@rpath/libfoo.dylib"}, open(t, tool).LoadDylibs())
}

func TestRelocateResolvesLoaderAndRpathTokens(t *testing.T) {
	dir := tempDir(t)
	build := filepath.Join(dir, "build")
	tool := filepath.Join(build, "bin", "tool")
	lib := filepath.Join(dir, "bundle", "lib")

	// libbar lives next to the tool's build tree and references libbaz relative
	// to itself; librp is only reachable through the tool's own rpath
	testutil.WriteFile(t, filepath.Join(build, "lib", "libbar.dylib"),
		testutil.Dylib("@loader_path/libbar.dylib", "@loader_path/libbaz.dylib").Bytes())
	testutil.WriteFile(t, filepath.Join(build, "lib", "libbaz.dylib"),
		testutil.Dylib("@rpath/libbaz.dylib").Bytes())
	testutil.WriteFile(t, filepath.Join(dir, "rp", "librp.dylib"),
		testutil.Dylib("@rpath/librp.dylib").Bytes())

	exe := testutil.Exec("@loader_path/../lib/libbar.dylib", "@rpath/librp.dylib")
	exe.Rpaths = []string{filepath.Join(dir, "rp")}
	testutil.WriteFile(t, tool, exe.Bytes())

	rec := &recorder{}
	require.NoError(t, Relocate(tool, lib, WithMutator(rec)))

	for _, name := range []string{"libbar.dylib", "libbaz.dylib", "librp.dylib"} {
		assert.FileExists(t, filepath.Join(lib, name))
	}
	assert.Equal(t, []string{"@rpath/libbar.dylib", "@rpath/librp.dylib"}, open(t, tool).LoadDylibs())
	assert.Equal(t, []string{filepath.Join(dir, "rp"), "@loader_path/../../bundle/lib"}, open(t, tool).Rpaths)

	bar := open(t, filepath.Join(lib, "libbar.dylib"))
	assert.Equal(t, []string{"@rpath/libbaz.dylib"}, bar.LoadDylibs())
	assert.Equal(t, "@rpath/libbar.dylib", bar.InstallName)
}

func TestRelocateSearchDirs(t *testing.T) {
	dir := tempDir(t)
	tool := filepath.Join(dir, "app", "bin", "tool")
	lib := filepath.Join(dir, "app", "lib")
	extra := filepath.Join(dir, "app", "plugins")

	testutil.WriteFile(t, filepath.Join(extra, "libplug.dylib"), testutil.Dylib("@rpath/libplug.dylib").Bytes())
	testutil.WriteFile(t, tool, testutil.Exec("/somewhere/else/libplug.dylib").Bytes())

	rec := &recorder{}
	c, err := NewContext(lib, WithMutator(rec), WithSearchDirs(extra, lib), WithRpathPrefix("@executable_path"))
	require.NoError(t, err)
	assert.Equal(t, []string{extra, lib}, c.SearchDirs)
	require.NoError(t, c.Relocate(tool))

	assert.NoFileExists(t, filepath.Join(lib, "libplug.dylib"))
	assert.Equal(t, []string{"@executable_path/../plugins", "@executable_path/../lib"}, open(t, tool).Rpaths)
	assert.Equal(t, []string{"@rpath/libplug.dylib"}, open(t, tool).LoadDylibs())
}

func TestRelocateMissingDependency(t *testing.T) {
	dir := tempDir(t)
	tool := filepath.Join(dir, "bin", "tool")
	lib := filepath.Join(dir, "lib")

	t.Run("strong", func(t *testing.T) {
		testutil.WriteFile(t, tool, testutil.Exec("/does/not/exist/libgone.dylib").Bytes())
		rec := &recorder{}
		err := Relocate(tool, lib, WithMutator(rec))
		var nf *DependencyNotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, tool, nf.Binary)
		assert.Equal(t, "/does/not/exist/libgone.dylib", nf.Dependency)
		assert.Contains(t, nf.Searched, lib)

		// the declaration was made @rpath relative before the lookup failed
		assert.Equal(t, []string{
			fmt.Sprintf("add_rpath %s [@loader_path/../lib]", tool),
			fmt.Sprintf("change %s [/does/not/exist/libgone.dylib @rpath/libgone.dylib]", tool),
		}, rec.calls)
		assert.Equal(t, []string{"@rpath/libgone.dylib"}, open(t, tool).LoadDylibs())
	})

	t.Run("weak", func(t *testing.T) {
		exe := testutil.Exec()
		exe.Deps = []testutil.Dep{{Cmd: testutil.LcLoadWeakDylib, Name: "/does/not/exist/libopt.dylib"}}
		testutil.WriteFile(t, tool, exe.Bytes())

		c, err := NewContext(lib, WithMutator(&recorder{}))
		require.NoError(t, err)
		require.NoError(t, c.Relocate(tool))
		assert.Equal(t, []string{"@rpath/libopt.dylib"}, open(t, tool).LoadDylibs())
		assert.Equal(t, []string{tool}, c.Visited())
		assert.NoFileExists(t, filepath.Join(lib, "libopt.dylib"))
	})
}

func TestRelocateMutationFailure(t *testing.T) {
	dir := tempDir(t)
	tool := filepath.Join(dir, "bin", "tool")
	testutil.WriteFile(t, tool, testutil.Exec().Bytes())

	err := Relocate(tool, filepath.Join(dir, "lib"), WithMutator(&recorder{failOn: "add_rpath"}))
	var mf *MutationFailedError
	require.ErrorAs(t, err, &mf)
	assert.Equal(t, tool, mf.Binary)
	assert.Equal(t, "add_rpath", mf.Op)
	assert.Contains(t, err.Error(), "boom")
}

func TestRelocateMalformed(t *testing.T) {
	dir := tempDir(t)
	script := testutil.WriteFile(t, filepath.Join(dir, "bin", "script"), []byte("#!/bin/sh\nexit 0\n"))

	err := Relocate(script, filepath.Join(dir, "lib"), WithMutator(&recorder{}))
	var merr *macho.MalformedBinaryError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, script, merr.Path)
}

func TestRelocateStaticArchive(t *testing.T) {
	dir := tempDir(t)
	archive := testutil.WriteFile(t, filepath.Join(dir, "lib", "libstatic.a"), testutil.Fat(
		testutil.FatSlice{CPU: testutil.CPUArm64, Data: testutil.Archive()},
		testutil.FatSlice{CPU: testutil.CPUAmd64, Data: testutil.Archive()},
	))

	rec := &recorder{}
	require.NoError(t, Relocate(archive, filepath.Join(dir, "lib"), WithMutator(rec)))
	assert.Empty(t, rec.calls)
}

func TestRelocateSignsEditedBinaries(t *testing.T) {
	dir := tempDir(t)
	foo := filepath.Join(dir, "opt", "libfoo.dylib")
	tool := filepath.Join(dir, "bin", "tool")
	lib := filepath.Join(dir, "lib")

	testutil.WriteFile(t, foo, testutil.Dylib(foo).Bytes())
	testutil.WriteFile(t, tool, testutil.Exec(foo).Bytes())

	signer := &countingSigner{}
	require.NoError(t, Relocate(tool, lib, WithMutator(&recorder{}), WithSigner(signer)))
	assert.Equal(t, []string{tool, filepath.Join(lib, "libfoo.dylib")}, signer.signed)
}
