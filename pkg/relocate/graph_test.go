package relocate

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/blacktop/machoreloc/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalker(t *testing.T) {
	dir := tempDir(t)
	lib := filepath.Join(dir, "lib")
	tool := filepath.Join(dir, "bin", "tool")
	other := filepath.Join(dir, "bin", "other")
	libA := filepath.Join(lib, "libA.dylib")
	libB := filepath.Join(lib, "libB.dylib")
	libC := filepath.Join(dir, "opt", "libC.dylib")

	testutil.WriteFile(t, libA, testutil.Dylib("@rpath/libA.dylib", "@rpath/libB.dylib", "/usr/lib/libSystem.B.dylib").Bytes())
	testutil.WriteFile(t, libB, testutil.Dylib("@rpath/libB.dylib", "@rpath/libA.dylib", libC).Bytes())
	testutil.WriteFile(t, libC, testutil.Dylib(libC).Bytes())

	exe := testutil.Exec("@rpath/libA.dylib", "/usr/lib/libSystem.B.dylib", "/gone/libmissing.dylib", "@rpath/libA.dylib")
	exe.Deps = append(exe.Deps, testutil.Dep{Cmd: testutil.LcLoadWeakDylib, Name: "@rpath/libweak.dylib"})
	exe.Rpaths = []string{"@loader_path/../lib"}
	testutil.WriteFile(t, tool, exe.Bytes())
	testutil.WriteFile(t, other, testutil.Exec(libC).Bytes())

	w, err := NewWalker(16, lib)
	require.NoError(t, err)

	g, err := w.Walk(tool)
	require.NoError(t, err)
	assert.Equal(t, []string{tool}, g.Roots)

	var deps []string
	for _, n := range g.Dependencies(tool) {
		deps = append(deps, n.Path)
	}
	assert.Equal(t, []string{libA, "/gone/libmissing.dylib", "@rpath/libweak.dylib"}, deps)
	assert.True(t, g.Dependencies(tool)[2].Weak)
	assert.False(t, g.Dependencies(tool)[1].Weak)

	n, ok := g.Node("/gone/libmissing.dylib")
	require.True(t, ok)
	assert.True(t, n.Missing)
	n, ok = g.Node("@rpath/libweak.dylib")
	require.True(t, ok)
	assert.True(t, n.Missing)

	// found in a search dir versus only on the build filesystem
	n, ok = g.Node(libA)
	require.True(t, ok)
	assert.False(t, n.External)
	n, ok = g.Node(libC)
	require.True(t, ok)
	assert.True(t, n.External)

	assert.Len(t, g.Missing(), 2)
	assert.Equal(t, [][2]string{{libB, libA}}, g.Cycles)

	var visited []string
	g.Visit(tool, func(n Node, depth int) {
		visited = append(visited, filepath.Base(n.Path))
	})
	// libA is reported again when libB closes the cycle
	assert.Equal(t, []string{"tool", "libA.dylib", "libB.dylib", "libA.dylib", "libC.dylib", "libmissing.dylib", "libweak.dylib"}, visited)

	var buf bytes.Buffer
	require.NoError(t, g.DOT(&buf))
	assert.Contains(t, buf.String(), "digraph")
	assert.Contains(t, buf.String(), libC)
	assert.NotContains(t, buf.String(), "libSystem")

	// a second walk reuses the cached images
	cached := w.cache.Len()
	g, err = w.Walk(other, tool)
	require.NoError(t, err)
	assert.Equal(t, cached+1, w.cache.Len())
	assert.Len(t, g.Dependencies(other), 1)
}

func TestWalkerIncludeSystem(t *testing.T) {
	dir := tempDir(t)
	tool := testutil.WriteFile(t, filepath.Join(dir, "tool"), testutil.Exec("/usr/lib/libSystem.B.dylib").Bytes())

	w, err := NewWalker(4)
	require.NoError(t, err)
	w.IncludeSystem = true

	g, err := w.Walk(tool)
	require.NoError(t, err)
	deps := g.Dependencies(tool)
	require.Len(t, deps, 1)
	assert.True(t, deps[0].System)
	assert.Empty(t, g.Missing())
}

func TestWalkerSearchDirs(t *testing.T) {
	dir := tempDir(t)
	plugins := filepath.Join(dir, "plugins")
	testutil.WriteFile(t, filepath.Join(plugins, "libplug.dylib"), testutil.Dylib("@rpath/libplug.dylib").Bytes())
	tool := testutil.WriteFile(t, filepath.Join(dir, "bin", "tool"), testutil.Exec("/elsewhere/libplug.dylib").Bytes())

	w, err := NewWalker(4, plugins)
	require.NoError(t, err)
	g, err := w.Walk(tool)
	require.NoError(t, err)
	deps := g.Dependencies(tool)
	require.Len(t, deps, 1)
	assert.Equal(t, filepath.Join(plugins, "libplug.dylib"), deps[0].Path)
	assert.False(t, deps[0].Missing)
}

func TestWalkerWeakPerDeclaration(t *testing.T) {
	dir := tempDir(t)
	lib := filepath.Join(dir, "lib")
	libOpt := filepath.Join(lib, "libopt.dylib")
	testutil.WriteFile(t, libOpt, testutil.Dylib("@rpath/libopt.dylib").Bytes())

	weak := testutil.Exec()
	weak.Deps = []testutil.Dep{
		{Cmd: testutil.LcLoadWeakDylib, Name: "@rpath/libopt.dylib"},
		{Cmd: testutil.LcLoadWeakDylib, Name: "/gone/libgone.dylib"},
	}
	first := testutil.WriteFile(t, filepath.Join(dir, "bin", "first"), weak.Bytes())
	second := testutil.WriteFile(t, filepath.Join(dir, "bin", "second"), testutil.Exec("/gone/libgone.dylib").Bytes())

	// the same binary declaring a library weak and then strong
	both := testutil.Exec()
	both.Deps = []testutil.Dep{
		{Cmd: testutil.LcLoadWeakDylib, Name: "@rpath/libopt.dylib"},
		{Name: "@rpath/libopt.dylib"},
	}
	third := testutil.WriteFile(t, filepath.Join(dir, "bin", "third"), both.Bytes())

	w, err := NewWalker(8, lib)
	require.NoError(t, err)
	g, err := w.Walk(first, second, third)
	require.NoError(t, err)

	tests := []struct {
		name   string
		binary string
		want   []bool
	}{
		{name: "weak declarations", binary: first, want: []bool{true, true}},
		{name: "strong declaration", binary: second, want: []bool{false}},
		{name: "strong wins within a binary", binary: third, want: []bool{false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []bool
			for _, n := range g.Dependencies(tt.binary) {
				got = append(got, n.Weak)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	missing := g.Missing()
	require.Len(t, missing, 1)
	assert.Equal(t, "/gone/libgone.dylib", missing[0].Path)
	assert.False(t, missing[0].Weak)

	var buf bytes.Buffer
	require.NoError(t, g.DOT(&buf))
	assert.Contains(t, buf.String(), "dashed")

	n, ok := g.Node(libOpt)
	require.True(t, ok)
	assert.False(t, n.Weak)
}
