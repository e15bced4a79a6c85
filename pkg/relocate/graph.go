package relocate

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/blacktop/machoreloc/pkg/macho"
	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
	lru "github.com/hashicorp/golang-lru/v2"
)

// A Node is one binary of a dependency graph.
type Node struct {
	// Path is the resolved location, or the declared name when the library
	// could not be found.
	Path    string
	System  bool
	Missing bool
	// External is set when the library is in none of the search directories
	// and was found on the build filesystem instead; a bundle run copies it.
	External bool
	// Weak is set on the nodes Visit and Dependencies report when the
	// declaration they were reached through is LC_LOAD_WEAK_DYLIB, and by
	// Missing when every declaration of the library is weak.
	Weak bool
}

func nodeHash(n Node) string { return n.Path }

// A Graph is the read-only dependency graph of one or more binaries.
type Graph struct {
	Roots []string
	// Cycles holds every edge that closes a cycle, as (from, to).
	Cycles [][2]string

	g        graph.Graph[string, Node]
	children map[string][]string
	// weak holds the edges whose every declaration is weak.
	weak map[[2]string]bool
}

// A Walker builds dependency graphs without editing anything. Parsed images are
// cached, so walking several binaries that share libraries parses each library
// once.
type Walker struct {
	SearchDirs    []string
	IncludeSystem bool

	cache *lru.Cache[string, *macho.Image]
}

// NewWalker returns a Walker caching up to size parsed images.
func NewWalker(size int, searchDirs ...string) (*Walker, error) {
	cache, err := lru.New[string, *macho.Image](size)
	if err != nil {
		return nil, err
	}
	return &Walker{SearchDirs: searchDirs, cache: cache}, nil
}

func (w *Walker) open(path string) (*macho.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s:%d:%d", path, info.Size(), info.ModTime().UnixNano())
	if img, ok := w.cache.Get(key); ok {
		return img, nil
	}
	img, err := macho.Open(path)
	if err != nil {
		return nil, err
	}
	w.cache.Add(key, img)
	return img, nil
}

// Walk returns the dependency graph of roots.
func (w *Walker) Walk(roots ...string) (*Graph, error) {
	dg := &Graph{
		g:        graph.New(nodeHash, graph.Directed()),
		children: make(map[string][]string),
		weak:     make(map[[2]string]bool),
	}

	for _, root := range roots {
		path, err := canonical(root)
		if err != nil {
			return nil, &FilesystemError{Binary: root, Path: root, Op: "resolve", Err: err}
		}
		dg.Roots = append(dg.Roots, path)
		if err := dg.addNode(Node{Path: path}); err != nil {
			return nil, err
		}
		if err := w.walk(dg, path); err != nil {
			return nil, err
		}
	}

	return dg, nil
}

func (w *Walker) walk(dg *Graph, root string) error {
	execDir := filepath.Dir(root)

	work := []string{root}
	seen := map[string]bool{root: true}
	for len(work) > 0 {
		path := work[len(work)-1]
		work = work[:len(work)-1]

		if _, done := dg.children[path]; done {
			continue
		}
		img, err := w.open(path)
		if err != nil {
			return err
		}
		dg.children[path] = []string{}

		for _, dep := range img.Dylibs {
			n := Node{Path: dep.Name}
			switch {
			case IsSystem(dep.Name):
				if !w.IncludeSystem {
					continue
				}
				n.System = true
			default:
				if found, external := w.find(img, path, execDir, dep); found != "" {
					n.Path = found
					n.External = external
				} else {
					n.Missing = true
					log.WithFields(log.Fields{"binary": path, "dependency": dep.Name}).Debug("unresolved")
				}
			}

			if err := dg.addNode(n); err != nil {
				return err
			}
			if err := dg.addEdge(path, n.Path, dep.Weak()); err != nil {
				return err
			}
			if !n.System && !n.Missing && !seen[n.Path] {
				seen[n.Path] = true
				work = append(work, n.Path)
			}
		}
	}

	return nil
}

// find looks dep up the way a relocation run does: by base name in the search
// directories first, then through the loader's own references. external
// reports that only the latter found it.
func (w *Walker) find(img *macho.Image, path, execDir string, dep macho.Dylib) (found string, external bool) {
	name := filepath.Base(dep.Name)
	for _, dir := range w.SearchDirs {
		if real := resolve(filepath.Join(dir, name)); real != "" {
			return real, false
		}
	}
	for _, p := range candidates(dep.Name, filepath.Dir(path), execDir, img.Rpaths) {
		if real := resolve(p); real != "" {
			return real, true
		}
	}
	return "", false
}

func resolve(p string) string {
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return ""
	}
	real, err := canonical(p)
	if err != nil {
		return ""
	}
	return real
}

func (dg *Graph) addNode(n Node) error {
	var attrs []func(*graph.VertexProperties)
	switch {
	case n.Missing:
		attrs = append(attrs, graph.VertexAttribute("color", "red"))
	case n.System:
		attrs = append(attrs, graph.VertexAttribute("color", "gray"))
	}
	if err := dg.g.AddVertex(n, attrs...); err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
		return fmt.Errorf("failed to add vertex %s: %w", n.Path, err)
	}
	return nil
}

func (dg *Graph) addEdge(from, to string, weak bool) error {
	key := [2]string{from, to}
	if _, err := dg.g.Edge(from, to); err == nil {
		// a strong declaration wins over a weak one of the same library
		if dg.weak[key] && !weak {
			delete(dg.weak, key)
			if err := dg.g.UpdateEdge(from, to, graph.EdgeAttribute("style", "solid")); err != nil {
				return fmt.Errorf("failed to update edge %s -> %s: %w", from, to, err)
			}
		}
		return nil
	}

	if cycle, err := graph.CreatesCycle(dg.g, from, to); err == nil && cycle {
		dg.Cycles = append(dg.Cycles, key)
	}
	var attrs []func(*graph.EdgeProperties)
	if weak {
		dg.weak[key] = true
		attrs = append(attrs, graph.EdgeAttribute("style", "dashed"))
	}
	if err := dg.g.AddEdge(from, to, attrs...); err != nil {
		return fmt.Errorf("failed to add edge %s -> %s: %w", from, to, err)
	}
	dg.children[from] = append(dg.children[from], to)
	return nil
}

// Node returns the node for path.
func (dg *Graph) Node(path string) (Node, bool) {
	n, err := dg.g.Vertex(path)
	return n, err == nil
}

// Dependencies returns the direct dependencies of path in declaration order,
// each listed once.
func (dg *Graph) Dependencies(path string) []Node {
	var out []Node
	for _, c := range dg.children[path] {
		if n, ok := dg.Node(c); ok {
			n.Weak = dg.weak[[2]string{path, c}]
			out = append(out, n)
		}
	}
	return out
}

// Missing returns the dependencies that could not be found. A node is Weak
// only when no binary declares it strongly.
func (dg *Graph) Missing() []Node {
	var out []Node
	idx := make(map[string]int)
	for _, root := range dg.Roots {
		dg.Visit(root, func(n Node, _ int) {
			if !n.Missing {
				return
			}
			if i, ok := idx[n.Path]; ok {
				out[i].Weak = out[i].Weak && n.Weak
				return
			}
			idx[n.Path] = len(out)
			out = append(out, n)
		})
	}
	return out
}

// Visit calls fn for root and, depth first, every binary below it, once per
// declaration. A binary reached again (including through a cycle) is reported
// but not descended into.
func (dg *Graph) Visit(root string, fn func(n Node, depth int)) {
	expanded := make(map[string]bool)
	var visit func(path string, weak bool, depth int)
	visit = func(path string, weak bool, depth int) {
		n, ok := dg.Node(path)
		if !ok {
			return
		}
		n.Weak = weak
		fn(n, depth)
		if expanded[path] {
			return
		}
		expanded[path] = true
		for _, c := range dg.children[path] {
			visit(c, dg.weak[[2]string{path, c}], depth+1)
		}
	}
	visit(root, false, 0)
}

// DOT writes the graph in Graphviz DOT format.
func (dg *Graph) DOT(w io.Writer) error {
	return draw.DOT(dg.g, w, draw.GraphAttribute("rankdir", "LR"))
}
