package macho

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/blacktop/machoreloc/pkg/relocate"
)

// PrintTree writes the dependency tree of each root of g.
func PrintTree(w io.Writer, g *relocate.Graph) {
	for idx, root := range g.Roots {
		if idx > 0 {
			fmt.Fprintln(w)
		}
		g.Visit(root, func(n relocate.Node, depth int) {
			if depth == 0 {
				fmt.Fprintln(w, headerColor(n.Path))
				return
			}
			name := n.Path
			switch {
			case n.Missing:
				name = missingColor(name + " (not found)")
			case n.System:
				name = systemColor(name)
			}
			if n.Weak {
				name = weakColor(name + " (weak)")
			}
			fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), name)
		})
	}
}

// Summary describes what bundling the graph's roots into libDir would do. The
// graph must be walked with libDir as its last search directory, so that
// libraries a run finds in place are not reported as copies.
func Summary(g *relocate.Graph, libDir string) string {
	var copies, missing []string
	seen := make(map[string]bool)
	for _, root := range g.Roots {
		g.Visit(root, func(n relocate.Node, depth int) {
			if depth == 0 || !n.External || seen[n.Path] {
				return
			}
			seen[n.Path] = true
			copies = append(copies, n.Path)
		})
	}
	for _, n := range g.Missing() {
		if !n.Weak {
			missing = append(missing, n.Path)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d librar%s to copy into %s\n", len(copies), plural(len(copies)), libDir)
	for _, c := range copies {
		fmt.Fprintf(&sb, "  %s\n", c)
	}
	if len(missing) > 0 {
		fmt.Fprintf(&sb, "%s\n", missingColor(fmt.Sprintf("%d missing librar%s", len(missing), plural(len(missing)))))
		for _, m := range missing {
			fmt.Fprintf(&sb, "  %s\n", m)
		}
	}
	if len(g.Cycles) > 0 {
		fmt.Fprintf(&sb, "%d dependency cycle(s)\n", len(g.Cycles))
		for _, c := range g.Cycles {
			fmt.Fprintf(&sb, "  %s -> %s\n", filepath.Base(c[0]), filepath.Base(c[1]))
		}
	}
	return sb.String()
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
