package relocate

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/blacktop/machoreloc/internal/utils"
)

// Options configure a relocation run.
type Options struct {
	// SearchDirs are searched, in order, before the library directory.
	SearchDirs []string
	// RpathPrefix anchors the rpaths added to binaries (default @loader_path).
	RpathPrefix string
	Mutator     Mutator
	// Signer, when set, re-signs every binary that was edited.
	Signer Signer
}

// An Option configures a relocation run.
type Option func(*Options)

// WithSearchDirs adds directories searched before the library directory.
func WithSearchDirs(dirs ...string) Option {
	return func(o *Options) {
		o.SearchDirs = append(o.SearchDirs, dirs...)
	}
}

// WithRpathPrefix sets the token the added rpaths start with.
func WithRpathPrefix(prefix string) Option {
	return func(o *Options) {
		o.RpathPrefix = prefix
	}
}

// WithMutator sets the backend that edits binaries (default install_name_tool).
func WithMutator(m Mutator) Option {
	return func(o *Options) {
		o.Mutator = m
	}
}

// WithSigner re-signs edited binaries with s.
func WithSigner(s Signer) Option {
	return func(o *Options) {
		o.Signer = s
	}
}

// A Context holds the state of one relocation run. Every binary relocated
// through the same Context shares its library directory and visited set, so a
// library reached from several binaries is processed once.
//
// A Context is not safe for concurrent use.
type Context struct {
	LibraryDir string
	// SearchDirs is the full lookup order; it always ends with LibraryDir.
	SearchDirs []string

	prefix  string
	mutator Mutator
	signer  Signer

	execDir  string
	visited  map[string]bool
	declared map[string]map[string]bool
	// origins maps a library copied into LibraryDir to the directory it was
	// copied from so its @loader_path references still resolve.
	origins map[string]string
}

// NewContext returns a Context that gathers libraries in libDir.
func NewContext(libDir string, opts ...Option) (*Context, error) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.RpathPrefix == "" {
		o.RpathPrefix = LoaderPath
	}
	if o.Mutator == nil {
		o.Mutator = NewInstallNameTool("")
	}

	lib, err := canonical(libDir)
	if err != nil {
		return nil, &FilesystemError{Path: libDir, Op: "resolve", Err: err}
	}

	var dirs []string
	for _, d := range o.SearchDirs {
		cd, err := canonical(d)
		if err != nil {
			return nil, &FilesystemError{Path: d, Op: "resolve", Err: err}
		}
		dirs = append(dirs, cd)
	}
	dirs = utils.Unique(append(dirs, lib))
	// LibraryDir is always searched last
	for i, d := range dirs {
		if d == lib {
			dirs = append(append(dirs[:i:i], dirs[i+1:]...), lib)
			break
		}
	}

	return &Context{
		LibraryDir: lib,
		SearchDirs: dirs,
		prefix:     o.RpathPrefix,
		mutator:    o.Mutator,
		signer:     o.Signer,
		visited:    make(map[string]bool),
		declared:   make(map[string]map[string]bool),
		origins:    make(map[string]string),
	}, nil
}

// Visited returns the binaries relocated so far, sorted.
func (c *Context) Visited() []string {
	out := make([]string, 0, len(c.visited))
	for p := range c.visited {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (c *Context) declare(binary, rpath string) {
	if c.declared[binary] == nil {
		c.declared[binary] = make(map[string]bool)
	}
	c.declared[binary][rpath] = true
}

// canonical returns the absolute form of p with symlinks evaluated. Paths that
// do not exist yet are only made absolute.
func canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return abs, nil
		}
		return "", err
	}
	return real, nil
}
