// Package bundle relocates the Mach-O files of a bundle so it can be moved.
package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/apex/log"
	"github.com/blacktop/machoreloc/internal/config"
	"github.com/blacktop/machoreloc/internal/magic"
	"github.com/blacktop/machoreloc/internal/utils"
	"github.com/blacktop/machoreloc/pkg/relocate"
)

// Config is the configuration of a bundle run
type Config struct {
	// Inputs are Mach-O files or directories holding them.
	Inputs []string
	// LibDir defaults to "lib" next to the directory of each binary.
	LibDir          string
	SearchDirs      []string
	RpathPrefix     string
	Backend         string
	InstallNameTool string
	AdhocSign       bool
	// Recursive walks input directories recursively.
	Recursive bool

	// Mutator overrides Backend.
	Mutator relocate.Mutator
}

// Result lists what a bundle run did.
type Result struct {
	Relocated []string
	Skipped   []string
}

func (c *Config) options() ([]relocate.Option, error) {
	opts := []relocate.Option{
		relocate.WithSearchDirs(c.SearchDirs...),
		relocate.WithRpathPrefix(c.RpathPrefix),
	}

	switch {
	case c.Mutator != nil:
		opts = append(opts, relocate.WithMutator(c.Mutator))
	case c.Backend == "" || c.Backend == config.BackendInstallNameTool:
		opts = append(opts, relocate.WithMutator(relocate.NewInstallNameTool(c.InstallNameTool)))
	case c.Backend == config.BackendNative:
		opts = append(opts, relocate.WithMutator(relocate.Native{}))
	default:
		return nil, fmt.Errorf("unsupported backend %s", c.Backend)
	}

	if c.AdhocSign {
		opts = append(opts, relocate.WithSigner(relocate.AdhocSigner{}))
	}

	return opts, nil
}

// DefaultLibDir returns the library directory used for binary when none is
// configured: the "lib" sibling of the directory holding it.
func DefaultLibDir(binary string) string {
	return filepath.Join(filepath.Dir(filepath.Dir(binary)), "lib")
}

// Binaries returns the Mach-O files of input, which is either one file or a
// directory. Other files are skipped and returned separately.
func Binaries(input string, recursive bool) (machos, skipped []string, err error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, nil, err
	}
	if !info.IsDir() {
		if ok, err := magic.IsMachO(input); !ok {
			return nil, nil, fmt.Errorf("%s: %v", input, err)
		}
		return []string{input}, nil, nil
	}

	check := func(path string) {
		if ok, _ := magic.IsMachO(path); ok {
			machos = append(machos, path)
		} else {
			skipped = append(skipped, path)
		}
	}

	if !recursive {
		entries, err := os.ReadDir(input)
		if err != nil {
			return nil, nil, err
		}
		for _, e := range entries {
			if path := filepath.Join(input, e.Name()); e.Type().IsRegular() {
				check(path)
			}
		}
		return machos, skipped, nil
	}

	err = filepath.WalkDir(input, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			check(path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(machos)

	return machos, skipped, nil
}

// Run relocates every Mach-O file of the inputs, one after the other. Runs that
// share a library directory share the set of already relocated libraries.
func Run(conf *Config) (*Result, error) {
	opts, err := conf.options()
	if err != nil {
		return nil, err
	}

	var res Result
	contexts := make(map[string]*relocate.Context)

	for _, input := range conf.Inputs {
		machos, skipped, err := Binaries(input, conf.Recursive)
		if err != nil {
			return nil, err
		}
		for _, s := range skipped {
			utils.Indent(log.WithField("file", s).Debug, 2)("not a Mach-O, skipping")
		}
		res.Skipped = append(res.Skipped, skipped...)

		for _, m := range machos {
			libDir := conf.LibDir
			if libDir == "" {
				abs, err := filepath.Abs(m)
				if err != nil {
					return nil, err
				}
				libDir = DefaultLibDir(abs)
			}
			c, ok := contexts[libDir]
			if !ok {
				if c, err = relocate.NewContext(libDir, opts...); err != nil {
					return nil, err
				}
				contexts[libDir] = c
			}
			log.WithFields(log.Fields{"binary": m, "lib-dir": libDir}).Info("Bundling")
			if err := c.Relocate(m); err != nil {
				return nil, err
			}
			res.Relocated = append(res.Relocated, m)
		}
	}

	return &res, nil
}
