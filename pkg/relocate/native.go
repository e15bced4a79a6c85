package relocate

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	gomacho "github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"
	"github.com/blacktop/machoreloc/pkg/macho"
)

// Native is a Mutator that edits load commands in process with go-macho. It
// works on hosts without the Xcode command line tools.
type Native struct{}

var dependencyCmds = []string{
	"LC_LOAD_DYLIB",
	"LC_LOAD_WEAK_DYLIB",
	"LC_REEXPORT_DYLIB",
	"LC_LAZY_LOAD_DYLIB",
	"LC_LOAD_UPWARD_DYLIB",
}

// editable reports whether the load commands of m can be rewritten. go-macho
// pads every string command it writes to an 8 byte file offset, which keeps
// cmdsize consistent only after the 32 byte header of a 64-bit slice.
func editable(m *gomacho.File) error {
	if m.Magic != types.Magic64 {
		return fmt.Errorf("cannot edit %s slice (%s) in process; use the %s backend", m.Magic, m.CPU, DefaultInstallNameTool)
	}
	return nil
}

func pointerAlign(sz uint32) uint32 {
	if (sz % 8) != 0 {
		sz += 8 - (sz % 8)
	}
	return sz
}

func (Native) AddRpath(bin, rpath string) error {
	return rewrite(bin, "add_rpath", []string{rpath}, func(m *gomacho.File) error {
		for _, lc := range m.GetLoadsByName("LC_RPATH") {
			if lc.(*gomacho.Rpath).Path == rpath {
				return nil
			}
		}
		m.AddLoad(&gomacho.Rpath{
			RpathCmd: types.RpathCmd{
				LoadCmd:    types.LC_RPATH,
				Len:        pointerAlign(uint32(binary.Size(types.RpathCmd{}) + len(rpath) + 1)),
				PathOffset: 0xC,
			},
			Path: rpath,
		})
		return nil
	})
}

func (Native) ChangeLoadDependency(bin, oldName, newName string) error {
	if img, err := macho.Open(bin); err == nil && !slices.Contains(img.LoadDylibs(), oldName) {
		return &MutationFailedError{Binary: bin, Op: "change", Args: []string{oldName, newName}, Err: fmt.Errorf("no load command references %s", oldName)}
	}
	return rewrite(bin, "change", []string{oldName, newName}, func(m *gomacho.File) error {
		set := func(name *string, size *uint32) {
			if *name != oldName {
				return
			}
			prevLen := int32(*size)
			*size = pointerAlign(uint32(binary.Size(types.DylibCmd{}) + len(newName) + 1))
			*name = newName
			m.ModifySizeCommands(prevLen, int32(*size))
		}
		for _, cmd := range dependencyCmds {
			for _, lc := range m.GetLoadsByName(cmd) {
				switch c := lc.(type) {
				case *gomacho.LoadDylib:
					set(&c.Name, &c.Len)
				case *gomacho.WeakDylib:
					set(&c.Name, &c.Len)
				case *gomacho.ReExportDylib:
					set(&c.Name, &c.Len)
				case *gomacho.LazyLoadDylib:
					set(&c.Name, &c.Len)
				case *gomacho.UpwardDylib:
					set(&c.Name, &c.Len)
				default:
					return fmt.Errorf("unexpected %s load command %T", cmd, lc)
				}
			}
		}
		return nil
	})
}

func (Native) ChangeSelfIdentity(bin, id string) error {
	return rewrite(bin, "id", []string{id}, func(m *gomacho.File) error {
		if m.FileHeader.Type != types.MH_DYLIB {
			return fmt.Errorf("only a dylib has an LC_ID_DYLIB")
		}
		lcs := m.GetLoadsByName("LC_ID_DYLIB")
		if len(lcs) != 1 {
			return fmt.Errorf("expected one LC_ID_DYLIB, found %d", len(lcs))
		}
		c := lcs[0].(*gomacho.IDDylib)
		prevLen := int32(c.Len)
		c.Len = pointerAlign(uint32(binary.Size(types.DylibCmd{}) + len(id) + 1))
		c.Name = id
		m.ModifySizeCommands(prevLen, int32(c.Len))
		return nil
	})
}

// rewrite applies fn to every slice of bin and replaces bin with the result,
// keeping its mode.
func rewrite(bin, op string, args []string, fn func(*gomacho.File) error) error {
	fail := func(err error) error {
		return &MutationFailedError{Binary: bin, Op: op, Args: args, Err: err}
	}

	info, err := os.Stat(bin)
	if err != nil {
		return fail(err)
	}
	out := filepath.Join(filepath.Dir(bin), "."+filepath.Base(bin)+".machoreloc")
	defer os.Remove(out)

	if fat, err := gomacho.OpenFat(bin); err == nil { // UNIVERSAL MACHO
		defer fat.Close()
		for _, arch := range fat.Arches {
			if err := editable(arch.File); err != nil {
				return fail(err)
			}
		}
		var thin []string
		for _, arch := range fat.Arches {
			if err := fn(arch.File); err != nil {
				return fail(err)
			}
			tmp, err := os.CreateTemp(filepath.Dir(bin), ".macho_"+arch.File.CPU.String())
			if err != nil {
				return fail(fmt.Errorf("failed to create temp file: %v", err))
			}
			defer os.Remove(tmp.Name())
			if err := tmp.Close(); err != nil {
				return fail(fmt.Errorf("failed to close temp file: %v", err))
			}
			if err := arch.File.Save(tmp.Name()); err != nil {
				return fail(fmt.Errorf("failed to save slice: %v", err))
			}
			thin = append(thin, tmp.Name())
		}
		ff, err := gomacho.CreateFat(out, thin...)
		if err != nil {
			return fail(fmt.Errorf("failed to create fat file: %v", err))
		}
		ff.Close()
	} else { // SINGLE MACHO ARCH
		if !errors.Is(err, gomacho.ErrNotFat) {
			return fail(fmt.Errorf("failed to open MachO file: %v", err))
		}
		m, err := gomacho.Open(bin)
		if err != nil {
			return fail(fmt.Errorf("failed to open MachO file: %v", err))
		}
		defer m.Close()
		if err := editable(m); err != nil {
			return fail(err)
		}
		if err := fn(m); err != nil {
			return fail(err)
		}
		if err := m.Save(out); err != nil {
			return fail(fmt.Errorf("failed to save MachO file: %v", err))
		}
	}

	if err := os.Chmod(out, info.Mode().Perm()); err != nil {
		return fail(err)
	}
	if err := os.Rename(out, bin); err != nil {
		return fail(err)
	}
	return nil
}
