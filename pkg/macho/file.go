package macho

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
)

// An Arch is one architecture slice of an Image.
type Arch struct {
	Offset int64
	Magic  Magic
	CPU    CPU
	SubCPU uint32
	Type   Type
	// StaticArchive is set when the slice does not start with a Mach-O magic
	// (e.g. an ar archive inside a universal file); nothing else is parsed.
	StaticArchive bool
	Dylibs        []Dylib
	Rpaths        []string
	InstallName   string
}

// An Image is a parsed Mach-O file. For universal files the dependency and
// rpath lists are the first slice's lists followed by entries only later slices
// declare.
type Image struct {
	Path          string
	Fat           bool
	StaticArchive bool
	Type          Type
	InstallName   string
	Dylibs        []Dylib
	Rpaths        []string
	Arches        []Arch
}

// LoadDylibs returns the declared dependency paths in on-disk order, duplicates
// included.
func (i *Image) LoadDylibs() []string {
	names := make([]string, 0, len(i.Dylibs))
	for _, d := range i.Dylibs {
		names = append(names, d.Name)
	}
	return names
}

// HasRpath reports whether rpath is already declared.
func (i *Image) HasRpath(rpath string) bool {
	return slices.Contains(i.Rpaths, rpath)
}

// IsDylib reports whether the image is a dynamic library with an install name.
func (i *Image) IsDylib() bool {
	return i.Type == TypeDylib && i.InstallName != ""
}

// Open opens and parses the named file.
func Open(name string) (*Image, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := NewImage(f)
	if err != nil {
		var merr *MalformedBinaryError
		if errors.As(err, &merr) {
			merr.Path = name
		}
		return nil, err
	}
	img.Path = name

	return img, nil
}

// NewImage parses the Mach-O file in r. The file is expected to start at
// position 0 in the ReaderAt.
func NewImage(r io.ReaderAt) (*Image, error) {
	var ident [4]byte
	if n, err := r.ReadAt(ident[:], 0); n < len(ident) {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, &MalformedBinaryError{Msg: "failed to read magic", Err: err}
	}

	img := new(Image)

	switch magic := magicOf(ident); {
	case magic.IsFat():
		fas, err := FatArches(r)
		if err != nil {
			return nil, err
		}
		img.Fat = true
		for _, fa := range fas {
			arch, err := ParseArch(r, int64(fa.Offset))
			if err != nil {
				return nil, err
			}
			img.Arches = append(img.Arches, *arch)
		}
	case magic.IsThin():
		arch, err := ParseArch(r, 0)
		if err != nil {
			return nil, err
		}
		img.Arches = append(img.Arches, *arch)
	default:
		return nil, &MalformedBinaryError{Msg: fmt.Sprintf("unrecognized magic %#08x", uint32(magic))}
	}

	img.merge()

	return img, nil
}

func (i *Image) merge() {
	for idx, arch := range i.Arches {
		if arch.StaticArchive {
			i.StaticArchive = true
			continue
		}
		if i.Type == 0 {
			i.Type = arch.Type
		}
		if i.InstallName == "" {
			i.InstallName = arch.InstallName
		}
		if idx == 0 {
			i.Dylibs = append(i.Dylibs, arch.Dylibs...)
			i.Rpaths = append(i.Rpaths, arch.Rpaths...)
			continue
		}
		for _, d := range arch.Dylibs {
			if !slices.ContainsFunc(i.Dylibs, func(have Dylib) bool { return have.Name == d.Name }) {
				i.Dylibs = append(i.Dylibs, d)
			}
		}
		for _, rp := range arch.Rpaths {
			if !slices.Contains(i.Rpaths, rp) {
				i.Rpaths = append(i.Rpaths, rp)
			}
		}
	}
}

// ParseArch parses the slice starting at off. A slice without a Mach-O magic is
// returned with StaticArchive set and no load commands.
func ParseArch(r io.ReaderAt, off int64) (*Arch, error) {
	arch := &Arch{Offset: off}

	var ident [4]byte
	if n, err := r.ReadAt(ident[:], off); n < len(ident) {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, &MalformedBinaryError{Offset: off, Msg: "failed to read slice magic", Err: err}
	}
	arch.Magic = magicOf(ident)
	if !arch.Magic.IsThin() {
		arch.StaticArchive = true
		return arch, nil
	}

	br := newReader(r, arch.Magic.ByteOrder(), off+4)

	var hdr [5]uint32 // cputype, cpusubtype, filetype, ncmds, sizeofcmds
	for idx := range hdr {
		v, err := br.uint32()
		if err != nil {
			return nil, &MalformedBinaryError{Offset: off, Msg: "failed to read mach header", Err: err}
		}
		hdr[idx] = v
	}
	arch.CPU = CPU(hdr[0])
	arch.SubCPU = hdr[1]
	arch.Type = Type(hdr[2])

	br.off = off + arch.Magic.HeaderSize()
	lcs, err := parseLoadCommands(br, hdr[3])
	if err != nil {
		return nil, err
	}
	arch.Dylibs = lcs.dylibs
	arch.Rpaths = lcs.rpaths
	arch.InstallName = lcs.id

	return arch, nil
}
