// Package testutil builds small synthetic Mach-O files for tests. The files
// carry only a mach header and load commands; they are not runnable.
package testutil

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// Load command ids used by the builders.
const (
	LcLoadDylib       uint32 = 0xc
	LcIDDylib         uint32 = 0xd
	LcLoadWeakDylib   uint32 = 0x18 | 0x80000000
	LcUUID            uint32 = 0x1b
	LcRpath           uint32 = 0x1c | 0x80000000
	LcReexportDylib   uint32 = 0x1f | 0x80000000
	LcLazyLoadDylib   uint32 = 0x20
	LcLoadUpwardDylib uint32 = 0x23 | 0x80000000
	LcSourceVersion   uint32 = 0x2a
)

// File types.
const (
	TypeExec  uint32 = 2
	TypeDylib uint32 = 6
)

// CPU types.
const (
	CPUAmd64 uint32 = 0x01000007
	CPUArm64 uint32 = 0x0100000c
	CPU386   uint32 = 7
	CPUPpc   uint32 = 18
)

// A Dep is one dependency declaration. A zero Cmd means LC_LOAD_DYLIB.
type Dep struct {
	Cmd  uint32
	Name string
}

// A Slice describes one thin Mach-O image.
type Slice struct {
	Is64      bool
	BigEndian bool
	CPU       uint32
	Type      uint32
	ID        string
	Deps      []Dep
	Rpaths    []string
}

// Dylib returns a 64-bit little endian dylib slice with the given install name.
func Dylib(id string, deps ...string) Slice {
	s := Slice{Is64: true, CPU: CPUArm64, Type: TypeDylib, ID: id}
	for _, d := range deps {
		s.Deps = append(s.Deps, Dep{Name: d})
	}
	return s
}

// Exec returns a 64-bit little endian executable slice.
func Exec(deps ...string) Slice {
	s := Slice{Is64: true, CPU: CPUArm64, Type: TypeExec}
	for _, d := range deps {
		s.Deps = append(s.Deps, Dep{Name: d})
	}
	return s
}

func (s Slice) order() binary.ByteOrder {
	if s.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (s Slice) align() int {
	if s.Is64 {
		return 8
	}
	return 4
}

// lcStr encodes a command whose string starts right after a fixed part of
// fixed bytes (the 8 byte header included).
func (s Slice) lcStr(cmd uint32, fixed int, extra []uint32, str string) []byte {
	bo := s.order()
	size := fixed + len(str) + 1
	if rem := size % s.align(); rem != 0 {
		size += s.align() - rem
	}
	b := make([]byte, size)
	bo.PutUint32(b[0:], cmd)
	bo.PutUint32(b[4:], uint32(size))
	bo.PutUint32(b[8:], uint32(fixed))
	for i, v := range extra {
		bo.PutUint32(b[12+4*i:], v)
	}
	copy(b[fixed:], str)
	return b
}

func (s Slice) dylibCmd(cmd uint32, name string) []byte {
	// timestamp, current_version, compatibility_version
	return s.lcStr(cmd, 24, []uint32{2, 0x10000, 0x10000}, name)
}

// Bytes encodes the slice. An LC_UUID command precedes and an LC_SOURCE_VERSION
// command follows the interesting ones so parsers must skip unknown commands.
func (s Slice) Bytes() []byte {
	bo := s.order()

	var cmds [][]byte

	uuid := make([]byte, 24)
	bo.PutUint32(uuid[0:], LcUUID)
	bo.PutUint32(uuid[4:], 24)
	for i := 8; i < 24; i++ {
		uuid[i] = byte(i)
	}
	cmds = append(cmds, uuid)

	if s.ID != "" {
		cmds = append(cmds, s.dylibCmd(LcIDDylib, s.ID))
	}
	for _, d := range s.Deps {
		cmd := d.Cmd
		if cmd == 0 {
			cmd = LcLoadDylib
		}
		cmds = append(cmds, s.dylibCmd(cmd, d.Name))
	}
	for _, r := range s.Rpaths {
		cmds = append(cmds, s.lcStr(LcRpath, 12, nil, r))
	}

	srcVer := make([]byte, 16)
	bo.PutUint32(srcVer[0:], LcSourceVersion)
	bo.PutUint32(srcVer[4:], 16)
	cmds = append(cmds, srcVer)

	var sizeofcmds int
	for _, c := range cmds {
		sizeofcmds += len(c)
	}

	magic := uint32(0xfeedface)
	hdrSize := 28
	if s.Is64 {
		magic = 0xfeedfacf
		hdrSize = 32
	}
	typ := s.Type
	if typ == 0 {
		typ = TypeExec
	}

	out := make([]byte, hdrSize, hdrSize+sizeofcmds)
	bo.PutUint32(out[0:], magic)
	bo.PutUint32(out[4:], s.CPU)
	bo.PutUint32(out[8:], 0)
	bo.PutUint32(out[12:], typ)
	bo.PutUint32(out[16:], uint32(len(cmds)))
	bo.PutUint32(out[20:], uint32(sizeofcmds))
	bo.PutUint32(out[24:], 0x00200085) // MH_NOUNDEFS|MH_DYLDLINK|MH_TWOLEVEL|MH_PIE
	for _, c := range cmds {
		out = append(out, c...)
	}
	return out
}

// A FatSlice is one member of a universal file. Data is either Slice bytes or
// arbitrary bytes (e.g. an ar archive).
type FatSlice struct {
	CPU  uint32
	Data []byte
}

const fatAlign = 12 // 4096

// Fat encodes a universal file with 32-bit offsets.
func Fat(slices ...FatSlice) []byte { return fat(false, slices) }

// Fat64 encodes a universal file with 64-bit offsets.
func Fat64(slices ...FatSlice) []byte { return fat(true, slices) }

func fat(is64 bool, slices []FatSlice) []byte {
	bo := binary.BigEndian
	entSize := 20
	magic := uint32(0xcafebabe)
	if is64 {
		entSize = 32
		magic = 0xcafebabf
	}

	hdr := make([]byte, 8+entSize*len(slices))
	bo.PutUint32(hdr[0:], magic)
	bo.PutUint32(hdr[4:], uint32(len(slices)))

	out := hdr
	for i, s := range slices {
		off := alignUp(len(out), 1<<fatAlign)
		out = append(out, make([]byte, off-len(out))...)
		out = append(out, s.Data...)

		ent := hdr[8+entSize*i:]
		bo.PutUint32(ent[0:], s.CPU)
		bo.PutUint32(ent[4:], 0)
		if is64 {
			bo.PutUint64(ent[8:], uint64(off))
			bo.PutUint64(ent[16:], uint64(len(s.Data)))
			bo.PutUint32(ent[24:], fatAlign)
		} else {
			bo.PutUint32(ent[8:], uint32(off))
			bo.PutUint32(ent[12:], uint32(len(s.Data)))
			bo.PutUint32(ent[16:], fatAlign)
		}
	}
	return out
}

// Offsets returns the slice offsets Fat and Fat64 produce for slices of the
// given sizes.
func Offsets(is64 bool, sizes ...int) []int64 {
	entSize := 20
	if is64 {
		entSize = 32
	}
	var offs []int64
	end := 8 + entSize*len(sizes)
	for _, sz := range sizes {
		off := alignUp(end, 1<<fatAlign)
		offs = append(offs, int64(off))
		end = off + sz
	}
	return offs
}

func alignUp(n, a int) int { return (n + a - 1) &^ (a - 1) }

// Archive returns the start of a static ar archive.
func Archive() []byte {
	return []byte("!<arch>\n__.SYMDEF SORTED/       0           0     0     644     8         `\n\x00\x00\x00\x00\x00\x00\x00\x00")
}

// WriteFile writes data to path (creating parent directories) with mode 0755.
func WriteFile(t testing.TB, path string, data []byte) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o755); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}
