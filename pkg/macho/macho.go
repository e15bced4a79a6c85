// Package macho reads the parts of Mach-O (thin and universal) images needed to
// relocate them: the architecture slices, the declared dependencies, the runtime
// search paths and the install name.
package macho

import (
	"encoding/binary"
	"strconv"
)

// A Magic is the 4 byte number at the start of a Mach-O file or slice, as read
// little endian.
type Magic uint32

const (
	Magic32    Magic = 0xfeedface // MH_MAGIC
	Cigam32    Magic = 0xcefaedfe // MH_CIGAM
	Magic64    Magic = 0xfeedfacf // MH_MAGIC_64
	Cigam64    Magic = 0xcffaedfe // MH_CIGAM_64
	MagicFat   Magic = 0xcafebabe // FAT_MAGIC (big endian on disk)
	MagicFat64 Magic = 0xcafebabf // FAT_MAGIC_64 (big endian on disk)
)

var magicStrings = []intName{
	{uint32(Magic32), "32-bit MachO"},
	{uint32(Cigam32), "32-bit MachO (big endian)"},
	{uint32(Magic64), "64-bit MachO"},
	{uint32(Cigam64), "64-bit MachO (big endian)"},
	{uint32(MagicFat), "Fat MachO"},
	{uint32(MagicFat64), "Fat MachO (64-bit offsets)"},
}

func (m Magic) String() string   { return stringName(uint32(m), magicStrings, false) }
func (m Magic) GoString() string { return stringName(uint32(m), magicStrings, true) }

// magicOf decodes the 4 bytes at the start of a file or slice. Thin magics are
// compared in their little endian reading, fat magics in their big endian one.
func magicOf(ident [4]byte) Magic {
	be := binary.BigEndian.Uint32(ident[:])
	if Magic(be) == MagicFat || Magic(be) == MagicFat64 {
		return Magic(be)
	}
	return Magic(binary.LittleEndian.Uint32(ident[:]))
}

// IsThin reports whether m identifies a single architecture Mach-O image.
func (m Magic) IsThin() bool {
	switch m {
	case Magic32, Cigam32, Magic64, Cigam64:
		return true
	}
	return false
}

// IsFat reports whether m identifies a universal file.
func (m Magic) IsFat() bool { return m == MagicFat || m == MagicFat64 }

// Is64 reports whether m identifies a 64-bit image.
func (m Magic) Is64() bool { return m == Magic64 || m == Cigam64 }

// ByteOrder returns the byte order of the image fields following m.
func (m Magic) ByteOrder() binary.ByteOrder {
	switch m {
	case Cigam32, Cigam64, MagicFat, MagicFat64:
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// HeaderSize is the size of the mach_header that m starts.
func (m Magic) HeaderSize() int64 {
	if m.Is64() {
		return fileHeaderSize64
	}
	return fileHeaderSize32
}

const (
	fileHeaderSize32 = 7 * 4
	fileHeaderSize64 = 8 * 4
)

// A Type is the Mach-O file type, e.g. an object file, executable, or dynamic library.
type Type uint32

const (
	TypeObj        Type = 1
	TypeExec       Type = 2
	TypeFVMLib     Type = 3
	TypeCore       Type = 4
	TypePreload    Type = 5 /* preloaded executable file */
	TypeDylib      Type = 6 /* dynamically bound shared library */
	TypeDylinker   Type = 7 /* dynamic link editor */
	TypeBundle     Type = 8
	TypeDylibStub  Type = 0x9 /* shared library stub for static */
	TypeDsym       Type = 0xa /* companion file with only debug */
	TypeKextBundle Type = 0xb /* x86_64 kexts */
)

var typeStrings = []intName{
	{uint32(TypeObj), "Obj"},
	{uint32(TypeExec), "Exec"},
	{uint32(TypeFVMLib), "FVMLib"},
	{uint32(TypeCore), "Core"},
	{uint32(TypePreload), "Preload"},
	{uint32(TypeDylib), "Dylib"},
	{uint32(TypeDylinker), "Dylinker"},
	{uint32(TypeBundle), "Bundle"},
	{uint32(TypeDylibStub), "DylibStub"},
	{uint32(TypeDsym), "Dsym"},
	{uint32(TypeKextBundle), "KextBundle"},
}

func (t Type) String() string   { return stringName(uint32(t), typeStrings, false) }
func (t Type) GoString() string { return stringName(uint32(t), typeStrings, true) }

type intName struct {
	i uint32
	s string
}

func stringName(i uint32, names []intName, goSyntax bool) string {
	for _, n := range names {
		if n.i == i {
			if goSyntax {
				return "macho." + n.s
			}
			return n.s
		}
	}
	return strconv.FormatUint(uint64(i), 10)
}
