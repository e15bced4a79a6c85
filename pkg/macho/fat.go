package macho

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Java class files share the fat magic; their "count" is the class file version
// (45 and up), which is never a real number of slices.
const maxFatArches = 30

// A FatArch is one entry of a universal file's header.
type FatArch struct {
	CPU    CPU
	SubCPU uint32
	Offset uint64
	Size   uint64
	Align  uint32
}

// FatArches reads the universal header at the start of r and returns its entries
// in on-disk order. Offsets are absolute offsets into r.
func FatArches(r io.ReaderAt) ([]FatArch, error) {
	br := newReader(r, binary.BigEndian, 0)

	var ident [4]byte
	b, err := br.read(4)
	if err != nil {
		return nil, &MalformedBinaryError{Msg: "failed to read magic", Err: err}
	}
	copy(ident[:], b)
	magic := magicOf(ident)
	if !magic.IsFat() {
		return nil, &MalformedBinaryError{Msg: fmt.Sprintf("not a universal file (magic %#x)", uint32(magic))}
	}

	count, err := br.uint32()
	if err != nil {
		return nil, &MalformedBinaryError{Offset: br.off, Msg: "failed to read fat arch count", Err: err}
	}
	if count == 0 || count > maxFatArches {
		return nil, &MalformedBinaryError{Offset: 4, Msg: fmt.Sprintf("invalid fat arch count %d", count)}
	}

	arches := make([]FatArch, 0, count)
	for i := uint32(0); i < count; i++ {
		entry := br.off
		var fa FatArch
		cpu, err := br.uint32()
		if err != nil {
			return nil, &MalformedBinaryError{Offset: entry, Msg: fmt.Sprintf("failed to read fat arch %d", i), Err: err}
		}
		fa.CPU = CPU(cpu)
		if fa.SubCPU, err = br.uint32(); err != nil {
			return nil, &MalformedBinaryError{Offset: entry, Msg: fmt.Sprintf("failed to read fat arch %d", i), Err: err}
		}
		if magic == MagicFat64 {
			if fa.Offset, err = br.uint64(); err == nil {
				if fa.Size, err = br.uint64(); err == nil {
					if fa.Align, err = br.uint32(); err == nil {
						_, err = br.uint32() // reserved
					}
				}
			}
		} else {
			var off, size uint32
			if off, err = br.uint32(); err == nil {
				if size, err = br.uint32(); err == nil {
					fa.Align, err = br.uint32()
				}
			}
			fa.Offset, fa.Size = uint64(off), uint64(size)
		}
		if err != nil {
			return nil, &MalformedBinaryError{Offset: entry, Msg: fmt.Sprintf("failed to read fat arch %d", i), Err: err}
		}
		arches = append(arches, fa)
	}

	return arches, nil
}
