package magic

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

type Magic uint32

// Magics as read little endian from the first 4 bytes of a file.
const (
	Magic32    Magic = 0xfeedface
	Cigam32    Magic = 0xcefaedfe
	Magic64    Magic = 0xfeedfacf
	Cigam64    Magic = 0xcffaedfe
	MagicFatBE Magic = 0xbebafeca // 0xcafebabe on disk
	MagicFat64 Magic = 0xbfbafeca // 0xcafebabf on disk
)

// IsMachO returns true when the file starts with a thin or universal Mach-O
// magic. The error explains why it does not.
func IsMachO(filePath string) (bool, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return false, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer f.Close()

	var magic [4]byte
	if _, err = io.ReadFull(f, magic[:]); err != nil {
		return false, fmt.Errorf("failed to read magic: %w", err)
	}

	switch Magic(binary.LittleEndian.Uint32(magic[:])) {
	case Magic32, Cigam32, Magic64, Cigam64, MagicFatBE, MagicFat64:
		return true, nil
	default:
		return false, fmt.Errorf("not a macho file")
	}
}
