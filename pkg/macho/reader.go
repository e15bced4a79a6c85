package macho

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// reader performs sequential fixed size reads at absolute offsets of an
// io.ReaderAt. It has no knowledge of Mach-O semantics.
type reader struct {
	r   io.ReaderAt
	bo  binary.ByteOrder
	off int64
}

func newReader(r io.ReaderAt, bo binary.ByteOrder, off int64) *reader {
	return &reader{r: r, bo: bo, off: off}
}

// read returns the next n bytes and advances past them.
func (r *reader) read(n int64) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative read length %d", n)
	}
	buf := make([]byte, n)
	got, err := r.r.ReadAt(buf, r.off)
	if int64(got) < n {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	r.off += n
	return buf, nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.read(4)
	if err != nil {
		return 0, err
	}
	return r.bo.Uint32(b), nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.read(8)
	if err != nil {
		return 0, err
	}
	return r.bo.Uint64(b), nil
}

// skip advances n bytes without decoding them. The last skipped byte must exist.
func (r *reader) skip(n int64) error {
	if n < 0 {
		return fmt.Errorf("negative skip length %d", n)
	}
	if n > 0 {
		var last [1]byte
		if _, err := r.r.ReadAt(last[:], r.off+n-1); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return err
		}
	}
	r.off += n
	return nil
}

// cstring decodes a NUL padded, length prefixed byte run. Only the trailing NUL
// padding is removed.
func cstring(b []byte) (string, error) {
	b = bytes.TrimRight(b, "\x00")
	if !utf8.Valid(b) {
		return "", fmt.Errorf("invalid UTF-8 string %q", b)
	}
	return string(b), nil
}
