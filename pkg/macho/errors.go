package macho

import "fmt"

// MalformedBinaryError is returned when a file cannot be read as a Mach-O image:
// the magic number is missing or unrecognized, or a header or load command runs
// past the end of the file.
type MalformedBinaryError struct {
	Path   string
	Offset int64
	Msg    string
	Err    error
}

func (e *MalformedBinaryError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("malformed MachO %s: %s at offset %#x", e.Path, msg, e.Offset)
	}
	return fmt.Sprintf("malformed MachO: %s at offset %#x", msg, e.Offset)
}

func (e *MalformedBinaryError) Unwrap() error { return e.Err }
