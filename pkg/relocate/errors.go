package relocate

import (
	"fmt"
	"strings"
)

// DependencyNotFoundError is returned when a non-system dependency is neither in
// one of the search directories nor resolvable on the build filesystem.
type DependencyNotFoundError struct {
	Binary     string
	Dependency string
	Searched   []string
}

func (e *DependencyNotFoundError) Error() string {
	return fmt.Sprintf("%s: dependency %s not found (searched %s)", e.Binary, e.Dependency, strings.Join(e.Searched, ", "))
}

// MutationFailedError is returned when a Mutator could not edit a binary.
type MutationFailedError struct {
	Binary string
	Op     string
	Args   []string
	Output string
	Err    error
}

func (e *MutationFailedError) Error() string {
	msg := fmt.Sprintf("%s: %s %s failed: %v", e.Binary, e.Op, strings.Join(e.Args, " "), e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *MutationFailedError) Unwrap() error { return e.Err }

// FilesystemError is returned when copying, stat-ing or resolving a path fails.
type FilesystemError struct {
	Binary string
	Path   string
	Op     string
	Err    error
}

func (e *FilesystemError) Error() string {
	if e.Binary == "" || e.Binary == e.Path {
		return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: failed to %s %s: %v", e.Binary, e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }
