package relocate

import (
	"os/exec"

	"github.com/apex/log"
)

// A Mutator edits the load commands of a binary on disk. Every method either
// leaves the file edited or returns a *MutationFailedError.
type Mutator interface {
	AddRpath(binary, rpath string) error
	ChangeLoadDependency(binary, oldName, newName string) error
	ChangeSelfIdentity(binary, id string) error
}

// DefaultInstallNameTool is the tool InstallNameTool runs when none is given.
const DefaultInstallNameTool = "install_name_tool"

// InstallNameTool is a Mutator backed by Apple's install_name_tool.
type InstallNameTool struct {
	Path string
}

// NewInstallNameTool returns a Mutator running the tool at path (looked up in
// PATH when it has no separator).
func NewInstallNameTool(path string) *InstallNameTool {
	if path == "" {
		path = DefaultInstallNameTool
	}
	return &InstallNameTool{Path: path}
}

func (t *InstallNameTool) AddRpath(binary, rpath string) error {
	return t.run(binary, "add_rpath", rpath)
}

func (t *InstallNameTool) ChangeLoadDependency(binary, oldName, newName string) error {
	return t.run(binary, "change", oldName, newName)
}

func (t *InstallNameTool) ChangeSelfIdentity(binary, id string) error {
	return t.run(binary, "id", id)
}

func (t *InstallNameTool) run(binary, op string, args ...string) error {
	argv := append([]string{"-" + op}, args...)
	argv = append(argv, binary)

	out, err := exec.Command(t.Path, argv...).CombinedOutput()
	if err != nil {
		return &MutationFailedError{
			Binary: binary,
			Op:     op,
			Args:   args,
			Output: string(out),
			Err:    err,
		}
	}
	if len(out) > 0 {
		// install_name_tool warns about invalidated signatures on success
		log.WithField("binary", binary).Debugf("%s: %s", t.Path, out)
	}
	return nil
}
