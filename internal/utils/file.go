package utils

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// IsRegular reports whether path exists and (after following symlinks) is a
// regular file.
func IsRegular(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// CopyFile copies src to dst keeping the permission bits (plus owner write, so
// the copy can be edited afterwards) and the modification time of src.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return errors.Wrapf(err, "failed to stat %s", src)
	}
	if !info.Mode().IsRegular() {
		return errors.Errorf("%s is not a regular file", src)
	}

	from, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", src)
	}
	defer from.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Dir(dst))
	}

	mode := info.Mode().Perm() | 0o200
	to, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", dst)
	}
	if _, err := io.Copy(to, from); err != nil {
		to.Close()
		return errors.Wrapf(err, "failed to copy %s to %s", src, dst)
	}
	if err := to.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", dst)
	}

	// OpenFile only applies mode to new files and is subject to the umask
	if err := os.Chmod(dst, mode); err != nil {
		return errors.Wrapf(err, "failed to chmod %s", dst)
	}
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return errors.Wrapf(err, "failed to set times of %s", dst)
	}

	return nil
}
