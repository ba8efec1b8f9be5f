//go:build darwin

package storage

import (
	"os"

	"golang.org/x/sys/unix"
)

// Darwin reports the filesystem by name (apfs, nfs, smbfs, webdav, ...).
func detectFilesystemType(path string) (string, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return "", &os.PathError{Op: "statfs", Path: path, Err: err}
	}
	return unix.ByteSliceToString(st.Fstypename[:]), nil
}
