//go:build linux

package storage

import (
	"os"

	"golang.org/x/sys/unix"
)

func detectFilesystemType(path string) (string, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return "", &os.PathError{Op: "statfs", Path: path, Err: err}
	}
	// Magic numbers are 32-bit; drop sign extension from int32 fields.
	return filesystemName(uint64(uint32(st.Type))), nil
}
