package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var networkFilesystems = map[string]struct{}{
	"9p":     {},
	"afpfs":  {},
	"afs":    {},
	"ceph":   {},
	"cifs":   {},
	"coda":   {},
	"ncpfs":  {},
	"nfs":    {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// statfsMagic maps Linux f_type values to the names used above.
var statfsMagic = map[uint64]string{
	0x6969:     "nfs",
	0x517B:     "smbfs",
	0x564C:     "ncpfs",
	0x01021997: "9p",
	0x00C36400: "ceph",
	0x5346414F: "afs",
	0x73757245: "coda",
	0xFF534D42: "cifs",
	0xFE534D42: "smb2",
}

// errFilesystemUnsupported is returned by detectors on platforms without a
// statfs equivalent. The check is skipped there.
var errFilesystemUnsupported = errors.New("filesystem detection unsupported")

// filesystemName names a Linux statfs magic number, falling back to hex.
func filesystemName(magic uint64) string {
	if name, ok := statfsMagic[magic]; ok {
		return name
	}
	return fmt.Sprintf("0x%x", magic)
}

// validateSQLiteFilesystem refuses database paths on network mounts, where
// SQLite file locking cannot be trusted to serialize ledger claims.
func validateSQLiteFilesystem(path string) error {
	return validateSQLiteFilesystemWithDetector(path, detectFilesystemType)
}

func validateSQLiteFilesystemWithDetector(path string, detector func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}

	inspectPath, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", path, err)
	}

	fsType, err := detector(inspectPath)
	if errors.Is(err, errFilesystemUnsupported) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", inspectPath, err)
	}

	if isNetworkFilesystem(fsType) {
		return fmt.Errorf(
			"database path %q is on network filesystem %q; SQLite requires a local filesystem for reliable locking. set database.path to a local file or switch database.driver to postgres",
			path,
			fsType,
		)
	}

	return nil
}

func nearestExistingPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	candidate := absPath
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}

		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", absPath)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	normalized := strings.TrimSpace(strings.ToLower(fsType))
	_, found := networkFilesystems[normalized]
	return found
}
