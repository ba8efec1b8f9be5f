//go:build !darwin && !linux

package storage

func detectFilesystemType(string) (string, error) {
	return "", errFilesystemUnsupported
}
