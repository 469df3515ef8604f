//go:build windows

package preflight

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

func checkAccess(path string) error {
	probe, err := os.CreateTemp(path, ".assetlib-access-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(filepath.Clean(name))
}

func freeBytes(path string) (uint64, error) {
	dir, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, err
	}
	var available, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(dir, &available, &total, &free); err != nil {
		return 0, err
	}
	return available, nil
}
