// Package diskspace checks free space on the filesystem that will receive a download.
package diskspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// InsufficientSpaceError indicates that there is not enough disk space available.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	requiredMB := float64(e.RequiredBytes) / (1024 * 1024)
	availableMB := float64(e.AvailableBytes) / (1024 * 1024)
	return fmt.Sprintf("insufficient disk space for %s: need %.2f MB, have %.2f MB available",
		e.Path, requiredMB, availableMB)
}

// CheckAvailableSpace checks that requiredBytes*safetyMargin fit on the
// filesystem where targetPath will be created. targetPath and its parent
// directories need not exist yet.
//
// If free space cannot be determined the check passes and the write is left
// to fail on its own.
func CheckAvailableSpace(targetPath string, requiredBytes int64, safetyMargin float64) error {
	if requiredBytes <= 0 {
		return nil
	}
	if safetyMargin < 1 {
		safetyMargin = 1
	}

	available, ok := availableBytes(existingDir(targetPath))
	if !ok {
		return nil
	}

	required := int64(float64(requiredBytes) * safetyMargin)
	if available < required {
		return &InsufficientSpaceError{
			Path:           targetPath,
			RequiredBytes:  required,
			AvailableBytes: available,
		}
	}
	return nil
}

// GetAvailableSpace returns the available space in bytes for the filesystem
// containing the given path. Returns 0 if unable to determine.
func GetAvailableSpace(path string) int64 {
	available, ok := availableBytes(existingDir(path))
	if !ok {
		return 0
	}
	return available
}

// IsInsufficientSpaceError checks if an error is, or wraps, an InsufficientSpaceError
func IsInsufficientSpaceError(err error) bool {
	var target *InsufficientSpaceError
	return errors.As(err, &target)
}

// existingDir walks up from path's directory to the nearest one that exists.
func existingDir(path string) string {
	dir := filepath.Dir(path)
	for {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
