// Package pathutil validates and resolves the data file paths named in a
// viewer configuration (GeoJSON layers, the validation history database).
package pathutil

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Errors returned by path validation
var (
	ErrEmptyPath     = errors.New("file path cannot be empty")
	ErrInvalidPath   = errors.New("file path contains invalid characters")
	ErrPathTraversal = errors.New("file path contains path traversal")
)

// ValidateFilePath rejects empty paths, NUL bytes and any ".." segment.
// Segments are checked before cleaning, since "data/../etc/passwd" cleans to
// a path without "..".
func ValidateFilePath(filePath string) error {
	if strings.TrimSpace(filePath) == "" {
		return ErrEmptyPath
	}
	if strings.ContainsRune(filePath, 0) {
		return ErrInvalidPath
	}

	for _, segment := range strings.Split(filepath.ToSlash(filePath), "/") {
		if segment == ".." {
			return fmt.Errorf("%w: %q", ErrPathTraversal, filePath)
		}
	}
	return nil
}

// Resolve validates filePath and makes it absolute. Relative paths are taken
// relative to baseDir, normally the directory holding the configuration file.
func Resolve(baseDir, filePath string) (string, error) {
	if err := ValidateFilePath(filePath); err != nil {
		return "", err
	}
	if filepath.IsAbs(filePath) || baseDir == "" {
		return filepath.Clean(filePath), nil
	}
	return filepath.Join(baseDir, filePath), nil
}

// HasExtension reports whether filePath ends in one of exts (case-insensitive,
// with leading dots).
func HasExtension(filePath string, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}
