// Package security validates externally influenced paths before they touch
// the filesystem. Object names come from config (dataset ids, prefixes) and
// from storage listings; a malformed name must not escape the storage root.
package security

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ValidateObjectName checks a slash-separated object name for use under a
// storage root. Absolute names, drive-qualified names, and names whose
// cleaned form climbs out of the root are rejected.
func ValidateObjectName(name string) error {
	if name == "" {
		return fmt.Errorf("empty object name")
	}
	if strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return fmt.Errorf("object name %q must be a relative slash path", name)
	}
	if filepath.VolumeName(name) != "" {
		return fmt.Errorf("object name %q must not carry a volume", name)
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("object name %q escapes the storage root", name)
	}
	return nil
}

// ValidatePathWithinDirectory reports whether filePath stays inside dir once
// both are made absolute and cleaned. It is the backstop used for scratch
// files whose names derive from object names.
func ValidatePathWithinDirectory(filePath, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("resolve %q: %w", filePath, err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", dir, err)
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return fmt.Errorf("relate %q to %q: %w", filePath, dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes directory %q", filePath, dir)
	}
	return nil
}
