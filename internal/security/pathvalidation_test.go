package security

import (
	"path/filepath"
	"testing"
)

func TestValidateObjectName(t *testing.T) {
	valid := []string{
		"wofs/2023/wofs_2023_12_60.tif",
		"tiles/wofs/0/0/0.png",
		"runs.db",
	}
	for _, name := range valid {
		if err := ValidateObjectName(name); err != nil {
			t.Errorf("%q rejected: %v", name, err)
		}
	}

	invalid := []string{
		"",
		"/etc/passwd",
		"../outside.tif",
		"a/../../outside.tif",
		`a\b.tif`,
	}
	for _, name := range invalid {
		if err := ValidateObjectName(name); err == nil {
			t.Errorf("%q accepted", name)
		}
	}
}

func TestValidatePathWithinDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := ValidatePathWithinDirectory(filepath.Join(dir, "a", "b.tif"), dir); err != nil {
		t.Errorf("contained path rejected: %v", err)
	}
	if err := ValidatePathWithinDirectory(filepath.Join(dir, "..", "evil.tif"), dir); err == nil {
		t.Error("escaping path accepted")
	}
	if err := ValidatePathWithinDirectory(dir, dir); err != nil {
		t.Errorf("directory itself rejected: %v", err)
	}
}
