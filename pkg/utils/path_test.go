package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		path          string
		allowAbsolute bool
		wantErr       bool
	}{
		{"relative", "logs/levelfs.log", false, false},
		{"absolute allowed", "/var/log/levelfs.log", true, false},
		{"absolute rejected", "/var/log/levelfs.log", false, true},
		{"empty", "", true, true},
		{"traversal", "../etc/passwd", true, true},
		{"cleaned traversal", "a/../../b", false, true},
		{"dots in name", "app..log", false, false},
		{"inner traversal resolves", "a/b/../c", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path, tt.allowAbsolute)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePath(%q, %v) error = %v, wantErr %v", tt.path, tt.allowAbsolute, err, tt.wantErr)
			}
		})
	}
}

func TestValidateMountPoint(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	got, err := ValidateMountPoint(dir)
	if err != nil {
		t.Fatalf("ValidateMountPoint(%q) error = %v", dir, err)
	}
	if !filepath.IsAbs(got) {
		t.Errorf("ValidateMountPoint returned relative path %q", got)
	}

	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateMountPoint(file); err == nil {
		t.Error("a regular file should not be accepted as a mount point")
	}
	if _, err := ValidateMountPoint(filepath.Join(dir, "missing")); err == nil {
		t.Error("a missing directory should not be accepted")
	}
	if _, err := ValidateMountPoint(""); err == nil {
		t.Error("empty mount point should be rejected")
	}
}
