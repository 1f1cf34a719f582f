package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogRotatorRotatesBySize(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "levelfs.log")

	lr, err := NewLogRotator(&RotationConfig{Filename: logFile, MaxSize: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewLogRotator() error = %v", err)
	}
	defer func() { _ = lr.Close() }()

	chunk := []byte(strings.Repeat("x", 600*1024))
	for i := 0; i < 3; i++ {
		if _, err := lr.Write(chunk); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	info, err := os.Stat(logFile)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != int64(len(chunk)) {
		t.Errorf("current log size = %d, want %d", info.Size(), len(chunk))
	}
	if n := countBackups(t, dir); n != 2 {
		t.Errorf("backups = %d, want 2", n)
	}
}

func TestLogRotatorPrunesAndCompresses(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "app.log")

	lr, err := NewLogRotator(&RotationConfig{Filename: logFile, MaxBackups: 1, Compress: true})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lr.Close() }()

	for i := 0; i < 3; i++ {
		if _, err := lr.Write([]byte("line\n")); err != nil {
			t.Fatal(err)
		}
		if err := lr.Rotate(); err != nil {
			t.Fatalf("Rotate() error = %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var gz int
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".gz") {
			gz++
		}
	}
	if gz != 1 {
		t.Errorf("compressed backups = %d, want 1", gz)
	}
}

func TestLogRotatorWriteAfterClose(t *testing.T) {
	lr, err := NewLogRotator(&RotationConfig{Filename: filepath.Join(t.TempDir(), "a.log")})
	if err != nil {
		t.Fatal(err)
	}
	if err := lr.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := lr.Write([]byte("x")); err == nil {
		t.Error("Write() after Close() should fail")
	}
	if _, err := NewLogRotator(&RotationConfig{}); err == nil {
		t.Error("missing filename should fail")
	}
}

func countBackups(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "levelfs-") {
			n++
		}
	}
	return n
}
