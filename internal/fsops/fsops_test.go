package fsops

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	derrors "github.com/jgaa/deldupes/internal/common/errors"
)

func TestStatAndOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	fsops := NewOSFilesystem()

	info, err := fsops.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size != 5 {
		t.Errorf("Size = %d, want 5", info.Size)
	}

	rc, err := fsops.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q, want %q", data, "hello")
	}
}

func TestStatMissingReturnsNotFound(t *testing.T) {
	fsops := NewOSFilesystem()
	_, err := fsops.Stat(filepath.Join(t.TempDir(), "nope"))
	if !derrors.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	fsops := NewOSFilesystem()
	if err := fsops.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected file to be removed")
	}
}

func TestRemoveMissingReturnsNotFound(t *testing.T) {
	fsops := NewOSFilesystem()
	err := fsops.Remove(filepath.Join(t.TempDir(), "nope"))
	if !derrors.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestWalkVisitsAllEntries(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("bb"), 0644); err != nil {
		t.Fatal(err)
	}

	fsops := NewOSFilesystem()
	var files []string
	err := fsops.Walk(dir, func(info Info, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir {
			files = append(files, info.Path)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2: %v", len(files), files)
	}
}
