package pathnorm

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeAbsoluteCleanup(t *testing.T) {
	cases := map[string]string{
		"/a/b/../c":     "/a/c",
		"/a//b///c":     "/a/b/c",
		"/a/./b/./c":    "/a/b/c",
		"/a/b/c/":       "/a/b/c",
		"/":             "/",
		"/../../a":      "/a",
		"/a/../../../b": "/b",
	}
	for in, want := range cases {
		got, err := Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeRelativeJoinsCWD(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Normalize("foo/bar")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(wd, "foo", "bar")
	if got != want {
		t.Errorf("Normalize(relative) = %q, want %q", got, want)
	}
}

func TestNormalizeEmptyRejected(t *testing.T) {
	if _, err := Normalize(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	first, err := Normalize("/a/b/../c/./d")
	if err != nil {
		t.Fatal(err)
	}
	second, err := Normalize(first)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("normalize not idempotent: %q vs %q", first, second)
	}
}
