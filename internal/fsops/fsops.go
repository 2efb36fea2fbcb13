// Package fsops abstracts the filesystem operations the scan pipeline and
// deletion planner need (§4.J): walking a directory tree, stating and
// opening files for hashing, and unlinking files during apply. The default
// implementation is backed by the local filesystem; the interfaces exist so
// tests can substitute an in-memory fake.
package fsops

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	derrors "github.com/jgaa/deldupes/internal/common/errors"
)

// Info is the subset of file metadata the scan pipeline needs per entry.
type Info struct {
	Path      string
	Size      int64
	MtimeUnix int64
	IsDir     bool
}

// WalkFunc is called for every filesystem entry encountered by Walk. An
// error returned by fn aborts the walk and is propagated to the Walk caller,
// except fs.SkipDir, which skips the directory fn was called on.
type WalkFunc func(info Info, err error) error

// Filesystem is the set of filesystem operations used outside of walking:
// stat-before-hash, read-for-hash, and unlink-on-apply.
type Filesystem interface {
	// Stat returns the current size and mtime of path, or ErrNotFound if
	// it no longer exists.
	Stat(path string) (Info, error)

	// Open opens path for reading, for content hashing.
	Open(path string) (io.ReadCloser, error)

	// Remove unlinks path.
	Remove(path string) error
}

// Walker walks a directory tree, visiting regular files and directories.
type Walker interface {
	Walk(root string, fn WalkFunc) error
}

// OSFilesystem implements Filesystem and Walker against the local OS
// filesystem, grounded on the teacher's os/filepath-based local backend.
type OSFilesystem struct{}

// NewOSFilesystem returns the default local-disk implementation.
func NewOSFilesystem() OSFilesystem {
	return OSFilesystem{}
}

func toInfo(path string, fi os.FileInfo) Info {
	return Info{
		Path:      path,
		Size:      fi.Size(),
		MtimeUnix: fi.ModTime().Unix(),
		IsDir:     fi.IsDir(),
	}
}

// Stat implements Filesystem.
func (OSFilesystem) Stat(path string) (Info, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, derrors.E("fsops.Stat", derrors.ErrNotFound, err, path)
		}
		return Info{}, derrors.E("fsops.Stat", derrors.ErrIoError, err, path)
	}
	return toInfo(path, fi), nil
}

// Open implements Filesystem.
func (OSFilesystem) Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, derrors.E("fsops.Open", derrors.ErrNotFound, err, path)
		}
		return nil, derrors.E("fsops.Open", derrors.ErrIoError, err, path)
	}
	return f, nil
}

// Remove implements Filesystem.
func (OSFilesystem) Remove(path string) error {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return derrors.E("fsops.Remove", derrors.ErrNotFound, err, path)
		}
		return derrors.E("fsops.Remove", derrors.ErrIoError, err, path)
	}
	return nil
}

// Walk implements Walker using filepath.WalkDir. Symlinks are reported as
// their own directory entries and never followed into a target directory;
// the pipeline hashes every non-directory entry through Open, which reads a
// symlink's target.
func (OSFilesystem) Walk(root string, fn WalkFunc) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fn(Info{Path: path}, derrors.E("fsops.Walk", derrors.ErrIoError, err, path))
		}
		fi, statErr := d.Info()
		if statErr != nil {
			return fn(Info{Path: path}, derrors.E("fsops.Walk", derrors.ErrIoError, statErr, path))
		}
		return fn(toInfo(path, fi), nil)
	})
}
