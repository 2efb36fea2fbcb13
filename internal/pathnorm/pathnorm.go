// Package pathnorm canonicalizes filesystem paths into the normalized form
// under which they are recorded as PathIDs (§4.C). Normalization is purely
// lexical: it never touches the filesystem and never resolves symlinks.
package pathnorm

import (
	"os"
	"path/filepath"

	derrors "github.com/jgaa/deldupes/internal/common/errors"
)

// Normalize returns the absolute, lexically cleaned form of p: redundant
// separators collapsed, "." elements dropped, ".." elements resolved
// lexically against the remaining path (never escaping past the root). It
// does not stat p, does not require p to exist, and does not resolve
// symlinks — two different symlink chains that lexically clean to the same
// string are treated as the same path on purpose.
func Normalize(p string) (string, error) {
	if p == "" {
		return "", derrors.E("pathnorm.Normalize", derrors.ErrInvalidInput, nil, "empty path")
	}

	abs := p
	if !filepath.IsAbs(abs) {
		wd, err := os.Getwd()
		if err != nil {
			return "", derrors.E("pathnorm.Normalize", derrors.ErrIoError, err)
		}
		abs = filepath.Join(wd, abs)
	}

	return filepath.Clean(abs), nil
}

// MustNormalize is Normalize for callers that have already validated p and
// treat a failure as a programming error, such as normalizing a value that
// was itself produced by Normalize.
func MustNormalize(p string) string {
	n, err := Normalize(p)
	if err != nil {
		panic(err)
	}
	return n
}
