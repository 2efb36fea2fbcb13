// Package hashing implements the content-hashing policy of §4.I: a BLAKE3-256
// authoritative content digest over the whole file, plus an informational
// SHA-1 digest over the first PrefixThreshold bytes for files large enough to
// benefit from a cheap pre-filter before a full read.
package hashing

import (
	"crypto/sha1"
	"io"

	"lukechampine.com/blake3"

	derrors "github.com/jgaa/deldupes/internal/common/errors"
	"github.com/jgaa/deldupes/internal/model"
)

// DefaultPrefixThreshold is the size above which a prefix digest is also
// computed (§3, §4.I). Files at or below this size gain nothing from a
// prefix filter since the full hash is already cheap.
const DefaultPrefixThreshold = 32 * 1024

// Result is the output of hashing one file.
type Result struct {
	Size       uint64
	Hash256    model.Hash256
	HasPrefix  bool
	Sha1Prefix model.Prefix20
}

// Hasher computes the digests for a file's content policy.
type Hasher interface {
	// Hash reads r to EOF, returning the content digest and, if the file
	// is larger than the configured threshold, the prefix digest over its
	// first PrefixThreshold bytes.
	Hash(r io.Reader) (Result, error)
}

// Blake3SHA1 is the default Hasher, grounded on the BLAKE3 implementation
// already present in the reference stack. It reads the stream once,
// snapshotting the SHA-1 prefix state at PrefixThreshold bytes rather than
// re-reading the head of the file a second time.
type Blake3SHA1 struct {
	PrefixThreshold int64
}

// NewBlake3SHA1 returns a Blake3SHA1 hasher using DefaultPrefixThreshold.
func NewBlake3SHA1() *Blake3SHA1 {
	return &Blake3SHA1{PrefixThreshold: DefaultPrefixThreshold}
}

func (h *Blake3SHA1) threshold() int64 {
	if h.PrefixThreshold > 0 {
		return h.PrefixThreshold
	}
	return DefaultPrefixThreshold
}

// Hash implements Hasher.
func (h *Blake3SHA1) Hash(r io.Reader) (Result, error) {
	content := blake3.New(32, nil)
	prefix := sha1.New()

	threshold := h.threshold()
	var read int64
	buf := make([]byte, 64*1024)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, werr := content.Write(chunk); werr != nil {
				return Result{}, derrors.E("hashing.Hash", derrors.ErrIoError, werr)
			}
			if read < threshold {
				remain := threshold - read
				if int64(len(chunk)) > remain {
					prefix.Write(chunk[:remain])
				} else {
					prefix.Write(chunk)
				}
			}
			read += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, derrors.E("hashing.Hash", derrors.ErrIoError, err)
		}
	}

	res := Result{Size: uint64(read)}
	copy(res.Hash256[:], content.Sum(nil))

	if read > threshold {
		res.HasPrefix = true
		copy(res.Sha1Prefix[:], prefix.Sum(nil))
	}

	return res, nil
}
