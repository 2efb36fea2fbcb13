// Package model defines the data model of the deldupes content index: path and
// file identifiers, file versions, and the closed set of version states.
package model

import "fmt"

// PathID identifies a unique normalized path string ever observed.
type PathID uint64

// FileID identifies a unique file version: a concrete (size, mtime, hash256)
// observation at some path.
type FileID uint64

// HashSize is the width of the authoritative content digest.
const HashSize = 32

// PrefixSize is the width of the informational prefix digest.
const PrefixSize = 20

// Hash256 is the 32-byte content digest that identifies a content group.
type Hash256 [HashSize]byte

// Prefix20 is the 20-byte prefix digest used for the informational prefix index.
type Prefix20 [PrefixSize]byte

// State is one of the closed set of states a file version can occupy.
type State byte

// The closed set of file version states.
const (
	Live     State = 0
	Replaced State = 1
	Missing  State = 2
)

// String renders a state for logs and CLI output.
func (s State) String() string {
	switch s {
	case Live:
		return "live"
	case Replaced:
		return "replaced"
	case Missing:
		return "missing"
	default:
		return fmt.Sprintf("state(%d)", byte(s))
	}
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case Live, Replaced, Missing:
		return true
	default:
		return false
	}
}

// FileMeta is the immutable-except-state record of one observed file version.
type FileMeta struct {
	Size        uint64
	MtimeSecs   uint64
	Hash256     Hash256
	HasPrefix   bool
	Sha1Prefix  Prefix20
	PathID      PathID
}

// MatchesIdentity reports whether the given (size, mtime) pair matches this
// version's recorded identity — the "identity shortcut" that lets the scan
// pipeline skip rehashing unchanged files.
func (m FileMeta) MatchesIdentity(size, mtimeSecs uint64) bool {
	return m.Size == size && m.MtimeSecs == mtimeSecs
}
