// Package codec implements the fixed, versioned, little-endian byte layouts
// for every record persisted by the index repository (§4.B). Every encoded
// record begins with a one-byte schema-version tag; decoders reject any
// record whose tag exceeds the version this binary understands rather than
// attempting a best-effort decode of an unknown layout.
package codec

import (
	"encoding/binary"
	"fmt"

	derrors "github.com/jgaa/deldupes/internal/common/errors"
	"github.com/jgaa/deldupes/internal/model"
)

// Current record-version tags. Bumping one of these is a schema change: the
// decoder for that record type must keep understanding older tags it still
// accepts, or refuse them explicitly.
const (
	VersionFileMeta     byte = 1
	VersionIDList       byte = 1
	VersionPathCurrent  byte = 1
	VersionFileState    byte = 1
	VersionDatabaseMeta byte = 1
)

func errTruncated(what string) error {
	return derrors.E("codec", derrors.ErrCorruptRecord, fmt.Errorf("%s: truncated record", what))
}

func errVersion(what string, got, max byte) error {
	return derrors.E("codec", derrors.ErrCorruptRecord,
		fmt.Errorf("%s: unsupported record version %d (max understood %d)", what, got, max))
}

// EncodeFileMeta renders m as:
// [ver:1][size:8][mtime_secs:8][hash256:32][has_prefix:1][sha1_prefix:0 or 20][path_id:8]
func EncodeFileMeta(m model.FileMeta) []byte {
	size := 1 + 8 + 8 + model.HashSize + 1 + 8
	if m.HasPrefix {
		size += model.PrefixSize
	}
	buf := make([]byte, 0, size)
	buf = append(buf, VersionFileMeta)
	buf = binary.LittleEndian.AppendUint64(buf, m.Size)
	buf = binary.LittleEndian.AppendUint64(buf, m.MtimeSecs)
	buf = append(buf, m.Hash256[:]...)
	if m.HasPrefix {
		buf = append(buf, 1)
		buf = append(buf, m.Sha1Prefix[:]...)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.PathID))
	return buf
}

// DecodeFileMeta parses the layout written by EncodeFileMeta.
func DecodeFileMeta(b []byte) (model.FileMeta, error) {
	var m model.FileMeta
	if len(b) < 1 {
		return m, errTruncated("FileMeta")
	}
	ver := b[0]
	if ver > VersionFileMeta {
		return m, errVersion("FileMeta", ver, VersionFileMeta)
	}
	b = b[1:]

	if len(b) < 8+8+model.HashSize+1 {
		return m, errTruncated("FileMeta")
	}
	m.Size = binary.LittleEndian.Uint64(b[0:8])
	m.MtimeSecs = binary.LittleEndian.Uint64(b[8:16])
	copy(m.Hash256[:], b[16:16+model.HashSize])
	b = b[16+model.HashSize:]

	hasPrefix := b[0]
	b = b[1:]
	switch hasPrefix {
	case 0:
		m.HasPrefix = false
	case 1:
		if len(b) < model.PrefixSize {
			return m, errTruncated("FileMeta prefix")
		}
		m.HasPrefix = true
		copy(m.Sha1Prefix[:], b[:model.PrefixSize])
		b = b[model.PrefixSize:]
	default:
		return m, errTruncated("FileMeta has_prefix flag")
	}

	if len(b) < 8 {
		return m, errTruncated("FileMeta path_id")
	}
	m.PathID = model.PathID(binary.LittleEndian.Uint64(b[0:8]))

	return m, nil
}

// EncodeIDList renders a sorted, de-duplicated list of file ids as:
// [ver:1][count:varint][file_id:8]×count
// Used for both ContentGroup and PrefixGroup values, which share this shape.
func EncodeIDList(ids []model.FileID) []byte {
	buf := make([]byte, 0, 1+binary.MaxVarintLen64+len(ids)*8)
	buf = append(buf, VersionIDList)
	buf = binary.AppendUvarint(buf, uint64(len(ids)))
	for _, id := range ids {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(id))
	}
	return buf
}

// DecodeIDList parses the layout written by EncodeIDList.
func DecodeIDList(b []byte) ([]model.FileID, error) {
	if len(b) < 1 {
		return nil, errTruncated("IDList")
	}
	ver := b[0]
	if ver > VersionIDList {
		return nil, errVersion("IDList", ver, VersionIDList)
	}
	b = b[1:]

	count, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, errTruncated("IDList count")
	}
	b = b[n:]

	if uint64(len(b)) < count*8 {
		return nil, errTruncated("IDList ids")
	}

	ids := make([]model.FileID, 0, count)
	for i := uint64(0); i < count; i++ {
		ids = append(ids, model.FileID(binary.LittleEndian.Uint64(b[i*8:i*8+8])))
	}
	return ids, nil
}

// EncodePathCurrent renders [ver:1][file_id:8].
func EncodePathCurrent(f model.FileID) []byte {
	buf := make([]byte, 0, 9)
	buf = append(buf, VersionPathCurrent)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(f))
	return buf
}

// DecodePathCurrent parses the layout written by EncodePathCurrent.
func DecodePathCurrent(b []byte) (model.FileID, error) {
	if len(b) < 1 {
		return 0, errTruncated("PathCurrent")
	}
	ver := b[0]
	if ver > VersionPathCurrent {
		return 0, errVersion("PathCurrent", ver, VersionPathCurrent)
	}
	b = b[1:]
	if len(b) < 8 {
		return 0, errTruncated("PathCurrent")
	}
	return model.FileID(binary.LittleEndian.Uint64(b[0:8])), nil
}

// EncodeFileState renders [ver:1][state:1].
func EncodeFileState(s model.State) []byte {
	return []byte{VersionFileState, byte(s)}
}

// DecodeFileState parses the layout written by EncodeFileState.
func DecodeFileState(b []byte) (model.State, error) {
	if len(b) < 2 {
		return 0, errTruncated("FileState")
	}
	ver := b[0]
	if ver > VersionFileState {
		return 0, errVersion("FileState", ver, VersionFileState)
	}
	s := model.State(b[1])
	if !s.Valid() {
		return 0, derrors.E("codec", derrors.ErrCorruptRecord, fmt.Errorf("unknown file state %d", b[1]))
	}
	return s, nil
}

// DatabaseMeta is the database-level descriptor written once at creation and
// validated on every open (§4.H). It pins the schema version and the hashing
// algorithm pair so a binary built for a different hash policy refuses to
// open (and thereby silently corrupt) an existing index.
type DatabaseMeta struct {
	SchemaVersion   byte
	HashAlgo        byte // identifies the content-hash algorithm
	PrefixAlgo      byte // identifies the prefix-hash algorithm
	PrefixThreshold uint64
	CreatedUnix     uint64
}

// Hash/prefix algorithm identifiers recorded in DatabaseMeta.
const (
	HashAlgoBlake3 byte = 1
	PrefixAlgoSHA1 byte = 1
)

// EncodeDatabaseMeta renders:
// [ver:1][schema_version:1][hash_algo:1][prefix_algo:1][prefix_threshold:8][created_unix:8]
func EncodeDatabaseMeta(m DatabaseMeta) []byte {
	buf := make([]byte, 0, 1+1+1+1+8+8)
	buf = append(buf, VersionDatabaseMeta)
	buf = append(buf, m.SchemaVersion, m.HashAlgo, m.PrefixAlgo)
	buf = binary.LittleEndian.AppendUint64(buf, m.PrefixThreshold)
	buf = binary.LittleEndian.AppendUint64(buf, m.CreatedUnix)
	return buf
}

// DecodeDatabaseMeta parses the layout written by EncodeDatabaseMeta.
func DecodeDatabaseMeta(b []byte) (DatabaseMeta, error) {
	var m DatabaseMeta
	if len(b) < 1 {
		return m, errTruncated("DatabaseMeta")
	}
	ver := b[0]
	if ver > VersionDatabaseMeta {
		return m, errVersion("DatabaseMeta", ver, VersionDatabaseMeta)
	}
	b = b[1:]
	if len(b) < 3+8+8 {
		return m, errTruncated("DatabaseMeta")
	}
	m.SchemaVersion = b[0]
	m.HashAlgo = b[1]
	m.PrefixAlgo = b[2]
	b = b[3:]
	m.PrefixThreshold = binary.LittleEndian.Uint64(b[0:8])
	m.CreatedUnix = binary.LittleEndian.Uint64(b[8:16])
	return m, nil
}
