package manifest

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// ChunkPart describes a byte range of a chunk that contributes to a file.
// FileOffset is not stored on disk; the codec reconstructs it as a running
// accumulator over a file's parts while reading the FML chunk-parts block.
type ChunkPart struct {
	GUID       GUID
	Offset     uint32
	Size       uint32
	FileOffset uint32
}

// GUIDStr returns the canonical hyphenated string form of the part's chunk GUID.
func (p ChunkPart) GUIDStr() string {
	return p.GUID.String()
}

// StoredAs flags bit values for ChunkInfo.
const (
	StoredAsCompressed = 1 << 0
	StoredAsEncrypted  = 1 << 1
)

// ChunkInfo is one entry of the chunk data list (CDL): identity, storage
// metadata and the SHA-1 hash of its uncompressed payload.
type ChunkInfo struct {
	GUID        GUID
	Hash        uint64 // rolling/data hash, format-defined, not the SHA
	SHA1        [20]byte
	GroupNumRaw *uint8 // stored group number; the CDL reader always sets it, nil only for hand-built values
	WindowSize  uint32
	FileSize    int64
	StoredAs    uint8

	mu         sync.Mutex
	groupCache *uint8
}

// GroupNum returns the chunk's group number, using the stored value when
// present and otherwise falling back to crc32(guid) mod 100. The result is
// memoized behind the same accessor, matching the lazy-cached-property
// idiom the format's reference implementation uses for this field.
func (c *ChunkInfo) GroupNum() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.groupCache != nil {
		return *c.groupCache
	}
	var v uint8
	if c.GroupNumRaw != nil {
		v = *c.GroupNumRaw
	} else {
		v = crc32GroupNum(c.GUID)
	}
	c.groupCache = &v
	return v
}

// Compressed reports whether the chunk's on-disk body is zlib-compressed.
func (c *ChunkInfo) Compressed() bool {
	return c.StoredAs&StoredAsCompressed != 0
}

// Path returns the chunk's storage subpath relative to a base URL or chunk
// root directory: "<dir>/<group:02d>/<hash:016X>_<GUID-UPPER>.chunk".
func (c *ChunkInfo) Path(manifestVersion uint32) string {
	return fmt.Sprintf("%s/%02d/%016X_%s.chunk", ChunkDir(manifestVersion), c.GroupNum(), c.Hash, c.GUID.Upper())
}

// ChunkDir returns the storage subdirectory convention for the given
// manifest version (the header's version, Manifest.FeatureLevel):
// "ChunksV4", "ChunksV3", "ChunksV2" or "Chunks".
func ChunkDir(manifestVersion uint32) string {
	switch {
	case manifestVersion >= 15:
		return "ChunksV4"
	case manifestVersion >= 6:
		return "ChunksV3"
	case manifestVersion >= 3:
		return "ChunksV2"
	default:
		return "Chunks"
	}
}

// FileManifest flag bits.
const (
	FileFlagReadOnly   = 1 << 0
	FileFlagCompressed = 1 << 1
	FileFlagExecutable = 1 << 2
)

// FileManifest is one entry of the file manifest list (FML): a destination
// path, its flags, its ordered chunk parts, and optional per-format hash
// columns gated by feature level / FML version.
type FileManifest struct {
	FileName   string
	Flags      uint8
	InstallTag []string
	ChunkParts []ChunkPart
	SHA1Hash   [20]byte

	// Present only when the source manifest's FML section version is high
	// enough to include them (≥1 for MD5/MimeType, ≥2 for SHA-256).
	MD5Hash     *[16]byte
	MimeType    *string
	SHA256Hash  *[32]byte

	once     sync.Once
	fileSize int64
}

// ReadOnly reports whether the destination file should be created read-only.
func (f *FileManifest) ReadOnly() bool { return f.Flags&FileFlagReadOnly != 0 }

// CompressedFlag reports the format's per-file compression flag (informational;
// actual compression is tracked per-chunk via ChunkInfo.StoredAs).
func (f *FileManifest) CompressedFlag() bool { return f.Flags&FileFlagCompressed != 0 }

// Executable reports whether the destination file should be marked executable.
func (f *FileManifest) Executable() bool { return f.Flags&FileFlagExecutable != 0 }

// FileSize returns (and caches) the sum of all chunk part sizes.
func (f *FileManifest) FileSize() int64 {
	f.once.Do(func() {
		var total int64
		for _, p := range f.ChunkParts {
			total += int64(p.Size)
		}
		f.fileSize = total
	})
	return f.fileSize
}

// IsEmpty reports whether the file has zero chunk parts (a zero-byte file,
// still materialized on disk but requiring no download).
func (f *FileManifest) IsEmpty() bool { return len(f.ChunkParts) == 0 }

// CustomFields is the manifest's open-ended string/string map section.
type CustomFields map[string]string

// ManifestMeta carries build/version identity and launch metadata.
type ManifestMeta struct {
	FeatureLevel      uint32
	DataVersionRaw    uint32
	IsFileData        bool
	AppID             uint32
	AppName           string
	BuildVersion      string
	LaunchExe         string
	LaunchCommand     string
	PrereqIDs         []string
	PrereqName        string
	PrereqPath        string
	PrereqArgs        string
	UninstallActionPath string
	UninstallActionArgs string

	BuildIDRaw []byte // raw bytes backing the lazy-derived build id, if present
}

// BuildID returns the build id, using the stored value when present and
// otherwise deriving it as base64url_nopad(sha1(app_id || app_name ||
// build_version || launch_exe || launch_command)). Unlike the per-chunk
// group number, this is cheap enough to recompute on every call rather
// than memoize on a struct that gets copied by value during delta merges.
func (m *ManifestMeta) BuildID() string {
	if len(m.BuildIDRaw) > 0 {
		return encodeBuildID(m.BuildIDRaw)
	}
	h := sha1.New()
	var appID [4]byte
	binary.LittleEndian.PutUint32(appID[:], m.AppID)
	h.Write(appID[:])
	io.WriteString(h, m.AppName)
	io.WriteString(h, m.BuildVersion)
	io.WriteString(h, m.LaunchExe)
	io.WriteString(h, m.LaunchCommand)
	return encodeBuildID(h.Sum(nil))
}

func encodeBuildID(sum []byte) string {
	return base64.RawURLEncoding.EncodeToString(sum)
}

func decodeBuildID(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// Manifest is the decoded container: header-derived metadata, the chunk
// data list, the file manifest list and custom fields.
type Manifest struct {
	// FeatureLevel is the header's version; IsFileData and DataVersion are
	// copied from the meta section.
	FeatureLevel uint32
	IsFileData   bool
	DataVersion  uint32

	Meta         ManifestMeta
	ChunksByGUID map[GUID]*ChunkInfo
	Files        []*FileManifest
	Custom       CustomFields

	// chunkPathIndex maps a chunk GUID to the set of files that reference
	// it, built lazily the same way the reference implementation's CDL
	// keeps a guid->path index alongside its flat list.
	indexOnce     sync.Once
	chunkPathIdx  map[GUID][]string
}

// ChunksForPath returns (and lazily builds) the list of file paths that
// reference the given chunk GUID.
func (m *Manifest) ChunksForPath(g GUID) []string {
	m.indexOnce.Do(func() {
		m.chunkPathIdx = make(map[GUID][]string)
		for _, f := range m.Files {
			for _, p := range f.ChunkParts {
				m.chunkPathIdx[p.GUID] = append(m.chunkPathIdx[p.GUID], f.FileName)
			}
		}
	})
	return m.chunkPathIdx[g]
}

// FileByName returns the FileManifest with the given path, or nil.
func (m *Manifest) FileByName(name string) *FileManifest {
	for _, f := range m.Files {
		if f.FileName == name {
			return f
		}
	}
	return nil
}
