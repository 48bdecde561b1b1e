package manifest

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"

	"github.com/chunkinstall/core/logger"
)

const (
	headerMagic       = 0x44BEC00C
	defaultHeaderSize = 41

	// baseVersion is the minimum serialization version ever emitted; real
	// manifests rarely carry less, and the write path never downgrades
	// below it.
	baseVersion = 17
	maxVersion  = 21
)

var (
	// ErrBadMagic is returned when the header magic does not match.
	ErrBadMagic = errors.New("manifest: bad magic")
	// ErrHashMismatch is returned when the body SHA-1 does not match the header.
	ErrHashMismatch = errors.New("manifest: body sha1 mismatch")
)

type header struct {
	magic            uint32
	headerSize       uint32
	sizeUncompressed uint32
	sizeCompressed   uint32
	sha1             [20]byte
	storedAs         uint8
	version          uint32
}

func readHeader(r *bytes.Reader) (header, error) {
	var h header
	magic, err := readU32(r)
	if err != nil {
		return h, fmt.Errorf("manifest: read magic: %w", err)
	}
	if magic != headerMagic {
		return h, fmt.Errorf("%w: got 0x%08X", ErrBadMagic, magic)
	}
	h.magic = magic

	if h.headerSize, err = readU32(r); err != nil {
		return h, fmt.Errorf("manifest: read header_size: %w", err)
	}
	if h.sizeUncompressed, err = readU32(r); err != nil {
		return h, fmt.Errorf("manifest: read size_uncompressed: %w", err)
	}
	if h.sizeCompressed, err = readU32(r); err != nil {
		return h, fmt.Errorf("manifest: read size_compressed: %w", err)
	}
	sha, err := readBytes(r, 20)
	if err != nil {
		return h, fmt.Errorf("manifest: read sha1: %w", err)
	}
	copy(h.sha1[:], sha)
	if h.storedAs, err = readU8(r); err != nil {
		return h, fmt.Errorf("manifest: read stored_as: %w", err)
	}
	if h.version, err = readU32(r); err != nil {
		return h, fmt.Errorf("manifest: read version: %w", err)
	}

	// Header truncation tolerance: seek to the declared header size even
	// when it differs from the 41 bytes we know how to read.
	if int64(h.headerSize) != defaultHeaderSize {
		logger.Warn("manifest header_size differs from default, seeking past declared size",
			"declared", h.headerSize, "known", defaultHeaderSize)
	}
	if err := seekPast(r, int64(h.headerSize)); err != nil {
		return h, fmt.Errorf("manifest: seek past header: %w", err)
	}
	return h, nil
}

// Read parses a complete manifest container: header, optional zlib body,
// SHA-1 verification, and the four sections (Meta, CDL, FML, CustomFields).
func Read(data []byte) (*Manifest, error) {
	r := bytes.NewReader(data)
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	body, err := readBytes(r, int(h.sizeCompressed))
	if err != nil {
		return nil, fmt.Errorf("manifest: read body: %w", err)
	}

	if h.storedAs&StoredAsCompressed != 0 {
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("manifest: zlib open: %w", err)
		}
		inflated, err := io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("manifest: zlib inflate: %w", err)
		}
		sum := sha1.Sum(inflated)
		if sum != h.sha1 {
			return nil, ErrHashMismatch
		}
		body = inflated
	}

	if r.Len() > 0 {
		logger.Warn("manifest has trailing bytes after declared body size", "bytes", r.Len())
	}

	br := bytes.NewReader(body)

	m := &Manifest{
		FeatureLevel: h.version,
		ChunksByGUID: make(map[GUID]*ChunkInfo),
	}

	meta, err := readMetaSection(br)
	if err != nil {
		return nil, fmt.Errorf("manifest: read meta: %w", err)
	}
	m.Meta = meta
	m.IsFileData = meta.IsFileData
	m.DataVersion = meta.DataVersionRaw

	chunks, err := readCDLSection(br)
	if err != nil {
		return nil, fmt.Errorf("manifest: read cdl: %w", err)
	}
	for _, c := range chunks {
		m.ChunksByGUID[c.GUID] = c
	}

	files, err := readFMLSection(br)
	if err != nil {
		return nil, fmt.Errorf("manifest: read fml: %w", err)
	}
	m.Files = files

	custom, err := readCustomFieldsSection(br)
	if err != nil {
		return nil, fmt.Errorf("manifest: read custom fields: %w", err)
	}
	m.Custom = custom

	return m, nil
}

// sectionHeader is the common {size, version} prefix shared by all four
// body sections; callers additionally declare a `count` for CDL/FML.
type sectionHeader struct {
	start   int64
	size    uint32
	version uint8
}

func readSectionHeader(r *bytes.Reader) (sectionHeader, error) {
	start := posFrom(r)
	size, err := readU32(r)
	if err != nil {
		return sectionHeader{}, err
	}
	version, err := readU8(r)
	if err != nil {
		return sectionHeader{}, err
	}
	return sectionHeader{start: start, size: size, version: version}, nil
}

// finishSection seeks past the section's declared total size (measured
// from its start, including the {size,version} prefix itself) and warns
// plus downgrades the reported version to 0 if bytes beyond what was
// understood remain undeclared as known fields.
func finishSection(r *bytes.Reader, sh sectionHeader, name string, knewAll bool) uint8 {
	end := sh.start + int64(sh.size)
	cur := posFrom(r)
	if cur < end {
		if !knewAll {
			logger.Warn("manifest section carries unknown trailing fields, downgrading version", "section", name, "version", sh.version)
			sh.version = 0
		}
		if err := seekPast(r, end); err != nil {
			logger.Warn("manifest section size exceeds remaining body", "section", name, "err", err)
		}
	}
	return sh.version
}

func readMetaSection(r *bytes.Reader) (ManifestMeta, error) {
	sh, err := readSectionHeader(r)
	if err != nil {
		return ManifestMeta{}, err
	}

	var meta ManifestMeta
	dataVersion := uint32(sh.version)
	meta.DataVersionRaw = dataVersion

	if meta.FeatureLevel, err = readU32(r); err != nil {
		return meta, err
	}

	isFileData, err := readU8(r)
	if err != nil {
		return meta, err
	}
	meta.IsFileData = isFileData != 0

	if meta.AppID, err = readU32(r); err != nil {
		return meta, err
	}
	if meta.AppName, err = readFString(r); err != nil {
		return meta, err
	}
	if meta.BuildVersion, err = readFString(r); err != nil {
		return meta, err
	}
	if meta.LaunchExe, err = readFString(r); err != nil {
		return meta, err
	}
	if meta.LaunchCommand, err = readFString(r); err != nil {
		return meta, err
	}

	prereqCount, err := readU32(r)
	if err != nil {
		return meta, err
	}
	meta.PrereqIDs = make([]string, prereqCount)
	for i := range meta.PrereqIDs {
		if meta.PrereqIDs[i], err = readFString(r); err != nil {
			return meta, err
		}
	}
	if meta.PrereqName, err = readFString(r); err != nil {
		return meta, err
	}
	if meta.PrereqPath, err = readFString(r); err != nil {
		return meta, err
	}
	if meta.PrereqArgs, err = readFString(r); err != nil {
		return meta, err
	}

	if dataVersion >= 1 {
		buildID, err := readFString(r)
		if err != nil {
			return meta, err
		}
		if buildID != "" {
			raw, err := decodeBuildID(buildID)
			if err != nil {
				return meta, fmt.Errorf("manifest: decode build_id: %w", err)
			}
			meta.BuildIDRaw = raw
		}
	}

	knewAll := true
	if dataVersion >= 2 {
		if meta.UninstallActionPath, err = readFString(r); err != nil {
			return meta, err
		}
		if meta.UninstallActionArgs, err = readFString(r); err != nil {
			return meta, err
		}
	}
	if dataVersion > 2 {
		knewAll = false
	}

	newVersion := finishSection(r, sh, "meta", knewAll)
	meta.DataVersionRaw = uint32(newVersion)
	return meta, nil
}

func writeMetaSection(w *bytes.Buffer, meta *ManifestMeta) error {
	var body bytes.Buffer

	if err := writeU32(&body, meta.FeatureLevel); err != nil {
		return err
	}

	isFileData := uint8(0)
	if meta.IsFileData {
		isFileData = 1
	}
	if err := writeU8(&body, isFileData); err != nil {
		return err
	}
	if err := writeU32(&body, meta.AppID); err != nil {
		return err
	}
	if err := writeFString(&body, meta.AppName); err != nil {
		return err
	}
	if err := writeFString(&body, meta.BuildVersion); err != nil {
		return err
	}
	if err := writeFString(&body, meta.LaunchExe); err != nil {
		return err
	}
	if err := writeFString(&body, meta.LaunchCommand); err != nil {
		return err
	}
	if err := writeU32(&body, uint32(len(meta.PrereqIDs))); err != nil {
		return err
	}
	for _, id := range meta.PrereqIDs {
		if err := writeFString(&body, id); err != nil {
			return err
		}
	}
	if err := writeFString(&body, meta.PrereqName); err != nil {
		return err
	}
	if err := writeFString(&body, meta.PrereqPath); err != nil {
		return err
	}
	if err := writeFString(&body, meta.PrereqArgs); err != nil {
		return err
	}

	dataVersion := meta.DataVersionRaw
	if dataVersion >= 1 {
		if err := writeFString(&body, meta.BuildID()); err != nil {
			return err
		}
	}
	if dataVersion >= 2 {
		if err := writeFString(&body, meta.UninstallActionPath); err != nil {
			return err
		}
		if err := writeFString(&body, meta.UninstallActionArgs); err != nil {
			return err
		}
	}

	return writeSection(w, uint8(dataVersion), body.Bytes())
}

func writeSection(w *bytes.Buffer, version uint8, body []byte) error {
	total := uint32(4 + 1 + len(body))
	if err := writeU32(w, total); err != nil {
		return err
	}
	if err := writeU8(w, version); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func readCDLSection(r *bytes.Reader) ([]*ChunkInfo, error) {
	sh, err := readSectionHeader(r)
	if err != nil {
		return nil, err
	}
	count, err := readU32(r)
	if err != nil {
		return nil, err
	}

	chunks := make([]*ChunkInfo, count)
	for i := range chunks {
		chunks[i] = &ChunkInfo{}
	}
	for i := range chunks {
		g, err := readGUID(r)
		if err != nil {
			return nil, err
		}
		chunks[i].GUID = g
	}
	for i := range chunks {
		h, err := readU64(r)
		if err != nil {
			return nil, err
		}
		chunks[i].Hash = h
	}
	for i := range chunks {
		sha, err := readBytes(r, 20)
		if err != nil {
			return nil, err
		}
		copy(chunks[i].SHA1[:], sha)
	}
	for i := range chunks {
		g, err := readU8(r)
		if err != nil {
			return nil, err
		}
		v := g
		chunks[i].GroupNumRaw = &v
	}
	for i := range chunks {
		ws, err := readU32(r)
		if err != nil {
			return nil, err
		}
		chunks[i].WindowSize = ws
	}
	for i := range chunks {
		fs, err := readI64(r)
		if err != nil {
			return nil, err
		}
		chunks[i].FileSize = fs
	}

	finishSection(r, sh, "cdl", true)
	return chunks, nil
}

func writeCDLSection(w *bytes.Buffer, chunks []*ChunkInfo) error {
	var body bytes.Buffer
	if err := writeU32(&body, uint32(len(chunks))); err != nil {
		return err
	}
	for _, c := range chunks {
		if err := writeGUID(&body, c.GUID); err != nil {
			return err
		}
	}
	for _, c := range chunks {
		if err := writeU64(&body, c.Hash); err != nil {
			return err
		}
	}
	for _, c := range chunks {
		if _, err := body.Write(c.SHA1[:]); err != nil {
			return err
		}
	}
	for _, c := range chunks {
		if err := writeU8(&body, c.GroupNum()); err != nil {
			return err
		}
	}
	for _, c := range chunks {
		if err := writeU32(&body, c.WindowSize); err != nil {
			return err
		}
	}
	for _, c := range chunks {
		if err := writeI64(&body, c.FileSize); err != nil {
			return err
		}
	}
	return writeSection(w, 0, body.Bytes())
}

func readFMLSection(r *bytes.Reader) ([]*FileManifest, error) {
	sh, err := readSectionHeader(r)
	if err != nil {
		return nil, err
	}
	count, err := readU32(r)
	if err != nil {
		return nil, err
	}

	files := make([]*FileManifest, count)
	for i := range files {
		files[i] = &FileManifest{}
	}

	for i := range files {
		if files[i].FileName, err = readFString(r); err != nil {
			return nil, err
		}
	}
	symlinkTargets := make([]string, count)
	for i := range files {
		if symlinkTargets[i], err = readFString(r); err != nil {
			return nil, err
		}
	}
	for i := range files {
		sha, err := readBytes(r, 20)
		if err != nil {
			return nil, err
		}
		copy(files[i].SHA1Hash[:], sha)
	}
	for i := range files {
		flags, err := readU8(r)
		if err != nil {
			return nil, err
		}
		files[i].Flags = flags
	}
	for i := range files {
		tagCount, err := readU32(r)
		if err != nil {
			return nil, err
		}
		tags := make([]string, tagCount)
		for j := range tags {
			if tags[j], err = readFString(r); err != nil {
				return nil, err
			}
		}
		files[i].InstallTag = tags
	}

	for i := range files {
		partCount, err := readU32(r)
		if err != nil {
			return nil, err
		}
		parts := make([]ChunkPart, partCount)
		var fileOffset uint32
		for j := range parts {
			sizeLiteral, err := readU32(r)
			if err != nil {
				return nil, err
			}
			if sizeLiteral != 28 {
				logger.Warn("chunk part size literal is not 28", "got", sizeLiteral)
			}
			g, err := readGUID(r)
			if err != nil {
				return nil, err
			}
			offset, err := readU32(r)
			if err != nil {
				return nil, err
			}
			size, err := readU32(r)
			if err != nil {
				return nil, err
			}
			parts[j] = ChunkPart{GUID: g, Offset: offset, Size: size, FileOffset: fileOffset}
			fileOffset += size
		}
		files[i].ChunkParts = parts
	}

	knewAll := true
	if sh.version >= 1 {
		for i := range files {
			hasMD5, err := readU32(r)
			if err != nil {
				return nil, err
			}
			if hasMD5 != 0 {
				raw, err := readBytes(r, 16)
				if err != nil {
					return nil, err
				}
				var md5 [16]byte
				copy(md5[:], raw)
				files[i].MD5Hash = &md5
			}
		}
		for i := range files {
			mt, err := readFString(r)
			if err != nil {
				return nil, err
			}
			files[i].MimeType = &mt
		}
	}
	if sh.version >= 2 {
		for i := range files {
			raw, err := readBytes(r, 32)
			if err != nil {
				return nil, err
			}
			var sha256 [32]byte
			copy(sha256[:], raw)
			files[i].SHA256Hash = &sha256
		}
	}
	if sh.version > 2 {
		knewAll = false
	}

	finishSection(r, sh, "fml", knewAll)
	return files, nil
}

func writeFMLSection(w *bytes.Buffer, files []*FileManifest) error {
	version := uint8(0)
	for _, f := range files {
		if f.SHA256Hash != nil {
			version = 2
		} else if version < 1 && (f.MD5Hash != nil || f.MimeType != nil) {
			version = 1
		}
	}

	var body bytes.Buffer
	if err := writeU32(&body, uint32(len(files))); err != nil {
		return err
	}
	for _, f := range files {
		if err := writeFString(&body, f.FileName); err != nil {
			return err
		}
	}
	for range files {
		if err := writeFString(&body, ""); err != nil { // symlink_target: always empty, no symlink support
			return err
		}
	}
	for _, f := range files {
		if _, err := body.Write(f.SHA1Hash[:]); err != nil {
			return err
		}
	}
	for _, f := range files {
		if err := writeU8(&body, f.Flags); err != nil {
			return err
		}
	}
	for _, f := range files {
		if err := writeU32(&body, uint32(len(f.InstallTag))); err != nil {
			return err
		}
		for _, tag := range f.InstallTag {
			if err := writeFString(&body, tag); err != nil {
				return err
			}
		}
	}
	for _, f := range files {
		if err := writeU32(&body, uint32(len(f.ChunkParts))); err != nil {
			return err
		}
		for _, p := range f.ChunkParts {
			if err := writeU32(&body, 28); err != nil {
				return err
			}
			if err := writeGUID(&body, p.GUID); err != nil {
				return err
			}
			if err := writeU32(&body, p.Offset); err != nil {
				return err
			}
			if err := writeU32(&body, p.Size); err != nil {
				return err
			}
		}
	}

	if version >= 1 {
		for _, f := range files {
			if f.MD5Hash != nil {
				if err := writeU32(&body, 1); err != nil {
					return err
				}
				if _, err := body.Write(f.MD5Hash[:]); err != nil {
					return err
				}
			} else if err := writeU32(&body, 0); err != nil {
				return err
			}
		}
		for _, f := range files {
			mt := ""
			if f.MimeType != nil {
				mt = *f.MimeType
			}
			if err := writeFString(&body, mt); err != nil {
				return err
			}
		}
	}
	if version >= 2 {
		for _, f := range files {
			var sha256 [32]byte
			if f.SHA256Hash != nil {
				sha256 = *f.SHA256Hash
			}
			if _, err := body.Write(sha256[:]); err != nil {
				return err
			}
		}
	}

	return writeSection(w, version, body.Bytes())
}

func readCustomFieldsSection(r *bytes.Reader) (CustomFields, error) {
	sh, err := readSectionHeader(r)
	if err != nil {
		return nil, err
	}
	count, err := readU32(r)
	if err != nil {
		return nil, err
	}
	keys := make([]string, count)
	for i := range keys {
		if keys[i], err = readFString(r); err != nil {
			return nil, err
		}
	}
	values := make([]string, count)
	for i := range values {
		if values[i], err = readFString(r); err != nil {
			return nil, err
		}
	}

	finishSection(r, sh, "custom", true)

	fields := make(CustomFields, count)
	for i, k := range keys {
		fields[k] = values[i]
	}
	return fields, nil
}

func writeCustomFieldsSection(w *bytes.Buffer, fields CustomFields) error {
	var body bytes.Buffer
	if err := writeU32(&body, uint32(len(fields))); err != nil {
		return err
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	for _, k := range keys {
		if err := writeFString(&body, k); err != nil {
			return err
		}
	}
	for _, k := range keys {
		if err := writeFString(&body, fields[k]); err != nil {
			return err
		}
	}
	return writeSection(w, 0, body.Bytes())
}

// Write serializes the manifest, selecting the target feature level from
// the presence of optional fields and wrapping the body in zlib when
// compress is true.
func (m *Manifest) Write(compress bool) ([]byte, error) {
	target := uint32(baseVersion)
	if m.Meta.DataVersionRaw >= 1 {
		target = max32(target, 18)
	}
	fmlVersion := fmlTargetVersion(m.Files)
	if fmlVersion >= 1 {
		target = max32(target, 19)
	}
	if fmlVersion >= 2 {
		target = max32(target, 20)
	}
	if m.Meta.DataVersionRaw >= 2 {
		target = max32(target, 21)
	}
	if target > maxVersion {
		logger.Warn("manifest target version clamped", "computed", target, "max", maxVersion)
		target = maxVersion
	}
	m.Meta.FeatureLevel = target

	var body bytes.Buffer
	if err := writeMetaSection(&body, &m.Meta); err != nil {
		return nil, fmt.Errorf("manifest: write meta: %w", err)
	}

	chunks := make([]*ChunkInfo, 0, len(m.ChunksByGUID))
	for _, c := range m.ChunksByGUID {
		chunks = append(chunks, c)
	}
	if err := writeCDLSection(&body, chunks); err != nil {
		return nil, fmt.Errorf("manifest: write cdl: %w", err)
	}
	if err := writeFMLSection(&body, m.Files); err != nil {
		return nil, fmt.Errorf("manifest: write fml: %w", err)
	}
	if err := writeCustomFieldsSection(&body, m.Custom); err != nil {
		return nil, fmt.Errorf("manifest: write custom fields: %w", err)
	}

	raw := body.Bytes()
	sum := sha1.Sum(raw)

	var h header
	h.magic = headerMagic
	h.headerSize = defaultHeaderSize
	h.sizeUncompressed = uint32(len(raw))
	h.sha1 = sum
	h.version = target

	payload := raw
	if compress {
		var compressed bytes.Buffer
		zw := zlib.NewWriter(&compressed)
		if _, err := zw.Write(raw); err != nil {
			return nil, fmt.Errorf("manifest: zlib write: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("manifest: zlib close: %w", err)
		}
		payload = compressed.Bytes()
		h.storedAs = StoredAsCompressed
	}
	h.sizeCompressed = uint32(len(payload))

	var out bytes.Buffer
	if err := writeU32(&out, h.magic); err != nil {
		return nil, err
	}
	if err := writeU32(&out, h.headerSize); err != nil {
		return nil, err
	}
	if err := writeU32(&out, h.sizeUncompressed); err != nil {
		return nil, err
	}
	if err := writeU32(&out, h.sizeCompressed); err != nil {
		return nil, err
	}
	if _, err := out.Write(h.sha1[:]); err != nil {
		return nil, err
	}
	if err := writeU8(&out, h.storedAs); err != nil {
		return nil, err
	}
	if err := writeU32(&out, h.version); err != nil {
		return nil, err
	}
	if _, err := out.Write(payload); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func fmlTargetVersion(files []*FileManifest) uint8 {
	v := uint8(0)
	for _, f := range files {
		if f.SHA256Hash != nil {
			return 2
		}
		if f.MD5Hash != nil || f.MimeType != nil {
			v = 1
		}
	}
	return v
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// ApplyDelta replaces each of the base manifest's files whose name appears
// in delta with delta's version, appends delta files not present in base,
// and merges in any chunk unknown to base. Internal lookup maps are
// invalidated so subsequent queries rebuild them lazily.
func (m *Manifest) ApplyDelta(delta *Manifest) *Manifest {
	out := &Manifest{
		FeatureLevel: m.FeatureLevel,
		IsFileData:   m.IsFileData,
		DataVersion:  m.DataVersion,
		Meta:         m.Meta,
		Custom:       m.Custom,
		ChunksByGUID: make(map[GUID]*ChunkInfo, len(m.ChunksByGUID)),
	}
	for g, c := range m.ChunksByGUID {
		out.ChunksByGUID[g] = c
	}

	byName := make(map[string]*FileManifest, len(delta.Files))
	for _, f := range delta.Files {
		byName[f.FileName] = f
	}

	seen := make(map[string]bool, len(m.Files))
	for _, f := range m.Files {
		if replacement, ok := byName[f.FileName]; ok {
			out.Files = append(out.Files, replacement)
		} else {
			out.Files = append(out.Files, f)
		}
		seen[f.FileName] = true
	}
	for _, f := range delta.Files {
		if !seen[f.FileName] {
			out.Files = append(out.Files, f)
		}
	}

	for g, c := range delta.ChunksByGUID {
		if _, ok := out.ChunksByGUID[g]; !ok {
			out.ChunksByGUID[g] = c
		}
	}

	return out
}
