package manifest

import (
	"bytes"
	"testing"
)

func sampleManifest() *Manifest {
	g1 := GUID{1, 0, 0, 1}
	g2 := GUID{1, 0, 0, 2}

	chunks := map[GUID]*ChunkInfo{
		g1: {GUID: g1, Hash: 0xaaaa, WindowSize: 1024, FileSize: 512},
		g2: {GUID: g2, Hash: 0xbbbb, WindowSize: 1024, FileSize: 600},
	}

	file := &FileManifest{
		FileName: "bin/game.exe",
		Flags:    FileFlagExecutable,
		ChunkParts: []ChunkPart{
			{GUID: g1, Offset: 0, Size: 1024},
			{GUID: g2, Offset: 0, Size: 1024},
		},
	}

	return &Manifest{
		ChunksByGUID: chunks,
		Files:        []*FileManifest{file},
		Custom:       CustomFields{"channel": "stable"},
		Meta: ManifestMeta{
			AppName:      "Example Game",
			BuildVersion: "1.0.0",
			LaunchExe:    "bin/game.exe",
		},
	}
}

func TestManifestRoundTripUncompressed(t *testing.T) {
	m := sampleManifest()
	data, err := m.Write(false)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(data)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if len(got.Files) != 1 || got.Files[0].FileName != "bin/game.exe" {
		t.Fatalf("unexpected files: %+v", got.Files)
	}
	if !got.Files[0].Executable() {
		t.Errorf("expected executable flag to round-trip")
	}
	if len(got.ChunksByGUID) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got.ChunksByGUID))
	}
	if got.Custom["channel"] != "stable" {
		t.Errorf("custom fields did not round-trip: %+v", got.Custom)
	}
	if got.Meta.AppName != "Example Game" {
		t.Errorf("meta did not round-trip: %+v", got.Meta)
	}
}

func TestManifestRoundTripCompressed(t *testing.T) {
	m := sampleManifest()
	data, err := m.Write(true)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(data)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got.Files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(got.Files))
	}
}

func TestManifestBadMagic(t *testing.T) {
	data := make([]byte, 41)
	_, err := Read(data)
	if err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestManifestHashMismatchOnCorruptedCompressedBody(t *testing.T) {
	m := sampleManifest()
	data, err := m.Write(true)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	// Flip a byte inside the compressed payload (after the 41-byte header).
	corrupted := append([]byte(nil), data...)
	corrupted[len(corrupted)-1] ^= 0xFF

	if _, err := Read(corrupted); err == nil {
		t.Fatal("expected error for corrupted compressed body")
	}
}

func TestHeaderSizeTruncationTolerance(t *testing.T) {
	m := sampleManifest()
	data, err := m.Write(false)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Splice in 4 extra zero bytes after the 41-byte header and bump
	// header_size from 41 to 45.
	patched := make([]byte, 0, len(data)+4)
	patched = append(patched, data[:4]...) // magic
	var headerSizeBuf [4]byte
	headerSizeBuf[0] = 45
	patched = append(patched, headerSizeBuf[:]...)
	patched = append(patched, data[8:defaultHeaderSize]...)
	patched = append(patched, 0, 0, 0, 0)
	patched = append(patched, data[defaultHeaderSize:]...)

	got, err := Read(patched)
	if err != nil {
		t.Fatalf("Read with padded header: %v", err)
	}
	if len(got.Files) != 1 {
		t.Fatalf("expected 1 file after tolerant header read, got %d", len(got.Files))
	}

	reserialized, err := got.Write(false)
	if err != nil {
		t.Fatalf("re-Write: %v", err)
	}
	if bytes.Equal(reserialized[:8], patched[:8]) {
		// header_size should be restored to 41 on re-serialization
		t.Errorf("expected re-serialized header_size to differ from padded input")
	}
}

// TestReadMetaSectionCanonicalLayout hand-builds a meta section using the
// canonical field order (data_version, feature_level, is_file_data, app_id,
// ..., build_id as an fstring) rather than going through writeMetaSection,
// so a regression that silently drifts reader and writer back into sync
// with each other - but away from the real on-disk format - still fails.
func TestReadMetaSectionCanonicalLayout(t *testing.T) {
	var body bytes.Buffer
	if err := writeU32(&body, 21); err != nil { // feature_level
		t.Fatal(err)
	}
	if err := writeU8(&body, 0); err != nil { // is_file_data
		t.Fatal(err)
	}
	if err := writeU32(&body, 777); err != nil { // app_id
		t.Fatal(err)
	}
	for _, s := range []string{"Game", "2.0", "game.exe", ""} { // app_name, build_version, launch_exe, launch_command
		if err := writeFString(&body, s); err != nil {
			t.Fatal(err)
		}
	}
	if err := writeU32(&body, 0); err != nil { // prereq_ids count
		t.Fatal(err)
	}
	for _, s := range []string{"", "", ""} { // prereq_name, prereq_path, prereq_args
		if err := writeFString(&body, s); err != nil {
			t.Fatal(err)
		}
	}
	wantBuildID := "AAAAAAAAAAAAAAAAAAAAAAAAAAA" // valid base64url-nopad, 20 decoded bytes
	if err := writeFString(&body, wantBuildID); err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"", ""} { // uninstall_action_path, uninstall_action_args
		if err := writeFString(&body, s); err != nil {
			t.Fatal(err)
		}
	}

	var section bytes.Buffer
	if err := writeU32(&section, uint32(4+1+body.Len())); err != nil {
		t.Fatal(err)
	}
	if err := writeU8(&section, 2); err != nil { // data_version 2: build_id + uninstall action present
		t.Fatal(err)
	}
	if _, err := section.Write(body.Bytes()); err != nil {
		t.Fatal(err)
	}

	meta, err := readMetaSection(bytes.NewReader(section.Bytes()))
	if err != nil {
		t.Fatalf("readMetaSection: %v", err)
	}
	if meta.FeatureLevel != 21 {
		t.Errorf("FeatureLevel = %d, want 21", meta.FeatureLevel)
	}
	if meta.IsFileData {
		t.Errorf("IsFileData = true, want false")
	}
	if meta.AppID != 777 {
		t.Errorf("AppID = %d, want 777", meta.AppID)
	}
	if meta.AppName != "Game" || meta.BuildVersion != "2.0" || meta.LaunchExe != "game.exe" {
		t.Errorf("unexpected identity fields: %+v", meta)
	}
	if meta.BuildID() != wantBuildID {
		t.Errorf("BuildID() = %q, want %q", meta.BuildID(), wantBuildID)
	}
}

func TestApplyDelta(t *testing.T) {
	base := sampleManifest()
	deltaFile := &FileManifest{FileName: "bin/game.exe", SHA1Hash: [20]byte{1}}
	newFile := &FileManifest{FileName: "bin/new.dll"}
	delta := &Manifest{
		Files:        []*FileManifest{deltaFile, newFile},
		ChunksByGUID: map[GUID]*ChunkInfo{},
	}

	merged := base.ApplyDelta(delta)
	if len(merged.Files) != 2 {
		t.Fatalf("expected 2 files after delta, got %d", len(merged.Files))
	}
	if merged.Files[0].SHA1Hash != deltaFile.SHA1Hash {
		t.Errorf("expected delta's file to replace base's file")
	}
	if merged.Files[1].FileName != "bin/new.dll" {
		t.Errorf("expected delta-only file to be appended")
	}
}
