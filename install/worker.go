// Package install implements the coordinator (C6) that drives the download
// and write workers against a planner task stream, and the resume journal
// (C8) that lets a later run skip files already committed to disk.
//
// The download worker and file writer are external collaborators: install
// only depends on the narrow contracts below (DownloadTask/DownloadResult,
// WriterTask/WriterResult). Concrete implementations live in package fetch
// (the HTTP download worker) and in this package's DefaultWriter.
package install

import (
	"github.com/chunkinstall/core/manifest"
	"github.com/chunkinstall/core/planner"
	"github.com/chunkinstall/core/pool"
)

// DownloadTask is handed to a download worker: fetch the chunk identified by
// GUID from URL and decompress it into Slot.
type DownloadTask struct {
	URL  string
	GUID manifest.GUID
	Slot pool.Slot
}

// DownloadResult is a download worker's report. On failure Err is non-nil
// and Task carries the original input so the coordinator can resubmit it
// unchanged.
type DownloadResult struct {
	Task             DownloadTask
	Success          bool
	SizeDownloaded   int64
	SizeDecompressed int64
	Err              error
}

// WriterTask is one operation sent to the file writer. Exactly one of the
// embedded shapes is meaningful, selected by Flags:
//   - a FileTask-shaped operation (OPEN/CLOSE/DELETE/RENAME/CREATE_EMPTY/MAKE_EXECUTABLE)
//   - a chunk write: FileName plus ChunkOffset/ChunkSize/GUID and one of
//     Slot (download-sourced) or SourcePath (old/new-file-sourced) set.
type WriterTask struct {
	FileName string
	OldFile  string
	Flags    planner.TaskFlags

	GUID         manifest.GUID
	ChunkOffset  uint32
	ChunkSize    uint32
	Slot         pool.Slot
	HasSlot      bool
	slotBytes    []byte // resolved by the coordinator via pool.Bytes(Slot)
	SourcePath   string
	SourceOffset uint32
}

// WriterResult is the file writer's report for one WriterTask. SHA1 is
// populated on a CLOSE_FILE result with the digest accumulated while
// writing the file, for the write-result handler's journal append. Slot and
// HasSlot echo back a download-sourced chunk write's slot so the
// write-result handler can release it on RELEASE_MEMORY.
type WriterResult struct {
	FileName string
	GUID     manifest.GUID
	Size     int64
	Flags    planner.TaskFlags
	Success  bool
	SHA1     [20]byte
	Slot     pool.Slot
	HasSlot  bool
	Err      error
}

// Workers are terminated by closing their job channel rather than by a
// sentinel value — the download worker pool and the writer goroutine both
// range over their channel and return when it closes.
