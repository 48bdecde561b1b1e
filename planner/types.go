// Package planner compares an old and new manifest, applies selection
// filters, detects resumable and reusable bytes, and emits an ordered task
// stream plus a sizing estimate for the installer coordinator to execute.
package planner

import (
	"fmt"

	"github.com/chunkinstall/core/manifest"
)

// TaskFlags is a bitset carried by FileTask and ChunkTask.
type TaskFlags uint16

const (
	FlagOpenFile TaskFlags = 1 << iota
	FlagCloseFile
	FlagDeleteFile
	FlagRenameFile
	FlagCreateEmptyFile
	FlagMakeExecutable
	FlagReleaseMemory
	FlagSilent
)

func (f TaskFlags) Has(bit TaskFlags) bool { return f&bit != 0 }

// ChunkSource identifies where a ChunkTask's bytes come from.
type ChunkSource int

const (
	FromDownload ChunkSource = iota
	FromOldFile
	FromNewFile
)

func (s ChunkSource) String() string {
	switch s {
	case FromDownload:
		return "download"
	case FromOldFile:
		return "old-file"
	case FromNewFile:
		return "new-file"
	default:
		return "unknown"
	}
}

// FileTask is a planner-emitted file-level operation.
type FileTask struct {
	FileName string
	OldFile  string // set for RENAME_FILE | DELETE_FILE tasks
	Flags    TaskFlags
}

// ChunkTask is a planner-emitted chunk-level operation against the file
// most recently opened by a preceding FileTask.
type ChunkTask struct {
	ChunkGUID   manifest.GUID
	ChunkOffset uint32
	ChunkSize   uint32
	Source      ChunkSource
	SourcePath  string // populated for FromOldFile/FromNewFile
	SourceOffset uint32
	Cleanup     bool
}

// Task is the union type the coordinator consumes in stream order: exactly
// one of File or Chunk is non-nil.
type Task struct {
	File  *FileTask
	Chunk *ChunkTask
}

// Options configures a single planning run.
type Options struct {
	Patch                  bool
	Resume                 bool
	ReadFiles              bool
	ProcessingOptimization bool

	FilePrefixFilter      []string // inclusive, case-insensitive
	FileExcludeFilter     []string // exclusive, case-insensitive
	FileExcludeConfigured []string // glob patterns, path-aware
	FileInstallTag        map[string]bool

	// ResumeJournalPath, when non-empty and Resume is true, is read for
	// reconciliation; a missing journal falls back to probing the disk
	// directly, and an unreadable one is logged and ignored.
	ResumeJournalPath string
	InstallDir        string

	// SharedMemorySize is the configured arena size in bytes, used by the
	// memory guard (step 10).
	SharedMemorySize int64
}

// Result is the planner's full output: the task stream plus sizing data
// for progress reporting and the memory guard.
type Result struct {
	Tasks []Task

	InstallSize          int64
	DiskSpaceDelta        int64
	DownloadSize          int64
	UncompressedDownloadSize int64
	ReuseSize             int64
	NumChunksCache         int
	BiggestChunk           uint32
	MinMemory              int64

	ChunksInDownloadList []manifest.GUID
}

// ErrInsufficientSharedMemory is returned by Plan when the configured arena
// is smaller than the cache high-water mark plus headroom.
type ErrInsufficientSharedMemory struct {
	Required   int64
	Suggested  int64
	Configured int64
}

func (e *ErrInsufficientSharedMemory) Error() string {
	return fmt.Sprintf("planner: insufficient shared memory: need at least %d bytes, configured %d, suggested %d",
		e.Required, e.Configured, e.Suggested)
}
