package planner

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chunkinstall/core/logger"
	"github.com/chunkinstall/core/manifest"
)

const minMemoryHeadroom = 32 * 1024 * 1024

// chunkRange is a chunk-relative byte range already known to be resident
// somewhere on disk, used by both the old-file and written-file reuse
// passes.
type chunkRange struct {
	path         string // source file path this range was read from
	sourceOffset uint32 // offset within that source file
	chunkStart   uint32
	chunkEnd     uint32
}

// Plan runs the full installation planning algorithm described for C4:
// base diff, resume reconciliation, selection filtering, reference
// counting, disk-delta accounting, optional processing-order
// optimization, old-file and written-file reuse detection, task stream
// emission with cache simulation, and the memory guard.
func Plan(newManifest, oldManifest *manifest.Manifest, opts Options) (*Result, error) {
	cmp := manifest.Compare(newManifest, oldManifest)

	status := make(map[string]string, len(newManifest.Files))
	for _, f := range cmp.Added {
		status[f.FileName] = "added"
	}
	for _, f := range cmp.Changed {
		status[f.FileName] = "changed"
	}
	for _, f := range cmp.Unchanged {
		status[f.FileName] = "unchanged"
	}

	oldByName := make(map[string]*manifest.FileManifest)
	if oldManifest != nil {
		for _, f := range oldManifest.Files {
			oldByName[f.FileName] = f
		}
	}

	var biggestChunk uint32
	for _, c := range newManifest.ChunksByGUID {
		if c.WindowSize > biggestChunk {
			biggestChunk = c.WindowSize
		}
	}

	reconcileResume(newManifest, opts, status)

	deferredTagDeletions := applySelection(newManifest, opts, status)

	installSize := sumFileSizes(newManifest.Files, status, "added", "changed")

	references := make(map[manifest.GUID]int)
	for _, f := range newManifest.Files {
		if !inScope(status, f.FileName) {
			continue
		}
		for _, p := range f.ChunkParts {
			references[p.GUID]++
		}
	}

	diskSpaceDelta := computeDiskSpaceDelta(newManifest.Files, oldByName, status)

	workList := make([]*manifest.FileManifest, 0, len(newManifest.Files))
	for _, f := range newManifest.Files {
		if inScope(status, f.FileName) {
			workList = append(workList, f)
		}
	}
	if opts.ProcessingOptimization {
		workList = reorderForProcessing(workList)
	}

	res := &Result{
		InstallSize:  installSize,
		BiggestChunk: biggestChunk,
	}

	cached := make(map[manifest.GUID]bool)
	everCached := make(map[manifest.GUID]bool)
	dlQueueSeen := make(map[manifest.GUID]bool)
	written := make(map[manifest.GUID][]chunkRange)
	var currentCacheSize, lastCacheSize int64
	var reuseSize int64

	for _, f := range workList {
		if f.IsEmpty() {
			res.Tasks = append(res.Tasks, Task{File: &FileTask{
				FileName: f.FileName,
				Flags:    FlagCreateEmptyFile,
			}})
			continue
		}

		oldFile := oldByName[f.FileName]
		var existing map[manifest.GUID][]chunkRange
		if opts.Patch && status[f.FileName] == "changed" && oldFile != nil {
			existing = buildExistingRanges(oldFile)
		}

		type resolved struct {
			part         manifest.ChunkPart
			source       ChunkSource
			sourcePath   string
			sourceOffset uint32
			reused       bool
		}
		resolvedParts := make([]resolved, len(f.ChunkParts))
		anyTmp := false

		for i, p := range f.ChunkParts {
			rp := resolved{part: p, source: FromDownload}

			if existing != nil {
				if r, ok := findContaining(existing[p.GUID], p.Offset, p.Size); ok {
					rp.source = FromOldFile
					rp.sourcePath = r.path
					rp.sourceOffset = r.sourceOffset + (p.Offset - r.chunkStart)
					rp.reused = true
					anyTmp = true
				}
			}
			resolvedParts[i] = rp
		}

		destName := f.FileName
		if anyTmp {
			destName = f.FileName + ".tmp"
		}
		res.Tasks = append(res.Tasks, Task{File: &FileTask{FileName: destName, Flags: FlagOpenFile}})

		for i, rp := range resolvedParts {
			p := rp.part

			if !rp.reused && opts.ReadFiles {
				if entries, ok := written[p.GUID]; ok {
					if r, ok := findContaining(entries, p.Offset, p.Size); ok {
						rp.source = FromNewFile
						rp.sourcePath = r.path
						rp.sourceOffset = r.sourceOffset + (p.Offset - r.chunkStart)
						rp.reused = true
					}
				}
			}

			cleanup := false
			if rp.reused {
				reuseSize += int64(p.Size)
			} else {
				if !dlQueueSeen[p.GUID] {
					dlQueueSeen[p.GUID] = true
					res.ChunksInDownloadList = append(res.ChunksInDownloadList, p.GUID)
				}

				if references[p.GUID] > 1 || cached[p.GUID] {
					references[p.GUID]--
					if references[p.GUID] < 1 {
						currentCacheSize -= int64(biggestChunk)
						delete(cached, p.GUID)
						cleanup = true
					} else if !cached[p.GUID] {
						cached[p.GUID] = true
						everCached[p.GUID] = true
						currentCacheSize += int64(biggestChunk)
					}
				} else {
					cleanup = true
				}
			}

			res.Tasks = append(res.Tasks, Task{Chunk: &ChunkTask{
				ChunkGUID:    p.GUID,
				ChunkOffset:  p.Offset,
				ChunkSize:    p.Size,
				Source:       rp.source,
				SourcePath:   rp.sourcePath,
				SourceOffset: rp.sourceOffset,
				Cleanup:      cleanup,
			}})

			resolvedParts[i] = rp

			if lastCacheSize < currentCacheSize {
				lastCacheSize = currentCacheSize
			}
		}

		res.Tasks = append(res.Tasks, Task{File: &FileTask{FileName: destName, Flags: FlagCloseFile}})

		if anyTmp {
			res.Tasks = append(res.Tasks, Task{File: &FileTask{
				FileName: f.FileName,
				OldFile:  destName,
				Flags:    FlagRenameFile | FlagDeleteFile,
			}})
		}

		if opts.ReadFiles {
			for _, rp := range resolvedParts {
				written[rp.part.GUID] = append(written[rp.part.GUID], chunkRange{
					path:         f.FileName,
					sourceOffset: rp.part.FileOffset,
					chunkStart:   rp.part.Offset,
					chunkEnd:     rp.part.Offset + rp.part.Size,
				})
			}
		}

		if f.Executable() {
			res.Tasks = append(res.Tasks, Task{File: &FileTask{FileName: f.FileName, Flags: FlagMakeExecutable}})
		}
	}

	for _, f := range cmp.Unchanged {
		reuseSize += f.FileSize()
	}
	res.ReuseSize = reuseSize
	res.DiskSpaceDelta = diskSpaceDelta
	res.NumChunksCache = len(everCached)

	minMemory := lastCacheSize + minMemoryHeadroom
	res.MinMemory = minMemory
	if opts.SharedMemorySize > 0 && minMemory > opts.SharedMemorySize {
		return nil, &ErrInsufficientSharedMemory{
			Required:   minMemory,
			Suggested:  minMemory,
			Configured: opts.SharedMemorySize,
		}
	}

	for _, g := range res.ChunksInDownloadList {
		if c, ok := newManifest.ChunksByGUID[g]; ok {
			res.DownloadSize += c.FileSize
			res.UncompressedDownloadSize += int64(c.WindowSize)
		}
	}

	for _, f := range cmp.Removed {
		res.Tasks = append(res.Tasks, Task{File: &FileTask{FileName: f.FileName, Flags: FlagDeleteFile}})
	}
	res.Tasks = append(res.Tasks, deferredTagDeletions...)

	return res, nil
}

func inScope(status map[string]string, name string) bool {
	s := status[name]
	return s == "added" || s == "changed"
}

func sumFileSizes(files []*manifest.FileManifest, status map[string]string, buckets ...string) int64 {
	want := make(map[string]bool, len(buckets))
	for _, b := range buckets {
		want[b] = true
	}
	var total int64
	for _, f := range files {
		if want[status[f.FileName]] {
			total += f.FileSize()
		}
	}
	return total
}

// reconcileResume implements planner algorithm step 2: resume-journal
// reconciliation, falling back to a direct disk probe when no journal is
// configured or present, and degrading gracefully on a corrupt journal.
func reconcileResume(newManifest *manifest.Manifest, opts Options, status map[string]string) {
	if !opts.Resume {
		return
	}

	if opts.ResumeJournalPath != "" {
		entries, err := readJournal(opts.ResumeJournalPath)
		switch {
		case err == nil:
			for filename, hash := range entries {
				full := filepath.Join(opts.InstallDir, filename)
				if _, statErr := os.Stat(full); statErr != nil {
					continue // missing locally: will be redownloaded
				}
				nf := newManifest.FileByName(filename)
				if nf == nil {
					continue
				}
				if hex.EncodeToString(nf.SHA1Hash[:]) != hash {
					continue // hash mismatch: will be redownloaded
				}
				if status[filename] == "added" || status[filename] == "changed" {
					status[filename] = "unchanged"
				}
			}
			return
		case os.IsNotExist(err):
			// fall through to disk probe below
		default:
			logger.Warn("resume journal unreadable, continuing without it", "path", opts.ResumeJournalPath, "err", err)
			return
		}
	}

	for _, f := range newManifest.Files {
		if status[f.FileName] != "unchanged" && status[f.FileName] != "changed" {
			continue
		}
		full := filepath.Join(opts.InstallDir, f.FileName)
		if _, err := os.Stat(full); err != nil {
			status[f.FileName] = "added"
		}
	}
}

func readJournal(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n \t")
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		hash := line[:idx]
		filename := line[idx+1:]
		entries[filename] = hash
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("planner: scan resume journal: %w", err)
	}
	return entries, nil
}

// applySelection implements step 3: install-tag, exclude-filter,
// exclude-configured-glob and prefix-filter selection, in that order.
// Filtered-out files move from added/changed into unchanged; install-tag
// exclusions additionally generate a deferred DELETE_FILE|SILENT task.
func applySelection(newManifest *manifest.Manifest, opts Options, status map[string]string) []Task {
	var deferred []Task

	if len(opts.FileInstallTag) > 0 {
		for _, f := range newManifest.Files {
			if !inScope(status, f.FileName) {
				continue
			}
			if fileSelectedByTag(f, opts.FileInstallTag) {
				continue
			}
			status[f.FileName] = "unchanged"
			deferred = append(deferred, Task{File: &FileTask{
				FileName: f.FileName,
				Flags:    FlagDeleteFile | FlagSilent,
			}})
		}
	}

	if len(opts.FileExcludeFilter) > 0 {
		for _, f := range newManifest.Files {
			if inScope(status, f.FileName) && hasCaseInsensitivePrefix(f.FileName, opts.FileExcludeFilter) {
				status[f.FileName] = "unchanged"
			}
		}
	}

	if len(opts.FileExcludeConfigured) > 0 {
		for _, f := range newManifest.Files {
			if !inScope(status, f.FileName) {
				continue
			}
			for _, pattern := range opts.FileExcludeConfigured {
				if matchExcludeGlob(pattern, f.FileName) {
					status[f.FileName] = "unchanged"
					break
				}
			}
		}
	}

	if len(opts.FilePrefixFilter) > 0 {
		for _, f := range newManifest.Files {
			if inScope(status, f.FileName) && !hasCaseInsensitivePrefix(f.FileName, opts.FilePrefixFilter) {
				status[f.FileName] = "unchanged"
			}
		}
	}

	return deferred
}

func fileSelectedByTag(f *manifest.FileManifest, tagSet map[string]bool) bool {
	if len(f.InstallTag) == 0 {
		return tagSet[""]
	}
	for _, t := range f.InstallTag {
		if tagSet[t] {
			return true
		}
	}
	return false
}

// computeDiskSpaceDelta implements step 5: walk files in manifest order,
// accumulating a running temporary-disk-usage high-water mark.
func computeDiskSpaceDelta(files []*manifest.FileManifest, oldByName map[string]*manifest.FileManifest, status map[string]string) int64 {
	var tmpSize, maxTmpSize int64
	for _, f := range files {
		switch status[f.FileName] {
		case "added":
			tmpSize += f.FileSize()
		case "changed":
			tmpSize += f.FileSize()
			if old, ok := oldByName[f.FileName]; ok {
				tmpSize -= old.FileSize()
			}
		default:
			continue
		}
		if tmpSize > maxTmpSize {
			maxTmpSize = tmpSize
		}
	}
	return maxTmpSize
}

func buildExistingRanges(old *manifest.FileManifest) map[manifest.GUID][]chunkRange {
	existing := make(map[manifest.GUID][]chunkRange)
	for _, p := range old.ChunkParts {
		existing[p.GUID] = append(existing[p.GUID], chunkRange{
			path:         old.FileName,
			sourceOffset: p.FileOffset,
			chunkStart:   p.Offset,
			chunkEnd:     p.Offset + p.Size,
		})
	}
	return existing
}

func findContaining(ranges []chunkRange, offset, size uint32) (chunkRange, bool) {
	for _, r := range ranges {
		if r.chunkStart <= offset && offset+size <= r.chunkEnd {
			return r, true
		}
	}
	return chunkRange{}, false
}
