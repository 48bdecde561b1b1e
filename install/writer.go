package install

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/chunkinstall/core/logger"
	"github.com/chunkinstall/core/planner"
)

// DefaultWriter is the default C7 file writer: it applies a WriterTask
// stream against installDir. Writer tasks for a given file are guaranteed
// (by the coordinator, per the planner's own ordering guarantee) to arrive
// open, chunk writes in file_offset order, close, optional chmod — so the
// writer never seeks, it only appends to the currently open file.
type DefaultWriter struct {
	installDir string

	cur     *os.File
	curName string
	curHash hash.Hash
}

// NewDefaultWriter returns a writer rooted at installDir.
func NewDefaultWriter(installDir string) *DefaultWriter {
	return &DefaultWriter{installDir: installDir}
}

// Run drains tasks in order, applying each to disk, and sends one
// WriterResult per task to results. It returns when tasks closes, after
// closing any file left open by a missing CLOSE_FILE (which indicates the
// stream ended early, e.g. on shutdown).
func (w *DefaultWriter) Run(tasks <-chan WriterTask, results chan<- WriterResult) {
	defer func() {
		if w.cur != nil {
			w.cur.Close()
			w.cur = nil
		}
	}()

	for t := range tasks {
		results <- w.apply(t)
	}
}

func (w *DefaultWriter) apply(t WriterTask) WriterResult {
	switch {
	case t.Flags.Has(planner.FlagOpenFile):
		return w.open(t)
	case t.Flags.Has(planner.FlagCreateEmptyFile):
		return w.createEmpty(t)
	case t.Flags.Has(planner.FlagCloseFile):
		return w.closeCurrent(t)
	case t.Flags.Has(planner.FlagRenameFile):
		return w.rename(t)
	case t.Flags.Has(planner.FlagDeleteFile) && !t.Flags.Has(planner.FlagRenameFile):
		return w.delete(t)
	case t.Flags.Has(planner.FlagMakeExecutable):
		return w.chmodExecutable(t)
	default:
		return w.writeChunk(t)
	}
}

func (w *DefaultWriter) fullPath(name string) string {
	return filepath.Join(w.installDir, filepath.FromSlash(name))
}

func (w *DefaultWriter) open(t WriterTask) WriterResult {
	path := w.fullPath(t.FileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return WriterResult{FileName: t.FileName, Flags: t.Flags, Err: fmt.Errorf("install: mkdir for %s: %w", t.FileName, err)}
	}
	f, err := os.Create(path)
	if err != nil {
		return WriterResult{FileName: t.FileName, Flags: t.Flags, Err: fmt.Errorf("install: create %s: %w", t.FileName, err)}
	}
	w.cur = f
	w.curName = t.FileName
	w.curHash = sha1.New()
	return WriterResult{FileName: t.FileName, Flags: t.Flags, Success: true}
}

func (w *DefaultWriter) createEmpty(t WriterTask) WriterResult {
	path := w.fullPath(t.FileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return WriterResult{FileName: t.FileName, Flags: t.Flags, Err: fmt.Errorf("install: mkdir for %s: %w", t.FileName, err)}
	}
	f, err := os.Create(path)
	if err != nil {
		return WriterResult{FileName: t.FileName, Flags: t.Flags, Err: fmt.Errorf("install: create empty %s: %w", t.FileName, err)}
	}
	f.Close()
	return WriterResult{FileName: t.FileName, Flags: t.Flags, Success: true}
}

func (w *DefaultWriter) writeChunk(t WriterTask) WriterResult {
	if w.cur == nil || w.curName != t.FileName {
		return WriterResult{FileName: t.FileName, GUID: t.GUID, Flags: t.Flags, Err: fmt.Errorf("install: chunk write for %s with no file open", t.FileName)}
	}

	var src io.Reader
	switch {
	case t.HasSlot:
		if int(t.ChunkSize) > len(t.slotBytes) {
			return WriterResult{FileName: t.FileName, GUID: t.GUID, Flags: t.Flags, Err: fmt.Errorf("install: chunk size %d exceeds slot %d for %s", t.ChunkSize, len(t.slotBytes), t.FileName)}
		}
		src = bytes.NewReader(t.slotBytes[:t.ChunkSize])
	case t.SourcePath != "":
		f, err := os.Open(t.SourcePath)
		if err != nil {
			return WriterResult{FileName: t.FileName, GUID: t.GUID, Flags: t.Flags, Err: fmt.Errorf("install: open source %s: %w", t.SourcePath, err)}
		}
		defer f.Close()
		src = io.NewSectionReader(f, int64(t.SourceOffset), int64(t.ChunkSize))
	default:
		return WriterResult{FileName: t.FileName, GUID: t.GUID, Flags: t.Flags, Err: fmt.Errorf("install: chunk task for %s has neither slot nor source", t.FileName)}
	}

	n, err := io.Copy(io.MultiWriter(w.cur, w.curHash), src)
	if err != nil {
		return WriterResult{FileName: t.FileName, GUID: t.GUID, Flags: t.Flags, Err: fmt.Errorf("install: write chunk into %s: %w", t.FileName, err)}
	}
	return WriterResult{FileName: t.FileName, GUID: t.GUID, Size: n, Flags: t.Flags, Success: true, Slot: t.Slot, HasSlot: t.HasSlot}
}

func (w *DefaultWriter) closeCurrent(t WriterTask) WriterResult {
	var digest [20]byte
	if w.curHash != nil {
		copy(digest[:], w.curHash.Sum(nil))
	}
	if w.cur != nil {
		if err := w.cur.Close(); err != nil {
			w.cur = nil
			return WriterResult{FileName: t.FileName, Flags: t.Flags, Err: fmt.Errorf("install: close %s: %w", t.FileName, err)}
		}
	}
	w.cur = nil
	w.curName = ""
	w.curHash = nil
	return WriterResult{FileName: t.FileName, Flags: t.Flags, Success: true, SHA1: digest}
}

func (w *DefaultWriter) rename(t WriterTask) WriterResult {
	oldPath := w.fullPath(t.OldFile)
	newPath := w.fullPath(t.FileName)
	if err := os.Rename(oldPath, newPath); err != nil {
		return WriterResult{FileName: t.FileName, Flags: t.Flags, Err: fmt.Errorf("install: rename %s -> %s: %w", t.OldFile, t.FileName, err)}
	}
	return WriterResult{FileName: t.FileName, Flags: t.Flags, Success: true}
}

func (w *DefaultWriter) delete(t WriterTask) WriterResult {
	path := w.fullPath(t.FileName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return WriterResult{FileName: t.FileName, Flags: t.Flags, Err: fmt.Errorf("install: delete %s: %w", t.FileName, err)}
	}
	return WriterResult{FileName: t.FileName, Flags: t.Flags, Success: true}
}

func (w *DefaultWriter) chmodExecutable(t WriterTask) WriterResult {
	path := w.fullPath(t.FileName)
	if err := os.Chmod(path, 0o755); err != nil {
		logger.Warn("failed to mark file executable", "file", t.FileName, "error", err)
		return WriterResult{FileName: t.FileName, Flags: t.Flags, Err: fmt.Errorf("install: chmod %s: %w", t.FileName, err)}
	}
	return WriterResult{FileName: t.FileName, Flags: t.Flags, Success: true}
}
