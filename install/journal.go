package install

import (
	"bufio"
	"encoding/hex"
	"os"
	"strings"
	"sync"

	"github.com/chunkinstall/core/logger"
)

// Journal is the append-only resume journal (C8): one "hex_sha1:filename\n"
// line per file the writer has fully closed. A later run's planner reads
// the same file (see planner.Options.ResumeJournalPath) to reconcile which
// files can be skipped.
type Journal struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenJournal opens (creating if necessary) the journal file at path for
// appending. An empty path disables the journal: Append becomes a no-op.
func OpenJournal(path string) (*Journal, error) {
	if path == "" {
		return &Journal{}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Journal{path: path, f: f}, nil
}

// Append records filename as successfully written with the given SHA-1
// digest. A trailing ".tmp" suffix is stripped first, since the writer
// commits to the renamed, final filename.
func (j *Journal) Append(sha1 [20]byte, filename string) error {
	if j.f == nil {
		return nil
	}
	filename = strings.TrimSuffix(filename, ".tmp")

	j.mu.Lock()
	defer j.mu.Unlock()
	line := hex.EncodeToString(sha1[:]) + ":" + filename + "\n"
	if _, err := j.f.WriteString(line); err != nil {
		logger.Warn("journal append failed", "file", filename, "error", err)
		return err
	}
	return nil
}

// Close closes the underlying journal file, if one is open.
func (j *Journal) Close() error {
	if j.f == nil {
		return nil
	}
	return j.f.Close()
}

// Remove deletes the journal file once an installation finishes cleanly,
// so a later run starts from an empty resume state.
func (j *Journal) Remove() error {
	if j.path == "" {
		return nil
	}
	err := os.Remove(j.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReadEntries reads a journal file into a filename -> hex-sha1 map. It
// mirrors planner's own read path (used for the initial resume
// reconciliation pass) so callers that just need a snapshot, such as a
// "verify resumable state" CLI command, don't need to depend on package
// planner's internals.
func ReadEntries(path string) (map[string]string, error) {
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
		entries[line[idx+1:]] = line[:idx]
	}
	return entries, scanner.Err()
}
