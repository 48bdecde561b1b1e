// Package verify re-hashes an installed file tree against its manifest's
// FML SHA-1 digests, catching corruption or partial writes a prior install
// or update left behind.
package verify

import (
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/chunkinstall/core/manifest"
)

// Result is the outcome of verifying a single file.
type Result struct {
	FileName string
	Expected [20]byte
	Actual   [20]byte
	Valid    bool
	Error    error
}

// Options configures the verification run.
type Options struct {
	Verbose    bool
	MaxWorkers int
}

// Installation re-hashes every non-empty file in m against installPath,
// reporting a Result per file. It returns false if any file fails, and
// always completes the full sweep first so the caller sees every mismatch.
func Installation(installPath string, m *manifest.Manifest, opts Options) (bool, []Result, error) {
	var files []*manifest.FileManifest
	for _, f := range m.Files {
		if !f.IsEmpty() {
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		return true, nil, nil
	}

	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = runtime.NumCPU()
	}

	workCh := make(chan *manifest.FileManifest, len(files))
	resultsCh := make(chan Result, len(files))

	var verified atomic.Int64
	total := int64(len(files))

	var wg sync.WaitGroup
	for i := 0; i < opts.MaxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range workCh {
				result := verifyFile(installPath, f)
				resultsCh <- result

				count := verified.Add(1)
				if opts.Verbose {
					status := "OK"
					if !result.Valid {
						status = "FAILED"
					}
					fmt.Printf("[%d/%d] %s: %s\n", count, total, result.FileName, status)
				}
			}
		}()
	}

	for _, f := range files {
		workCh <- f
	}
	close(workCh)
	wg.Wait()
	close(resultsCh)

	var results []Result
	allValid := true
	for result := range resultsCh {
		results = append(results, result)
		if !result.Valid {
			allValid = false
		}
	}
	return allValid, results, nil
}

func verifyFile(installPath string, f *manifest.FileManifest) Result {
	path := filepath.Join(installPath, filepath.FromSlash(f.FileName))

	result := Result{FileName: f.FileName, Expected: f.SHA1Hash}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		result.Error = fmt.Errorf("file missing")
		return result
	}
	if err != nil {
		result.Error = fmt.Errorf("stat: %w", err)
		return result
	}
	if info.IsDir() {
		result.Error = fmt.Errorf("expected file but found directory")
		return result
	}
	if info.Size() != f.FileSize() {
		result.Error = fmt.Errorf("size mismatch: expected %d, got %d", f.FileSize(), info.Size())
		return result
	}

	digest, err := HashFile(path)
	if err != nil {
		result.Error = fmt.Errorf("hash: %w", err)
		return result
	}

	result.Actual = digest
	result.Valid = digest == f.SHA1Hash
	if !result.Valid {
		result.Error = fmt.Errorf("hash mismatch")
	}
	return result
}

// HashFile computes a file's SHA-1 digest, matching FML's content hash.
func HashFile(path string) ([20]byte, error) {
	var digest [20]byte

	file, err := os.Open(path)
	if err != nil {
		return digest, err
	}
	defer file.Close()

	h := sha1.New()
	if _, err := io.Copy(h, file); err != nil {
		return digest, err
	}
	copy(digest[:], h.Sum(nil))
	return digest, nil
}

// Chunk verifies a downloaded chunk's decompressed bytes against its
// expected SHA-1, the same check package fetch applies inline after
// decompression.
func Chunk(data []byte, expected [20]byte) bool {
	return sha1.Sum(data) == expected
}
