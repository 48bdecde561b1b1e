// Package fetch provides the default C7 download worker: an HTTP client
// tuned for many small, parallel chunk downloads, which decompresses each
// chunk body into a shared-memory slot and verifies its SHA-1 before
// reporting success.
package fetch

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/chunkinstall/core/install"
	"github.com/chunkinstall/core/logger"
	"github.com/chunkinstall/core/manifest"
	"github.com/chunkinstall/core/pool"
)

const (
	maxRetries     = 3
	retryBaseDelay = 500 * time.Millisecond
)

// Downloader fetches and verifies chunks against a manifest's chunk index,
// writing decompressed bytes directly into the caller-supplied slot.
type Downloader struct {
	client  *http.Client
	pool    *pool.Pool
	chunks  map[manifest.GUID]*manifest.ChunkInfo
	timeout time.Duration
}

// New wraps client (passed through createOptimizedClient, which installs
// its tuned transport) for chunk downloads against m's chunk index, used to
// look up the expected SHA-1 and compression flag of each chunk as it arrives.
// p resolves a DownloadTask's slot descriptor to the backing bytes to
// decompress into.
func New(client *http.Client, p *pool.Pool, m *manifest.Manifest, timeout time.Duration) *Downloader {
	return &Downloader{
		client:  createOptimizedClient(client),
		pool:    p,
		chunks:  m.ChunksByGUID,
		timeout: timeout,
	}
}

// Download implements install.Download: it is the worker function handed
// to install.NewCoordinator.
func (d *Downloader) Download(ctx context.Context, task install.DownloadTask) install.DownloadResult {
	ci := d.chunks[task.GUID]
	if ci == nil {
		return install.DownloadResult{Task: task, Err: fmt.Errorf("fetch: unknown chunk %s", task.GUID.String())}
	}
	slot := d.pool.Bytes(task.Slot)

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(uint(1)<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return install.DownloadResult{Task: task, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		compressed, err := d.fetch(ctx, task.URL)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return install.DownloadResult{Task: task, Err: ctx.Err()}
			}
			if !isRetryableError(err) {
				return install.DownloadResult{Task: task, Err: err}
			}
			continue
		}

		n, err := decompress(compressed, slot, ci.Compressed())
		if err != nil {
			lastErr = err
			logger.Warn("chunk decompress/verify failed", "guid", task.GUID.String(), "error", err)
			continue
		}

		if !verifySHA1(slot[:n], ci.SHA1) {
			lastErr = fmt.Errorf("fetch: sha1 mismatch for chunk %s", task.GUID.String())
			continue
		}

		return install.DownloadResult{
			Task:             task,
			Success:          true,
			SizeDownloaded:   int64(len(compressed)),
			SizeDecompressed: int64(n),
		}
	}

	return install.DownloadResult{Task: task, Err: fmt.Errorf("fetch: after %d retries: %w", maxRetries, lastErr)}
}

func (d *Downloader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &httpError{StatusCode: resp.StatusCode}
	}

	return io.ReadAll(resp.Body)
}

// decompress inflates src into dst (when the chunk is stored compressed) or
// copies it verbatim, returning the number of bytes written.
func decompress(src []byte, dst []byte, compressed bool) (int, error) {
	if !compressed {
		n := copy(dst, src)
		return n, nil
	}

	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return 0, fmt.Errorf("fetch: zlib open: %w", err)
	}
	defer zr.Close()

	buf := sliceWriter{buf: dst}
	n, err := io.Copy(&buf, zr)
	if err != nil {
		return int(n), fmt.Errorf("fetch: zlib inflate: %w", err)
	}
	return int(n), nil
}

func verifySHA1(data []byte, want [20]byte) bool {
	got := sha1.Sum(data)
	return got == want
}

// sliceWriter is an io.Writer over a fixed-capacity slice, used so zlib
// decompression can write directly into the caller's pool slot without an
// intermediate allocation.
type sliceWriter struct {
	buf []byte
	n   int
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > len(w.buf) {
		return 0, errors.New("fetch: decompressed chunk exceeds slot capacity")
	}
	copy(w.buf[w.n:], p)
	w.n += len(p)
	return len(p), nil
}

type httpError struct {
	StatusCode int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("fetch: http %d", e.StatusCode)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *httpError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}

	errStr := err.Error()
	if strings.Contains(errStr, "stream error") ||
		strings.Contains(errStr, "INTERNAL_ERROR") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "EOF") {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// createOptimizedClient tunes HTTP transport for many small, parallel
// chunk downloads: connection reuse across workers, no on-the-wire
// recompression (chunk bodies are already compressed), and HTTP/2
// multiplexing when the CDN supports it.
func createOptimizedClient(client *http.Client) *http.Client {
	if client == nil {
		client = &http.Client{}
	}
	client.Transport = &http.Transport{
		MaxIdleConnsPerHost: 64,
		DisableCompression:  true,
		ForceAttemptHTTP2:   true,
	}
	return client
}
