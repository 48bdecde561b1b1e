// Package progress renders installation telemetry (bytes written against
// the planned total, an EWMA write-throughput estimate, and shared-memory
// arena usage) using an mpb terminal progress bar. Download and read
// throughput are not rendered.
package progress

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Snapshot is the telemetry shape a Source reports each tick:
// progress_percent (derived from BytesWritten/TotalBytes), download_speed,
// write_speed, read_speed, and memory_usage_bytes.
type Snapshot struct {
	BytesDownloaded  int64
	BytesWritten     int64
	BytesRead        int64
	TotalBytes       int64
	FilesDone        int
	TotalFiles       int
	MemoryUsageBytes int64
	ArenaSize        int64
}

// Source is polled on a fixed interval for the latest telemetry. The
// install.Coordinator's Stats method, adapted by the caller, is the normal
// source in a running install.
type Source interface {
	Snapshot() Snapshot
}

// Tracker drives an mpb.Progress with one bar for overall byte progress and
// reports throughput via EWMA speed decorators.
type Tracker struct {
	p   *mpb.Progress
	bar *mpb.Bar

	lastUpdate time.Time
	memUsage   atomic.Int64
	arenaSize  atomic.Int64
}

// New creates a tracker for an install of totalBytes across totalFiles.
func New(totalBytes int64, totalFiles int) *Tracker {
	t := &Tracker{p: mpb.New(mpb.WithWidth(60)), lastUpdate: time.Now()}

	t.bar = t.p.AddBar(totalBytes,
		mpb.PrependDecorators(
			decor.Name("installing  "),
			decor.CountersKibiByte("% .2f / % .2f"),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WCSyncSpace),
			decor.Name(" | "),
			decor.EwmaSpeed(decor.SizeB1024(0), "% .2f/s", 30),
			decor.Name(" | "),
			decor.Any(func(decor.Statistics) string {
				return fmt.Sprintf("mem %s/%s", formatBytes(t.memUsage.Load()), formatBytes(t.arenaSize.Load()))
			}),
			decor.Name(fmt.Sprintf(" | 0/%d files", totalFiles)),
		),
	)

	return t
}

// Update feeds one telemetry snapshot to the tracker: it advances the bar's
// current value (driving both percentage and EWMA write speed) and records
// the arena usage figures the memory decorator reads.
func (t *Tracker) Update(s Snapshot) {
	now := time.Now()
	iterDur := now.Sub(t.lastUpdate)
	t.lastUpdate = now

	t.memUsage.Store(s.MemoryUsageBytes)
	t.arenaSize.Store(s.ArenaSize)
	t.bar.EwmaSetCurrent(s.BytesWritten, iterDur)
}

// Run polls src every interval until stop is closed, then waits for the
// final render to flush.
func (t *Tracker) Run(stop <-chan struct{}, src Source, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			t.Update(src.Snapshot())
			t.Wait()
			return
		case <-ticker.C:
			t.Update(src.Snapshot())
		}
	}
}

// Wait blocks until the underlying progress renderer has finished drawing.
func (t *Tracker) Wait() {
	t.p.Wait()
}

// Abort stops rendering without requiring the bar to reach its total, for
// an installation cancelled mid-run.
func (t *Tracker) Abort() {
	t.bar.Abort(false)
	t.p.Wait()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
