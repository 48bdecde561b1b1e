package install

import (
	"context"
	"sync"

	"github.com/chunkinstall/core/logger"
	"github.com/chunkinstall/core/manifest"
	"github.com/chunkinstall/core/planner"
	"github.com/chunkinstall/core/pool"
)

// Writer is the C7 file writer contract. DefaultWriter is the package's own
// implementation; tests may substitute a fake.
type Writer interface {
	Run(tasks <-chan WriterTask, results chan<- WriterResult)
}

// Download is the C7 download worker contract: given a task, fetch and
// decompress the chunk into task.Slot and report the outcome. A concrete
// HTTP implementation lives in package fetch.
type Download func(ctx context.Context, task DownloadTask) DownloadResult

// Stats holds the coordinator's running throughput counters, read by a
// progress tracker via Coordinator.Stats.
type Stats struct {
	BytesDownloaded int64
	BytesWritten    int64
	FilesDone       int
	TasksDone       int
	TasksTotal      int
}

// Coordinator drives C6: it pairs the planner's download queue against a
// worker pool, replays the task stream against arriving chunks into the
// writer, and persists successful files to the resume journal.
type Coordinator struct {
	Pool        *pool.Pool
	MaxWorkers  int
	BaseURL     string
	ManifestVersion uint32
	Writer      Writer
	Download    Download
	Journal     *Journal

	mu    sync.Mutex
	stats Stats
}

// NewCoordinator wires a Coordinator against the given arena, worker count,
// base URL and manifest version (the header's version, which selects the
// ChunksV{N} directory). download and writer are the external collaborators (package
// fetch's HTTP worker and DefaultWriter, respectively, in normal operation).
func NewCoordinator(p *pool.Pool, maxWorkers int, baseURL string, manifestVersion uint32, download Download, writer Writer, journal *Journal) *Coordinator {
	return &Coordinator{
		Pool:        p,
		MaxWorkers:  maxWorkers,
		BaseURL:     baseURL,
		ManifestVersion: manifestVersion,
		Download:    download,
		Writer:      writer,
		Journal:     journal,
	}
}

// Stats returns a snapshot of the running throughput counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Run executes one full installation pass against the planner's result:
// dispatch downloads, replay the task stream into the writer, and journal
// completed files. It returns when every task in result.Tasks has been
// applied, or the first error encountered (or ctx.Err() on cancellation).
func (c *Coordinator) Run(ctx context.Context, m *manifest.Manifest, result *planner.Result) error {
	c.mu.Lock()
	c.stats = Stats{TasksTotal: len(result.Tasks)}
	c.mu.Unlock()

	dq := newDeque(result.ChunksInDownloadList)
	inBuf := newInBuffer()

	activeMu := &sync.Mutex{}
	activeCond := sync.NewCond(activeMu)
	activeCount := 0
	maxActive := 2 * c.MaxWorkers
	if maxActive < 2 {
		maxActive = 2
	}

	downloadJobs := make(chan DownloadTask, c.MaxWorkers)
	downloadResults := make(chan DownloadResult, c.MaxWorkers*2)
	writerJobs := make(chan WriterTask, 4)
	writerResults := make(chan WriterResult, 4)

	stop := make(chan struct{})
	var stopOnce sync.Once
	shutdown := func() {
		stopOnce.Do(func() {
			close(stop)
			activeMu.Lock()
			activeCond.Broadcast()
			activeMu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		dq.close()
		shutdown()
	}()

	var workers sync.WaitGroup
	for i := 0; i < c.MaxWorkers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for task := range downloadJobs {
				downloadResults <- c.Download(ctx, task)
			}
		}()
	}

	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		c.Writer.Run(writerJobs, writerResults)
	}()

	var dispatcherWG sync.WaitGroup
	dispatcherWG.Add(1)
	go func() {
		defer dispatcherWG.Done()
		defer close(downloadJobs)
		for {
			guid, ok := dq.popFront()
			if !ok {
				return
			}

			activeMu.Lock()
			for activeCount >= maxActive {
				select {
				case <-stop:
					activeMu.Unlock()
					dq.pushFront(guid)
					return
				default:
				}
				activeCond.Wait()
			}
			activeMu.Unlock()

			select {
			case <-stop:
				dq.pushFront(guid)
				return
			default:
			}

			slot, ok := c.Pool.Acquire(stop)
			if !ok {
				dq.pushFront(guid)
				return
			}

			ci := m.ChunksByGUID[guid]
			if ci == nil {
				c.Pool.Release(slot)
				logger.Warn("download queue referenced unknown chunk", "guid", guid.String())
				continue
			}
			task := DownloadTask{URL: c.BaseURL + "/" + ci.Path(c.ManifestVersion), GUID: guid, Slot: slot}

			activeMu.Lock()
			activeCount++
			activeMu.Unlock()

			select {
			case downloadJobs <- task:
			case <-stop:
				activeMu.Lock()
				activeCount--
				activeMu.Unlock()
				c.Pool.Release(slot)
				dq.pushFront(guid)
				return
			}
		}
	}()

	var collectorWG sync.WaitGroup
	collectorWG.Add(1)
	go func() {
		defer collectorWG.Done()
		for res := range downloadResults {
			if res.Success {
				inBuf.put(res.Task.GUID, res)
				c.mu.Lock()
				c.stats.BytesDownloaded += res.SizeDecompressed
				c.mu.Unlock()

				activeMu.Lock()
				activeCount--
				activeCond.Signal()
				activeMu.Unlock()
				continue
			}

			logger.Warn("chunk download failed, resubmitting", "guid", res.Task.GUID.String(), "error", res.Err)
			select {
			case downloadJobs <- res.Task:
			default:
				dq.pushFront(res.Task.GUID)
				activeMu.Lock()
				activeCount--
				activeCond.Signal()
				activeMu.Unlock()
			}
		}
	}()

	walkErr := make(chan error, 1)
	go func() {
		walkErr <- c.walkTaskStream(ctx, result.Tasks, inBuf, writerJobs)
		close(writerJobs)
	}()

	writeHandlerErr := make(chan error, 1)
	go func() {
		writeHandlerErr <- c.handleWriterResults(writerResults)
	}()

	var firstErr error
	if err := <-walkErr; err != nil && firstErr == nil {
		firstErr = err
	}

	dq.close()
	workers.Wait()
	close(downloadResults)
	collectorWG.Wait()
	dispatcherWG.Wait()

	writerWG.Wait()
	close(writerResults)
	if err := <-writeHandlerErr; err != nil && firstErr == nil {
		firstErr = err
	}

	shutdown()
	return firstErr
}

// walkTaskStream replays the planner's task stream in order: file tasks are
// forwarded verbatim (and OPEN_FILE sets the destination name later chunk
// tasks target); chunk tasks sourced from an old/new file
// are forwarded immediately, while download-sourced chunks block until
// their guid appears in inBuf.
func (c *Coordinator) walkTaskStream(ctx context.Context, tasks []planner.Task, inBuf *inBuffer, writerJobs chan<- WriterTask) error {
	var currentFile string

	for _, t := range tasks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if t.File != nil {
			f := t.File
			if f.Flags.Has(planner.FlagOpenFile) {
				currentFile = f.FileName
			}
			select {
			case writerJobs <- WriterTask{FileName: f.FileName, OldFile: f.OldFile, Flags: f.Flags}:
			case <-ctx.Done():
				return ctx.Err()
			}
			c.recordTaskDone()
			continue
		}

		ch := t.Chunk
		wt := WriterTask{
			FileName:     currentFile,
			GUID:         ch.ChunkGUID,
			ChunkOffset:  ch.ChunkOffset,
			ChunkSize:    ch.ChunkSize,
			SourcePath:   ch.SourcePath,
			SourceOffset: ch.SourceOffset,
		}

		if ch.Source == planner.FromOldFile || ch.Source == planner.FromNewFile {
			if ch.Cleanup {
				wt.Flags |= planner.FlagReleaseMemory
			}
			select {
			case writerJobs <- wt:
			case <-ctx.Done():
				return ctx.Err()
			}
			c.recordTaskDone()
			continue
		}

		res, ok := inBuf.waitFor(ctx, ch.ChunkGUID)
		if !ok {
			return ctx.Err()
		}
		wt.HasSlot = true
		wt.Slot = res.Task.Slot
		wt.slotBytes = c.Pool.Bytes(res.Task.Slot)
		if ch.Cleanup {
			wt.Flags |= planner.FlagReleaseMemory
			inBuf.remove(ch.ChunkGUID)
		}
		select {
		case writerJobs <- wt:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.recordTaskDone()
	}
	return nil
}

func (c *Coordinator) recordTaskDone() {
	c.mu.Lock()
	c.stats.TasksDone++
	c.mu.Unlock()
}

func (c *Coordinator) handleWriterResults(results <-chan WriterResult) error {
	var firstErr error
	for r := range results {
		if r.Err != nil {
			logger.Error("writer task failed", "file", r.FileName, "error", r.Err)
			if firstErr == nil {
				firstErr = r.Err
			}
			continue
		}

		if r.Flags.Has(planner.FlagCloseFile) {
			if err := c.Journal.Append(r.SHA1, r.FileName); err != nil {
				logger.Warn("failed to append resume journal entry", "file", r.FileName, "error", err)
			}
			c.mu.Lock()
			c.stats.FilesDone++
			c.mu.Unlock()
		}
		if r.Flags.Has(planner.FlagReleaseMemory) && r.HasSlot {
			c.Pool.Release(r.Slot)
		}

		c.mu.Lock()
		c.stats.BytesWritten += r.Size
		c.mu.Unlock()
	}
	return firstErr
}
