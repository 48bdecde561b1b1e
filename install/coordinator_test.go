package install

import (
	"context"
	"testing"
	"time"

	"github.com/chunkinstall/core/manifest"
	"github.com/chunkinstall/core/planner"
	"github.com/chunkinstall/core/pool"
)

// recordingWriter implements Writer, acking every task immediately and
// recording what it saw for assertions.
type recordingWriter struct {
	seen chan WriterTask
}

func (w *recordingWriter) Run(tasks <-chan WriterTask, results chan<- WriterResult) {
	for t := range tasks {
		if w.seen != nil {
			w.seen <- t
		}
		results <- WriterResult{FileName: t.FileName, GUID: t.GUID, Flags: t.Flags, Success: true, Size: int64(t.ChunkSize), Slot: t.Slot, HasSlot: t.HasSlot}
	}
}

func TestCoordinatorRunDrainsSimplePlan(t *testing.T) {
	g := manifest.GUID{0, 0, 0, 1}
	m := &manifest.Manifest{
		ChunksByGUID: map[manifest.GUID]*manifest.ChunkInfo{
			g: {GUID: g, WindowSize: 1 << 10, FileSize: 1 << 10},
		},
	}

	p, err := pool.New(1<<20, 1<<10)
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}

	result := &planner.Result{
		Tasks: []planner.Task{
			{File: &planner.FileTask{FileName: "a.bin", Flags: planner.FlagOpenFile}},
			{Chunk: &planner.ChunkTask{ChunkGUID: g, ChunkSize: 1 << 10, Source: planner.FromDownload, Cleanup: true}},
			{File: &planner.FileTask{FileName: "a.bin", Flags: planner.FlagCloseFile}},
		},
		ChunksInDownloadList: []manifest.GUID{g},
	}

	download := func(ctx context.Context, task DownloadTask) DownloadResult {
		return DownloadResult{Task: task, Success: true, SizeDownloaded: 1 << 10, SizeDecompressed: 1 << 10}
	}

	journal, err := OpenJournal("")
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}

	writer := &recordingWriter{}
	c := NewCoordinator(p, 2, "https://example.invalid", 17, download, writer, journal)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Run(ctx, m, result); err != nil {
		t.Fatalf("Run: %v", err)
	}

	stats := c.Stats()
	if stats.TasksDone != 3 {
		t.Errorf("TasksDone = %d, want 3", stats.TasksDone)
	}
	if stats.FilesDone != 1 {
		t.Errorf("FilesDone = %d, want 1", stats.FilesDone)
	}
	if stats.BytesDownloaded != 1<<10 {
		t.Errorf("BytesDownloaded = %d, want %d", stats.BytesDownloaded, 1<<10)
	}
	if p.Avail() != p.NumSlots() {
		t.Errorf("expected every slot released back to the pool, avail=%d numSlots=%d", p.Avail(), p.NumSlots())
	}
}

func TestCoordinatorResubmitsFailedDownload(t *testing.T) {
	g := manifest.GUID{0, 0, 0, 7}
	m := &manifest.Manifest{
		ChunksByGUID: map[manifest.GUID]*manifest.ChunkInfo{
			g: {GUID: g, WindowSize: 1 << 10, FileSize: 1 << 10},
		},
	}

	p, err := pool.New(1<<20, 1<<10)
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}

	result := &planner.Result{
		Tasks: []planner.Task{
			{File: &planner.FileTask{FileName: "a.bin", Flags: planner.FlagOpenFile}},
			{Chunk: &planner.ChunkTask{ChunkGUID: g, ChunkSize: 1 << 10, Source: planner.FromDownload, Cleanup: true}},
			{File: &planner.FileTask{FileName: "a.bin", Flags: planner.FlagCloseFile}},
		},
		ChunksInDownloadList: []manifest.GUID{g},
	}

	var attempts int
	download := func(ctx context.Context, task DownloadTask) DownloadResult {
		attempts++
		if attempts == 1 {
			return DownloadResult{Task: task, Success: false, Err: context.DeadlineExceeded}
		}
		return DownloadResult{Task: task, Success: true, SizeDownloaded: 1 << 10, SizeDecompressed: 1 << 10}
	}

	journal, _ := OpenJournal("")
	writer := &recordingWriter{}
	c := NewCoordinator(p, 1, "https://example.invalid", 17, download, writer, journal)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Run(ctx, m, result); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if attempts < 2 {
		t.Fatalf("expected a retry after failure, got %d attempts", attempts)
	}
}
