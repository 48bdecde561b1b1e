package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/chunkinstall/core/config"
	"github.com/chunkinstall/core/fetch"
	"github.com/chunkinstall/core/install"
	"github.com/chunkinstall/core/logger"
	"github.com/chunkinstall/core/manifest"
	"github.com/chunkinstall/core/planner"
	"github.com/chunkinstall/core/pool"
	"github.com/chunkinstall/core/progress"
)

// runPlan drives one full coordinator pass for a planner result: it sizes
// the chunk pool, wires the HTTP downloader and file writer, renders
// progress, and runs the coordinator to completion.
func runPlan(ctx context.Context, cfg config.Options, m *manifest.Manifest, result *planner.Result, verbose bool) error {
	if len(result.Tasks) == 0 {
		logger.Info("nothing to do, already up to date")
		return nil
	}

	arenaSize := cfg.MaxSharedMemoryBytes
	if result.MinMemory > arenaSize {
		arenaSize = result.MinMemory
	}
	slotSize := int64(result.BiggestChunk)
	if slotSize == 0 {
		slotSize = 1
	}

	p, err := pool.New(arenaSize, slotSize)
	if err != nil {
		return fmt.Errorf("sizing chunk pool: %w", err)
	}

	client := &http.Client{Timeout: cfg.DownloadTimeout()}
	downloader := fetch.New(client, p, m, cfg.DownloadTimeout())

	journal, err := install.OpenJournal(cfg.ResumeJournalPath)
	if err != nil {
		return fmt.Errorf("opening resume journal: %w", err)
	}
	defer journal.Close()

	writer := install.NewDefaultWriter(cfg.DownloadDir)
	coordinator := install.NewCoordinator(p, cfg.MaxWorkers, cfg.BaseURL, m.FeatureLevel, downloader.Download, writer, journal)

	tracker := progress.New(result.DownloadSize+result.ReuseSize, countFiles(m))
	source := &progress.CoordinatorSource{
		Coordinator: coordinatorAdapter{coordinator},
		Pool:        p,
		TotalBytes:  result.DownloadSize + result.ReuseSize,
		TotalFiles:  countFiles(m),
	}
	done := make(chan struct{})
	go tracker.Run(done, source, cfg.UpdateInterval())

	runErr := coordinator.Run(ctx, m, result)
	close(done)
	tracker.Wait()

	if runErr != nil {
		return fmt.Errorf("install run: %w", runErr)
	}

	if err := journal.Remove(); err != nil {
		logger.Warn("failed to remove resume journal after a clean run", "error", err)
	}

	if verbose {
		logger.Info("run complete",
			"download_size", result.DownloadSize,
			"reuse_size", result.ReuseSize,
			"disk_space_delta", result.DiskSpaceDelta)
	}
	return nil
}

func countFiles(m *manifest.Manifest) int {
	return len(m.Files)
}

// coordinatorAdapter bridges install.Coordinator's Stats method to
// progress.Coordinator's narrower interface.
type coordinatorAdapter struct {
	c *install.Coordinator
}

func (a coordinatorAdapter) Stats() progress.CoordinatorStats {
	s := a.c.Stats()
	return progress.CoordinatorStats{
		BytesDownloaded: s.BytesDownloaded,
		BytesWritten:    s.BytesWritten,
		FilesDone:       s.FilesDone,
		TasksDone:       s.TasksDone,
		TasksTotal:      s.TasksTotal,
	}
}
