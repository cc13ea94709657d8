package install

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"gamevault/internal/download"
	"gamevault/internal/model"
	"gamevault/internal/status"
)

// ChunkFetcher downloads one chunk archive (identified by its manifest
// index) to dest, invoking onBytes for progress as bytes arrive. It is
// expected to wrap download.Stream against the game's download-chunk
// endpoint.
type ChunkFetcher func(ctx context.Context, chunkIndex int, dest string, onBytes download.OnBytes) error

// Pipeline orchestrates one game's full client install: sequential
// chunk download feeding a CPU-parallel processing pool, large-file
// reassembly, and the final atomic move-in. One Pipeline may drive
// many concurrent jobs for distinct game ids; it holds no per-job
// state beyond what Registry and each job's own Layout track.
type Pipeline struct {
	BaseDir  string
	Registry *status.Registry
}

// Run drives gameID's install job to completion, cancellation, or
// error, reflecting every transition through the status registry. It
// returns nil for every outcome except an unrecoverable error; callers
// should consult Registry.Get(gameID) for the terminal state.
func (p *Pipeline) Run(ctx context.Context, gameID string, m *model.Manifest, manifestPath, configPath string, fetch ChunkFetcher) error {
	jobCtx, started := p.Registry.Start(gameID)
	if !started {
		return nil // idempotent: a job for this id is already in flight
	}

	layout := NewLayout(p.BaseDir, gameID)
	if err := layout.Reset(); err != nil {
		p.Registry.Fail(gameID, err)
		return err
	}

	workCtx, cancelWork := context.WithCancel(jobCtx)
	defer cancelWork()

	fileMap := m.FileByName()
	largeFiles := m.LargeFiles()
	totalUnits := len(m.Chunks) + len(largeFiles)

	if totalUnits == 0 {
		return p.finish(jobCtx, gameID, layout, m, manifestPath, configPath)
	}

	var mu sync.Mutex
	var firstErr error
	recordErr := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
			cancelWork()
		}
	}

	var processedUnits int
	markProgress := func() {
		mu.Lock()
		processedUnits++
		frac := float64(processedUnits) / float64(totalUnits)
		mu.Unlock()
		p.Registry.SetProcessProgress(gameID, frac)
	}

	poolSize := workerPoolSize(len(m.Chunks))
	chunkCh := make(chan model.ChunkEntry, len(m.Chunks))

	var workers sync.WaitGroup
	for i := 0; i < poolSize; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for chunk := range chunkCh {
				select {
				case <-workCtx.Done():
					continue // drain without processing once aborted
				default:
				}
				chunkPath := filepath.Join(layout.Chunks, chunk.Name)
				if err := ProcessChunk(chunkPath, chunk, fileMap, layout); err != nil {
					recordErr(err)
					continue
				}
				markProgress()
			}
		}()
	}

	downloadErr := p.downloadChunks(workCtx, gameID, m, layout, fetch, chunkCh)
	close(chunkCh)
	workers.Wait()
	recordErr(downloadErr)

	if cancelled(jobCtx) {
		layout.Wipe()
		p.Registry.MarkCancelled(gameID)
		return nil
	}
	if firstErr != nil {
		layout.Wipe()
		p.Registry.Fail(gameID, firstErr)
		return firstErr
	}

	if err := p.reassembleAll(workCtx, largeFiles, layout, markProgress); err != nil {
		if cancelled(jobCtx) {
			layout.Wipe()
			p.Registry.MarkCancelled(gameID)
			return nil
		}
		layout.Wipe()
		p.Registry.Fail(gameID, err)
		return err
	}

	return p.finish(jobCtx, gameID, layout, m, manifestPath, configPath)
}

// downloadChunks fetches every chunk in manifest order, one at a time,
// handing each off to the processing pool as soon as it lands so
// download and processing overlap per the spec's composition rule.
// Progress is tracked by bytes received against the manifest's total
// plaintext size, not by chunk count, so it advances smoothly within
// a single (possibly large) chunk download.
func (p *Pipeline) downloadChunks(ctx context.Context, gameID string, m *model.Manifest, layout Layout, fetch ChunkFetcher, out chan<- model.ChunkEntry) error {
	totalBytes := m.TotalBytes()
	var received int64
	onBytes := func(delta int64) {
		if totalBytes <= 0 {
			return
		}
		n := atomic.AddInt64(&received, delta)
		frac := float64(n) / float64(totalBytes)
		if frac > 1 {
			frac = 1
		}
		p.Registry.SetDownloadProgress(gameID, frac)
	}

	for i, chunk := range m.Chunks {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		dest := filepath.Join(layout.Chunks, chunk.Name)
		if err := fetch(ctx, chunk.ChunkIndex, dest, onBytes); err != nil {
			if errors.Is(err, download.Cancelled) {
				return nil
			}
			return err
		}

		if i == 0 {
			p.Registry.MarkProcessing(gameID)
		}
		out <- chunk
	}
	// Chunk archives are compressed, so accumulated bytes can undershoot
	// totalBytes even once every chunk has landed; pin the fraction to
	// 1 once the loop completes without cancellation or error.
	p.Registry.SetDownloadProgress(gameID, 1)
	return nil
}

// reassembleAll joins every large file's parts in a CPU-parallel pool.
func (p *Pipeline) reassembleAll(ctx context.Context, files []model.FileEntry, layout Layout, markProgress func()) error {
	if len(files) == 0 {
		return nil
	}

	ch := make(chan model.FileEntry, len(files))
	for _, f := range files {
		ch <- f
	}
	close(ch)

	poolSize := workerPoolSize(len(files))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for i := 0; i < poolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range ch {
				select {
				case <-ctx.Done():
					continue
				default:
				}
				if err := ReassembleLargeFile(f, layout); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					continue
				}
				markProgress()
			}
		}()
	}
	wg.Wait()
	return firstErr
}

func (p *Pipeline) finish(jobCtx context.Context, gameID string, layout Layout, m *model.Manifest, manifestPath, configPath string) error {
	if cancelled(jobCtx) {
		layout.Wipe()
		p.Registry.MarkCancelled(gameID)
		return nil
	}
	if err := MoveIn(p.BaseDir, gameID, m, layout, manifestPath, configPath); err != nil {
		layout.Wipe()
		p.Registry.Fail(gameID, err)
		return err
	}
	if err := layout.Wipe(); err != nil {
		p.Registry.Fail(gameID, err)
		return err
	}
	p.Registry.Complete(gameID)
	return nil
}

func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// workerPoolSize applies the spec's max(2, cpu_count) floor, capped at
// the number of work items so idle goroutines aren't spun up for
// trivially small jobs.
func workerPoolSize(items int) int {
	n := runtime.NumCPU()
	if n < 2 {
		n = 2
	}
	if items > 0 && n > items {
		n = items
	}
	if n < 1 {
		n = 1
	}
	return n
}
