// Package ingestworker is the server's background queue loop: for
// each entry in internal/queue not yet fully downloaded and processed,
// fetch its archive (if URL-based) and hand it to internal/ingest.
// Ported from the original pipeline's server/process.py main loop,
// which polls processes.json and advances each item through the same
// two phases.
package ingestworker

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"gamevault/internal/download"
	"gamevault/internal/ingest"
	"gamevault/internal/model"
	"gamevault/internal/queue"
	"gamevault/pkg/apierrors"
)

type Worker struct {
	BaseDir   string
	Queue     *queue.Queue
	Publisher *ingest.Publisher
}

// RunOnce takes every queue entry in turn through both phases in one
// call: download if not yet downloaded, then publish if not yet
// processed, then remove the entry from the queue. It returns at the
// first error, leaving that entry and any later ones for the next call.
func (w *Worker) RunOnce(ctx context.Context) error {
	entries, err := w.Queue.Snapshot()
	if err != nil {
		return err
	}

	for _, e := range entries {
		paths := ingest.NewPaths(w.BaseDir, e.ID)
		zipPath := filepath.Join(paths.WorkDir, "data.zip")

		if e.Download < 1.0 {
			if e.DownloadURL != "" {
				if err := os.MkdirAll(paths.WorkDir, 0755); err != nil {
					return apierrors.Storage("create work dir for download", err)
				}
				if err := download.Stream(ctx, e.DownloadURL, zipPath, nil); err != nil {
					return err
				}
			}
			if err := w.Queue.SetDownloadProgress(e.ID, 1.0); err != nil {
				return err
			}
		}

		if e.Process < 1.0 {
			cfg, err := loadConfig(filepath.Join(paths.ProcessDir, "config.yaml"))
			if err != nil {
				return err
			}
			if err := w.Publisher.Publish(ctx, e.ID, zipPath, cfg); err != nil {
				return err
			}
			if err := w.Queue.SetProcessProgress(e.ID, 1.0); err != nil {
				return err
			}
		}

		if err := w.Queue.Remove(e.ID); err != nil {
			return err
		}
	}
	return nil
}

// Run polls the queue every interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = w.RunOnce(ctx) // errors for one entry must not halt the loop
		}
	}
}

func loadConfig(path string) (model.GameConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.GameConfig{}, apierrors.Storage("read queued game config", err)
	}
	var cfg model.GameConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return model.GameConfig{}, apierrors.Config("parse queued game config", err)
	}
	return cfg, nil
}
