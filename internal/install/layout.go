// Package install implements the client-side Chunk Processor and
// Reassembler, and the final atomic-ish move-in, grounded on worker
// pool patterns from the pack's mvp-joe-canopy and NebulousLabs/Sia
// reference files and the teacher's tmp-rename-into-place idiom.
package install

import (
	"os"
	"path/filepath"

	"gamevault/pkg/apierrors"
)

// Layout is the staging directory tree for one job, all rooted under
// <base>/downloads/<gameID>/ per the spec's fixed layout.
type Layout struct {
	Chunks   string // raw downloaded chunk archives
	TmpSmall string // per-chunk extraction scratch for small/medium
	TmpLarge string // per-large-file part staging
	Items    string // flat pool of reconstructed files keyed by stored name
}

func NewLayout(baseDir, gameID string) Layout {
	root := filepath.Join(baseDir, "downloads", gameID)
	return Layout{
		Chunks:   filepath.Join(root, "chunks"),
		TmpSmall: filepath.Join(root, "tmp_small"),
		TmpLarge: filepath.Join(root, "tmp_large"),
		Items:    filepath.Join(root, "items"),
	}
}

func (l Layout) Root() string {
	return filepath.Dir(l.Chunks)
}

// Reset wipes and recreates every staging directory, used when a job
// starts; Wipe is used when it reaches a terminal state.
func (l Layout) Reset() error {
	if err := os.RemoveAll(l.Root()); err != nil {
		return apierrors.Storage("wipe download staging", err)
	}
	for _, d := range []string{l.Chunks, l.TmpSmall, l.TmpLarge, l.Items} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return apierrors.Storage("create staging directory", err)
		}
	}
	return nil
}

// Wipe removes the entire staging tree for the job.
func (l Layout) Wipe() error {
	if err := os.RemoveAll(l.Root()); err != nil {
		return apierrors.Storage("wipe download staging", err)
	}
	return nil
}

func gameDir(baseDir, gameID string) string {
	return filepath.Join(baseDir, "games", gameID)
}

func savesSnapshotDir(baseDir, gameID, savePath string) string {
	return filepath.Join(baseDir, "saves", gameID, savePath)
}
