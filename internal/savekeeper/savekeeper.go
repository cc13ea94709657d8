// Package savekeeper preserves in-tree save data across uninstall and
// reinstall, ported 1:1 from the original pipeline's preserve_saves
// and _restore_saves helpers: move-out on uninstall, merge-on-restore
// on install.
package savekeeper

import (
	"os"
	"path/filepath"

	"gamevault/pkg/apierrors"
)

// Preserve moves savePath (relative to gameDir unless absolute) to
// snapshotDir, displacing any prior snapshot there. A no-op if
// savePath does not exist under gameDir.
func Preserve(gameDir, savePath, snapshotDir string) error {
	src := resolve(gameDir, savePath)
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return apierrors.Storage("stat save path for preservation", err)
	}

	if err := os.RemoveAll(snapshotDir); err != nil {
		return apierrors.Storage("clear prior save snapshot", err)
	}
	if err := os.MkdirAll(filepath.Dir(snapshotDir), 0755); err != nil {
		return apierrors.Storage("create save snapshot parent", err)
	}
	if err := os.Rename(src, snapshotDir); err != nil {
		return apierrors.Storage("move save into snapshot", err)
	}
	return nil
}

// Restore merges a prior snapshot back into gameDir/savePath. If no
// snapshot exists this is a no-op. Directory snapshots merge child by
// child into an existing destination directory; file snapshots
// overwrite an existing destination file. A type mismatch (snapshot
// directory vs. destination file, or vice versa) aborts the restore
// without destroying existing state, leaving the snapshot in place.
func Restore(gameDir, savePath, snapshotDir string) error {
	snapInfo, err := os.Stat(snapshotDir)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return apierrors.Storage("stat save snapshot", err)
	}

	dst := resolve(gameDir, savePath)
	dstInfo, dstErr := os.Stat(dst)
	dstExists := dstErr == nil

	if snapInfo.IsDir() {
		if dstExists && !dstInfo.IsDir() {
			return nil // destination is a file; abort, keep snapshot
		}
		if !dstExists {
			if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
				return apierrors.Storage("create save destination parent", err)
			}
			if err := os.Rename(snapshotDir, dst); err != nil {
				return apierrors.Storage("move save snapshot into place", err)
			}
			return nil
		}
		return mergeDir(snapshotDir, dst)
	}

	// snapshot is a file
	if dstExists && dstInfo.IsDir() {
		return nil // destination is a directory; abort, keep snapshot
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return apierrors.Storage("create save destination parent", err)
	}
	if dstExists {
		if err := os.Remove(dst); err != nil {
			return apierrors.Storage("overwrite existing save file", err)
		}
	}
	if err := os.Rename(snapshotDir, dst); err != nil {
		return apierrors.Storage("move save snapshot into place", err)
	}
	return nil
}

func mergeDir(snapshotDir, dst string) error {
	entries, err := os.ReadDir(snapshotDir)
	if err != nil {
		return apierrors.Storage("read save snapshot directory", err)
	}
	for _, e := range entries {
		src := filepath.Join(snapshotDir, e.Name())
		target := filepath.Join(dst, e.Name())
		if err := os.RemoveAll(target); err != nil {
			return apierrors.Storage("clear merge target", err)
		}
		if err := os.Rename(src, target); err != nil {
			return apierrors.Storage("merge save child into destination", err)
		}
	}
	return os.RemoveAll(snapshotDir)
}

func resolve(gameDir, savePath string) string {
	if filepath.IsAbs(savePath) {
		return savePath
	}
	return filepath.Join(gameDir, savePath)
}
