package install

import (
	"os"
	"path/filepath"

	"gamevault/internal/hashtree"
	"gamevault/internal/model"
	"gamevault/internal/savekeeper"
	"gamevault/pkg/apierrors"
)

// MoveIn performs the atomic-ish install move: every reconstructed
// file and folder from staging is placed under <base>/games/<id>/, the
// installed tree's root hash is checked against the manifest, config
// and manifest documents are moved in, and save data is restored.
// On any failure the caller is responsible for wiping staging and
// transitioning the job to error; MoveIn itself never removes games/.
func MoveIn(baseDir, gameID string, m *model.Manifest, layout Layout, manifestPath, configPath string) error {
	dir := gameDir(baseDir, gameID)
	if err := os.RemoveAll(dir); err != nil {
		return apierrors.Storage("clear existing game directory", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return apierrors.Storage("create game directory", err)
	}

	for _, folder := range m.Folders {
		if err := os.MkdirAll(filepath.Join(dir, folder.Path), 0755); err != nil {
			return apierrors.Storage("create manifest folder", err)
		}
	}

	for _, f := range m.Files {
		dst := filepath.Join(dir, f.Path)
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return apierrors.Storage("create parent for installed file", err)
		}
		src := filepath.Join(layout.Items, f.Name)
		if err := os.Rename(src, dst); err != nil {
			return apierrors.Storage("move reconstructed file into place", err)
		}
	}

	rootDir := filepath.Join(dir, m.Root)
	gotHash, err := hashtree.HashTree(rootDir)
	if err != nil {
		return err
	}
	if gotHash != m.Hash {
		return apierrors.RootHash("installed tree hash does not match manifest")
	}

	if err := moveInto(manifestPath, filepath.Join(dir, "manifest.json")); err != nil {
		return err
	}
	if err := moveInto(configPath, filepath.Join(dir, "config.yaml")); err != nil {
		return err
	}

	if m.SaveInGameFolder && m.SavePath != "" {
		snapshot := savesSnapshotDir(baseDir, gameID, m.SavePath)
		if err := savekeeper.Restore(dir, m.SavePath, snapshot); err != nil {
			return err
		}
	}

	return nil
}

func moveInto(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return apierrors.Storage("create destination parent", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return apierrors.Storage("move document into game directory", err)
	}
	return nil
}

// Uninstall removes an installed game directory, preserving its save
// data first if configured to do so.
func Uninstall(baseDir, gameID string, m *model.Manifest) error {
	dir := gameDir(baseDir, gameID)
	if m.SaveInGameFolder && m.SavePath != "" {
		snapshot := savesSnapshotDir(baseDir, gameID, m.SavePath)
		if err := savekeeper.Preserve(dir, m.SavePath, snapshot); err != nil {
			return err
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return apierrors.Storage("remove installed game directory", err)
	}
	return nil
}
