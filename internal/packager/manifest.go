// Package packager builds the manifest for an extracted game tree and
// packs it into compressed chunks, grounded on the teacher's manifest
// load/save-with-tmp-rename idiom (storage/manifest.go) and its
// staging-directory-per-unit shape (storage/stateless_chunk.go).
package packager

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"gamevault/internal/classify"
	"gamevault/internal/hashtree"
	"gamevault/internal/model"
	"gamevault/pkg/apierrors"
)

// BuildManifest walks extractedRoot (the directory a packaged zip was
// extracted into), identifies its root folder, and emits a manifest
// with an empty chunk list. It does not move any files.
func BuildManifest(extractedRoot string, cfg model.GameConfig) (*model.Manifest, error) {
	topEntries, err := os.ReadDir(extractedRoot)
	if err != nil {
		return nil, apierrors.Storage("read extracted tree", err)
	}

	var topDirs []string
	for _, e := range topEntries {
		if e.IsDir() {
			topDirs = append(topDirs, e.Name())
		}
	}
	if len(topDirs) == 0 {
		return nil, apierrors.Config("extracted tree has no top-level subdirectory", nil)
	}
	sort.Strings(topDirs)
	rootName := topDirs[0]
	rootPath := filepath.Join(extractedRoot, rootName)

	var folders []model.FolderEntry
	var files []model.FileEntry
	fileID := 0

	walkErr := filepath.Walk(extractedRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == extractedRoot {
			return nil
		}
		rel, err := filepath.Rel(extractedRoot, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			folders = append(folders, model.FolderEntry{Path: rel})
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		size := info.Size()
		hash, err := hashtree.HashFile(path)
		if err != nil {
			return err
		}
		files = append(files, model.FileEntry{
			Path:     rel,
			Name:     strconv.Itoa(fileID),
			Size:     size,
			Hash:     hash,
			Category: classify.Category(size),
		})
		fileID++
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	rootHash, err := hashtree.HashTree(rootPath)
	if err != nil {
		return nil, err
	}

	return &model.Manifest{
		Name:             cfg.Name,
		Root:             rootName,
		Run:              cfg.Run,
		SaveInGameFolder: cfg.SaveInGameFolder,
		SavePath:         cfg.SavePath,
		Folders:          folders,
		Files:            files,
		Chunks:           nil,
		Hash:             rootHash,
	}, nil
}

// SaveManifest writes m as indented JSON to path, via a temp file and
// rename so a crash never leaves a partially-written manifest.
func SaveManifest(path string, m *model.Manifest) error {
	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return apierrors.Storage("marshal manifest", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return apierrors.Storage("write manifest tmp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return apierrors.Storage("rename manifest into place", err)
	}
	return nil
}

// LoadManifest reads and parses a manifest.json file.
func LoadManifest(path string) (*model.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apierrors.Storage("read manifest", err)
	}
	var m model.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, apierrors.Config("parse manifest", err)
	}
	return &m, nil
}
