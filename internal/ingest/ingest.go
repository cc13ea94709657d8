// Package ingest is the server-side counterpart to internal/install:
// it drives one published game through extract -> manifest -> chunk ->
// finalize, the stage sequence the Job Runner enforces, grounded on
// the original pipeline's server/unzip.py, server/process.py (the
// single-worker queue loop) and server/final.py (steam enrichment +
// move-into-games).
package ingest

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"gamevault/internal/jobrunner"
	"gamevault/internal/model"
	"gamevault/internal/packager"
	"gamevault/internal/steamenrich"
	"gamevault/pkg/apierrors"
)

// Paths bundles the on-disk locations one publish job touches, mirroring
// the spec's processes/<id>/work/ scratch layout plus the final
// games/<id>/ destination.
type Paths struct {
	ProcessDir string // processes/<id>/
	WorkDir    string // processes/<id>/work/ — extraction target
	ChunksDir  string // processes/<id>/chunks/
	GameDir    string // games/<id>/ — final destination
}

func NewPaths(baseDir, gameID string) Paths {
	processDir := filepath.Join(baseDir, "processes", gameID)
	return Paths{
		ProcessDir: processDir,
		WorkDir:    filepath.Join(processDir, "work"),
		ChunksDir:  filepath.Join(processDir, "chunks"),
		GameDir:    filepath.Join(baseDir, "games", gameID),
	}
}

// Publisher drives the publish pipeline for one game id at a time,
// keeping a per-game step cursor at processes/<id>/state.json so a
// crash mid-publish resumes only that game on restart and a finished
// job's cursor disappears along with its process dir.
type Publisher struct {
	BaseDir  string
	Enricher steamenrich.Enricher // optional; nil disables enrichment
}

// Publish extracts zipPath, builds the manifest, packs chunks, runs
// optional Steam enrichment, and moves the result into games/<gameID>.
// Re-entrant after a crash: stages already completed per the cursor
// are skipped and their on-disk output is trusted.
func (p *Publisher) Publish(ctx context.Context, gameID, zipPath string, cfg model.GameConfig) error {
	paths := NewPaths(p.BaseDir, gameID)
	if err := os.MkdirAll(paths.ProcessDir, 0755); err != nil {
		return apierrors.Storage("create process scratch dir", err)
	}

	manifestPath := filepath.Join(paths.ProcessDir, "manifest.json")
	configPath := filepath.Join(paths.ProcessDir, "config.yaml")
	if err := writeConfig(configPath, cfg); err != nil {
		return err
	}

	cursorPath := filepath.Join(paths.ProcessDir, "state.json")
	var m *model.Manifest

	cursor, err := jobrunner.LoadCursor(cursorPath)
	if err != nil {
		return err
	}
	if cursor >= jobrunner.StepManifested {
		m, err = packager.LoadManifest(manifestPath)
		if err != nil {
			return err
		}
	}

	runner := &jobrunner.Runner{
		CursorPath: cursorPath,
		ScratchDir: func(stage string) string {
			switch stage {
			case "extract":
				return paths.WorkDir
			case "chunk":
				return paths.ChunksDir
			default:
				return ""
			}
		},
	}

	stages := []jobrunner.Stage{
		{
			Name:        "extract",
			CompletesAt: jobrunner.StepExtracted,
			Run: func() error {
				return extractZip(zipPath, paths.WorkDir)
			},
		},
		{
			Name:        "manifest",
			CompletesAt: jobrunner.StepManifested,
			Run: func() error {
				built, err := packager.BuildManifest(paths.WorkDir, cfg)
				if err != nil {
					return err
				}
				m = built
				return packager.SaveManifest(manifestPath, m)
			},
		},
		{
			Name:        "chunk",
			CompletesAt: jobrunner.StepChunked,
			Run: func() error {
				// m.Files[].Path is recorded relative to WorkDir (it
				// already includes the root folder), so PackChunks
				// must resolve sources against WorkDir, not WorkDir/Root.
				if err := packager.PackChunks(paths.WorkDir, paths.ProcessDir, paths.ChunksDir, m, nil); err != nil {
					return err
				}
				return packager.SaveManifest(manifestPath, m) // chunks now populated
			},
		},
		{
			Name:        "finalize",
			CompletesAt: jobrunner.StepFinalized,
			Run: func() error {
				return p.finalize(ctx, gameID, paths, m, manifestPath, configPath, cfg)
			},
		},
	}

	if err := runner.RunStages(stages); err != nil {
		return err
	}
	return os.RemoveAll(paths.ProcessDir)
}

func (p *Publisher) finalize(ctx context.Context, gameID string, paths Paths, m *model.Manifest, manifestPath, configPath string, cfg model.GameConfig) error {
	if err := os.RemoveAll(paths.GameDir); err != nil {
		return apierrors.Storage("clear existing published game dir", err)
	}
	if err := os.MkdirAll(paths.GameDir, 0755); err != nil {
		return apierrors.Storage("create published game dir", err)
	}
	if err := os.Rename(paths.ChunksDir, filepath.Join(paths.GameDir, "chunks")); err != nil {
		return apierrors.Storage("move chunks into published game dir", err)
	}
	if err := moveInto(manifestPath, filepath.Join(paths.GameDir, "manifest.json")); err != nil {
		return err
	}
	if err := moveInto(configPath, filepath.Join(paths.GameDir, "config.yaml")); err != nil {
		return err
	}

	if cfg.IsSteamGame && cfg.GetSteamData && p.Enricher != nil {
		dest := filepath.Join(paths.GameDir, "steamdata")
		// Enrichment is best-effort: its error is dropped, not
		// propagated as a publish failure.
		_ = p.Enricher.Enrich(ctx, cfg.Name, dest)
	}

	// The process dir (and the cursor inside it) is removed by Publish
	// once the runner has recorded this stage as complete.
	return nil
}

func moveInto(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return apierrors.Storage("create destination parent", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return apierrors.Storage("move published document into place", err)
	}
	return nil
}

func writeConfig(path string, cfg model.GameConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return apierrors.Config("marshal game config", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return apierrors.Storage("create config parent dir", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return apierrors.Storage("write game config", err)
	}
	return nil
}

// extractZip unpacks zipPath into destDir, the stdlib equivalent of
// the original pipeline's zipfile-based extraction.
func extractZip(zipPath, destDir string) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return apierrors.Storage("create extraction dir", err)
	}

	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return apierrors.Config("open uploaded archive", err)
	}
	defer r.Close()

	for _, f := range r.File {
		target := filepath.Join(destDir, f.Name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return apierrors.Storage("create extracted directory", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return apierrors.Storage("create extracted file parent", err)
		}
		if err := extractOne(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractOne(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return apierrors.Config("open archive member", err)
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return apierrors.Storage("create extracted member", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return apierrors.Storage("write extracted member", err)
	}
	return nil
}
