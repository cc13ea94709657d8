// Package jobrunner sequences the server-side packaging pipeline
// (extract -> manifest -> chunk -> finalize) and persists a step cursor
// so a crash resumes against the last completed stage instead of
// repeating work, grounded on the teacher's tmp-file-then-rename save
// idiom (storage/manifest.go's saveManifest).
package jobrunner

import (
	"encoding/json"
	"os"
	"path/filepath"

	"gamevault/pkg/apierrors"
)

// Step identifies a completed pipeline stage.
type Step int

const (
	StepNone Step = iota
	StepExtracted
	StepManifested
	StepChunked
	StepFinalized
)

type cursorDoc struct {
	Step int `json:"step"`
}

// LoadCursor reads the persisted step from path, returning StepNone if
// the file does not exist.
func LoadCursor(path string) (Step, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return StepNone, nil
		}
		return StepNone, apierrors.Storage("read step cursor", err)
	}
	var doc cursorDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return StepNone, apierrors.Config("parse step cursor", err)
	}
	return Step(doc.Step), nil
}

// SaveCursor persists step to path via a temp file and rename, the same
// crash-safe idiom the manifest writer uses.
func SaveCursor(path string, step Step) error {
	data, err := json.Marshal(cursorDoc{Step: int(step)})
	if err != nil {
		return apierrors.Storage("marshal step cursor", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return apierrors.Storage("write step cursor tmp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return apierrors.Storage("rename step cursor into place", err)
	}
	return nil
}

// Stage is one unit of pipeline work. Each stage must be idempotent
// when re-entered against a freshly wiped scratch directory.
type Stage struct {
	Name       string
	CompletesAt Step
	Run        func() error
}

// Runner sequences stages against a persisted cursor, skipping any
// stage whose CompletesAt is already behind the loaded cursor.
type Runner struct {
	CursorPath string
	ScratchDir func(stageName string) string
}

// RunStages executes stages in order, wiping ScratchDir(stage.Name)
// before re-entering any stage not yet completed, and persisting the
// cursor after each stage succeeds.
func (r *Runner) RunStages(stages []Stage) error {
	cursor, err := LoadCursor(r.CursorPath)
	if err != nil {
		return err
	}

	for _, stage := range stages {
		if cursor >= stage.CompletesAt {
			continue
		}
		if r.ScratchDir != nil {
			if dir := r.ScratchDir(stage.Name); dir != "" {
				if err := os.RemoveAll(dir); err != nil {
					return apierrors.Storage("wipe scratch dir for stage "+stage.Name, err)
				}
				if err := os.MkdirAll(dir, 0755); err != nil {
					return apierrors.Storage("recreate scratch dir for stage "+stage.Name, err)
				}
			}
		}
		if err := stage.Run(); err != nil {
			return err
		}
		cursor = stage.CompletesAt
		if err := SaveCursor(r.CursorPath, cursor); err != nil {
			return err
		}
	}
	return nil
}

// DefaultStagePath builds the conventional location for a stage's
// scratch directory under a job's working directory.
func DefaultStagePath(workDir, name string) string {
	return filepath.Join(workDir, name)
}
