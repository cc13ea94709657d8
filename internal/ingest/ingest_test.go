package ingest

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"gamevault/internal/model"
	"gamevault/internal/packager"
)

func writeTestZip(t *testing.T, files map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "game.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, data := range files {
		w, err := zw.Create(filepath.Join("MyGame", name))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPublishProducesInstallableGame(t *testing.T) {
	files := map[string][]byte{
		"readme.txt":   []byte("hello"),
		"data/big.bin": make([]byte, 9<<20), // medium
	}
	zipPath := writeTestZip(t, files)

	baseDir := t.TempDir()
	cfg := model.GameConfig{Name: "Ingestable", ID: "ingestable", Run: "./run.sh"}
	pub := &Publisher{BaseDir: baseDir}

	if err := pub.Publish(context.Background(), "ingestable", zipPath, cfg); err != nil {
		t.Fatal(err)
	}

	gameDir := filepath.Join(baseDir, "games", "ingestable")
	m, err := packager.LoadManifest(filepath.Join(gameDir, "manifest.json"))
	if err != nil {
		t.Fatal(err)
	}
	if m.Root != "MyGame" {
		t.Fatalf("root = %q", m.Root)
	}
	if len(m.Chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	for _, c := range m.Chunks {
		if _, err := os.Stat(filepath.Join(gameDir, "chunks", c.Name)); err != nil {
			t.Fatalf("missing published chunk %s: %v", c.Name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(gameDir, "config.yaml")); err != nil {
		t.Fatal("expected config.yaml to be published")
	}
	if _, err := os.Stat(filepath.Join(baseDir, "processes", "ingestable")); !os.IsNotExist(err) {
		t.Fatal("expected process scratch dir to be cleaned up")
	}
}
