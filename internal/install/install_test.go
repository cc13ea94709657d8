package install

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gamevault/internal/download"
	"gamevault/internal/hashtree"
	"gamevault/internal/model"
	"gamevault/internal/packager"
	"gamevault/internal/status"
)

func writeSourceTree(t *testing.T, files map[string][]byte) string {
	t.Helper()
	root := t.TempDir()
	game := filepath.Join(root, "MyGame")
	if err := os.MkdirAll(game, 0755); err != nil {
		t.Fatal(err)
	}
	for rel, data := range files {
		full := filepath.Join(game, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, data, 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

// buildPublishedGame packs a source tree into a manifest, chunk set,
// and on-disk manifest/config documents, mirroring what the server
// publishes for a client to install.
func buildPublishedGame(t *testing.T, files map[string][]byte, cfg model.GameConfig) (m *model.Manifest, chunksDir, manifestPath, configPath string) {
	t.Helper()
	srcRoot := writeSourceTree(t, files)

	var err error
	m, err = packager.BuildManifest(srcRoot, cfg)
	if err != nil {
		t.Fatal(err)
	}

	workDir := t.TempDir()
	chunksDir = t.TempDir()
	if err := packager.PackChunks(srcRoot, workDir, chunksDir, m, nil); err != nil {
		t.Fatal(err)
	}

	docDir := t.TempDir()
	manifestPath = filepath.Join(docDir, "manifest.json")
	if err := packager.SaveManifest(manifestPath, m); err != nil {
		t.Fatal(err)
	}
	configPath = filepath.Join(docDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("name: "+cfg.Name+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return m, chunksDir, manifestPath, configPath
}

func chunkFetcherFrom(chunksDir string, m *model.Manifest) ChunkFetcher {
	byIndex := make(map[int]string, len(m.Chunks))
	for _, c := range m.Chunks {
		byIndex[c.ChunkIndex] = c.Name
	}
	return func(ctx context.Context, chunkIndex int, dest string, onBytes download.OnBytes) error {
		data, err := os.ReadFile(filepath.Join(chunksDir, byIndex[chunkIndex]))
		if err != nil {
			return err
		}
		return os.WriteFile(dest, data, 0644)
	}
}

func TestPipelineRoundTrip(t *testing.T) {
	files := map[string][]byte{
		"readme.txt":      []byte("hello world"),
		"data/level1.bin":  make([]byte, 1<<20),
		"data/level2.bin":  make([]byte, 9<<20),  // medium
		"data/big.pak":     make([]byte, 33<<20), // large
	}
	for i := range files["data/big.pak"] {
		files["data/big.pak"][i] = byte(i % 17)
	}
	cfg := model.GameConfig{Name: "Roundtrip", ID: "roundtrip"}
	m, chunksDir, manifestPath, configPath := buildPublishedGame(t, files, cfg)

	baseDir := t.TempDir()
	registry := status.NewRegistry()
	pipe := &Pipeline{BaseDir: baseDir, Registry: registry}

	err := pipe.Run(context.Background(), "roundtrip", m, manifestPath, configPath, chunkFetcherFrom(chunksDir, m))
	if err != nil {
		t.Fatal(err)
	}

	got := registry.Get("roundtrip")
	if got.State != status.StateCompleted {
		t.Fatalf("state = %s, want completed (error=%s)", got.State, got.Error)
	}

	installedRoot := filepath.Join(baseDir, "games", "roundtrip", m.Root)
	gotHash, err := hashtree.HashTree(installedRoot)
	if err != nil {
		t.Fatal(err)
	}
	if gotHash != m.Hash {
		t.Fatalf("installed tree hash = %s, want %s", gotHash, m.Hash)
	}

	for rel, want := range files {
		got, err := os.ReadFile(filepath.Join(installedRoot, rel))
		if err != nil {
			t.Fatalf("reading installed %s: %v", rel, err)
		}
		if string(got) != string(want) {
			t.Fatalf("content mismatch for %s", rel)
		}
	}

	if _, err := os.Stat(filepath.Join(baseDir, "downloads", "roundtrip")); !os.IsNotExist(err) {
		t.Fatal("expected download staging to be wiped after install")
	}
}

func TestPipelineIntegrityFailureLeavesNoInstalledTree(t *testing.T) {
	files := map[string][]byte{"a.bin": make([]byte, 5<<20)}
	cfg := model.GameConfig{Name: "Corrupt", ID: "corrupt"}
	m, chunksDir, manifestPath, configPath := buildPublishedGame(t, files, cfg)

	// flip a byte in the published chunk archive on disk
	chunkPath := filepath.Join(chunksDir, m.Chunks[0].Name)
	data, err := os.ReadFile(chunkPath)
	if err != nil {
		t.Fatal(err)
	}
	data[0] ^= 0xFF
	if err := os.WriteFile(chunkPath, data, 0644); err != nil {
		t.Fatal(err)
	}

	baseDir := t.TempDir()
	registry := status.NewRegistry()
	pipe := &Pipeline{BaseDir: baseDir, Registry: registry}

	_ = pipe.Run(context.Background(), "corrupt", m, manifestPath, configPath, chunkFetcherFrom(chunksDir, m))

	got := registry.Get("corrupt")
	if got.State != status.StateError {
		t.Fatalf("state = %s, want error", got.State)
	}
	if _, err := os.Stat(filepath.Join(baseDir, "games", "corrupt")); !os.IsNotExist(err) {
		t.Fatal("expected no installed game directory after integrity failure")
	}
}

func TestPipelineCancellationStopsBeforeInstall(t *testing.T) {
	files := map[string][]byte{
		"a.bin": make([]byte, 1<<20),
		"b.bin": make([]byte, 1<<20),
		"c.bin": make([]byte, 1<<20),
	}
	cfg := model.GameConfig{Name: "Cancel", ID: "cancel"}
	m, chunksDir, manifestPath, configPath := buildPublishedGame(t, files, cfg)

	baseDir := t.TempDir()
	registry := status.NewRegistry()
	pipe := &Pipeline{BaseDir: baseDir, Registry: registry}

	base := chunkFetcherFrom(chunksDir, m)
	stopped := false
	fetch := func(ctx context.Context, chunkIndex int, dest string, onBytes download.OnBytes) error {
		if err := base(ctx, chunkIndex, dest, onBytes); err != nil {
			return err
		}
		if !stopped {
			stopped = true
			registry.Stop("cancel")
		}
		return nil
	}

	_ = pipe.Run(context.Background(), "cancel", m, manifestPath, configPath, fetch)

	got := registry.Get("cancel")
	if got.State != status.StateCancelled {
		t.Fatalf("state = %s, want cancelled", got.State)
	}
	if _, err := os.Stat(filepath.Join(baseDir, "downloads", "cancel")); !os.IsNotExist(err) {
		t.Fatal("expected download staging removed after cancellation")
	}
	if _, err := os.Stat(filepath.Join(baseDir, "games", "cancel")); !os.IsNotExist(err) {
		t.Fatal("expected no installed game directory after cancellation")
	}
}
