package savekeeper

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPreserveNoOpWhenSaveAbsent(t *testing.T) {
	dir := t.TempDir()
	if err := Preserve(filepath.Join(dir, "game"), "saves/slot1.bin", filepath.Join(dir, "snap")); err != nil {
		t.Fatal(err)
	}
}

func TestPreserveThenRestoreFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	gameDir := filepath.Join(dir, "game")
	snapDir := filepath.Join(dir, "snap", "saves", "slot1.bin")
	savePath := "saves/slot1.bin"

	full := filepath.Join(gameDir, savePath)
	os.MkdirAll(filepath.Dir(full), 0755)
	os.WriteFile(full, []byte("AABB"), 0644)

	if err := Preserve(gameDir, savePath, snapDir); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(full); !os.IsNotExist(err) {
		t.Fatal("expected save to be moved out")
	}

	// Reinstall writes a fresh tree without the save file, then restore
	// merges the snapshot back in.
	os.MkdirAll(gameDir, 0755)
	if err := Restore(gameDir, savePath, snapDir); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(full)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "AABB" {
		t.Fatalf("content = %q, want AABB", got)
	}
}

func TestRestoreMergesDirectorySnapshotIntoExistingDestination(t *testing.T) {
	dir := t.TempDir()
	gameDir := filepath.Join(dir, "game")
	snapDir := filepath.Join(dir, "snap", "saves")
	savePath := "saves"

	os.MkdirAll(snapDir, 0755)
	os.WriteFile(filepath.Join(snapDir, "a.bin"), []byte("A"), 0644)

	dst := filepath.Join(gameDir, savePath)
	os.MkdirAll(dst, 0755)
	os.WriteFile(filepath.Join(dst, "b.bin"), []byte("B"), 0644)

	if err := Restore(gameDir, savePath, snapDir); err != nil {
		t.Fatal(err)
	}
	if got, _ := os.ReadFile(filepath.Join(dst, "a.bin")); string(got) != "A" {
		t.Fatal("merged file a.bin missing or wrong")
	}
	if got, _ := os.ReadFile(filepath.Join(dst, "b.bin")); string(got) != "B" {
		t.Fatal("pre-existing file b.bin should survive merge")
	}
	if _, err := os.Stat(snapDir); !os.IsNotExist(err) {
		t.Fatal("expected snapshot directory removed after merge")
	}
}

func TestRestoreAbortsOnTypeMismatch(t *testing.T) {
	dir := t.TempDir()
	gameDir := filepath.Join(dir, "game")
	snapDir := filepath.Join(dir, "snap", "saves")
	savePath := "saves"

	os.MkdirAll(snapDir, 0755) // snapshot is a directory
	dst := filepath.Join(gameDir, savePath)
	os.MkdirAll(gameDir, 0755)
	os.WriteFile(dst, []byte("file, not dir"), 0644) // destination is a file

	if err := Restore(gameDir, savePath, snapDir); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(snapDir); err != nil {
		t.Fatal("expected snapshot to remain in place after aborted restore")
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "file, not dir" {
		t.Fatal("existing destination file must be left untouched")
	}
}
