package hashtree

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.bin")
	data := []byte("hello world")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	got, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256(data)
	want := hex.EncodeToString(sum[:])
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestHashTreeEmpty(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "root")
	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatal(err)
	}

	got, err := HashTree(root)
	if err != nil {
		t.Fatal(err)
	}
	empty := sha256.Sum256(nil)
	want := hex.EncodeToString(empty[:])
	if got != want {
		t.Fatalf("got %s want %s (empty stream hash)", got, want)
	}
}

func TestHashTreeDeterministicOrder(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "root")
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "b.txt"), []byte("B"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "a.txt"), []byte("A"), 0644); err != nil {
		t.Fatal(err)
	}

	got1, err := HashTree(root)
	if err != nil {
		t.Fatal(err)
	}

	// Rebuild the same tree with files created in a different order;
	// the digest must not depend on filesystem enumeration order.
	dir2 := t.TempDir()
	root2 := filepath.Join(dir2, "root")
	if err := os.MkdirAll(filepath.Join(root2, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root2, "sub", "a.txt"), []byte("A"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root2, "b.txt"), []byte("B"), 0644); err != nil {
		t.Fatal(err)
	}

	got2, err := HashTree(root2)
	if err != nil {
		t.Fatal(err)
	}

	if got1 != got2 {
		t.Fatalf("hash depends on creation order: %s != %s", got1, got2)
	}

	// Sanity: sorted("root/b.txt" beats "root/sub/a.txt") since 'b' < 's'.
	expected := sha256.New()
	expected.Write([]byte("B"))
	expected.Write([]byte("A"))
	want := hex.EncodeToString(expected.Sum(nil))
	if got1 != want {
		t.Fatalf("got %s want %s", got1, want)
	}
}
