package install

import (
	"io"
	"os"
	"path/filepath"
	"sort"

	"gamevault/internal/classify"
	"gamevault/internal/hashtree"
	"gamevault/internal/model"
	"gamevault/pkg/apierrors"
)

// ReassembleLargeFile concatenates a large file's downloaded parts, in
// strict integer part order, into items/<storedName>, verifies the
// whole-file hash, and removes the parts directory.
func ReassembleLargeFile(entry model.FileEntry, layout Layout) error {
	partsDir := filepath.Join(layout.TmpLarge, entry.Name)
	names, err := os.ReadDir(partsDir)
	if err != nil {
		return apierrors.Storage("list large file parts", err)
	}

	type part struct {
		index int
		name  string
	}
	parts := make([]part, 0, len(names))
	for _, n := range names {
		idx, err := classify.PartIndex(n.Name())
		if err != nil {
			return err
		}
		parts = append(parts, part{index: idx, name: n.Name()})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].index < parts[j].index })

	dst := filepath.Join(layout.Items, entry.Name)
	out, err := os.Create(dst)
	if err != nil {
		return apierrors.Storage("create reassembled file", err)
	}
	for _, p := range parts {
		if err := appendPart(out, filepath.Join(partsDir, p.name)); err != nil {
			out.Close()
			return err
		}
	}
	if err := out.Close(); err != nil {
		return apierrors.Storage("close reassembled file", err)
	}

	gotHash, err := hashtree.HashFile(dst)
	if err != nil {
		return err
	}
	if gotHash != entry.Hash {
		return apierrors.FileIntegrity("reassembled file "+entry.Name+" hash mismatch", nil)
	}

	if err := os.RemoveAll(partsDir); err != nil {
		return apierrors.Storage("remove large file parts dir", err)
	}
	return nil
}

func appendPart(dst *os.File, partPath string) error {
	src, err := os.Open(partPath)
	if err != nil {
		return apierrors.Storage("open large file part", err)
	}
	defer src.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return apierrors.Storage("append large file part", err)
	}
	return nil
}
