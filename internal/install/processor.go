package install

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"

	"gamevault/internal/classify"
	"gamevault/internal/hashtree"
	"gamevault/internal/model"
	"gamevault/pkg/apierrors"
)

// ProcessChunk verifies, extracts, and distributes one downloaded
// chunk archive. It is a pure function of its inputs and safe to run
// concurrently across chunks in separate scratch directories, per the
// spec's Chunk Processor contract.
func ProcessChunk(chunkPath string, chunk model.ChunkEntry, files map[string]model.FileEntry, layout Layout) error {
	gotHash, err := hashtree.HashFile(chunkPath)
	if err != nil {
		return err
	}
	if gotHash != chunk.Hash {
		return apierrors.ChunkIntegrity(fmt.Sprintf("chunk %d hash mismatch", chunk.ChunkIndex), nil)
	}

	var scratchRoot string
	if chunk.Category == model.CategoryLarge {
		scratchRoot = layout.TmpLarge
	} else {
		scratchRoot = layout.TmpSmall
	}
	scratch := filepath.Join(scratchRoot, fmt.Sprintf("chunk_%d", chunk.ChunkIndex))
	if err := os.MkdirAll(scratch, 0755); err != nil {
		return apierrors.Storage("create chunk scratch dir", err)
	}

	if err := extractTarXz(chunkPath, scratch); err != nil {
		return err
	}

	if chunk.Category == model.CategoryLarge {
		if err := distributeLargeParts(scratch, layout.TmpLarge); err != nil {
			return err
		}
	} else {
		if err := distributeSmallFiles(scratch, files, layout.Items); err != nil {
			return err
		}
	}

	if err := os.RemoveAll(scratch); err != nil {
		return apierrors.Storage("remove chunk scratch dir", err)
	}
	if err := os.Remove(chunkPath); err != nil {
		return apierrors.Storage("remove processed chunk archive", err)
	}
	return nil
}

func extractTarXz(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return apierrors.Storage("open chunk archive", err)
	}
	defer f.Close()

	xr, err := xz.NewReader(f)
	if err != nil {
		return apierrors.ChunkIntegrity("decompress chunk archive", err)
	}
	tr := tar.NewReader(xr)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return apierrors.ChunkIntegrity("read chunk tar stream", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		out, err := os.Create(filepath.Join(destDir, filepath.Base(hdr.Name)))
		if err != nil {
			return apierrors.Storage("create extracted member", err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return apierrors.Storage("write extracted member", err)
		}
		if err := out.Close(); err != nil {
			return apierrors.Storage("close extracted member", err)
		}
	}
}

// distributeSmallFiles moves every extracted small/medium member into
// items/, keyed by stored name, after verifying its content hash.
func distributeSmallFiles(scratch string, files map[string]model.FileEntry, itemsDir string) error {
	entries, err := os.ReadDir(scratch)
	if err != nil {
		return apierrors.Storage("list extracted chunk members", err)
	}
	for _, e := range entries {
		storedName := e.Name()
		entry, ok := files[storedName]
		if !ok {
			return apierrors.UnknownMember("chunk contains unknown stored name " + storedName)
		}
		path := filepath.Join(scratch, storedName)
		gotHash, err := hashtree.HashFile(path)
		if err != nil {
			return err
		}
		if gotHash != entry.Hash {
			return apierrors.FileIntegrity("file "+storedName+" hash mismatch", nil)
		}
		if err := os.Rename(path, filepath.Join(itemsDir, storedName)); err != nil {
			return apierrors.Storage("move verified file into items", err)
		}
	}
	return nil
}

// distributeLargeParts moves every extracted <storedname>.partN member
// into tmpLarge/<storedname>/<storedname>.partN for later reassembly.
func distributeLargeParts(scratch, tmpLarge string) error {
	entries, err := os.ReadDir(scratch)
	if err != nil {
		return apierrors.Storage("list extracted chunk members", err)
	}
	for _, e := range entries {
		partName := e.Name()
		storedName, err := storedNameFromPart(partName)
		if err != nil {
			return err
		}
		partsDir := filepath.Join(tmpLarge, storedName)
		if err := os.MkdirAll(partsDir, 0755); err != nil {
			return apierrors.Storage("create large file parts dir", err)
		}
		src := filepath.Join(scratch, partName)
		dst := filepath.Join(partsDir, partName)
		if err := os.Rename(src, dst); err != nil {
			return apierrors.Storage("move large file part", err)
		}
	}
	return nil
}

func storedNameFromPart(partName string) (string, error) {
	if _, err := classify.PartIndex(partName); err != nil {
		return "", apierrors.UnknownMember("malformed large file part name " + partName)
	}
	idx := strings.LastIndex(partName, ".part")
	return partName[:idx], nil
}
