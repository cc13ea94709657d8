// Package hashtree streams SHA-256 digests over single files and whole
// directory trees. The 1 MiB read granularity is fixed so independent
// implementations produce identical digests regardless of platform
// buffering.
package hashtree

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gamevault/internal/model"
	"gamevault/pkg/apierrors"
)

// HashFile streams path in model.HashChunkSize reads into a single
// SHA-256 state and returns its lowercase hex digest.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", apierrors.Storage("open file for hashing", err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, model.HashChunkSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", apierrors.Storage("read file for hashing", readErr)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashTree enumerates every descendant of root, sorts the relative
// paths lexicographically, and feeds the concatenated contents of every
// regular file into one SHA-256 state. Directories contribute no bytes.
// Symlinks are followed only when they resolve to a regular file inside
// the tree; anything that resolves outside the tree fails.
func HashTree(root string) (string, error) {
	type entry struct {
		relPath string
		absPath string
	}
	var entries []entry

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", apierrors.Storage("resolve tree root", err)
	}

	walkErr := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		resolved := info
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := filepath.EvalSymlinks(path)
			if err != nil {
				return apierrors.Storage("resolve symlink "+path, err)
			}
			absTarget, err := filepath.Abs(target)
			if err != nil {
				return err
			}
			if !strings.HasPrefix(absTarget, absRoot+string(filepath.Separator)) && absTarget != absRoot {
				return apierrors.FileIntegrity("symlink escapes tree: "+path, nil)
			}
			resolved, err = os.Stat(target)
			if err != nil {
				return err
			}
			if resolved.IsDir() {
				return nil
			}
		} else if info.IsDir() {
			return nil
		}
		if !resolved.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entries = append(entries, entry{relPath: filepath.ToSlash(rel), absPath: path})
		return nil
	})
	if walkErr != nil {
		return "", walkErr
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].relPath < entries[j].relPath })

	h := sha256.New()
	buf := make([]byte, model.HashChunkSize)
	for _, e := range entries {
		f, err := os.Open(e.absPath)
		if err != nil {
			return "", apierrors.Storage("open "+e.absPath+" for tree hash", err)
		}
		for {
			n, readErr := f.Read(buf)
			if n > 0 {
				h.Write(buf[:n])
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				f.Close()
				return "", apierrors.Storage("read "+e.absPath+" for tree hash", readErr)
			}
		}
		f.Close()
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
