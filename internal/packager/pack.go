package packager

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/ulikunitz/xz"

	"gamevault/internal/classify"
	"gamevault/internal/hashtree"
	"gamevault/internal/model"
	"gamevault/pkg/apierrors"
)

// Progress receives a monotonically increasing integer percentage
// spanning the packer's stage bands (see band constants below).
type Progress func(percent int)

// Stage progress bands, fixed so operators see linear, predictable
// movement within each stage regardless of tree shape.
const (
	bandManifestStart = 10
	bandManifestEnd   = 30
	bandSmallStart    = 30
	bandSmallEnd      = 40
	bandMediumStart   = 40
	bandMediumEnd     = 55
	bandLargeStart    = 55
	bandLargeEnd      = 95
)

type scratchDirs struct {
	small      string
	medium     string
	large      string
	largeSplit string
}

// PackChunks packs files under extractedRoot (referenced by m.Files[].Path)
// into compressed chunks under chunksDir, mutating m.Chunks in place. It
// moves each file's bytes into a per-category scratch directory under
// workDir before packing, reducing overlap between passes' working sets.
func PackChunks(extractedRoot, workDir, chunksDir string, m *model.Manifest, progress Progress) error {
	if progress == nil {
		progress = func(int) {}
	}
	if err := os.MkdirAll(chunksDir, 0755); err != nil {
		return apierrors.Storage("create chunks dir", err)
	}

	dirs := scratchDirs{
		small:      filepath.Join(workDir, "smallFiles"),
		medium:     filepath.Join(workDir, "mediumFiles"),
		large:      filepath.Join(workDir, "largeFiles"),
		largeSplit: filepath.Join(workDir, "largeFiles_split"),
	}
	for _, d := range []string{dirs.small, dirs.medium, dirs.large, dirs.largeSplit} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return apierrors.Storage("create scratch dir "+d, err)
		}
	}

	var chunks []model.ChunkEntry
	chunkIndex := 0

	small, medium, large := partitionByCategory(m.Files)

	idx, smallChunks, err := packSmall(extractedRoot, dirs.small, chunksDir, small, chunkIndex, progress)
	if err != nil {
		return err
	}
	chunks = append(chunks, smallChunks...)
	chunkIndex = idx

	idx, mediumChunks, err := packMedium(extractedRoot, dirs.medium, chunksDir, medium, chunkIndex, progress)
	if err != nil {
		return err
	}
	chunks = append(chunks, mediumChunks...)
	chunkIndex = idx

	_, largeChunks, err := packLarge(extractedRoot, dirs.large, dirs.largeSplit, chunksDir, large, chunkIndex, progress)
	if err != nil {
		return err
	}
	chunks = append(chunks, largeChunks...)

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ChunkIndex < chunks[j].ChunkIndex })
	m.Chunks = chunks

	progress(100)
	return nil
}

func partitionByCategory(files []model.FileEntry) (small, medium, large []model.FileEntry) {
	for _, f := range files {
		switch f.Category {
		case model.CategorySmall:
			small = append(small, f)
		case model.CategoryMedium:
			medium = append(medium, f)
		case model.CategoryLarge:
			large = append(large, f)
		}
	}
	return
}

// packSmall batches small files, in manifest order, closing a chunk
// whenever the running uncompressed total reaches model.PreferredChunkSize
// after appending a file (so the final batch in a run may exceed the
// threshold by up to one file's size). Any non-empty residual batch
// after the last file becomes a final chunk.
func packSmall(extractedRoot, scratchDir, chunksDir string, files []model.FileEntry, startIndex int, progress Progress) (int, []model.ChunkEntry, error) {
	type staged struct {
		path string
		meta model.FileEntry
	}
	var moved []staged
	for _, meta := range files {
		src := filepath.Join(extractedRoot, meta.Path)
		dst := filepath.Join(scratchDir, meta.Name)
		if err := os.Rename(src, dst); err != nil {
			return startIndex, nil, apierrors.Storage("stage small file "+meta.Path, err)
		}
		moved = append(moved, staged{path: dst, meta: meta})
	}

	var chunks []model.ChunkEntry
	chunkIndex := startIndex

	var batch []staged
	var batchSize int64

	closeBatch := func() error {
		if len(batch) == 0 {
			return nil
		}
		members := make([]tarMember, 0, len(batch))
		var names []string
		for _, s := range batch {
			members = append(members, tarMember{srcPath: s.path, arcname: s.meta.Name})
			names = append(names, s.meta.Name)
		}
		chunkPath := filepath.Join(chunksDir, chunkName(chunkIndex))
		hash, err := writeTarXzChunk(chunkPath, members)
		if err != nil {
			return err
		}
		chunks = append(chunks, model.ChunkEntry{
			Name:       chunkName(chunkIndex),
			ChunkIndex: chunkIndex,
			Files:      names,
			Hash:       hash,
			Category:   model.CategorySmall,
		})
		chunkIndex++
		batch = nil
		batchSize = 0
		return nil
	}

	for i, s := range moved {
		batch = append(batch, s)
		batchSize += s.meta.Size
		if batchSize >= model.PreferredChunkSize {
			if err := closeBatch(); err != nil {
				return startIndex, nil, err
			}
		}
		progress(bandSmallStart + (i+1)*(bandSmallEnd-bandSmallStart)/max(1, len(moved)))
	}
	if err := closeBatch(); err != nil {
		return startIndex, nil, err
	}

	_ = os.RemoveAll(scratchDir)
	return chunkIndex, chunks, nil
}

// packMedium packs each medium file alone into one chunk, parallelized
// across a worker pool bounded by the host's core count.
func packMedium(extractedRoot, scratchDir, chunksDir string, files []model.FileEntry, startIndex int, progress Progress) (int, []model.ChunkEntry, error) {
	type staged struct {
		path string
		meta model.FileEntry
		idx  int
	}
	var moved []staged
	for i, meta := range files {
		src := filepath.Join(extractedRoot, meta.Path)
		dst := filepath.Join(scratchDir, meta.Name)
		if err := os.Rename(src, dst); err != nil {
			return startIndex, nil, apierrors.Storage("stage medium file "+meta.Path, err)
		}
		moved = append(moved, staged{path: dst, meta: meta, idx: startIndex + i})
	}

	results := make([]model.ChunkEntry, len(moved))
	errs := make([]error, len(moved))
	var done int32
	var mu sync.Mutex

	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	if workers > len(moved) {
		workers = len(moved)
	}

	work := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				s := moved[i]
				chunkPath := filepath.Join(chunksDir, chunkName(s.idx))
				hash, err := writeTarXzChunk(chunkPath, []tarMember{{srcPath: s.path, arcname: s.meta.Name}})
				if err != nil {
					errs[i] = err
					continue
				}
				results[i] = model.ChunkEntry{
					Name:       chunkName(s.idx),
					ChunkIndex: s.idx,
					Files:      []string{s.meta.Name},
					Hash:       hash,
					Category:   model.CategoryMedium,
				}
				mu.Lock()
				done++
				n := done
				mu.Unlock()
				progress(bandMediumStart + int(n)*(bandMediumEnd-bandMediumStart)/max(1, len(moved)))
			}
		}()
	}
	for i := range moved {
		work <- i
	}
	close(work)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return startIndex, nil, err
		}
	}

	_ = os.RemoveAll(scratchDir)
	return startIndex + len(moved), results, nil
}

// packLarge splits every large file into fixed-size parts, then packs
// each part alone into one chunk, parallelized like packMedium.
func packLarge(extractedRoot, scratchDir, splitDir, chunksDir string, files []model.FileEntry, startIndex int, progress Progress) (int, []model.ChunkEntry, error) {
	for _, meta := range files {
		src := filepath.Join(extractedRoot, meta.Path)
		dst := filepath.Join(scratchDir, meta.Name)
		if err := os.Rename(src, dst); err != nil {
			return startIndex, nil, apierrors.Storage("stage large file "+meta.Path, err)
		}
		if _, err := classify.Split(dst, meta.Name, splitDir); err != nil {
			return startIndex, nil, err
		}
	}
	_ = os.RemoveAll(scratchDir)

	entries, err := os.ReadDir(splitDir)
	if err != nil {
		return startIndex, nil, apierrors.Storage("read split parts dir", err)
	}
	var partNames []string
	for _, e := range entries {
		if !e.IsDir() {
			partNames = append(partNames, e.Name())
		}
	}
	sort.Strings(partNames)

	results := make([]model.ChunkEntry, len(partNames))
	errs := make([]error, len(partNames))
	var done int32
	var mu sync.Mutex

	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	if workers > len(partNames) && len(partNames) > 0 {
		workers = len(partNames)
	}

	work := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				name := partNames[i]
				idx := startIndex + i
				chunkPath := filepath.Join(chunksDir, chunkName(idx))
				hash, err := writeTarXzChunk(chunkPath, []tarMember{{srcPath: filepath.Join(splitDir, name), arcname: name}})
				if err != nil {
					errs[i] = err
					continue
				}
				results[i] = model.ChunkEntry{
					Name:       chunkName(idx),
					ChunkIndex: idx,
					Files:      []string{name},
					Hash:       hash,
					Category:   model.CategoryLarge,
				}
				mu.Lock()
				done++
				n := done
				mu.Unlock()
				progress(bandLargeStart + int(n)*(bandLargeEnd-bandLargeStart)/max(1, len(partNames)))
			}
		}()
	}
	for i := range partNames {
		work <- i
	}
	close(work)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return startIndex, nil, err
		}
	}

	_ = os.RemoveAll(splitDir)
	return startIndex + len(partNames), results, nil
}

type tarMember struct {
	srcPath string
	arcname string
}

// writeTarXzChunk tars members (flat, by arcname) into an xz-compressed
// archive at chunkPath and returns the SHA-256 of the compressed bytes.
func writeTarXzChunk(chunkPath string, members []tarMember) (string, error) {
	f, err := os.Create(chunkPath)
	if err != nil {
		return "", apierrors.Storage("create chunk file", err)
	}
	defer f.Close()

	xw, err := xz.NewWriter(f)
	if err != nil {
		return "", apierrors.Storage("create xz writer", err)
	}

	tw := tar.NewWriter(xw)
	for _, m := range members {
		if err := addTarMember(tw, m); err != nil {
			tw.Close()
			xw.Close()
			return "", err
		}
	}
	if err := tw.Close(); err != nil {
		xw.Close()
		return "", apierrors.Storage("close tar writer", err)
	}
	if err := xw.Close(); err != nil {
		return "", apierrors.Storage("close xz writer", err)
	}
	if err := f.Close(); err != nil {
		return "", apierrors.Storage("close chunk file", err)
	}

	hash, err := hashtree.HashFile(chunkPath)
	if err != nil {
		return "", err
	}
	return hash, nil
}

func addTarMember(tw *tar.Writer, m tarMember) error {
	info, err := os.Stat(m.srcPath)
	if err != nil {
		return apierrors.Storage("stat tar member "+m.srcPath, err)
	}
	hdr := &tar.Header{
		Name: m.arcname,
		Mode: 0644,
		Size: info.Size(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return apierrors.Storage("write tar header", err)
	}
	src, err := os.Open(m.srcPath)
	if err != nil {
		return apierrors.Storage("open tar member", err)
	}
	defer src.Close()
	if _, err := io.Copy(tw, src); err != nil {
		return apierrors.Storage("copy tar member body", err)
	}
	return nil
}

func chunkName(index int) string {
	return fmt.Sprintf("chunk_%d.tar.xz", index)
}
