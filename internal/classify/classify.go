// Package classify assigns a size category to a file and splits large
// files into fixed-size ordered parts for chunking.
package classify

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gamevault/internal/model"
	"gamevault/pkg/apierrors"
)

// Category returns the size category for a file of the given byte size.
func Category(size int64) model.Category {
	return model.Classify(size)
}

// Split writes storedName's file at srcPath into ceil(size/8MiB) parts
// named "<storedName>.part<i>" under outDir, each exactly
// model.PreferredChunkSize bytes except possibly the last. It returns
// the number of parts written. Part order is by integer i, never by
// lexicographic name; callers must parse the suffix to reassemble.
func Split(srcPath, storedName, outDir string) (int, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return 0, apierrors.Storage("create split output dir", err)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return 0, apierrors.Storage("open file to split", err)
	}
	defer src.Close()

	buf := make([]byte, model.PreferredChunkSize)
	i := 0
	for {
		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			partPath := filepath.Join(outDir, fmt.Sprintf("%s.part%d", storedName, i))
			if werr := os.WriteFile(partPath, buf[:n], 0644); werr != nil {
				return 0, apierrors.Storage("write split part", werr)
			}
			i++
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return 0, apierrors.Storage("read file to split", readErr)
		}
	}
	return i, nil
}

// PartCount returns the number of parts Split will produce for a file
// of the given size.
func PartCount(size int64) int {
	if size <= 0 {
		return 0
	}
	n := size / model.PreferredChunkSize
	if size%model.PreferredChunkSize != 0 {
		n++
	}
	return int(n)
}

// PartIndex extracts the integer i from a part file named
// "<storedName>.part<i>". Order must be by this integer, never by
// lexicographic string comparison of the filename.
func PartIndex(partName string) (int, error) {
	idx := strings.LastIndex(partName, ".part")
	if idx < 0 {
		return 0, apierrors.Storage("malformed part name: "+partName, nil)
	}
	n, err := strconv.Atoi(partName[idx+len(".part"):])
	if err != nil {
		return 0, apierrors.Storage("malformed part index: "+partName, err)
	}
	return n, nil
}
