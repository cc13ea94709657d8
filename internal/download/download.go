// Package download implements the client-side streaming chunk fetcher:
// a cancellable GET that reports byte progress and detects truncation.
// Grounded on context-cancellation idioms from the pack's
// ethereum-go-ethereum downloader and the chunked-writer-with-progress
// shape in the b2-writer reference file.
package download

import (
	"context"
	"io"
	"net/http"
	"os"

	"gamevault/internal/model"
	"gamevault/pkg/apierrors"
)

// Cancelled is returned by Stream when ctx is done before the transfer
// completes. It is not wrapped in apierrors since cancellation is not
// an error condition in the job state machine.
var Cancelled = errCancelled{}

type errCancelled struct{}

func (errCancelled) Error() string { return "download cancelled" }

// OnBytes is invoked after each successful read with the number of
// bytes just written, for progress reporting.
type OnBytes func(delta int64)

// Stream issues a streaming GET for url and writes the body to dest,
// 1 MiB at a time, honoring ctx for cancellation between reads. On
// cancellation the partial file is removed and Cancelled is returned.
// If the server declared a Content-Length and the final written size
// differs, the partial file is removed and a TruncatedError returned.
func Stream(ctx context.Context, url, dest string, onBytes OnBytes) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apierrors.Transport("build download request", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Cancelled
		}
		return apierrors.Transport("download request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apierrors.Transport("unexpected status "+resp.Status, nil)
	}

	f, err := os.Create(dest)
	if err != nil {
		return apierrors.Storage("create download destination", err)
	}

	written, err := copyWithCancel(ctx, f, resp.Body, onBytes)
	closeErr := f.Close()
	if err != nil {
		os.Remove(dest)
		if ctx.Err() != nil {
			return Cancelled
		}
		return err
	}
	if closeErr != nil {
		os.Remove(dest)
		return apierrors.Storage("close downloaded file", closeErr)
	}

	if resp.ContentLength >= 0 && written != resp.ContentLength {
		os.Remove(dest)
		return apierrors.Truncated("downloaded size does not match content-length")
	}
	return nil
}

func copyWithCancel(ctx context.Context, dst io.Writer, src io.Reader, onBytes OnBytes) (int64, error) {
	buf := make([]byte, model.DownloadChunkSize)
	var total int64
	for {
		select {
		case <-ctx.Done():
			return total, Cancelled
		default:
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, apierrors.Storage("write downloaded bytes", werr)
			}
			total += int64(n)
			if onBytes != nil {
				onBytes(int64(n))
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return total, nil
			}
			return total, apierrors.Transport("read download body", readErr)
		}
	}
}
