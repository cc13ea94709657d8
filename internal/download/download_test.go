package download

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStreamWritesBodyAndReportsProgress(t *testing.T) {
	body := strings.Repeat("x", 3*1024*1024+7)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	var total int64
	err := Stream(context.Background(), srv.URL, dest, func(delta int64) { total += delta })
	if err != nil {
		t.Fatal(err)
	}
	if total != int64(len(body)) {
		t.Fatalf("progress total = %d, want %d", total, len(body))
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != body {
		t.Fatal("downloaded content mismatch")
	}
}

func TestStreamCancellationRemovesPartialFile(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 1<<20))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-block
	}))
	defer srv.Close()
	defer close(block)

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		cancel()
	}()

	err := Stream(ctx, srv.URL, dest, nil)
	if !errors.Is(err, Cancelled) {
		t.Fatalf("err = %v, want Cancelled", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatal("expected partial file to be removed on cancellation")
	}
}

func TestStreamTruncatedContentLengthFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.Write(make([]byte, 50))
		hj, ok := w.(http.Hijacker)
		if !ok {
			return
		}
		conn, _, _ := hj.Hijack()
		conn.Close()
	}))
	defer srv.Close()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	err := Stream(context.Background(), srv.URL, dest, nil)
	if err == nil {
		t.Fatal("expected an error for truncated/closed transfer")
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatal("expected partial file to be removed on failure")
	}
}
