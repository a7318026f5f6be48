package gdrive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/option"
)

type driveStub struct {
	mu       sync.Mutex
	requests []string
}

func (d *driveStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	d.requests = append(d.requests, r.Method+" "+r.URL.Path)
	d.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"id":"file-1","name":"segment"}`))
}

func (d *driveStub) methods() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.requests))
	for i, r := range d.requests {
		out[i], _, _ = strings.Cut(r, " ")
	}
	return out
}

func newTestArchiver(t *testing.T, stub *driveStub) *Archiver {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	a, err := NewArchiverWithOptions(context.Background(), "folder-1",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("NewArchiverWithOptions failed: %v", err)
	}
	return a
}

func TestArchiverCreatesThenUpdates(t *testing.T) {
	stub := &driveStub{}
	a := newTestArchiver(t, stub)

	path := filepath.Join(t.TempDir(), "0001-abc.webm")
	if err := os.WriteFile(path, []byte("webm bytes"), 0o644); err != nil {
		t.Fatalf("write file failed: %v", err)
	}

	if err := a.Upload(context.Background(), path, "s1-0001.webm"); err != nil {
		t.Fatalf("first upload failed: %v", err)
	}
	if err := a.Upload(context.Background(), path, "s1-0001.webm"); err != nil {
		t.Fatalf("second upload failed: %v", err)
	}

	got := stub.methods()
	if len(got) != 2 || got[0] != http.MethodPost || got[1] != http.MethodPatch {
		t.Fatalf("expected POST then PATCH, got %v", got)
	}
	if a.fileIDs["s1-0001.webm"] != "file-1" {
		t.Fatalf("expected file id to be remembered, got %v", a.fileIDs)
	}
}

func TestArchiverMissingFile(t *testing.T) {
	stub := &driveStub{}
	a := newTestArchiver(t, stub)

	err := a.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.wav"), "x")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if len(stub.methods()) != 0 {
		t.Fatalf("expected no requests, got %v", stub.methods())
	}
}

func TestNewArchiverBadCredentials(t *testing.T) {
	_, err := NewArchiver(context.Background(), filepath.Join(t.TempDir(), "nope.json"), "folder")
	if err == nil || !strings.Contains(err.Error(), "read credentials") {
		t.Fatalf("expected read credentials error, got %v", err)
	}
}
