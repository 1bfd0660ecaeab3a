package upload_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"nori/internal/logging"
	"nori/internal/registry"
	"nori/internal/upload"
)

type fakeUploader struct {
	mu       sync.Mutex
	requests []upload.Request
	err      error
}

func (f *fakeUploader) Upload(_ context.Context, req upload.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.err
}

func (f *fakeUploader) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func openRegistry(t *testing.T) *registry.Store {
	t.Helper()
	store, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func writeTranscript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claude-code", "proj", "abc-123.jsonl")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

const sample = `{"type":"user","sessionId":"abc-123","message":"hi"}
not json
{"type":"assistant","sessionId":"abc-123","message":"hello"}
`

func TestProcessUploadsOnceForSameContent(t *testing.T) {
	ctx := context.Background()
	store := openRegistry(t)
	uploader := &fakeUploader{}
	pipeline := upload.NewPipeline(store, uploader, logging.NewNop())
	path := writeTranscript(t, sample)

	first, err := pipeline.Process(ctx, path, "org-1")
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if !first.Uploaded || first.SessionID != "abc-123" {
		t.Fatalf("unexpected first result %+v", first)
	}
	if uploader.calls() != 1 {
		t.Fatalf("expected one upload, got %d", uploader.calls())
	}
	req := uploader.requests[0]
	if req.OrgID != "org-1" || len(req.Records) != 2 {
		t.Fatalf("unexpected request %+v", req)
	}

	second, err := pipeline.Process(ctx, path, "org-1")
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if !second.AlreadyUploaded || second.Uploaded {
		t.Fatalf("expected dedup hit, got %+v", second)
	}
	if uploader.calls() != 1 {
		t.Fatalf("dedup hit must not call the uploader, got %d calls", uploader.calls())
	}
}

func TestProcessReuploadsChangedContent(t *testing.T) {
	ctx := context.Background()
	store := openRegistry(t)
	uploader := &fakeUploader{}
	pipeline := upload.NewPipeline(store, uploader, logging.NewNop())
	path := writeTranscript(t, sample)

	first, err := pipeline.Process(ctx, path, "org-1")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := os.WriteFile(path, []byte(sample+`{"sessionId":"abc-123","message":"more"}`+"\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	second, err := pipeline.Process(ctx, path, "org-1")
	if err != nil {
		t.Fatalf("Process after change: %v", err)
	}
	if !second.Uploaded || second.Hash == first.Hash {
		t.Fatalf("changed content must upload again, got %+v", second)
	}
	record, err := store.Get(ctx, "abc-123")
	if err != nil || record == nil {
		t.Fatalf("Get: %v %v", record, err)
	}
	if record.FileHash != second.Hash {
		t.Fatalf("registry hash %q, want %q", record.FileHash, second.Hash)
	}
}

func TestProcessFailureLeavesRegistryUntouched(t *testing.T) {
	ctx := context.Background()
	store := openRegistry(t)
	uploader := &fakeUploader{err: errors.New("boom")}
	pipeline := upload.NewPipeline(store, uploader, logging.NewNop())
	path := writeTranscript(t, sample)

	if _, err := pipeline.Process(ctx, path, "org-1"); err == nil {
		t.Fatal("expected error from failing uploader")
	}
	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Fatalf("failed upload must not be recorded, got %d rows", count)
	}

	uploader.err = nil
	result, err := pipeline.Process(ctx, path, "org-1")
	if err != nil || !result.Uploaded {
		t.Fatalf("retry should upload, got %+v %v", result, err)
	}
}

func TestProcessValidationErrors(t *testing.T) {
	ctx := context.Background()
	pipeline := upload.NewPipeline(openRegistry(t), &fakeUploader{}, logging.NewNop())

	noID := writeTranscript(t, `{"type":"summary"}`+"\n")
	_, err := pipeline.Process(ctx, noID, "org-1")
	if !errors.Is(err, upload.ErrNoSessionID) || !upload.IsValidation(err) {
		t.Fatalf("expected ErrNoSessionID, got %v", err)
	}

	withID := writeTranscript(t, sample)
	_, err = pipeline.Process(ctx, withID, " ")
	if !errors.Is(err, upload.ErrNoDestination) || !upload.IsValidation(err) {
		t.Fatalf("expected ErrNoDestination, got %v", err)
	}

	_, err = pipeline.Process(ctx, filepath.Join(t.TempDir(), "missing.jsonl"), "org-1")
	if err == nil || upload.IsValidation(err) {
		t.Fatalf("missing file should be a transient error, got %v", err)
	}
}
