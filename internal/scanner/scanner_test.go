package scanner_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nori/internal/daemonstate"
	"nori/internal/ingest"
	"nori/internal/logging"
	"nori/internal/registry"
	"nori/internal/scanner"
	"nori/internal/upload"
	"nori/internal/watcher"
)

type fakeProcessor struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (f *fakeProcessor) Process(_ context.Context, path, _ string) (upload.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	if f.err != nil {
		return upload.Result{}, f.err
	}
	return upload.Result{Uploaded: true}, nil
}

func (f *fakeProcessor) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func cacheFile(t *testing.T, root, session string, modTime time.Time) string {
	t.Helper()
	path := filepath.Join(root, "claude-code", "proj", session+".jsonl")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{"sessionId":"`+session+`"}`+"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	return path
}

func newScanner(root string, state *daemonstate.State, p scanner.Processor, maxFailures int) *scanner.Scanner {
	return scanner.New(scanner.Options{
		CacheRoot:             root,
		Interval:              time.Hour,
		Thresholds:            scanner.DefaultThresholds(),
		MaxValidationFailures: maxFailures,
	}, state, p, logging.NewNop())
}

func TestTickClassifiesAndActs(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	fresh := cacheFile(t, root, "fresh", now.Add(-10*time.Second))
	stale := cacheFile(t, root, "stale", now.Add(-35*time.Second))
	expired := cacheFile(t, root, "expired", now.Add(-25*time.Hour))

	state := daemonstate.New(1)
	state.SetOrgID("org-1")
	proc := &fakeProcessor{}
	result := newScanner(root, state, proc, 5).Tick(context.Background(), now)

	if result.Fresh != 1 {
		t.Fatalf("expected one fresh transcript, got %d", result.Fresh)
	}
	if got := proc.calls(); len(got) != 1 || got[0] != stale {
		t.Fatalf("only the stale transcript may be processed, got %v", got)
	}
	if len(result.Deleted) != 1 || result.Deleted[0] != expired {
		t.Fatalf("expected expired transcript deleted, got %v", result.Deleted)
	}
	if _, err := os.Stat(expired); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expired transcript still on disk: %v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh transcript must stay: %v", err)
	}
	if state.InFlight() != 0 {
		t.Fatalf("in-flight set not released, %d entries", state.InFlight())
	}
}

func TestTickSkipsPathAlreadyInFlight(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	stale := cacheFile(t, root, "stale", now.Add(-time.Minute))
	state := daemonstate.New(1)
	state.SetOrgID("org-1")
	if !state.TryBeginUpload(stale) {
		t.Fatal("setup: acquire")
	}
	proc := &fakeProcessor{}
	result := newScanner(root, state, proc, 5).Tick(context.Background(), now)
	if len(proc.calls()) != 0 {
		t.Fatal("in-flight transcript must not be processed twice")
	}
	if len(result.Skipped) != 1 {
		t.Fatalf("expected skip, got %+v", result)
	}
}

func TestTickDoesNothingDuringShutdown(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	expired := cacheFile(t, root, "old", now.Add(-48*time.Hour))
	cacheFile(t, root, "stale", now.Add(-time.Minute))
	state := daemonstate.New(1)
	state.SetOrgID("org-1")
	state.BeginShutdown()
	proc := &fakeProcessor{}

	newScanner(root, state, proc, 5).Tick(context.Background(), now)
	if len(proc.calls()) != 0 {
		t.Fatal("no upload may start during shutdown")
	}
	if _, err := os.Stat(expired); err != nil {
		t.Fatalf("no deletion during shutdown: %v", err)
	}
}

type blockingProcessor struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
	ctxErr  error
}

func (b *blockingProcessor) Process(ctx context.Context, _, _ string) (upload.Result, error) {
	if b.calls.Add(1) == 1 {
		close(b.started)
		<-b.release
		b.ctxErr = ctx.Err()
	}
	return upload.Result{Uploaded: true}, nil
}

func TestCancelLetsRunningUploadFinish(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	cacheFile(t, root, "a", now.Add(-time.Minute))
	cacheFile(t, root, "b", now.Add(-time.Minute))
	state := daemonstate.New(1)
	state.SetOrgID("org-1")
	proc := &blockingProcessor{started: make(chan struct{}), release: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan scanner.TickResult, 1)
	go func() { done <- newScanner(root, state, proc, 5).Tick(ctx, now) }()

	<-proc.started
	cancel()
	close(proc.release)
	result := <-done

	if proc.ctxErr != nil {
		t.Fatalf("running upload saw a cancelled context: %v", proc.ctxErr)
	}
	if len(result.Uploaded) != 1 {
		t.Fatalf("expected the running upload to complete, got %+v", result)
	}
	if got := proc.calls.Load(); got != 1 {
		t.Fatalf("no further upload may start after cancel, got %d calls", got)
	}
}

func TestTickWithoutDestinationSkipsUploads(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	cacheFile(t, root, "stale", now.Add(-time.Minute))
	proc := &fakeProcessor{}
	result := newScanner(root, daemonstate.New(1), proc, 5).Tick(context.Background(), now)
	if len(proc.calls()) != 0 || len(result.Skipped) != 1 {
		t.Fatalf("expected skip without destination, got %+v", result)
	}
}

func TestTickQuarantinesRepeatedValidationFailures(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	stale := cacheFile(t, root, "bad", now.Add(-time.Minute))
	state := daemonstate.New(1)
	state.SetOrgID("org-1")
	proc := &fakeProcessor{err: upload.ErrNoSessionID}
	s := newScanner(root, state, proc, 2)

	for i := 0; i < 4; i++ {
		s.Tick(context.Background(), now)
	}
	if got := len(proc.calls()); got != 2 {
		t.Fatalf("expected 2 attempts before quarantine, got %d", got)
	}

	touched := now.Add(-40 * time.Second)
	if err := os.Chtimes(stale, touched, touched); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	s.Tick(context.Background(), now)
	if got := len(proc.calls()); got != 3 {
		t.Fatalf("a modified transcript must be retried, got %d attempts", got)
	}
}

func TestTickKeepsTranscriptOnUploadFailure(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	stale := cacheFile(t, root, "s", now.Add(-time.Minute))
	state := daemonstate.New(1)
	state.SetOrgID("org-1")
	proc := &fakeProcessor{err: errors.New("connection refused")}
	s := newScanner(root, state, proc, 1)

	for i := 0; i < 3; i++ {
		result := s.Tick(context.Background(), now)
		if len(result.Failed) != 1 {
			t.Fatalf("tick %d: expected failure, got %+v", i, result)
		}
	}
	if _, err := os.Stat(stale); err != nil {
		t.Fatalf("transcript must be kept after remote failure: %v", err)
	}
}

func TestRunTicksImmediately(t *testing.T) {
	root := t.TempDir()
	cacheFile(t, root, "s", time.Now().Add(-time.Minute))
	state := daemonstate.New(1)
	state.SetOrgID("org-1")
	proc := &fakeProcessor{}
	s := newScanner(root, state, proc, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for len(proc.calls()) == 0 {
		select {
		case <-deadline:
			t.Fatal("Run did not tick immediately")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func TestSummaryCountsByClass(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	cacheFile(t, root, "a", now.Add(-time.Second))
	cacheFile(t, root, "b", now.Add(-time.Minute))
	cacheFile(t, root, "c", now.Add(-2*time.Minute))
	cacheFile(t, root, "d", now.Add(-30*time.Hour))
	counts, err := scanner.Summary(root, now, scanner.DefaultThresholds())
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if counts[scanner.Fresh] != 1 || counts[scanner.Stale] != 2 || counts[scanner.Expired] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

// A transcript travels from the agent's directory to the remote endpoint
// exactly once per content version.
func TestCaptureToUploadScenario(t *testing.T) {
	var posts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orgs/org-1/transcripts" {
			http.NotFound(w, r)
			return
		}
		posts.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	base := t.TempDir()
	sourceRoot := filepath.Join(base, "projects")
	cacheRoot := filepath.Join(base, ".nori", "transcripts")
	store, err := registry.Open(filepath.Join(cacheRoot, "registry.db"))
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	defer store.Close()

	state := daemonstate.New(os.Getpid())
	state.SetOrgID("org-1")
	ing := ingest.New(ingest.Options{
		Agent:      "claude-code",
		SourceRoot: sourceRoot,
		CacheRoot:  cacheRoot,
		Debounce:   500 * time.Millisecond,
	}, state, logging.NewNop())
	pipeline := upload.NewPipeline(store, upload.NewClient(upload.ClientOptions{BaseURL: server.URL}), logging.NewNop())
	scan := newScanner(cacheRoot, state, pipeline, 5)

	src := filepath.Join(sourceRoot, "-home-dev-app", "abc-123.jsonl")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(src, []byte(`{"sessionId":"abc-123","type":"user"}`+"\n"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	start := time.Now()
	ing.Handle(context.Background(), watcher.Event{Path: src, Kind: watcher.KindAdd, Time: start})

	cached := filepath.Join(cacheRoot, "claude-code", "-home-dev-app", "abc-123.jsonl")
	if _, err := os.Stat(cached); err != nil {
		t.Fatalf("transcript not cached: %v", err)
	}

	scan.Tick(context.Background(), time.Now().Add(10*time.Second))
	if posts.Load() != 0 {
		t.Fatal("fresh transcript must not be uploaded")
	}

	scan.Tick(context.Background(), time.Now().Add(35*time.Second))
	if posts.Load() != 1 {
		t.Fatalf("expected one upload after going stale, got %d", posts.Load())
	}
	record, err := store.Get(context.Background(), "abc-123")
	if err != nil || record == nil {
		t.Fatalf("registry record missing: %v", err)
	}
	if record.TranscriptPath != cached {
		t.Fatalf("unexpected registry path %q", record.TranscriptPath)
	}

	scan.Tick(context.Background(), time.Now().Add(40*time.Second))
	if posts.Load() != 1 {
		t.Fatalf("unchanged transcript uploaded again, %d posts", posts.Load())
	}

	if err := os.WriteFile(src, []byte(`{"sessionId":"abc-123","type":"user"}`+"\n"+`{"type":"assistant"}`+"\n"), 0o644); err != nil {
		t.Fatalf("append source: %v", err)
	}
	ing.Handle(context.Background(), watcher.Event{Path: src, Kind: watcher.KindChange, Time: start.Add(time.Second)})
	scan.Tick(context.Background(), time.Now().Add(35*time.Second))
	if posts.Load() != 2 {
		t.Fatalf("changed transcript must upload again, got %d posts", posts.Load())
	}

	scan.Tick(context.Background(), time.Now().Add(25*time.Hour))
	if _, err := os.Stat(cached); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expired transcript must be deleted: %v", err)
	}
	if count, _ := store.Count(context.Background()); count != 1 {
		t.Fatalf("registry keeps one record per session, got %d", count)
	}
}
