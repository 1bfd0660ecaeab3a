package testsupport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// WriteTranscript writes a JSONL transcript whose first record carries
// sessionID, followed by one record per extra line. An empty sessionID writes
// a transcript the agent has not stamped yet.
func WriteTranscript(t testing.TB, path, sessionID string, extra ...string) {
	t.Helper()

	lines := make([]string, 0, len(extra)+1)
	if sessionID != "" {
		lines = append(lines, `{"type":"user","sessionId":"`+sessionID+`","message":{"role":"user","content":"hello"}}`)
	} else {
		lines = append(lines, `{"type":"summary","summary":"pending"}`)
	}
	lines = append(lines, extra...)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// Age sets the modification time of path to now minus age.
func Age(t testing.TB, path string, age time.Duration) {
	t.Helper()

	when := time.Now().Add(-age)
	if err := os.Chtimes(path, when, when); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

// WaitFor polls cond until it holds or timeout elapses.
func WaitFor(t testing.TB, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out after %s waiting for %s", timeout, what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
