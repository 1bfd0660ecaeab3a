package transcript

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestScanSessionID(t *testing.T) {
	cases := []struct {
		name string
		data string
		want string
	}{
		{"first line", `{"type":"user","sessionId":"abc-123","message":{}}`, "abc-123"},
		{"later line", "{\"type\":\"file-history-snapshot\"}\n{\"sessionId\": \"def-456\"}\n", "def-456"},
		{"missing", `{"type":"summary"}`, ""},
		{"empty value", `{"sessionId":""}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ScanSessionID([]byte(tc.data)); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestParseRecordsSkipsMalformedLines(t *testing.T) {
	data := []byte("{\"type\":\"summary\"}\nnot json at all\n\n{\"sessionId\":\"abc-123\",\"type\":\"user\"}\n[1,2]\n{\"sessionId\":\"zzz\"}")
	records := ParseRecords(data)
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if got := SessionIDFromRecords(records); got != "abc-123" {
		t.Fatalf("expected first non-empty session id, got %q", got)
	}
	if string(records[1].Raw) != `{"sessionId":"abc-123","type":"user"}` {
		t.Fatalf("unexpected raw record %s", records[1].Raw)
	}
}

func TestSessionIDFromRecordsEmpty(t *testing.T) {
	if got := SessionIDFromRecords(ParseRecords([]byte("garbage\n{\"type\":\"x\"}\n"))); got != "" {
		t.Fatalf("expected no session id, got %q", got)
	}
}

func TestHashChangesWithContent(t *testing.T) {
	a := Hash([]byte("one"))
	b := Hash([]byte("one"))
	c := Hash([]byte("two"))
	if a != b {
		t.Fatal("hash must be deterministic")
	}
	if a == c {
		t.Fatal("hash must change with content")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %q", a)
	}
}

func TestProjectName(t *testing.T) {
	root := filepath.Join("/", "home", "dev", ".claude", "projects")
	cases := []struct {
		path string
		want string
	}{
		{filepath.Join(root, "myproject", "abc.jsonl"), "myproject"},
		{filepath.Join(root, "-home-dev-work-api", "abc.jsonl"), "-home-dev-work-api"},
		{filepath.Join(root, "my.project_v2", "abc.jsonl"), "my-project-v2"},
		{filepath.Join(root, "proj", "sub", "abc.jsonl"), "proj"},
	}
	for _, tc := range cases {
		if got := ProjectName(root, tc.path); got != tc.want {
			t.Errorf("ProjectName(%q) = %q want %q", tc.path, got, tc.want)
		}
	}
}

func TestIsSessionFile(t *testing.T) {
	root := filepath.Join("/", "src")
	cases := []struct {
		path string
		want bool
	}{
		{filepath.Join(root, "proj", "abc.jsonl"), true},
		{filepath.Join(root, "proj", "abc.json"), false},
		{filepath.Join(root, "proj", "agent-1.jsonl"), false},
		{filepath.Join(root, "proj", "abc", "subagents", "agent-2.jsonl"), false},
		{filepath.Join(root, "abc.jsonl"), false},
		{filepath.Join("/", "elsewhere", "proj", "abc.jsonl"), false},
	}
	for _, tc := range cases {
		if got := IsSessionFile(root, tc.path); got != tc.want {
			t.Errorf("IsSessionFile(%q) = %v want %v", tc.path, got, tc.want)
		}
	}
}

func TestFromCachePath(t *testing.T) {
	root := filepath.Join("/", "cache")
	mod := time.Unix(1700000000, 0)
	file, ok := FromCachePath(root, filepath.Join(root, "claude-code", "myproject", "abc-123.jsonl"), mod)
	if !ok {
		t.Fatal("expected cache path to parse")
	}
	if file.Agent != "claude-code" || file.Project != "myproject" || file.SessionID != "abc-123" || !file.ModTime.Equal(mod) {
		t.Fatalf("unexpected file %#v", file)
	}
	if _, ok := FromCachePath(root, filepath.Join(root, "registry.db"), mod); ok {
		t.Fatal("registry database must not parse as a transcript")
	}
	if _, ok := FromCachePath(root, filepath.Join(root, "claude-code", "stray.jsonl"), mod); ok {
		t.Fatal("files outside agent/project layout must be ignored")
	}
}

func TestReadSessionID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.jsonl")
	content := "{\"type\":\"summary\"}\n{\"sessionId\":\"abc-123\"}\n{\"sessionId\":\"later\"}"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	id, err := ReadSessionID(path)
	if err != nil {
		t.Fatalf("ReadSessionID: %v", err)
	}
	if id != "abc-123" {
		t.Fatalf("got %q want abc-123", id)
	}

	pending := filepath.Join(dir, "pending.jsonl")
	if err := os.WriteFile(pending, []byte(`{"type":"summary"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if id, err := ReadSessionID(pending); err != nil || id != "" {
		t.Fatalf("expected empty id without error, got %q %v", id, err)
	}

	if _, err := ReadSessionID(filepath.Join(dir, "missing.jsonl")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSafeSessionID(t *testing.T) {
	cases := map[string]bool{
		"abc-123":          true,
		"7f3e.v2":          true,
		"":                 false,
		".":                false,
		"..":               false,
		"team/abc":         false,
		`team\abc`:         false,
		"../../../escaped": false,
		"/etc/passwd":      false,
		"nul\x00byte":      false,
	}
	for id, want := range cases {
		if got := SafeSessionID(id); got != want {
			t.Fatalf("SafeSessionID(%q) = %v, want %v", id, got, want)
		}
	}
}
