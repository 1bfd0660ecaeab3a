package transcript

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"nori/internal/paths"
)

// File is a transcript in the local cache.
type File struct {
	Path      string
	Agent     string
	Project   string
	SessionID string
	ModTime   time.Time
}

// Record is one decoded line of a transcript.
type Record struct {
	Raw       json.RawMessage
	SessionID string
}

type recordHeader struct {
	SessionID string `json:"sessionId"`
}

var sessionIDPattern = regexp.MustCompile(`"sessionId"\s*:\s*"([^"\\]+)"`)

var nonAlphanumeric = regexp.MustCompile(`[^A-Za-z0-9]`)

// ScanSessionID finds the first session identifier in raw transcript bytes
// with a text scan rather than a JSON decode, so large files are cheap to
// route.
func ScanSessionID(data []byte) string {
	match := sessionIDPattern.FindSubmatch(data)
	if match == nil {
		return ""
	}
	return strings.TrimSpace(string(match[1]))
}

// ReadSessionID scans the file at path line by line and returns the first
// session identifier, stopping as soon as one is found. An empty result with a
// nil error means the agent has not written one yet.
func ReadSessionID(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	reader := bufio.NewReaderSize(f, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if id := ScanSessionID(line); id != "" {
			return id, nil
		}
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
	}
}

// SafeSessionID reports whether id can name a cache file. The id becomes a
// single path element, so separators, dot segments and anything
// filepath.IsLocal refuses are rejected.
func SafeSessionID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	if strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return false
	}
	return filepath.IsLocal(id)
}

// ParseRecords decodes each non-blank line independently. Lines that are not
// JSON objects are dropped.
func ParseRecords(data []byte) []Record {
	lines := bytes.Split(data, []byte{'\n'})
	records := make([]Record, 0, len(lines))
	for _, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var header recordHeader
		if err := json.Unmarshal(line, &header); err != nil {
			continue
		}
		raw := make(json.RawMessage, len(line))
		copy(raw, line)
		records = append(records, Record{Raw: raw, SessionID: strings.TrimSpace(header.SessionID)})
	}
	return records
}

// SessionIDFromRecords returns the first non-empty session identifier.
func SessionIDFromRecords(records []Record) string {
	for _, record := range records {
		if record.SessionID != "" {
			return record.SessionID
		}
	}
	return ""
}

// Hash returns the hex SHA-256 digest of the raw transcript bytes.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SanitizeName applies the agent's path-to-name convention: every
// non-alphanumeric character becomes a dash.
func SanitizeName(name string) string {
	return nonAlphanumeric.ReplaceAllString(name, "-")
}

// ProjectName derives the cache project directory for a source session file.
// The project is the first directory beneath the source root.
func ProjectName(sourceRoot, sourcePath string) string {
	rel, err := filepath.Rel(sourceRoot, filepath.Dir(sourcePath))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return SanitizeName(filepath.Base(filepath.Dir(sourcePath)))
	}
	first := strings.Split(filepath.ToSlash(rel), "/")[0]
	return SanitizeName(first)
}

// IsSessionFile reports whether path is a top-level session transcript under
// sourceRoot (<root>/<project>/<session>.jsonl). Nested files and agent-*
// sidechains carry their parent's session id and would clobber the parent
// transcript in the cache.
func IsSessionFile(sourceRoot, path string) bool {
	if filepath.Ext(path) != paths.TranscriptExt {
		return false
	}
	if strings.HasPrefix(filepath.Base(path), "agent-") {
		return false
	}
	rel, err := filepath.Rel(sourceRoot, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	return len(strings.Split(filepath.ToSlash(rel), "/")) == 2
}

// FromCachePath describes a cached transcript from its location beneath
// cacheRoot (<root>/<agent>/<project>/<session>.jsonl).
func FromCachePath(cacheRoot, path string, modTime time.Time) (File, bool) {
	if filepath.Ext(path) != paths.TranscriptExt {
		return File{}, false
	}
	rel, err := filepath.Rel(cacheRoot, path)
	if err != nil {
		return File{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return File{}, false
	}
	return File{
		Path:      path,
		Agent:     parts[0],
		Project:   parts[1],
		SessionID: strings.TrimSuffix(parts[2], paths.TranscriptExt),
		ModTime:   modTime,
	}, true
}
