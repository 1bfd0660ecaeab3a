// Package destination resolves which organization transcripts are uploaded
// to. The interactive selection made with `nori watch --set-destination` is
// stored as TOML beside the cache.
package destination

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Source yields the organization id to upload to. An empty id with a nil
// error means no destination has been chosen.
type Source interface {
	OrgID(ctx context.Context) (string, error)
}

// Static is a fixed destination, such as upload.org_id from the config.
type Static string

// OrgID returns the fixed value.
func (s Static) OrgID(context.Context) (string, error) {
	return strings.TrimSpace(string(s)), nil
}

// Chain consults each source in order and returns the first non-empty id.
type Chain []Source

// OrgID walks the chain.
func (c Chain) OrgID(ctx context.Context) (string, error) {
	for _, src := range c {
		if src == nil {
			continue
		}
		id, err := src.OrgID(ctx)
		if err != nil {
			return "", err
		}
		if id != "" {
			return id, nil
		}
	}
	return "", nil
}

// Selection is the persisted destination choice.
type Selection struct {
	OrgID      string    `toml:"org_id"`
	SelectedAt time.Time `toml:"selected_at"`
}

// FileStore persists a Selection as TOML.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file location.
func (f *FileStore) Path() string {
	return f.path
}

// Load reads the stored selection. A missing file yields a zero Selection.
func (f *FileStore) Load() (Selection, error) {
	var sel Selection
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return sel, nil
		}
		return sel, fmt.Errorf("read destination: %w", err)
	}
	if err := toml.Unmarshal(data, &sel); err != nil {
		return sel, fmt.Errorf("parse destination %s: %w", f.path, err)
	}
	sel.OrgID = strings.TrimSpace(sel.OrgID)
	return sel, nil
}

// Save writes sel, replacing any previous selection.
func (f *FileStore) Save(sel Selection) error {
	sel.OrgID = strings.TrimSpace(sel.OrgID)
	if sel.OrgID == "" {
		return errors.New("destination org id is required")
	}
	if sel.SelectedAt.IsZero() {
		sel.SelectedAt = time.Now().UTC()
	}
	data, err := toml.Marshal(sel)
	if err != nil {
		return fmt.Errorf("encode destination: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("write destination: %w", err)
	}
	return nil
}

// OrgID returns the stored organization id.
func (f *FileStore) OrgID(context.Context) (string, error) {
	sel, err := f.Load()
	if err != nil {
		return "", err
	}
	return sel.OrgID, nil
}

// Prompt asks for an organization id on out and reads one line from in.
// Pressing enter keeps current when it is set.
func Prompt(in io.Reader, out io.Writer, current string) (string, error) {
	current = strings.TrimSpace(current)
	if current != "" {
		fmt.Fprintf(out, "Upload destination organization [%s]: ", current)
	} else {
		fmt.Fprint(out, "Upload destination organization: ")
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read destination: %w", err)
	}
	answer := strings.TrimSpace(line)
	if answer == "" {
		answer = current
	}
	if answer == "" {
		return "", errors.New("no destination entered")
	}
	return answer, nil
}
