package destination_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"nori/internal/destination"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store := destination.NewFileStore(filepath.Join(t.TempDir(), ".nori", "watch-destination.toml"))

	id, err := store.OrgID(context.Background())
	if err != nil || id != "" {
		t.Fatalf("missing file should be empty, got %q %v", id, err)
	}
	if err := store.Save(destination.Selection{OrgID: " org-42 "}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	sel, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sel.OrgID != "org-42" || sel.SelectedAt.IsZero() {
		t.Fatalf("unexpected selection %+v", sel)
	}
	if err := store.Save(destination.Selection{}); err == nil {
		t.Fatal("expected error saving an empty org id")
	}
}

type failingSource struct{}

func (failingSource) OrgID(context.Context) (string, error) { return "", errors.New("broken") }

func TestChainPrefersFirstNonEmpty(t *testing.T) {
	ctx := context.Background()
	chain := destination.Chain{destination.Static(""), destination.Static("org-a"), failingSource{}}
	id, err := chain.OrgID(ctx)
	if err != nil || id != "org-a" {
		t.Fatalf("got %q %v", id, err)
	}
	if _, err := (destination.Chain{failingSource{}}).OrgID(ctx); err == nil {
		t.Fatal("expected source error to propagate")
	}
	id, err = destination.Chain{}.OrgID(ctx)
	if err != nil || id != "" {
		t.Fatalf("empty chain: %q %v", id, err)
	}
}

func TestPrompt(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		current string
		want    string
		wantErr bool
	}{
		{"new answer", "org-new\n", "", "org-new", false},
		{"keep current", "\n", "org-old", "org-old", false},
		{"replace current", "org-new\n", "org-old", "org-new", false},
		{"no newline", "org-eof", "", "org-eof", false},
		{"empty", "\n", "", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := destination.Prompt(strings.NewReader(tc.input), &out, tc.current)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Prompt: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
			if !strings.Contains(out.String(), "Upload destination") {
				t.Fatalf("prompt not written: %q", out.String())
			}
		})
	}
}
