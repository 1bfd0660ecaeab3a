package daemonrun

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"nori/internal/daemon"
	"nori/internal/destination"
	"nori/internal/logging"
	"nori/internal/testsupport"
)

func TestResolveDestinationPrefersConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := destination.NewFileStore(cfg.Layout().DestinationPath())
	if err := store.Save(destination.Selection{OrgID: "org-saved"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := ResolveDestination(context.Background(), cfg)
	if err != nil || got != "org-saved" {
		t.Fatalf("expected saved destination, got %q %v", got, err)
	}
	cfg.Upload.OrgID = "org-config"
	got, err = ResolveDestination(context.Background(), cfg)
	if err != nil || got != "org-config" {
		t.Fatalf("expected config destination, got %q %v", got, err)
	}
}

func TestSelectDestinationSaves(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	var out strings.Builder
	got, err := SelectDestination(context.Background(), cfg, strings.NewReader("org-7\n"), &out, logging.NewNop())
	if err != nil || got != "org-7" {
		t.Fatalf("SelectDestination = %q %v", got, err)
	}
	saved, err := destination.NewFileStore(cfg.Layout().DestinationPath()).Load()
	if err != nil || saved.OrgID != "org-7" {
		t.Fatalf("saved %+v %v", saved, err)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithOrgID("org-1"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, Options{}) }()

	pidPath := cfg.Layout().PIDPath()
	testsupport.WaitFor(t, 5*time.Second, "pid file", func() bool {
		pid, err := daemon.ReadPIDFile(pidPath)
		return err == nil && pid == os.Getpid()
	})
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, err := os.Stat(pidPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("pid file must be removed, stat err=%v", err)
	}
	if _, err := os.Stat(cfg.Layout().LogPath()); err != nil {
		t.Fatalf("log file not written: %v", err)
	}
}
