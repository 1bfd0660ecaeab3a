package testsupport

import (
	"testing"

	"nori/internal/config"
	"nori/internal/registry"
)

// MustOpenRegistry opens the registry at the config's default location and
// registers cleanup.
func MustOpenRegistry(t testing.TB, cfg *config.Config) *registry.Store {
	t.Helper()

	store, err := registry.Open(cfg.Layout().RegistryPath())
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
