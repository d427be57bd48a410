package config

import (
	"os"
	"testing"
)

func TestOpenStoreCreatesConfiguredDirectories(t *testing.T) {
	internalDir := t.TempDir() + "/internal"
	externalDir := t.TempDir() + "/external"
	s := StoreConfig{InternalDir: internalDir, ExternalDir: externalDir}
	store, err := s.OpenStore()
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	if store == nil {
		t.Fatal("OpenStore returned a nil store")
	}
	for _, dir := range []string{internalDir, externalDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("OpenStore did not create %s: %v", dir, err)
		}
	}
}
