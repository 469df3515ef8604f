package preflight

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"assetlib/internal/deps"
	"assetlib/internal/registry"
	"assetlib/internal/registry/registrytest"
	"assetlib/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckDiskSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckDiskSpace("disk", dir, 1); !result.Passed {
		t.Fatalf("expected pass with a 1 byte floor, got %s", result.Detail)
	}
	if result := CheckDiskSpace("disk", dir, ^uint64(0)); result.Passed {
		t.Fatal("expected failure with an impossible floor")
	}
	if result := CheckDiskSpace("disk", filepath.Join(dir, "missing"), 1); result.Passed {
		t.Fatal("expected failure for a missing path")
	}
}

func TestCheckRegistry(t *testing.T) {
	srv := registrytest.New(t)
	srv.AddAsset(registry.Asset{Name: "chair"})
	srv.AddAsset(registry.Asset{Name: "lamp", Holder: "alice"})

	result := CheckRegistry(context.Background(), srv.Client(t))
	if !result.Passed || !strings.Contains(result.Detail, "1 checked-in") {
		t.Fatalf("unexpected result %+v", result)
	}
}

type failingLister struct{}

func (failingLister) ListAssets(context.Context, registry.ListOptions) ([]registry.Asset, error) {
	return nil, &registry.StatusError{Status: http.StatusServiceUnavailable, Message: "down"}
}

func TestCheckRegistryFailures(t *testing.T) {
	if result := CheckRegistry(context.Background(), nil); result.Passed {
		t.Fatal("expected failure without a client")
	}
	if result := CheckRegistry(context.Background(), failingLister{}); result.Passed {
		t.Fatal("expected failure when the registry errors")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, nil, nil); results != nil {
		t.Fatalf("expected nil results, got %v", results)
	}
}

func TestRunAllTreatsHeadlessRuntimeAsOptional(t *testing.T) {
	srv := registrytest.New(t)
	cfg := testsupport.NewConfig(t, testsupport.WithRegistry(srv.URL()), testsupport.WithStubbedDCC("houdini"))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(cfg.Paths.DownloadsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	testsupport.WriteFile(t, cfg.DCC.TemplateScene, 16)

	results := RunAll(context.Background(), cfg, srv.Client(t), deps.NewLocator(cfg.DCC))
	byName := make(map[string]Result, len(results))
	for _, r := range results {
		byName[r.Name] = r
	}
	if r := byName["hython"]; r.Passed || !r.Optional {
		t.Fatalf("expected optional failing hython check, got %+v", r)
	}
	if r := byName["houdini"]; !r.Passed {
		t.Fatalf("expected houdini to be found, got %+v", r)
	}
	for _, r := range results {
		if !r.Passed && !r.Optional && r.Name != "Downloads free space" {
			t.Fatalf("unexpected failing check %+v", r)
		}
	}
}

func TestHealthy(t *testing.T) {
	if !Healthy([]Result{{Passed: true}, {Optional: true}}) {
		t.Fatal("optional failures must not make the run unhealthy")
	}
	if Healthy([]Result{{Passed: true}, {Passed: false}}) {
		t.Fatal("required failure must make the run unhealthy")
	}
}
