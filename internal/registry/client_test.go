package registry_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"assetlib/internal/registry"
	"assetlib/internal/registry/registrytest"
	"assetlib/internal/services"
)

func TestGetAssetReturnsLockState(t *testing.T) {
	srv := registrytest.New(t)
	srv.AddAsset(registry.Asset{Name: "chair", Holder: "alice", Keywords: []string{"wood"}})
	client := srv.Client(t)

	asset, err := client.GetAsset(context.Background(), "chair")
	if err != nil {
		t.Fatalf("GetAsset: %v", err)
	}
	want := registry.Asset{Name: "chair", Version: "01.00.00", Holder: "alice", IsCheckedOut: true, Keywords: []string{"wood"}}
	if diff := cmp.Diff(want, *asset); diff != "" {
		t.Fatalf("asset mismatch (-want +got):\n%s", diff)
	}
}

func TestGetAssetNotFound(t *testing.T) {
	srv := registrytest.New(t)
	client := srv.Client(t)

	_, err := client.GetAsset(context.Background(), "ghost")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var statusErr *registry.StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusNotFound {
		t.Fatalf("expected StatusError 404, got %v", err)
	}
	if !strings.Contains(err.Error(), "Asset not found") {
		t.Fatalf("expected body message in error, got %q", err.Error())
	}
}

func TestCheckoutConflictMapping(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusConflict} {
		srv := registrytest.New(t)
		srv.UseConflictStatus(status)
		srv.AddAsset(registry.Asset{Name: "lamp"})
		client := srv.Client(t)

		if _, err := client.Checkout(context.Background(), "lamp", "alice"); err != nil {
			t.Fatalf("first checkout: %v", err)
		}
		_, err := client.Checkout(context.Background(), "lamp", "bob")
		if !errors.Is(err, services.ErrConflict) {
			t.Fatalf("status %d: expected ErrConflict, got %v", status, err)
		}
	}
}

func TestCheckoutRequiresHolder(t *testing.T) {
	srv := registrytest.New(t)
	client := srv.Client(t)
	_, err := client.Checkout(context.Background(), "lamp", " ")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if srv.Requests("checkout") != 0 {
		t.Fatal("expected no request for blank holder")
	}
}

func TestServerErrorsAreUnavailable(t *testing.T) {
	srv := registrytest.New(t)
	srv.AddAsset(registry.Asset{Name: "chair"})
	srv.FailGet(http.StatusBadGateway)
	client := srv.Client(t)

	if _, err := client.GetAsset(context.Background(), "chair"); !errors.Is(err, services.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	client, err := registry.New(base)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := client.ListAssets(context.Background(), registry.ListOptions{}); !errors.Is(err, services.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestEndpointsHonourTrailingSlash(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.RequestURI())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"assets":[],"asset":{"name":"a b"}}`))
	}))
	defer server.Close()

	withSlash, _ := registry.New(server.URL + "/api/")
	withoutSlash, _ := registry.New(server.URL+"/api", registry.WithTrailingSlash(false))

	ctx := context.Background()
	if _, err := withSlash.ListAssets(ctx, registry.ListOptions{Search: "oak", CheckedInOnly: true}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := withSlash.GetAsset(ctx, "a b"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := withoutSlash.GetAsset(ctx, "a b"); err != nil {
		t.Fatalf("get: %v", err)
	}

	want := []string{
		"/api/assets/?checkedInOnly=true&search=oak",
		"/api/assets/a%20b/",
		"/api/assets/a%20b",
	}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Fatalf("paths mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckinThenCommitMetadata(t *testing.T) {
	srv := registrytest.New(t)
	srv.AddAsset(registry.Asset{Name: "chair", Holder: "alice"})
	client := srv.Client(t)
	ctx := context.Background()

	versions, err := client.Checkin(ctx, "chair", "chair.zip", bytes.NewReader([]byte("zipdata")))
	if err != nil {
		t.Fatalf("Checkin: %v", err)
	}
	if versions["chair/chair.zip"] == "" {
		t.Fatalf("expected version map entry, got %v", versions)
	}
	if got := srv.Archive("chair"); string(got) != "zipdata" {
		t.Fatalf("unexpected stored archive %q", got)
	}

	metadata := registry.Metadata{
		Keywords:   []string{"oak"},
		Commit:     registry.Commit{Author: "alice", Version: "01.01.00", Note: "legs"},
		VersionMap: versions,
	}
	if err := client.CommitMetadata(ctx, "chair", metadata); err != nil {
		t.Fatalf("CommitMetadata: %v", err)
	}
	commits := srv.Commits("chair")
	if len(commits) != 1 {
		t.Fatalf("expected one commit, got %d", len(commits))
	}
	if diff := cmp.Diff(metadata, commits[0]); diff != "" {
		t.Fatalf("commit mismatch (-want +got):\n%s", diff)
	}
	asset, _ := srv.Asset("chair")
	if asset.IsCheckedOut || asset.Version != "01.01.00" {
		t.Fatalf("expected released lock at new version, got %+v", asset)
	}
}

func TestDownloadStreamsArchive(t *testing.T) {
	srv := registrytest.New(t)
	srv.AddAsset(registry.Asset{Name: "chair"})
	srv.SetArchive("chair", []byte("PK\x03\x04payload"))
	client := srv.Client(t)

	var buf bytes.Buffer
	n, err := client.Download(context.Background(), "chair", &buf)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if n != int64(buf.Len()) || !bytes.HasPrefix(buf.Bytes(), []byte("PK")) {
		t.Fatalf("unexpected download n=%d body=%q", n, buf.Bytes())
	}

	if _, err := client.Download(context.Background(), "ghost", &buf); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing archive, got %v", err)
	}
}

func TestUploadCreatesAsset(t *testing.T) {
	srv := registrytest.New(t)
	client := srv.Client(t)
	if err := client.Upload(context.Background(), "stool", "01.00.00", "stool.zip", strings.NewReader("zip")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, ok := srv.Asset("stool"); !ok {
		t.Fatal("expected asset to exist after upload")
	}
	if err := client.Upload(context.Background(), "stool", "01.00.00", "stool.zip", strings.NewReader("zip")); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected duplicate upload to be a validation error, got %v", err)
	}
}
