package journal_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"assetlib/internal/journal"
)

func openStore(t *testing.T) *journal.Store {
	t.Helper()
	store, err := journal.Open(filepath.Join(t.TempDir(), "state", "checkins.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateAndGet(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	saga, err := store.Create(ctx, journal.Saga{
		Asset:    "chair",
		Holder:   "alice",
		Version:  "01.01.00",
		Filename: "chair.zip",
		Metadata: json.RawMessage(`{"keywords":["oak"]}`),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if saga.ID == "" {
		t.Fatal("expected generated id")
	}
	if saga.Status != journal.StatusPending {
		t.Fatalf("expected pending, got %s", saga.Status)
	}
	if saga.CreatedAt.IsZero() {
		t.Fatal("expected created timestamp")
	}

	fetched, err := store.Get(ctx, saga.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(fetched.Metadata) != `{"keywords":["oak"]}` {
		t.Fatalf("unexpected metadata %s", fetched.Metadata)
	}

	missing, err := store.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for missing saga, got %v %v", missing, err)
	}
}

func TestSagaLifecycle(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	saga, err := store.Create(ctx, journal.Saga{Asset: "lamp", Holder: "bob", Version: "01.00.01"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	versions := map[string]string{"lamp/lamp.zip": "rev-2"}
	if err := store.MarkContentCommitted(ctx, saga.ID, versions); err != nil {
		t.Fatalf("MarkContentCommitted: %v", err)
	}
	if err := store.RecordMetadataFailure(ctx, saga.ID, "database unavailable"); err != nil {
		t.Fatalf("RecordMetadataFailure: %v", err)
	}

	partial, _ := store.Get(ctx, saga.ID)
	if !partial.Status.Resumable() {
		t.Fatalf("expected resumable saga, got %s", partial.Status)
	}
	if partial.LastError != "database unavailable" || partial.Attempts != 1 {
		t.Fatalf("unexpected failure record: %+v", partial)
	}
	if diff := cmp.Diff(versions, partial.VersionMap); diff != "" {
		t.Fatalf("version map mismatch (-want +got):\n%s", diff)
	}

	if err := store.MarkMetadataCommitted(ctx, saga.ID); err != nil {
		t.Fatalf("MarkMetadataCommitted: %v", err)
	}
	done, _ := store.Get(ctx, saga.ID)
	if done.Status != journal.StatusMetadataCommitted || done.LastError != "" || done.Attempts != 2 {
		t.Fatalf("unexpected completed saga: %+v", done)
	}

	if err := store.MarkMetadataCommitted(ctx, saga.ID); !errors.Is(err, journal.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on repeat, got %v", err)
	}
}

func TestMarkFailedOnlyFromPending(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	saga, _ := store.Create(ctx, journal.Saga{Asset: "rug"})
	if err := store.MarkFailed(ctx, saga.ID, "upload refused"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if err := store.MarkContentCommitted(ctx, saga.ID, nil); !errors.Is(err, journal.ErrInvalidTransition) {
		t.Fatalf("expected failed saga to reject content commit, got %v", err)
	}
	if err := store.MarkFailed(ctx, "missing", "x"); !errors.Is(err, journal.ErrInvalidTransition) {
		t.Fatalf("expected missing saga to be an invalid transition, got %v", err)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first, _ := store.Create(ctx, journal.Saga{Asset: "a"})
	second, _ := store.Create(ctx, journal.Saga{Asset: "b"})
	_, _ = store.Create(ctx, journal.Saga{Asset: "c"})
	if err := store.MarkContentCommitted(ctx, first.ID, map[string]string{}); err != nil {
		t.Fatalf("MarkContentCommitted: %v", err)
	}
	if err := store.MarkContentCommitted(ctx, second.ID, map[string]string{}); err != nil {
		t.Fatalf("MarkContentCommitted: %v", err)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 sagas, got %d", len(all))
	}
	if all[0].Asset != "c" {
		t.Fatalf("expected newest first, got %s", all[0].Asset)
	}

	resumable, err := store.List(ctx, journal.StatusContentCommitted)
	if err != nil {
		t.Fatalf("List filtered: %v", err)
	}
	got := []string{resumable[0].Asset, resumable[1].Asset}
	if diff := cmp.Diff([]string{"b", "a"}, got); diff != "" {
		t.Fatalf("resumable mismatch (-want +got):\n%s", diff)
	}
}

func TestReopenKeepsSagas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkins.db")
	store, err := journal.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	saga, _ := store.Create(context.Background(), journal.Saga{Asset: "vase"})
	_ = store.Close()

	reopened, err := journal.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get(context.Background(), saga.ID)
	if err != nil || got == nil {
		t.Fatalf("expected saga after reopen, got %v %v", got, err)
	}
}
