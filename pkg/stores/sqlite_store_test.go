package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// setupTestStore creates an in-memory SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createWalk(t *testing.T, store *SQLiteStore, id string, started time.Time) *Walk {
	t.Helper()
	w := &Walk{
		ID:        id,
		Mode:      "read",
		TopSrcDir: "/src",
		TopObjDir: "/obj",
		Status:    WalkStatusRunning,
		StartedAt: started,
	}
	if err := store.CreateWalk(context.Background(), w); err != nil {
		t.Fatalf("failed to create walk: %v", err)
	}
	return w
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("NewSQLiteStore() accepted an empty path")
	}
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("health check passed before Init")
	}
	if err := store.Migrate(ctx); err == nil {
		t.Error("Migrate passed before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("first migration failed: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("repeated migration failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	for _, table := range []string{"walks", "contexts", "diagnostics"} {
		var count int
		if err := store.db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestWalkCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	createWalk(t, store, "walk-1", now.Add(-time.Hour))
	createWalk(t, store, "walk-2", now)

	got, err := store.GetWalk(ctx, "walk-1")
	if err != nil {
		t.Fatalf("failed to get walk: %v", err)
	}
	if got.Status != WalkStatusRunning || got.Metadata != "{}" || got.CompletedAt != nil {
		t.Errorf("GetWalk() = %+v, want a running walk with empty metadata", got)
	}

	msg := "boom"
	if err := store.FinishWalk(ctx, "walk-1", WalkStatusFailed, 3, &msg); err != nil {
		t.Fatalf("failed to finish walk: %v", err)
	}
	got, _ = store.GetWalk(ctx, "walk-1")
	if got.Status != WalkStatusFailed || got.Contexts != 3 || got.Error == nil || *got.Error != msg || got.CompletedAt == nil {
		t.Errorf("GetWalk() after FinishWalk = %+v", got)
	}

	walks, err := store.ListWalks(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list walks: %v", err)
	}
	var ids []string
	for _, w := range walks {
		ids = append(ids, w.ID)
	}
	if diff := cmp.Diff([]string{"walk-2", "walk-1"}, ids); diff != "" {
		t.Errorf("ListWalks() order mismatch (-want +got):\n%s", diff)
	}
	walks, _ = store.ListWalks(ctx, 1, 1)
	if len(walks) != 1 || walks[0].ID != "walk-1" {
		t.Errorf("ListWalks(1, 1) = %v, want walk-1", walks)
	}

	if err := store.DeleteWalk(ctx, "walk-2"); err != nil {
		t.Fatalf("failed to delete walk: %v", err)
	}
	for _, err := range []error{
		func() error { _, err := store.GetWalk(ctx, "walk-2"); return err }(),
		store.DeleteWalk(ctx, "walk-2"),
		store.FinishWalk(ctx, "walk-2", WalkStatusCompleted, 0, nil),
	} {
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	}
}

func TestCreateWalkRejectsUnknownStatus(t *testing.T) {
	store := setupTestStore(t)
	w := &Walk{ID: "w", Mode: "read", TopSrcDir: "/src", TopObjDir: "/obj", Status: "paused", StartedAt: time.Now()}
	if err := store.CreateWalk(context.Background(), w); err == nil {
		t.Error("CreateWalk() accepted status paused")
	}
}

func TestContexts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createWalk(t, store, "walk-1", time.Now())

	records := []*ContextRecord{
		{WalkID: "walk-1", Seq: 0, Kind: "primary", MainPath: "/src/moz.build", RelSrcDir: "", ObjDir: "/obj", Sources: `["/src/moz.build"]`, Variables: `{"DIRS":["a"]}`},
		{WalkID: "walk-1", Seq: 1, Kind: "primary", MainPath: "/src/a/moz.build", RelSrcDir: "a", ObjDir: "/obj/a", Sources: `["/src/a/moz.build"]`, Variables: `{}`},
		{WalkID: "walk-1", Seq: 2, Kind: "secondary", MainPath: "/src/a/targets.cue", RelSrcDir: "a", ObjDir: "/obj/a/out", Sources: `[]`, Variables: `{}`},
	}
	if err := store.AddContexts(ctx, records); err != nil {
		t.Fatalf("failed to add contexts: %v", err)
	}
	for _, r := range records {
		if r.ID == 0 || r.CreatedAt.IsZero() {
			t.Errorf("record %d was not assigned an id and creation time", r.Seq)
		}
	}
	if err := store.AddContexts(ctx, nil); err != nil {
		t.Errorf("AddContexts(nil) error = %v", err)
	}

	got, err := store.ListContexts(ctx, "walk-1")
	if err != nil {
		t.Fatalf("failed to list contexts: %v", err)
	}
	opts := cmpopts.IgnoreFields(ContextRecord{}, "CreatedAt")
	if diff := cmp.Diff(records, got, opts); diff != "" {
		t.Errorf("ListContexts() mismatch (-want +got):\n%s", diff)
	}

	a, err := store.GetContext(ctx, "walk-1", "a")
	if err != nil {
		t.Fatalf("failed to get context: %v", err)
	}
	if a.Seq != 1 {
		t.Errorf("GetContext(a) returned seq %d, want the first context for a", a.Seq)
	}
	if _, err := store.GetContext(ctx, "walk-1", "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetContext(b) error = %v, want ErrNotFound", err)
	}

	dup := []*ContextRecord{{WalkID: "walk-1", Seq: 1, Kind: "primary", MainPath: "/src/b/moz.build", RelSrcDir: "b", ObjDir: "/obj/b", Sources: "[]", Variables: "{}"}}
	if err := store.AddContexts(ctx, dup); err == nil {
		t.Error("AddContexts() accepted a duplicate sequence number")
	}
	orphan := []*ContextRecord{{WalkID: "missing", Seq: 0, Kind: "primary", MainPath: "/src/moz.build", ObjDir: "/obj", Sources: "[]", Variables: "{}"}}
	if err := store.AddContexts(ctx, orphan); err == nil {
		t.Error("AddContexts() accepted a context of an unknown walk")
	}

	if err := store.DeleteWalk(ctx, "walk-1"); err != nil {
		t.Fatal(err)
	}
	got, _ = store.ListContexts(ctx, "walk-1")
	if len(got) != 0 {
		t.Errorf("contexts survived deleting their walk: %d", len(got))
	}
}

func TestDiagnostics(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createWalk(t, store, "walk-1", time.Now())

	for _, d := range []*Diagnostic{
		{WalkID: "walk-1", Kind: "syntax", Path: "/src/a/moz.build", Message: "invalid syntax"},
		{WalkID: "walk-1", Kind: "reassign", Path: "/src/b/moz.build", FileStack: `["/src/moz.build","/src/b/moz.build"]`, Message: "reassigned"},
	} {
		if err := store.AppendDiagnostic(ctx, d); err != nil {
			t.Fatalf("failed to append diagnostic: %v", err)
		}
		if d.ID == 0 {
			t.Error("diagnostic was not assigned an id")
		}
	}

	all, err := store.ListDiagnostics(ctx, "walk-1", nil)
	if err != nil {
		t.Fatalf("failed to list diagnostics: %v", err)
	}
	if len(all) != 2 || all[0].Kind != "syntax" || all[0].FileStack != "[]" {
		t.Errorf("ListDiagnostics() = %+v", all)
	}
	kind := "reassign"
	filtered, err := store.ListDiagnostics(ctx, "walk-1", &kind)
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 1 || filtered[0].Path != "/src/b/moz.build" {
		t.Errorf("ListDiagnostics(reassign) = %+v", filtered)
	}
}
