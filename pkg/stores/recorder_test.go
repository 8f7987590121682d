package stores

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/buildtree/pkg/config"
	"github.com/openfroyo/buildtree/pkg/frontend"
	"github.com/openfroyo/buildtree/pkg/mozpath"
)

func writeBuildFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func recordWalk(t *testing.T, store Store, cfg *config.Environment) (*Recorder, error) {
	t.Helper()
	ctx := context.Background()
	rec, err := StartWalk(ctx, store, "read", cfg)
	if err != nil {
		t.Fatalf("StartWalk() error = %v", err)
	}
	var walkErr error
	for bctx, err := range frontend.NewReader(cfg).ReadTopSrcDir(ctx) {
		if err != nil {
			walkErr = err
			if derr := rec.Diagnose(ctx, err); derr != nil {
				t.Fatalf("Diagnose() error = %v", derr)
			}
			break
		}
		if err := rec.Record(ctx, bctx); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	if err := rec.Finish(ctx, walkErr); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	return rec, walkErr
}

func testConfig(t *testing.T) *config.Environment {
	root := mozpath.Normalize(t.TempDir())
	return &config.Environment{
		TopSrcDir: mozpath.Join(root, "src"),
		TopObjDir: mozpath.Join(root, "obj"),
		Substs:    map[string]string{"OS_TARGET": "Linux"},
	}
}

func TestRecorderStoresWalk(t *testing.T) {
	store := setupTestStore(t)
	cfg := testConfig(t)
	writeBuildFiles(t, cfg.TopSrcDir, map[string]string{
		"moz.build":   "DIRS += ['a']\n",
		"a/moz.build": "SOURCES += ['a.c']\n",
	})

	rec, err := recordWalk(t, store, cfg)
	if err != nil {
		t.Fatalf("walk error = %v", err)
	}
	ctx := context.Background()

	w, err := store.GetWalk(ctx, rec.WalkID())
	if err != nil {
		t.Fatal(err)
	}
	if w.Status != WalkStatusCompleted || w.Contexts != 2 || w.TopSrcDir != cfg.TopSrcDir {
		t.Errorf("walk = %+v, want a completed walk of 2 contexts", w)
	}
	var meta map[string]map[string]string
	if err := json.Unmarshal([]byte(w.Metadata), &meta); err != nil || meta["substs"]["OS_TARGET"] != "Linux" {
		t.Errorf("walk metadata = %s", w.Metadata)
	}

	records, err := store.ListContexts(ctx, rec.WalkID())
	if err != nil {
		t.Fatal(err)
	}
	var dirs []string
	for _, r := range records {
		dirs = append(dirs, r.RelSrcDir)
	}
	if diff := cmp.Diff([]string{"", "a"}, dirs); diff != "" {
		t.Errorf("recorded dirs mismatch (-want +got):\n%s", diff)
	}

	var vars map[string]any
	if err := json.Unmarshal([]byte(records[1].Variables), &vars); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]any{"a.c"}, vars["SOURCES"]); diff != "" {
		t.Errorf("SOURCES of a mismatch (-want +got):\n%s", diff)
	}
	if records[0].Kind != "primary" || records[1].MainPath != mozpath.Join(cfg.TopSrcDir, "a/moz.build") {
		t.Errorf("record = %+v", records[1])
	}
}

func TestRecorderStoresDiagnostic(t *testing.T) {
	store := setupTestStore(t)
	cfg := testConfig(t)
	writeBuildFiles(t, cfg.TopSrcDir, map[string]string{
		"moz.build":   "DIRS += ['a']\n",
		"a/moz.build": "NOT_A_VARIABLE = 1\n",
	})

	rec, walkErr := recordWalk(t, store, cfg)
	if walkErr == nil {
		t.Fatal("walk succeeded, want an unknown variable error")
	}
	ctx := context.Background()

	w, _ := store.GetWalk(ctx, rec.WalkID())
	if w.Status != WalkStatusFailed || w.Contexts != 1 {
		t.Errorf("walk = %+v, want a failed walk of 1 context", w)
	}
	diags, err := store.ListDiagnostics(ctx, rec.WalkID(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %+v, want one", diags)
	}
	d := diags[0]
	if d.Kind != string(frontend.KindUnknownWrite) || d.Path != mozpath.Join(cfg.TopSrcDir, "a/moz.build") {
		t.Errorf("diagnostic = %+v", d)
	}
	var stack []string
	if err := json.Unmarshal([]byte(d.FileStack), &stack); err != nil || len(stack) == 0 {
		t.Errorf("file stack = %s", d.FileStack)
	}
}

func TestRecorderFinishStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want WalkStatus
	}{
		{name: "completed", want: WalkStatusCompleted},
		{name: "cancelled", err: context.Canceled, want: WalkStatusCancelled},
		{name: "failed", err: errors.New("disk full"), want: WalkStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupTestStore(t)
			ctx := context.Background()
			rec, err := StartWalk(ctx, store, "walk", testConfig(t))
			if err != nil {
				t.Fatal(err)
			}
			if err := rec.Diagnose(ctx, errors.New("plain")); err != nil {
				t.Fatal(err)
			}
			if err := rec.Finish(ctx, tt.err); err != nil {
				t.Fatal(err)
			}
			w, _ := store.GetWalk(ctx, rec.WalkID())
			if w.Status != tt.want {
				t.Errorf("status = %s, want %s", w.Status, tt.want)
			}
			diags, _ := store.ListDiagnostics(ctx, rec.WalkID(), nil)
			if len(diags) != 1 || diags[0].Kind != string(frontend.KindInternal) {
				t.Errorf("diagnostics = %+v, want one internal diagnostic", diags)
			}
		})
	}
}
