package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/buildtree/pkg/config"
	"github.com/openfroyo/buildtree/pkg/frontend"
)

// batchSize is the number of contexts buffered before they are written.
const batchSize = 64

// Recorder writes the contexts and errors of one walk to a Store.
type Recorder struct {
	store   Store
	walk    *Walk
	pending []*ContextRecord
	seq     int
}

// StartWalk creates a running walk record and returns its recorder.
func StartWalk(ctx context.Context, store Store, mode string, cfg *config.Environment) (*Recorder, error) {
	w := &Walk{
		ID:        uuid.New().String(),
		Mode:      mode,
		TopSrcDir: cfg.TopSrcDir,
		TopObjDir: cfg.TopObjDir,
		Status:    WalkStatusRunning,
		StartedAt: time.Now(),
	}
	if len(cfg.Substs) > 0 {
		data, err := json.Marshal(map[string]any{"substs": cfg.Substs})
		if err != nil {
			return nil, fmt.Errorf("failed to encode walk metadata: %w", err)
		}
		w.Metadata = string(data)
	}
	if err := store.CreateWalk(ctx, w); err != nil {
		return nil, err
	}
	return &Recorder{store: store, walk: w}, nil
}

// WalkID returns the ID of the recorded walk.
func (r *Recorder) WalkID() string { return r.walk.ID }

// Count returns the number of contexts recorded so far.
func (r *Recorder) Count() int { return r.seq }

// Record queues a yielded context.
func (r *Recorder) Record(ctx context.Context, bctx *frontend.Context) error {
	rec, err := NewContextRecord(r.walk.ID, r.seq, bctx)
	if err != nil {
		return err
	}
	r.seq++
	r.pending = append(r.pending, rec)
	if len(r.pending) >= batchSize {
		return r.flush(ctx)
	}
	return nil
}

// Diagnose records a walk error. Errors that are not build reader errors
// are recorded with the internal kind.
func (r *Recorder) Diagnose(ctx context.Context, err error) error {
	d := &Diagnostic{WalkID: r.walk.ID, Kind: string(frontend.KindInternal), Message: err.Error()}
	var bre *frontend.BuildReaderError
	if errors.As(err, &bre) {
		d.Kind = string(bre.Kind)
		d.Path = bre.ActualFile()
		stack, merr := json.Marshal(bre.FileStack)
		if merr != nil {
			return fmt.Errorf("failed to encode file stack: %w", merr)
		}
		d.FileStack = string(stack)
	}
	return r.store.AppendDiagnostic(ctx, d)
}

// Finish flushes queued contexts and records the outcome of the walk.
// A nil walkErr marks the walk completed, a context error marks it
// cancelled and any other error marks it failed.
func (r *Recorder) Finish(ctx context.Context, walkErr error) error {
	if err := r.flush(ctx); err != nil {
		return err
	}
	status := WalkStatusCompleted
	var msg *string
	if walkErr != nil {
		status = WalkStatusFailed
		if errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded) {
			status = WalkStatusCancelled
		}
		s := walkErr.Error()
		msg = &s
	}
	return r.store.FinishWalk(ctx, r.walk.ID, status, r.seq, msg)
}

func (r *Recorder) flush(ctx context.Context) error {
	if err := r.store.AddContexts(ctx, r.pending); err != nil {
		return err
	}
	r.pending = r.pending[:0]
	return nil
}

// NewContextRecord converts a frozen context into its stored form.
func NewContextRecord(walkID string, seq int, bctx *frontend.Context) (*ContextRecord, error) {
	vars, err := json.Marshal(bctx.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("failed to encode variables of %s: %w", bctx.MainPath(), err)
	}
	sources, err := json.Marshal(bctx.AllPaths())
	if err != nil {
		return nil, fmt.Errorf("failed to encode sources of %s: %w", bctx.MainPath(), err)
	}
	return &ContextRecord{
		WalkID:    walkID,
		Seq:       seq,
		Kind:      bctx.Kind().String(),
		MainPath:  bctx.MainPath(),
		RelSrcDir: bctx.RelSrcDir(),
		ObjDir:    bctx.ObjDir(),
		Sources:   string(sources),
		Variables: string(vars),
	}, nil
}
