package stores

import (
	"context"
	"database/sql"
	"time"
)

// WalkStatus represents the status of a tree walk.
type WalkStatus string

const (
	WalkStatusRunning   WalkStatus = "running"
	WalkStatusCompleted WalkStatus = "completed"
	WalkStatusFailed    WalkStatus = "failed"
	WalkStatusCancelled WalkStatus = "cancelled"
)

// Walk is one traversal of a build tree.
type Walk struct {
	ID          string     `json:"id"`
	Mode        string     `json:"mode"` // read, walk or files
	TopSrcDir   string     `json:"topsrcdir"`
	TopObjDir   string     `json:"topobjdir"`
	Status      WalkStatus `json:"status"`
	Contexts    int        `json:"contexts"`
	Error       *string    `json:"error,omitempty"`
	Metadata    string     `json:"metadata"` // JSON blob
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ContextRecord is a frozen context yielded by a walk.
type ContextRecord struct {
	ID        int64     `json:"id"`
	WalkID    string    `json:"walk_id"`
	Seq       int       `json:"seq"` // position in yield order
	Kind      string    `json:"kind"`
	MainPath  string    `json:"main_path"`
	RelSrcDir string    `json:"relsrcdir"`
	ObjDir    string    `json:"objdir"`
	Sources   string    `json:"sources"`   // JSON array of every file read
	Variables string    `json:"variables"` // JSON object of the set variables
	CreatedAt time.Time `json:"created_at"`
}

// Diagnostic is a build reader error recorded against a walk.
type Diagnostic struct {
	ID        int64     `json:"id"`
	WalkID    string    `json:"walk_id"`
	Kind      string    `json:"kind"`
	Path      string    `json:"path"`
	FileStack string    `json:"file_stack"` // JSON array
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for the persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Walk operations
	CreateWalk(ctx context.Context, walk *Walk) error
	GetWalk(ctx context.Context, id string) (*Walk, error)
	FinishWalk(ctx context.Context, id string, status WalkStatus, contexts int, errMsg *string) error
	ListWalks(ctx context.Context, limit, offset int) ([]*Walk, error)
	DeleteWalk(ctx context.Context, id string) error

	// Context operations
	AddContexts(ctx context.Context, records []*ContextRecord) error
	ListContexts(ctx context.Context, walkID string) ([]*ContextRecord, error)
	GetContext(ctx context.Context, walkID, relsrcdir string) (*ContextRecord, error)

	// Diagnostic operations
	AppendDiagnostic(ctx context.Context, d *Diagnostic) error
	ListDiagnostics(ctx context.Context, walkID string, kind *string) ([]*Diagnostic, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
