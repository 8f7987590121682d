package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a walk or context does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// An in-memory database exists per connection.
	if s.cfg.Path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	}
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// BeginTx starts a new transaction.
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
}

// CreateWalk creates a new walk record.
func (s *SQLiteStore) CreateWalk(ctx context.Context, walk *Walk) error {
	query := `
		INSERT INTO walks (id, mode, topsrcdir, topobjdir, status, contexts, error, metadata, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	metadata := walk.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.db.ExecContext(ctx, query,
		walk.ID,
		walk.Mode,
		walk.TopSrcDir,
		walk.TopObjDir,
		walk.Status,
		walk.Contexts,
		walk.Error,
		metadata,
		walk.StartedAt,
		walk.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create walk: %w", err)
	}
	return nil
}

const walkColumns = `id, mode, topsrcdir, topobjdir, status, contexts, error, metadata, started_at, completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanWalk(row scanner) (*Walk, error) {
	w := &Walk{}
	err := row.Scan(
		&w.ID,
		&w.Mode,
		&w.TopSrcDir,
		&w.TopObjDir,
		&w.Status,
		&w.Contexts,
		&w.Error,
		&w.Metadata,
		&w.StartedAt,
		&w.CompletedAt,
	)
	return w, err
}

// GetWalk retrieves a walk by ID.
func (s *SQLiteStore) GetWalk(ctx context.Context, id string) (*Walk, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+walkColumns+` FROM walks WHERE id = ?`, id)
	w, err := scanWalk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("walk %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get walk: %w", err)
	}
	return w, nil
}

// FinishWalk records the outcome of a walk.
func (s *SQLiteStore) FinishWalk(ctx context.Context, id string, status WalkStatus, contexts int, errMsg *string) error {
	query := `
		UPDATE walks
		SET status = ?, contexts = ?, error = ?, completed_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, status, contexts, errMsg, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to finish walk: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("walk %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListWalks lists walks, most recent first.
func (s *SQLiteStore) ListWalks(ctx context.Context, limit, offset int) ([]*Walk, error) {
	query := `SELECT ` + walkColumns + ` FROM walks ORDER BY started_at DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list walks: %w", err)
	}
	defer rows.Close()

	walks := []*Walk{}
	for rows.Next() {
		w, err := scanWalk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan walk: %w", err)
		}
		walks = append(walks, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating walks: %w", err)
	}
	return walks, nil
}

// DeleteWalk deletes a walk together with its contexts and diagnostics.
func (s *SQLiteStore) DeleteWalk(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM walks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete walk: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("walk %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddContexts stores records in a single transaction.
func (s *SQLiteStore) AddContexts(ctx context.Context, records []*ContextRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO contexts (walk_id, seq, kind, main_path, relsrcdir, objdir, sources, variables, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}
		result, err := stmt.ExecContext(ctx,
			r.WalkID,
			r.Seq,
			r.Kind,
			r.MainPath,
			r.RelSrcDir,
			r.ObjDir,
			r.Sources,
			r.Variables,
			r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to add context %s: %w", r.MainPath, err)
		}
		if r.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get context id: %w", err)
		}
	}
	return tx.Commit()
}

const contextColumns = `id, walk_id, seq, kind, main_path, relsrcdir, objdir, sources, variables, created_at`

func scanContext(row scanner) (*ContextRecord, error) {
	r := &ContextRecord{}
	err := row.Scan(
		&r.ID,
		&r.WalkID,
		&r.Seq,
		&r.Kind,
		&r.MainPath,
		&r.RelSrcDir,
		&r.ObjDir,
		&r.Sources,
		&r.Variables,
		&r.CreatedAt,
	)
	return r, err
}

// ListContexts returns the contexts of a walk in yield order.
func (s *SQLiteStore) ListContexts(ctx context.Context, walkID string) ([]*ContextRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+contextColumns+` FROM contexts WHERE walk_id = ? ORDER BY seq`, walkID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contexts: %w", err)
	}
	defer rows.Close()

	records := []*ContextRecord{}
	for rows.Next() {
		r, err := scanContext(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan context: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contexts: %w", err)
	}
	return records, nil
}

// GetContext returns the first context a walk yielded for relsrcdir.
func (s *SQLiteStore) GetContext(ctx context.Context, walkID, relsrcdir string) (*ContextRecord, error) {
	query := `SELECT ` + contextColumns + ` FROM contexts WHERE walk_id = ? AND relsrcdir = ? ORDER BY seq LIMIT 1`
	r, err := scanContext(s.db.QueryRowContext(ctx, query, walkID, relsrcdir))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("context %q of walk %s: %w", relsrcdir, walkID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get context: %w", err)
	}
	return r, nil
}

// AppendDiagnostic appends a diagnostic to a walk.
func (s *SQLiteStore) AppendDiagnostic(ctx context.Context, d *Diagnostic) error {
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}
	if d.FileStack == "" {
		d.FileStack = "[]"
	}
	query := `
		INSERT INTO diagnostics (walk_id, kind, path, file_stack, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, d.WalkID, d.Kind, d.Path, d.FileStack, d.Message, d.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append diagnostic: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get diagnostic id: %w", err)
	}
	d.ID = id
	return nil
}

// ListDiagnostics returns the diagnostics of a walk, optionally only
// those of one kind.
func (s *SQLiteStore) ListDiagnostics(ctx context.Context, walkID string, kind *string) ([]*Diagnostic, error) {
	query := `SELECT id, walk_id, kind, path, file_stack, message, timestamp FROM diagnostics WHERE walk_id = ?`
	args := []any{walkID}
	if kind != nil {
		query += " AND kind = ?"
		args = append(args, *kind)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list diagnostics: %w", err)
	}
	defer rows.Close()

	out := []*Diagnostic{}
	for rows.Next() {
		d := &Diagnostic{}
		if err := rows.Scan(&d.ID, &d.WalkID, &d.Kind, &d.Path, &d.FileStack, &d.Message, &d.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan diagnostic: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating diagnostics: %w", err)
	}
	return out, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
