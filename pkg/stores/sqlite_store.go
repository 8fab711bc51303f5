package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Open creates the store at path, opens the database in WAL mode and runs
// any pending migrations.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The CLI is the only writer; keep the pool small.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// migrate applies the embedded schema migrations.
func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// CreateRun implements Store.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run, tasks []TaskRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, module, action, status, error, changed, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Module, run.Action, run.Status, run.Error, run.Changed,
		run.StartedAt.UTC(), run.CompletedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, task := range tasks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_results (run_id, position, label, op, changed, message, error)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, task.Position, task.Label, task.Op, task.Changed, task.Message, task.Error,
		); err != nil {
			return fmt.Errorf("failed to insert task result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetRun implements Store.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, []TaskRecord, error) {
	run := &Run{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, module, action, status, error, changed, started_at, completed_at
		FROM runs WHERE id = ?`, id).Scan(
		&run.ID, &run.Module, &run.Action, &run.Status, &run.Error, &run.Changed,
		&run.StartedAt, &run.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, position, label, op, changed, message, error
		FROM task_results WHERE run_id = ?
		ORDER BY position ASC`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list task results: %w", err)
	}
	defer rows.Close()

	var tasks []TaskRecord
	for rows.Next() {
		var task TaskRecord
		if err := rows.Scan(&task.RunID, &task.Position, &task.Label, &task.Op,
			&task.Changed, &task.Message, &task.Error); err != nil {
			return nil, nil, fmt.Errorf("failed to scan task result: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating task results: %w", err)
	}

	return run, tasks, nil
}

// ListRuns implements Store.
func (s *SQLiteStore) ListRuns(ctx context.Context, module string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, module, action, status, error, changed, started_at, completed_at
		FROM runs
		WHERE (? = '' OR module = ?)
		ORDER BY started_at DESC
		LIMIT ?`, module, module, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(&run.ID, &run.Module, &run.Action, &run.Status, &run.Error,
			&run.Changed, &run.StartedAt, &run.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}
