package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	"github.com/openfroyo/clientrb/pkg/converge"
	"github.com/openfroyo/clientrb/pkg/telemetry"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore persists converge runs and events in SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ converge.RunRecorder = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes, and migrates a store at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := NewSQLiteStore(Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) dsn() string {
	params := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
		"_time_format=sqlite",
	}
	if s.cfg.Path != MemoryPath {
		params = append(params, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	return s.cfg.Path + "?" + strings.Join(params, "&")
}

// Init opens the database connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
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

// HealthCheck verifies the database connection.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// RecordRun stores a converge report and its resource results in one
// transaction.
func (s *SQLiteStore) RecordRun(ctx context.Context, report *converge.Report) error {
	sources, err := json.Marshal(nonNil(report.Sources))
	if err != nil {
		return fmt.Errorf("failed to encode sources: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, target, sources, status, config_path, digest, changed, reloaded, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.RunID,
		report.Target,
		string(sources),
		string(report.Status),
		report.ConfigPath,
		report.Digest,
		report.Changed,
		report.Reloaded,
		nullString(report.Error),
		report.StartedAt.UTC(),
		report.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for i, rr := range report.Resources {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO resource_results (run_id, seq, resource_id, type, action, changed, skipped, duration_ms, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			report.RunID,
			i,
			rr.ID,
			rr.Type,
			rr.Action,
			rr.Changed,
			rr.Skipped,
			rr.Duration.Milliseconds(),
			nullString(rr.Error),
		)
		if err != nil {
			return fmt.Errorf("failed to insert resource result %s: %w", rr.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

const runColumns = `id, target, sources, status, config_path, digest, changed, reloaded, error, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var sources string
	var status string
	var errMsg sql.NullString
	if err := row.Scan(
		&run.ID,
		&run.Target,
		&sources,
		&status,
		&run.ConfigPath,
		&run.Digest,
		&run.Changed,
		&run.Reloaded,
		&errMsg,
		&run.StartedAt,
		&run.FinishedAt,
	); err != nil {
		return nil, err
	}
	run.Status = converge.RunStatus(status)
	if errMsg.Valid {
		run.Error = &errMsg.String
	}
	if err := json.Unmarshal([]byte(sources), &run.Sources); err != nil {
		return nil, fmt.Errorf("failed to decode sources of run %s: %w", run.ID, err)
	}
	return run, nil
}

// GetRun retrieves a run and its resource results.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, resource_id, type, action, changed, skipped, duration_ms, error
		FROM resource_results
		WHERE run_id = ?
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rr ResourceResult
		var durationMS int64
		var errMsg sql.NullString
		if err := rows.Scan(&rr.Seq, &rr.ResourceID, &rr.Type, &rr.Action, &rr.Changed, &rr.Skipped, &durationMS, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan resource result: %w", err)
		}
		rr.Duration = time.Duration(durationMS) * time.Millisecond
		if errMsg.Valid {
			rr.Error = &errMsg.String
		}
		run.Resources = append(run.Resources, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate resource results: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	var where []string
	var args []interface{}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Target != "" {
		where = append(where, "target = ?")
		args = append(args, filter.Target)
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	query += " ORDER BY started_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// LatestRun returns the most recent run, or ErrNotFound.
func (s *SQLiteStore) LatestRun(ctx context.Context) (*Run, error) {
	runs, err := s.ListRuns(ctx, RunFilter{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("latest run: %w", ErrNotFound)
	}
	return runs[0], nil
}

// PruneRuns keeps the newest keep runs and deletes the rest together with
// their resource results and events.
func (s *SQLiteStore) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM runs
		WHERE id NOT IN (SELECT id FROM runs ORDER BY started_at DESC, id LIMIT ?)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM events
		WHERE run_id <> '' AND run_id NOT IN (SELECT id FROM runs)
	`); err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return deleted, nil
}

// SaveEvent stores a telemetry event.
func (s *SQLiteStore) SaveEvent(ctx context.Context, event telemetry.Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}
	if event.Data == nil {
		data = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, run_id, type, level, resource_id, message, data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		event.RunID,
		event.Type,
		event.Level,
		event.ResourceID,
		event.Message,
		string(data),
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// ListEvents returns the events of a run in the order they happened.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string) ([]*EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, type, level, resource_id, message, data, timestamp
		FROM events
		WHERE run_id = ?
		ORDER BY timestamp, rowid
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*EventRecord
	for rows.Next() {
		e := &EventRecord{}
		var data string
		if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &e.Level, &e.ResourceID, &e.Message, &data, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
			return nil, fmt.Errorf("failed to decode event data: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

// EventSubscriber returns a subscriber that persists every delivered event.
// Failures are logged; they never interrupt a converge.
func (s *SQLiteStore) EventSubscriber(log zerolog.Logger) telemetry.EventSubscriber {
	return func(event telemetry.Event) {
		if err := s.SaveEvent(context.Background(), event); err != nil {
			log.Warn().Err(err).Str("event", event.Type).Msg("Failed to persist event")
		}
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
