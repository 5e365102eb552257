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

const memoryPath = ":memory:"

// SQLiteStore persists completions in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	cfg  Config
	path string
}

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

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a distinct database.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg:  cfg,
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.path
	if s.path != memoryPath {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
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

// PutCompletion records c unless a completion for the same key exists.
// It reports whether c was inserted.
func (s *SQLiteStore) PutCompletion(ctx context.Context, c *Completion) (bool, error) {
	query := `
		INSERT OR IGNORE INTO completions (
			key, workflow_instance_id, base_name, custom_name, fan_out_index,
			status, output, error_kind, error_message, attempts,
			completed_at, acknowledged_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var fanOut sql.NullInt64
	if c.FanOutIndex != nil {
		fanOut = sql.NullInt64{Int64: int64(*c.FanOutIndex), Valid: true}
	}

	result, err := s.db.ExecContext(ctx, query,
		c.Key,
		c.WorkflowInstanceID,
		c.BaseName,
		c.CustomName,
		fanOut,
		c.Status,
		c.Output,
		c.ErrorKind,
		c.ErrorMessage,
		c.Attempts,
		c.CompletedAt.UnixMilli(),
		nullMillis(c.AcknowledgedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert completion: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows == 1, nil
}

// GetCompletion retrieves the completion for key.
func (s *SQLiteStore) GetCompletion(ctx context.Context, key string) (*Completion, error) {
	query := `
		SELECT key, workflow_instance_id, base_name, custom_name, fan_out_index,
			status, output, error_kind, error_message, attempts,
			completed_at, acknowledged_at
		FROM completions
		WHERE key = ?
	`

	c, err := scanCompletion(s.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get completion: %w", err)
	}

	return c, nil
}

// ListCompletions lists the completions of a workflow instance in
// completion order.
func (s *SQLiteStore) ListCompletions(ctx context.Context, workflowInstanceID string) ([]*Completion, error) {
	query := `
		SELECT key, workflow_instance_id, base_name, custom_name, fan_out_index,
			status, output, error_kind, error_message, attempts,
			completed_at, acknowledged_at
		FROM completions
		WHERE workflow_instance_id = ?
		ORDER BY completed_at, key
	`

	rows, err := s.db.QueryContext(ctx, query, workflowInstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list completions: %w", err)
	}
	defer rows.Close()

	completions := []*Completion{}
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan completion: %w", err)
		}
		completions = append(completions, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating completions: %w", err)
	}

	return completions, nil
}

// AcknowledgeCompletion marks the completion for key as acknowledged by
// the engine. Acknowledging twice keeps the first timestamp.
func (s *SQLiteStore) AcknowledgeCompletion(ctx context.Context, key string, at time.Time) error {
	query := `
		UPDATE completions
		SET acknowledged_at = COALESCE(acknowledged_at, ?)
		WHERE key = ?
	`

	result, err := s.db.ExecContext(ctx, query, at.UnixMilli(), key)
	if err != nil {
		return fmt.Errorf("failed to acknowledge completion: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// PurgeAcknowledged deletes acknowledged completions older than cutoff and
// returns how many were removed. Unacknowledged completions are kept.
func (s *SQLiteStore) PurgeAcknowledged(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM completions WHERE acknowledged_at IS NOT NULL AND acknowledged_at < ?`

	result, err := s.db.ExecContext(ctx, query, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge completions: %w", err)
	}

	return result.RowsAffected()
}

// Stats counts the stored completions.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	query := `
		SELECT COUNT(*), COUNT(acknowledged_at)
		FROM completions
	`

	var st Stats
	if err := s.db.QueryRowContext(ctx, query).Scan(&st.Total, &st.Acknowledged); err != nil {
		return Stats{}, fmt.Errorf("failed to count completions: %w", err)
	}
	st.Pending = st.Total - st.Acknowledged

	return st, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCompletion(row rowScanner) (*Completion, error) {
	var (
		c           Completion
		fanOut      sql.NullInt64
		completedAt int64
		ackedAt     sql.NullInt64
	)
	err := row.Scan(
		&c.Key,
		&c.WorkflowInstanceID,
		&c.BaseName,
		&c.CustomName,
		&fanOut,
		&c.Status,
		&c.Output,
		&c.ErrorKind,
		&c.ErrorMessage,
		&c.Attempts,
		&completedAt,
		&ackedAt,
	)
	if err != nil {
		return nil, err
	}

	if fanOut.Valid {
		idx := int(fanOut.Int64)
		c.FanOutIndex = &idx
	}
	c.CompletedAt = time.UnixMilli(completedAt).UTC()
	if ackedAt.Valid {
		t := time.UnixMilli(ackedAt.Int64).UTC()
		c.AcknowledgedAt = &t
	}

	return &c, nil
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
