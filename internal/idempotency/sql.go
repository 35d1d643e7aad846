package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/content-publisher/shared/postgresql"
	"github.com/cuongbtq/content-publisher/shared/sqlite"
	"github.com/jmoiron/sqlx"
)

// PostgresSchema creates the idempotency table on PostgreSQL
var PostgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS publish_idempotency (
		content_key TEXT NOT NULL,
		job_class   TEXT NOT NULL,
		task_id     TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (content_key, job_class)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_publish_idempotency_class_created
		ON publish_idempotency (job_class, created_at DESC)`,
}

// SQLiteSchema creates the idempotency table on SQLite
var SQLiteSchema = []string{
	`CREATE TABLE IF NOT EXISTS publish_idempotency (
		content_key TEXT NOT NULL,
		job_class   TEXT NOT NULL,
		task_id     TEXT NOT NULL,
		created_at  DATETIME NOT NULL,
		updated_at  DATETIME NOT NULL,
		PRIMARY KEY (content_key, job_class)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_publish_idempotency_class_created
		ON publish_idempotency (job_class, created_at)`,
}

// SQLStore implements Store on PostgreSQL or SQLite through sqlx.
// Queries are written with '?' placeholders and rebound for the driver.
type SQLStore struct {
	db      *sqlx.DB
	logger  *slog.Logger
	now     func() time.Time
	closeFn func() error
}

// NewSQLStore wraps an open database whose schema is already applied
func NewSQLStore(db *sqlx.DB, logger *slog.Logger) *SQLStore {
	return &SQLStore{
		db:      db,
		logger:  logger,
		now:     time.Now,
		closeFn: db.Close,
	}
}

// NewPostgresStore builds a store on a connected PostgreSQL client and migrates the schema
func NewPostgresStore(ctx context.Context, client *postgresql.Client, logger *slog.Logger) (*SQLStore, error) {
	if err := client.Migrate(ctx, PostgresSchema...); err != nil {
		return nil, err
	}
	store := NewSQLStore(client.GetDB(), logger)
	store.closeFn = client.Close
	return store, nil
}

// NewSQLiteStore opens the SQLite file at path and migrates the schema
func NewSQLiteStore(ctx context.Context, path string, logger *slog.Logger) (*SQLStore, error) {
	db, err := sqlite.Open(ctx, path, logger, SQLiteSchema...)
	if err != nil {
		return nil, err
	}
	return NewSQLStore(db, logger), nil
}

func (s *SQLStore) IsProcessed(ctx context.Context, contentKey, jobClass string) (bool, error) {
	query := s.db.Rebind(`
		SELECT COUNT(*)
		FROM publish_idempotency
		WHERE content_key = ? AND job_class = ?
	`)

	var count int
	if err := s.db.GetContext(ctx, &count, query, contentKey, jobClass); err != nil {
		return false, fmt.Errorf("failed to check idempotency record: %w", err)
	}
	return count > 0, nil
}

func (s *SQLStore) MarkProcessed(ctx context.Context, contentKey, jobClass, taskID string) error {
	query := s.db.Rebind(`
		INSERT INTO publish_idempotency (content_key, job_class, task_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (content_key, job_class) DO NOTHING
	`)

	now := s.now().UTC()
	result, err := s.db.ExecContext(ctx, query, contentKey, jobClass, taskID, now, now)
	if err != nil {
		if postgresql.IsUniqueViolation(err) || sqlite.IsUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("failed to insert idempotency record: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		s.logger.Debug("Idempotency record already present",
			slog.String("content_key", contentKey),
			slog.String("job_class", jobClass),
			slog.String("task_id", taskID),
		)
	}
	return nil
}

func (s *SQLStore) ListProcessed(ctx context.Context, jobClass string) ([]Record, error) {
	query := `
		SELECT content_key, job_class, task_id, created_at, updated_at
		FROM publish_idempotency
	`
	args := []interface{}{}
	if jobClass != "" {
		query += " WHERE job_class = ?"
		args = append(args, jobClass)
	}
	query += " ORDER BY created_at DESC, content_key ASC"

	records := []Record{}
	if err := s.db.SelectContext(ctx, &records, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list idempotency records: %w", err)
	}
	return records, nil
}

func (s *SQLStore) Stats(ctx context.Context, jobClass string) (*Stats, error) {
	classQuery := `SELECT job_class, COUNT(*) AS total FROM publish_idempotency`
	todayQuery := `SELECT COUNT(*) FROM publish_idempotency WHERE created_at >= ?`
	since := startOfDay(s.now()).UTC()

	classArgs := []interface{}{}
	todayArgs := []interface{}{since}
	if jobClass != "" {
		classQuery += " WHERE job_class = ?"
		todayQuery += " AND job_class = ?"
		classArgs = append(classArgs, jobClass)
		todayArgs = append(todayArgs, jobClass)
	}
	classQuery += " GROUP BY job_class"

	var rows []struct {
		JobClass string `db:"job_class"`
		Total    int    `db:"total"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(classQuery), classArgs...); err != nil {
		return nil, fmt.Errorf("failed to count idempotency records: %w", err)
	}

	stats := &Stats{PerClass: make(map[string]int, len(rows))}
	for _, row := range rows {
		stats.PerClass[row.JobClass] = row.Total
		stats.Total += row.Total
	}

	if err := s.db.GetContext(ctx, &stats.CreatedToday, s.db.Rebind(todayQuery), todayArgs...); err != nil {
		return nil, fmt.Errorf("failed to count today's idempotency records: %w", err)
	}
	return stats, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.closeFn()
}
