// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/zapupload/pkg/utils"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	maxDeadlockRetries  = 3
	baseDeadlockBackoff = 10 * time.Millisecond
)

// Driver identifies a database driver type for the task queue.
type Driver string

const (
	// DriverMySQL uses MySQL/MariaDB/Vitess with ? placeholders
	DriverMySQL Driver = "mysql"
	// DriverPostgres uses PostgreSQL/CockroachDB with $N placeholders
	DriverPostgres Driver = "postgres"
)

// sqlDriverName maps a Driver to the database/sql driver it registers as.
func (d Driver) sqlDriverName() string {
	if d == DriverPostgres {
		return "pgx"
	}
	return "mysql"
}

// Open opens a connection pool for driver and verifies it.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver.sqlDriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// DBQueue is a database-backed Queue. Several workers may share one table;
// claims use FOR UPDATE SKIP LOCKED.
type DBQueue struct {
	db                *sql.DB
	tableName         string
	visibilityTimeout time.Duration
	retryBackoff      time.Duration
	driver            Driver
}

// DBQueueConfig configures the database queue.
type DBQueueConfig struct {
	DB                *sql.DB
	Driver            Driver        // Defaults to mysql.
	TableName         string        // Defaults to "upload_tasks"
	VisibilityTimeout time.Duration // How long before a running task is considered abandoned
	RetryBackoff      time.Duration // Base delay before a failed task is retried
}

func NewDBQueue(cfg DBQueueConfig) (*DBQueue, error) {
	if cfg.DB == nil {
		return nil, errors.New("database connection is required")
	}
	if cfg.TableName == "" {
		cfg.TableName = "upload_tasks"
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverMySQL
	}

	return &DBQueue{
		db:                cfg.DB,
		tableName:         cfg.TableName,
		visibilityTimeout: cfg.VisibilityTimeout,
		retryBackoff:      cfg.RetryBackoff,
		driver:            cfg.Driver,
	}, nil
}

// EnsureSchema creates the task table and its claim index if missing.
func (q *DBQueue) EnsureSchema(ctx context.Context) error {
	ts, blob := "DATETIME(6)", "JSON"
	if q.driver == DriverPostgres {
		ts, blob = "TIMESTAMPTZ", "JSONB"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(64) PRIMARY KEY,
			type VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL,
			priority INT NOT NULL DEFAULT 5,
			task_key VARCHAR(255) NOT NULL DEFAULT '',
			payload %s,
			scheduled_at %s NOT NULL,
			started_at %s NULL,
			completed_at %s NULL,
			heartbeat_at %s NULL,
			attempts INT NOT NULL DEFAULT 0,
			max_retries INT NOT NULL DEFAULT 3,
			retry_after %s NULL,
			last_error TEXT,
			worker_id VARCHAR(255),
			created_at %s NOT NULL,
			updated_at %s NOT NULL
		)`, q.tableName, blob, ts, ts, ts, ts, ts, ts, ts),
		fmt.Sprintf(`CREATE INDEX %sidx_%s_claim ON %s (status, priority, scheduled_at)`,
			q.ifNotExists(), q.tableName, q.tableName),
	}

	for _, stmt := range stmts {
		if _, err := q.db.ExecContext(ctx, stmt); err != nil {
			if isDuplicateIndex(err) {
				continue
			}
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// MySQL has no CREATE INDEX IF NOT EXISTS; duplicates are ignored instead.
func (q *DBQueue) ifNotExists() string {
	if q.driver == DriverPostgres {
		return "IF NOT EXISTS "
	}
	return ""
}

func isDuplicateIndex(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1061
}

// rebind converts ? placeholders to $N for PostgreSQL.
func (q *DBQueue) rebind(query string) string {
	if q.driver != DriverPostgres {
		return query
	}

	var result strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			fmt.Fprintf(&result, "$%d", n)
			n++
		} else {
			result.WriteByte(query[i])
		}
	}
	return result.String()
}

const taskColumns = `id, type, status, priority, task_key, payload, scheduled_at, started_at,
	completed_at, attempts, max_retries, retry_after, last_error,
	created_at, updated_at, worker_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var task Task
	var startedAt, completedAt, retryAfter sql.NullTime
	var lastError, workerID sql.NullString

	err := row.Scan(
		&task.ID, &task.Type, &task.Status, &task.Priority, &task.Key, &task.Payload,
		&task.ScheduledAt, &startedAt, &completedAt, &task.Attempts,
		&task.MaxRetries, &retryAfter, &lastError, &task.CreatedAt,
		&task.UpdatedAt, &workerID,
	)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	if retryAfter.Valid {
		task.RetryAfter = retryAfter.Time
	}
	task.LastError = lastError.String
	task.WorkerID = workerID.String
	return &task, nil
}

func (q *DBQueue) Enqueue(ctx context.Context, task *Task) error {
	task.prepare(time.Now(), uuid.NewString)

	query := q.rebind(fmt.Sprintf(`
		INSERT INTO %s (id, type, status, priority, task_key, payload, scheduled_at,
			attempts, max_retries, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, q.tableName))

	_, err := q.db.ExecContext(ctx, query,
		task.ID, task.Type, task.Status, task.Priority, task.Key, []byte(task.Payload),
		task.ScheduledAt, task.Attempts, task.MaxRetries,
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Type, err)
	}
	TasksEnqueuedTotal.WithLabelValues(string(task.Type)).Inc()
	return nil
}

// isDeadlockError reports MySQL error 1213 and PostgreSQL 40P01.
func isDeadlockError(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1213
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40P01"
	}
	return false
}

// withDeadlockRetry runs fn, retrying deadlocks with jittered exponential
// backoff: 10-20ms, 20-40ms, 40-80ms.
func withDeadlockRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := range maxDeadlockRetries {
		err := fn()
		if err == nil || !isDeadlockError(err) {
			return err
		}
		lastErr = err
		DeadlockRetries.Inc()

		backoff := baseDeadlockBackoff * time.Duration(1<<attempt)
		if err := utils.Sleep(ctx, utils.JitterUp(backoff, 1)); err != nil {
			return err
		}
	}
	return lastErr
}

func (q *DBQueue) Dequeue(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error) {
	var task *Task
	err := withDeadlockRetry(ctx, func() error {
		var err error
		task, err = q.dequeueOnce(ctx, workerID, taskTypes...)
		return err
	})
	if err != nil {
		DequeueErrors.Inc()
		return nil, err
	}
	return task, nil
}

func (q *DBQueue) dequeueOnce(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	stale := now.Add(-q.visibilityTimeout)

	typeFilter := ""
	args := []any{now, now, stale}
	if len(taskTypes) > 0 {
		typeFilter = " AND type IN (?" + strings.Repeat(",?", len(taskTypes)-1) + ")"
		for _, t := range taskTypes {
			args = append(args, string(t))
		}
	}

	// Running tasks whose heartbeat went stale are reclaimed.
	selectQuery := q.rebind(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE (
			(status = 'pending' AND scheduled_at <= ? AND (retry_after IS NULL OR retry_after <= ?))
			OR
			(status = 'running' AND heartbeat_at < ?)
		)
		%s
		ORDER BY priority DESC, scheduled_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, taskColumns, q.tableName, typeFilter))

	task, err := scanTask(tx.QueryRowContext(ctx, selectQuery, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	attempts := task.Attempts
	if task.Status == StatusRunning {
		attempts++
	}

	updateQuery := q.rebind(fmt.Sprintf(`
		UPDATE %s SET status = 'running', started_at = ?, heartbeat_at = ?,
			worker_id = ?, attempts = ?, updated_at = ?
		WHERE id = ?
	`, q.tableName))
	if _, err := tx.ExecContext(ctx, updateQuery, now, now, workerID, attempts, now, task.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	task.Status = StatusRunning
	task.StartedAt = &now
	task.WorkerID = workerID
	task.Attempts = attempts
	task.UpdatedAt = now
	return task, nil
}

func (q *DBQueue) Complete(ctx context.Context, taskID string) error {
	now := time.Now()
	query := q.rebind(fmt.Sprintf(`
		UPDATE %s SET status = 'completed', completed_at = ?, updated_at = ?
		WHERE id = ?
	`, q.tableName))

	result, err := q.db.ExecContext(ctx, query, now, now, taskID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (q *DBQueue) Fail(ctx context.Context, taskID string, taskErr error) error {
	task, err := q.Get(ctx, taskID)
	if err != nil {
		return err
	}

	task.fail(time.Now(), taskErr, q.retryBackoff)
	if errors.Is(taskErr, ErrPermanent) {
		task.Status = StatusDeadLetter
		task.RetryAfter = time.Time{}
	}

	var retryAfter *time.Time
	if !task.RetryAfter.IsZero() {
		retryAfter = &task.RetryAfter
	}

	query := q.rebind(fmt.Sprintf(`
		UPDATE %s SET status = ?, attempts = ?, last_error = ?,
			retry_after = ?, worker_id = NULL, updated_at = ?
		WHERE id = ?
	`, q.tableName))
	_, err = q.db.ExecContext(ctx, query,
		task.Status, task.Attempts, task.LastError, retryAfter, task.UpdatedAt, taskID,
	)
	return err
}

func (q *DBQueue) Get(ctx context.Context, taskID string) (*Task, error) {
	query := q.rebind(fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, taskColumns, q.tableName))

	task, err := scanTask(q.db.QueryRowContext(ctx, query, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

func (q *DBQueue) List(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1", taskColumns, q.tableName)
	args := []any{}

	if filter.Type != "" {
		query += " AND type = ?"
		args = append(args, filter.Type)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Key != "" {
		query += " AND task_key = ?"
		args = append(args, filter.Key)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := q.db.QueryContext(ctx, q.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (q *DBQueue) Stats(ctx context.Context) (*QueueStats, error) {
	stats := &QueueStats{ByType: make(map[TaskType]int64)}

	rows, err := q.db.QueryContext(ctx, fmt.Sprintf(`SELECT status, COUNT(*) FROM %s GROUP BY status`, q.tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch TaskStatus(status) {
		case StatusPending:
			stats.Pending = count
		case StatusRunning:
			stats.Running = count
		case StatusCompleted:
			stats.Completed = count
		case StatusDeadLetter:
			stats.DeadLetter = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	typeRows, err := q.db.QueryContext(ctx, fmt.Sprintf(`SELECT type, COUNT(*) FROM %s WHERE status = 'pending' GROUP BY type`, q.tableName))
	if err != nil {
		return nil, err
	}
	defer typeRows.Close()

	for typeRows.Next() {
		var taskType string
		var count int64
		if err := typeRows.Scan(&taskType, &count); err != nil {
			return nil, err
		}
		stats.ByType[TaskType(taskType)] = count
	}
	if err := typeRows.Err(); err != nil {
		return nil, err
	}

	var oldest sql.NullTime
	err = q.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT MIN(scheduled_at) FROM %s WHERE status = 'pending'`, q.tableName)).Scan(&oldest)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if oldest.Valid {
		stats.OldestPending = &oldest.Time
	}
	return stats, nil
}

func (q *DBQueue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	query := q.rebind(fmt.Sprintf(`
		DELETE FROM %s WHERE status = 'completed' AND completed_at < ?
	`, q.tableName))

	result, err := q.db.ExecContext(ctx, query, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

func (q *DBQueue) Heartbeat(ctx context.Context, taskID string, workerID string) error {
	return withDeadlockRetry(ctx, func() error {
		now := time.Now()
		query := q.rebind(fmt.Sprintf(`
			UPDATE %s SET heartbeat_at = ?, updated_at = ?
			WHERE id = ? AND worker_id = ? AND status = 'running'
		`, q.tableName))

		result, err := q.db.ExecContext(ctx, query, now, now, taskID, workerID)
		if err != nil {
			return err
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return ErrTaskNotFound
		}
		return nil
	})
}

func (q *DBQueue) VisibilityTimeout() time.Duration {
	return q.visibilityTimeout
}

// Close is a no-op; the caller owns the *sql.DB.
func (q *DBQueue) Close() error {
	return nil
}
