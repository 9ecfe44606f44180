// Package ledger records what the frame displayed and downloaded in a
// SQLite database. Load failures drive cache eviction; the rest feeds the
// status command.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // register the "sqlite" driver
)

// Eviction policy: a photo failing this many loads within the window is
// evicted so the next refresh downloads it again.
const (
	FailureThreshold = 3
	FailureWindow    = 30 * time.Minute
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Ledger wraps the database. Safe for concurrent use.
type Ledger struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// BatchStats describes one download batch.
type BatchStats struct {
	SessionID string
	Listed    int
	Cached    int
	Skipped   int
	Failed    int
	StartedAt time.Time
	Duration  time.Duration
}

// Summary aggregates the ledger for display.
type Summary struct {
	Loads        int
	LoadFailures int
	Photos       int // distinct photos shown successfully
	Batches      int
	LastBatch    *BatchStats
}

// Open opens (creating if needed) the ledger database at path and applies
// pending migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ledger: creating directory: %w", err)
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening database %s: %w", path, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("ledger opened", slog.String("db_path", path))

	return &Ledger{db: db, logger: logger, nowFunc: time.Now}, nil
}

func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ledger: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("ledger: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("ledger: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordLoad stores one display load result.
func (l *Ledger) RecordLoad(ctx context.Context, photoID string, loadErr string) error {
	ok := 1
	errMsg := sql.NullString{}

	if loadErr != "" {
		ok = 0
		errMsg = sql.NullString{String: loadErr, Valid: true}
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO image_loads (photo_id, ok, error_msg, recorded_at) VALUES (?, ?, ?, ?)`,
		photoID, ok, errMsg, l.nowFunc().UnixNano())
	if err != nil {
		return fmt.Errorf("ledger: recording load of %s: %w", photoID, err)
	}

	return nil
}

// FailureCount counts load failures of photoID since the given time that
// happened after its most recent successful load.
func (l *Ledger) FailureCount(ctx context.Context, photoID string, since time.Time) (int, error) {
	var n int

	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM image_loads
		WHERE photo_id = ? AND ok = 0 AND recorded_at >= ?
		  AND recorded_at > COALESCE(
		      (SELECT MAX(recorded_at) FROM image_loads WHERE photo_id = ? AND ok = 1), 0)`,
		photoID, since.UnixNano(), photoID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ledger: counting failures of %s: %w", photoID, err)
	}

	return n, nil
}

// ShouldEvict reports whether photoID failed FailureThreshold times within
// FailureWindow.
func (l *Ledger) ShouldEvict(ctx context.Context, photoID string) (bool, error) {
	n, err := l.FailureCount(ctx, photoID, l.nowFunc().Add(-FailureWindow))
	if err != nil {
		return false, err
	}

	return n >= FailureThreshold, nil
}

// RecordBatch stores the outcome of one download batch.
func (l *Ledger) RecordBatch(ctx context.Context, b BatchStats) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO download_batches
			(session_id, listed, cached, skipped, failed, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.SessionID, b.Listed, b.Cached, b.Skipped, b.Failed,
		b.StartedAt.UnixNano(), b.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("ledger: recording batch: %w", err)
	}

	return nil
}

// Summary aggregates load and batch history.
func (l *Ledger) Summary(ctx context.Context) (Summary, error) {
	var s Summary

	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN ok = 0 THEN 1 ELSE 0 END), 0),
		       COUNT(DISTINCT CASE WHEN ok = 1 THEN photo_id END)
		FROM image_loads`).Scan(&s.Loads, &s.LoadFailures, &s.Photos)
	if err != nil {
		return Summary{}, fmt.Errorf("ledger: summarizing loads: %w", err)
	}

	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM download_batches`).Scan(&s.Batches); err != nil {
		return Summary{}, fmt.Errorf("ledger: counting batches: %w", err)
	}

	var (
		b         BatchStats
		startedAt int64
		durMS     int64
	)

	err = l.db.QueryRowContext(ctx, `
		SELECT session_id, listed, cached, skipped, failed, started_at, duration_ms
		FROM download_batches ORDER BY id DESC LIMIT 1`).
		Scan(&b.SessionID, &b.Listed, &b.Cached, &b.Skipped, &b.Failed, &startedAt, &durMS)

	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return Summary{}, fmt.Errorf("ledger: loading last batch: %w", err)
	default:
		b.StartedAt = time.Unix(0, startedAt).UTC()
		b.Duration = time.Duration(durMS) * time.Millisecond
		s.LastBatch = &b
	}

	return s, nil
}

// Prune deletes load records older than the given time. Returns the number
// of rows removed.
func (l *Ledger) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM image_loads WHERE recorded_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("ledger: pruning loads: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ledger: pruning loads: %w", err)
	}

	return n, nil
}
