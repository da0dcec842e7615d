package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/seantiz/calcops/internal/model"
)

const createWatchItemsTable = `
CREATE TABLE IF NOT EXISTS watch_items (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL,
    source            TEXT NOT NULL,
    listing_id        TEXT NOT NULL,
    title             TEXT NOT NULL DEFAULT '',
    price_cents       INTEGER,
    currency          TEXT NOT NULL DEFAULT '',
    image_url         TEXT NOT NULL DEFAULT '',
    item_url          TEXT NOT NULL DEFAULT '',
    available         INTEGER NOT NULL DEFAULT 0,
    last_error        TEXT NOT NULL DEFAULT '',
    last_refreshed_at DATETIME,
    created_at        DATETIME NOT NULL,
    UNIQUE (user_id, source, listing_id)
)`

const createRefreshRunsTable = `
CREATE TABLE IF NOT EXISTS refresh_runs (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL,
    trigger_kind TEXT NOT NULL,
    mode         TEXT NOT NULL,
    status       TEXT NOT NULL,
    concurrency  INTEGER NOT NULL,
    total        INTEGER NOT NULL DEFAULT 0,
    succeeded    INTEGER NOT NULL DEFAULT 0,
    failed       INTEGER NOT NULL DEFAULT 0,
    error        TEXT NOT NULL DEFAULT '',
    duration_ms  INTEGER,
    created_at   DATETIME NOT NULL,
    started_at   DATETIME,
    finished_at  DATETIME
)`

const watchItemColumns = `id, user_id, source, listing_id, title, price_cents,
	currency, image_url, item_url, available, last_error, last_refreshed_at, created_at`

const runColumns = `id, user_id, trigger_kind, mode, status, concurrency, total,
	succeeded, failed, error, duration_ms, created_at, started_at, finished_at`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite serialises writers anyway, and ":memory:" databases are private
	// to a single connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	for _, ddl := range []string{createWatchItemsTable, createRefreshRunsTable} {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWatchItem(sc scanner) (*model.WatchItem, error) {
	w := &model.WatchItem{}
	err := sc.Scan(
		&w.ID, &w.UserID, &w.Source, &w.ListingID, &w.Title, &w.PriceCents,
		&w.Currency, &w.ImageURL, &w.ItemURL, &w.Available, &w.LastError,
		&w.LastRefreshedAt, &w.CreatedAt,
	)
	return w, err
}

func scanRun(sc scanner) (*model.RefreshRun, error) {
	r := &model.RefreshRun{}
	err := sc.Scan(
		&r.ID, &r.UserID, &r.Trigger, &r.Mode, &r.Status, &r.Concurrency, &r.Total,
		&r.Succeeded, &r.Failed, &r.Error, &r.DurationMS, &r.CreatedAt, &r.StartedAt,
		&r.FinishedAt,
	)
	return r, err
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// CreateWatchItem inserts a new watch item. It returns ErrAlreadyExists if the
// user already watches the same listing on the same source.
func (s *SQLiteStore) CreateWatchItem(ctx context.Context, w *model.WatchItem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watch_items (`+watchItemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.UserID, w.Source, w.ListingID, w.Title, w.PriceCents,
		w.Currency, w.ImageURL, w.ItemURL, w.Available, w.LastError,
		w.LastRefreshedAt, w.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert watch item: %w", err)
	}
	return nil
}

// GetWatchItem retrieves a watch item by ID.
func (s *SQLiteStore) GetWatchItem(ctx context.Context, id string) (*model.WatchItem, error) {
	w, err := scanWatchItem(s.db.QueryRowContext(ctx,
		`SELECT `+watchItemColumns+` FROM watch_items WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get watch item: %w", err)
	}
	return w, nil
}

// ListWatchItems returns a page of watch items ordered by created_at DESC,
// along with the total count. An empty userID lists items of every user.
func (s *SQLiteStore) ListWatchItems(ctx context.Context, userID string, limit, offset int) ([]*model.WatchItem, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM watch_items WHERE (? = '' OR user_id = ?)", userID, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count watch items: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+watchItemColumns+` FROM watch_items
		WHERE (? = '' OR user_id = ?)
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		userID, userID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list watch items: %w", err)
	}
	defer rows.Close()

	items, err := collectWatchItems(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// RefreshableItems returns every watch item of userID (or of all users when
// userID is empty) in creation order.
func (s *SQLiteStore) RefreshableItems(ctx context.Context, userID string) ([]*model.WatchItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+watchItemColumns+` FROM watch_items
		WHERE (? = '' OR user_id = ?)
		ORDER BY created_at ASC, id ASC`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list refreshable items: %w", err)
	}
	defer rows.Close()

	return collectWatchItems(rows)
}

func collectWatchItems(rows *sql.Rows) ([]*model.WatchItem, error) {
	var items []*model.WatchItem
	for rows.Next() {
		w, err := scanWatchItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watch item: %w", err)
		}
		items = append(items, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watch items: %w", err)
	}
	return items, nil
}

// DeleteWatchItem removes a watch item.
func (s *SQLiteStore) DeleteWatchItem(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM watch_items WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete watch item: %w", err)
	}
	return checkAffected(result)
}

// ApplyListing stores freshly fetched listing data on a watch item and clears
// its last error.
func (s *SQLiteStore) ApplyListing(ctx context.Context, id string, l model.Listing, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE watch_items SET title = ?, price_cents = ?, currency = ?, image_url = ?,
			item_url = ?, available = ?, last_error = '', last_refreshed_at = ?
		WHERE id = ?`,
		l.Title, l.PriceCents, l.Currency, l.ImageURL, l.ItemURL, l.Available, at, id,
	)
	if err != nil {
		return fmt.Errorf("apply listing: %w", err)
	}
	return checkAffected(result)
}

// RecordRefreshError stores the error of a failed refresh on a watch item,
// leaving the previously fetched listing data untouched.
func (s *SQLiteStore) RecordRefreshError(ctx context.Context, id, msg string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE watch_items SET last_error = ?, last_refreshed_at = ? WHERE id = ?",
		msg, at, id,
	)
	if err != nil {
		return fmt.Errorf("record refresh error: %w", err)
	}
	return checkAffected(result)
}

// CreateRun inserts a new refresh run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *model.RefreshRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Trigger, r.Mode, r.Status, r.Concurrency, r.Total,
		r.Succeeded, r.Failed, r.Error, r.DurationMS, r.CreatedAt, r.StartedAt,
		r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refresh run: %w", err)
	}
	return nil
}

// GetRun retrieves a refresh run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.RefreshRun, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM refresh_runs WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get refresh run: %w", err)
	}
	return r, nil
}

// ListRuns returns a page of refresh runs ordered by created_at DESC, along
// with the total count of all runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*model.RefreshRun, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM refresh_runs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count refresh runs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+runColumns+` FROM refresh_runs
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list refresh runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.RefreshRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan refresh run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate refresh runs: %w", err)
	}

	return runs, total, nil
}

// UpdateRunStatus moves a run to status. Moving to running sets started_at;
// moving to a terminal status sets finished_at. Transitions not allowed by
// model.ValidTransition return ErrInvalidTransition.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := checkTransition(ctx, tx, id, status); err != nil {
		return err
	}

	now := time.Now().UTC()
	switch status {
	case model.RunRunning:
		_, err = tx.ExecContext(ctx,
			"UPDATE refresh_runs SET status = ?, started_at = ? WHERE id = ?", status, now, id)
	case model.RunCompleted, model.RunFailed:
		_, err = tx.ExecContext(ctx,
			"UPDATE refresh_runs SET status = ?, finished_at = ? WHERE id = ?", status, now, id)
	default:
		_, err = tx.ExecContext(ctx,
			"UPDATE refresh_runs SET status = ? WHERE id = ?", status, id)
	}
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}

	return tx.Commit()
}

// FinishRun writes the final status, counters and timing of a run. The
// transition from the stored status to r.Status must be valid.
func (s *SQLiteStore) FinishRun(ctx context.Context, r *model.RefreshRun) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := checkTransition(ctx, tx, r.ID, r.Status); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE refresh_runs SET status = ?, total = ?, succeeded = ?, failed = ?,
			error = ?, duration_ms = ?, started_at = COALESCE(?, started_at), finished_at = ?
		WHERE id = ?`,
		r.Status, r.Total, r.Succeeded, r.Failed, r.Error, r.DurationMS,
		r.StartedAt, r.FinishedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}

	return tx.Commit()
}

func checkTransition(ctx context.Context, tx *sql.Tx, id, to string) error {
	var from string
	err := tx.QueryRowContext(ctx, "SELECT status FROM refresh_runs WHERE id = ?", id).Scan(&from)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get run status: %w", err)
	}
	if !model.ValidTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// GetStats returns aggregate watchlist and refresh statistics.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &Stats{
		ItemsBySource: make(map[string]int),
		RunsByStatus:  make(map[string]int),
	}

	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(last_error != ''), 0) FROM watch_items",
	).Scan(&stats.WatchItems, &stats.ItemsWithError); err != nil {
		return nil, fmt.Errorf("count watch items: %w", err)
	}

	if err := countGrouped(ctx, tx,
		"SELECT source, COUNT(*) FROM watch_items GROUP BY source", stats.ItemsBySource,
	); err != nil {
		return nil, err
	}

	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(AVG(duration_ms), 0) FROM refresh_runs",
	).Scan(&stats.Runs, &stats.AvgRunDurationMS); err != nil {
		return nil, fmt.Errorf("count refresh runs: %w", err)
	}

	if err := countGrouped(ctx, tx,
		"SELECT status, COUNT(*) FROM refresh_runs GROUP BY status", stats.RunsByStatus,
	); err != nil {
		return nil, err
	}

	return stats, nil
}

func countGrouped(ctx context.Context, tx *sql.Tx, query string, into map[string]int) error {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("group counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan group count: %w", err)
		}
		into[key] = n
	}
	return rows.Err()
}

func checkAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
