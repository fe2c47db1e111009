// Package queue provides the embedded on-disk queue of sales aggregates
// that could not be published to the cloud store.
//
// The queue is backed by SQLite (ncruces/go-sqlite3) in WAL mode so records
// survive process restarts and machine reboots; a branch agent may run
// unattended for days while offline. It is owned and mutated exclusively by
// the single scheduler loop, so no locking beyond SQLite's own is needed.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aquraretail/erpsync/internal/model"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrQueueIO marks local storage failures. This is the most severe error
// class the agent produces: with the disk gone there is no further fallback
// tier, so callers treat it as fatal for the current cycle.
var ErrQueueIO = errors.New("queue storage failure")

// timeLayout is RFC3339 with fixed-width nanoseconds. RFC3339Nano trims
// trailing zeros, which breaks the lexicographic ordering the drain and
// prune queries rely on ("...T10:00:00.1Z" sorts after "...T10:00:00.15Z").
// Times are always stored in UTC so the width never varies.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Queue wraps the SQLite connection backing the offline queue.
type Queue struct {
	conn *sql.DB
	path string
}

// Open creates or opens the queue database at path and ensures the schema
// exists. The caller MUST call Close when done.
func Open(path string) (*Queue, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create queue directory: %v", ErrQueueIO, err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("%w: open queue database: %v", ErrQueueIO, err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: ping queue database: %v", ErrQueueIO, err)
	}

	// Single writer, but WAL keeps the status command readable mid-cycle.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrQueueIO, pragma, err)
		}
	}

	q := &Queue{conn: conn, path: path}
	if err := q.initSchema(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return q, nil
}

// Close checkpoints the WAL and closes the database.
func (q *Queue) Close() error {
	if q.conn == nil {
		return nil
	}
	if _, err := q.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint queue WAL: %v\n", err)
	}
	err := q.conn.Close()
	q.conn = nil
	if err != nil {
		return fmt.Errorf("%w: close queue database: %v", ErrQueueIO, err)
	}
	return nil
}

// initSchema creates the sync_queue table and indexes. Idempotent.
func (q *Queue) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		branch_id INTEGER NOT NULL,
		sale_date TEXT NOT NULL,
		total_bills INTEGER NOT NULL DEFAULT 0,
		total_returns INTEGER NOT NULL DEFAULT 0,
		net_bills INTEGER NOT NULL DEFAULT 0,
		gross_amount TEXT NOT NULL DEFAULT '0',
		tax_amount TEXT NOT NULL DEFAULT '0',
		discount_amount TEXT NOT NULL DEFAULT '0',
		return_amount TEXT NOT NULL DEFAULT '0',
		return_tax TEXT NOT NULL DEFAULT '0',
		net_amount TEXT NOT NULL DEFAULT '0',
		net_tax TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		synced INTEGER NOT NULL DEFAULT 0,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sync_queue_synced ON sync_queue(synced);
	CREATE INDEX IF NOT EXISTS idx_sync_queue_date ON sync_queue(sale_date);
	`
	if _, err := q.conn.Exec(schema); err != nil {
		return fmt.Errorf("%w: initialize queue schema: %v", ErrQueueIO, err)
	}
	return nil
}

// Enqueue stores an aggregate for later replay. The aggregate is validated
// first so a malformed row can never sit in the queue poisoning every drain.
func (q *Queue) Enqueue(ctx context.Context, agg *model.DailySalesAggregate) error {
	if err := agg.Validate(); err != nil {
		return fmt.Errorf("refusing to enqueue branch %d date %s: %w", agg.BranchID, agg.SaleDate, err)
	}
	query := `
	INSERT INTO sync_queue (
		branch_id, sale_date, total_bills, total_returns, net_bills,
		gross_amount, tax_amount, discount_amount,
		return_amount, return_tax, net_amount, net_tax, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.conn.ExecContext(ctx, query,
		agg.BranchID,
		agg.SaleDate,
		agg.TotalBills,
		agg.TotalReturns,
		agg.NetBills,
		agg.GrossAmount.StringFixed(2),
		agg.TaxAmount.StringFixed(2),
		agg.DiscountAmount.StringFixed(2),
		agg.ReturnAmount.StringFixed(2),
		agg.ReturnTax.StringFixed(2),
		agg.NetAmount.StringFixed(2),
		agg.NetTax.StringFixed(2),
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("%w: enqueue branch %d date %s: %v", ErrQueueIO, agg.BranchID, agg.SaleDate, err)
	}
	return nil
}

// Pending returns unsynced records oldest-first, so bulk replay reconstructs
// a branch's history in chronological order. Records whose retry count has
// reached maxRetries are excluded; they are counted by Stats instead of
// blocking the drain forever.
func (q *Queue) Pending(ctx context.Context, maxRetries int) ([]*model.QueueRecord, error) {
	query := `
	SELECT id, branch_id, sale_date, total_bills, total_returns, net_bills,
	       gross_amount, tax_amount, discount_amount,
	       return_amount, return_tax, net_amount, net_tax,
	       created_at, synced, retry_count, last_error
	FROM sync_queue
	WHERE synced = 0 AND retry_count < ?
	ORDER BY created_at ASC
	`
	rows, err := q.conn.QueryContext(ctx, query, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("%w: query pending records: %v", ErrQueueIO, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// MarkSynced flips a record to synced and clears its last error. The flag
// only ever transitions false to true.
func (q *Queue) MarkSynced(ctx context.Context, id int64) error {
	res, err := q.conn.ExecContext(ctx,
		`UPDATE sync_queue SET synced = 1, last_error = NULL WHERE id = ? AND synced = 0`, id)
	if err != nil {
		return fmt.Errorf("%w: mark record %d synced: %v", ErrQueueIO, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("record %d not found or already synced", id)
	}
	return nil
}

// MarkFailed records a failed replay attempt: retry_count is incremented
// and last_error replaced.
func (q *Queue) MarkFailed(ctx context.Context, id int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := q.conn.ExecContext(ctx,
		`UPDATE sync_queue SET retry_count = retry_count + 1, last_error = ? WHERE id = ?`, msg, id)
	if err != nil {
		return fmt.Errorf("%w: mark record %d failed: %v", ErrQueueIO, id, err)
	}
	return nil
}

// Prune deletes synced records older than retentionDays. Unsynced records
// are never pruned, regardless of age or retry count.
func (q *Queue) Prune(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(timeLayout)
	res, err := q.conn.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE synced = 1 AND created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: prune queue: %v", ErrQueueIO, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: prune queue: %v", ErrQueueIO, err)
	}
	return n, nil
}

// Stats summarizes queue occupancy for status reporting.
type Stats struct {
	// Pending counts unsynced records still eligible for replay.
	Pending int
	// Abandoned counts unsynced records past the retry cap. They are kept
	// forever but no longer replayed; a human has to resolve them.
	Abandoned int
	// Synced counts replayed records awaiting pruning.
	Synced int
	// OldestPending is the sale date of the oldest replayable record.
	OldestPending string
}

// Stats returns current queue occupancy. maxRetries is the same cap passed
// to Pending.
func (q *Queue) Stats(ctx context.Context, maxRetries int) (*Stats, error) {
	var s Stats
	query := `
	SELECT
		COALESCE(SUM(CASE WHEN synced = 0 AND retry_count < ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN synced = 0 AND retry_count >= ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN synced = 1 THEN 1 ELSE 0 END), 0),
		COALESCE(MIN(CASE WHEN synced = 0 AND retry_count < ? THEN sale_date END), '')
	FROM sync_queue
	`
	err := q.conn.QueryRowContext(ctx, query, maxRetries, maxRetries, maxRetries).
		Scan(&s.Pending, &s.Abandoned, &s.Synced, &s.OldestPending)
	if err != nil {
		return nil, fmt.Errorf("%w: queue stats: %v", ErrQueueIO, err)
	}
	return &s, nil
}

// Depth returns the number of records still awaiting replay, including
// abandoned ones. This is the figure shown in cycle summaries.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE synced = 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: queue depth: %v", ErrQueueIO, err)
	}
	return n, nil
}

// scanRecords reads queue rows into records.
func scanRecords(rows *sql.Rows) ([]*model.QueueRecord, error) {
	var records []*model.QueueRecord

	for rows.Next() {
		var (
			rec       model.QueueRecord
			amounts   [7]string
			createdAt string
			lastError sql.NullString
		)
		err := rows.Scan(
			&rec.ID,
			&rec.Aggregate.BranchID,
			&rec.Aggregate.SaleDate,
			&rec.Aggregate.TotalBills,
			&rec.Aggregate.TotalReturns,
			&rec.Aggregate.NetBills,
			&amounts[0], &amounts[1], &amounts[2],
			&amounts[3], &amounts[4], &amounts[5], &amounts[6],
			&createdAt,
			&rec.Synced,
			&rec.RetryCount,
			&lastError,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: scan queue record: %v", ErrQueueIO, err)
		}

		targets := []*decimal.Decimal{
			&rec.Aggregate.GrossAmount,
			&rec.Aggregate.TaxAmount,
			&rec.Aggregate.DiscountAmount,
			&rec.Aggregate.ReturnAmount,
			&rec.Aggregate.ReturnTax,
			&rec.Aggregate.NetAmount,
			&rec.Aggregate.NetTax,
		}
		for i, raw := range amounts {
			d, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: parse queued amount %q: %v", ErrQueueIO, raw, err)
			}
			*targets[i] = d
		}

		if t, err := time.Parse(timeLayout, createdAt); err == nil {
			rec.CreatedAt = t
		}
		rec.LastError = lastError.String

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate queue records: %v", ErrQueueIO, err)
	}
	return records, nil
}
