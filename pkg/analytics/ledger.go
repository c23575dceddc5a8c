// Package analytics keeps the append-only ledger of research API calls.
// Every orchestrated request ends with exactly one row here, whether it was
// served from cache, succeeded upstream, or failed.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fitforge-ai/fitforge/pkg/models"
)

// Ledger writes and queries call records in SQLite. A nil *Ledger is a
// no-op recorder, so callers can wire analytics off without branching.
type Ledger struct {
	db *sql.DB
}

const createLedgerTable = `
CREATE TABLE IF NOT EXISTS research_calls (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT,
	query_text TEXT NOT NULL,
	system_prompt TEXT,
	model TEXT,
	success INTEGER NOT NULL,
	error_message TEXT,
	response_time_ms INTEGER NOT NULL,
	cached INTEGER NOT NULL,
	fallback INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
`

// New opens the ledger database and creates the schema.
func New(dbPath string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open analytics db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate analytics db: %w", err)
	}

	return &Ledger{db: db}, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(createLedgerTable); err != nil {
		return err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_calls_model ON research_calls(model)`); err != nil {
		return err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_calls_user ON research_calls(user_id)`); err != nil {
		return err
	}
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_calls_created ON research_calls(created_at)`)
	return err
}

// Record appends one call record. Rows are never mutated afterwards.
func (l *Ledger) Record(ctx context.Context, rec models.CallRecord) error {
	if l == nil || l.db == nil {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO research_calls
		 (user_id, query_text, system_prompt, model, success, error_message, response_time_ms, cached, fallback, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.QueryText, rec.SystemPrompt, rec.Model, rec.Success,
		rec.ErrorMessage, rec.ResponseTimeMs, rec.Cached, rec.Fallback, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record call: %w", err)
	}
	return nil
}

// Query returns call records matching the given options, newest first.
func (l *Ledger) Query(ctx context.Context, opts models.CallQueryOpts) ([]models.CallRecord, error) {
	q := `SELECT id, user_id, query_text, system_prompt, model, success, error_message,
	             response_time_ms, cached, fallback, created_at
	      FROM research_calls WHERE 1=1`
	var args []any

	if opts.Model != "" {
		q += " AND model = ?"
		args = append(args, opts.Model)
	}
	if opts.UserID != "" {
		q += " AND user_id = ?"
		args = append(args, opts.UserID)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since)
	}

	q += " ORDER BY created_at DESC, id DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	var records []models.CallRecord
	for rows.Next() {
		var r models.CallRecord
		var userID, systemPrompt, model, errMsg sql.NullString
		if err := rows.Scan(
			&r.ID, &userID, &r.QueryText, &systemPrompt, &model, &r.Success,
			&errMsg, &r.ResponseTimeMs, &r.Cached, &r.Fallback, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan call row: %w", err)
		}
		r.UserID = userID.String
		r.SystemPrompt = systemPrompt.String
		r.Model = model.String
		r.ErrorMessage = errMsg.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// Summary returns aggregate counts grouped by model and day.
func (l *Ledger) Summary(ctx context.Context) ([]models.CallSummary, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT model, date(created_at) AS day, COUNT(*), SUM(success), SUM(cached),
		        CAST(COALESCE(AVG(response_time_ms), 0) AS INTEGER)
		 FROM research_calls GROUP BY model, day ORDER BY day DESC, model`)
	if err != nil {
		return nil, fmt.Errorf("call summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.CallSummary
	for rows.Next() {
		var s models.CallSummary
		var model, day sql.NullString
		if err := rows.Scan(&model, &day, &s.Calls, &s.Successes, &s.CacheHits, &s.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		s.Model = model.String
		s.Day = day.String
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Cleanup deletes records older than the retention period. The core request
// path never deletes; this runs only from the operations CLI.
func (l *Ledger) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	res, err := l.db.ExecContext(ctx, `DELETE FROM research_calls WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("analytics cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database connection.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
