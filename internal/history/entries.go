package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"downnest/internal/logging"
	"downnest/internal/routing"
)

const entryColumns = "id, task_id, kind, origin, path, category, destination, size, reason, cross_device, renamed, started_at, finished_at, summary_json"

// Entry is one persisted outcome.
type Entry struct {
	ID              int64 `json:"id" yaml:"id"`
	routing.Outcome `yaml:",inline"`
}

// Query filters List results. Zero values mean no filter.
type Query struct {
	Limit int
	Kinds []routing.Kind
	Since time.Time
}

// Totals aggregates the ledger.
type Totals struct {
	Moved  int64 `json:"moved" yaml:"moved"`
	Failed int64 `json:"failed" yaml:"failed"`
	Sweeps int64 `json:"sweeps" yaml:"sweeps"`
	Bytes  int64 `json:"bytes" yaml:"bytes"`
}

// Persisted reports whether outcomes of kind k are written to the ledger.
func Persisted(k routing.Kind) bool {
	switch k {
	case routing.KindSuccess, routing.KindFailure, routing.KindSweepSummary:
		return true
	default:
		return false
	}
}

// Record implements routing.Recorder. Write errors are logged, never returned:
// a broken ledger must not affect routing.
func (s *Store) Record(o routing.Outcome) {
	if !Persisted(o.Kind) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if _, err := s.Insert(ctx, o); err != nil {
		logging.WarnWithContext(s.logger, "failed to record outcome", "history_write_failed",
			logging.String(logging.FieldPath, o.Path),
			logging.String("kind", string(o.Kind)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check free space and permissions on the state directory"),
			logging.String(logging.FieldImpact, "outcome missing from 'downnest history'"),
		)
	}
}

// Insert writes o and returns its row id.
func (s *Store) Insert(ctx context.Context, o routing.Outcome) (int64, error) {
	var summary any
	if o.Summary != nil {
		data, err := json.Marshal(o.Summary)
		if err != nil {
			return 0, fmt.Errorf("marshal summary: %w", err)
		}
		summary = string(data)
	}
	finished := o.Finished
	if finished.IsZero() {
		finished = time.Now()
	}
	started := o.Started
	if started.IsZero() {
		started = finished
	}

	res, err := s.execWithRetry(ctx,
		`INSERT INTO outcomes (
            task_id, kind, origin, path, category, destination, size, reason,
            cross_device, renamed, started_at, finished_at, summary_json
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableString(o.TaskID),
		string(o.Kind),
		nullableString(string(o.Origin)),
		nullableString(o.Path),
		nullableString(o.Category),
		nullableString(o.Destination),
		o.Size,
		nullableString(o.Reason),
		boolToInt(o.CrossDevice),
		boolToInt(o.Renamed),
		formatTime(started),
		formatTime(finished),
		summary,
	)
	if err != nil {
		return 0, fmt.Errorf("insert outcome: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// List returns entries newest first.
func (s *Store) List(ctx context.Context, q Query) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if len(q.Kinds) > 0 {
		where = append(where, "kind IN ("+makePlaceholders(len(q.Kinds))+")")
		for _, k := range q.Kinds {
			args = append(args, string(k))
		}
	}
	if !q.Since.IsZero() {
		where = append(where, "finished_at >= ?")
		args = append(args, formatTime(q.Since))
	}

	query := "SELECT " + entryColumns + " FROM outcomes"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY finished_at DESC, id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return entries, nil
}

// Totals aggregates every row in the ledger.
func (s *Store) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	row := s.db.QueryRowContext(ctx, `SELECT
            COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN kind = ? THEN size ELSE 0 END), 0)
        FROM outcomes`,
		string(routing.KindSuccess), string(routing.KindFailure), string(routing.KindSweepSummary), string(routing.KindSuccess),
	)
	if err := row.Scan(&t.Moved, &t.Failed, &t.Sweeps, &t.Bytes); err != nil {
		return Totals{}, fmt.Errorf("totals: %w", err)
	}
	return t, nil
}

// Prune deletes entries that finished before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM outcomes WHERE finished_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune outcomes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// PruneRetention removes entries older than retentionDays. Zero keeps everything.
func (s *Store) PruneRetention(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	return s.Prune(ctx, time.Now().Add(-time.Duration(retentionDays)*24*time.Hour))
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (Entry, error) {
	var (
		id          int64
		taskID      sql.NullString
		kind        string
		origin      sql.NullString
		path        sql.NullString
		category    sql.NullString
		destination sql.NullString
		size        int64
		reason      sql.NullString
		crossDevice int
		renamed     int
		startedRaw  string
		finishedRaw string
		summaryRaw  sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&taskID,
		&kind,
		&origin,
		&path,
		&category,
		&destination,
		&size,
		&reason,
		&crossDevice,
		&renamed,
		&startedRaw,
		&finishedRaw,
		&summaryRaw,
	); err != nil {
		return Entry{}, err
	}

	entry := Entry{
		ID: id,
		Outcome: routing.Outcome{
			TaskID:      taskID.String,
			Kind:        routing.Kind(kind),
			Origin:      routing.Origin(origin.String),
			Path:        path.String,
			Category:    category.String,
			Destination: destination.String,
			Size:        size,
			Reason:      reason.String,
			CrossDevice: crossDevice != 0,
			Renamed:     renamed != 0,
		},
	}
	if started, err := parseTime(startedRaw); err == nil {
		entry.Started = started
	}
	if finished, err := parseTime(finishedRaw); err == nil {
		entry.Finished = finished
	}
	if summaryRaw.Valid && summaryRaw.String != "" {
		var summary routing.SweepSummary
		if err := json.Unmarshal([]byte(summaryRaw.String), &summary); err == nil {
			entry.Summary = &summary
		}
	}
	return entry, nil
}

// timeLayout is fixed-width so stored timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
