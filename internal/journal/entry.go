package journal

import (
	"context"
	"database/sql"
	"fmt"
)

// Outcome is what the dispatcher did with an envelope.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeNoop      Outcome = "noop"
	OutcomeStale     Outcome = "stale"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeMalformed Outcome = "malformed"
	OutcomeQueued    Outcome = "queued"
	OutcomeForced    Outcome = "forced"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
	OutcomeForwarded Outcome = "forwarded"
)

// Entry is one journal row.
type Entry struct {
	ID         int64   `json:"id"`
	EventID    string  `json:"eventId"`
	StreamID   string  `json:"streamId,omitempty"`
	Sequence   *int64  `json:"sequence,omitempty"`
	Type       string  `json:"type"`
	Outcome    Outcome `json:"outcome"`
	Detail     string  `json:"detail,omitempty"`
	RecordedAt int64   `json:"recordedAt"`
}

// Record appends an entry. A second entry with the same event id and outcome
// is silently ignored. Returns whether a row was inserted.
func (j *Journal) Record(ctx context.Context, e Entry) (bool, error) {
	var seq sql.NullInt64
	if e.Sequence != nil {
		seq = sql.NullInt64{Int64: *e.Sequence, Valid: true}
	}

	res, err := j.db.ExecContext(ctx, `
		INSERT INTO entries
		(event_id, stream_id, sequence, type, outcome, detail, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		e.EventID,
		e.StreamID,
		seq,
		e.Type,
		string(e.Outcome),
		e.Detail,
		e.RecordedAt,
	)
	if err != nil {
		return false, fmt.Errorf("record entry: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record entry: rows affected: %w", err)
	}
	return n > 0, nil
}

// ByStream returns a stream's entries in insertion order. Returns an empty
// slice, not nil, when the stream has none.
func (j *Journal) ByStream(ctx context.Context, streamID string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, event_id, stream_id, sequence, type, outcome, detail, recorded_at
		FROM entries
		WHERE stream_id = ?
		ORDER BY id ASC
	`, streamID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	return scanEntries(rows)
}

// All returns every entry in insertion order.
func (j *Journal) All(ctx context.Context) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, event_id, stream_id, sequence, type, outcome, detail, recorded_at
		FROM entries
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	return scanEntries(rows)
}

// Counts returns the number of entries per outcome.
func (j *Journal) Counts(ctx context.Context) (map[Outcome]int, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*)
		FROM entries
		GROUP BY outcome
		ORDER BY outcome ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("count entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[Outcome]int)
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[Outcome(outcome)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			seq     sql.NullInt64
			outcome string
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.StreamID, &seq, &e.Type, &outcome, &e.Detail, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if seq.Valid {
			v := seq.Int64
			e.Sequence = &v
		}
		e.Outcome = Outcome(outcome)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}
