package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cziter15/BlynkMqttBridge/internal/bridge"
)

const (
	// timestampLayout is fixed width so created_at sorts lexically.
	timestampLayout = "2006-01-02T15:04:05.000Z"

	defaultListLimit = 50
	maxListLimit     = 500
)

// Entry is a stored transfer.
type Entry struct {
	ID string
	bridge.Transfer
}

func newEntryID() string {
	return "xfr-" + uuid.NewString()
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timestampLayout)
}

func (j *Journal) insert(ctx context.Context, batch []bridge.Transfer) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO transfers (id, created_at, direction, topic, pin, encoder, input, output)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range batch {
		if _, err := stmt.ExecContext(ctx,
			newEntryID(),
			formatTimestamp(t.Time),
			string(t.Direction),
			t.Topic,
			t.Pin,
			t.Encoder,
			t.Input,
			t.Output,
		); err != nil {
			return fmt.Errorf("inserting transfer: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transfers: %w", err)
	}
	return nil
}

// Prune deletes transfers older than olderThan and returns the row count.
func (j *Journal) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := formatTimestamp(time.Now().Add(-olderThan))
	result, err := j.db.ExecContext(ctx, "DELETE FROM transfers WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting transfers: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	j.pruned.Add(uint64(rows))
	return rows, nil
}

// Recent returns the newest transfers, optionally limited to one topic.
// limit defaults to 50 and is capped at 500.
func (j *Journal) Recent(ctx context.Context, topic string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT id, created_at, direction, topic, pin, encoder, input, output
		FROM transfers`
	args := []any{}
	if topic != "" {
		query += " WHERE topic = ?"
		args = append(args, topic)
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transfers: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var createdAt, direction string
		if err := rows.Scan(&e.ID, &createdAt, &direction, &e.Topic, &e.Pin, &e.Encoder, &e.Input, &e.Output); err != nil {
			return nil, fmt.Errorf("scanning transfer: %w", err)
		}
		e.Direction = bridge.Direction(direction)
		e.Time, err = time.Parse(timestampLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transfers: %w", err)
	}
	return entries, nil
}
