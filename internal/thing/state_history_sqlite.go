package thing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	// Fixed-width fractions keep created_at sortable as text.
	historyTimeFormat = "2006-01-02T15:04:05.000000Z"
)

// ErrInvalidHistoryQuery is returned for history calls missing a thing or
// channel, or pruning with a non-positive age.
var ErrInvalidHistoryQuery = errors.New("thing: invalid history query")

type SQLiteStateHistoryRepository struct {
	db *sql.DB
}

func NewSQLiteStateHistoryRepository(db *sql.DB) *SQLiteStateHistoryRepository {
	return &SQLiteStateHistoryRepository{db: db}
}

// RecordStateChange stores cs at cs.UpdatedAt, or now when unset. An empty
// source is recorded as a callback.
func (r *SQLiteStateHistoryRepository) RecordStateChange(ctx context.Context, thingID, channelID string, cs ChannelState, source string) error {
	if thingID == "" || channelID == "" {
		return fmt.Errorf("%w: thing and channel are required", ErrInvalidHistoryQuery)
	}
	if source == "" {
		source = HistorySourceCallback
	}
	at := cs.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}

	state, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("encoding state of %s/%s: %w", thingID, channelID, err)
	}
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO state_history (thing_id, channel_id, state, source, created_at) VALUES (?, ?, ?, ?, ?)`,
		thingID, channelID, string(state), source, at.UTC().Format(historyTimeFormat),
	); err != nil {
		return fmt.Errorf("recording state of %s/%s: %w", thingID, channelID, err)
	}
	return nil
}

func (r *SQLiteStateHistoryRepository) GetHistory(ctx context.Context, q HistoryQuery) ([]StateHistoryEntry, error) {
	if q.ThingID == "" {
		return nil, fmt.Errorf("%w: thing is required", ErrInvalidHistoryQuery)
	}
	limit := min(q.Limit, maxHistoryLimit)
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	where := []string{"thing_id = ?"}
	args := []any{q.ThingID}
	if q.ChannelID != "" {
		where = append(where, "channel_id = ?")
		args = append(args, q.ChannelID)
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at > ?")
		args = append(args, q.Since.UTC().Format(historyTimeFormat))
	}
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, thing_id, channel_id, state, source, created_at FROM state_history WHERE `+
			strings.Join(where, " AND ")+` ORDER BY created_at DESC, id DESC LIMIT ?`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("querying history of %s: %w", q.ThingID, err)
	}
	defer rows.Close()

	entries := []StateHistoryEntry{}
	for rows.Next() {
		e, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading history of %s: %w", q.ThingID, err)
	}
	return entries, nil
}

func scanHistoryEntry(row rowScanner) (StateHistoryEntry, error) {
	var (
		e                StateHistoryEntry
		state, createdAt string
	)
	if err := row.Scan(&e.ID, &e.ThingID, &e.ChannelID, &state, &e.Source, &createdAt); err != nil {
		return e, fmt.Errorf("scanning history row: %w", err)
	}
	if err := json.Unmarshal([]byte(state), &e.State); err != nil {
		return e, fmt.Errorf("decoding history row %d: %w", e.ID, err)
	}
	at, err := time.Parse(historyTimeFormat, createdAt)
	if err != nil {
		return e, fmt.Errorf("history row %d: created_at %q: %w", e.ID, createdAt, err)
	}
	e.CreatedAt = at
	return e, nil
}

func (r *SQLiteStateHistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("%w: retention must be positive", ErrInvalidHistoryQuery)
	}
	cutoff := time.Now().UTC().Add(-olderThan).Format(historyTimeFormat)
	res, err := r.db.ExecContext(ctx, `DELETE FROM state_history WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning state history: %w", err)
	}
	return res.RowsAffected()
}
