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

// Repository defines persistence operations for things.
// Implementations must be safe for concurrent use.
type Repository interface {
	// GetByID retrieves a thing. Returns ErrThingNotFound if it does not exist.
	GetByID(ctx context.Context, id string) (*Thing, error)

	// List retrieves all things ordered by ID.
	List(ctx context.Context) ([]Thing, error)

	// Create inserts a new thing. Returns ErrThingExists on duplicate ID.
	Create(ctx context.Context, t *Thing) error

	// Update modifies an existing thing's definition (label, config, links).
	Update(ctx context.Context, t *Thing) error

	// Delete removes a thing and its state history.
	Delete(ctx context.Context, id string) error

	// UpdateStatus stores the status reported by the thing's handler.
	UpdateStatus(ctx context.Context, id string, info StatusInfo) error

	// UpdateChannelState merges one channel's state into the stored snapshot.
	UpdateChannelState(ctx context.Context, id, channelID string, cs ChannelState) error

	// UpdateLinks replaces the linked channel list.
	UpdateLinks(ctx context.Context, id string, links []string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const thingColumns = `id, label, thing_type, bridge_id, config, channel_config, linked_channels,
	status, status_detail, status_description, channel_states, state_updated_at,
	created_at, updated_at`

// GetByID retrieves a thing by its identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Thing, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+thingColumns+" FROM things WHERE id = ?", id)
	t, err := scanThing(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrThingNotFound
		}
		return nil, fmt.Errorf("querying thing by id: %w", err)
	}
	return t, nil
}

// List retrieves all things.
func (r *SQLiteRepository) List(ctx context.Context) ([]Thing, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+thingColumns+" FROM things ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying things: %w", err)
	}
	defer rows.Close()

	var things []Thing
	for rows.Next() {
		t, err := scanThing(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning thing row: %w", err)
		}
		things = append(things, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating things: %w", err)
	}
	return things, nil
}

// Create inserts a new thing.
func (r *SQLiteRepository) Create(ctx context.Context, t *Thing) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = StatusUninitialized
	}
	if t.StatusDetail == "" {
		t.StatusDetail = DetailNone
	}

	configJSON, channelConfigJSON, linksJSON, statesJSON, err := marshalThing(t)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO things (`+thingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.Label,
		t.ThingType,
		nullableString(t.BridgeID),
		configJSON,
		channelConfigJSON,
		linksJSON,
		string(t.Status),
		string(t.StatusDetail),
		t.StatusDescription,
		statesJSON,
		nullableTime(t.StateUpdatedAt),
		t.CreatedAt.Format(time.RFC3339),
		t.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrThingExists
		}
		return fmt.Errorf("inserting thing: %w", err)
	}
	return nil
}

// Update modifies the definition of an existing thing.
// Status and channel states are owned by UpdateStatus/UpdateChannelState.
func (r *SQLiteRepository) Update(ctx context.Context, t *Thing) error {
	t.UpdatedAt = time.Now().UTC()

	configJSON, channelConfigJSON, linksJSON, _, err := marshalThing(t)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE things
		SET label = ?, thing_type = ?, bridge_id = ?, config = ?, channel_config = ?,
			linked_channels = ?, updated_at = ?
		WHERE id = ?`,
		t.Label,
		t.ThingType,
		nullableString(t.BridgeID),
		configJSON,
		channelConfigJSON,
		linksJSON,
		t.UpdatedAt.Format(time.RFC3339),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("updating thing: %w", err)
	}
	return expectOneRow(res)
}

// Delete removes a thing by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM things WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting thing: %w", err)
	}
	return expectOneRow(res)
}

// UpdateStatus stores a handler-reported status.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, info StatusInfo) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE things SET status = ?, status_detail = ?, status_description = ?, updated_at = ?
		WHERE id = ?`,
		string(info.Status),
		string(info.Detail),
		info.Description,
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating thing status: %w", err)
	}
	return expectOneRow(res)
}

// UpdateChannelState merges a channel state into the channel_states JSON column.
func (r *SQLiteRepository) UpdateChannelState(ctx context.Context, id, channelID string, cs ChannelState) error {
	if err := ValidateChannelID(channelID); err != nil {
		return err
	}
	stateJSON, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("marshalling channel state: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE things
		SET channel_states = json_set(channel_states, ?, json(?)), state_updated_at = ?
		WHERE id = ?`,
		`$."`+channelID+`"`,
		string(stateJSON),
		cs.UpdatedAt.UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating channel state: %w", err)
	}
	return expectOneRow(res)
}

// UpdateLinks replaces the linked channel list.
func (r *SQLiteRepository) UpdateLinks(ctx context.Context, id string, links []string) error {
	if links == nil {
		links = []string{}
	}
	linksJSON, err := json.Marshal(links)
	if err != nil {
		return fmt.Errorf("marshalling links: %w", err)
	}
	res, err := r.db.ExecContext(ctx,
		"UPDATE things SET linked_channels = ?, updated_at = ? WHERE id = ?",
		string(linksJSON),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating links: %w", err)
	}
	return expectOneRow(res)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanThing(row rowScanner) (*Thing, error) {
	var t Thing
	var bridgeID, stateUpdatedAt sql.NullString
	var configJSON, channelConfigJSON, linksJSON, statesJSON string
	var status, statusDetail, createdAt, updatedAt string

	err := row.Scan(
		&t.ID,
		&t.Label,
		&t.ThingType,
		&bridgeID,
		&configJSON,
		&channelConfigJSON,
		&linksJSON,
		&status,
		&statusDetail,
		&t.StatusDescription,
		&statesJSON,
		&stateUpdatedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	t.StatusDetail = StatusDetail(statusDetail)
	if bridgeID.Valid {
		t.BridgeID = &bridgeID.String
	}
	if stateUpdatedAt.Valid {
		if ts, err := time.Parse(time.RFC3339, stateUpdatedAt.String); err == nil {
			t.StateUpdatedAt = &ts
		}
	}

	var parseErr error
	if t.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt); parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	if t.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt); parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if err := json.Unmarshal([]byte(configJSON), &t.Config); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := json.Unmarshal([]byte(channelConfigJSON), &t.ChannelConfig); err != nil {
		return nil, fmt.Errorf("unmarshalling channel_config: %w", err)
	}
	if err := json.Unmarshal([]byte(linksJSON), &t.LinkedChannels); err != nil {
		return nil, fmt.Errorf("unmarshalling linked_channels: %w", err)
	}
	if err := json.Unmarshal([]byte(statesJSON), &t.ChannelStates); err != nil {
		return nil, fmt.Errorf("unmarshalling channel_states: %w", err)
	}

	return &t, nil
}

func marshalThing(t *Thing) (configJSON, channelConfigJSON, linksJSON, statesJSON string, err error) {
	cfg := t.Config
	if cfg == nil {
		cfg = Config{}
	}
	chCfg := t.ChannelConfig
	if chCfg == nil {
		chCfg = map[string]Config{}
	}
	links := t.LinkedChannels
	if links == nil {
		links = []string{}
	}
	states := t.ChannelStates
	if states == nil {
		states = map[string]ChannelState{}
	}

	b, err := json.Marshal(cfg)
	if err != nil {
		return "", "", "", "", fmt.Errorf("marshalling config: %w", err)
	}
	configJSON = string(b)
	if b, err = json.Marshal(chCfg); err != nil {
		return "", "", "", "", fmt.Errorf("marshalling channel_config: %w", err)
	}
	channelConfigJSON = string(b)
	if b, err = json.Marshal(links); err != nil {
		return "", "", "", "", fmt.Errorf("marshalling linked_channels: %w", err)
	}
	linksJSON = string(b)
	if b, err = json.Marshal(states); err != nil {
		return "", "", "", "", fmt.Errorf("marshalling channel_states: %w", err)
	}
	statesJSON = string(b)
	return configJSON, channelConfigJSON, linksJSON, statesJSON, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrThingNotFound
	}
	return nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY")
}
