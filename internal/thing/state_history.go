package thing

import (
	"context"
	"time"
)

// Where a recorded state came from.
const (
	HistorySourceCallback = "callback"
	HistorySourceRefresh  = "refresh"
	HistorySourceCommand  = "command"
)

// StateHistoryEntry is one recorded channel state.
type StateHistoryEntry struct {
	ID        int64        `json:"id"`
	ThingID   string       `json:"thing_id"`
	ChannelID string       `json:"channel_id"`
	State     ChannelState `json:"state"`
	Source    string       `json:"source"`
	CreatedAt time.Time    `json:"created_at"`
}

// HistoryQuery selects entries of one thing. Empty ChannelID means every
// channel, a zero Since means no lower bound and Limit is clamped to
// 1..500 with 50 for zero.
type HistoryQuery struct {
	ThingID   string
	ChannelID string
	Since     time.Time
	Limit     int
}

// StateHistoryRepository stores channel states as they change. Timestamps
// are UTC.
type StateHistoryRepository interface {
	RecordStateChange(ctx context.Context, thingID, channelID string, cs ChannelState, source string) error

	// GetHistory returns matching entries newest first.
	GetHistory(ctx context.Context, q HistoryQuery) ([]StateHistoryEntry, error)

	// PruneHistory deletes entries older than olderThan and returns how many.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}
