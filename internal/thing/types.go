package thing

import (
	"slices"
	"strings"
	"time"
)

// ConfigKeyUID is the configuration key holding the device UID.
const ConfigKeyUID = "uid"

// Thing is a configured device instance bound to a handler.
// This matches the things table in migrations/20260301_100000_initial_schema.up.sql.
type Thing struct {
	// Identity
	ID        string `json:"id"`
	Label     string `json:"label"`
	ThingType string `json:"thing_type"`

	// BridgeID references the bridge thing this thing is attached to.
	BridgeID *string `json:"bridge_id,omitempty"`

	// Config is the thing configuration, including the device "uid".
	Config Config `json:"config"`

	// ChannelConfig holds per-channel configuration, keyed by channel ID.
	ChannelConfig map[string]Config `json:"channel_config,omitempty"`

	// LinkedChannels lists channels whose state is published.
	LinkedChannels []string `json:"linked_channels"`

	// Status as last reported by the handler
	Status            Status       `json:"status"`
	StatusDetail      StatusDetail `json:"status_detail"`
	StatusDescription string       `json:"status_description,omitempty"`

	// ChannelStates is the last published state per channel.
	ChannelStates  map[string]ChannelState `json:"channel_states"`
	StateUpdatedAt *time.Time              `json:"state_updated_at,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Config holds thing or channel configuration as a JSON map.
type Config map[string]any

// String returns the string value of key, or "" when absent or not a string.
func (c Config) String(key string) string {
	if c == nil {
		return ""
	}
	s, _ := c[key].(string) //nolint:errcheck // type assertion, zero value on mismatch
	return s
}

// UID returns the configured device UID, trimmed. Empty means not configured.
func (t *Thing) UID() string {
	return strings.TrimSpace(t.Config.String(ConfigKeyUID))
}

// StatusInfo returns the thing's status fields as a StatusInfo.
func (t *Thing) StatusInfo() StatusInfo {
	return NewStatusInfo(t.Status, t.StatusDetail, t.StatusDescription)
}

// IsLinked reports whether channelID is linked.
func (t *Thing) IsLinked(channelID string) bool {
	return slices.Contains(t.LinkedChannels, channelID)
}

// DeepCopy creates a complete independent copy of the Thing.
// All map and slice fields are cloned so the registry cache stays isolated.
func (t *Thing) DeepCopy() *Thing {
	if t == nil {
		return nil
	}

	cpy := *t

	cpy.Config = Config(deepCopyMap(t.Config))
	if t.ChannelConfig != nil {
		cpy.ChannelConfig = make(map[string]Config, len(t.ChannelConfig))
		for ch, cfg := range t.ChannelConfig {
			cpy.ChannelConfig[ch] = Config(deepCopyMap(cfg))
		}
	}
	if t.LinkedChannels != nil {
		cpy.LinkedChannels = slices.Clone(t.LinkedChannels)
	}
	if t.ChannelStates != nil {
		cpy.ChannelStates = make(map[string]ChannelState, len(t.ChannelStates))
		for ch, cs := range t.ChannelStates {
			cs.Value = deepCopyValue(cs.Value)
			cpy.ChannelStates[ch] = cs
		}
	}

	// *string and *time.Time point at immutable values
	return &cpy
}

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies nested maps and slices.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case Config:
		return Config(deepCopyMap(val))
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}
