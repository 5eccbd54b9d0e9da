package binding

import (
	"time"

	"github.com/nerrad567/tinkerforge-bridge/internal/thing"
)

// WebSocket event channels.
const (
	EventThingStatus  = "thing.status_changed"
	EventChannelState = "channel.state_changed"
	EventTriggered    = "channel.triggered"
	EventDiagnostic   = "diagnostic.type_mismatch"
)

// StatusMessage reports a thing status change.
// Topic: tfbridge/status/{thing}
// QoS: 1, Retained: Yes
type StatusMessage struct {
	ThingID     string             `json:"thing_id"`
	Timestamp   time.Time          `json:"timestamp"`
	Status      thing.Status       `json:"status"`
	Detail      thing.StatusDetail `json:"detail"`
	Description string             `json:"description,omitempty"`
}

// StateMessage reports the new state of a linked channel.
// Topic: tfbridge/state/{thing}/{channel}
// QoS: 1, Retained: Yes
type StateMessage struct {
	ThingID   string             `json:"thing_id"`
	ChannelID string             `json:"channel_id"`
	Timestamp time.Time          `json:"timestamp"`
	State     thing.ChannelState `json:"state"`
}

// TriggerMessage reports an event on a trigger channel.
// Topic: tfbridge/trigger/{thing}/{channel}
// QoS: 1, Retained: No
type TriggerMessage struct {
	ThingID   string             `json:"thing_id"`
	ChannelID string             `json:"channel_id"`
	Timestamp time.Time          `json:"timestamp"`
	Event     thing.TriggerEvent `json:"event"`
}

// CommandMessage is a command sent to a channel.
// Topic: tfbridge/command/{thing}/{channel}
//
// A payload that is not a JSON object is taken as the command text itself,
// so `mosquitto_pub -t tfbridge/command/relay-hall/relay0 -m ON` works.
type CommandMessage struct {
	// ID correlates the command with its acknowledgment. Generated when empty.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// Command is the textual command: ON, OFF, OPEN, CLOSED, REFRESH,
	// a number, or a number with a unit symbol.
	Command string `json:"command"`

	// Source indicates where the command originated ("mqtt", "api").
	Source string `json:"source,omitempty"`

	UserID string `json:"user_id,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was handed to the device.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage acknowledges a command.
// Topic: tfbridge/ack/{thing}
// QoS: 1, Retained: No
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	ThingID   string    `json:"thing_id"`
	ChannelID string    `json:"channel_id"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is one of the ErrCode constants.
	Code string `json:"code"`

	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// HealthStatus represents the operational status of the service.
type HealthStatus string

const (
	// HealthHealthy indicates MQTT and every brickd bridge are connected.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the service runs with a lost connection.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the service is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the service is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the operational status of the service.
// Topic: tfbridge/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Statistics    *Stats       `json:"statistics,omitempty"`
	Reason        string       `json:"reason,omitempty"`
}

func newStatusMessage(thingID string, info thing.StatusInfo, at time.Time) StatusMessage {
	return StatusMessage{
		ThingID:     thingID,
		Timestamp:   at.UTC(),
		Status:      info.Status,
		Detail:      info.Detail,
		Description: info.Description,
	}
}

func newAck(cmd CommandMessage, thingID, channelID string, err error) AckMessage {
	ack := AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		ThingID:   thingID,
		ChannelID: channelID,
		Status:    AckAccepted,
	}
	if err != nil {
		ack.Status = AckFailed
		ack.Error = &AckError{Code: ErrorCode(err), Message: err.Error()}
	}
	return ack
}
