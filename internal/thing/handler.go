package thing

import "time"

// Handler drives one Thing. Implementations live in the bridge packages.
//
// Lifecycle failures never surface as errors: they end in a status
// update reported through the Callback.
type Handler interface {
	// ThingID returns the ID of the handled thing.
	ThingID() string

	// Initialize reads the configuration and tries to bring the thing online.
	Initialize()

	// Dispose unregisters listeners and releases the device.
	Dispose()

	// ChannelLinked publishes the current state of a newly linked channel.
	ChannelLinked(channelID string)

	// HandleCommand executes a command on a channel.
	HandleCommand(channelID string, cmd Command) error

	// Status returns the last reported status.
	Status() StatusInfo
}

// BridgeChild is implemented by handlers that follow their bridge's status.
type BridgeChild interface {
	BridgeStatusChanged(info StatusInfo)
}

// Callback receives everything a handler reports.
type Callback interface {
	StatusUpdated(thingID string, info StatusInfo)
	StateUpdated(thingID, channelID string, state State)
	ChannelTriggered(thingID, channelID string, event TriggerEvent)
	IsLinked(thingID, channelID string) bool
}

// DiagnosticKind classifies a Diagnostic.
type DiagnosticKind string

// Diagnostic kinds.
const (
	DiagnosticTypeMismatch DiagnosticKind = "type_mismatch"
)

// Diagnostic reports a value the handler could not convert for its channel.
type Diagnostic struct {
	ID        string         `json:"id"`
	Kind      DiagnosticKind `json:"kind"`
	ThingID   string         `json:"thing_id"`
	ChannelID string         `json:"channel_id"`
	Expected  string         `json:"expected"`
	Actual    string         `json:"actual"`
	Source    string         `json:"source"`
	Time      time.Time      `json:"time"`
}

// DiagnosticSink receives diagnostics raised by handlers.
type DiagnosticSink interface {
	Diagnose(d Diagnostic)
}
