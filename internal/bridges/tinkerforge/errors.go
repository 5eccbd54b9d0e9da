package tinkerforge

import "errors"

// Domain errors for the Tinkerforge handlers.
var (
	// ErrUnknownChannel is returned for a channel the device type does not have.
	ErrUnknownChannel = errors.New("tinkerforge: unknown channel")

	// ErrChannelReadOnly is returned when commanding a sensor channel.
	ErrChannelReadOnly = errors.New("tinkerforge: channel is read-only")

	// ErrNotEnabled is returned when a command arrives before the device is online.
	ErrNotEnabled = errors.New("tinkerforge: device not enabled")

	// ErrTypeMismatch is returned when a device value does not match its channel.
	ErrTypeMismatch = errors.New("tinkerforge: value type mismatch")

	// ErrTriggerChannel is returned when converting a trigger channel to a state.
	ErrTriggerChannel = errors.New("tinkerforge: trigger channel has no state")

	// ErrUnsupportedCommand is returned for commands with no device value.
	ErrUnsupportedCommand = errors.New("tinkerforge: unsupported command")

	// ErrUnknownThingType is returned when no device type matches a thing.
	ErrUnknownThingType = errors.New("tinkerforge: unknown thing type")

	// ErrNoClient is returned when a bridge handler is built without a client.
	ErrNoClient = errors.New("tinkerforge: brickd client is required")
)
