package brickd

import "errors"

// Domain errors for the brickd client.
var (
	// ErrNotConnected is returned when publishing without a broker connection.
	ErrNotConnected = errors.New("brickd: not connected")

	// ErrUnknownDeviceType is returned for a device identifier or type
	// missing from the catalog.
	ErrUnknownDeviceType = errors.New("brickd: unknown device type")

	// ErrDeviceNotFound is returned when no device with the UID is known.
	ErrDeviceNotFound = errors.New("brickd: device not found")

	// ErrChannelNotFound is returned when a device has no such channel.
	ErrChannelNotFound = errors.New("brickd: channel not found")

	// ErrNotActuator is returned by SetValue on a sensor channel.
	ErrNotActuator = errors.New("brickd: channel is not an actuator")

	// ErrValueKind is returned when a value does not match the channel kind.
	ErrValueKind = errors.New("brickd: wrong value kind")

	// ErrInvalidPayload is returned when a proxy message cannot be decoded.
	ErrInvalidPayload = errors.New("brickd: invalid payload")
)
