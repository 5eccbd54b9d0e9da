package tplink

import "errors"

// Domain errors for the TP-Link package.
var (
	// ErrInvalidResponse is returned when a realtime response cannot be decoded.
	ErrInvalidResponse = errors.New("tplink: invalid realtime response")

	// ErrDeviceError is returned when the plug reports a non-zero err_code.
	ErrDeviceError = errors.New("tplink: device reported an error")

	// ErrReadOnly is returned for commands other than REFRESH.
	ErrReadOnly = errors.New("tplink: energy channels are read-only")

	// ErrUnknownChannel is returned for a channel the energy switch does not have.
	ErrUnknownChannel = errors.New("tplink: unknown channel")
)
