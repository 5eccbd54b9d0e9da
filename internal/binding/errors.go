package binding

import (
	"errors"

	"github.com/nerrad567/tinkerforge-bridge/internal/brickd"
	"github.com/nerrad567/tinkerforge-bridge/internal/bridges/tinkerforge"
	"github.com/nerrad567/tinkerforge-bridge/internal/bridges/tplink"
	"github.com/nerrad567/tinkerforge-bridge/internal/thing"
)

// Domain errors for the binding runtime.
var (
	// ErrNotStarted is returned for runtime operations before Start.
	ErrNotStarted = errors.New("binding: not started")

	// ErrUnsupportedThingType is returned when no handler serves a thing type.
	ErrUnsupportedThingType = errors.New("binding: unsupported thing type")

	// ErrNoHandler is returned when a registered thing has no running handler.
	ErrNoHandler = errors.New("binding: thing has no handler")

	// ErrUnknownChannel is returned for a channel the thing type does not have.
	ErrUnknownChannel = errors.New("binding: unknown channel")

	// ErrBridgeInUse is returned when removing a bridge that still has things.
	ErrBridgeInUse = errors.New("binding: bridge has attached things")
)

// ErrorCode maps a command error to an ack error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, thing.ErrThingNotFound),
		errors.Is(err, ErrNoHandler),
		errors.Is(err, ErrNotStarted):
		return ErrCodeNotConfigured
	case errors.Is(err, thing.ErrInvalidCommand),
		errors.Is(err, ErrUnknownChannel),
		errors.Is(err, tinkerforge.ErrUnknownChannel),
		errors.Is(err, tinkerforge.ErrChannelReadOnly),
		errors.Is(err, tplink.ErrUnknownChannel),
		errors.Is(err, tplink.ErrReadOnly):
		return ErrCodeInvalidCommand
	case errors.Is(err, tinkerforge.ErrUnsupportedCommand),
		errors.Is(err, brickd.ErrValueKind):
		return ErrCodeInvalidParameters
	case errors.Is(err, tinkerforge.ErrNotEnabled),
		errors.Is(err, brickd.ErrNotConnected):
		return ErrCodeDeviceUnreachable
	default:
		return ErrCodeBridgeError
	}
}
