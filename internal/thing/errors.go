package thing

import "errors"

// Domain errors for the thing package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, thing.ErrThingNotFound) {
//	    // handle not found case
//	}
var (
	// ErrThingNotFound is returned when a thing ID does not exist.
	ErrThingNotFound = errors.New("thing: not found")

	// ErrThingExists is returned when creating a thing with an ID that already exists.
	ErrThingExists = errors.New("thing: already exists")

	// ErrInvalidThing is returned when thing validation fails.
	ErrInvalidThing = errors.New("thing: invalid")

	// ErrInvalidChannel is returned when a channel ID is malformed.
	ErrInvalidChannel = errors.New("thing: invalid channel")

	// ErrInvalidCommand is returned when a command string cannot be parsed.
	ErrInvalidCommand = errors.New("thing: invalid command")
)
