package thing

import (
	"fmt"
	"regexp"
)

// Validation limits.
const (
	MaxIDLength    = 64
	MaxLabelLength = 100
)

var (
	idPattern      = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	channelPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
)

// ValidateThing checks a thing before it is persisted.
//
// The device UID is deliberately not checked here: a thing without a UID
// can be stored and is reported as a configuration error by its handler.
func ValidateThing(t *Thing) error {
	if t == nil {
		return fmt.Errorf("%w: nil thing", ErrInvalidThing)
	}
	if len(t.ID) > MaxIDLength || !idPattern.MatchString(t.ID) {
		return fmt.Errorf("%w: id %q must match %s (max %d chars)", ErrInvalidThing, t.ID, idPattern, MaxIDLength)
	}
	if t.ThingType == "" {
		return fmt.Errorf("%w: thing_type is required", ErrInvalidThing)
	}
	if len(t.Label) > MaxLabelLength {
		return fmt.Errorf("%w: label exceeds %d chars", ErrInvalidThing, MaxLabelLength)
	}
	if t.BridgeID != nil {
		if *t.BridgeID == t.ID {
			return fmt.Errorf("%w: thing cannot be its own bridge", ErrInvalidThing)
		}
		if !idPattern.MatchString(*t.BridgeID) {
			return fmt.Errorf("%w: bridge_id %q", ErrInvalidThing, *t.BridgeID)
		}
	}
	for _, ch := range t.LinkedChannels {
		if err := ValidateChannelID(ch); err != nil {
			return err
		}
	}
	for ch := range t.ChannelConfig {
		if err := ValidateChannelID(ch); err != nil {
			return err
		}
	}
	return nil
}

// ValidateChannelID checks that a channel ID is safe to use as a topic
// segment and JSON path element.
func ValidateChannelID(id string) error {
	if !channelPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, id)
	}
	return nil
}
