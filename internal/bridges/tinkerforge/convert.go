package tinkerforge

import (
	"fmt"

	"github.com/nerrad567/tinkerforge-bridge/internal/brickd"
	"github.com/nerrad567/tinkerforge-bridge/internal/thing"
)

// Convert turns a device value into the channel's host state. It is the
// only conversion between device values and states.
func (s ChannelSpec) Convert(v brickd.Value) (thing.State, error) {
	if err := s.check(v); err != nil {
		return nil, err
	}

	switch s.State {
	case StateQuantity:
		return thing.NewQuantity(s.scale(v), s.Unit), nil
	case StateDecimal:
		return thing.DecimalType(s.scale(v)), nil
	case StateOpenClosed:
		if v == brickd.High {
			return thing.Open, nil
		}
		return thing.Closed, nil
	case StateOnOff:
		if v == brickd.On {
			return thing.On, nil
		}
		return thing.Off, nil
	case StateDateTime:
		return thing.NewDateTime(v.(brickd.DateTimeValue).Time), nil
	case StateTrigger:
		return nil, fmt.Errorf("%w: %s", ErrTriggerChannel, s.ID)
	default:
		return nil, fmt.Errorf("%w: %s has state kind %q", ErrTypeMismatch, s.ID, s.State)
	}
}

// Event turns a device value into the trigger event of a trigger channel.
// HIGH is PRESSED, LOW is RELEASED.
func (s ChannelSpec) Event(v brickd.Value) (thing.TriggerEvent, error) {
	if s.State != StateTrigger {
		return "", fmt.Errorf("%w: %s is not a trigger channel", ErrTypeMismatch, s.ID)
	}
	if err := s.check(v); err != nil {
		return "", err
	}
	if v == brickd.High {
		return thing.Pressed, nil
	}
	return thing.Released, nil
}

func (s ChannelSpec) check(v brickd.Value) error {
	if v == nil {
		return fmt.Errorf("%w: %s expects %s, got nothing", ErrTypeMismatch, s.ID, s.Kind)
	}
	if v.Kind() != s.Kind {
		return fmt.Errorf("%w: %s expects %s, got %s", ErrTypeMismatch, s.ID, s.Kind, v.Kind())
	}
	return nil
}

func (s ChannelSpec) scale(v brickd.Value) float64 {
	raw := float64(v.(brickd.DecimalValue))
	if s.Divisor == 0 || s.Divisor == 1 {
		return raw
	}
	return raw / s.Divisor
}

// CommandConverter maps host commands onto device values for actuator
// channels.
type CommandConverter struct{}

// Convert maps cmd to a device value: ON/OFF to OnOffValue, OPEN/CLOSED
// to HIGH/LOW and numbers to DecimalValue.
func (CommandConverter) Convert(cmd thing.Command) (brickd.Value, error) {
	switch c := cmd.(type) {
	case thing.OnOffType:
		return brickd.OnOffOf(c == thing.On), nil
	case thing.OpenClosedType:
		return brickd.HighLowOf(c == thing.Open), nil
	case thing.DecimalType:
		return brickd.DecimalValue(c), nil
	case thing.QuantityType:
		return brickd.DecimalValue(c.Value), nil
	case nil:
		return nil, fmt.Errorf("%w: nil", ErrUnsupportedCommand)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCommand, cmd)
	}
}
