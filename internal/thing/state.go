package thing

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// State is a typed channel value published by a handler.
type State interface {
	// String returns the canonical textual form, e.g. "23.5 °C" or "OPEN".
	String() string

	// Type returns the state type name used on the wire and in storage.
	Type() StateType
}

// Command is a typed instruction sent to a channel.
type Command interface {
	String() string
	commandType() StateType
}

// StateType names a State or Command implementation.
type StateType string

// State and command type names.
const (
	TypeDecimal    StateType = "Decimal"
	TypeQuantity   StateType = "Quantity"
	TypeOpenClosed StateType = "OpenClosed"
	TypeOnOff      StateType = "OnOff"
	TypeDateTime   StateType = "DateTime"
	TypeUnDef      StateType = "UnDef"
	TypeRefresh    StateType = "Refresh"
)

// DecimalType is a plain number without a unit.
type DecimalType float64

func (d DecimalType) String() string {
	return strconv.FormatFloat(float64(d), 'f', -1, 64)
}

// Type implements State.
func (DecimalType) Type() StateType        { return TypeDecimal }
func (DecimalType) commandType() StateType { return TypeDecimal }

// QuantityType is a number with a physical unit.
type QuantityType struct {
	Value float64
	Unit  Unit
}

// NewQuantity returns a QuantityType.
func NewQuantity(value float64, unit Unit) QuantityType {
	return QuantityType{Value: value, Unit: unit}
}

func (q QuantityType) String() string {
	v := strconv.FormatFloat(q.Value, 'f', -1, 64)
	if q.Unit.IsZero() {
		return v
	}
	return v + " " + q.Unit.Symbol
}

// Type implements State.
func (QuantityType) Type() StateType        { return TypeQuantity }
func (QuantityType) commandType() StateType { return TypeQuantity }

// OpenClosedType is a contact state.
type OpenClosedType string

// Contact states.
const (
	Open   OpenClosedType = "OPEN"
	Closed OpenClosedType = "CLOSED"
)

func (o OpenClosedType) String() string { return string(o) }

// Type implements State.
func (OpenClosedType) Type() StateType        { return TypeOpenClosed }
func (OpenClosedType) commandType() StateType { return TypeOpenClosed }

// OnOffType is a switch state.
type OnOffType string

// Switch states.
const (
	On  OnOffType = "ON"
	Off OnOffType = "OFF"
)

func (o OnOffType) String() string { return string(o) }

// Type implements State.
func (OnOffType) Type() StateType        { return TypeOnOff }
func (OnOffType) commandType() StateType { return TypeOnOff }

// DateTimeType is a point in time, always held in UTC.
type DateTimeType struct {
	time.Time
}

// NewDateTime returns a DateTimeType normalised to UTC.
func NewDateTime(t time.Time) DateTimeType {
	return DateTimeType{Time: t.UTC()}
}

func (d DateTimeType) String() string {
	return d.Time.UTC().Format(time.RFC3339Nano)
}

// Type implements State.
func (DateTimeType) Type() StateType { return TypeDateTime }

// UnDefType marks a channel whose value is unknown.
type UnDefType string

// Undefined states.
const (
	Undef UnDefType = "UNDEF"
	Null  UnDefType = "NULL"
)

func (u UnDefType) String() string { return string(u) }

// Type implements State.
func (UnDefType) Type() StateType { return TypeUnDef }

// RefreshType asks a handler to re-publish the current channel state.
type RefreshType struct{}

// Refresh is the REFRESH command.
var Refresh = RefreshType{}

func (RefreshType) String() string         { return "REFRESH" }
func (RefreshType) commandType() StateType { return TypeRefresh }

// TriggerEvent is emitted on trigger channels instead of a state.
type TriggerEvent string

// Trigger events.
const (
	Pressed  TriggerEvent = "PRESSED"
	Released TriggerEvent = "RELEASED"
)

// ParseCommand parses the textual form of a command.
//
// Accepted forms: ON, OFF, OPEN, CLOSED, REFRESH, a decimal number, or a
// number followed by a known unit symbol ("21.5 °C").
func ParseCommand(s string) (Command, error) {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "":
		return nil, fmt.Errorf("%w: empty", ErrInvalidCommand)
	case string(On):
		return On, nil
	case string(Off):
		return Off, nil
	case string(Open):
		return Open, nil
	case string(Closed):
		return Closed, nil
	case "REFRESH":
		return Refresh, nil
	}

	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return DecimalType(v), nil
	}

	num, sym, found := strings.Cut(s, " ")
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCommand, s)
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCommand, s)
	}
	unit, ok := ParseUnit(strings.TrimSpace(sym))
	if !ok {
		return nil, fmt.Errorf("%w: unknown unit %q", ErrInvalidCommand, sym)
	}
	return NewQuantity(v, unit), nil
}

// ChannelState is the stored snapshot of a channel's last published state.
type ChannelState struct {
	Type      StateType `json:"type"`
	Value     any       `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	Display   string    `json:"display"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot converts a State into its storable form.
func Snapshot(s State, at time.Time) ChannelState {
	cs := ChannelState{
		Type:      s.Type(),
		Display:   s.String(),
		UpdatedAt: at.UTC(),
	}
	switch v := s.(type) {
	case DecimalType:
		cs.Value = float64(v)
	case QuantityType:
		cs.Value = v.Value
		cs.Unit = v.Unit.Symbol
	case DateTimeType:
		cs.Value = v.String()
	default:
		cs.Value = s.String()
	}
	return cs
}

// Numeric returns the state's numeric value for telemetry.
// Switch and contact states map to 1 (ON/OPEN) and 0.
func Numeric(s State) (float64, bool) {
	switch v := s.(type) {
	case DecimalType:
		return float64(v), true
	case QuantityType:
		return v.Value, true
	case OnOffType:
		return boolToFloat(v == On), true
	case OpenClosedType:
		return boolToFloat(v == Open), true
	default:
		return 0, false
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
