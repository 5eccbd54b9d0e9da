package brickd

import (
	"strconv"
	"time"
)

// ValueKind is the tag of a Value.
type ValueKind string

// Value kinds.
const (
	KindDecimal  ValueKind = "decimal"
	KindHighLow  ValueKind = "highlow"
	KindDateTime ValueKind = "datetime"
	KindOnOff    ValueKind = "onoff"
)

// Value is a raw channel value as reported by a device.
//
// The set of implementations is closed: DecimalValue, HighLowValue,
// DateTimeValue and OnOffValue.
type Value interface {
	Kind() ValueKind
	String() string
	isValue()
}

// DecimalValue is a raw numeric reading, unscaled. A temperature bricklet
// reporting 23.5 °C delivers DecimalValue(2350).
type DecimalValue float64

func (DecimalValue) Kind() ValueKind { return KindDecimal }
func (DecimalValue) isValue()        {}

func (d DecimalValue) String() string {
	return strconv.FormatFloat(float64(d), 'f', -1, 64)
}

// HighLowValue is a binary level.
type HighLowValue string

// Levels.
const (
	High HighLowValue = "HIGH"
	Low  HighLowValue = "LOW"
)

func (HighLowValue) Kind() ValueKind  { return KindHighLow }
func (HighLowValue) isValue()         {}
func (h HighLowValue) String() string { return string(h) }

// HighLowOf returns High for true and Low for false.
func HighLowOf(b bool) HighLowValue {
	if b {
		return High
	}
	return Low
}

// DateTimeValue is a wall-clock reading from a real-time clock bricklet.
// The clock has no zone; values are held in UTC.
type DateTimeValue struct {
	time.Time
}

func (DateTimeValue) Kind() ValueKind { return KindDateTime }
func (DateTimeValue) isValue()        {}

func (d DateTimeValue) String() string {
	return d.Time.UTC().Format(time.RFC3339Nano)
}

// OnOffValue is a switch position of an actuator channel.
type OnOffValue string

// Switch positions.
const (
	On  OnOffValue = "ON"
	Off OnOffValue = "OFF"
)

func (OnOffValue) Kind() ValueKind  { return KindOnOff }
func (OnOffValue) isValue()         {}
func (o OnOffValue) String() string { return string(o) }

// OnOffOf returns On for true and Off for false.
func OnOffOf(b bool) OnOffValue {
	if b {
		return On
	}
	return Off
}
