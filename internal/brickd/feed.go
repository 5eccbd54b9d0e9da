package brickd

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Enumeration types of the proxy's enumerate callback.
const (
	enumerationAvailable    = "available"
	enumerationConnected    = "connected"
	enumerationDisconnected = "disconnected"
)

// enumeratePayload is the body of an enumerate callback.
type enumeratePayload struct {
	UID              string `json:"uid"`
	ConnectedUID     string `json:"connected_uid"`
	Position         string `json:"position"`
	HardwareVersion  []int  `json:"hardware_version"`
	FirmwareVersion  []int  `json:"firmware_version"`
	DeviceIdentifier uint16 `json:"device_identifier"`
	EnumerationType  string `json:"enumeration_type"`
}

func (c *Client) handleEnumerate(_ string, payload []byte) {
	if err := c.HandleEnumerate(payload); err != nil {
		c.getLogger().Debug("ignoring enumerate callback", "error", err)
	}
}

// HandleEnumerate processes one enumerate callback body.
func (c *Client) HandleEnumerate(payload []byte) error {
	var msg enumeratePayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if msg.UID == "" {
		return fmt.Errorf("%w: enumerate without uid", ErrInvalidPayload)
	}

	switch msg.EnumerationType {
	case enumerationDisconnected:
		c.RemoveDevice(msg.UID)
		return nil
	case enumerationAvailable, enumerationConnected, "":
	default:
		return fmt.Errorf("%w: enumeration_type %q", ErrInvalidPayload, msg.EnumerationType)
	}

	_, err := c.AddDevice(DeviceInfo{
		UID:              msg.UID,
		ConnectedUID:     msg.ConnectedUID,
		Position:         msg.Position,
		DeviceIdentifier: msg.DeviceIdentifier,
		HardwareVersion:  msg.HardwareVersion,
		FirmwareVersion:  msg.FirmwareVersion,
	})
	return err
}

func (c *Client) handleDeviceMessage(topic string, payload []byte) {
	if err := c.HandleDeviceMessage(topic, payload); err != nil {
		c.getLogger().Warn("dropping proxy message", "topic", topic, "error", err)
	}
}

// HandleDeviceMessage processes a callback or response published by the
// proxy, dispatching one value per channel the message feeds.
func (c *Client) HandleDeviceMessage(topic string, payload []byte) error {
	msg, ok := c.topics.parse(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %q", ErrInvalidPayload, topic)
	}
	dev := c.Device(msg.uid)
	if dev == nil {
		c.getLogger().Debug("message for unknown device", "uid", msg.uid, "function", msg.function)
		return nil
	}
	if dev.class.Topic != msg.deviceTopic {
		return fmt.Errorf("%w: %s is a %s, got %s message", ErrInvalidPayload, msg.uid, dev.class.Topic, msg.deviceTopic)
	}

	defs := dev.class.defsFor(msg.function, msg.response)
	if len(defs) == 0 {
		return nil
	}

	var body map[string]any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &body); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
	}

	var errs []error
	for _, def := range defs {
		v, ok, err := decodeValue(def, body, msg.response)
		if err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", def.ID, err))
			continue
		}
		if !ok {
			continue
		}
		c.Dispatch(dev.UID(), def.ID, externalID(dev, def, body), v)
	}
	return errors.Join(errs...)
}

// decodeValue extracts the value of one channel from a message body.
// ok is false when the message does not concern the channel.
func decodeValue(def ChannelDef, body map[string]any, response bool) (Value, bool, error) {
	if def.IndexField != "" {
		idx, ok := number(body[def.IndexField])
		if !ok || int(idx) != def.Index {
			return nil, false, nil
		}
	}
	if def.SelectField != "" {
		if sel, ok := number(body[def.SelectField]); ok && int(sel)&(1<<def.Bit) == 0 {
			return nil, false, nil
		}
	}
	if def.Const != nil && !response {
		return def.Const, true, nil
	}

	switch def.Kind {
	case KindDecimal:
		raw, ok := body[def.Field]
		if !ok {
			return nil, false, fmt.Errorf("%w: missing field %q", ErrInvalidPayload, def.Field)
		}
		if s, isString := raw.(string); isString {
			if n, found := def.Symbols[s]; found {
				return DecimalValue(n), true, nil
			}
		}
		n, ok := number(raw)
		if !ok {
			return nil, false, fmt.Errorf("%w: field %q is not a number", ErrInvalidPayload, def.Field)
		}
		return DecimalValue(n), true, nil

	case KindHighLow, KindOnOff:
		b, err := readBool(def, body)
		if err != nil {
			return nil, false, err
		}
		if def.Kind == KindOnOff {
			return OnOffOf(b), true, nil
		}
		return HighLowOf(b), true, nil

	case KindDateTime:
		t, err := decodeDateTime(body)
		if err != nil {
			return nil, false, err
		}
		return DateTimeValue{Time: t}, true, nil

	default:
		return nil, false, fmt.Errorf("%w: kind %q", ErrValueKind, def.Kind)
	}
}

func readBool(def ChannelDef, body map[string]any) (bool, error) {
	raw, ok := body[def.Field]
	if !ok {
		return false, fmt.Errorf("%w: missing field %q", ErrInvalidPayload, def.Field)
	}

	if def.Masked {
		switch v := raw.(type) {
		case []any:
			if def.Bit >= len(v) {
				return false, fmt.Errorf("%w: field %q has no element %d", ErrInvalidPayload, def.Field, def.Bit)
			}
			return truthy(v[def.Bit])
		default:
			n, ok := number(v)
			if !ok {
				return false, fmt.Errorf("%w: field %q is not a bitmask", ErrInvalidPayload, def.Field)
			}
			return int64(n)&(1<<def.Bit) != 0, nil
		}
	}
	return truthy(raw)
}

func truthy(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case float64:
		return b != 0, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("%w: %q is not a boolean", ErrInvalidPayload, b)
		}
		return parsed, nil
	default:
		return false, fmt.Errorf("%w: %v is not a boolean", ErrInvalidPayload, v)
	}
}

// decodeDateTime reads the year..centisecond fields of a real-time clock.
func decodeDateTime(body map[string]any) (time.Time, error) {
	fields := []string{"year", "month", "day", "hour", "minute", "second", "centisecond"}
	vals := make([]int, len(fields))
	for i, f := range fields {
		n, ok := number(body[f])
		if !ok {
			if f == "centisecond" {
				continue
			}
			return time.Time{}, fmt.Errorf("%w: missing field %q", ErrInvalidPayload, f)
		}
		vals[i] = int(n)
	}
	if vals[1] < 1 || vals[1] > 12 || vals[2] < 1 || vals[2] > 31 {
		return time.Time{}, fmt.Errorf("%w: invalid date %d-%d-%d", ErrInvalidPayload, vals[0], vals[1], vals[2])
	}
	return time.Date(vals[0], time.Month(vals[1]), vals[2], vals[3], vals[4], vals[5],
		vals[6]*int(10*time.Millisecond), time.UTC), nil
}

// externalID returns the sub-device id of a message when it differs from
// the configured primary one. Without a configured primary every
// sub-device is accepted.
func externalID(dev *Device, def ChannelDef, body map[string]any) string {
	if def.ExternalIDField == "" {
		return ""
	}
	raw, ok := body[def.ExternalIDField]
	if !ok {
		return ""
	}
	primary := dev.configString(def.ExternalIDConfig)
	if primary == "" {
		return ""
	}
	if id := formatID(raw); id != primary {
		return id
	}
	return ""
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, finite(n)
	case int:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && finite(f)
	default:
		return 0, false
	}
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// formatID renders a numeric or string identifier.
func formatID(v any) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	default:
		return fmt.Sprint(id)
	}
}
