package brickd

import (
	"fmt"
	"maps"
	"sync"
)

// DeviceChangeType tells device admin listeners what happened to a device.
type DeviceChangeType string

// Device change types.
const (
	DeviceAdded   DeviceChangeType = "ADD"
	DeviceRemoved DeviceChangeType = "REMOVE"
)

// DeviceInfo is the identity of a device as announced by enumeration.
type DeviceInfo struct {
	UID              string     `json:"uid"`
	ConnectedUID     string     `json:"connected_uid"`
	Position         string     `json:"position"`
	DeviceIdentifier uint16     `json:"device_identifier"`
	DeviceType       DeviceType `json:"device_type"`
	HardwareVersion  []int      `json:"hardware_version,omitempty"`
	FirmwareVersion  []int      `json:"firmware_version,omitempty"`
}

// Notifier identifies the source of a value-change notification.
//
// ExternalDeviceID is set when the value belongs to a sub-device other
// than the configured one, such as a second outdoor weather station
// received by the same bricklet.
type Notifier struct {
	DeviceID         string
	ChannelID        string
	ExternalDeviceID string
}

// Device is a Tinkerforge device known to the Client.
type Device struct {
	info   DeviceInfo
	class  *DeviceClass
	client *Client

	mu       sync.RWMutex
	config   map[string]any
	enabled  bool
	channels map[string]*Channel
	order    []string
}

func newDevice(client *Client, info DeviceInfo, class *DeviceClass) *Device {
	d := &Device{
		info:     info,
		class:    class,
		client:   client,
		config:   map[string]any{},
		channels: make(map[string]*Channel),
	}
	for _, id := range class.ChannelIDs() {
		d.channels[id] = &Channel{id: id, device: d, defs: class.Channel(id)}
		d.order = append(d.order, id)
	}
	return d
}

// UID returns the device UID.
func (d *Device) UID() string { return d.info.UID }

// DeviceType returns the device class type.
func (d *Device) DeviceType() DeviceType { return d.class.Type }

// Info returns the enumeration info.
func (d *Device) Info() DeviceInfo { return d.info }

// Class returns the catalog entry of the device.
func (d *Device) Class() *DeviceClass { return d.class }

// Channel returns a channel by ID, or nil.
func (d *Device) Channel(id string) *Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.channels[id]
}

// Channels returns all channels in catalog order.
func (d *Device) Channels() []*Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Channel, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.channels[id])
	}
	return out
}

// SetDeviceConfig stores the device-level configuration (station_id,
// sensor_id, ...). Unknown keys are kept and ignored.
func (d *Device) SetDeviceConfig(cfg map[string]any) {
	d.mu.Lock()
	d.config = maps.Clone(cfg)
	if d.config == nil {
		d.config = map[string]any{}
	}
	d.mu.Unlock()
}

// DeviceConfig returns a copy of the device-level configuration.
func (d *Device) DeviceConfig() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return maps.Clone(d.config)
}

func (d *Device) configString(key string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.config[key]
	if !ok || v == nil {
		return ""
	}
	return formatID(v)
}

// Enable registers for the device's callbacks and requests the current
// value of every channel that has a getter.
func (d *Device) Enable() error {
	for _, r := range d.class.EnableRequests {
		if err := d.client.request(d, r.Function, r.Payload); err != nil {
			return fmt.Errorf("enable %s: %w", d.info.UID, err)
		}
	}
	for _, cb := range d.class.Callbacks() {
		if err := d.client.register(d, cb, true); err != nil {
			return fmt.Errorf("enable %s: %w", d.info.UID, err)
		}
	}
	for _, g := range d.class.getters() {
		if err := d.client.request(d, g, map[string]any{}); err != nil {
			return fmt.Errorf("enable %s: %w", d.info.UID, err)
		}
	}

	d.mu.Lock()
	d.enabled = true
	d.mu.Unlock()
	return nil
}

// Disable unregisters the device's callbacks.
func (d *Device) Disable() error {
	d.mu.Lock()
	d.enabled = false
	d.mu.Unlock()

	for _, cb := range d.class.Callbacks() {
		if err := d.client.register(d, cb, false); err != nil {
			return fmt.Errorf("disable %s: %w", d.info.UID, err)
		}
	}
	return nil
}

// Enabled reports whether Enable has been called without a later Disable.
func (d *Device) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// Channel is a data point of a Device. Sensor channels hold the last
// reported value; actuator channels also accept SetValue.
type Channel struct {
	id     string
	device *Device
	defs   []ChannelDef

	mu     sync.RWMutex
	value  Value
	config map[string]any
}

// ID returns the channel ID.
func (c *Channel) ID() string { return c.id }

// Kind returns the kind of values the channel carries.
func (c *Channel) Kind() ValueKind { return c.defs[0].Kind }

// Writable reports whether the channel is an actuator.
func (c *Channel) Writable() bool { return c.defs[0].Writable() }

// Value returns the last known value, or nil before the first report.
func (c *Channel) Value() Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Config returns a copy of the channel configuration.
func (c *Channel) Config() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.config)
}

// SetConfig stores the channel configuration and sends it to the device
// when the channel has a configuration request. An empty configuration
// is stored without a request.
func (c *Channel) SetConfig(cfg map[string]any) error {
	c.mu.Lock()
	c.config = maps.Clone(cfg)
	c.mu.Unlock()

	def := c.defs[0]
	if def.ConfigRequest == "" || len(cfg) == 0 {
		return nil
	}
	payload := maps.Clone(cfg)
	if def.IndexField != "" {
		payload[def.IndexField] = def.Index
	}
	return c.device.client.request(c.device, def.ConfigRequest, payload)
}

// SetValue writes an actuator value and requests a read-back.
func (c *Channel) SetValue(v Value) error {
	def := c.defs[0]
	if !def.Writable() {
		return fmt.Errorf("%w: %s/%s", ErrNotActuator, c.device.UID(), c.id)
	}
	if v == nil || v.Kind() != def.Kind {
		return fmt.Errorf("%w: %s/%s wants %s", ErrValueKind, c.device.UID(), c.id, def.Kind)
	}

	payload, err := setterPayload(def, v)
	if err != nil {
		return err
	}
	if err := c.device.client.request(c.device, def.Setter, payload); err != nil {
		return err
	}
	if def.Getter != "" {
		return c.device.client.request(c.device, def.Getter, map[string]any{})
	}
	return nil
}

// update stores v and returns the previous value.
func (c *Channel) update(v Value) Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.value
	c.value = v
	return old
}

func setterPayload(def ChannelDef, v Value) (map[string]any, error) {
	var on bool
	switch val := v.(type) {
	case OnOffValue:
		on = val == On
	case HighLowValue:
		on = val == High
	case DecimalValue:
		if def.Masked {
			return nil, fmt.Errorf("%w: masked channel needs a binary value", ErrValueKind)
		}
		return map[string]any{def.Field: float64(val)}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrValueKind, v.Kind())
	}

	if !def.Masked {
		return map[string]any{def.Field: on}, nil
	}
	mask := 1 << def.Bit
	value := 0
	if on {
		value = mask
	}
	return map[string]any{"selection_mask": mask, "value_mask": value}, nil
}
