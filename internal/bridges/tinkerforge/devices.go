package tinkerforge

import (
	"sort"

	"github.com/nerrad567/tinkerforge-bridge/internal/brickd"
	"github.com/nerrad567/tinkerforge-bridge/internal/thing"
)

// BridgeThingType is the thing type of the brickd bridge.
const BridgeThingType = "brickd"

// StateKind names the host state a channel publishes.
type StateKind string

// Host state kinds.
const (
	StateQuantity   StateKind = "quantity"
	StateDecimal    StateKind = "decimal"
	StateOpenClosed StateKind = "openclosed"
	StateOnOff      StateKind = "onoff"
	StateDateTime   StateKind = "datetime"
	StateTrigger    StateKind = "trigger"
)

// ChannelSpec describes how one device channel maps to a host channel.
type ChannelSpec struct {
	ID string `json:"id"`

	// Kind is the device value kind the channel reports.
	Kind brickd.ValueKind `json:"kind"`

	// State is the host state published for the channel.
	State StateKind `json:"state"`

	// Unit applies to StateQuantity channels.
	Unit thing.Unit `json:"unit"`

	// Divisor scales raw decimal values (raw / Divisor). Zero means 1.
	Divisor float64 `json:"divisor,omitempty"`

	// Writable channels accept commands.
	Writable bool `json:"writable"`
}

// DeviceTypeSpec is one entry of the device-type table.
type DeviceTypeSpec struct {
	ThingType string        `json:"thing_type"`
	Label     string        `json:"label"`
	Bridge    bool          `json:"bridge"`
	Channels  []ChannelSpec `json:"channels"`
}

// Channel looks up a channel by ID.
func (d *DeviceTypeSpec) Channel(id string) (ChannelSpec, bool) {
	for _, ch := range d.Channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return ChannelSpec{}, false
}

func quantity(id string, unit thing.Unit, divisor float64) ChannelSpec {
	return ChannelSpec{ID: id, Kind: brickd.KindDecimal, State: StateQuantity, Unit: unit, Divisor: divisor}
}

func number(id string, divisor float64) ChannelSpec {
	return ChannelSpec{ID: id, Kind: brickd.KindDecimal, State: StateDecimal, Divisor: divisor}
}

func contact(id string) ChannelSpec {
	return ChannelSpec{ID: id, Kind: brickd.KindHighLow, State: StateOpenClosed}
}

func trigger(id string) ChannelSpec {
	return ChannelSpec{ID: id, Kind: brickd.KindHighLow, State: StateTrigger}
}

func datetime(id string) ChannelSpec {
	return ChannelSpec{ID: id, Kind: brickd.KindDateTime, State: StateDateTime}
}

func relay(id string) ChannelSpec {
	return ChannelSpec{ID: id, Kind: brickd.KindOnOff, State: StateOnOff, Writable: true}
}

func electrodes() []ChannelSpec {
	specs := []ChannelSpec{}
	for _, id := range []string{
		"electrode0", "electrode1", "electrode2", "electrode3", "electrode4", "electrode5",
		"electrode6", "electrode7", "electrode8", "electrode9", "electrode10", "electrode11",
		"proximity",
	} {
		specs = append(specs, trigger(id))
	}
	return specs
}

// DeviceTypes is the table of supported thing types. Raw device units
// follow the bricklet APIs (1/100 °C, 1/1000 mbar, ...); Divisor turns
// them into the channel unit.
var DeviceTypes = []DeviceTypeSpec{
	{ThingType: BridgeThingType, Label: "Brick Daemon", Bridge: true},
	// The Temperature Bricklet reports 1/100 °C and the Temperature IR
	// Bricklet 1/10 °C.
	{ThingType: "temperature", Label: "Temperature Bricklet", Channels: []ChannelSpec{
		quantity("temperature", thing.Celsius, 100),
	}},
	{ThingType: "temperatureir", Label: "Temperature IR Bricklet", Channels: []ChannelSpec{
		quantity("objectTemperature", thing.Celsius, 10),
		quantity("ambientTemperature", thing.Celsius, 10),
	}},
	{ThingType: "loadcell", Label: "Load Cell Bricklet", Channels: []ChannelSpec{
		quantity("weight", thing.Gram, 1),
	}},
	{ThingType: "soundintensity", Label: "Sound Intensity Bricklet", Channels: []ChannelSpec{
		number("intensity", 1),
	}},
	{ThingType: "soundpressurelevel", Label: "Sound Pressure Level Bricklet", Channels: []ChannelSpec{
		quantity("decibel", thing.DecibelA, 10),
	}},
	{ThingType: "ambientlight", Label: "Ambient Light Bricklet", Channels: []ChannelSpec{
		quantity("illuminance", thing.Lux, 10),
	}},
	{ThingType: "ambientlightV2", Label: "Ambient Light Bricklet 2.0", Channels: []ChannelSpec{
		quantity("illuminance", thing.Lux, 100),
	}},
	{ThingType: "industrialdualanalogIn", Label: "Industrial Dual Analog In Bricklet", Channels: []ChannelSpec{
		quantity("voltage0", thing.Millivolt, 1),
		quantity("voltage1", thing.Millivolt, 1),
	}},
	{ThingType: "industrialdualanalogInV2", Label: "Industrial Dual Analog In Bricklet 2.0", Channels: []ChannelSpec{
		quantity("voltage0", thing.Millivolt, 1),
		quantity("voltage1", thing.Millivolt, 1),
	}},
	{ThingType: "ptc", Label: "PTC Bricklet", Channels: []ChannelSpec{
		quantity("temperature", thing.Celsius, 100),
		quantity("resistance", thing.Ohm, 1),
	}},
	{ThingType: "ptcV2", Label: "PTC Bricklet 2.0", Channels: []ChannelSpec{
		quantity("temperature", thing.Celsius, 100),
		quantity("resistance", thing.Ohm, 1),
	}},
	{ThingType: "barometer", Label: "Barometer Bricklet", Channels: []ChannelSpec{
		quantity("airpressure", thing.Millibar, 1000),
		quantity("altitude", thing.Centimetre, 1),
	}},
	{ThingType: "barometerV2", Label: "Barometer Bricklet 2.0", Channels: []ChannelSpec{
		quantity("airpressure", thing.Millibar, 1000),
		quantity("temperature", thing.Celsius, 100),
		quantity("altitude", thing.Millimetre, 1),
	}},
	{ThingType: "humidity", Label: "Humidity Bricklet", Channels: []ChannelSpec{
		quantity("humidity", thing.Percent, 10),
	}},
	{ThingType: "humidityV2", Label: "Humidity Bricklet 2.0", Channels: []ChannelSpec{
		quantity("humidity", thing.Percent, 100),
		quantity("temperature", thing.Celsius, 100),
	}},
	{ThingType: "motiondetector", Label: "Motion Detector Bricklet", Channels: []ChannelSpec{
		contact("motion"),
	}},
	{ThingType: "motiondetectorV2", Label: "Motion Detector Bricklet 2.0", Channels: []ChannelSpec{
		contact("motion"),
	}},
	{ThingType: "realtimeclock", Label: "Real-Time Clock Bricklet", Channels: []ChannelSpec{
		datetime("datetime"),
	}},
	{ThingType: "realtimeclockV2", Label: "Real-Time Clock Bricklet 2.0", Channels: []ChannelSpec{
		datetime("datetime"),
	}},
	{ThingType: "rotaryencoder", Label: "Rotary Encoder Bricklet", Channels: []ChannelSpec{
		number("count", 1),
		trigger("pressed"),
	}},
	{ThingType: "voltagecurrent", Label: "Voltage/Current Bricklet", Channels: []ChannelSpec{
		quantity("voltage", thing.Millivolt, 1),
		quantity("current", thing.Milliampere, 1),
		quantity("power", thing.Milliwatt, 1),
	}},
	{ThingType: "voltagecurrentV2", Label: "Voltage/Current Bricklet 2.0", Channels: []ChannelSpec{
		quantity("voltage", thing.Millivolt, 1),
		quantity("current", thing.Milliampere, 1),
		quantity("power", thing.Milliwatt, 1),
	}},
	{ThingType: "distanceus", Label: "Distance US Bricklet", Channels: []ChannelSpec{
		number("distance", 1),
	}},
	{ThingType: "outdoorweather", Label: "Outdoor Weather Bricklet", Channels: []ChannelSpec{
		number("temperatureStation", 10),
		number("humidityStation", 1),
		number("windSpeedStation", 10),
		number("gustSpeedStation", 10),
		number("rainStation", 10),
		number("windDirectionStation", 1),
		contact("batteryLowStation"),
		number("temperatureSensor", 10),
		number("humiditySensor", 1),
	}},
	{ThingType: "airquality", Label: "Air Quality Bricklet", Channels: []ChannelSpec{
		number("iaqIndex", 1),
		number("iaqAccuracy", 1),
		quantity("temperature", thing.Celsius, 100),
		quantity("humidity", thing.Percent, 100),
		quantity("airpressure", thing.Millibar, 100),
	}},
	{ThingType: "uvlightv2", Label: "UV Light Bricklet 2.0", Channels: []ChannelSpec{
		quantity("uva", thing.MilliwattPerSqM, 10),
		quantity("uvb", thing.MilliwattPerSqM, 10),
		number("uvi", 10),
	}},
	{ThingType: "multitouch", Label: "Multi Touch Bricklet", Channels: electrodes()},
	{ThingType: "industrialquadrelay", Label: "Industrial Quad Relay Bricklet", Channels: []ChannelSpec{
		relay("relay0"),
		relay("relay1"),
		relay("relay2"),
		relay("relay3"),
	}},
}

var deviceTypesByName = map[string]*DeviceTypeSpec{}

func init() {
	for i := range DeviceTypes {
		deviceTypesByName[DeviceTypes[i].ThingType] = &DeviceTypes[i]
	}
}

// LookupDeviceType returns the table entry of a thing type.
func LookupDeviceType(thingType string) (*DeviceTypeSpec, bool) {
	spec, ok := deviceTypesByName[thingType]
	return spec, ok
}

// ThingTypes returns the names of all supported thing types, sorted.
func ThingTypes() []string {
	names := make([]string, 0, len(DeviceTypes))
	for _, d := range DeviceTypes {
		names = append(names, d.ThingType)
	}
	sort.Strings(names)
	return names
}
