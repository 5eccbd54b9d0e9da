package brickd

import (
	"fmt"
	"slices"
	"sort"
)

// DeviceType names a device class. The names double as thing type names.
type DeviceType string

// Device types known to the catalog.
const (
	DeviceTemperature              DeviceType = "temperature"
	DeviceTemperatureIR            DeviceType = "temperatureir"
	DeviceLoadCell                 DeviceType = "loadcell"
	DeviceSoundIntensity           DeviceType = "soundintensity"
	DeviceSoundPressureLevel       DeviceType = "soundpressurelevel"
	DeviceAmbientLight             DeviceType = "ambientlight"
	DeviceAmbientLightV2           DeviceType = "ambientlightV2"
	DeviceIndustrialDualAnalogIn   DeviceType = "industrialdualanalogIn"
	DeviceIndustrialDualAnalogInV2 DeviceType = "industrialdualanalogInV2"
	DevicePTC                      DeviceType = "ptc"
	DevicePTCV2                    DeviceType = "ptcV2"
	DeviceBarometer                DeviceType = "barometer"
	DeviceBarometerV2              DeviceType = "barometerV2"
	DeviceHumidity                 DeviceType = "humidity"
	DeviceHumidityV2               DeviceType = "humidityV2"
	DeviceMotionDetector           DeviceType = "motiondetector"
	DeviceMotionDetectorV2         DeviceType = "motiondetectorV2"
	DeviceRealTimeClock            DeviceType = "realtimeclock"
	DeviceRealTimeClockV2          DeviceType = "realtimeclockV2"
	DeviceRotaryEncoder            DeviceType = "rotaryencoder"
	DeviceVoltageCurrent           DeviceType = "voltagecurrent"
	DeviceVoltageCurrentV2         DeviceType = "voltagecurrentV2"
	DeviceDistanceUS               DeviceType = "distanceus"
	DeviceOutdoorWeather           DeviceType = "outdoorweather"
	DeviceAirQuality               DeviceType = "airquality"
	DeviceUVLightV2                DeviceType = "uvlightv2"
	DeviceMultiTouch               DeviceType = "multitouch"
	DeviceIndustrialQuadRelay      DeviceType = "industrialquadrelay"
)

// Device configuration keys naming the primary sub-device of an outdoor
// weather bricklet. Values from other stations or sensors carry an
// external device id.
const (
	ConfigStationID = "station_id"
	ConfigSensorID  = "sensor_id"
)

// ChannelDef describes where a channel's value comes from on the proxy
// and how it is written back.
type ChannelDef struct {
	ID   string
	Kind ValueKind

	// Callback is the proxy callback carrying the value.
	Callback string

	// Getter is the request whose response carries the value. It is
	// issued when the device is enabled and after a SetValue.
	Getter string

	// Field is the payload field holding the value. Datetime channels
	// read the year..centisecond fields instead.
	Field string

	// Const is reported when Callback arrives, for callbacks whose
	// arrival is the value (motion_detected, pressed). Getter responses
	// still read Field.
	Const Value

	// IndexField and Index pick one channel out of a callback shared by
	// several channels (the "channel" field of dual analog inputs).
	IndexField string
	Index      int

	// Masked channels read bit Bit of Field (or element Bit when the
	// field is an array). SelectField, when present in the payload,
	// must have Bit set for the value to apply.
	Masked      bool
	Bit         int
	SelectField string

	// Symbols maps symbolic enum payloads to numbers.
	Symbols map[string]float64

	// ConfigRequest applies the channel configuration.
	ConfigRequest string

	// Setter writes an actuator value. Empty for sensor channels.
	Setter string

	// ExternalIDField names the payload field identifying a sub-device;
	// ExternalIDConfig is the device configuration key of the primary one.
	ExternalIDField  string
	ExternalIDConfig string
}

// Writable reports whether the channel is an actuator.
func (d ChannelDef) Writable() bool {
	return d.Setter != ""
}

func (d ChannelDef) get(getter string) ChannelDef {
	d.Getter = getter
	return d
}

func (d ChannelDef) config(request string) ChannelDef {
	d.ConfigRequest = request
	return d
}

func (d ChannelDef) indexed(field string, index int) ChannelDef {
	d.IndexField, d.Index = field, index
	return d
}

func (d ChannelDef) bit(n int) ChannelDef {
	d.Masked, d.Bit = true, n
	return d
}

func (d ChannelDef) symbols(m map[string]float64) ChannelDef {
	d.Symbols = m
	return d
}

func (d ChannelDef) external(field, configKey string) ChannelDef {
	d.ExternalIDField, d.ExternalIDConfig = field, configKey
	return d
}

func decimal(id, callback, field string) ChannelDef {
	return ChannelDef{ID: id, Kind: KindDecimal, Callback: callback, Field: field}
}

func highLow(id, callback, field string) ChannelDef {
	return ChannelDef{ID: id, Kind: KindHighLow, Callback: callback, Field: field}
}

func event(id, callback string, v Value) ChannelDef {
	return ChannelDef{ID: id, Kind: v.Kind(), Callback: callback, Const: v}
}

// Request is a proxy request with a fixed payload.
type Request struct {
	Function string
	Payload  map[string]any
}

// DeviceClass describes one kind of Tinkerforge device on the proxy.
type DeviceClass struct {
	Type DeviceType

	// Identifier is the numeric device_identifier of enumerate messages.
	Identifier uint16

	// Topic is the device segment of proxy topics, e.g. "temperature_bricklet".
	Topic string

	Channels []ChannelDef

	// EnableRequests are issued when the device is enabled.
	EnableRequests []Request
}

// Channel returns the definition(s) of a channel. A channel fed by two
// callbacks (motion_detected / detection_cycle_ended) has two.
func (c *DeviceClass) Channel(id string) []ChannelDef {
	var defs []ChannelDef
	for _, d := range c.Channels {
		if d.ID == id {
			defs = append(defs, d)
		}
	}
	return defs
}

// ChannelIDs returns the distinct channel IDs in declaration order.
func (c *DeviceClass) ChannelIDs() []string {
	var ids []string
	for _, d := range c.Channels {
		if !slices.Contains(ids, d.ID) {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

// Callbacks returns the distinct callbacks to register for.
func (c *DeviceClass) Callbacks() []string {
	var names []string
	for _, d := range c.Channels {
		if d.Callback != "" && !slices.Contains(names, d.Callback) {
			names = append(names, d.Callback)
		}
	}
	return names
}

// getters returns the distinct getter requests.
func (c *DeviceClass) getters() []string {
	var names []string
	for _, d := range c.Channels {
		if d.Getter != "" && !slices.Contains(names, d.Getter) {
			names = append(names, d.Getter)
		}
	}
	return names
}

// defsFor returns the channels fed by a callback or getter response.
func (c *DeviceClass) defsFor(function string, response bool) []ChannelDef {
	var defs []ChannelDef
	for _, d := range c.Channels {
		if (!response && d.Callback == function) || (response && d.Getter == function) {
			defs = append(defs, d)
		}
	}
	return defs
}

var iaqAccuracySymbols = map[string]float64{
	"unreliable": 0,
	"low":        1,
	"medium":     2,
	"high":       3,
}

var windDirectionSymbols = map[string]float64{
	"n": 0, "nne": 1, "ne": 2, "ene": 3, "e": 4, "ese": 5, "se": 6, "sse": 7,
	"s": 8, "ssw": 9, "sw": 10, "wsw": 11, "w": 12, "wnw": 13, "nw": 14, "nnw": 15,
	"error": 255,
}

var catalog = []*DeviceClass{
	{
		Type: DeviceTemperature, Identifier: 216, Topic: "temperature_bricklet",
		Channels: []ChannelDef{
			decimal("temperature", "temperature", "temperature").get("get_temperature").config("set_temperature_callback_period"),
		},
	},
	{
		Type: DeviceTemperatureIR, Identifier: 217, Topic: "temperature_ir_bricklet",
		Channels: []ChannelDef{
			decimal("objectTemperature", "object_temperature", "temperature").get("get_object_temperature").config("set_object_temperature_callback_period"),
			decimal("ambientTemperature", "ambient_temperature", "temperature").get("get_ambient_temperature").config("set_ambient_temperature_callback_period"),
		},
	},
	{
		Type: DeviceLoadCell, Identifier: 253, Topic: "load_cell_bricklet",
		Channels: []ChannelDef{
			decimal("weight", "weight", "weight").get("get_weight").config("set_weight_callback_period"),
		},
	},
	{
		Type: DeviceSoundIntensity, Identifier: 238, Topic: "sound_intensity_bricklet",
		Channels: []ChannelDef{
			decimal("intensity", "intensity", "intensity").get("get_intensity").config("set_intensity_callback_period"),
		},
	},
	{
		Type: DeviceSoundPressureLevel, Identifier: 290, Topic: "sound_pressure_level_bricklet",
		Channels: []ChannelDef{
			decimal("decibel", "decibel", "decibel").get("get_decibel").config("set_decibel_callback_configuration"),
		},
	},
	{
		Type: DeviceAmbientLight, Identifier: 21, Topic: "ambient_light_bricklet",
		Channels: []ChannelDef{
			decimal("illuminance", "illuminance", "illuminance").get("get_illuminance").config("set_illuminance_callback_period"),
		},
	},
	{
		Type: DeviceAmbientLightV2, Identifier: 259, Topic: "ambient_light_v2_bricklet",
		Channels: []ChannelDef{
			decimal("illuminance", "illuminance", "illuminance").get("get_illuminance").config("set_illuminance_callback_period"),
		},
	},
	{
		Type: DeviceIndustrialDualAnalogIn, Identifier: 249, Topic: "industrial_dual_analog_in_bricklet",
		Channels: []ChannelDef{
			decimal("voltage0", "voltage", "voltage").indexed("channel", 0).config("set_voltage_callback_period"),
			decimal("voltage1", "voltage", "voltage").indexed("channel", 1).config("set_voltage_callback_period"),
		},
	},
	{
		Type: DeviceIndustrialDualAnalogInV2, Identifier: 2121, Topic: "industrial_dual_analog_in_v2_bricklet",
		Channels: []ChannelDef{
			decimal("voltage0", "voltage", "voltage").indexed("channel", 0).config("set_voltage_callback_configuration"),
			decimal("voltage1", "voltage", "voltage").indexed("channel", 1).config("set_voltage_callback_configuration"),
		},
	},
	{
		Type: DevicePTC, Identifier: 226, Topic: "ptc_bricklet",
		Channels: []ChannelDef{
			decimal("temperature", "temperature", "temperature").get("get_temperature").config("set_temperature_callback_period"),
			decimal("resistance", "resistance", "resistance").get("get_resistance").config("set_resistance_callback_period"),
		},
	},
	{
		Type: DevicePTCV2, Identifier: 2101, Topic: "ptc_v2_bricklet",
		Channels: []ChannelDef{
			decimal("temperature", "temperature", "temperature").get("get_temperature").config("set_temperature_callback_configuration"),
			decimal("resistance", "resistance", "resistance").get("get_resistance").config("set_resistance_callback_configuration"),
		},
	},
	{
		Type: DeviceBarometer, Identifier: 221, Topic: "barometer_bricklet",
		Channels: []ChannelDef{
			decimal("airpressure", "air_pressure", "air_pressure").get("get_air_pressure").config("set_air_pressure_callback_period"),
			decimal("altitude", "altitude", "altitude").get("get_altitude").config("set_altitude_callback_period"),
		},
	},
	{
		Type: DeviceBarometerV2, Identifier: 2117, Topic: "barometer_v2_bricklet",
		Channels: []ChannelDef{
			decimal("airpressure", "air_pressure", "air_pressure").get("get_air_pressure").config("set_air_pressure_callback_configuration"),
			decimal("temperature", "temperature", "temperature").get("get_temperature").config("set_temperature_callback_configuration"),
			decimal("altitude", "altitude", "altitude").get("get_altitude").config("set_altitude_callback_configuration"),
		},
	},
	{
		Type: DeviceHumidity, Identifier: 27, Topic: "humidity_bricklet",
		Channels: []ChannelDef{
			decimal("humidity", "humidity", "humidity").get("get_humidity").config("set_humidity_callback_period"),
		},
	},
	{
		Type: DeviceHumidityV2, Identifier: 283, Topic: "humidity_v2_bricklet",
		Channels: []ChannelDef{
			decimal("humidity", "humidity", "humidity").get("get_humidity").config("set_humidity_callback_configuration"),
			decimal("temperature", "temperature", "temperature").get("get_temperature").config("set_temperature_callback_configuration"),
		},
	},
	{
		Type: DeviceMotionDetector, Identifier: 233, Topic: "motion_detector_bricklet",
		Channels: []ChannelDef{
			event("motion", "motion_detected", High),
			event("motion", "detection_cycle_ended", Low),
		},
	},
	{
		Type: DeviceMotionDetectorV2, Identifier: 292, Topic: "motion_detector_v2_bricklet",
		Channels: []ChannelDef{
			event("motion", "motion_detected", High),
			event("motion", "detection_cycle_ended", Low),
		},
	},
	{
		Type: DeviceRealTimeClock, Identifier: 268, Topic: "real_time_clock_bricklet",
		Channels: []ChannelDef{
			{ID: "datetime", Kind: KindDateTime, Callback: "date_time", Getter: "get_date_time", ConfigRequest: "set_date_time_callback_period"},
		},
	},
	{
		Type: DeviceRealTimeClockV2, Identifier: 2106, Topic: "real_time_clock_v2_bricklet",
		Channels: []ChannelDef{
			{ID: "datetime", Kind: KindDateTime, Callback: "date_time", Getter: "get_date_time", ConfigRequest: "set_date_time_callback_configuration"},
		},
	},
	{
		Type: DeviceRotaryEncoder, Identifier: 236, Topic: "rotary_encoder_bricklet",
		Channels: []ChannelDef{
			decimal("count", "count", "count").config("set_count_callback_period"),
			{ID: "pressed", Kind: KindHighLow, Callback: "pressed", Const: High, Getter: "is_pressed", Field: "pressed"},
			event("pressed", "released", Low),
		},
	},
	{
		Type: DeviceVoltageCurrent, Identifier: 227, Topic: "voltage_current_bricklet",
		Channels: []ChannelDef{
			decimal("voltage", "voltage", "voltage").get("get_voltage").config("set_voltage_callback_period"),
			decimal("current", "current", "current").get("get_current").config("set_current_callback_period"),
			decimal("power", "power", "power").get("get_power").config("set_power_callback_period"),
		},
	},
	{
		Type: DeviceVoltageCurrentV2, Identifier: 2105, Topic: "voltage_current_v2_bricklet",
		Channels: []ChannelDef{
			decimal("voltage", "voltage", "voltage").get("get_voltage").config("set_voltage_callback_configuration"),
			decimal("current", "current", "current").get("get_current").config("set_current_callback_configuration"),
			decimal("power", "power", "power").get("get_power").config("set_power_callback_configuration"),
		},
	},
	{
		Type: DeviceDistanceUS, Identifier: 229, Topic: "distance_us_bricklet",
		Channels: []ChannelDef{
			decimal("distance", "distance", "distance").get("get_distance_value").config("set_distance_callback_period"),
		},
	},
	{
		Type: DeviceOutdoorWeather, Identifier: 288, Topic: "outdoor_weather_bricklet",
		Channels: []ChannelDef{
			decimal("temperatureStation", "station_data", "temperature").external("identifier", ConfigStationID),
			decimal("humidityStation", "station_data", "humidity").external("identifier", ConfigStationID),
			decimal("windSpeedStation", "station_data", "wind_speed").external("identifier", ConfigStationID),
			decimal("gustSpeedStation", "station_data", "gust_speed").external("identifier", ConfigStationID),
			decimal("rainStation", "station_data", "rain").external("identifier", ConfigStationID),
			decimal("windDirectionStation", "station_data", "wind_direction").symbols(windDirectionSymbols).external("identifier", ConfigStationID),
			highLow("batteryLowStation", "station_data", "battery_low").external("identifier", ConfigStationID),
			decimal("temperatureSensor", "sensor_data", "temperature").external("identifier", ConfigSensorID),
			decimal("humiditySensor", "sensor_data", "humidity").external("identifier", ConfigSensorID),
		},
		EnableRequests: []Request{
			{Function: "set_station_callback_configuration", Payload: map[string]any{"enable_callback": true}},
			{Function: "set_sensor_callback_configuration", Payload: map[string]any{"enable_callback": true}},
		},
	},
	{
		Type: DeviceAirQuality, Identifier: 297, Topic: "air_quality_bricklet",
		Channels: []ChannelDef{
			decimal("iaqIndex", "all_values", "iaq_index").get("get_all_values").config("set_all_values_callback_configuration"),
			decimal("iaqAccuracy", "all_values", "iaq_index_accuracy").symbols(iaqAccuracySymbols).get("get_all_values"),
			decimal("temperature", "all_values", "temperature").get("get_all_values"),
			decimal("humidity", "all_values", "humidity").get("get_all_values"),
			decimal("airpressure", "all_values", "air_pressure").get("get_all_values"),
		},
	},
	{
		Type: DeviceUVLightV2, Identifier: 2118, Topic: "uv_light_v2_bricklet",
		Channels: []ChannelDef{
			decimal("uva", "uva", "uva").get("get_uva").config("set_uva_callback_configuration"),
			decimal("uvb", "uvb", "uvb").get("get_uvb").config("set_uvb_callback_configuration"),
			decimal("uvi", "uvi", "uvi").get("get_uvi").config("set_uvi_callback_configuration"),
		},
	},
	{
		Type: DeviceMultiTouch, Identifier: 234, Topic: "multi_touch_bricklet",
		Channels:       multiTouchChannels(),
		EnableRequests: []Request{{Function: "recalibrate", Payload: map[string]any{}}},
	},
	{
		Type: DeviceIndustrialQuadRelay, Identifier: 225, Topic: "industrial_quad_relay_bricklet",
		Channels: quadRelayChannels(),
	},
}

// multiTouchChannels defines electrode0..electrode11 and proximity
// (bit 12) of the touch_state bitmask.
func multiTouchChannels() []ChannelDef {
	defs := make([]ChannelDef, 0, 13)
	for i := range 12 {
		defs = append(defs, highLow(fmt.Sprintf("electrode%d", i), "touch_state", "state").bit(i).get("get_touch_state"))
	}
	return append(defs, highLow("proximity", "touch_state", "state").bit(12).get("get_touch_state"))
}

// quadRelayChannels defines relay0..relay3 of the value_mask.
func quadRelayChannels() []ChannelDef {
	defs := make([]ChannelDef, 0, 4)
	for i := range 4 {
		d := ChannelDef{
			ID:          fmt.Sprintf("relay%d", i),
			Kind:        KindOnOff,
			Callback:    "monoflop_done",
			Field:       "value_mask",
			SelectField: "selection_mask",
			Setter:      "set_selected_values",
		}
		defs = append(defs, d.bit(i).get("get_value"))
	}
	return defs
}

var (
	classByIdentifier = map[uint16]*DeviceClass{}
	classByType       = map[DeviceType]*DeviceClass{}
)

func init() {
	for _, c := range catalog {
		classByIdentifier[c.Identifier] = c
		classByType[c.Type] = c
	}
}

// ClassByIdentifier looks up a device class by its device_identifier.
func ClassByIdentifier(id uint16) (*DeviceClass, bool) {
	c, ok := classByIdentifier[id]
	return c, ok
}

// ClassByType looks up a device class by type name.
func ClassByType(t DeviceType) (*DeviceClass, bool) {
	c, ok := classByType[t]
	return c, ok
}

// Classes returns all device classes sorted by type name.
func Classes() []*DeviceClass {
	out := slices.Clone(catalog)
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
