package brickd

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func connectedClient(t *testing.T) (*Client, *mockTransport) {
	t.Helper()
	tr := newMockTransport()
	c := NewClient(Options{Transport: tr})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return c, tr
}

func TestConnectSubscribesAndEnumerates(t *testing.T) {
	c, tr := connectedClient(t)

	for _, topic := range []string{"tinkerforge/callback/ip_connection/enumerate", "tinkerforge/callback/+/+/+", "tinkerforge/response/+/+/+"} {
		if _, ok := tr.subscriptions[topic]; !ok {
			t.Errorf("missing subscription %s", topic)
		}
	}
	if got := tr.publishedTo("tinkerforge/register/ip_connection/enumerate"); len(got) != 1 || got[0]["register"] != true {
		t.Errorf("enumerate register = %v", got)
	}
	if got := tr.publishedTo("tinkerforge/request/ip_connection/enumerate"); len(got) != 1 {
		t.Errorf("enumerate requests = %d, want 1", len(got))
	}
	if !c.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}
}

func TestConnectRequiresTransportConnection(t *testing.T) {
	tr := newMockTransport()
	tr.connected = false
	c := NewClient(Options{Transport: tr})

	if err := c.Connect(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Connect() error = %v, want ErrNotConnected", err)
	}
}

func TestEnumerateAddsAndRemovesDevices(t *testing.T) {
	c, tr := connectedClient(t)
	l := &recordingListener{}
	c.RegisterDeviceAdminListener(l)

	tr.deliver(t, "tinkerforge/callback/ip_connection/enumerate",
		`{"uid":"XYZ","connected_uid":"6qY","position":"a","hardware_version":[1,1,0],"firmware_version":[2,0,3],"device_identifier":216,"enumeration_type":"available"}`)

	dev := c.Device("XYZ")
	if dev == nil {
		t.Fatal("device XYZ not added")
	}
	if dev.DeviceType() != DeviceTemperature {
		t.Errorf("DeviceType() = %q, want temperature", dev.DeviceType())
	}
	if diff := cmp.Diff([]int{2, 0, 3}, dev.Info().FirmwareVersion); diff != "" {
		t.Errorf("firmware mismatch (-want +got):\n%s", diff)
	}

	tr.deliver(t, "tinkerforge/callback/ip_connection/enumerate", `{"uid":"XYZ","device_identifier":216,"enumeration_type":"disconnected"}`)
	if c.Device("XYZ") != nil {
		t.Error("device still present after disconnect")
	}

	if diff := cmp.Diff([]DeviceChangeType{DeviceAdded, DeviceRemoved}, l.changes); diff != "" {
		t.Errorf("changes mismatch (-want +got):\n%s", diff)
	}
	if l.infos[0].DeviceType != DeviceTemperature {
		t.Errorf("info type = %q", l.infos[0].DeviceType)
	}
}

func TestEnumerateIgnoresUnknownIdentifier(t *testing.T) {
	c := NewClient(Options{})
	err := c.HandleEnumerate([]byte(`{"uid":"abc","device_identifier":13,"enumeration_type":"available"}`))
	if !errors.Is(err, ErrUnknownDeviceType) {
		t.Errorf("HandleEnumerate() error = %v, want ErrUnknownDeviceType", err)
	}
	if len(c.Devices()) != 0 {
		t.Error("unknown device was added")
	}
}

func TestCallbackDispatch(t *testing.T) {
	c, tr := connectedClient(t)
	if _, err := c.AddDevice(DeviceInfo{UID: "XYZ", DeviceType: DeviceTemperature}); err != nil {
		t.Fatal(err)
	}
	mine := &recordingListener{}
	other := &recordingListener{}
	c.RegisterCallbackListener(mine, "XYZ")
	c.RegisterCallbackListener(mine, "XYZ")
	c.RegisterCallbackListener(other, "ABC")

	tr.deliver(t, "tinkerforge/callback/temperature_bricklet/XYZ/temperature", `{"temperature":2350}`)
	tr.deliver(t, "tinkerforge/callback/temperature_bricklet/XYZ/temperature", `{"temperature":2400}`)

	notes := mine.notifications()
	if len(notes) != 2 {
		t.Fatalf("got %d notifications, want 2 (duplicate registration must not double)", len(notes))
	}
	want := notification{
		Notifier: Notifier{DeviceID: "XYZ", ChannelID: "temperature"},
		Old:      DecimalValue(2350),
		New:      DecimalValue(2400),
	}
	if diff := cmp.Diff(want, notes[1]); diff != "" {
		t.Errorf("notification mismatch (-want +got):\n%s", diff)
	}
	if notes[0].Old != nil {
		t.Errorf("first notification old = %v, want nil", notes[0].Old)
	}
	if got := c.Channel("XYZ", "temperature").Value(); got != DecimalValue(2400) {
		t.Errorf("channel value = %v, want 2400", got)
	}
	if len(other.notifications()) != 0 {
		t.Error("listener for another uid was notified")
	}

	c.UnregisterCallbackListener(mine, "XYZ")
	tr.deliver(t, "tinkerforge/callback/temperature_bricklet/XYZ/temperature", `{"temperature":1}`)
	if len(mine.notifications()) != 2 {
		t.Error("unregistered listener was notified")
	}
	if c.ListenerCount("XYZ") != 0 {
		t.Errorf("ListenerCount() = %d, want 0", c.ListenerCount("XYZ"))
	}
}

func TestIndexedCallback(t *testing.T) {
	c, tr := connectedClient(t)
	if _, err := c.AddDevice(DeviceInfo{UID: "ain", DeviceIdentifier: 2121}); err != nil {
		t.Fatal(err)
	}
	l := &recordingListener{}
	c.RegisterCallbackListener(l, "ain")

	tr.deliver(t, "tinkerforge/callback/industrial_dual_analog_in_v2_bricklet/ain/voltage", `{"channel":1,"voltage":4711}`)

	notes := l.notifications()
	if len(notes) != 1 || notes[0].Notifier.ChannelID != "voltage1" || notes[0].New != DecimalValue(4711) {
		t.Errorf("notifications = %+v", notes)
	}
	if v := c.Channel("ain", "voltage0").Value(); v != nil {
		t.Errorf("voltage0 = %v, want untouched", v)
	}
}

func TestMotionDetectorEvents(t *testing.T) {
	c, tr := connectedClient(t)
	if _, err := c.AddDevice(DeviceInfo{UID: "md", DeviceType: DeviceMotionDetectorV2}); err != nil {
		t.Fatal(err)
	}

	tr.deliver(t, "tinkerforge/callback/motion_detector_v2_bricklet/md/motion_detected", `{}`)
	if v := c.Channel("md", "motion").Value(); v != High {
		t.Errorf("motion after motion_detected = %v, want HIGH", v)
	}
	tr.deliver(t, "tinkerforge/callback/motion_detector_v2_bricklet/md/detection_cycle_ended", ``)
	if v := c.Channel("md", "motion").Value(); v != Low {
		t.Errorf("motion after detection_cycle_ended = %v, want LOW", v)
	}
}

func TestOutdoorWeatherExternalStations(t *testing.T) {
	c, tr := connectedClient(t)
	dev, err := c.AddDevice(DeviceInfo{UID: "ow", DeviceType: DeviceOutdoorWeather})
	if err != nil {
		t.Fatal(err)
	}
	dev.SetDeviceConfig(map[string]any{ConfigStationID: 12})
	l := &recordingListener{}
	c.RegisterCallbackListener(l, "ow")

	station := `{"identifier":%d,"temperature":215,"humidity":55,"wind_speed":10,"gust_speed":20,"rain":0,"wind_direction":"ssw","battery_low":false}`
	tr.deliver(t, "tinkerforge/callback/outdoor_weather_bricklet/ow/station_data", fmt.Sprintf(station, 99))

	notes := l.notifications()
	if len(notes) != 9 {
		t.Fatalf("got %d notifications, want 9", len(notes))
	}
	for _, n := range notes {
		if n.Notifier.ExternalDeviceID != "99" {
			t.Errorf("%s: ExternalDeviceID = %q, want 99", n.Notifier.ChannelID, n.Notifier.ExternalDeviceID)
		}
	}
	if v := c.Channel("ow", "temperatureStation").Value(); v != nil {
		t.Errorf("foreign station updated channel to %v", v)
	}
}

func TestQuadRelaySetValue(t *testing.T) {
	c, tr := connectedClient(t)
	if _, err := c.AddDevice(DeviceInfo{UID: "qr", DeviceType: DeviceIndustrialQuadRelay}); err != nil {
		t.Fatal(err)
	}
	ch := c.Channel("qr", "relay2")

	if err := ch.SetValue(On); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}
	got := tr.publishedTo("tinkerforge/request/industrial_quad_relay_bricklet/qr/set_selected_values")
	want := []map[string]any{{"selection_mask": 4.0, "value_mask": 4.0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("set request mismatch (-want +got):\n%s", diff)
	}
	if len(tr.publishedTo("tinkerforge/request/industrial_quad_relay_bricklet/qr/get_value")) != 1 {
		t.Error("SetValue did not request a read-back")
	}

	tr.deliver(t, "tinkerforge/response/industrial_quad_relay_bricklet/qr/get_value", `{"value_mask":4}`)
	if v := ch.Value(); v != On {
		t.Errorf("relay2 = %v, want ON", v)
	}
	if v := c.Channel("qr", "relay0").Value(); v != Off {
		t.Errorf("relay0 = %v, want OFF", v)
	}

	// monoflop_done only touches selected relays
	tr.deliver(t, "tinkerforge/callback/industrial_quad_relay_bricklet/qr/monoflop_done", `{"selection_mask":1,"value_mask":1}`)
	if v := c.Channel("qr", "relay0").Value(); v != On {
		t.Errorf("relay0 after monoflop = %v, want ON", v)
	}
	if v := ch.Value(); v != On {
		t.Errorf("relay2 after monoflop = %v, want unchanged ON", v)
	}

	if err := ch.SetValue(DecimalValue(1)); !errors.Is(err, ErrValueKind) {
		t.Errorf("SetValue(decimal) error = %v, want ErrValueKind", err)
	}
}

func TestSensorChannelRejectsSetValue(t *testing.T) {
	c := NewClient(Options{})
	if _, err := c.AddDevice(DeviceInfo{UID: "t", DeviceType: DeviceTemperature}); err != nil {
		t.Fatal(err)
	}
	err := c.Channel("t", "temperature").SetValue(DecimalValue(1))
	if !errors.Is(err, ErrNotActuator) {
		t.Errorf("SetValue() error = %v, want ErrNotActuator", err)
	}
}

func TestEnableRegistersCallbacks(t *testing.T) {
	c, tr := connectedClient(t)
	dev, err := c.AddDevice(DeviceInfo{UID: "uv", DeviceType: DeviceUVLightV2})
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.Channel("uva").SetConfig(map[string]any{"period": 1000}); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	if err := dev.Enable(); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if !dev.Enabled() {
		t.Error("Enabled() = false")
	}

	for _, cb := range []string{"uva", "uvb", "uvi"} {
		got := tr.publishedTo("tinkerforge/register/uv_light_v2_bricklet/uv/" + cb)
		if len(got) != 1 || got[0]["register"] != true {
			t.Errorf("register %s = %v", cb, got)
		}
	}
	if got := tr.publishedTo("tinkerforge/request/uv_light_v2_bricklet/uv/set_uva_callback_configuration"); len(got) != 1 || got[0]["period"] != 1000.0 {
		t.Errorf("config request = %v", got)
	}

	if err := dev.Disable(); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}
	if got := tr.publishedTo("tinkerforge/register/uv_light_v2_bricklet/uv/uva"); len(got) != 2 || got[1]["register"] != false {
		t.Errorf("unregister uva = %v", got)
	}
}

func TestConnectionListeners(t *testing.T) {
	c := NewClient(Options{})
	var states []bool
	c.OnConnectionChange(func(connected bool) { states = append(states, connected) })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.SetConnected(true)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]bool{true, false}, states); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}
}

func TestTransportChanged(t *testing.T) {
	c, tr := connectedClient(t)
	var states []bool
	c.OnConnectionChange(func(connected bool) { states = append(states, connected) })
	setTransport := func(connected bool) {
		tr.mu.Lock()
		tr.connected = connected
		tr.mu.Unlock()
	}

	setTransport(false)
	if err := c.TransportChanged(context.Background(), false); err != nil {
		t.Fatalf("TransportChanged(false) error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after transport loss")
	}
	if err := c.TransportChanged(context.Background(), true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("TransportChanged(true) on a dead transport error = %v, want ErrNotConnected", err)
	}

	setTransport(true)
	if err := c.TransportChanged(context.Background(), true); err != nil {
		t.Fatalf("TransportChanged(true) error = %v", err)
	}
	if !c.IsConnected() {
		t.Error("IsConnected() = false after reconnect")
	}
	if got := tr.publishedTo("tinkerforge/request/ip_connection/enumerate"); len(got) != 2 {
		t.Errorf("enumerate requests = %d, want 2", len(got))
	}
	if got := tr.publishedTo("tinkerforge/register/ip_connection/enumerate"); len(got) != 2 {
		t.Errorf("enumerate registrations = %d, want 2", len(got))
	}
	if diff := cmp.Diff([]bool{false, true}, states); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}
}

func TestListenerMayCallBackIntoClient(t *testing.T) {
	c := NewClient(Options{})
	if _, err := c.AddDevice(DeviceInfo{UID: "t", DeviceType: DeviceTemperature}); err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	fn := listenerFunc(func(n *Notifier, _, _ Value) {
		_ = c.Channel(n.DeviceID, n.ChannelID).Value()
		c.UnregisterCallbackListener(nil, n.DeviceID)
		close(done)
	})
	c.RegisterCallbackListener(&fn, "t")
	go c.Dispatch("t", "temperature", "", DecimalValue(1))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener deadlocked calling back into the client")
	}
}

type listenerFunc func(n *Notifier, oldValue, newValue Value)

func (f *listenerFunc) Notify(n *Notifier, oldValue, newValue Value) { (*f)(n, oldValue, newValue) }
