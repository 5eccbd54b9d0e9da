package binding

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nerrad567/tinkerforge-bridge/internal/brickd"
	"github.com/nerrad567/tinkerforge-bridge/internal/bridges/tinkerforge"
	"github.com/nerrad567/tinkerforge-bridge/internal/thing"
)

func TestNew_RequiresRegistry(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() without registry should fail")
	}
}

func TestStart_BringsThingsOnline(t *testing.T) {
	env := newTestEnv(t, bridgeThing(), deviceThing("temp-office", "temperature", "t1", "temperature"))
	env.addDevice(t, "t1", brickd.DeviceTemperature)
	env.start(t)

	h, ok := env.binding.Handler("temp-office")
	if !ok {
		t.Fatal("no handler for temp-office")
	}
	if !h.Status().Online() {
		t.Fatalf("handler status = %s, want ONLINE", h.Status())
	}
	if got := env.storedThing(t, "temp-office").Status; got != thing.StatusOnline {
		t.Errorf("stored status = %s, want ONLINE", got)
	}
	if got := env.storedThing(t, "brickd").Status; got != thing.StatusOnline {
		t.Errorf("stored bridge status = %s, want ONLINE", got)
	}

	msgs := env.mqtt.publishedTo("tfbridge/status/temp-office")
	if len(msgs) == 0 {
		t.Fatal("no status published")
	}
	last := msgs[len(msgs)-1]
	if !last.retained || last.qos != 1 {
		t.Errorf("status message retained=%v qos=%d, want retained QoS 1", last.retained, last.qos)
	}
	if msg := decode[StatusMessage](t, last.payload); msg.Status != thing.StatusOnline {
		t.Errorf("published status = %s, want ONLINE", msg.Status)
	}
	if !env.mqtt.hasSubscription("tfbridge/command/+/+") {
		t.Error("command topic not subscribed")
	}

	stats := env.binding.Stats()
	if stats.Things != 1 || stats.ThingsOnline != 1 || stats.Bridges != 1 || stats.BridgesOnline != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestStart_Idempotent(t *testing.T) {
	env := newTestEnv(t, bridgeThing())
	env.start(t)
	env.start(t)

	if got := env.binding.Stats().Bridges; got != 1 {
		t.Errorf("Bridges = %d, want 1", got)
	}
}

func TestStateUpdated_PublishesLinkedChannel(t *testing.T) {
	env := newTestEnv(t, bridgeThing(), deviceThing("temp-office", "temperature", "t1", "temperature"))
	env.addDevice(t, "t1", brickd.DeviceTemperature)
	env.start(t)

	env.brickd.Dispatch("t1", "temperature", "", brickd.DecimalValue(2350))

	msgs := env.mqtt.publishedTo("tfbridge/state/temp-office/temperature")
	if len(msgs) != 1 {
		t.Fatalf("state messages = %d, want 1", len(msgs))
	}
	if !msgs[0].retained {
		t.Error("state message should be retained")
	}
	msg := decode[StateMessage](t, msgs[0].payload)
	if msg.State.Value != 23.5 || msg.State.Unit != "°C" || msg.State.Type != thing.TypeQuantity {
		t.Errorf("published state = %+v, want 23.5 °C", msg.State)
	}

	stored := env.storedThing(t, "temp-office").ChannelStates["temperature"]
	if stored.Value != 23.5 {
		t.Errorf("stored state = %+v, want 23.5", stored)
	}

	history, err := env.history.GetHistory(context.Background(), thing.HistoryQuery{ThingID: "temp-office", ChannelID: "temperature", Limit: 10})
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 1 || history[0].Source != thing.HistorySourceCallback {
		t.Errorf("history = %+v, want one callback entry", history)
	}

	want := []telemetryPoint{{thingID: "temp-office", channelID: "temperature", thingType: "temperature", value: 23.5}}
	if diff := cmp.Diff(want, env.telemetry.statePoints(), cmp.AllowUnexported(telemetryPoint{})); diff != "" {
		t.Errorf("telemetry mismatch (-want +got):\n%s", diff)
	}
	if env.events.count(EventChannelState) != 1 {
		t.Errorf("channel state events = %d, want 1", env.events.count(EventChannelState))
	}
	if got := env.binding.Stats().StatesPublished; got != 1 {
		t.Errorf("StatesPublished = %d, want 1", got)
	}
}

func TestStateUpdated_DropsUnlinkedChannel(t *testing.T) {
	env := newTestEnv(t, bridgeThing(), deviceThing("ir-oven", "temperatureir", "ir1", "objectTemperature"))
	env.addDevice(t, "ir1", brickd.DeviceTemperatureIR)
	env.start(t)

	env.brickd.Dispatch("ir1", "ambientTemperature", "", brickd.DecimalValue(215))

	if msgs := env.mqtt.publishedTo("tfbridge/state/ir-oven/ambientTemperature"); len(msgs) != 0 {
		t.Errorf("unlinked channel published %d states", len(msgs))
	}
	if _, ok := env.storedThing(t, "ir-oven").ChannelStates["ambientTemperature"]; ok {
		t.Error("unlinked channel state stored")
	}
	if len(env.telemetry.statePoints()) != 0 {
		t.Error("unlinked channel written to telemetry")
	}
}

func TestLinkChannel_PublishesCurrentState(t *testing.T) {
	env := newTestEnv(t, bridgeThing(), deviceThing("temp-office", "temperature", "t1"))
	env.addDevice(t, "t1", brickd.DeviceTemperature)
	env.start(t)
	env.brickd.Dispatch("t1", "temperature", "", brickd.DecimalValue(2100))

	if msgs := env.mqtt.publishedTo("tfbridge/state/temp-office/temperature"); len(msgs) != 0 {
		t.Fatalf("state published before link: %d", len(msgs))
	}

	ctx := context.Background()
	added, err := env.binding.LinkChannel(ctx, "temp-office", "temperature")
	if err != nil || !added {
		t.Fatalf("LinkChannel() = %v, %v; want true, nil", added, err)
	}

	msgs := env.mqtt.publishedTo("tfbridge/state/temp-office/temperature")
	if len(msgs) != 1 {
		t.Fatalf("state messages after link = %d, want 1", len(msgs))
	}
	if msg := decode[StateMessage](t, msgs[0].payload); msg.State.Value != 21.0 {
		t.Errorf("linked state = %v, want 21", msg.State.Value)
	}

	history, err := env.history.GetHistory(ctx, thing.HistoryQuery{ThingID: "temp-office", ChannelID: "temperature", Limit: 10})
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 1 || history[0].Source != thing.HistorySourceRefresh {
		t.Errorf("history = %+v, want one refresh entry", history)
	}

	added, err = env.binding.LinkChannel(ctx, "temp-office", "temperature")
	if err != nil || added {
		t.Errorf("second LinkChannel() = %v, %v; want false, nil", added, err)
	}

	removed, err := env.binding.UnlinkChannel(ctx, "temp-office", "temperature")
	if err != nil || !removed {
		t.Errorf("UnlinkChannel() = %v, %v; want true, nil", removed, err)
	}
}

func TestLinkChannel_Errors(t *testing.T) {
	env := newTestEnv(t, bridgeThing(), deviceThing("temp-office", "temperature", "t1"))
	env.start(t)
	ctx := context.Background()

	if _, err := env.binding.LinkChannel(ctx, "temp-office", "humidity"); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("LinkChannel(unknown channel) error = %v, want ErrUnknownChannel", err)
	}
	if _, err := env.binding.LinkChannel(ctx, "missing", "temperature"); !errors.Is(err, thing.ErrThingNotFound) {
		t.Errorf("LinkChannel(missing thing) error = %v, want ErrThingNotFound", err)
	}
}

func TestTypeMismatch_RaisesDiagnostic(t *testing.T) {
	env := newTestEnv(t, bridgeThing(), deviceThing("temp-office", "temperature", "t1", "temperature"))
	env.addDevice(t, "t1", brickd.DeviceTemperature)
	env.start(t)

	env.brickd.Dispatch("t1", "temperature", "", brickd.High)

	if msgs := env.mqtt.publishedTo("tfbridge/state/temp-office/temperature"); len(msgs) != 0 {
		t.Errorf("mismatched value published %d states", len(msgs))
	}
	diags := env.binding.Diagnostics()
	if len(diags) != 1 {
		t.Fatalf("Diagnostics() = %d, want 1", len(diags))
	}
	if diags[0].Kind != thing.DiagnosticTypeMismatch || diags[0].ChannelID != "temperature" {
		t.Errorf("diagnostic = %+v", diags[0])
	}
	if msgs := env.mqtt.publishedTo("tfbridge/diagnostic/temp-office"); len(msgs) != 1 {
		t.Errorf("diagnostic messages = %d, want 1", len(msgs))
	}
	if env.events.count(EventDiagnostic) != 1 {
		t.Errorf("diagnostic events = %d, want 1", env.events.count(EventDiagnostic))
	}
	if got := env.binding.Stats().Diagnostics; got != 1 {
		t.Errorf("Stats().Diagnostics = %d, want 1", got)
	}
}

func TestDiagnose_KeepsMostRecent(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < maxDiagnostics+5; i++ {
		env.binding.Diagnose(thing.Diagnostic{ID: string(rune('a' + i%26)), ThingID: "x", ChannelID: "c"})
	}
	if got := len(env.binding.Diagnostics()); got != maxDiagnostics {
		t.Errorf("Diagnostics() = %d, want %d", got, maxDiagnostics)
	}
	if got := env.binding.Stats().Diagnostics; got != maxDiagnostics+5 {
		t.Errorf("Stats().Diagnostics = %d, want %d", got, maxDiagnostics+5)
	}
}

func TestChannelTriggered_PublishesEvent(t *testing.T) {
	env := newTestEnv(t)
	env.binding.ChannelTriggered("touch-hall", "electrode3", thing.Pressed)

	msgs := env.mqtt.publishedTo("tfbridge/trigger/touch-hall/electrode3")
	if len(msgs) != 1 {
		t.Fatalf("trigger messages = %d, want 1", len(msgs))
	}
	if msgs[0].retained {
		t.Error("trigger message should not be retained")
	}
	if msg := decode[TriggerMessage](t, msgs[0].payload); msg.Event != thing.Pressed {
		t.Errorf("event = %s, want PRESSED", msg.Event)
	}
	if env.events.count(EventTriggered) != 1 {
		t.Error("trigger event not broadcast")
	}
}

func TestBridgeStart_RetriesWaitingThings(t *testing.T) {
	env := newTestEnv(t, deviceThing("temp-office", "temperature", "t1", "temperature"))
	env.addDevice(t, "t1", brickd.DeviceTemperature)
	env.start(t)

	h, _ := env.binding.Handler("temp-office")
	if got := h.Status().Detail; got != thing.DetailBridgeUninitialized {
		t.Fatalf("status detail = %s, want BRIDGE_UNINITIALIZED", got)
	}

	if err := env.binding.AddThing(context.Background(), bridgeThing()); err != nil {
		t.Fatalf("AddThing(bridge) error = %v", err)
	}
	if !h.Status().Online() {
		t.Errorf("status after bridge start = %s, want ONLINE", h.Status())
	}
}

func TestTransportChanged_BridgeOfflineThenReEnumerates(t *testing.T) {
	env := newTestEnv(t, bridgeThing(), deviceThing("temp-office", "temperature", "t1", "temperature"))
	env.brickd = brickd.NewClient(brickd.Options{Transport: env.mqtt})
	env.addDevice(t, "t1", brickd.DeviceTemperature)
	env.start(t)
	ctx := context.Background()

	const (
		enumerateTopic = "tinkerforge/request/ip_connection/enumerate"
		registerTopic  = "tinkerforge/register/temperature_bricklet/t1/temperature"
	)
	h, ok := env.binding.Handler("temp-office")
	if !ok {
		t.Fatal("no handler for temp-office")
	}
	if !h.Status().Online() {
		t.Fatalf("handler status = %s, want ONLINE", h.Status())
	}

	env.mqtt.setConnected(false)
	env.binding.TransportChanged(ctx, false)

	br, _ := env.binding.Bridge("brickd")
	if got := br.Status(); got.Status != thing.StatusOffline || got.Detail != thing.DetailCommunicationError {
		t.Errorf("bridge status = %s, want OFFLINE (COMMUNICATION_ERROR)", got)
	}
	if got := h.Status(); got.Status != thing.StatusOffline || got.Detail != thing.DetailBridgeOffline {
		t.Errorf("handler status = %s, want OFFLINE (BRIDGE_OFFLINE)", got)
	}
	if got := env.storedThing(t, "temp-office").Status; got != thing.StatusOffline {
		t.Errorf("stored status = %s, want OFFLINE", got)
	}
	if got := env.binding.Stats().BridgesOnline; got != 0 {
		t.Errorf("BridgesOnline = %d, want 0", got)
	}

	env.mqtt.setConnected(true)
	env.binding.TransportChanged(ctx, true)

	if got := len(env.mqtt.publishedTo(enumerateTopic)); got != 2 {
		t.Errorf("enumerate requests = %d, want 2", got)
	}
	var registrations []bool
	for _, msg := range env.mqtt.publishedTo(registerTopic) {
		registrations = append(registrations, decode[map[string]bool](t, msg.payload)["register"])
	}
	if diff := cmp.Diff([]bool{true, true}, registrations); diff != "" {
		t.Errorf("callback registrations mismatch (-want +got):\n%s", diff)
	}
	if !br.Status().Online() {
		t.Errorf("bridge status after reconnect = %s, want ONLINE", br.Status())
	}
	if !h.Status().Online() {
		t.Errorf("handler status after reconnect = %s, want ONLINE", h.Status())
	}
}

func TestTransportChanged_IgnoredBeforeStart(t *testing.T) {
	env := newTestEnv(t, bridgeThing())
	env.binding.TransportChanged(context.Background(), false)

	if got := env.binding.Stats().Bridges; got != 0 {
		t.Errorf("Bridges = %d, want 0", got)
	}
	if msgs := env.mqtt.publishedTo("tfbridge/status/brickd"); len(msgs) != 0 {
		t.Errorf("published %d bridge statuses before Start", len(msgs))
	}
}

func TestAddThing_StartsHandler(t *testing.T) {
	env := newTestEnv(t, bridgeThing())
	env.addDevice(t, "r1", brickd.DeviceIndustrialQuadRelay)
	env.start(t)

	if err := env.binding.AddThing(context.Background(), deviceThing("relay-hall", "industrialquadrelay", "r1")); err != nil {
		t.Fatalf("AddThing() error = %v", err)
	}
	h, ok := env.binding.Handler("relay-hall")
	if !ok || !h.Status().Online() {
		t.Fatalf("relay-hall handler = %v, %v; want ONLINE", ok, h)
	}

	err := env.binding.AddThing(context.Background(), deviceThing("relay-hall", "industrialquadrelay", "r1"))
	if !errors.Is(err, thing.ErrThingExists) {
		t.Errorf("duplicate AddThing() error = %v, want ErrThingExists", err)
	}
}

func TestRemoveThing(t *testing.T) {
	env := newTestEnv(t, bridgeThing(), deviceThing("temp-office", "temperature", "t1"))
	env.addDevice(t, "t1", brickd.DeviceTemperature)
	env.start(t)
	ctx := context.Background()

	if err := env.binding.RemoveThing(ctx, "brickd"); !errors.Is(err, ErrBridgeInUse) {
		t.Fatalf("RemoveThing(bridge in use) error = %v, want ErrBridgeInUse", err)
	}

	if err := env.binding.RemoveThing(ctx, "temp-office"); err != nil {
		t.Fatalf("RemoveThing() error = %v", err)
	}
	if _, ok := env.binding.Handler("temp-office"); ok {
		t.Error("handler still running after RemoveThing")
	}
	if got := env.brickd.ListenerCount("t1"); got != 0 {
		t.Errorf("ListenerCount(t1) = %d, want 0", got)
	}
	if _, err := env.registry.GetThing(ctx, "temp-office"); !errors.Is(err, thing.ErrThingNotFound) {
		t.Errorf("GetThing() after remove error = %v, want ErrThingNotFound", err)
	}

	if err := env.binding.RemoveThing(ctx, "brickd"); err != nil {
		t.Errorf("RemoveThing(bridge) error = %v", err)
	}
	if _, ok := env.binding.Bridge("brickd"); ok {
		t.Error("bridge still running after RemoveThing")
	}
}

func TestUnsupportedThingType(t *testing.T) {
	env := newTestEnv(t, &thing.Thing{ID: "mystery", ThingType: "lcd128x64", Config: thing.Config{}})
	env.start(t)

	stored := env.storedThing(t, "mystery")
	if stored.Status != thing.StatusOffline || stored.StatusDetail != thing.DetailConfigurationError {
		t.Errorf("status = %s/%s, want OFFLINE/CONFIGURATION_ERROR", stored.Status, stored.StatusDetail)
	}

	err := env.binding.SendCommand(context.Background(), "mystery", "x", thing.Refresh)
	if !errors.Is(err, ErrNoHandler) {
		t.Errorf("SendCommand() error = %v, want ErrNoHandler", err)
	}
}

func TestSendCommand(t *testing.T) {
	env := newTestEnv(t, bridgeThing(), deviceThing("relay-hall", "industrialquadrelay", "r1", "relay0"))
	env.addDevice(t, "r1", brickd.DeviceIndustrialQuadRelay)
	ctx := context.Background()

	if err := env.binding.SendCommand(ctx, "relay-hall", "relay0", thing.On); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("SendCommand() before Start error = %v, want ErrNotStarted", err)
	}
	env.start(t)

	tests := []struct {
		name    string
		thingID string
		channel string
		cmd     thing.Command
		wantErr error
	}{
		{name: "switch relay", thingID: "relay-hall", channel: "relay0", cmd: thing.On},
		{name: "refresh", thingID: "relay-hall", channel: "relay0", cmd: thing.Refresh},
		{name: "unknown channel", thingID: "relay-hall", channel: "relay9", cmd: thing.On, wantErr: tinkerforge.ErrUnknownChannel},
		{name: "unknown thing", thingID: "nope", channel: "relay0", cmd: thing.On, wantErr: thing.ErrThingNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.binding.SendCommand(ctx, tt.thingID, tt.channel, tt.cmd)
			if tt.wantErr == nil && err != nil {
				t.Errorf("SendCommand() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("SendCommand() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStop(t *testing.T) {
	env := newTestEnv(t, bridgeThing(), deviceThing("temp-office", "temperature", "t1"))
	env.addDevice(t, "t1", brickd.DeviceTemperature)
	env.start(t)

	env.binding.Stop()
	env.binding.Stop()

	if env.brickd.ListenerCount("t1") != 0 {
		t.Error("device listener still registered after Stop")
	}
	if env.mqtt.hasSubscription("tfbridge/command/+/+") {
		t.Error("command subscription kept after Stop")
	}
	if err := env.binding.SendCommand(context.Background(), "temp-office", "temperature", thing.Refresh); !errors.Is(err, ErrNotStarted) {
		t.Errorf("SendCommand() after Stop error = %v, want ErrNotStarted", err)
	}
}

func TestEnergySwitchThing(t *testing.T) {
	plug := &thing.Thing{
		ID:             "plug-desk",
		ThingType:      "hs110",
		Config:         thing.Config{"topic": "plugs/desk/realtime"},
		LinkedChannels: []string{"energyPower"},
	}
	env := newTestEnv(t, plug)
	env.start(t)

	if !env.mqtt.hasSubscription("plugs/desk/realtime") {
		t.Fatal("realtime topic not subscribed")
	}
	env.mqtt.deliver("plugs/desk/realtime", `{"emeter":{"get_realtime":{"current":0.2,"voltage":230.1,"power":35.5,"total":1.25,"err_code":0}}}`)

	msgs := env.mqtt.publishedTo("tfbridge/state/plug-desk/energyPower")
	if len(msgs) != 1 {
		t.Fatalf("energyPower states = %d, want 1", len(msgs))
	}
	if msg := decode[StateMessage](t, msgs[0].payload); msg.State.Value != 35.5 || msg.State.Unit != "W" {
		t.Errorf("energyPower state = %+v, want 35.5 W", msg.State)
	}
	if got := env.storedThing(t, "plug-desk").Status; got != thing.StatusOnline {
		t.Errorf("status = %s, want ONLINE", got)
	}
}

func TestChannels(t *testing.T) {
	got, ok := Channels("industrialquadrelay")
	if !ok {
		t.Fatal("Channels(industrialquadrelay) not found")
	}
	if diff := cmp.Diff([]string{"relay0", "relay1", "relay2", "relay3"}, got); diff != "" {
		t.Errorf("Channels mismatch (-want +got):\n%s", diff)
	}
	if got, ok := Channels("hs110"); !ok || len(got) != 4 {
		t.Errorf("Channels(hs110) = %v, %v", got, ok)
	}
	if _, ok := Channels("unknown"); ok {
		t.Error("Channels(unknown) should not be found")
	}
}
