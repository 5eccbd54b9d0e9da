package tinkerforge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tinkerforge-bridge/internal/brickd"
	"github.com/nerrad567/tinkerforge-bridge/internal/thing"
)

type stateUpdate struct {
	ThingID   string
	ChannelID string
	State     thing.State
}

type triggerUpdate struct {
	ThingID   string
	ChannelID string
	Event     thing.TriggerEvent
}

// recordingCallback implements thing.Callback and thing.DiagnosticSink.
type recordingCallback struct {
	mu          sync.Mutex
	statuses    []thing.StatusInfo
	states      []stateUpdate
	triggers    []triggerUpdate
	diagnostics []thing.Diagnostic
	linked      map[string]bool
}

func newRecordingCallback(linked ...string) *recordingCallback {
	cb := &recordingCallback{linked: make(map[string]bool)}
	for _, ch := range linked {
		cb.linked[ch] = true
	}
	return cb
}

func (r *recordingCallback) StatusUpdated(_ string, info thing.StatusInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, info)
}

func (r *recordingCallback) StateUpdated(thingID, channelID string, state thing.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, stateUpdate{ThingID: thingID, ChannelID: channelID, State: state})
}

func (r *recordingCallback) ChannelTriggered(thingID, channelID string, event thing.TriggerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers = append(r.triggers, triggerUpdate{ThingID: thingID, ChannelID: channelID, Event: event})
}

func (r *recordingCallback) IsLinked(_, channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.linked[channelID]
}

func (r *recordingCallback) Diagnose(d thing.Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diagnostics = append(r.diagnostics, d)
}

func (r *recordingCallback) stateUpdates() []stateUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]stateUpdate, len(r.states))
	copy(out, r.states)
	return out
}

func (r *recordingCallback) triggerUpdates() []triggerUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]triggerUpdate, len(r.triggers))
	copy(out, r.triggers)
	return out
}

func (r *recordingCallback) statusHistory() []thing.StatusInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]thing.StatusInfo, len(r.statuses))
	copy(out, r.statuses)
	return out
}

func (r *recordingCallback) diagnosticCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.diagnostics)
}

func (r *recordingCallback) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = nil
	r.states = nil
	r.triggers = nil
	r.diagnostics = nil
}

// fakeTransport records proxy requests published by the client.
type fakeTransport struct {
	mu        sync.Mutex
	published []publishedMessage
}

type publishedMessage struct {
	Topic   string
	Payload map[string]any
}

func (f *fakeTransport) Publish(topic string, payload []byte, _ byte, _ bool) error {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMessage{Topic: topic, Payload: body})
	return nil
}

func (f *fakeTransport) Subscribe(string, byte, func(string, []byte)) error { return nil }
func (f *fakeTransport) Unsubscribe(string) error                           { return nil }
func (f *fakeTransport) IsConnected() bool                                  { return true }

func (f *fakeTransport) publishedTo(topic string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, m := range f.published {
		if m.Topic == topic {
			out = append(out, m.Payload)
		}
	}
	return out
}

// newOnlineBridge returns an initialized bridge over an in-memory client.
func newOnlineBridge(t *testing.T) *BridgeHandler {
	t.Helper()
	b := newBridge(t, brickd.NewClient(brickd.Options{}))
	b.Initialize(context.Background())
	if !b.Status().Online() {
		t.Fatalf("bridge status = %s, want ONLINE", b.Status())
	}
	return b
}

func newBridge(t *testing.T, client *brickd.Client) *BridgeHandler {
	t.Helper()
	b, err := NewBridgeHandler(BridgeOptions{ThingID: "brickd-1", Client: client})
	if err != nil {
		t.Fatalf("NewBridgeHandler() error = %v", err)
	}
	t.Cleanup(b.Dispose)
	return b
}

func addDevice(t *testing.T, b *BridgeHandler, uid, thingType string) *brickd.Device {
	t.Helper()
	dev, err := b.Brickd().AddDevice(brickd.DeviceInfo{UID: uid, DeviceType: brickd.DeviceType(thingType)})
	if err != nil {
		t.Fatalf("AddDevice(%s, %s) error = %v", uid, thingType, err)
	}
	return dev
}

func testThing(id, thingType, uid string) *thing.Thing {
	bridgeID := "brickd-1"
	cfg := thing.Config{}
	if uid != "" {
		cfg[thing.ConfigKeyUID] = uid
	}
	return &thing.Thing{
		ID:        id,
		Label:     id,
		ThingType: thingType,
		BridgeID:  &bridgeID,
		Config:    cfg,
	}
}

func newTestHandler(t *testing.T, th *thing.Thing, bridge *BridgeHandler, cb *recordingCallback) *Handler {
	t.Helper()
	ref := NewBridgeRef(func() (*BridgeHandler, bool) { return bridge, bridge != nil })
	h, err := NewHandler(HandlerOptions{Thing: th, Bridge: ref, Callback: cb, Diagnostics: cb})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	t.Cleanup(h.Dispose)
	return h
}

// sampleValue returns a device value of the channel's kind.
func sampleValue(spec ChannelSpec) brickd.Value {
	switch spec.Kind {
	case brickd.KindDecimal:
		return brickd.DecimalValue(235)
	case brickd.KindHighLow:
		return brickd.High
	case brickd.KindOnOff:
		return brickd.On
	case brickd.KindDateTime:
		return brickd.DateTimeValue{Time: time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)}
	default:
		return nil
	}
}

// wrongValue returns a device value of a kind the channel does not accept.
func wrongValue(spec ChannelSpec) brickd.Value {
	if spec.Kind == brickd.KindDecimal {
		return brickd.Low
	}
	return brickd.DecimalValue(1)
}

// deviceTypes returns every non-bridge entry of the table.
func deviceTypes() []DeviceTypeSpec {
	var out []DeviceTypeSpec
	for _, d := range DeviceTypes {
		if !d.Bridge {
			out = append(out, d)
		}
	}
	return out
}
