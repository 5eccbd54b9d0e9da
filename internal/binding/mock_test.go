package binding

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tinkerforge-bridge/internal/brickd"
	"github.com/nerrad567/tinkerforge-bridge/internal/infrastructure/database"
	"github.com/nerrad567/tinkerforge-bridge/internal/thing"
	_ "github.com/nerrad567/tinkerforge-bridge/migrations" // schema
)

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// mockMQTT records publishes and routes delivered messages to matching
// subscriptions.
type mockMQTT struct {
	mu            sync.Mutex
	connected     bool
	messages      []publishedMessage
	subscriptions map[string]func(string, []byte)
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{connected: true, subscriptions: make(map[string]func(string, []byte))}
}

func (m *mockMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, publishedMessage{topic: topic, payload: payload, qos: qos, retained: retained})
	return nil
}

func (m *mockMQTT) Subscribe(topic string, _ byte, handler func(string, []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[topic] = handler
	return nil
}

func (m *mockMQTT) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, topic)
	return nil
}

func (m *mockMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockMQTT) setConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

func (m *mockMQTT) hasSubscription(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subscriptions[topic]
	return ok
}

// deliver calls the handler of every subscription matching topic.
func (m *mockMQTT) deliver(topic, payload string) {
	m.mu.Lock()
	var handlers []func(string, []byte)
	for filter, h := range m.subscriptions {
		if topicMatches(filter, topic) {
			handlers = append(handlers, h)
		}
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(topic, []byte(payload))
	}
}

// publishedTo returns the messages published to topic, oldest first.
func (m *mockMQTT) publishedTo(topic string) []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []publishedMessage
	for _, msg := range m.messages {
		if msg.topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

func topicMatches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) || (f != "+" && f != tp[i]) {
			return false
		}
	}
	return len(fp) == len(tp)
}

type telemetryPoint struct {
	thingID, channelID, thingType string
	value                         float64
}

// recordingTelemetry implements Telemetry.
type recordingTelemetry struct {
	mu          sync.Mutex
	states      []telemetryPoint
	statuses    []string
	diagnostics int
}

func (r *recordingTelemetry) WriteChannelState(thingID, channelID, thingType string, value float64, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, telemetryPoint{thingID, channelID, thingType, value})
}

func (r *recordingTelemetry) WriteStatusEvent(thingID, status, _, _ string, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, thingID+"="+status)
}

func (r *recordingTelemetry) WriteDiagnostic(string, string, string, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diagnostics++
}

func (r *recordingTelemetry) statePoints() []telemetryPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]telemetryPoint(nil), r.states...)
}

// recordingEvents implements EventBroadcaster.
type recordingEvents struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEvents) Broadcast(channel, _ string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, channel)
}

func (r *recordingEvents) count(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == channel {
			n++
		}
	}
	return n
}

// testEnv is a binding over a migrated SQLite database and an in-memory
// brickd client shared by every bridge.
type testEnv struct {
	binding   *Binding
	registry  *thing.Registry
	history   *thing.SQLiteStateHistoryRepository
	mqtt      *mockMQTT
	brickd    *brickd.Client
	telemetry *recordingTelemetry
	events    *recordingEvents
}

func newTestEnv(t *testing.T, things ...*thing.Thing) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "binding.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	registry := thing.NewRegistry(thing.NewSQLiteRepository(db.DB))
	for _, th := range things {
		if err := registry.CreateThing(ctx, th); err != nil {
			t.Fatalf("CreateThing(%s) error = %v", th.ID, err)
		}
	}

	env := &testEnv{
		registry:  registry,
		history:   thing.NewSQLiteStateHistoryRepository(db.DB),
		mqtt:      newMockMQTT(),
		brickd:    brickd.NewClient(brickd.Options{}),
		telemetry: &recordingTelemetry{},
		events:    &recordingEvents{},
	}
	b, err := New(Options{
		Registry:  registry,
		History:   env.history,
		MQTT:      env.mqtt,
		Telemetry: env.telemetry,
		Events:    env.events,
		Brickd:    func(*thing.Thing) *brickd.Client { return env.brickd },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(b.Stop)
	env.binding = b
	return env
}

func (e *testEnv) start(t *testing.T) {
	t.Helper()
	if err := e.binding.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

func (e *testEnv) addDevice(t *testing.T, uid string, deviceType brickd.DeviceType) {
	t.Helper()
	if _, err := e.brickd.AddDevice(brickd.DeviceInfo{UID: uid, DeviceType: deviceType}); err != nil {
		t.Fatalf("AddDevice(%s) error = %v", uid, err)
	}
}

func (e *testEnv) storedThing(t *testing.T, id string) *thing.Thing {
	t.Helper()
	th, err := e.registry.GetThing(context.Background(), id)
	if err != nil {
		t.Fatalf("GetThing(%s) error = %v", id, err)
	}
	return th
}

func bridgeThing() *thing.Thing {
	return &thing.Thing{ID: "brickd", Label: "Brick Daemon", ThingType: "brickd", Config: thing.Config{}}
}

func deviceThing(id, thingType, uid string, linked ...string) *thing.Thing {
	return &thing.Thing{
		ID:             id,
		Label:          id,
		ThingType:      thingType,
		Config:         thing.Config{thing.ConfigKeyUID: uid},
		LinkedChannels: linked,
	}
}

func decode[T any](t *testing.T, payload []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		t.Fatalf("unmarshal %s: %v", payload, err)
	}
	return v
}
