package brickd

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

// mockTransport records publishes and lets tests inject proxy messages.
type mockTransport struct {
	mu            sync.Mutex
	connected     bool
	published     []publishedMessage
	subscriptions map[string]func(topic string, payload []byte)
	publishErr    error
}

type publishedMessage struct {
	Topic   string
	Payload []byte
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		connected:     true,
		subscriptions: make(map[string]func(string, []byte)),
	}
}

func (m *mockTransport) Publish(topic string, payload []byte, _ byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, publishedMessage{Topic: topic, Payload: payload})
	return nil
}

func (m *mockTransport) Subscribe(topic string, _ byte, handler func(string, []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[topic] = handler
	return nil
}

func (m *mockTransport) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, topic)
	return nil
}

func (m *mockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// deliver routes a message to the matching subscription, honouring the
// single-level "+" wildcard.
func (m *mockTransport) deliver(t *testing.T, topic string, payload string) {
	t.Helper()
	m.mu.Lock()
	var handler func(string, []byte)
	for pattern, h := range m.subscriptions {
		if topicMatches(pattern, topic) {
			handler = h
			break
		}
	}
	m.mu.Unlock()
	if handler == nil {
		t.Fatalf("no subscription matches %s", topic)
	}
	handler(topic, []byte(payload))
}

func (m *mockTransport) publishedTo(topic string) []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []map[string]any
	for _, p := range m.published {
		if p.Topic == topic {
			var body map[string]any
			_ = json.Unmarshal(p.Payload, &body) //nolint:errcheck // test helper
			out = append(out, body)
		}
	}
	return out
}

func topicMatches(pattern, topic string) bool {
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	if len(pp) != len(tp) {
		return false
	}
	for i := range pp {
		if pp[i] != "+" && pp[i] != tp[i] {
			return false
		}
	}
	return true
}

// recordingListener records notifications and device changes.
type recordingListener struct {
	mu      sync.Mutex
	notes   []notification
	changes []DeviceChangeType
	infos   []DeviceInfo
}

type notification struct {
	Notifier Notifier
	Old, New Value
}

func (r *recordingListener) Notify(n *Notifier, oldValue, newValue Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, notification{Notifier: *n, Old: oldValue, New: newValue})
}

func (r *recordingListener) DeviceChanged(change DeviceChangeType, info *DeviceInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
	r.infos = append(r.infos, *info)
}

func (r *recordingListener) notifications() []notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification(nil), r.notes...)
}
