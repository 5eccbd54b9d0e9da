package brickd

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// MQTT quality of service levels used towards the proxy.
const (
	qosRequest  byte = 1
	qosCallback byte = 0
)

// Transport is the MQTT connection the client talks to the proxy through.
// This allows mocking in tests and flexibility in implementation.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Logger defines the logging interface used by the client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// CallbackListener receives value changes of the devices it registered for.
type CallbackListener interface {
	Notify(notifier *Notifier, oldValue, newValue Value)
}

// DeviceAdminListener receives device additions and removals.
type DeviceAdminListener interface {
	DeviceChanged(change DeviceChangeType, info *DeviceInfo)
}

// Options configures a Client.
type Options struct {
	// Transport is the MQTT connection. A nil transport gives an
	// in-memory client whose devices are fed through AddDevice and Dispatch.
	Transport Transport

	// TopicPrefix of the proxy (default "tinkerforge").
	TopicPrefix string

	Logger Logger
}

// Client tracks the devices behind a brickd proxy and fans their value
// changes out to listeners.
//
// Thread Safety: all methods are safe for concurrent use. Listeners are
// called without any client lock held and may call back into the client.
type Client struct {
	transport Transport
	topics    Topics

	mu                sync.RWMutex
	devices           map[string]*Device
	callbackListeners map[string][]CallbackListener
	adminListeners    []DeviceAdminListener
	connListeners     []func(connected bool)
	connected         bool
	subscribed        bool

	logger   Logger
	loggerMu sync.RWMutex
}

// NewClient creates a client. Call Connect to start receiving devices.
func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Client{
		transport:         opts.Transport,
		topics:            NewTopics(opts.TopicPrefix),
		devices:           make(map[string]*Device),
		callbackListeners: make(map[string][]CallbackListener),
		logger:            logger,
	}
}

// SetLogger sets the logger.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	c.logger = logger
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// Topics returns the proxy topic builders.
func (c *Client) Topics() Topics { return c.topics }

// Connect subscribes to the proxy topics and requests an enumeration.
// Devices appear asynchronously as enumerate callbacks arrive.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.transport == nil {
		c.SetConnected(true)
		return nil
	}
	if !c.transport.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	needSubscribe := !c.subscribed
	c.subscribed = true
	c.mu.Unlock()

	if needSubscribe {
		subs := []struct {
			topic   string
			handler func(string, []byte)
		}{
			{c.topics.Enumerate(), c.handleEnumerate},
			{c.topics.AllCallbacks(), c.handleDeviceMessage},
			{c.topics.AllResponses(), c.handleDeviceMessage},
		}
		for _, s := range subs {
			if err := c.transport.Subscribe(s.topic, qosCallback, s.handler); err != nil {
				c.mu.Lock()
				c.subscribed = false
				c.mu.Unlock()
				return fmt.Errorf("subscribing %s: %w", s.topic, err)
			}
		}
	}

	if err := c.Enumerate(); err != nil {
		return err
	}
	c.SetConnected(true)
	return nil
}

// Enumerate asks the proxy to announce every connected device.
func (c *Client) Enumerate() error {
	if c.transport == nil {
		return nil
	}
	if err := c.publish(c.topics.EnumerateRegister(), map[string]any{"register": true}); err != nil {
		return fmt.Errorf("registering enumerate: %w", err)
	}
	if err := c.publish(c.topics.EnumerateRequest(), map[string]any{}); err != nil {
		return fmt.Errorf("requesting enumerate: %w", err)
	}
	return nil
}

// Close unsubscribes from the proxy and reports the client disconnected.
// Known devices are kept; a new Connect re-enumerates them.
func (c *Client) Close() error {
	c.mu.Lock()
	wasSubscribed := c.subscribed
	c.subscribed = false
	c.mu.Unlock()

	if wasSubscribed && c.transport != nil {
		for _, topic := range []string{c.topics.Enumerate(), c.topics.AllCallbacks(), c.topics.AllResponses()} {
			if err := c.transport.Unsubscribe(topic); err != nil {
				c.getLogger().Warn("unsubscribing from proxy topic", "topic", topic, "error", err)
			}
		}
	}
	c.SetConnected(false)
	return nil
}

// TransportChanged follows a connection change of the transport or the
// proxy behind it. A lost connection reports the client disconnected; a
// regained one re-enumerates before reporting it connected again, since the
// proxy may have forgotten every registration.
func (c *Client) TransportChanged(ctx context.Context, connected bool) error {
	if !connected {
		c.SetConnected(false)
		return nil
	}
	return c.Connect(ctx)
}

// SetConnected records a connection state change and notifies connection
// listeners when it changed. Prefer TransportChanged, which also
// re-enumerates after a reconnect.
func (c *Client) SetConnected(connected bool) {
	c.mu.Lock()
	changed := c.connected != connected
	c.connected = connected
	listeners := slices.Clone(c.connListeners)
	c.mu.Unlock()

	if !changed {
		return
	}
	c.getLogger().Info("brickd connection changed", "connected", connected)
	for _, fn := range listeners {
		fn(connected)
	}
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// OnConnectionChange registers fn to be called on connection changes.
func (c *Client) OnConnectionChange(fn func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connListeners = append(c.connListeners, fn)
}

// Device returns a device by UID, or nil when it is not known.
func (c *Client) Device(uid string) *Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.devices[uid]
}

// Channel returns a channel of a device, or nil.
func (c *Client) Channel(uid, channelID string) *Channel {
	d := c.Device(uid)
	if d == nil {
		return nil
	}
	return d.Channel(channelID)
}

// Devices returns all known devices sorted by UID.
func (c *Client) Devices() []*Device {
	c.mu.RLock()
	out := make([]*Device, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, d)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UID() < out[j].UID() })
	return out
}

// RegisterCallbackListener subscribes l to value changes of device uid.
// Registering the same listener twice has no effect.
func (c *Client) RegisterCallbackListener(l CallbackListener, uid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slices.Contains(c.callbackListeners[uid], l) {
		return
	}
	c.callbackListeners[uid] = append(c.callbackListeners[uid], l)
}

// UnregisterCallbackListener removes l from device uid.
func (c *Client) UnregisterCallbackListener(l CallbackListener, uid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ls := slices.DeleteFunc(slices.Clone(c.callbackListeners[uid]), func(x CallbackListener) bool { return x == l })
	if len(ls) == 0 {
		delete(c.callbackListeners, uid)
		return
	}
	c.callbackListeners[uid] = ls
}

// RegisterDeviceAdminListener subscribes l to device additions and removals.
func (c *Client) RegisterDeviceAdminListener(l DeviceAdminListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slices.Contains(c.adminListeners, l) {
		return
	}
	c.adminListeners = append(c.adminListeners, l)
}

// UnregisterDeviceAdminListener removes l.
func (c *Client) UnregisterDeviceAdminListener(l DeviceAdminListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adminListeners = slices.DeleteFunc(slices.Clone(c.adminListeners), func(x DeviceAdminListener) bool { return x == l })
}

// ListenerCount returns the number of callback listeners for uid.
func (c *Client) ListenerCount(uid string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.callbackListeners[uid])
}

// AddDevice records an enumerated device and tells admin listeners.
// A device that is already known keeps its channels and values.
func (c *Client) AddDevice(info DeviceInfo) (*Device, error) {
	class, ok := ClassByType(info.DeviceType)
	if !ok {
		class, ok = ClassByIdentifier(info.DeviceIdentifier)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q (identifier %d)", ErrUnknownDeviceType, info.DeviceType, info.DeviceIdentifier)
	}
	info.DeviceType = class.Type
	info.DeviceIdentifier = class.Identifier

	c.mu.Lock()
	dev, exists := c.devices[info.UID]
	if !exists || dev.class != class {
		dev = newDevice(c, info, class)
		c.devices[info.UID] = dev
	}
	listeners := slices.Clone(c.adminListeners)
	c.mu.Unlock()

	c.getLogger().Debug("device added", "uid", info.UID, "type", class.Type)
	for _, l := range listeners {
		l.DeviceChanged(DeviceAdded, &info)
	}
	return dev, nil
}

// RemoveDevice forgets a device and tells admin listeners.
func (c *Client) RemoveDevice(uid string) {
	c.mu.Lock()
	dev, ok := c.devices[uid]
	delete(c.devices, uid)
	listeners := slices.Clone(c.adminListeners)
	c.mu.Unlock()

	if !ok {
		return
	}
	info := dev.Info()
	c.getLogger().Debug("device removed", "uid", uid)
	for _, l := range listeners {
		l.DeviceChanged(DeviceRemoved, &info)
	}
}

// Dispatch delivers a new channel value to the listeners of device uid.
// Values for an external sub-device do not update the channel.
func (c *Client) Dispatch(uid, channelID, externalID string, v Value) {
	var old Value
	if externalID == "" {
		ch := c.Channel(uid, channelID)
		if ch == nil {
			c.getLogger().Debug("value for unknown channel", "uid", uid, "channel", channelID)
			return
		}
		old = ch.update(v)
	}

	c.mu.RLock()
	listeners := slices.Clone(c.callbackListeners[uid])
	c.mu.RUnlock()

	n := &Notifier{DeviceID: uid, ChannelID: channelID, ExternalDeviceID: externalID}
	for _, l := range listeners {
		l.Notify(n, old, v)
	}
}

func (c *Client) register(d *Device, callback string, enable bool) error {
	if c.transport == nil {
		return nil
	}
	return c.publish(c.topics.Register(d.class.Topic, d.UID(), callback), map[string]any{"register": enable})
}

func (c *Client) request(d *Device, function string, payload map[string]any) error {
	if c.transport == nil {
		return nil
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return c.publish(c.topics.Request(d.class.Topic, d.UID(), function), payload)
}

func (c *Client) publish(topic string, payload any) error {
	if !c.transport.IsConnected() {
		return ErrNotConnected
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", topic, err)
	}
	if err := c.transport.Publish(topic, b, qosRequest, false); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}
