package binding

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/tinkerforge-bridge/internal/brickd"
	"github.com/nerrad567/tinkerforge-bridge/internal/bridges/tinkerforge"
	"github.com/nerrad567/tinkerforge-bridge/internal/bridges/tplink"
	"github.com/nerrad567/tinkerforge-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/tinkerforge-bridge/internal/thing"
)

const (
	// persistTimeout bounds registry and history writes made from callbacks.
	persistTimeout = 5 * time.Second

	qosState   byte = 1
	qosCommand byte = 1

	// maxDiagnostics is the number of recent diagnostics kept for the API.
	maxDiagnostics = 100
)

var (
	_ thing.Callback       = (*Binding)(nil)
	_ thing.DiagnosticSink = (*Binding)(nil)
)

// Logger defines the logging interface used by the binding.
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

// MQTTClient is the broker surface the binding needs. The same value
// serves as brickd transport and energy switch subscriber.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Telemetry receives numeric channel states and status transitions.
// Implemented by *influxdb.Client.
type Telemetry interface {
	WriteChannelState(thingID, channelID, thingType string, value float64, at time.Time)
	WriteStatusEvent(thingID, status, detail, description string, at time.Time)
	WriteDiagnostic(thingID, channelID, reason string, at time.Time)
}

// EventBroadcaster pushes events to WebSocket subscribers. thingID lets
// subscribers narrow events to the things they display.
// Implemented by *api.Hub.
type EventBroadcaster interface {
	Broadcast(channel, thingID string, payload any)
}

// BrickdFactory builds the brickd client of a bridge thing.
type BrickdFactory func(bridge *thing.Thing) *brickd.Client

// Options configures a Binding.
type Options struct {
	// Registry holds the things. Required.
	Registry *thing.Registry

	// History records channel state changes. Optional.
	History thing.StateHistoryRepository

	// MQTT publishes statuses and states and receives commands. Optional
	// for tests; without it nothing is published and energy switches
	// cannot subscribe.
	MQTT MQTTClient

	// Telemetry receives numeric states. Optional.
	Telemetry Telemetry

	// Events receives WebSocket events. Optional.
	Events EventBroadcaster

	// Brickd builds bridge clients. Defaults to a client over MQTT using
	// TopicPrefix.
	Brickd BrickdFactory

	// TopicPrefix of the brickd proxy (default "tinkerforge").
	TopicPrefix string

	// DefaultBridgeID is the bridge of things without a bridge_id.
	DefaultBridgeID string

	Logger Logger
}

// Stats contains runtime counters.
type Stats struct {
	Things           int    `json:"things"`
	ThingsOnline     int    `json:"things_online"`
	Bridges          int    `json:"bridges"`
	BridgesOnline    int    `json:"bridges_online"`
	StatesPublished  uint64 `json:"states_published"`
	CommandsReceived uint64 `json:"commands_received"`
	CommandsFailed   uint64 `json:"commands_failed"`
	Diagnostics      uint64 `json:"diagnostics"`
}

// thingMeta is what callbacks need to know about a running thing.
type thingMeta struct {
	thingType string
	bridgeID  string
}

// Binding runs the thing handlers and routes everything they report to
// the registry, MQTT, telemetry and WebSocket subscribers.
//
// Thread Safety: All methods are safe for concurrent use. Handler
// callbacks arrive on MQTT goroutines; no binding lock is held while a
// handler is called.
type Binding struct {
	registry        *thing.Registry
	history         thing.StateHistoryRepository
	mqtt            MQTTClient
	telemetry       Telemetry
	events          EventBroadcaster
	newBrickd       BrickdFactory
	defaultBridgeID string
	topics          mqtt.Topics

	mu          sync.RWMutex
	started     bool
	bridges     map[string]*tinkerforge.BridgeHandler
	handlers    map[string]thing.Handler
	meta        map[string]thingMeta
	refreshing  map[string]int
	diagnostics []thing.Diagnostic

	statesPublished  atomic.Uint64
	commandsReceived atomic.Uint64
	commandsFailed   atomic.Uint64
	diagnosed        atomic.Uint64

	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a binding. Call Start to run the handlers.
func New(opts Options) (*Binding, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	defaultBridge := opts.DefaultBridgeID
	if defaultBridge == "" {
		defaultBridge = tinkerforge.BridgeThingType
	}

	b := &Binding{
		registry:        opts.Registry,
		history:         opts.History,
		mqtt:            opts.MQTT,
		telemetry:       opts.Telemetry,
		events:          opts.Events,
		newBrickd:       opts.Brickd,
		defaultBridgeID: defaultBridge,
		bridges:         make(map[string]*tinkerforge.BridgeHandler),
		handlers:        make(map[string]thing.Handler),
		meta:            make(map[string]thingMeta),
		refreshing:      make(map[string]int),
		logger:          logger,
	}
	if b.newBrickd == nil {
		b.newBrickd = b.mqttBrickd(opts.TopicPrefix)
	}
	return b, nil
}

// mqttBrickd returns a factory for brickd clients over the binding's broker.
func (b *Binding) mqttBrickd(prefix string) BrickdFactory {
	return func(_ *thing.Thing) *brickd.Client {
		var transport brickd.Transport
		if b.mqtt != nil {
			transport = b.mqtt
		}
		return brickd.NewClient(brickd.Options{
			Transport:   transport,
			TopicPrefix: prefix,
			Logger:      b.getLogger(),
		})
	}
}

// SetLogger sets the logger for the binding.
func (b *Binding) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	defer b.loggerMu.Unlock()
	b.logger = logger
}

func (b *Binding) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// Start starts a handler for every registered thing, bridges first, and
// subscribes to channel commands.
func (b *Binding) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	b.mu.Unlock()

	things, err := b.registry.ListThings(ctx)
	if err != nil {
		return fmt.Errorf("listing things: %w", err)
	}

	for i := range things {
		if things[i].ThingType == tinkerforge.BridgeThingType {
			b.startBridge(ctx, &things[i])
		}
	}
	for i := range things {
		if things[i].ThingType != tinkerforge.BridgeThingType {
			b.startThing(&things[i])
		}
	}

	if b.mqtt != nil {
		if err := b.mqtt.Subscribe(b.topics.AllChannelCommands(), qosCommand, b.handleCommandMessage); err != nil {
			return fmt.Errorf("subscribing to commands: %w", err)
		}
	}

	b.getLogger().Info("binding started", "things", len(things))
	return nil
}

// Stop disposes every handler, then every bridge. Safe to call multiple times.
func (b *Binding) Stop() {
	b.stopOnce.Do(func() {
		if b.mqtt != nil {
			if err := b.mqtt.Unsubscribe(b.topics.AllChannelCommands()); err != nil {
				b.getLogger().Debug("unsubscribing from commands", "error", err)
			}
		}

		b.mu.Lock()
		handlers := make([]thing.Handler, 0, len(b.handlers))
		for _, h := range b.handlers {
			handlers = append(handlers, h)
		}
		bridges := make([]*tinkerforge.BridgeHandler, 0, len(b.bridges))
		for _, br := range b.bridges {
			bridges = append(bridges, br)
		}
		b.handlers = make(map[string]thing.Handler)
		b.bridges = make(map[string]*tinkerforge.BridgeHandler)
		b.started = false
		b.mu.Unlock()

		for _, h := range handlers {
			h.Dispose()
		}
		for _, br := range bridges {
			br.Dispose()
		}
		b.getLogger().Info("binding stopped")
	})
}

// TransportChanged passes a broker or proxy connection change to every
// bridge's brickd client. Bridges then report OFFLINE and their things
// BRIDGE_OFFLINE; on reconnect the clients re-enumerate and the things
// register their callbacks again once the bridge is back ONLINE.
func (b *Binding) TransportChanged(ctx context.Context, connected bool) {
	b.mu.RLock()
	if !b.started {
		b.mu.RUnlock()
		return
	}
	bridges := make([]*tinkerforge.BridgeHandler, 0, len(b.bridges))
	for _, br := range b.bridges {
		bridges = append(bridges, br)
	}
	b.mu.RUnlock()

	b.getLogger().Info("brickd transport changed", "connected", connected, "bridges", len(bridges))
	for _, br := range bridges {
		if err := br.Brickd().TransportChanged(ctx, connected); err != nil {
			b.getLogger().Warn("re-enumerating brickd devices", "bridge", br.ThingID(), "error", err)
		}
	}
}

// startBridge creates and initializes the handler of a bridge thing.
// Children that gave up waiting for this bridge are initialized again.
func (b *Binding) startBridge(ctx context.Context, t *thing.Thing) {
	bridge, err := tinkerforge.NewBridgeHandler(tinkerforge.BridgeOptions{
		ThingID:  t.ID,
		Client:   b.newBrickd(t),
		Callback: b,
		Logger:   b.getLogger(),
	})
	if err != nil {
		b.getLogger().Error("creating bridge handler", "thing", t.ID, "error", err)
		b.StatusUpdated(t.ID, thing.NewStatusInfo(thing.StatusOffline, thing.DetailConfigurationError, err.Error()))
		return
	}

	b.mu.Lock()
	b.bridges[t.ID] = bridge
	b.meta[t.ID] = thingMeta{thingType: t.ThingType}
	var children []thing.Handler
	for id, h := range b.handlers {
		if b.meta[id].bridgeID == t.ID {
			children = append(children, h)
		}
	}
	b.mu.Unlock()

	bridge.Initialize(ctx)

	for _, h := range children {
		if h.Status().Detail != thing.DetailBridgeUninitialized {
			continue
		}
		b.getLogger().Debug("retrying thing after bridge start", "thing", h.ThingID(), "bridge", t.ID)
		h.Initialize()
	}
}

// bridgeID returns the bridge a thing is attached to.
func (b *Binding) bridgeID(t *thing.Thing) string {
	if t.BridgeID != nil && *t.BridgeID != "" {
		return *t.BridgeID
	}
	return b.defaultBridgeID
}

// resolver looks up a bridge handler by ID at call time.
func (b *Binding) resolver(bridgeID string) tinkerforge.BridgeResolver {
	return func() (*tinkerforge.BridgeHandler, bool) {
		b.mu.RLock()
		defer b.mu.RUnlock()
		bridge, ok := b.bridges[bridgeID]
		return bridge, ok
	}
}

// newHandler builds the handler serving t.ThingType.
func (b *Binding) newHandler(t *thing.Thing) (thing.Handler, error) {
	if t.ThingType == tplink.ThingType {
		if b.mqtt == nil {
			return nil, fmt.Errorf("%w: %s needs an MQTT connection", ErrUnsupportedThingType, t.ThingType)
		}
		return tplink.NewHandler(tplink.HandlerOptions{
			Thing:      t,
			Subscriber: b.mqtt,
			Callback:   b,
			Logger:     b.getLogger(),
		})
	}

	spec, ok := tinkerforge.LookupDeviceType(t.ThingType)
	if !ok || spec.Bridge {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedThingType, t.ThingType)
	}
	return tinkerforge.NewHandler(tinkerforge.HandlerOptions{
		Thing:       t,
		Spec:        spec,
		Bridge:      tinkerforge.NewBridgeRef(b.resolver(b.bridgeID(t))),
		Callback:    b,
		Diagnostics: b,
		Logger:      b.getLogger(),
	})
}

// startThing creates and initializes the handler of a device thing.
func (b *Binding) startThing(t *thing.Thing) {
	h, err := b.newHandler(t)
	if err != nil {
		b.getLogger().Warn("no handler for thing", "thing", t.ID, "type", t.ThingType, "error", err)
		b.StatusUpdated(t.ID, thing.NewStatusInfo(thing.StatusOffline, thing.DetailConfigurationError, err.Error()))
		return
	}

	b.mu.Lock()
	b.handlers[t.ID] = h
	b.meta[t.ID] = thingMeta{thingType: t.ThingType, bridgeID: b.bridgeID(t)}
	b.mu.Unlock()

	h.Initialize()
}

// AddThing registers a new thing and starts its handler.
func (b *Binding) AddThing(ctx context.Context, t *thing.Thing) error {
	if err := b.registry.CreateThing(ctx, t); err != nil {
		return err
	}
	if !b.isStarted() {
		return nil
	}

	stored, err := b.registry.GetThing(ctx, t.ID)
	if err != nil {
		return err
	}
	if stored.ThingType == tinkerforge.BridgeThingType {
		b.startBridge(ctx, stored)
	} else {
		b.startThing(stored)
	}
	return nil
}

// RemoveThing disposes the thing's handler and deletes it from the
// registry. A bridge with attached things cannot be removed.
func (b *Binding) RemoveThing(ctx context.Context, id string) error {
	t, err := b.registry.GetThing(ctx, id)
	if err != nil {
		return err
	}

	if t.ThingType == tinkerforge.BridgeThingType {
		b.mu.Lock()
		bridge := b.bridges[id]
		if bridge != nil && bridge.ChildCount() > 0 {
			b.mu.Unlock()
			return fmt.Errorf("%w: %s has %d", ErrBridgeInUse, id, bridge.ChildCount())
		}
		delete(b.bridges, id)
		delete(b.meta, id)
		b.mu.Unlock()
		if bridge != nil {
			bridge.Dispose()
		}
	} else {
		b.mu.Lock()
		h := b.handlers[id]
		delete(b.handlers, id)
		delete(b.meta, id)
		b.mu.Unlock()
		if h != nil {
			h.Dispose()
		}
	}

	return b.registry.DeleteThing(ctx, id)
}

// LinkChannel links a channel and publishes its current state.
// Returns false if the channel was already linked.
func (b *Binding) LinkChannel(ctx context.Context, id, channelID string) (bool, error) {
	t, err := b.registry.GetThing(ctx, id)
	if err != nil {
		return false, err
	}
	if !hasChannel(t.ThingType, channelID) {
		return false, fmt.Errorf("%w: %s/%s", ErrUnknownChannel, t.ThingType, channelID)
	}

	added, err := b.registry.LinkChannel(ctx, id, channelID)
	if err != nil || !added {
		return added, err
	}
	if h, ok := b.Handler(id); ok {
		b.refresh(id, channelID, func() { h.ChannelLinked(channelID) })
	}
	return true, nil
}

// UnlinkChannel unlinks a channel. Returns false if it was not linked.
func (b *Binding) UnlinkChannel(ctx context.Context, id, channelID string) (bool, error) {
	return b.registry.UnlinkChannel(ctx, id, channelID)
}

// SendCommand delivers cmd to a channel of a running thing.
func (b *Binding) SendCommand(_ context.Context, id, channelID string, cmd thing.Command) error {
	if !b.isStarted() {
		return ErrNotStarted
	}
	h, ok := b.Handler(id)
	if !ok {
		if _, err := b.registry.GetThing(context.Background(), id); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrNoHandler, id)
	}

	var err error
	if _, isRefresh := cmd.(thing.RefreshType); isRefresh {
		b.refresh(id, channelID, func() { err = h.HandleCommand(channelID, cmd) })
	} else {
		err = h.HandleCommand(channelID, cmd)
	}
	if err != nil {
		return fmt.Errorf("%s/%s: %w", id, channelID, err)
	}
	return nil
}

// refresh runs fn with the channel marked as refreshing, so the states it
// produces are recorded with the refresh source.
func (b *Binding) refresh(id, channelID string, fn func()) {
	key := id + "/" + channelID
	b.mu.Lock()
	b.refreshing[key]++
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		if b.refreshing[key]--; b.refreshing[key] <= 0 {
			delete(b.refreshing, key)
		}
		b.mu.Unlock()
	}()
	fn()
}

// Handler returns the running handler of a thing.
func (b *Binding) Handler(id string) (thing.Handler, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.handlers[id]
	return h, ok
}

// Bridge returns the running handler of a bridge thing.
func (b *Binding) Bridge(id string) (*tinkerforge.BridgeHandler, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	br, ok := b.bridges[id]
	return br, ok
}

// Diagnostics returns the most recent diagnostics, oldest first.
func (b *Binding) Diagnostics() []thing.Diagnostic {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.diagnostics)
}

// Stats returns runtime counters.
func (b *Binding) Stats() Stats {
	b.mu.RLock()
	s := Stats{
		Things:  len(b.handlers),
		Bridges: len(b.bridges),
	}
	for _, h := range b.handlers {
		if h.Status().Online() {
			s.ThingsOnline++
		}
	}
	for _, br := range b.bridges {
		if br.Status().Online() {
			s.BridgesOnline++
		}
	}
	b.mu.RUnlock()

	s.StatesPublished = b.statesPublished.Load()
	s.CommandsReceived = b.commandsReceived.Load()
	s.CommandsFailed = b.commandsFailed.Load()
	s.Diagnostics = b.diagnosed.Load()
	return s
}

func (b *Binding) isStarted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.started
}

// StatusUpdated stores and publishes a thing status.
func (b *Binding) StatusUpdated(thingID string, info thing.StatusInfo) {
	now := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := b.registry.SetThingStatus(ctx, thingID, info); err != nil {
		b.getLogger().Warn("storing thing status", "thing", thingID, "error", err)
	}

	msg := newStatusMessage(thingID, info, now)
	b.publishJSON(b.topics.ThingStatus(thingID), msg, true)
	if b.telemetry != nil {
		b.telemetry.WriteStatusEvent(thingID, string(info.Status), string(info.Detail), info.Description, now)
	}
	b.broadcast(EventThingStatus, thingID, msg)
}

// StateUpdated stores and publishes the state of a linked channel.
// States of unlinked channels are dropped.
func (b *Binding) StateUpdated(thingID, channelID string, state thing.State) {
	if !b.IsLinked(thingID, channelID) {
		b.getLogger().Debug("dropping state of unlinked channel", "thing", thingID, "channel", channelID)
		return
	}

	now := time.Now()
	cs := thing.Snapshot(state, now)
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := b.registry.SetChannelState(ctx, thingID, channelID, cs); err != nil {
		b.getLogger().Warn("storing channel state", "thing", thingID, "channel", channelID, "error", err)
	}

	b.mu.RLock()
	source := thing.HistorySourceCallback
	if b.refreshing[thingID+"/"+channelID] > 0 {
		source = thing.HistorySourceRefresh
	}
	thingType := b.meta[thingID].thingType
	b.mu.RUnlock()

	if b.history != nil {
		if err := b.history.RecordStateChange(ctx, thingID, channelID, cs, source); err != nil {
			b.getLogger().Warn("recording state history", "thing", thingID, "channel", channelID, "error", err)
		}
	}

	msg := StateMessage{ThingID: thingID, ChannelID: channelID, Timestamp: cs.UpdatedAt, State: cs}
	b.publishJSON(b.topics.ChannelState(thingID, channelID), msg, true)
	if v, ok := thing.Numeric(state); ok && b.telemetry != nil {
		b.telemetry.WriteChannelState(thingID, channelID, thingType, v, now)
	}
	b.broadcast(EventChannelState, thingID, msg)
	b.statesPublished.Add(1)
}

// ChannelTriggered publishes a trigger event. Trigger channels need no link.
func (b *Binding) ChannelTriggered(thingID, channelID string, event thing.TriggerEvent) {
	msg := TriggerMessage{ThingID: thingID, ChannelID: channelID, Timestamp: time.Now().UTC(), Event: event}
	b.publishJSON(b.topics.ChannelTrigger(thingID, channelID), msg, false)
	b.broadcast(EventTriggered, thingID, msg)
}

// IsLinked reports whether a channel is linked.
func (b *Binding) IsLinked(thingID, channelID string) bool {
	return b.registry.IsLinked(thingID, channelID)
}

// Diagnose publishes a diagnostic and keeps it for the API.
func (b *Binding) Diagnose(d thing.Diagnostic) {
	b.diagnosed.Add(1)

	b.mu.Lock()
	b.diagnostics = append(b.diagnostics, d)
	if len(b.diagnostics) > maxDiagnostics {
		b.diagnostics = slices.Delete(b.diagnostics, 0, len(b.diagnostics)-maxDiagnostics)
	}
	b.mu.Unlock()

	b.publishJSON(b.topics.Diagnostic(d.ThingID), d, false)
	if b.telemetry != nil {
		reason := fmt.Sprintf("%s: expected %s, got %s", d.Kind, d.Expected, d.Actual)
		b.telemetry.WriteDiagnostic(d.ThingID, d.ChannelID, reason, d.Time)
	}
	b.broadcast(EventDiagnostic, d.ThingID, d)
}

func (b *Binding) publishJSON(topic string, v any, retained bool) {
	if b.mqtt == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		b.getLogger().Error("marshalling message", "topic", topic, "error", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, qosState, retained); err != nil {
		b.getLogger().Warn("publishing message", "topic", topic, "error", err)
	}
}

func (b *Binding) broadcast(channel, thingID string, payload any) {
	if b.events != nil {
		b.events.Broadcast(channel, thingID, payload)
	}
}

// hasChannel reports whether thingType has channelID.
func hasChannel(thingType, channelID string) bool {
	if thingType == tplink.ThingType {
		return slices.Contains(tplink.Channels, channelID)
	}
	spec, ok := tinkerforge.LookupDeviceType(thingType)
	if !ok {
		return false
	}
	_, ok = spec.Channel(channelID)
	return ok
}

// Channels returns the channel IDs of a thing type.
func Channels(thingType string) ([]string, bool) {
	if thingType == tplink.ThingType {
		return slices.Clone(tplink.Channels), true
	}
	spec, ok := tinkerforge.LookupDeviceType(thingType)
	if !ok {
		return nil, false
	}
	ids := make([]string, 0, len(spec.Channels))
	for _, ch := range spec.Channels {
		ids = append(ids, ch.ID)
	}
	return ids, true
}
