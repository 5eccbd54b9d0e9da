package tinkerforge

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/tinkerforge-bridge/internal/brickd"
	"github.com/nerrad567/tinkerforge-bridge/internal/thing"
)

// Diagnostic sources.
const (
	sourceNotify  = "notify"
	sourceRefresh = "refresh"
)

var (
	_ thing.Handler              = (*Handler)(nil)
	_ thing.BridgeChild          = (*Handler)(nil)
	_ brickd.CallbackListener    = (*Handler)(nil)
	_ brickd.DeviceAdminListener = (*Handler)(nil)
)

// HandlerOptions holds configuration for creating a device handler.
type HandlerOptions struct {
	// Thing is the handled thing. It is copied.
	Thing *thing.Thing

	// Spec is the device-type entry. Defaults to the entry of Thing.ThingType.
	Spec *DeviceTypeSpec

	// Bridge references the thing's bridge handler.
	Bridge *BridgeRef

	// Callback receives statuses, states and trigger events.
	Callback thing.Callback

	// Diagnostics receives type mismatches. Optional.
	Diagnostics thing.DiagnosticSink

	// Logger is optional structured logger.
	Logger Logger
}

// Handler drives one bricklet thing. One implementation serves every
// device type; the DeviceTypeSpec supplies the channels.
//
// Thread Safety: All methods are safe for concurrent use.
type Handler struct {
	thing       *thing.Thing
	spec        *DeviceTypeSpec
	bridge      *BridgeRef
	callback    thing.Callback
	diagnostics thing.DiagnosticSink
	converter   CommandConverter

	mu      sync.Mutex
	uid     string
	device  *brickd.Device
	enabled bool
	status  thing.StatusInfo

	// listening is the bridge the handler is registered with.
	listening *BridgeHandler

	mismatches atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewHandler creates a device handler. Call Initialize to bring it online.
func NewHandler(opts HandlerOptions) (*Handler, error) {
	if opts.Thing == nil {
		return nil, fmt.Errorf("%w: nil thing", thing.ErrInvalidThing)
	}
	if opts.Callback == nil {
		return nil, fmt.Errorf("callback is required")
	}
	spec := opts.Spec
	if spec == nil {
		var ok bool
		if spec, ok = LookupDeviceType(opts.Thing.ThingType); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownThingType, opts.Thing.ThingType)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Handler{
		thing:       opts.Thing.DeepCopy(),
		spec:        spec,
		bridge:      opts.Bridge,
		callback:    opts.Callback,
		diagnostics: opts.Diagnostics,
		status:      thing.NewStatusInfo(thing.StatusUninitialized, thing.DetailNone, ""),
		logger:      logger,
	}, nil
}

// SetLogger sets the logger for the handler.
func (h *Handler) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	defer h.loggerMu.Unlock()
	h.logger = logger
}

func (h *Handler) getLogger() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}

// ThingID returns the ID of the handled thing.
func (h *Handler) ThingID() string { return h.thing.ID }

// Spec returns the handler's device-type entry.
func (h *Handler) Spec() *DeviceTypeSpec { return h.spec }

// Initialize reads the uid and tries to enable the device.
func (h *Handler) Initialize() {
	uid := h.thing.UID()
	if uid == "" {
		h.updateStatus(thing.StatusOffline, thing.DetailConfigurationError, "uid is missing in configuration")
		return
	}

	h.mu.Lock()
	h.uid = uid
	h.mu.Unlock()
	h.updateStatus(thing.StatusWaitingForBridge, thing.DetailNone, "")

	bridge := h.bridge.Get()
	if bridge == nil {
		h.updateStatus(thing.StatusOffline, thing.DetailBridgeUninitialized, "")
		return
	}
	bridge.RegisterDeviceStatusListener(h)
	bridge.AddChild(h)

	h.enable()
}

// enable binds the handler to its device. Every failure ends in an
// OFFLINE status.
func (h *Handler) enable() {
	bridge := h.bridge.Get()
	if bridge == nil {
		h.updateStatus(thing.StatusOffline, thing.DetailBridgeUninitialized, "")
		return
	}

	h.mu.Lock()
	uid := h.uid
	h.listening = bridge
	h.mu.Unlock()

	bridge.RegisterCallbackListener(h, uid)

	if !bridge.Status().Online() {
		h.updateStatus(thing.StatusOffline, thing.DetailBridgeOffline, "")
		return
	}

	dev := bridge.Device(uid)
	if dev == nil {
		h.updateStatus(thing.StatusOffline, thing.DetailNone, "device not found")
		return
	}
	if string(dev.DeviceType()) != h.spec.ThingType {
		h.updateStatus(thing.StatusOffline, thing.DetailConfigurationError,
			fmt.Sprintf("device %s is a %s, expected %s", uid, dev.DeviceType(), h.spec.ThingType))
		return
	}

	dev.SetDeviceConfig(h.thing.Config)
	for channelID, cfg := range h.thing.ChannelConfig {
		ch := dev.Channel(channelID)
		if ch == nil {
			h.getLogger().Debug("configuration for unknown channel", "thing", h.thing.ID, "channel", channelID)
			continue
		}
		if err := ch.SetConfig(cfg); err != nil {
			h.getLogger().Warn("applying channel configuration", "thing", h.thing.ID, "channel", channelID, "error", err)
		}
	}

	h.mu.Lock()
	prev := h.device
	h.mu.Unlock()
	if prev != nil && prev != dev {
		if err := prev.Disable(); err != nil {
			h.getLogger().Debug("disabling replaced device", "thing", h.thing.ID, "error", err)
		}
	}

	if err := dev.Enable(); err != nil {
		h.drop()
		h.updateStatus(thing.StatusOffline, thing.DetailCommunicationError, err.Error())
		return
	}

	h.mu.Lock()
	h.device = dev
	h.enabled = true
	h.mu.Unlock()

	h.updateStatus(thing.StatusOnline, thing.DetailNone, "")

	for _, ch := range h.spec.Channels {
		if h.callback.IsLinked(h.thing.ID, ch.ID) {
			h.refresh(ch)
		}
	}
}

// Notify implements brickd.CallbackListener.
func (h *Handler) Notify(notifier *brickd.Notifier, _, newValue brickd.Value) {
	if notifier == nil {
		return
	}
	h.mu.Lock()
	uid := h.uid
	h.mu.Unlock()
	if notifier.DeviceID != uid {
		return
	}
	if notifier.ExternalDeviceID != "" {
		h.getLogger().Debug("ignoring value of external device",
			"thing", h.thing.ID, "channel", notifier.ChannelID, "external_id", notifier.ExternalDeviceID)
		return
	}

	spec, ok := h.spec.Channel(notifier.ChannelID)
	if !ok {
		h.getLogger().Debug("notification for unknown channel", "thing", h.thing.ID, "channel", notifier.ChannelID)
		return
	}
	h.publish(spec, newValue, sourceNotify)
}

// ChannelLinked publishes the current value of a newly linked channel.
func (h *Handler) ChannelLinked(channelID string) {
	if !h.isEnabled() {
		return
	}
	spec, ok := h.spec.Channel(channelID)
	if !ok {
		h.getLogger().Debug("linked unknown channel", "thing", h.thing.ID, "channel", channelID)
		return
	}
	h.refresh(spec)
}

// refresh publishes the device's current value of a state channel.
// Trigger channels have no state to refresh.
func (h *Handler) refresh(spec ChannelSpec) {
	if spec.State == StateTrigger {
		return
	}
	h.mu.Lock()
	dev := h.device
	h.mu.Unlock()
	if dev == nil {
		return
	}
	ch := dev.Channel(spec.ID)
	if ch == nil {
		return
	}
	if v := ch.Value(); v != nil {
		h.publish(spec, v, sourceRefresh)
	}
}

// publish converts v and hands the result to the host.
func (h *Handler) publish(spec ChannelSpec, v brickd.Value, source string) {
	if spec.State == StateTrigger {
		event, err := spec.Event(v)
		if err != nil {
			h.mismatch(spec, v, source, err)
			return
		}
		h.callback.ChannelTriggered(h.thing.ID, spec.ID, event)
		return
	}

	state, err := spec.Convert(v)
	if err != nil {
		h.mismatch(spec, v, source, err)
		return
	}
	h.callback.StateUpdated(h.thing.ID, spec.ID, state)
}

func (h *Handler) mismatch(spec ChannelSpec, v brickd.Value, source string, err error) {
	h.mismatches.Add(1)
	actual := "none"
	if v != nil {
		actual = string(v.Kind())
	}
	h.getLogger().Warn("channel value type mismatch",
		"thing", h.thing.ID, "channel", spec.ID, "expected", spec.Kind, "actual", actual, "error", err)

	if h.diagnostics == nil {
		return
	}
	h.diagnostics.Diagnose(thing.Diagnostic{
		ID:        uuid.NewString(),
		Kind:      thing.DiagnosticTypeMismatch,
		ThingID:   h.thing.ID,
		ChannelID: spec.ID,
		Expected:  string(spec.Kind),
		Actual:    actual,
		Source:    source,
		Time:      time.Now().UTC(),
	})
}

// DeviceChanged implements brickd.DeviceAdminListener.
func (h *Handler) DeviceChanged(change brickd.DeviceChangeType, info *brickd.DeviceInfo) {
	if info == nil || change == "" {
		h.getLogger().Debug("ignoring incomplete device change", "thing", h.thing.ID)
		return
	}
	h.mu.Lock()
	uid := h.uid
	h.mu.Unlock()
	if uid == "" || info.UID != uid {
		return
	}

	switch change {
	case brickd.DeviceAdded:
		h.enable()
	case brickd.DeviceRemoved:
		h.drop()
		h.updateStatus(thing.StatusOffline, thing.DetailGone, "")
	}
}

// BridgeStatusChanged implements thing.BridgeChild.
func (h *Handler) BridgeStatusChanged(info thing.StatusInfo) {
	h.mu.Lock()
	uid := h.uid
	h.mu.Unlock()
	if uid == "" {
		return
	}

	if info.Online() {
		h.enable()
		return
	}
	h.drop()
	h.updateStatus(thing.StatusOffline, thing.DetailBridgeOffline, "")
}

// HandleCommand executes cmd on a channel. REFRESH re-publishes the
// channel's current state.
func (h *Handler) HandleCommand(channelID string, cmd thing.Command) error {
	spec, ok := h.spec.Channel(channelID)
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownChannel, h.spec.ThingType, channelID)
	}
	if _, isRefresh := cmd.(thing.RefreshType); isRefresh {
		h.ChannelLinked(channelID)
		return nil
	}
	if !spec.Writable {
		return fmt.Errorf("%w: %s", ErrChannelReadOnly, channelID)
	}

	h.mu.Lock()
	dev, enabled := h.device, h.enabled
	h.mu.Unlock()
	if !enabled || dev == nil {
		return fmt.Errorf("%w: %s", ErrNotEnabled, h.thing.ID)
	}

	v, err := h.converter.Convert(cmd)
	if err != nil {
		return err
	}
	ch := dev.Channel(channelID)
	if ch == nil {
		return fmt.Errorf("%w: device %s has no %s", ErrUnknownChannel, dev.UID(), channelID)
	}
	if err := ch.SetValue(v); err != nil {
		return fmt.Errorf("setting %s: %w", channelID, err)
	}
	h.getLogger().Debug("command sent", "thing", h.thing.ID, "channel", channelID, "value", v.String())
	return nil
}

// Dispose unregisters the handler and releases the device. The status
// is left to the host.
func (h *Handler) Dispose() {
	h.mu.Lock()
	bridge, uid, dev := h.listening, h.uid, h.device
	h.listening = nil
	h.device = nil
	h.enabled = false
	h.mu.Unlock()

	if bridge == nil {
		bridge = h.bridge.Get()
	}
	if bridge != nil {
		bridge.UnregisterCallbackListener(h, uid)
		bridge.UnregisterDeviceStatusListener(h)
		bridge.RemoveChild(h)
	}
	if dev != nil {
		if err := dev.Disable(); err != nil {
			h.getLogger().Debug("disabling device", "thing", h.thing.ID, "error", err)
		}
	}
}

// drop releases the device handle.
func (h *Handler) drop() {
	h.mu.Lock()
	dev := h.device
	h.device = nil
	h.enabled = false
	h.mu.Unlock()

	if dev != nil {
		if err := dev.Disable(); err != nil {
			h.getLogger().Debug("disabling dropped device", "thing", h.thing.ID, "error", err)
		}
	}
}

func (h *Handler) isEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enabled
}

// Device returns the current device handle, or nil.
func (h *Handler) Device() *brickd.Device {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.device
}

// Status returns the last reported status.
func (h *Handler) Status() thing.StatusInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Mismatches returns the number of values dropped for a type mismatch.
func (h *Handler) Mismatches() uint64 {
	return h.mismatches.Load()
}

func (h *Handler) updateStatus(status thing.Status, detail thing.StatusDetail, description string) {
	info := thing.NewStatusInfo(status, detail, description)
	h.mu.Lock()
	h.status = info
	h.mu.Unlock()

	h.callback.StatusUpdated(h.thing.ID, info)
}
