package tplink

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/nerrad567/tinkerforge-bridge/internal/thing"
)

// ConfigKeyTopic is the thing configuration key naming the MQTT topic
// realtime responses arrive on.
const ConfigKeyTopic = "topic"

// qosRealtime is the subscription QoS for realtime responses.
const qosRealtime = 1

// Subscriber is the MQTT surface the handler needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	Unsubscribe(topic string) error
}

// Logger defines the logging interface used by the handler.
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

// HandlerOptions holds configuration for creating an energy switch handler.
type HandlerOptions struct {
	Thing      *thing.Thing
	Subscriber Subscriber
	Callback   thing.Callback
	Logger     Logger
}

// Handler drives an energy switch thing from realtime responses.
type Handler struct {
	thing    *thing.Thing
	sub      Subscriber
	callback thing.Callback
	device   EnergySwitch

	mu     sync.Mutex
	topic  string
	last   *Realtime
	status thing.StatusInfo

	logger   Logger
	loggerMu sync.RWMutex
}

var _ thing.Handler = (*Handler)(nil)

// NewHandler creates an energy switch handler.
func NewHandler(opts HandlerOptions) (*Handler, error) {
	if opts.Thing == nil {
		return nil, fmt.Errorf("%w: nil thing", thing.ErrInvalidThing)
	}
	if opts.Subscriber == nil {
		return nil, fmt.Errorf("subscriber is required")
	}
	if opts.Callback == nil {
		return nil, fmt.Errorf("callback is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Handler{
		thing:    opts.Thing.DeepCopy(),
		sub:      opts.Subscriber,
		callback: opts.Callback,
		status:   thing.NewStatusInfo(thing.StatusUninitialized, thing.DetailNone, ""),
		logger:   logger,
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

// Initialize subscribes to the configured realtime topic. The thing goes
// ONLINE with the first valid response.
func (h *Handler) Initialize() {
	topic := strings.TrimSpace(h.thing.Config.String(ConfigKeyTopic))
	if topic == "" {
		h.updateStatus(thing.StatusOffline, thing.DetailConfigurationError, "topic is missing in configuration")
		return
	}
	if err := h.sub.Subscribe(topic, qosRealtime, h.handleMessage); err != nil {
		h.updateStatus(thing.StatusOffline, thing.DetailCommunicationError, err.Error())
		return
	}

	h.mu.Lock()
	h.topic = topic
	h.mu.Unlock()
	h.updateStatus(thing.StatusOffline, thing.DetailNone, "waiting for realtime data")
}

func (h *Handler) handleMessage(_ string, payload []byte) {
	rt, err := DecodeRealtime(payload)
	if err != nil {
		h.getLogger().Warn("realtime response rejected", "thing", h.thing.ID, "error", err)
		h.updateStatus(thing.StatusOffline, thing.DetailCommunicationError, err.Error())
		return
	}

	h.mu.Lock()
	h.last = &rt
	online := h.status.Online()
	h.mu.Unlock()
	if !online {
		h.updateStatus(thing.StatusOnline, thing.DetailNone, "")
	}

	for _, ch := range Channels {
		if h.callback.IsLinked(h.thing.ID, ch) {
			h.callback.StateUpdated(h.thing.ID, ch, h.device.UpdateChannel(ch, rt))
		}
	}
}

// ChannelLinked publishes the last reading of a channel, if any.
func (h *Handler) ChannelLinked(channelID string) {
	h.mu.Lock()
	last := h.last
	h.mu.Unlock()
	if last == nil {
		return
	}
	h.callback.StateUpdated(h.thing.ID, channelID, h.device.UpdateChannel(channelID, *last))
}

// HandleCommand accepts REFRESH only.
func (h *Handler) HandleCommand(channelID string, cmd thing.Command) error {
	if !slices.Contains(Channels, channelID) {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channelID)
	}
	if _, ok := cmd.(thing.RefreshType); !ok {
		return fmt.Errorf("%w: %s", ErrReadOnly, channelID)
	}
	h.ChannelLinked(channelID)
	return nil
}

// Dispose unsubscribes from the realtime topic.
func (h *Handler) Dispose() {
	h.mu.Lock()
	topic := h.topic
	h.topic = ""
	h.mu.Unlock()
	if topic == "" {
		return
	}
	if err := h.sub.Unsubscribe(topic); err != nil {
		h.getLogger().Debug("unsubscribing realtime topic", "thing", h.thing.ID, "error", err)
	}
}

// Status returns the last reported status.
func (h *Handler) Status() thing.StatusInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *Handler) updateStatus(status thing.Status, detail thing.StatusDetail, description string) {
	info := thing.NewStatusInfo(status, detail, description)
	h.mu.Lock()
	h.status = info
	h.mu.Unlock()
	h.callback.StatusUpdated(h.thing.ID, info)
}
