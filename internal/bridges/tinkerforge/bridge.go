package tinkerforge

import (
	"context"
	"slices"
	"sync"

	"github.com/nerrad567/tinkerforge-bridge/internal/brickd"
	"github.com/nerrad567/tinkerforge-bridge/internal/thing"
)

// Logger defines the logging interface used by the handlers.
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

// BridgeOptions holds configuration for creating a bridge handler.
type BridgeOptions struct {
	// ThingID is the ID of the bridge thing.
	ThingID string

	// Client is the brickd client the bridge owns.
	Client *brickd.Client

	// Callback receives the bridge's status. Optional.
	Callback thing.Callback

	// Logger is optional structured logger.
	Logger Logger
}

// BridgeHandler drives the brickd bridge thing. Its status follows the
// connection state of the client and is pushed to every child handler.
type BridgeHandler struct {
	thingID  string
	client   *brickd.Client
	callback thing.Callback

	mu       sync.RWMutex
	status   thing.StatusInfo
	children []thing.BridgeChild
	disposed bool

	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridgeHandler creates a bridge handler. Call Initialize to connect.
func NewBridgeHandler(opts BridgeOptions) (*BridgeHandler, error) {
	if opts.Client == nil {
		return nil, ErrNoClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	b := &BridgeHandler{
		thingID:  opts.ThingID,
		client:   opts.Client,
		callback: opts.Callback,
		status:   thing.NewStatusInfo(thing.StatusUninitialized, thing.DetailNone, ""),
		logger:   logger,
	}
	opts.Client.OnConnectionChange(b.connectionChanged)
	return b, nil
}

// SetLogger sets the logger for the bridge handler.
func (b *BridgeHandler) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	defer b.loggerMu.Unlock()
	b.logger = logger
}

func (b *BridgeHandler) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// ThingID returns the ID of the bridge thing.
func (b *BridgeHandler) ThingID() string { return b.thingID }

// Initialize connects the client. The bridge goes ONLINE on success and
// OFFLINE/COMMUNICATION_ERROR otherwise.
func (b *BridgeHandler) Initialize(ctx context.Context) {
	if err := b.client.Connect(ctx); err != nil {
		b.getLogger().Warn("brickd bridge connect failed", "thing", b.thingID, "error", err)
		b.setStatus(thing.NewStatusInfo(thing.StatusOffline, thing.DetailCommunicationError, err.Error()))
		return
	}
	b.setStatus(thing.NewStatusInfo(thing.StatusOnline, thing.DetailNone, ""))
}

// Dispose closes the client. Safe to call multiple times.
func (b *BridgeHandler) Dispose() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.disposed = true
		b.mu.Unlock()

		if err := b.client.Close(); err != nil {
			b.getLogger().Warn("closing brickd client", "thing", b.thingID, "error", err)
		}
	})
}

func (b *BridgeHandler) connectionChanged(connected bool) {
	b.mu.RLock()
	disposed := b.disposed
	b.mu.RUnlock()
	if disposed {
		return
	}

	if connected {
		b.setStatus(thing.NewStatusInfo(thing.StatusOnline, thing.DetailNone, ""))
		return
	}
	b.setStatus(thing.NewStatusInfo(thing.StatusOffline, thing.DetailCommunicationError, "connection to brickd lost"))
}

// setStatus records info and, when it changed, reports it to the host
// and every child.
func (b *BridgeHandler) setStatus(info thing.StatusInfo) {
	b.mu.Lock()
	changed := b.status != info
	b.status = info
	children := slices.Clone(b.children)
	b.mu.Unlock()

	if !changed {
		return
	}
	b.getLogger().Info("bridge status changed", "thing", b.thingID, "status", info.String())
	if b.callback != nil {
		b.callback.StatusUpdated(b.thingID, info)
	}
	for _, child := range children {
		child.BridgeStatusChanged(info)
	}
}

// Status returns the current bridge status.
func (b *BridgeHandler) Status() thing.StatusInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Brickd returns the client owned by the bridge.
func (b *BridgeHandler) Brickd() *brickd.Client { return b.client }

// Device returns a device known to the client, or nil.
func (b *BridgeHandler) Device(uid string) *brickd.Device { return b.client.Device(uid) }

// Channel returns a device channel, or nil.
func (b *BridgeHandler) Channel(uid, channelID string) *brickd.Channel {
	return b.client.Channel(uid, channelID)
}

// RegisterCallbackListener subscribes l to value changes of device uid.
func (b *BridgeHandler) RegisterCallbackListener(l brickd.CallbackListener, uid string) {
	b.client.RegisterCallbackListener(l, uid)
}

// UnregisterCallbackListener removes l from device uid.
func (b *BridgeHandler) UnregisterCallbackListener(l brickd.CallbackListener, uid string) {
	b.client.UnregisterCallbackListener(l, uid)
}

// RegisterDeviceStatusListener subscribes l to device additions and removals.
func (b *BridgeHandler) RegisterDeviceStatusListener(l brickd.DeviceAdminListener) {
	b.client.RegisterDeviceAdminListener(l)
}

// UnregisterDeviceStatusListener removes l.
func (b *BridgeHandler) UnregisterDeviceStatusListener(l brickd.DeviceAdminListener) {
	b.client.UnregisterDeviceAdminListener(l)
}

// AddChild registers a handler that follows the bridge status.
func (b *BridgeHandler) AddChild(child thing.BridgeChild) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !slices.Contains(b.children, child) {
		b.children = append(b.children, child)
	}
}

// RemoveChild unregisters a child handler.
func (b *BridgeHandler) RemoveChild(child thing.BridgeChild) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.children = slices.DeleteFunc(b.children, func(c thing.BridgeChild) bool { return c == child })
}

// ChildCount returns the number of registered children.
func (b *BridgeHandler) ChildCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.children)
}
