package binding

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/tinkerforge-bridge/internal/infrastructure/mqtt"
)

const defaultHealthInterval = 30 * time.Second

// HealthPublisher is satisfied by *mqtt.Client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// StatsSource provides the counters reported in health messages.
type StatsSource interface {
	Stats() Stats
}

type HealthReporterConfig struct {
	BridgeID  string
	Version   string
	Interval  time.Duration // 30s when zero
	Publisher HealthPublisher
	Stats     StatsSource // optional
}

// HealthReporter keeps the retained tfbridge/health message current. The
// broker replaces it with the last will when the connection drops.
type HealthReporter struct {
	bridgeID  string
	version   string
	started   time.Time
	interval  time.Duration
	publisher HealthPublisher
	stats     StatsSource

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	h := &HealthReporter{
		bridgeID:  cfg.BridgeID,
		version:   cfg.Version,
		started:   time.Now(),
		interval:  cfg.Interval,
		publisher: cfg.Publisher,
		stats:     cfg.Stats,
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
	if h.interval <= 0 {
		h.interval = defaultHealthInterval
	}
	return h
}

// Start publishes immediately and then every interval until ctx is done or
// Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends the loop and publishes "stopping". Later calls do nothing.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		if err := h.publish(h.message(HealthStopping, "")); err != nil {
			h.getLogger().Debug("publishing stopping health", "error", err)
		}
	})
}

func (h *HealthReporter) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

func (h *HealthReporter) getLogger() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}

func (h *HealthReporter) PublishStarting() error {
	return h.publish(h.message(HealthStarting, "service starting"))
}

func (h *HealthReporter) PublishNow() error {
	return h.publish(h.Current())
}

// Current returns the health message that would be published now.
func (h *HealthReporter) Current() HealthMessage {
	status, reason := h.determineStatus()
	return h.message(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if err := h.PublishNow(); err != nil {
			h.getLogger().Error("publishing health", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
		}
	}
}

// determineStatus is degraded while MQTT or any brickd bridge is down.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.stats != nil {
		if s := h.stats.Stats(); s.BridgesOnline < s.Bridges {
			return HealthDegraded, "brickd bridge offline"
		}
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) message(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Bridge:        h.bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started) / time.Second),
		Reason:        reason,
	}
	if h.stats != nil {
		s := h.stats.Stats()
		msg.Statistics = &s
	}
	return msg
}

// publish is a no-op without a publisher so the reporter can run in tests
// and with MQTT disabled.
func (h *HealthReporter) publish(msg HealthMessage) error {
	if h.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.publisher.Publish(mqtt.Topics{}.Health(), payload, 1, true)
}
