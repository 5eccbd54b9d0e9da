package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/tinkerforge-bridge/internal/binding"
	"github.com/nerrad567/tinkerforge-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/tinkerforge-bridge/internal/process"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	MQTT          mqtt.Stats       `json:"mqtt"`
	Binding       binding.Stats    `json:"binding"`
	Things        ThingMetrics     `json:"things"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
	Proxy         *process.Stats   `json:"proxy,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	EventsSent       uint64 `json:"events_sent"`
	EventsDropped    uint64 `json:"events_dropped"`
}

// ThingMetrics contains thing registry statistics.
type ThingMetrics struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	ByType   map[string]int `json:"by_type"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// mqttStatsSource is implemented by *mqtt.Client.
type mqttStatsSource interface {
	Stats() mqtt.Stats
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Binding: s.binding.Stats(),
	}

	if s.hub != nil {
		metrics.WebSocket = s.hub.Stats()
	}
	if s.mqtt != nil {
		if src, ok := s.mqtt.(mqttStatsSource); ok {
			metrics.MQTT = src.Stats()
		} else {
			metrics.MQTT.Connected = s.mqtt.IsConnected()
		}
	}

	regStats := s.registry.GetStats()
	metrics.Things = ThingMetrics{
		Total:    regStats.TotalThings,
		ByStatus: make(map[string]int, len(regStats.ByStatus)),
		ByType:   regStats.ByType,
	}
	for status, count := range regStats.ByStatus {
		metrics.Things.ByStatus[string(status)] = count
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	if s.proxy != nil {
		if stats, managed := s.proxy.Stats(); managed {
			metrics.Proxy = &stats
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
