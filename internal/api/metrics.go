package api

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/process"

	"github.com/nerrad567/gray-logic-cybro/internal/bridges/cybro"
	"github.com/nerrad567/gray-logic-cybro/internal/coordinator"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	Host          *HostMetrics      `json:"host,omitempty"`
	WebSocket     WSMetrics         `json:"websocket"`
	MQTT          MQTTMetrics       `json:"mqtt"`
	Poll          coordinator.Stats `json:"poll"`
	Bridge        cybro.Metrics     `json:"bridge"`
	Entities      *EntityMetrics    `json:"entities,omitempty"`
	Database      *DatabaseMetrics  `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// HostMetrics contains host and process statistics.
// Fields the platform cannot report are left zero.
type HostMetrics struct {
	MemoryTotalMB     float64 `json:"memory_total_mb"`
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	Load1             float64 `json:"load1"`
	Load5             float64 `json:"load5"`
	Load15            float64 `json:"load15"`
	ProcessRSSMB      float64 `json:"process_rss_mb"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// EntityMetrics contains entity registry statistics.
type EntityMetrics struct {
	Total         int            `json:"total"`
	ByPlatform    map[string]int `json:"by_platform"`
	ByDevice      map[string]int `json:"by_device"`
	ByDeviceClass map[string]int `json:"by_device_class"`
	Unavailable   int            `json:"unavailable"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

const bytesPerMB = 1024 * 1024

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
			MemoryAllocMB: float64(memStats.Alloc) / bytesPerMB,
			MemoryTotalMB: float64(memStats.TotalAlloc) / bytesPerMB,
			NumGC:         memStats.NumGC,
		},
		Host: s.hostMetrics(),
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Poll:   s.poller.Stats(),
		Bridge: s.bridge.GetMetrics(),
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{
			Connected: s.mqtt.IsConnected(),
		}
	}

	if s.history != nil {
		regStats := s.history.GetStats()
		em := &EntityMetrics{
			Total:         regStats.TotalEntities,
			ByPlatform:    make(map[string]int),
			ByDevice:      regStats.ByDevice,
			ByDeviceClass: make(map[string]int),
			Unavailable:   regStats.Unavailable,
		}
		for platform, count := range regStats.ByPlatform {
			em.ByPlatform[string(platform)] = count
		}
		for class, count := range regStats.ByDeviceClass {
			em.ByDeviceClass[string(class)] = count
		}
		metrics.Entities = em
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

	writeJSON(w, http.StatusOK, metrics)
}

// hostMetrics collects host memory, load and process RSS. Sources that
// fail on this platform are skipped.
func (s *Server) hostMetrics() *HostMetrics {
	hm := &HostMetrics{}

	if vm, err := mem.VirtualMemory(); err == nil {
		hm.MemoryTotalMB = float64(vm.Total) / bytesPerMB
		hm.MemoryUsedPercent = vm.UsedPercent
	} else {
		s.logger.Debug("host memory unavailable", "error", err)
	}

	if avg, err := load.Avg(); err == nil {
		hm.Load1 = avg.Load1
		hm.Load5 = avg.Load5
		hm.Load15 = avg.Load15
	} else {
		s.logger.Debug("host load unavailable", "error", err)
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil { //nolint:gosec // pid fits in int32
		if info, err := p.MemoryInfo(); err == nil {
			hm.ProcessRSSMB = float64(info.RSS) / bytesPerMB
		}
	}

	return hm
}
