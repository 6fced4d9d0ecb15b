package cybro

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-cybro/internal/coordinator"
	"github.com/nerrad567/gray-logic-cybro/internal/scgi"
)

// defaultHealthInterval is used when HealthReporterConfig.Interval is zero.
const defaultHealthInterval = 30 * time.Second

// PollSource provides the poll state reported in health messages.
// *coordinator.Coordinator[*scgi.Device] satisfies it.
type PollSource interface {
	Data() (*scgi.Device, bool)
	Stats() coordinator.Stats
}

// HealthReporter publishes bridge health to MQTT at regular intervals.
type HealthReporter struct {
	version   string
	address   string
	nad       int
	startTime time.Time
	interval  time.Duration
	publisher Publisher
	poll      PollSource

	entityCount   int
	entityCountMu sync.RWMutex

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Version is the bridge software version.
	Version string

	// Address is the SCGI server address ("host:port") reported in messages.
	Address string

	// NAD is the PLC network address.
	NAD int

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher Publisher

	// Poll provides coordinator statistics.
	Poll PollSource
}

// NewHealthReporter creates a health reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}

	return &HealthReporter{
		version:   cfg.Version,
		address:   cfg.Address,
		nad:       cfg.NAD,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		poll:      cfg.Poll,
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// Start begins periodic health reporting until ctx is cancelled or Stop
// is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // best effort during shutdown
		h.publishStatus(HealthStopping, "bridge stopping")
	})
}

// SetEntityCount updates the number of managed entities.
func (h *HealthReporter) SetEntityCount(count int) {
	h.entityCountMu.Lock()
	h.entityCount = count
	h.entityCountMu.Unlock()
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.getLogger().Warn("failed to publish initial health", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.getLogger().Warn("failed to publish health", "error", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.poll == nil {
		return HealthDegraded, "no poll source"
	}

	stats := h.poll.Stats()
	if !stats.LastUpdateSuccess {
		if stats.LastError != "" {
			return HealthDegraded, "PLC poll failing: " + stats.LastError
		}
		return HealthDegraded, "PLC not polled yet"
	}
	return HealthHealthy, ""
}

// buildMessage assembles a health message for status.
func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	h.entityCountMu.RLock()
	count := h.entityCount
	h.entityCountMu.RUnlock()

	msg := HealthMessage{
		Bridge:          Protocol,
		Timestamp:       time.Now().UTC(),
		Status:          status,
		Version:         h.version,
		UptimeSeconds:   int64(time.Since(h.startTime).Seconds()),
		EntitiesManaged: count,
		Reason:          reason,
		Connection: &ConnectionStatus{
			Status:  "disconnected",
			Address: h.address,
			NAD:     h.nad,
		},
	}

	if h.poll == nil {
		return msg
	}

	stats := h.poll.Stats()
	msg.Statistics = &PollStatistics{
		SuccessfulPolls:     stats.SuccessfulPolls,
		FailedPolls:         stats.FailedPolls,
		ConsecutiveFailures: stats.ConsecutiveFailures,
		LastError:           stats.LastError,
	}
	if stats.LastUpdateSuccess {
		msg.Connection.Status = "connected"
	}
	if !stats.LastSuccessTime.IsZero() {
		t := stats.LastSuccessTime.UTC()
		msg.Connection.LastSuccess = &t
	}
	if dev, ok := h.poll.Data(); ok && dev != nil {
		msg.Connection.IPPort = dev.PLCInfo.IPPort
		msg.Connection.ServerVersion = dev.ServerInfo.ServerVersion
	}
	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(h.buildMessage(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(HealthTopic(), payload, 1, true)
}

func (h *HealthReporter) getLogger() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}
