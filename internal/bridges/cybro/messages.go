package cybro

import (
	"time"

	"github.com/nerrad567/gray-logic-cybro/internal/entity"
	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/mqtt"
)

// Protocol is the bridge identifier used in topics and messages.
const Protocol = "cybro"

// Availability payloads.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"

	// PayloadOn and PayloadOff are the binary sensor payloads rendered by
	// the discovery value template.
	PayloadOn  = "ON"
	PayloadOff = "OFF"
)

// StateTopic returns the state topic of an entity.
func StateTopic(uniqueID string) string {
	return mqtt.Topics{}.BridgeState(Protocol, uniqueID)
}

// AvailabilityTopic returns the bridge availability topic.
func AvailabilityTopic() string {
	return mqtt.Topics{}.BridgeAvailability(Protocol)
}

// HealthTopic returns the bridge health topic.
func HealthTopic() string {
	return mqtt.Topics{}.BridgeHealth(Protocol)
}

// StateMessage is published when an entity's state changes.
// Topic: graylogic/state/cybro/{unique_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// EntityID is the entity's unique id (the variable name).
	EntityID string `json:"entity_id"`

	// DeviceID is the device group the entity belongs to.
	DeviceID string `json:"device_id"`

	// Timestamp is when the state was observed (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Available is false when the last poll failed or the variable was
	// not reported.
	Available bool `json:"available"`

	// Value is the coerced native value (nil when unknown).
	Value any `json:"value"`

	// Unit is the unit of measurement, if any.
	Unit string `json:"unit,omitempty"`

	// Attributes carries the extra attributes (the variable description).
	Attributes map[string]any `json:"attributes,omitempty"`

	// Protocol is always "cybro".
	Protocol string `json:"protocol"`
}

// NewStateMessage builds the state message of an entity.
func NewStateMessage(e entity.Entity, st entity.State) StateMessage {
	d := e.Descriptor()
	return StateMessage{
		EntityID:   d.UniqueID,
		DeviceID:   d.Group.ID,
		Timestamp:  time.Now().UTC(),
		Available:  st.Available,
		Value:      st.Value,
		Unit:       d.Unit,
		Attributes: st.Attributes,
		Protocol:   Protocol,
	}
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates MQTT or the PLC poll is failing.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the operational status of the bridge.
// Topic: graylogic/health/cybro
// QoS: 1, Retained: Yes
// Interval: Every 30 seconds
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// Connection describes the SCGI server and PLC.
	Connection *ConnectionStatus `json:"connection,omitempty"`

	// Statistics contains the poll counters.
	Statistics *PollStatistics `json:"statistics,omitempty"`

	// EntitiesManaged is the number of exposed entities.
	EntitiesManaged int `json:"entities_managed"`

	// Reason explains a degraded or stopping status.
	Reason string `json:"reason,omitempty"`
}

// ConnectionStatus describes the PLC link.
type ConnectionStatus struct {
	// Status is "connected" after a successful poll, else "disconnected".
	Status string `json:"status"`

	// Address is the SCGI server address.
	Address string `json:"address"`

	// NAD is the PLC network address.
	NAD int `json:"nad"`

	// IPPort is the PLC's own address as reported by the server.
	IPPort string `json:"ip_port,omitempty"`

	// ServerVersion is the SCGI server version.
	ServerVersion string `json:"server_version,omitempty"`

	// LastSuccess is when the last poll succeeded.
	LastSuccess *time.Time `json:"last_success,omitempty"`
}

// PollStatistics contains the coordinator's poll counters.
type PollStatistics struct {
	SuccessfulPolls     uint64 `json:"successful_polls"`
	FailedPolls         uint64 `json:"failed_polls"`
	ConsecutiveFailures uint64 `json:"consecutive_failures"`
	LastError           string `json:"last_error,omitempty"`
}
