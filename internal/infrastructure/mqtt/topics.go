package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes.
//
// Bridge topics use the flat scheme graylogic/{category}/{protocol}/{id}.
// Home Assistant discovery lives under its own configurable prefix.
const (
	// TopicPrefixBridge is the base for all bridge topics.
	TopicPrefixBridge = "graylogic"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graylogic/system"

	// DefaultDiscoveryPrefix is Home Assistant's default discovery prefix.
	DefaultDiscoveryPrefix = "homeassistant"
)

// Topics provides builders for the bridge's MQTT topics.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.BridgeState("cybro", "c1000.scan_time")
//	// Returns: "graylogic/state/cybro/c1000.scan_time"
type Topics struct{}

// BridgeState returns the topic carrying one entity's state.
//
// Example: graylogic/state/cybro/c1000.scan_time
func (Topics) BridgeState(protocol, id string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixBridge, protocol, id)
}

// BridgeStates returns a pattern matching every entity state of a bridge.
//
// Pattern: graylogic/state/cybro/+
func (Topics) BridgeStates(protocol string) string {
	return fmt.Sprintf("%s/state/%s/+", TopicPrefixBridge, protocol)
}

// BridgeAvailability returns the topic carrying "online" or "offline" for
// the bridge as a whole.
//
// Example: graylogic/availability/cybro
func (Topics) BridgeAvailability(protocol string) string {
	return fmt.Sprintf("%s/availability/%s", TopicPrefixBridge, protocol)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: graylogic/health/cybro
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// SystemStatus returns the system status topic.
//
// Example: graylogic/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// Discovery returns the Home Assistant discovery config topic for an entity.
// An empty prefix selects DefaultDiscoveryPrefix.
//
// Example: homeassistant/sensor/c1000_scan_time/config
func (Topics) Discovery(prefix, platform, objectID string) string {
	if prefix == "" {
		prefix = DefaultDiscoveryPrefix
	}
	return fmt.Sprintf("%s/%s/%s/config", strings.TrimSuffix(prefix, "/"), platform, objectID)
}

// ObjectID converts a unique id into a discovery object id. Characters
// outside [a-zA-Z0-9_-] become underscores.
//
// Example: "c1000.sys.ip_port" becomes "c1000_sys_ip_port"
func ObjectID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, id)
}
