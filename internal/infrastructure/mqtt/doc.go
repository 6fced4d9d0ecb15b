// Package mqtt provides MQTT client connectivity for the Cybro bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Topic builders for bridge state, availability, health and
//     Home Assistant discovery
//
// # Architecture
//
// The bridge polls the PLC and publishes entity state to the broker,
// where Gray Logic Core and Home Assistant consume it.
//
//	Cybro SCGI server ↔ cybro bridge → MQTT broker → Core / Home Assistant
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	will := mqtt.Will{Topic: mqtt.Topics{}.BridgeAvailability("cybro"), Payload: "offline", QoS: 1, Retained: true}
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.WithWill(will, "online"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.BridgeState("cybro", "c1000.scan_time")
//	client.PublishRetained(topic, []byte(`{"available":true,"value":12}`))
package mqtt
