// Package cybro bridges a Cybro PLC, polled through its SCGI server, to the
// Gray Logic MQTT bus.
//
// The bridge listens on the update coordinator. On the first successful
// poll it classifies the PLC's variables into sensor and binary sensor
// entities, registers them in the entity registry and publishes Home
// Assistant discovery configs. After every poll it publishes:
//
//   - bridge availability on graylogic/availability/cybro ("online" or
//     "offline", retained)
//   - changed entity states on graylogic/state/cybro/{unique_id} (JSON,
//     retained)
//   - bridge health on graylogic/health/cybro every 30 seconds
//
// Numeric values are also written to InfluxDB when telemetry is enabled.
//
// Usage:
//
//	b, err := cybro.NewBridge(cybro.Options{
//	    NAD:              1000,
//	    DiscoveryEnabled: true,
//	    MQTT:             mqttClient,
//	    Coordinator:      coord,
//	    Tracker:          scgiClient,
//	    Registry:         registry,
//	})
//	if err != nil {
//	    return err
//	}
//	b.Start(ctx)
//	defer b.Stop()
package cybro
