// Package influxdb records PLC telemetry in InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Numeric entity
// values are written after every successful poll (measurement
// cybro_entity) together with poll outcomes (measurement cybro_poll).
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteSamples(1000, samples, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; failures arrive
// through the SetOnError callback.
package influxdb
