package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementEntityState = "cybro_entity"
	measurementPoll        = "cybro_poll"
)

// Sample is one numeric entity reading.
type Sample struct {
	// EntityID is the entity's unique id (e.g. "c1000.th00_temperature").
	EntityID string

	// DeviceID groups entities (e.g. "1000.temperatures").
	DeviceID string

	DeviceClass string
	Unit        string
	Value       float64
}

// WriteSamples records the numeric entity readings of one poll.
//
// Each sample becomes a point in the cybro_entity measurement, tagged by
// PLC address, entity, device, device class and unit. All points share
// the timestamp at.
//
// Example:
//
//	client.WriteSamples(1000, []influxdb.Sample{
//	    {EntityID: "c1000.th00_temperature", DeviceID: "1000.temperatures", Unit: "°C", Value: 21.5},
//	}, time.Now())
func (c *Client) WriteSamples(nad int, samples []Sample, at time.Time) {
	if !c.IsConnected() || len(samples) == 0 {
		return
	}

	nadTag := strconv.Itoa(nad)
	for _, s := range samples {
		tags := map[string]string{
			"nad":       nadTag,
			"entity_id": s.EntityID,
		}
		if s.DeviceID != "" {
			tags["device_id"] = s.DeviceID
		}
		if s.DeviceClass != "" {
			tags["device_class"] = s.DeviceClass
		}
		if s.Unit != "" {
			tags["unit"] = s.Unit
		}

		c.writeAPI.WritePoint(write.NewPoint(
			measurementEntityState,
			tags,
			map[string]interface{}{"value": s.Value},
			at,
		))
	}
}

// WritePoll records the outcome of one coordinator poll.
//
// Parameters:
//   - nad: PLC network address
//   - success: whether the poll succeeded
//   - full: whether it was a full update
//   - duration: how long the poll took
//   - vars: number of variables in the resulting snapshot
func (c *Client) WritePoll(nad int, success, full bool, duration time.Duration, vars int) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		measurementPoll,
		map[string]string{
			"nad":  strconv.Itoa(nad),
			"full": strconv.FormatBool(full),
		},
		map[string]interface{}{
			"success":     success,
			"duration_ms": float64(duration.Microseconds()) / 1000,
			"vars":        vars,
		},
		time.Now(),
	))
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
