package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the hub.
const (
	MeasurementPresence = "presence"
	MeasurementBus      = "event_bus"
)

// WritePresence records a user arriving or leaving and the occupancy that
// resulted.
//
// Parameters:
//   - user: Tracked user name
//   - kind: "enter" or "exit"
//   - occupancy: Number of users home after the change
//   - at: When the change was observed
//
// Example:
//
//	client.WritePresence("alice", "enter", 1, time.Now())
func (c *Client) WritePresence(user, kind string, occupancy int, at time.Time) {
	c.WritePointWithTime(MeasurementPresence,
		map[string]string{
			"user": user,
			"kind": kind,
		},
		map[string]interface{}{
			"occupancy": occupancy,
		},
		at,
	)
}

// WriteBusCounters records a snapshot of event bus counters, tagged with the
// site they came from.
func (c *Client) WriteBusCounters(site string, counters map[string]uint64) {
	if len(counters) == 0 {
		return
	}
	fields := make(map[string]interface{}, len(counters))
	for k, v := range counters {
		fields[k] = v
	}
	c.WritePoint(MeasurementBus, map[string]string{"site": site}, fields)
}

// WritePoint writes a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
