// Package influxdb writes the hub's occupancy history to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health checks.
//
// # Measurements
//
//   - presence: one point per arrival or departure, tagged with user and
//     kind, carrying the resulting occupancy
//   - event_bus: periodic snapshots of the bus counters
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WritePresence("alice", "enter", 1, time.Now())
//
// # Error Handling
//
// Writes are non-blocking; batch errors are delivered to the callback set
// with SetOnError. Connection and health check errors are returned directly.
package influxdb
