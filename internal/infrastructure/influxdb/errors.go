package influxdb

import "errors"

// Errors from the occupancy exporter. None of them stop the hub: presence
// tracking carries on without a time-series history.
var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: occupancy export disabled")

	ErrConnectionFailed = errors.New("influxdb: server unreachable")

	// ErrNotConnected is returned once the client has been closed.
	ErrNotConnected = errors.New("influxdb: client closed")

	// ErrWriteFailed wraps batch failures delivered through SetOnError. The
	// points of a failed batch are lost.
	ErrWriteFailed = errors.New("influxdb: batch rejected")
)
