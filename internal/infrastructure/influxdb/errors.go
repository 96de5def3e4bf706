package influxdb

import "errors"

var (
	// ErrNotConnected means the client has been closed or never connected.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed means the initial ping to the server failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled means the integration is switched off in config.yaml.
	// Callers treat this as "run without metrics", not as a failure.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
