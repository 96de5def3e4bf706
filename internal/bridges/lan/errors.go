package lan

import "errors"

var (
	// ErrNotStarted is returned when a link is used before Factory.Start.
	ErrNotStarted = errors.New("lan: factory not started")

	// ErrNotConnected is returned when the MQTT bus is down.
	ErrNotConnected = errors.New("lan: bus not connected")

	// ErrTimeout is returned when the adapter does not respond in time.
	ErrTimeout = errors.New("lan: request timed out")

	// ErrAdapter is returned when the adapter reports a failure.
	ErrAdapter = errors.New("lan: adapter reported failure")
)
