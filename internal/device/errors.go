package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID or name resolves to nothing.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrNotControllable is returned when a write is attempted on a sensor,
	// gateway or other read-only device.
	ErrNotControllable = errors.New("device: not controllable")

	// ErrNoAddress is returned when a device has no usable LAN address.
	ErrNoAddress = errors.New("device: no LAN address")

	// ErrGatewayNotFound is returned when a sub device references a parent
	// gateway that is not in the catalogue.
	ErrGatewayNotFound = errors.New("device: gateway not found")

	// ErrUnreachable is returned when the device link could not reach the
	// device within its retry budget.
	ErrUnreachable = errors.New("device: unreachable")

	// ErrInvalidChannel is returned when a command names a channel the
	// device does not expose.
	ErrInvalidChannel = errors.New("device: invalid channel")

	// ErrSettingNotFound is returned when a settings key does not exist.
	ErrSettingNotFound = errors.New("device: setting not found")

	// ErrTimerNotFound is returned when cancelling a timer that is not set.
	ErrTimerNotFound = errors.New("device: timer not found")
)
