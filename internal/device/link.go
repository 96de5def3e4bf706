package device

import "context"

// LinkConfig carries everything a link needs to reach one device.
type LinkConfig struct {
	// DeviceID is the catalogue ID of the target device.
	DeviceID string

	// Address is the LAN address to dial. For sub devices this is the
	// parent gateway's address.
	Address string

	// CredentialKey is the device's local encryption key. Sub devices
	// use the parent gateway's key.
	CredentialKey string

	// ProtocolVersion selects the local protocol dialect (e.g. "3.3").
	ProtocolVersion string

	// NodeID addresses a child device behind a gateway. Empty for
	// devices dialled directly.
	NodeID string
}

// Link is the hub's handle to one device's local connection.
//
// Implementations keep the underlying socket open between calls so a
// poll sweep does not pay a handshake per device. All methods honour
// context cancellation and apply the link's configured retry budget.
type Link interface {
	// Status reads the device's current channel values.
	// The returned map uses channel IDs as keys ("1", "20", ...).
	Status(ctx context.Context) (map[string]any, error)

	// SetValue writes a single channel value.
	SetValue(ctx context.Context, channelID string, value any) error

	// TurnOn switches a boolean channel on.
	TurnOn(ctx context.Context, channelID string) error

	// TurnOff switches a boolean channel off.
	TurnOff(ctx context.Context, channelID string) error

	// Close releases the underlying connection. Safe to call twice.
	Close() error
}

// LinkFactory creates links. The registry uses a factory so transports
// (MQTT relay, in-process fakes for tests) are interchangeable.
type LinkFactory interface {
	NewLink(cfg LinkConfig) (Link, error)
}

// LinkFactoryFunc adapts a function to the LinkFactory interface.
type LinkFactoryFunc func(cfg LinkConfig) (Link, error)

// NewLink calls f.
func (f LinkFactoryFunc) NewLink(cfg LinkConfig) (Link, error) {
	return f(cfg)
}
