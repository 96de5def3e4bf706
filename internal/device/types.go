package device

import "time"

// Class categorises a device by how the hub controls and polls it.
type Class string

// Device classes.
const (
	// ClassSwitch is a relay-style device with one or more boolean channels.
	ClassSwitch Class = "switch"

	// ClassLight is a lamp or LED controller. Controlled like a switch but
	// may carry colour and brightness channels.
	ClassLight Class = "light"

	// ClassSensor is a read-only device (temperature, motion, contact, etc.).
	ClassSensor Class = "sensor"

	// ClassGateway is a Zigbee/BLE hub that fronts child devices on its LAN
	// socket. Gateways are not controlled directly.
	ClassGateway Class = "gateway"

	// ClassIRRemote is an infrared blaster.
	ClassIRRemote Class = "ir_remote"
)

// NullAddress is the placeholder the cloud export uses for devices that
// have no LAN address. Devices carrying it cannot be reached directly.
const NullAddress = "0.0.0.0"

// DefaultProtocolVersion is assumed when the catalogue does not record a
// local protocol version for the device.
const DefaultProtocolVersion = "3.3"

// Device represents one entry in the hub's device catalogue.
// This matches the devices table in migrations/20260110_120000_initial_schema.up.sql.
type Device struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Classification
	Class    Class  `json:"class"`
	Category string `json:"category"`

	// LAN connection details. Sub devices inherit these from their parent
	// gateway at load time.
	Address         string `json:"address,omitempty"`
	CredentialKey   string `json:"-"`
	ProtocolVersion string `json:"protocol_version,omitempty"`

	// Gateway linkage. ParentID names the gateway device; NodeID is the
	// child's address on the gateway's radio network.
	ParentID string `json:"parent_id,omitempty"`
	NodeID   string `json:"node_id,omitempty"`

	// ChannelMapping describes the device's data points: channel ID to a
	// human-readable role (e.g. "1" -> "switch_1", "20" -> "switch_led").
	ChannelMapping map[string]string `json:"channel_mapping"`

	// ChannelValues holds the last known value per channel.
	ChannelValues map[string]any `json:"channel_values"`

	// Online reports whether the last poll reached the device.
	Online bool `json:"online"`

	// LastUpdate is when ChannelValues last changed.
	LastUpdate *time.Time `json:"last_update,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsGateway reports whether the device fronts child devices.
func (d *Device) IsGateway() bool {
	return d.Class == ClassGateway
}

// IsSubDevice reports whether the device is reached through a parent gateway.
func (d *Device) IsSubDevice() bool {
	return d.ParentID != ""
}

// MissingAddress reports whether the device has no usable LAN address.
// The cloud export records "0.0.0.0" for cloud-only devices.
func (d *Device) MissingAddress() bool {
	return d.Address == "" || d.Address == NullAddress
}

// Controllable reports whether the hub may write to the device.
// Sensors and gateways are read-only from the hub's perspective.
func (d *Device) Controllable() bool {
	return d.Class == ClassSwitch || d.Class == ClassLight
}

// PrimaryChannel returns the channel used when a command names no channel.
// Plain devices switch on channel "1"; some gateway children expose their
// main relay on channel "20" instead.
func (d *Device) PrimaryChannel() string {
	if _, ok := d.ChannelMapping["1"]; ok {
		return "1"
	}
	if _, ok := d.ChannelMapping["20"]; ok {
		return "20"
	}
	return "1"
}

// ChannelOn reports whether the given channel's last known value is a
// boolean true. Non-boolean and missing values report false.
func (d *Device) ChannelOn(channelID string) bool {
	v, ok := d.ChannelValues[channelID]
	if !ok {
		return false
	}
	on, ok := v.(bool)
	return ok && on
}

// DeepCopy creates a complete independent copy of the Device.
// All map fields are cloned so modifications to the copy do not affect
// the original. This is essential for cache isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d // Shallow copy of value fields

	if d.ChannelMapping != nil {
		cpy.ChannelMapping = make(map[string]string, len(d.ChannelMapping))
		for k, v := range d.ChannelMapping {
			cpy.ChannelMapping[k] = v
		}
	}

	cpy.ChannelValues = deepCopyMap(d.ChannelValues)

	if d.LastUpdate != nil {
		lu := *d.LastUpdate
		cpy.LastUpdate = &lu
	}

	return &cpy
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		// Primitives (string, bool, int, float64, etc.) are safe to copy by value
		return v
	}
}
