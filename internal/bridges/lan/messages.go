package lan

import "time"

// MQTT message types for communication between the hub core and the LAN
// adapter process. The adapter owns the Tuya LAN sockets; the core only
// ever sees these envelopes.

// Op names a request operation.
type Op string

const (
	// OpStatus asks the adapter for the device's current channel values.
	OpStatus Op = "status"

	// OpSet writes an arbitrary value to one channel.
	OpSet Op = "set"

	// OpTurnOn switches a boolean channel on.
	OpTurnOn Op = "turn_on"

	// OpTurnOff switches a boolean channel off.
	OpTurnOff Op = "turn_off"
)

// RequestMessage is sent from the core to the adapter.
// Topic: tuyahub/request/{adapter}/{device_id}
type RequestMessage struct {
	// ID uniquely identifies this request for correlation with the response.
	ID string `json:"id"`

	// Timestamp is when the request was issued (UTC).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the catalogue device identifier.
	DeviceID string `json:"device_id"`

	// Op is the operation to perform.
	Op Op `json:"op"`

	// ChannelID names the target channel for set/on/off operations.
	ChannelID string `json:"channel_id,omitempty"`

	// Value is the value to write for OpSet.
	Value any `json:"value,omitempty"`

	// Connection details the adapter needs to reach the device. Sub
	// devices carry their parent gateway's address and key plus their
	// own NodeID.
	Address         string `json:"address"`
	CredentialKey   string `json:"credential_key"`
	ProtocolVersion string `json:"protocol_version"`
	NodeID          string `json:"node_id,omitempty"`
}

// ResponseMessage is sent from the adapter back to the core.
// Topic: tuyahub/response/{adapter}/{device_id}
type ResponseMessage struct {
	// RequestID is the ID from the original request.
	RequestID string `json:"request_id"`

	// Timestamp is when the response was sent (UTC).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the catalogue device identifier.
	DeviceID string `json:"device_id"`

	// OK reports whether the operation succeeded.
	OK bool `json:"ok"`

	// Values holds channel values for status responses. May be partial;
	// the core merges it over the last known state.
	Values map[string]any `json:"values,omitempty"`

	// Error describes the failure when OK is false.
	Error string `json:"error,omitempty"`
}

// StateMessage is published by the adapter when a device pushes an
// unsolicited state report.
// Topic: tuyahub/state/{adapter}/{device_id}
type StateMessage struct {
	Timestamp time.Time      `json:"timestamp"`
	DeviceID  string         `json:"device_id"`
	Values    map[string]any `json:"values"`
}
