package mqtt

import "fmt"

// Topic prefixes for the Tuya Hub MQTT hierarchy.
//
// Adapter topics use the flat scheme: tuyahub/{category}/{adapter}/{id}
// where adapter names the LAN adapter process (for example "lan").
const (
	// TopicPrefixAdapter is the base for all adapter topics.
	// Flat scheme: tuyahub/{category}/{adapter}/{id}
	TopicPrefixAdapter = "tuyahub"

	// TopicPrefixCore is the base for all hub core topics.
	TopicPrefixCore = "tuyahub/core"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "tuyahub/system"
)

// Topics provides builders for Tuya Hub MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	reqTopic := topics.AdapterRequest("lan", "req-abc123")
//	// Returns: "tuyahub/request/lan/req-abc123"
type Topics struct{}

// AdapterRequest returns the topic for requests to a LAN adapter.
//
// Example: tuyahub/request/lan/req-abc123
func (Topics) AdapterRequest(adapter, requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefixAdapter, adapter, requestID)
}

// AdapterResponse returns the topic for request responses from a LAN adapter.
//
// Example: tuyahub/response/lan/req-abc123
func (Topics) AdapterResponse(adapter, requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefixAdapter, adapter, requestID)
}

// AdapterState returns the topic for unsolicited device state reports
// pushed by a LAN adapter.
//
// Example: tuyahub/state/lan/bf83c0a2
func (Topics) AdapterState(adapter, deviceID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixAdapter, adapter, deviceID)
}

// AdapterHealth returns the topic for adapter health status.
//
// Example: tuyahub/health/lan
func (Topics) AdapterHealth(adapter string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixAdapter, adapter)
}

// CoreDeviceState returns the canonical device state topic.
// This is the authoritative state published by the hub after a poll
// or control operation.
//
// Example: tuyahub/core/device/bf83c0a2/state
func (Topics) CoreDeviceState(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/state", TopicPrefixCore, deviceID)
}

// CoreEvent returns the topic for hub events.
//
// Example: tuyahub/core/event/device_state_changed
func (Topics) CoreEvent(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixCore, eventType)
}

// SystemStatus returns the hub status topic. Used for the LWT payload.
//
// Example: tuyahub/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllAdapterResponses returns a pattern matching all adapter response topics.
//
// Pattern: tuyahub/response/+/+
func (Topics) AllAdapterResponses() string {
	return fmt.Sprintf("%s/response/+/+", TopicPrefixAdapter)
}

// AllAdapterStates returns a pattern matching all adapter state reports.
//
// Pattern: tuyahub/state/+/+
func (Topics) AllAdapterStates() string {
	return fmt.Sprintf("%s/state/+/+", TopicPrefixAdapter)
}

// AllAdapterHealth returns a pattern matching all adapter health updates.
//
// Pattern: tuyahub/health/+
func (Topics) AllAdapterHealth() string {
	return fmt.Sprintf("%s/health/+", TopicPrefixAdapter)
}

// AllTopics returns a pattern matching all Tuya Hub topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: tuyahub/#
func (Topics) AllTopics() string {
	return "tuyahub/#"
}
