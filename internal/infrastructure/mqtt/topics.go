package mqtt

import "fmt"

// Topic prefixes for the BACmon MQTT hierarchy.
//
// All topics use the flat scheme: bacmon/{category}/{id...}
const (
	// TopicPrefix is the base for all BACmon topics.
	TopicPrefix = "bacmon"

	// TopicPrefixDevice is the base for per-device topics.
	TopicPrefixDevice = "bacmon/device"

	// TopicPrefixAnomaly is the base for anomaly event topics.
	TopicPrefixAnomaly = "bacmon/anomaly"

	// TopicPrefixCycle is the base for cycle summary topics.
	TopicPrefixCycle = "bacmon/cycle"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "bacmon/system"
)

// Topics provides builders for BACmon MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topic := topics.Anomaly(3001, "analogInput:1")
//	// Returns: "bacmon/anomaly/3001/analogInput:1"
type Topics struct{}

// =============================================================================
// Device Topics
// =============================================================================

// DeviceDiscovered returns the topic announcing a newly registered device.
//
// Example: bacmon/device/3001/discovered
func (Topics) DeviceDiscovered(deviceID int) string {
	return fmt.Sprintf("%s/%d/discovered", TopicPrefixDevice, deviceID)
}

// DeviceStatus returns the topic for online/offline transitions.
//
// Example: bacmon/device/3001/status
func (Topics) DeviceStatus(deviceID int) string {
	return fmt.Sprintf("%s/%d/status", TopicPrefixDevice, deviceID)
}

// DeviceCataloged returns the topic announcing a completed point catalog.
//
// Example: bacmon/device/3001/cataloged
func (Topics) DeviceCataloged(deviceID int) string {
	return fmt.Sprintf("%s/%d/cataloged", TopicPrefixDevice, deviceID)
}

// =============================================================================
// Anomaly Topics
// =============================================================================

// Anomaly returns the topic for anomaly events on one point.
//
// Example: bacmon/anomaly/3001/analogInput:1
func (Topics) Anomaly(deviceID int, point string) string {
	return fmt.Sprintf("%s/%d/%s", TopicPrefixAnomaly, deviceID, point)
}

// =============================================================================
// Cycle Topics
// =============================================================================

// CollectionCycle returns the topic for collection cycle summaries.
//
// Example: bacmon/cycle/collection
func (Topics) CollectionCycle() string {
	return fmt.Sprintf("%s/collection", TopicPrefixCycle)
}

// DiscoverySweep returns the topic for discovery sweep summaries.
//
// Example: bacmon/cycle/discovery
func (Topics) DiscoverySweep() string {
	return fmt.Sprintf("%s/discovery", TopicPrefixCycle)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the system status topic.
//
// Example: bacmon/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllDeviceStatus returns a pattern matching all device status topics.
//
// Pattern: bacmon/device/+/status
func (Topics) AllDeviceStatus() string {
	return fmt.Sprintf("%s/+/status", TopicPrefixDevice)
}

// AllAnomalies returns a pattern matching all anomaly events.
//
// Pattern: bacmon/anomaly/+/+
func (Topics) AllAnomalies() string {
	return fmt.Sprintf("%s/+/+", TopicPrefixAnomaly)
}

// AllCycles returns a pattern matching all cycle summaries.
//
// Pattern: bacmon/cycle/+
func (Topics) AllCycles() string {
	return fmt.Sprintf("%s/+", TopicPrefixCycle)
}

// AllTopics returns a pattern matching all BACmon topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: bacmon/#
func (Topics) AllTopics() string {
	return "bacmon/#"
}
