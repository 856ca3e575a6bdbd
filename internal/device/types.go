package device

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Device represents a field controller discovered on the BACnet network.
// This matches the database schema in migrations/20260815_120000_initial_schema.up.sql.
type Device struct {
	// ID is the internal UUID primary key.
	ID string `json:"id"`

	// DeviceID is the BACnet device instance number. Unique per network.
	DeviceID int `json:"device_id"`

	// Address is the network address the device answered from
	// (e.g. "192.168.1.20:47808").
	Address string `json:"address"`

	// Vendor metadata read from the device object. Optional; devices
	// that never answered a vendor query leave these nil.
	VendorID   *int    `json:"vendor_id,omitempty"`
	VendorName *string `json:"vendor_name,omitempty"`
	ModelName  *string `json:"model_name,omitempty"`

	// Online reflects the last known reachability of the device.
	Online bool `json:"online"`

	// PointsCataloged is true once the point catalog has been built.
	PointsCataloged bool `json:"points_cataloged"`

	// FirstSeen is when the device first answered a discovery broadcast.
	FirstSeen time.Time `json:"first_seen"`

	// LastSeen is the most recent successful communication.
	LastSeen time.Time `json:"last_seen"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Point represents a single monitorable object on a device.
type Point struct {
	// ID is the internal UUID primary key.
	ID string `json:"id"`

	// DeviceID is the owning device's internal UUID.
	DeviceID string `json:"device_id"`

	// ObjectType is the BACnet object type (e.g. "analogInput").
	ObjectType ObjectType `json:"object_type"`

	// InstanceNumber is the object instance within its type.
	InstanceNumber int `json:"instance_number"`

	// Name is the object's reported name. Optional.
	Name *string `json:"name,omitempty"`

	// Units is the engineering unit string for analog points. Optional.
	Units *string `json:"units,omitempty"`

	// Category is the coarse classification derived from ObjectType.
	Category Category `json:"category"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Identifier returns the canonical "type:instance" form of the point,
// e.g. "analogInput:3".
func (p *Point) Identifier() string {
	return fmt.Sprintf("%s:%d", p.ObjectType, p.InstanceNumber)
}

// Reading is a single collected present-value sample. Readings are
// append-only; a stored reading is never modified.
type Reading struct {
	// ID is the internal UUID primary key.
	ID string `json:"id"`

	// PointID is the sampled point's internal UUID.
	PointID string `json:"point_id"`

	// Value is the raw value as reported, rendered as a string.
	Value string `json:"value"`

	// Numeric is the parsed numeric value for analog points.
	// Nil when the value is non-numeric.
	Numeric *float64 `json:"numeric,omitempty"`

	// Quality records whether the sample was read cleanly.
	Quality Quality `json:"quality"`

	// CollectedAt is when the sample was taken.
	CollectedAt time.Time `json:"collected_at"`
}

// DeviceStatusRecord is one row of a device's online/offline history.
type DeviceStatusRecord struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	Online     bool      `json:"online"`
	Reason     *string   `json:"reason,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ObjectType identifies a BACnet object type.
type ObjectType string

// Readable object types. Points of these types carry a present value
// the collector can sample.
const (
	ObjectAnalogInput      ObjectType = "analogInput"
	ObjectAnalogOutput     ObjectType = "analogOutput"
	ObjectAnalogValue      ObjectType = "analogValue"
	ObjectBinaryInput      ObjectType = "binaryInput"
	ObjectBinaryOutput     ObjectType = "binaryOutput"
	ObjectBinaryValue      ObjectType = "binaryValue"
	ObjectMultiStateInput  ObjectType = "multiStateInput"
	ObjectMultiStateOutput ObjectType = "multiStateOutput"
	ObjectMultiStateValue  ObjectType = "multiStateValue"
)

// ObjectDevice is the device object itself. It anchors the object list
// but is never sampled as a point.
const ObjectDevice ObjectType = "device"

// ReadableObjectTypes returns the object types whose present value
// can be sampled.
func ReadableObjectTypes() []ObjectType {
	return []ObjectType{
		ObjectAnalogInput, ObjectAnalogOutput, ObjectAnalogValue,
		ObjectBinaryInput, ObjectBinaryOutput, ObjectBinaryValue,
		ObjectMultiStateInput, ObjectMultiStateOutput, ObjectMultiStateValue,
	}
}

// IsReadable reports whether points of this type can be sampled.
func (t ObjectType) IsReadable() bool {
	for _, r := range ReadableObjectTypes() {
		if t == r {
			return true
		}
	}
	return false
}

// Category is the coarse classification of a point.
type Category string

// Category constants.
const (
	CategoryAnalog     Category = "analog"
	CategoryBinary     Category = "binary"
	CategoryMultiState Category = "multistate"
	CategoryGeneric    Category = "generic"
)

// Classify maps an object type to its category. Unknown object types
// classify as generic rather than being rejected, so a device exposing
// proprietary objects still catalogs completely.
func Classify(t ObjectType) Category {
	switch t {
	case ObjectAnalogInput, ObjectAnalogOutput, ObjectAnalogValue:
		return CategoryAnalog
	case ObjectBinaryInput, ObjectBinaryOutput, ObjectBinaryValue:
		return CategoryBinary
	case ObjectMultiStateInput, ObjectMultiStateOutput, ObjectMultiStateValue:
		return CategoryMultiState
	default:
		return CategoryGeneric
	}
}

// IsAnalog reports whether the category carries numeric values
// suitable for anomaly scoring.
func (c Category) IsAnalog() bool {
	return c == CategoryAnalog
}

// Quality describes how a reading was obtained.
type Quality string

// Quality constants.
const (
	QualityGood  Quality = "good"
	QualityRetry Quality = "retry"
)

// GenerateID creates a new unique identifier for entities.
func GenerateID() string {
	return uuid.New().String()
}
