package bacnet

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Standard BACnet property names used by the monitoring core.
const (
	PropertyPresentValue     = "presentValue"
	PropertyObjectName       = "objectName"
	PropertyObjectList       = "objectList"
	PropertyUnits            = "units"
	PropertyVendorIdentifier = "vendorIdentifier"
	PropertyVendorName       = "vendorName"
	PropertyModelName        = "modelName"
)

// ObjectRef identifies one object on a device.
type ObjectRef struct {
	Type     string `json:"object_type"`
	Instance int    `json:"instance"`
}

// String renders the canonical "type:instance" form.
func (o ObjectRef) String() string {
	return fmt.Sprintf("%s:%d", o.Type, o.Instance)
}

// ParseObjectRef parses the canonical "type:instance" form.
func ParseObjectRef(s string) (ObjectRef, error) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return ObjectRef{}, fmt.Errorf("bacnet: malformed object reference %q", s)
	}
	instance, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return ObjectRef{}, fmt.Errorf("bacnet: malformed object instance in %q: %w", s, err)
	}
	return ObjectRef{Type: s[:idx], Instance: instance}, nil
}

// Kind discriminates the variants of a Value.
type Kind int

// Value kinds.
const (
	KindNull Kind = iota
	KindReal
	KindText
	KindList
)

// Value is the tagged union of property values a device can return.
// Exactly one variant field is meaningful, selected by Kind.
type Value struct {
	Kind Kind

	// Real holds numeric values (KindReal).
	Real float64

	// Text holds string and enumerated values (KindText).
	Text string

	// List holds object identifier lists (KindList), e.g. objectList.
	List []ObjectRef
}

// RealValue constructs a numeric value.
func RealValue(f float64) Value { return Value{Kind: KindReal, Real: f} }

// TextValue constructs a text value.
func TextValue(s string) Value { return Value{Kind: KindText, Text: s} }

// ListValue constructs an object list value.
func ListValue(refs []ObjectRef) Value { return Value{Kind: KindList, List: refs} }

// String renders the value for storage and logging.
func (v Value) String() string {
	switch v.Kind {
	case KindReal:
		return strconv.FormatFloat(v.Real, 'f', -1, 64)
	case KindText:
		return v.Text
	case KindList:
		parts := make([]string, len(v.List))
		for i, ref := range v.List {
			parts[i] = ref.String()
		}
		return strings.Join(parts, ",")
	default:
		return ""
	}
}

// decodeValue maps a raw gateway JSON value onto the tagged union.
// Numbers become KindReal, strings KindText, arrays KindList, and
// JSON null KindNull.
func decodeValue(raw json.RawMessage) (Value, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Value{Kind: KindNull}, nil
	}

	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return RealValue(num), nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return TextValue(text), nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		refs := make([]ObjectRef, 0, len(items))
		for _, item := range items {
			ref, err := decodeObjectRef(item)
			if err != nil {
				return Value{}, err
			}
			refs = append(refs, ref)
		}
		return ListValue(refs), nil
	}

	return Value{}, fmt.Errorf("bacnet: undecodable property value %s", string(raw))
}

// decodeObjectRef accepts both the object form {"object_type": ...,
// "instance": ...} and the compact "type:instance" string form.
func decodeObjectRef(raw json.RawMessage) (ObjectRef, error) {
	var compact string
	if err := json.Unmarshal(raw, &compact); err == nil {
		return ParseObjectRef(compact)
	}

	var ref ObjectRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return ObjectRef{}, fmt.Errorf("bacnet: undecodable object reference %s", string(raw))
	}
	if ref.Type == "" {
		return ObjectRef{}, fmt.Errorf("bacnet: object reference missing type: %s", string(raw))
	}
	return ref, nil
}

// DiscoveredDevice is one I-Am announcement from a discovery broadcast.
type DiscoveredDevice struct {
	DeviceID   int     `json:"device_id"`
	Address    string  `json:"address"`
	VendorID   *int    `json:"vendor_id,omitempty"`
	VendorName *string `json:"vendor_name,omitempty"`
	ModelName  *string `json:"model_name,omitempty"`
}

// ReadRequest asks for one property of one object.
type ReadRequest struct {
	Object   ObjectRef
	Property string
}

// ReadResult carries the outcome of one ReadRequest. Err is non-nil
// when that individual read failed; other reads in the same batch are
// unaffected.
type ReadResult struct {
	Object   ObjectRef
	Property string
	Value    Value
	Err      error
}

// Transport is the device communication abstraction.
//
// Implementations must be safe for concurrent use: the collector reads
// from multiple devices in parallel.
type Transport interface {
	// BroadcastDiscover sends a Who-Is broadcast and collects I-Am
	// replies until the configured discovery window closes.
	BroadcastDiscover(ctx context.Context) ([]DiscoveredDevice, error)

	// ReadProperty reads one property of one object on a device.
	ReadProperty(ctx context.Context, deviceID int, addr string, req ReadRequest) (Value, error)

	// ReadBatch reads several properties from one device in a single
	// round trip. A failed individual read is reported in its
	// ReadResult; the returned error is reserved for device-level
	// failures where no result came back at all.
	ReadBatch(ctx context.Context, deviceID int, addr string, reqs []ReadRequest) ([]ReadResult, error)

	// HealthCheck verifies the gateway service is reachable.
	HealthCheck(ctx context.Context) error
}
