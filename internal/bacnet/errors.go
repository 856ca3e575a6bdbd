package bacnet

import (
	"errors"
	"fmt"
)

// Sentinel errors for the bacnet package.
var (
	// ErrTimeout is returned when a gateway request exceeds its deadline.
	ErrTimeout = errors.New("bacnet: request timed out")

	// ErrGatewayUnavailable is returned when the gateway service itself
	// cannot be reached.
	ErrGatewayUnavailable = errors.New("bacnet: gateway unavailable")
)

// ConnectivityError reports that a device could not be reached at all.
// It is distinct from a ProtocolError: connectivity failures are
// evidence the device may be offline.
type ConnectivityError struct {
	// DeviceID is the BACnet instance number of the unreachable device.
	// Zero when the gateway itself was unreachable.
	DeviceID int

	// Addr is the network address that failed, when known.
	Addr string

	// Err is the underlying cause.
	Err error
}

func (e *ConnectivityError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("bacnet: device %d unreachable at %s: %v", e.DeviceID, e.Addr, e.Err)
	}
	return fmt.Sprintf("bacnet: device %d unreachable: %v", e.DeviceID, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// ProtocolError reports that a device answered but the operation failed,
// e.g. an unknown property or a rejected read. The device is alive.
type ProtocolError struct {
	// DeviceID is the BACnet instance number of the answering device.
	DeviceID int

	// Operation names the failed request (e.g. "readProperty").
	Operation string

	// Reason is the gateway- or device-reported failure description.
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("bacnet: device %d %s failed: %s", e.DeviceID, e.Operation, e.Reason)
}

// IsConnectivity reports whether err is (or wraps) a ConnectivityError.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}
