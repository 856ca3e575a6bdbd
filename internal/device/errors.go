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
	// ErrDeviceNotFound is returned when a device does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when creating a device whose BACnet
	// instance number is already registered.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrPointNotFound is returned when a point does not exist.
	ErrPointNotFound = errors.New("device: point not found")

	// ErrReadingNotFound is returned when no readings exist for a point.
	ErrReadingNotFound = errors.New("device: reading not found")

	// ErrNotCataloged is returned when an operation requires a built
	// point catalog and the device has none.
	ErrNotCataloged = errors.New("device: points not cataloged")
)
