package collector

import (
	"context"
	"errors"
	"strings"

	"github.com/MarkHash/bacmon-core/internal/bacnet"
)

// FailureKind classifies why one point read failed.
type FailureKind string

const (
	// FailureTimeout means the read exceeded its deadline.
	FailureTimeout FailureKind = "timeout"

	// FailureProtocol means the device answered but rejected the read.
	FailureProtocol FailureKind = "protocol"

	// FailureUnsupported means the device does not expose the property.
	FailureUnsupported FailureKind = "unsupported"

	// FailureConnectivity means the device stopped answering entirely.
	FailureConnectivity FailureKind = "connectivity"
)

// PointFailure records one point whose value could not be collected
// during a cycle.
type PointFailure struct {
	DeviceID int         `json:"device_id"`
	Point    string      `json:"point"`
	Kind     FailureKind `json:"kind"`
	Error    string      `json:"error"`
}

// classifyFailure maps a read error to its failure kind.
func classifyFailure(err error) FailureKind {
	if errors.Is(err, bacnet.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	if bacnet.IsConnectivity(err) {
		return FailureConnectivity
	}
	var pe *bacnet.ProtocolError
	if errors.As(err, &pe) {
		reason := strings.ToLower(pe.Reason)
		if strings.Contains(reason, "unsupported") || strings.Contains(reason, "unknown-property") {
			return FailureUnsupported
		}
	}
	return FailureProtocol
}
