package collector

import (
	"strings"

	"github.com/spf13/cast"

	"github.com/MarkHash/bacmon-core/internal/bacnet"
	"github.com/MarkHash/bacmon-core/internal/device"
)

// normalizeValue derives the numeric form of a present value. Analog
// and multi-state reads arrive as numbers; binary reads arrive as
// state text that maps onto 0/1. Values with no numeric reading keep a
// nil numeric and are excluded from anomaly scoring.
func normalizeValue(category device.Category, v bacnet.Value) *float64 {
	switch v.Kind {
	case bacnet.KindReal:
		f := v.Real
		return &f
	case bacnet.KindText:
		if category == device.CategoryBinary {
			if f, ok := binaryStateValue(v.Text); ok {
				return &f
			}
		}
		f, err := cast.ToFloat64E(strings.TrimSpace(v.Text))
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

// binaryStateValue maps BACnet binary state text onto 0/1.
func binaryStateValue(s string) (float64, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active", "on", "true", "1":
		return 1, true
	case "inactive", "off", "false", "0":
		return 0, true
	default:
		return 0, false
	}
}
