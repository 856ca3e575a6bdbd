package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteReading mirrors one collected sample into the time-series store.
//
// The write is non-blocking; points are batched and sent asynchronously.
// Tags stay low-cardinality: the device instance, the point identifier
// ("analogInput:3") and its category.
//
// Example:
//
//	client.WriteReading(3001, "analogInput:1", "analog", 21.5, "good", at)
func (c *Client) WriteReading(deviceID int, point string, category string, value float64, quality string, at time.Time) {
	if !c.IsConnected() {
		return
	}

	p := write.NewPoint(
		"readings",
		map[string]string{
			"device_id": strconv.Itoa(deviceID),
			"point":     point,
			"category":  category,
		},
		map[string]interface{}{
			"value":   value,
			"quality": quality,
		},
		at,
	)

	c.writeAPI.WritePoint(p)
}

// WriteAnomalyScore records an ensemble score for a scored reading.
//
// Scores are written for every scored sample, not just anomalous ones,
// so dashboards can trend how close a point runs to its thresholds.
func (c *Client) WriteAnomalyScore(deviceID int, point string, score float64, anomalous bool, at time.Time) {
	if !c.IsConnected() {
		return
	}

	p := write.NewPoint(
		"anomaly_scores",
		map[string]string{
			"device_id": strconv.Itoa(deviceID),
			"point":     point,
		},
		map[string]interface{}{
			"score":     score,
			"anomalous": anomalous,
		},
		at,
	)

	c.writeAPI.WritePoint(p)
}

// WriteCycleStats records collection cycle health for dashboards.
func (c *Client) WriteCycleStats(devices, pointsRead, pointsFailed, anomalies int, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	p := write.NewPoint(
		"collection_cycles",
		nil,
		map[string]interface{}{
			"devices":       devices,
			"points_read":   pointsRead,
			"points_failed": pointsFailed,
			"anomalies":     anomalies,
			"duration_ms":   duration.Milliseconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(p)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
