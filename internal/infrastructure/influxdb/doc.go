// Package influxdb provides InfluxDB connectivity for BACmon Core.
//
// It wraps the official influxdb-client-go v2 library with BACmon-specific
// patterns for connection management, metric writing, and health monitoring.
//
// # Purpose
//
// This package mirrors operational data into time-series storage:
//   - Collected point readings
//   - Anomaly ensemble scores
//   - Collection cycle statistics
//
// SQLite remains the system of record; InfluxDB is a write-only mirror
// for dashboards and long-range trending, and the monitor keeps running
// when it is disabled or down.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "bacmon",
//	    Bucket: "telemetry",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteReading(3001, "analogInput:1", "analog", 21.5, "good", time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection and health check errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
// This reduces network overhead for high-frequency telemetry data.
package influxdb
