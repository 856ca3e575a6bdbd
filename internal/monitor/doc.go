// Package monitor orchestrates the monitoring lifecycle: scheduled
// discovery sweeps, catalog builds for newly registered devices,
// collection cycles and stale-device demotion.
//
// The Service owns a cron scheduler and fans results out to the
// operational surfaces: anomaly events and cycle summaries are
// published over MQTT, and every stored reading is mirrored into
// InfluxDB. Both surfaces are optional; the service runs with either
// or both absent, and SQLite remains the system of record.
//
// The same operations the scheduler runs are exposed as methods so the
// HTTP API can trigger them on demand.
package monitor
