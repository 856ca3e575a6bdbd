// Package api implements the HTTP REST API for BACmon Core.
//
// This package provides:
//   - REST endpoints for devices, point catalogs and collected readings
//   - On-demand triggers for discovery sweeps, catalog builds and
//     collection cycles
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server sits between operator tooling and the monitoring
// pipeline. Reads are served from the device registry and repositories;
// operation triggers delegate to the monitor service, which publishes
// outcomes over MQTT exactly as the scheduled runs do.
//
// # Graceful Degradation
//
// The server operates without MQTT or InfluxDB configured; the health
// endpoint simply reports fewer components.
package api
