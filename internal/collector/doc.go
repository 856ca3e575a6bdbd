// Package collector samples present values from cataloged devices on a
// fixed cadence and stores the readings together with their anomaly
// assessments.
//
// A collection cycle walks every online, cataloged device. Devices are
// processed concurrently on a bounded worker pool while the points of a
// single device are read sequentially, in batches, so one slow
// controller never stalls the rest of the site. A cheap probe read runs
// before the batches; a device that fails the probe is marked offline
// and skipped for the rest of the cycle.
//
// Faults are isolated at the point level: a point that keeps failing is
// counted and skipped while its siblings are still sampled. Only a
// device-level connectivity failure abandons the device's remaining
// batches.
package collector
