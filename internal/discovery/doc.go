// Package discovery turns the raw BACnet network into the device and
// point catalog the collector works from.
//
// The Engine runs Who-Is broadcast sweeps: every device that answers is
// registered (or refreshed) in the device registry, except the monitor's
// own device instance. Sweeps are serialised; a second sweep requested
// while one is running is rejected with ErrSweepInProgress rather than
// queued, since overlapping broadcasts would just duplicate each other's
// answers.
//
// The CatalogBuilder enumerates a single device: it reads the device
// object's objectList, stores every object as a point, reads each
// point's name (and units for analog points), and upserts the results.
// Object types without a sampleable present value are retained with the
// generic category; the collector leaves them alone. Cataloging is
// idempotent; re-running it refreshes names and units without
// duplicating points.
package discovery
