// Package device provides the device and point registry for BACmon Core.
//
// The registry is the central catalogue of everything discovered on the
// BACnet network: field controllers, the points they expose, and the
// readings collected from those points. It manages device lifecycle
// (discovery, catalog state, online/offline transitions) and provides
// query operations for the REST API and the monitoring service.
//
// # Key Types
//
//   - Device: a field controller, keyed internally by UUID and on the
//     network by its BACnet instance number
//   - Point: a monitorable object on a device (analogInput:3, ...)
//   - Reading: one collected present-value sample, append-only
//   - DeviceStatusRecord: one online/offline transition
//
// # Usage
//
//	// Create repository and registry
//	repo := device.NewSQLiteRepository(db)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	// Load devices into cache on startup
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	// Record a discovery announcement
//	dev := &device.Device{DeviceID: 1201, Address: "192.168.1.20:47808"}
//	created, err := registry.RegisterDiscovered(ctx, dev)
//
//	// Query devices
//	online, _ := registry.ListOnline(ctx)
//	dev, _ := registry.GetByInstance(ctx, 1201)
//
// # Thread Safety
//
// The Registry is safe for concurrent use. All operations are protected by
// a read-write mutex. The Repository implementation must also be thread-safe.
package device
