package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache keyed by internal
// UUID, with a secondary index by BACnet instance number.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating write operations.
//
// All public methods are thread-safe.
type Registry struct {
	repo       Repository
	cache      map[string]*Device // Cached devices by internal UUID
	byInstance map[int]string     // BACnet instance number -> UUID
	cacheMu    sync.RWMutex       // Protects cache and byInstance
	logger     Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:       repo,
		cache:      make(map[string]*Device),
		byInstance: make(map[int]string),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	r.byInstance = make(map[int]string, len(devices))
	for i := range devices {
		d := devices[i]
		r.store(&d)
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// store places a copy of the device into both cache indexes.
// Caller must hold cacheMu.
func (r *Registry) store(d *Device) {
	cpy := *d
	r.cache[d.ID] = &cpy
	r.byInstance[d.DeviceID] = d.ID
}

// GetDevice retrieves a device by internal UUID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		cpy := *cached
		return &cpy, nil
	}

	// Fall back to repository (might be a new device not yet cached)
	dev, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.store(dev)
	r.cacheMu.Unlock()

	return dev, nil
}

// GetByInstance retrieves a device by its BACnet instance number.
// Returns ErrDeviceNotFound if the device does not exist.
func (r *Registry) GetByInstance(ctx context.Context, deviceID int) (*Device, error) {
	r.cacheMu.RLock()
	id, ok := r.byInstance[deviceID]
	r.cacheMu.RUnlock()

	if ok {
		return r.GetDevice(ctx, id)
	}

	dev, err := r.repo.GetByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.store(dev)
	r.cacheMu.Unlock()

	return dev, nil
}

// ListDevices retrieves all devices.
// The returned devices are copies; callers can safely modify them.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			devices = append(devices, *d)
		}
		return devices, nil
	}

	return r.repo.List(ctx)
}

// ListOnline retrieves all devices currently marked online.
func (r *Registry) ListOnline(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		var devices []Device
		for _, d := range r.cache {
			if d.Online {
				devices = append(devices, *d)
			}
		}
		return devices, nil
	}

	return r.repo.ListOnline(ctx)
}

// RegisterDiscovered records a device announcement from a discovery
// sweep: new devices are inserted, known devices have their address,
// vendor metadata and liveness refreshed. Reports whether the device
// was newly created.
func (r *Registry) RegisterDiscovered(ctx context.Context, dev *Device) (bool, error) {
	created, err := r.repo.Upsert(ctx, dev)
	if err != nil {
		return false, err
	}

	r.cacheMu.Lock()
	r.store(dev)
	r.cacheMu.Unlock()

	if created {
		r.logger.Info("device registered", "device_id", dev.DeviceID, "address", dev.Address)
	} else {
		r.logger.Debug("device refreshed", "device_id", dev.DeviceID, "address", dev.Address)
	}
	return created, nil
}

// SetOnline transitions a device's online flag, recording the change
// in the status history.
func (r *Registry) SetOnline(ctx context.Context, id string, online bool, reason string) error {
	if err := r.repo.SetOnline(ctx, id, online, reason); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := *cached
		updated.Online = online
		r.cache[id] = &updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("device online flag updated", "id", id, "online", online)
	return nil
}

// MarkCataloged records that a device's point catalog has been built.
func (r *Registry) MarkCataloged(ctx context.Context, id string) error {
	if err := r.repo.SetPointsCataloged(ctx, id, true); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := *cached
		updated.PointsCataloged = true
		r.cache[id] = &updated
	}
	r.cacheMu.Unlock()

	return nil
}

// TouchLastSeen records a successful communication with the device.
func (r *Registry) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	if err := r.repo.TouchLastSeen(ctx, id, at); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := *cached
		updated.LastSeen = at.UTC()
		r.cache[id] = &updated
	}
	r.cacheMu.Unlock()

	return nil
}

// DemoteStale marks devices offline whose last successful communication
// is older than the cutoff. Returns the demoted devices.
func (r *Registry) DemoteStale(ctx context.Context, cutoff time.Time, reason string) ([]Device, error) {
	demoted, err := r.repo.MarkStaleOffline(ctx, cutoff, reason)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	for i := range demoted {
		if cached, ok := r.cache[demoted[i].ID]; ok {
			updated := *cached
			updated.Online = false
			r.cache[demoted[i].ID] = &updated
		}
	}
	r.cacheMu.Unlock()

	if len(demoted) > 0 {
		r.logger.Warn("stale devices demoted offline", "count", len(demoted))
	}
	return demoted, nil
}

// StatusHistory returns a device's online/offline transitions, most
// recent first, up to limit rows.
func (r *Registry) StatusHistory(ctx context.Context, id string, limit int) ([]DeviceStatusRecord, error) {
	return r.repo.StatusHistory(ctx, id, limit)
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int
	Online       int
	Offline      int
	Cataloged    int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{TotalDevices: len(r.cache)}
	for _, d := range r.cache {
		if d.Online {
			stats.Online++
		} else {
			stats.Offline++
		}
		if d.PointsCataloged {
			stats.Cataloged++
		}
	}
	return stats
}
