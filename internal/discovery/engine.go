package discovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarkHash/bacmon-core/internal/bacnet"
	"github.com/MarkHash/bacmon-core/internal/device"
)

// ErrSweepInProgress is returned when a discovery sweep is requested
// while another one is still running.
var ErrSweepInProgress = errors.New("discovery: sweep already in progress")

// Logger defines the logging interface used by the discovery package.
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

// SweepResult summarises one discovery sweep.
type SweepResult struct {
	// Found lists the devices that answered the broadcast and were
	// registered, after filtering out the monitor's own instance and
	// duplicate announcements.
	Found []device.Device `json:"found"`

	// New is how many of those were previously unknown.
	New int `json:"new"`

	// Refreshed is how many were already registered.
	Refreshed int `json:"refreshed"`

	// Errors counts devices whose registration failed.
	Errors int `json:"errors"`

	// Partial marks a sweep that could not collect all announcements,
	// typically because the broadcast itself failed. Absence of an
	// answer is not an error; a sweep self-heals on the next cycle.
	Partial bool `json:"partial"`

	// Err carries the broadcast failure behind a partial sweep, for
	// logging and event payloads.
	Err string `json:"error,omitempty"`

	// Duration is the wall-clock time of the sweep.
	Duration time.Duration `json:"duration"`
}

// Engine runs Who-Is discovery sweeps and registers the answers.
//
// Thread Safety: Sweep serialises itself; concurrent callers get
// ErrSweepInProgress instead of a queued broadcast.
type Engine struct {
	transport    bacnet.Transport
	registry     *device.Registry
	selfDeviceID int
	logger       Logger

	sweepMu sync.Mutex
}

// NewEngine creates a discovery engine. selfDeviceID is the monitor's
// own BACnet instance; it answers its own broadcasts and must be
// excluded from the registry.
func NewEngine(transport bacnet.Transport, registry *device.Registry, selfDeviceID int) *Engine {
	return &Engine{
		transport:    transport,
		registry:     registry,
		selfDeviceID: selfDeviceID,
		logger:       noopLogger{},
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// Sweep broadcasts a Who-Is and registers every device that answers.
// Devices that fail to register are counted and logged but do not abort
// the rest of the sweep. A failed broadcast yields a partial result
// rather than an error: discovery runs on a cycle and recovers on the
// next pass.
func (e *Engine) Sweep(ctx context.Context) (*SweepResult, error) {
	if !e.sweepMu.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer e.sweepMu.Unlock()

	started := time.Now()
	e.logger.Info("discovery sweep started")

	announcements, err := e.transport.BroadcastDiscover(ctx)
	if err != nil {
		e.logger.Warn("who-is broadcast failed", "error", err)
		return &SweepResult{
			Partial:  true,
			Err:      err.Error(),
			Duration: time.Since(started),
		}, nil
	}

	result := &SweepResult{}
	seen := make(map[int]struct{}, len(announcements))
	for i := range announcements {
		ann := &announcements[i]
		if ann.DeviceID == e.selfDeviceID {
			e.logger.Debug("skipping own device instance", "device_id", ann.DeviceID)
			continue
		}
		if _, dup := seen[ann.DeviceID]; dup {
			e.logger.Debug("skipping duplicate announcement", "device_id", ann.DeviceID)
			continue
		}
		seen[ann.DeviceID] = struct{}{}

		dev, created, err := e.register(ctx, ann)
		if err != nil {
			result.Errors++
			e.logger.Error("registering discovered device",
				"device_id", ann.DeviceID, "address", ann.Address, "error", err)
			continue
		}
		result.Found = append(result.Found, *dev)
		if created {
			result.New++
		} else {
			result.Refreshed++
		}
	}

	result.Duration = time.Since(started)
	e.logger.Info("discovery sweep complete",
		"found", len(result.Found), "new", result.New,
		"refreshed", result.Refreshed, "errors", result.Errors)
	return result, nil
}

func (e *Engine) register(ctx context.Context, ann *bacnet.DiscoveredDevice) (*device.Device, bool, error) {
	dev := &device.Device{
		DeviceID:   ann.DeviceID,
		Address:    ann.Address,
		VendorID:   ann.VendorID,
		VendorName: ann.VendorName,
		ModelName:  ann.ModelName,
		Online:     true,
	}
	created, err := e.registry.RegisterDiscovered(ctx, dev)
	if err != nil {
		return nil, false, err
	}
	return dev, created, nil
}
