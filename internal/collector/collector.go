package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/MarkHash/bacmon-core/internal/anomaly"
	"github.com/MarkHash/bacmon-core/internal/bacnet"
	"github.com/MarkHash/bacmon-core/internal/device"
)

// ErrCycleInProgress is returned when a collection cycle is requested
// while another one is still running.
var ErrCycleInProgress = errors.New("collector: cycle already in progress")

// Logger defines the logging interface used by the collector.
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

// Config tunes a collection cycle.
type Config struct {
	// BatchSize is the maximum number of point reads per gateway
	// round trip.
	BatchSize int

	// BatchTimeout bounds one batch round trip.
	BatchTimeout time.Duration

	// MaxRetries is how many extra attempts a failed batch or point
	// read gets.
	MaxRetries int

	// RetryBackoff is the pause before each retry.
	RetryBackoff time.Duration

	// Concurrency is how many devices are collected in parallel.
	Concurrency int

	// Lookback is how far back the anomaly baseline reaches.
	Lookback time.Duration
}

// Sink receives every stored reading. Implementations must not block;
// they run on the collection path.
type Sink interface {
	ReadingStored(dev *device.Device, point *device.Point, reading *device.Reading, assessment *anomaly.Assessment)
}

// AnomalyEvent pairs an anomalous reading with its assessment for
// downstream publication.
type AnomalyEvent struct {
	Device     device.Device      `json:"device"`
	Point      device.Point       `json:"point"`
	Reading    device.Reading     `json:"reading"`
	Assessment anomaly.Assessment `json:"assessment"`
}

// CycleResult summarises one collection cycle. Failures lists every
// point whose read failed, with its failure kind; storage errors count
// toward PointsFailed but are not read failures and are only logged.
type CycleResult struct {
	Devices        int            `json:"devices"`
	DevicesOffline int            `json:"devices_offline"`
	PointsRead     int            `json:"points_read"`
	PointsFailed   int            `json:"points_failed"`
	Failures       []PointFailure `json:"failures,omitempty"`
	Anomalies      []AnomalyEvent `json:"anomalies,omitempty"`
	Duration       time.Duration  `json:"duration"`
}

// Collector runs collection cycles over the device registry.
type Collector struct {
	transport bacnet.Transport
	registry  *device.Registry
	points    device.PointRepository
	readings  device.ReadingRepository
	detector  *anomaly.Detector
	cfg       Config
	pool      *ants.Pool
	logger    Logger
	sink      Sink

	cycleMu sync.Mutex
}

// New creates a collector with a bounded device worker pool.
func New(transport bacnet.Transport, registry *device.Registry, points device.PointRepository, readings device.ReadingRepository, detector *anomaly.Detector, cfg Config) (*Collector, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 30 * time.Second
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}

	pool, err := ants.NewPool(cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}

	return &Collector{
		transport: transport,
		registry:  registry,
		points:    points,
		readings:  readings,
		detector:  detector,
		cfg:       cfg,
		pool:      pool,
		logger:    noopLogger{},
	}, nil
}

// SetLogger sets the logger for the collector.
func (c *Collector) SetLogger(logger Logger) {
	c.logger = logger
}

// SetSink registers a sink notified of every stored reading. Set it
// before the first cycle; it is not synchronised against running cycles.
func (c *Collector) SetSink(sink Sink) {
	c.sink = sink
}

// Close releases the worker pool.
func (c *Collector) Close() {
	c.pool.Release()
}

// RunCycle collects one sample from every point of every online,
// cataloged device. Devices run in parallel on the worker pool; the
// result aggregates per-device outcomes.
func (c *Collector) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !c.cycleMu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer c.cycleMu.Unlock()

	started := time.Now()

	devices, err := c.registry.ListOnline(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}

	result := &CycleResult{}
	var resultMu sync.Mutex
	var wg sync.WaitGroup

	for i := range devices {
		dev := devices[i]
		if !dev.PointsCataloged {
			c.logger.Debug("skipping uncataloged device", "device_id", dev.DeviceID)
			continue
		}

		wg.Add(1)
		submitErr := c.pool.Submit(func() {
			defer wg.Done()
			outcome := c.collectDevice(ctx, &dev)

			resultMu.Lock()
			result.Devices++
			if outcome.offline {
				result.DevicesOffline++
			}
			result.PointsRead += outcome.read
			result.PointsFailed += outcome.failed
			result.Failures = append(result.Failures, outcome.failures...)
			result.Anomalies = append(result.Anomalies, outcome.anomalies...)
			resultMu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
			c.logger.Error("submitting device to worker pool",
				"device_id", dev.DeviceID, "error", submitErr)
		}
	}

	wg.Wait()

	result.Duration = time.Since(started)
	c.logger.Info("collection cycle complete",
		"devices", result.Devices,
		"offline", result.DevicesOffline,
		"points_read", result.PointsRead,
		"points_failed", result.PointsFailed,
		"anomalies", len(result.Anomalies),
		"duration", result.Duration)
	return result, nil
}

// CollectDevice runs an on-demand collection pass against a single
// device, identified by its BACnet instance number. It shares the
// cycle lock with RunCycle so a device is never read twice at once.
func (c *Collector) CollectDevice(ctx context.Context, deviceID int) (*CycleResult, error) {
	if !c.cycleMu.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer c.cycleMu.Unlock()

	dev, err := c.registry.GetByInstance(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !dev.PointsCataloged {
		return nil, device.ErrNotCataloged
	}

	started := time.Now()
	outcome := c.collectDevice(ctx, dev)

	result := &CycleResult{
		Devices:      1,
		PointsRead:   outcome.read,
		PointsFailed: outcome.failed,
		Failures:     outcome.failures,
		Anomalies:    outcome.anomalies,
		Duration:     time.Since(started),
	}
	if outcome.offline {
		result.DevicesOffline = 1
	}
	return result, nil
}

// deviceOutcome is one device's share of a cycle result.
type deviceOutcome struct {
	offline   bool
	read      int
	failed    int
	failures  []PointFailure
	anomalies []AnomalyEvent
}

// fail records a read failure for every given point.
func (o *deviceOutcome) fail(dev *device.Device, points []device.Point, err error) {
	kind := classifyFailure(err)
	for i := range points {
		o.failed++
		o.failures = append(o.failures, PointFailure{
			DeviceID: dev.DeviceID,
			Point:    points[i].Identifier(),
			Kind:     kind,
			Error:    err.Error(),
		})
	}
}

func (c *Collector) collectDevice(ctx context.Context, dev *device.Device) deviceOutcome {
	var outcome deviceOutcome

	cataloged, err := c.points.ListByDevice(ctx, dev.ID)
	if err != nil {
		c.logger.Error("listing points", "device_id", dev.DeviceID, "error", err)
		return outcome
	}

	// Generic points are inventory only: their types carry no present
	// value to sample.
	points := make([]device.Point, 0, len(cataloged))
	for _, p := range cataloged {
		if p.ObjectType.IsReadable() {
			points = append(points, p)
		}
	}
	if len(points) == 0 {
		return outcome
	}

	// Probe before committing to the full batch schedule. A device that
	// cannot answer one read will not answer fifty.
	if err := c.probe(ctx, dev); err != nil {
		if bacnet.IsConnectivity(err) {
			c.markOffline(ctx, dev, "failed collection probe")
			outcome.offline = true
			outcome.fail(dev, points, err)
			return outcome
		}
		c.logger.Warn("collection probe returned protocol error, continuing",
			"device_id", dev.DeviceID, "error", err)
	}

	for start := 0; start < len(points); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(points))
		batch := points[start:end]

		results, err := c.readBatchWithRetry(ctx, dev, batch)
		if err != nil {
			if bacnet.IsConnectivity(err) {
				// The device dropped off mid-cycle. Abandon its
				// remaining batches.
				c.markOffline(ctx, dev, "lost during collection")
				outcome.offline = true
				outcome.fail(dev, points[start:], err)
				return outcome
			}
			c.logger.Error("batch read failed",
				"device_id", dev.DeviceID, "error", err)
			outcome.fail(dev, batch, err)
			continue
		}

		for i := range batch {
			c.handlePointResult(ctx, dev, &batch[i], results[i], &outcome)
		}
	}

	if outcome.read > 0 {
		if err := c.registry.TouchLastSeen(ctx, dev.ID, time.Now()); err != nil {
			c.logger.Error("updating last seen", "device_id", dev.DeviceID, "error", err)
		}
	}
	return outcome
}

// probe issues one cheap read against the device object.
func (c *Collector) probe(ctx context.Context, dev *device.Device) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.BatchTimeout)
	defer cancel()

	_, err := c.transport.ReadProperty(ctx, dev.DeviceID, dev.Address, bacnet.ReadRequest{
		Object:   bacnet.ObjectRef{Type: string(device.ObjectDevice), Instance: dev.DeviceID},
		Property: bacnet.PropertyObjectName,
	})
	return err
}

// readBatchWithRetry reads one batch, retrying whole-batch failures
// with backoff.
func (c *Collector) readBatchWithRetry(ctx context.Context, dev *device.Device, batch []device.Point) ([]bacnet.ReadResult, error) {
	reqs := make([]bacnet.ReadRequest, len(batch))
	for i := range batch {
		reqs[i] = bacnet.ReadRequest{
			Object: bacnet.ObjectRef{
				Type:     string(batch[i].ObjectType),
				Instance: batch[i].InstanceNumber,
			},
			Property: bacnet.PropertyPresentValue,
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cfg.RetryBackoff):
			}
			c.logger.Debug("retrying batch",
				"device_id", dev.DeviceID, "attempt", attempt)
		}

		batchCtx, cancel := context.WithTimeout(ctx, c.cfg.BatchTimeout)
		results, err := c.transport.ReadBatch(batchCtx, dev.DeviceID, dev.Address, reqs)
		cancel()
		if err == nil {
			return results, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// handlePointResult stores one point's sample, or records the failure.
// A value that fails on the first pass gets individual retries before
// being counted as failed.
func (c *Collector) handlePointResult(ctx context.Context, dev *device.Device, point *device.Point, res bacnet.ReadResult, outcome *deviceOutcome) {
	value := res.Value
	quality := device.QualityGood

	if res.Err != nil {
		retried, err := c.retryPoint(ctx, dev, point, res.Err)
		if err != nil {
			c.logger.Warn("point read failed",
				"device_id", dev.DeviceID,
				"point", point.Identifier(),
				"error", err)
			outcome.failed++
			outcome.failures = append(outcome.failures, PointFailure{
				DeviceID: dev.DeviceID,
				Point:    point.Identifier(),
				Kind:     classifyFailure(err),
				Error:    err.Error(),
			})
			return
		}
		value = retried
		quality = device.QualityRetry
	}

	reading := &device.Reading{
		PointID:     point.ID,
		Value:       value.String(),
		Numeric:     normalizeValue(point.Category, value),
		Quality:     quality,
		CollectedAt: time.Now().UTC(),
	}

	assessment := c.assess(ctx, point, reading)

	if err := c.readings.Save(ctx, reading, assessment); err != nil {
		c.logger.Error("storing reading",
			"device_id", dev.DeviceID,
			"point", point.Identifier(),
			"error", err)
		outcome.failed++
		return
	}
	outcome.read++

	if c.sink != nil {
		c.sink.ReadingStored(dev, point, reading, assessment)
	}

	if assessment != nil && assessment.Anomalous != nil && *assessment.Anomalous {
		outcome.anomalies = append(outcome.anomalies, AnomalyEvent{
			Device:     *dev,
			Point:      *point,
			Reading:    *reading,
			Assessment: *assessment,
		})
	}
}

// retryPoint re-reads a single failed point with backoff. When every
// attempt fails it returns the last error, or orig when no retries are
// configured.
func (c *Collector) retryPoint(ctx context.Context, dev *device.Device, point *device.Point, orig error) (bacnet.Value, error) {
	req := bacnet.ReadRequest{
		Object: bacnet.ObjectRef{
			Type:     string(point.ObjectType),
			Instance: point.InstanceNumber,
		},
		Property: bacnet.PropertyPresentValue,
	}

	lastErr := orig
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return bacnet.Value{}, ctx.Err()
		case <-time.After(c.cfg.RetryBackoff):
		}

		value, err := c.transport.ReadProperty(ctx, dev.DeviceID, dev.Address, req)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if bacnet.IsConnectivity(err) {
			break
		}
	}
	return bacnet.Value{}, lastErr
}

// assess scores an analog reading against its recent history. Points
// without a numeric value are stored unscored.
func (c *Collector) assess(ctx context.Context, point *device.Point, reading *device.Reading) *anomaly.Assessment {
	if c.detector == nil || !point.Category.IsAnalog() || reading.Numeric == nil {
		return nil
	}

	since := reading.CollectedAt.Add(-c.cfg.Lookback)
	history, err := c.readings.NumericHistory(ctx, point.ID, since)
	if err != nil {
		c.logger.Error("loading anomaly baseline",
			"point", point.Identifier(), "error", err)
		return nil
	}

	assessment := c.detector.Assess(*reading.Numeric, reading.CollectedAt, history)
	return &assessment
}

func (c *Collector) markOffline(ctx context.Context, dev *device.Device, reason string) {
	c.logger.Warn("marking device offline",
		"device_id", dev.DeviceID, "reason", reason)
	if err := c.registry.SetOnline(ctx, dev.ID, false, reason); err != nil {
		c.logger.Error("marking device offline",
			"device_id", dev.DeviceID, "error", err)
	}
}
