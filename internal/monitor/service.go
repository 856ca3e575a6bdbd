package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MarkHash/bacmon-core/internal/anomaly"
	"github.com/MarkHash/bacmon-core/internal/collector"
	"github.com/MarkHash/bacmon-core/internal/device"
	"github.com/MarkHash/bacmon-core/internal/discovery"
	"github.com/MarkHash/bacmon-core/internal/infrastructure/mqtt"
)

// Logger defines the logging interface used by the monitor service.
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

// Publisher is the MQTT surface the service publishes events to.
// *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Mirror is the time-series surface readings are mirrored into.
// *influxdb.Client satisfies it.
type Mirror interface {
	WriteReading(deviceID int, point string, category string, value float64, quality string, at time.Time)
	WriteAnomalyScore(deviceID int, point string, score float64, anomalous bool, at time.Time)
	WriteCycleStats(devices, pointsRead, pointsFailed, anomalies int, duration time.Duration)
}

// Config holds the service schedule.
type Config struct {
	// DiscoveryInterval is the period between Who-Is sweeps.
	DiscoveryInterval time.Duration

	// CollectionInterval is the period between collection cycles.
	CollectionInterval time.Duration

	// StaleAfter is how long a device may go silent before the
	// post-cycle check demotes it to offline.
	StaleAfter time.Duration

	// QoS applies to all published events.
	QoS byte
}

// Service ties discovery, cataloging and collection together and fans
// their results out over MQTT and InfluxDB.
type Service struct {
	engine    *discovery.Engine
	catalog   *discovery.CatalogBuilder
	collector *collector.Collector
	registry  *device.Registry
	publisher Publisher
	mirror    Mirror
	cfg       Config
	logger    Logger
	topics    mqtt.Topics

	scheduler *scheduler
}

// New creates the monitor service. publisher and mirror may be nil;
// the corresponding surface is then skipped.
func New(engine *discovery.Engine, catalog *discovery.CatalogBuilder, coll *collector.Collector, registry *device.Registry, publisher Publisher, mirror Mirror, cfg Config) *Service {
	if cfg.DiscoveryInterval <= 0 {
		cfg.DiscoveryInterval = time.Hour
	}
	if cfg.CollectionInterval <= 0 {
		cfg.CollectionInterval = 5 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = time.Hour
	}

	s := &Service{
		engine:    engine,
		catalog:   catalog,
		collector: coll,
		registry:  registry,
		publisher: publisher,
		mirror:    mirror,
		cfg:       cfg,
		logger:    noopLogger{},
	}

	if mirror != nil {
		coll.SetSink(s)
	}
	return s
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// RunDiscovery sweeps the network and publishes the sweep summary.
func (s *Service) RunDiscovery(ctx context.Context) (*discovery.SweepResult, error) {
	result, err := s.engine.Sweep(ctx)
	if err != nil {
		return nil, err
	}

	s.publish(s.topics.DiscoverySweep(), result, false)
	return result, nil
}

// DeviceCatalog is one device's outcome within a catalog pass.
type DeviceCatalog struct {
	DeviceID int                      `json:"device_id"`
	Result   *discovery.CatalogResult `json:"result,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

// BuildCatalogs catalogs every online device that has no point catalog
// yet. Per-device failures are reported in the outcome, not returned.
func (s *Service) BuildCatalogs(ctx context.Context) ([]DeviceCatalog, error) {
	devices, err := s.registry.ListOnline(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}

	var outcomes []DeviceCatalog
	for i := range devices {
		dev := devices[i]
		if dev.PointsCataloged {
			continue
		}

		outcome := DeviceCatalog{DeviceID: dev.DeviceID}
		result, err := s.catalog.Build(ctx, &dev)
		if err != nil {
			outcome.Error = err.Error()
			s.logger.Error("catalog build failed",
				"device_id", dev.DeviceID, "error", err)
		} else {
			outcome.Result = result
			s.publish(s.topics.DeviceCataloged(dev.DeviceID), result, false)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// CatalogDevice builds the point catalog for one device by its BACnet
// instance number.
func (s *Service) CatalogDevice(ctx context.Context, deviceID int) (*discovery.CatalogResult, error) {
	dev, err := s.registry.GetByInstance(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	result, err := s.catalog.Build(ctx, dev)
	if err != nil {
		return nil, err
	}

	s.publish(s.topics.DeviceCataloged(dev.DeviceID), result, false)
	return result, nil
}

// RunCollection runs one collection cycle, publishes its anomalies and
// summary, and demotes devices that have gone stale.
func (s *Service) RunCollection(ctx context.Context) (*collector.CycleResult, error) {
	result, err := s.collector.RunCycle(ctx)
	if err != nil {
		return nil, err
	}

	for i := range result.Anomalies {
		event := &result.Anomalies[i]
		s.publish(s.topics.Anomaly(event.Device.DeviceID, event.Point.Identifier()), event, false)
	}
	s.publish(s.topics.CollectionCycle(), result, false)

	if s.mirror != nil {
		s.mirror.WriteCycleStats(result.Devices, result.PointsRead,
			result.PointsFailed, len(result.Anomalies), result.Duration)
	}

	if _, err := s.DemoteStale(ctx); err != nil {
		s.logger.Error("stale device check failed", "error", err)
	}

	return result, nil
}

// CollectDevice runs an on-demand collection pass against one device
// by its BACnet instance number and publishes any anomalies it found.
func (s *Service) CollectDevice(ctx context.Context, deviceID int) (*collector.CycleResult, error) {
	result, err := s.collector.CollectDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	for i := range result.Anomalies {
		event := &result.Anomalies[i]
		s.publish(s.topics.Anomaly(event.Device.DeviceID, event.Point.Identifier()), event, false)
	}
	return result, nil
}

// DemoteStale marks devices offline that have not been heard from
// within the stale window, publishing a status event for each.
func (s *Service) DemoteStale(ctx context.Context) ([]device.Device, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.StaleAfter)
	demoted, err := s.registry.DemoteStale(ctx, cutoff, "no readings within stale threshold")
	if err != nil {
		return nil, err
	}

	for i := range demoted {
		s.publish(s.topics.DeviceStatus(demoted[i].DeviceID), statusPayload{
			DeviceID: demoted[i].DeviceID,
			Online:   false,
			Reason:   "no readings within stale threshold",
			At:       time.Now().UTC(),
		}, true)
	}
	return demoted, nil
}

// statusPayload is the body of a device status event.
type statusPayload struct {
	DeviceID int       `json:"device_id"`
	Online   bool      `json:"online"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

// ReadingStored mirrors a stored reading into the time-series store.
// It implements collector.Sink.
func (s *Service) ReadingStored(dev *device.Device, point *device.Point, reading *device.Reading, assessment *anomaly.Assessment) {
	if s.mirror == nil || reading.Numeric == nil {
		return
	}

	s.mirror.WriteReading(dev.DeviceID, point.Identifier(), string(point.Category),
		*reading.Numeric, string(reading.Quality), reading.CollectedAt)

	if assessment != nil && assessment.EnsembleScore != nil {
		anomalous := assessment.Anomalous != nil && *assessment.Anomalous
		s.mirror.WriteAnomalyScore(dev.DeviceID, point.Identifier(),
			*assessment.EnsembleScore, anomalous, reading.CollectedAt)
	}
}

// publish serialises and publishes an event, logging failures.
func (s *Service) publish(topic string, payload any, retained bool) {
	if s.publisher == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encoding event payload", "topic", topic, "error", err)
		return
	}
	if err := s.publisher.Publish(topic, data, s.cfg.QoS, retained); err != nil {
		s.logger.Warn("publishing event", "topic", topic, "error", err)
	}
}
