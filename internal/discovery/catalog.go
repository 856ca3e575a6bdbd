package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkHash/bacmon-core/internal/bacnet"
	"github.com/MarkHash/bacmon-core/internal/device"
)

// metadataBatchSize bounds how many property reads go into one gateway
// round trip while cataloging.
const metadataBatchSize = 20

// CatalogResult summarises one catalog build for a device.
type CatalogResult struct {
	// ObjectsFound is the length of the device's object list, minus the
	// device object itself.
	ObjectsFound int `json:"objects_found"`

	// PointsCataloged is how many points were stored.
	PointsCataloged int `json:"points_cataloged"`

	// Unsampled counts stored points whose type carries no sampleable
	// present value. They are cataloged for inventory but the collector
	// never reads them.
	Unsampled int `json:"unsampled"`

	// Partial marks a build in which some metadata could not be read.
	// The affected points are stored without it; a re-run fills gaps.
	Partial bool `json:"partial"`

	// Duration is the wall-clock time of the build.
	Duration time.Duration `json:"duration"`
}

// CatalogBuilder enumerates a device's objects into stored points.
type CatalogBuilder struct {
	transport bacnet.Transport
	registry  *device.Registry
	points    device.PointRepository
	logger    Logger
}

// NewCatalogBuilder creates a catalog builder.
func NewCatalogBuilder(transport bacnet.Transport, registry *device.Registry, points device.PointRepository) *CatalogBuilder {
	return &CatalogBuilder{
		transport: transport,
		registry:  registry,
		points:    points,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the builder.
func (b *CatalogBuilder) SetLogger(logger Logger) {
	b.logger = logger
}

// Build reads the device's object list and stores a point for every
// object in it. Types without a sampleable present value are retained
// with the generic category rather than dropped; the collector filters
// them out at read time. Name and unit reads are best-effort: a point
// whose metadata cannot be read is stored without it and the result is
// marked partial. The device is marked cataloged only when the build
// completes.
func (b *CatalogBuilder) Build(ctx context.Context, dev *device.Device) (*CatalogResult, error) {
	started := time.Now()

	refs, err := b.readObjectList(ctx, dev)
	if err != nil {
		return nil, err
	}

	result := &CatalogResult{}
	var objects []bacnet.ObjectRef
	for _, ref := range refs {
		if device.ObjectType(ref.Type) == device.ObjectDevice {
			continue
		}
		result.ObjectsFound++
		if !device.ObjectType(ref.Type).IsReadable() {
			result.Unsampled++
		}
		objects = append(objects, ref)
	}

	metadata, complete := b.readMetadata(ctx, dev, objects)
	result.Partial = !complete

	for _, ref := range objects {
		objType := device.ObjectType(ref.Type)
		point := &device.Point{
			DeviceID:       dev.ID,
			ObjectType:     objType,
			InstanceNumber: ref.Instance,
			Category:       device.Classify(objType),
		}
		if name, ok := metadata[metadataKey{ref, bacnet.PropertyObjectName}]; ok {
			point.Name = &name
		}
		if units, ok := metadata[metadataKey{ref, bacnet.PropertyUnits}]; ok {
			point.Units = &units
		}

		if _, err := b.points.Upsert(ctx, point); err != nil {
			return nil, fmt.Errorf("storing point %s: %w", point.Identifier(), err)
		}
		result.PointsCataloged++
	}

	if err := b.registry.MarkCataloged(ctx, dev.ID); err != nil {
		return nil, fmt.Errorf("marking device cataloged: %w", err)
	}
	if err := b.registry.TouchLastSeen(ctx, dev.ID, time.Now()); err != nil {
		return nil, err
	}

	result.Duration = time.Since(started)
	b.logger.Info("point catalog built",
		"device_id", dev.DeviceID,
		"objects", result.ObjectsFound,
		"points", result.PointsCataloged,
		"unsampled", result.Unsampled,
		"partial", result.Partial)
	return result, nil
}

// readObjectList fetches the device object's objectList property.
func (b *CatalogBuilder) readObjectList(ctx context.Context, dev *device.Device) ([]bacnet.ObjectRef, error) {
	value, err := b.transport.ReadProperty(ctx, dev.DeviceID, dev.Address, bacnet.ReadRequest{
		Object:   bacnet.ObjectRef{Type: string(device.ObjectDevice), Instance: dev.DeviceID},
		Property: bacnet.PropertyObjectList,
	})
	if err != nil {
		return nil, fmt.Errorf("reading object list for device %d: %w", dev.DeviceID, err)
	}
	if value.Kind != bacnet.KindList {
		return nil, &bacnet.ProtocolError{
			DeviceID:  dev.DeviceID,
			Operation: "objectList",
			Reason:    "value is not an object list",
		}
	}
	return value.List, nil
}

// metadataKey identifies one property read while building the catalog.
type metadataKey struct {
	ref      bacnet.ObjectRef
	property string
}

// readMetadata reads objectName for every readable object, plus units
// for analog objects, in batched round trips. Individual read failures
// are logged and dropped; the second return reports whether every
// requested property was read.
func (b *CatalogBuilder) readMetadata(ctx context.Context, dev *device.Device, refs []bacnet.ObjectRef) (map[metadataKey]string, bool) {
	var reqs []bacnet.ReadRequest
	for _, ref := range refs {
		reqs = append(reqs, bacnet.ReadRequest{Object: ref, Property: bacnet.PropertyObjectName})
		if device.Classify(device.ObjectType(ref.Type)).IsAnalog() {
			reqs = append(reqs, bacnet.ReadRequest{Object: ref, Property: bacnet.PropertyUnits})
		}
	}

	metadata := make(map[metadataKey]string, len(reqs))
	complete := true
	for start := 0; start < len(reqs); start += metadataBatchSize {
		end := min(start+metadataBatchSize, len(reqs))

		results, err := b.transport.ReadBatch(ctx, dev.DeviceID, dev.Address, reqs[start:end])
		if err != nil {
			b.logger.Warn("metadata batch failed",
				"device_id", dev.DeviceID, "error", err)
			complete = false
			continue
		}
		for _, res := range results {
			if res.Err != nil {
				b.logger.Debug("metadata read failed",
					"device_id", dev.DeviceID,
					"object", res.Object.String(),
					"property", res.Property,
					"error", res.Err)
				complete = false
				continue
			}
			metadata[metadataKey{res.Object, res.Property}] = res.Value.String()
		}
	}
	return metadata, complete
}
