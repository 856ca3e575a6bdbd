// Package devicetest provides in-memory repository implementations for
// tests of the services layered on the device package.
package devicetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MarkHash/bacmon-core/internal/anomaly"
	"github.com/MarkHash/bacmon-core/internal/device"
)

// MemDeviceRepo is an in-memory device.Repository.
type MemDeviceRepo struct {
	mu      sync.Mutex
	byID    map[string]*device.Device
	history []device.DeviceStatusRecord
}

// NewMemDeviceRepo creates an empty repository.
func NewMemDeviceRepo() *MemDeviceRepo {
	return &MemDeviceRepo{byID: make(map[string]*device.Device)}
}

func (r *MemDeviceRepo) GetByID(ctx context.Context, id string) (*device.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.byID[id]; ok {
		cpy := *d
		return &cpy, nil
	}
	return nil, device.ErrDeviceNotFound
}

func (r *MemDeviceRepo) GetByDeviceID(ctx context.Context, deviceID int) (*device.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.byID {
		if d.DeviceID == deviceID {
			cpy := *d
			return &cpy, nil
		}
	}
	return nil, device.ErrDeviceNotFound
}

func (r *MemDeviceRepo) List(ctx context.Context) ([]device.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]device.Device, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, *d)
	}
	return out, nil
}

func (r *MemDeviceRepo) ListOnline(ctx context.Context) ([]device.Device, error) {
	devices, _ := r.List(ctx)
	var out []device.Device
	for _, d := range devices {
		if d.Online {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *MemDeviceRepo) Upsert(ctx context.Context, dev *device.Device) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC().Truncate(time.Second)
	for _, existing := range r.byID {
		if existing.DeviceID == dev.DeviceID {
			existing.Address = dev.Address
			if dev.VendorID != nil {
				existing.VendorID = dev.VendorID
			}
			if dev.VendorName != nil {
				existing.VendorName = dev.VendorName
			}
			if dev.ModelName != nil {
				existing.ModelName = dev.ModelName
			}
			existing.Online = true
			existing.LastSeen = now
			existing.UpdatedAt = now
			*dev = *existing
			return false, nil
		}
	}
	if dev.ID == "" {
		dev.ID = device.GenerateID()
	}
	dev.Online = true
	dev.FirstSeen = now
	dev.LastSeen = now
	dev.CreatedAt = now
	dev.UpdatedAt = now
	cpy := *dev
	r.byID[dev.ID] = &cpy
	return true, nil
}

func (r *MemDeviceRepo) SetOnline(ctx context.Context, id string, online bool, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[id]
	if !ok {
		return device.ErrDeviceNotFound
	}
	if d.Online != online {
		r.history = append(r.history, device.DeviceStatusRecord{
			ID:         device.GenerateID(),
			DeviceID:   id,
			Online:     online,
			Reason:     &reason,
			RecordedAt: time.Now().UTC(),
		})
	}
	d.Online = online
	return nil
}

func (r *MemDeviceRepo) SetPointsCataloged(ctx context.Context, id string, cataloged bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[id]
	if !ok {
		return device.ErrDeviceNotFound
	}
	d.PointsCataloged = cataloged
	return nil
}

func (r *MemDeviceRepo) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[id]
	if !ok {
		return device.ErrDeviceNotFound
	}
	d.LastSeen = at.UTC()
	return nil
}

func (r *MemDeviceRepo) MarkStaleOffline(ctx context.Context, cutoff time.Time, reason string) ([]device.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var demoted []device.Device
	for _, d := range r.byID {
		if d.Online && d.LastSeen.Before(cutoff) {
			d.Online = false
			r.history = append(r.history, device.DeviceStatusRecord{
				ID:         device.GenerateID(),
				DeviceID:   d.ID,
				Online:     false,
				Reason:     &reason,
				RecordedAt: time.Now().UTC(),
			})
			demoted = append(demoted, *d)
		}
	}
	return demoted, nil
}

func (r *MemDeviceRepo) StatusHistory(ctx context.Context, id string, limit int) ([]device.DeviceStatusRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []device.DeviceStatusRecord
	for i := len(r.history) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.history[i].DeviceID == id {
			out = append(out, r.history[i])
		}
	}
	return out, nil
}

// MemPointRepo is an in-memory device.PointRepository preserving
// insertion order per device.
type MemPointRepo struct {
	mu     sync.Mutex
	points []device.Point
}

// NewMemPointRepo creates an empty repository.
func NewMemPointRepo() *MemPointRepo {
	return &MemPointRepo{}
}

func (r *MemPointRepo) GetByID(ctx context.Context, id string) (*device.Point, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.points {
		if r.points[i].ID == id {
			cpy := r.points[i]
			return &cpy, nil
		}
	}
	return nil, device.ErrPointNotFound
}

func (r *MemPointRepo) ListByDevice(ctx context.Context, deviceID string) ([]device.Point, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []device.Point
	for _, p := range r.points {
		if p.DeviceID == deviceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *MemPointRepo) CountByDevice(ctx context.Context, deviceID string) (int, error) {
	pts, _ := r.ListByDevice(ctx, deviceID)
	return len(pts), nil
}

func (r *MemPointRepo) Upsert(ctx context.Context, p *device.Point) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.points {
		existing := &r.points[i]
		if existing.DeviceID == p.DeviceID &&
			existing.ObjectType == p.ObjectType &&
			existing.InstanceNumber == p.InstanceNumber {
			existing.Name = p.Name
			existing.Units = p.Units
			*p = *existing
			return false, nil
		}
	}
	if p.ID == "" {
		p.ID = device.GenerateID()
	}
	if p.Category == "" {
		p.Category = device.Classify(p.ObjectType)
	}
	r.points = append(r.points, *p)
	return true, nil
}

// MemReadingRepo is an in-memory device.ReadingRepository.
type MemReadingRepo struct {
	mu          sync.Mutex
	readings    []device.Reading
	assessments map[string]*anomaly.Assessment
}

// NewMemReadingRepo creates an empty repository.
func NewMemReadingRepo() *MemReadingRepo {
	return &MemReadingRepo{assessments: make(map[string]*anomaly.Assessment)}
}

func (r *MemReadingRepo) Save(ctx context.Context, reading *device.Reading, assessment *anomaly.Assessment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reading.ID == "" {
		reading.ID = device.GenerateID()
	}
	if reading.Quality == "" {
		reading.Quality = device.QualityGood
	}
	if reading.CollectedAt.IsZero() {
		reading.CollectedAt = time.Now().UTC()
	}
	r.readings = append(r.readings, *reading)
	if assessment != nil {
		cpy := *assessment
		r.assessments[reading.ID] = &cpy
	}
	return nil
}

func (r *MemReadingRepo) Latest(ctx context.Context, pointID string) (*device.Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *device.Reading
	for i := range r.readings {
		if r.readings[i].PointID != pointID {
			continue
		}
		if latest == nil || r.readings[i].CollectedAt.After(latest.CollectedAt) {
			latest = &r.readings[i]
		}
	}
	if latest == nil {
		return nil, device.ErrReadingNotFound
	}
	cpy := *latest
	return &cpy, nil
}

func (r *MemReadingRepo) ListByPoint(ctx context.Context, pointID string, limit int) ([]device.Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []device.Reading
	for _, rd := range r.readings {
		if rd.PointID == pointID {
			out = append(out, rd)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CollectedAt.After(out[j].CollectedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemReadingRepo) NumericHistory(ctx context.Context, pointID string, since time.Time) ([]anomaly.Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []anomaly.Sample
	for _, rd := range r.readings {
		if rd.PointID != pointID || rd.Numeric == nil || rd.CollectedAt.Before(since) {
			continue
		}
		out = append(out, anomaly.Sample{Value: *rd.Numeric, At: rd.CollectedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func (r *MemReadingRepo) Assessment(ctx context.Context, readingID string) (*anomaly.Assessment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.assessments[readingID]; ok {
		cpy := *a
		return &cpy, nil
	}
	return nil, nil
}

// All returns a snapshot of every stored reading.
func (r *MemReadingRepo) All() []device.Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]device.Reading(nil), r.readings...)
}
