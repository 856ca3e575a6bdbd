package collector

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MarkHash/bacmon-core/internal/anomaly"
	"github.com/MarkHash/bacmon-core/internal/bacnet"
	"github.com/MarkHash/bacmon-core/internal/device"
	"github.com/MarkHash/bacmon-core/internal/device/devicetest"
)

type testEnv struct {
	registry *device.Registry
	points   *devicetest.MemPointRepo
	readings *devicetest.MemReadingRepo
	dev      *device.Device
}

// setupEnv registers one cataloged device with the given points.
func setupEnv(t *testing.T, pts ...device.Point) *testEnv {
	t.Helper()

	registry := device.NewRegistry(newMemDeviceRepo())
	dev := &device.Device{DeviceID: 3001, Address: "192.168.1.50"}
	if _, err := registry.RegisterDiscovered(context.Background(), dev); err != nil {
		t.Fatalf("registering device: %v", err)
	}
	if err := registry.MarkCataloged(context.Background(), dev.ID); err != nil {
		t.Fatalf("marking cataloged: %v", err)
	}

	points := newMemPointRepo()
	for i := range pts {
		pts[i].DeviceID = dev.ID
		if _, err := points.Upsert(context.Background(), &pts[i]); err != nil {
			t.Fatalf("seeding point: %v", err)
		}
	}

	return &testEnv{
		registry: registry,
		points:   points,
		readings: newMemReadingRepo(),
		dev:      dev,
	}
}

func newTestCollector(t *testing.T, env *testEnv, transport bacnet.Transport, cfg Config) *Collector {
	t.Helper()
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Millisecond
	}
	detector, err := anomaly.NewDetector(anomaly.Config{})
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	c, err := New(transport, env.registry, env.points, env.readings, detector, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

// valueTransport answers every presentValue batch read from a fixed
// value table keyed by "type:instance".
func valueTransport(values map[string]bacnet.Value) *fakeTransport {
	return &fakeTransport{
		readBatchFn: func(ctx context.Context, deviceID int, addr string, reqs []bacnet.ReadRequest) ([]bacnet.ReadResult, error) {
			results := make([]bacnet.ReadResult, len(reqs))
			for i, req := range reqs {
				res := bacnet.ReadResult{Object: req.Object, Property: req.Property}
				if v, ok := values[req.Object.String()]; ok {
					res.Value = v
				} else {
					res.Err = &bacnet.ProtocolError{DeviceID: deviceID, Operation: "readProperty", Reason: "unknown-object"}
				}
				results[i] = res
			}
			return results, nil
		},
	}
}

func TestCollector_RunCycle_StoresReadings(t *testing.T) {
	env := setupEnv(t,
		device.Point{ObjectType: device.ObjectAnalogInput, InstanceNumber: 1},
		device.Point{ObjectType: device.ObjectBinaryInput, InstanceNumber: 2},
		device.Point{ObjectType: device.ObjectMultiStateValue, InstanceNumber: 3},
	)
	transport := valueTransport(map[string]bacnet.Value{
		"analogInput:1":     bacnet.RealValue(21.5),
		"binaryInput:2":     bacnet.TextValue("active"),
		"multiStateValue:3": bacnet.RealValue(2),
	})

	c := newTestCollector(t, env, transport, Config{})

	result, err := c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if result.Devices != 1 || result.PointsRead != 3 || result.PointsFailed != 0 {
		t.Errorf("result = %+v", result)
	}

	stored := env.readings.All()
	if len(stored) != 3 {
		t.Fatalf("stored %d readings, want 3", len(stored))
	}

	byPoint := make(map[string]device.Reading)
	pts, _ := env.points.ListByDevice(context.Background(), env.dev.ID)
	for _, p := range pts {
		for _, rd := range stored {
			if rd.PointID == p.ID {
				byPoint[p.Identifier()] = rd
			}
		}
	}

	analog := byPoint["analogInput:1"]
	if analog.Numeric == nil || *analog.Numeric != 21.5 {
		t.Errorf("analog numeric = %v, want 21.5", analog.Numeric)
	}
	if analog.Quality != device.QualityGood {
		t.Errorf("analog quality = %q", analog.Quality)
	}

	binary := byPoint["binaryInput:2"]
	if binary.Value != "active" {
		t.Errorf("binary value = %q", binary.Value)
	}
	if binary.Numeric == nil || *binary.Numeric != 1 {
		t.Errorf("binary numeric = %v, want 1", binary.Numeric)
	}

	multi := byPoint["multiStateValue:3"]
	if multi.Numeric == nil || *multi.Numeric != 2 {
		t.Errorf("multistate numeric = %v, want 2", multi.Numeric)
	}

	got, err := env.registry.GetDevice(context.Background(), env.dev.ID)
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if got.LastSeen.IsZero() {
		t.Error("last seen not updated after successful cycle")
	}
}

func TestCollector_RunCycle_SplitsBatches(t *testing.T) {
	var pts []device.Point
	values := make(map[string]bacnet.Value)
	for i := 1; i <= 5; i++ {
		pts = append(pts, device.Point{ObjectType: device.ObjectAnalogInput, InstanceNumber: i})
		values[fmt.Sprintf("analogInput:%d", i)] = bacnet.RealValue(float64(i))
	}
	env := setupEnv(t, pts...)
	transport := valueTransport(values)

	c := newTestCollector(t, env, transport, Config{BatchSize: 2})

	result, err := c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.PointsRead != 5 {
		t.Errorf("PointsRead = %d, want 5", result.PointsRead)
	}

	sizes := transport.recordedBatchSizes()
	if len(sizes) != 3 || sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Errorf("batch sizes = %v, want [2 2 1]", sizes)
	}
}

func TestCollector_RunCycle_PointFaultIsolation(t *testing.T) {
	env := setupEnv(t,
		device.Point{ObjectType: device.ObjectAnalogInput, InstanceNumber: 1},
		device.Point{ObjectType: device.ObjectAnalogInput, InstanceNumber: 9}, // removed from the controller
		device.Point{ObjectType: device.ObjectBinaryInput, InstanceNumber: 2},
	)
	transport := valueTransport(map[string]bacnet.Value{
		"analogInput:1": bacnet.RealValue(21.5),
		"binaryInput:2": bacnet.TextValue("inactive"),
	})
	transport.readFn = func(ctx context.Context, deviceID int, addr string, req bacnet.ReadRequest) (bacnet.Value, error) {
		if req.Object.Type == "device" {
			return bacnet.TextValue("AHU-1"), nil
		}
		return bacnet.Value{}, &bacnet.ProtocolError{DeviceID: deviceID, Operation: "readProperty", Reason: "unknown-object"}
	}

	c := newTestCollector(t, env, transport, Config{MaxRetries: 1})

	result, err := c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if result.PointsRead != 2 {
		t.Errorf("PointsRead = %d, want 2", result.PointsRead)
	}
	if result.PointsFailed != 1 {
		t.Errorf("PointsFailed = %d, want 1", result.PointsFailed)
	}
	if len(result.Failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(result.Failures))
	}
	failure := result.Failures[0]
	if failure.Point != "analogInput:9" {
		t.Errorf("failed point = %q, want analogInput:9", failure.Point)
	}
	if failure.Kind != FailureProtocol {
		t.Errorf("failure kind = %q, want %q", failure.Kind, FailureProtocol)
	}
	if len(env.readings.All()) != 2 {
		t.Errorf("stored %d readings, want 2", len(env.readings.All()))
	}
}

func TestCollector_RunCycle_ExcludesUnsampledPoints(t *testing.T) {
	env := setupEnv(t,
		device.Point{ObjectType: device.ObjectAnalogInput, InstanceNumber: 1, Category: device.CategoryAnalog},
		device.Point{ObjectType: "trendLog", InstanceNumber: 7, Category: device.CategoryGeneric},
	)
	transport := valueTransport(map[string]bacnet.Value{
		"analogInput:1": bacnet.RealValue(21.5),
	})

	c := newTestCollector(t, env, transport, Config{})

	result, err := c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	// The generic point is inventory only: never read, never a failure.
	if result.PointsRead != 1 || result.PointsFailed != 0 {
		t.Errorf("result = %+v", result)
	}
	sizes := transport.recordedBatchSizes()
	if len(sizes) != 1 || sizes[0] != 1 {
		t.Errorf("batch sizes = %v, want [1]", sizes)
	}
}

func TestCollector_RunCycle_RetryRecoversPoint(t *testing.T) {
	env := setupEnv(t, device.Point{ObjectType: device.ObjectAnalogInput, InstanceNumber: 1})

	flaky := true
	transport := &fakeTransport{
		readBatchFn: func(ctx context.Context, deviceID int, addr string, reqs []bacnet.ReadRequest) ([]bacnet.ReadResult, error) {
			return []bacnet.ReadResult{{
				Object:   reqs[0].Object,
				Property: reqs[0].Property,
				Err:      &bacnet.ProtocolError{DeviceID: deviceID, Operation: "readProperty", Reason: "busy"},
			}}, nil
		},
		readFn: func(ctx context.Context, deviceID int, addr string, req bacnet.ReadRequest) (bacnet.Value, error) {
			if req.Object.Type == "device" {
				return bacnet.TextValue("AHU-1"), nil
			}
			if flaky {
				flaky = false
				return bacnet.Value{}, &bacnet.ProtocolError{DeviceID: deviceID, Operation: "readProperty", Reason: "busy"}
			}
			return bacnet.RealValue(20.5), nil
		},
	}

	c := newTestCollector(t, env, transport, Config{MaxRetries: 2})

	result, err := c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.PointsRead != 1 || result.PointsFailed != 0 {
		t.Errorf("result = %+v", result)
	}

	stored := env.readings.All()
	if len(stored) != 1 {
		t.Fatalf("stored %d readings, want 1", len(stored))
	}
	if stored[0].Quality != device.QualityRetry {
		t.Errorf("quality = %q, want retry", stored[0].Quality)
	}
	if stored[0].Numeric == nil || *stored[0].Numeric != 20.5 {
		t.Errorf("numeric = %v, want 20.5", stored[0].Numeric)
	}
}

func TestCollector_RunCycle_ProbeFailureMarksOffline(t *testing.T) {
	env := setupEnv(t,
		device.Point{ObjectType: device.ObjectAnalogInput, InstanceNumber: 1},
		device.Point{ObjectType: device.ObjectAnalogInput, InstanceNumber: 2},
	)
	transport := &fakeTransport{
		readFn: func(ctx context.Context, deviceID int, addr string, req bacnet.ReadRequest) (bacnet.Value, error) {
			return bacnet.Value{}, &bacnet.ConnectivityError{
				DeviceID: deviceID, Addr: addr, Err: errors.New("no response"),
			}
		},
		readBatchFn: func(ctx context.Context, deviceID int, addr string, reqs []bacnet.ReadRequest) ([]bacnet.ReadResult, error) {
			t.Error("batch read issued after failed probe")
			return nil, nil
		},
	}

	c := newTestCollector(t, env, transport, Config{})

	result, err := c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if result.DevicesOffline != 1 {
		t.Errorf("DevicesOffline = %d, want 1", result.DevicesOffline)
	}
	if result.PointsFailed != 2 {
		t.Errorf("PointsFailed = %d, want 2", result.PointsFailed)
	}
	if len(result.Failures) != 2 {
		t.Fatalf("got %d failures, want 2", len(result.Failures))
	}
	for _, failure := range result.Failures {
		if failure.Kind != FailureConnectivity {
			t.Errorf("failure kind = %q, want %q", failure.Kind, FailureConnectivity)
		}
	}

	got, err := env.registry.GetDevice(context.Background(), env.dev.ID)
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if got.Online {
		t.Error("device should be offline after failed probe")
	}
}

func TestCollector_RunCycle_SkipsUncatalogedDevices(t *testing.T) {
	registry := device.NewRegistry(newMemDeviceRepo())
	dev := &device.Device{DeviceID: 3002, Address: "192.168.1.51"}
	if _, err := registry.RegisterDiscovered(context.Background(), dev); err != nil {
		t.Fatalf("registering device: %v", err)
	}

	transport := &fakeTransport{
		readBatchFn: func(ctx context.Context, deviceID int, addr string, reqs []bacnet.ReadRequest) ([]bacnet.ReadResult, error) {
			t.Error("uncataloged device was collected")
			return nil, nil
		},
	}
	c, err := New(transport, registry, newMemPointRepo(), newMemReadingRepo(), nil, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	result, err := c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result.Devices != 0 {
		t.Errorf("Devices = %d, want 0", result.Devices)
	}
}

func TestCollector_RunCycle_FlagsAnomalousReading(t *testing.T) {
	env := setupEnv(t, device.Point{ObjectType: device.ObjectAnalogInput, InstanceNumber: 1})
	pts, _ := env.points.ListByDevice(context.Background(), env.dev.ID)
	pointID := pts[0].ID

	// A day of steady samples around 20 degrees.
	now := time.Now().UTC()
	pattern := []float64{20.0, 20.1, 19.9, 20.2, 19.8, 20.0}
	for i := 0; i < 23; i++ {
		v := pattern[i%len(pattern)]
		rd := &device.Reading{
			PointID:     pointID,
			Value:       fmt.Sprintf("%g", v),
			Numeric:     &v,
			CollectedAt: now.Add(-time.Duration(23-i) * time.Hour),
		}
		if err := env.readings.Save(context.Background(), rd, nil); err != nil {
			t.Fatalf("seeding history: %v", err)
		}
	}

	transport := valueTransport(map[string]bacnet.Value{
		"analogInput:1": bacnet.RealValue(45.0),
	})
	c := newTestCollector(t, env, transport, Config{Lookback: 24 * time.Hour})

	result, err := c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if len(result.Anomalies) != 1 {
		t.Fatalf("got %d anomalies, want 1", len(result.Anomalies))
	}
	event := result.Anomalies[0]
	if event.Point.ID != pointID {
		t.Errorf("anomaly point = %q", event.Point.ID)
	}
	if event.Assessment.Anomalous == nil || !*event.Assessment.Anomalous {
		t.Error("assessment not flagged anomalous")
	}
	if event.Assessment.Status != anomaly.StatusScored {
		t.Errorf("status = %q", event.Assessment.Status)
	}

	// The stored reading carries the same assessment.
	saved, err := env.readings.Assessment(context.Background(), event.Reading.ID)
	if err != nil {
		t.Fatalf("Assessment: %v", err)
	}
	if saved == nil || saved.Anomalous == nil || !*saved.Anomalous {
		t.Errorf("stored assessment = %+v", saved)
	}
}

func TestCollector_RunCycle_NormalReadingNotFlagged(t *testing.T) {
	env := setupEnv(t, device.Point{ObjectType: device.ObjectAnalogInput, InstanceNumber: 1})
	pts, _ := env.points.ListByDevice(context.Background(), env.dev.ID)
	pointID := pts[0].ID

	now := time.Now().UTC()
	pattern := []float64{20.0, 20.1, 19.9, 20.2, 19.8, 20.0}
	for i := 0; i < 23; i++ {
		v := pattern[i%len(pattern)]
		rd := &device.Reading{
			PointID:     pointID,
			Value:       fmt.Sprintf("%g", v),
			Numeric:     &v,
			CollectedAt: now.Add(-time.Duration(23-i) * time.Hour),
		}
		if err := env.readings.Save(context.Background(), rd, nil); err != nil {
			t.Fatalf("seeding history: %v", err)
		}
	}

	transport := valueTransport(map[string]bacnet.Value{
		"analogInput:1": bacnet.RealValue(20.0),
	})
	c := newTestCollector(t, env, transport, Config{Lookback: 24 * time.Hour})

	result, err := c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if len(result.Anomalies) != 0 {
		t.Errorf("got %d anomalies, want 0", len(result.Anomalies))
	}
}

func TestCollector_RunCycle_RejectsConcurrentCycles(t *testing.T) {
	env := setupEnv(t, device.Point{ObjectType: device.ObjectAnalogInput, InstanceNumber: 1})

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	transport := &fakeTransport{
		readFn: func(ctx context.Context, deviceID int, addr string, req bacnet.ReadRequest) (bacnet.Value, error) {
			started <- struct{}{}
			<-release
			return bacnet.TextValue("AHU-1"), nil
		},
		readBatchFn: func(ctx context.Context, deviceID int, addr string, reqs []bacnet.ReadRequest) ([]bacnet.ReadResult, error) {
			return []bacnet.ReadResult{{Object: reqs[0].Object, Property: reqs[0].Property, Value: bacnet.RealValue(20)}}, nil
		},
	}
	c := newTestCollector(t, env, transport, Config{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := c.RunCycle(context.Background()); err != nil {
			t.Errorf("first cycle: %v", err)
		}
	}()

	<-started
	if _, err := c.RunCycle(context.Background()); !errors.Is(err, ErrCycleInProgress) {
		t.Errorf("expected ErrCycleInProgress, got %v", err)
	}

	close(release)
	<-done
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name     string
		category device.Category
		value    bacnet.Value
		want     *float64
	}{
		{"analog real", device.CategoryAnalog, bacnet.RealValue(21.5), floatPtr(21.5)},
		{"binary active", device.CategoryBinary, bacnet.TextValue("active"), floatPtr(1)},
		{"binary inactive", device.CategoryBinary, bacnet.TextValue("inactive"), floatPtr(0)},
		{"binary uppercase", device.CategoryBinary, bacnet.TextValue("Active"), floatPtr(1)},
		{"multistate real", device.CategoryMultiState, bacnet.RealValue(3), floatPtr(3)},
		{"numeric text", device.CategoryGeneric, bacnet.TextValue("14.25"), floatPtr(14.25)},
		{"free text", device.CategoryGeneric, bacnet.TextValue("fault"), nil},
		{"null value", device.CategoryAnalog, bacnet.Value{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeValue(tt.category, tt.value)
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("got %v, want nil", *got)
			case tt.want != nil && got == nil:
				t.Errorf("got nil, want %v", *tt.want)
			case tt.want != nil && got != nil && *got != *tt.want:
				t.Errorf("got %v, want %v", *got, *tt.want)
			}
		})
	}
}

func floatPtr(v float64) *float64 { return &v }
