package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MarkHash/bacmon-core/internal/bacnet"
	"github.com/MarkHash/bacmon-core/internal/device"
)

func intPtr(v int) *int       { return &v }
func strPtr(s string) *string { return &s }

func TestEngine_Sweep(t *testing.T) {
	transport := &fakeTransport{
		discoverFn: func(ctx context.Context) ([]bacnet.DiscoveredDevice, error) {
			return []bacnet.DiscoveredDevice{
				{DeviceID: 3001, Address: "192.168.1.50", VendorID: intPtr(42), VendorName: strPtr("ACME Controls")},
				{DeviceID: 3002, Address: "192.168.1.51"},
				{DeviceID: 999, Address: "192.168.1.10"}, // the monitor itself
			}, nil
		},
	}
	registry := device.NewRegistry(newMemDeviceRepo())
	engine := NewEngine(transport, registry, 999)

	result, err := engine.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(result.Found) != 2 {
		t.Fatalf("found %d devices, want 2 (own instance excluded)", len(result.Found))
	}
	if result.New != 2 || result.Refreshed != 0 || result.Errors != 0 {
		t.Errorf("result = %+v", result)
	}
	if result.Found[0].DeviceID != 3001 || result.Found[1].DeviceID != 3002 {
		t.Errorf("found = %+v", result.Found)
	}
	if result.Found[0].ID == "" {
		t.Error("found device missing registry ID")
	}

	if _, err := registry.GetByInstance(context.Background(), 999); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Error("own device instance was registered")
	}

	dev, err := registry.GetByInstance(context.Background(), 3001)
	if err != nil {
		t.Fatalf("GetByInstance(3001): %v", err)
	}
	if dev.VendorName == nil || *dev.VendorName != "ACME Controls" {
		t.Errorf("vendor name = %v", dev.VendorName)
	}
	if !dev.Online {
		t.Error("discovered device should be online")
	}
}

func TestEngine_Sweep_RefreshesKnownDevices(t *testing.T) {
	address := "192.168.1.50"
	transport := &fakeTransport{
		discoverFn: func(ctx context.Context) ([]bacnet.DiscoveredDevice, error) {
			return []bacnet.DiscoveredDevice{{DeviceID: 3001, Address: address}}, nil
		},
	}
	registry := device.NewRegistry(newMemDeviceRepo())
	engine := NewEngine(transport, registry, 999)

	if _, err := engine.Sweep(context.Background()); err != nil {
		t.Fatalf("first sweep: %v", err)
	}

	// The device moved to a new address before the second sweep.
	address = "192.168.1.77"
	result, err := engine.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if result.New != 0 || result.Refreshed != 1 {
		t.Errorf("result = %+v, want refresh", result)
	}

	dev, err := registry.GetByInstance(context.Background(), 3001)
	if err != nil {
		t.Fatalf("GetByInstance: %v", err)
	}
	if dev.Address != "192.168.1.77" {
		t.Errorf("address = %q, want refreshed address", dev.Address)
	}
}

func TestEngine_Sweep_DeduplicatesAnnouncements(t *testing.T) {
	// A device can answer a Who-Is more than once within the window.
	transport := &fakeTransport{
		discoverFn: func(ctx context.Context) ([]bacnet.DiscoveredDevice, error) {
			return []bacnet.DiscoveredDevice{
				{DeviceID: 3001, Address: "192.168.1.50"},
				{DeviceID: 3001, Address: "192.168.1.50"},
				{DeviceID: 3002, Address: "192.168.1.51"},
			}, nil
		},
	}
	registry := device.NewRegistry(newMemDeviceRepo())
	engine := NewEngine(transport, registry, 999)

	result, err := engine.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(result.Found) != 2 {
		t.Errorf("found %d devices, want 2 (duplicate collapsed)", len(result.Found))
	}
	if result.New != 2 || result.Refreshed != 0 {
		t.Errorf("result = %+v, duplicate must not count as a refresh", result)
	}
}

func TestEngine_Sweep_BroadcastFailureIsPartial(t *testing.T) {
	transport := &fakeTransport{
		discoverFn: func(ctx context.Context) ([]bacnet.DiscoveredDevice, error) {
			return nil, bacnet.ErrGatewayUnavailable
		},
	}
	engine := NewEngine(transport, device.NewRegistry(newMemDeviceRepo()), 999)

	result, err := engine.Sweep(context.Background())
	if err != nil {
		t.Fatalf("broadcast failures must not surface as sweep errors, got %v", err)
	}
	if !result.Partial {
		t.Error("result should be partial")
	}
	if len(result.Found) != 0 {
		t.Errorf("found %d devices, want 0", len(result.Found))
	}
	if result.Err == "" {
		t.Error("partial result should carry the broadcast failure")
	}
}

func TestEngine_Sweep_RejectsConcurrentSweeps(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	transport := &fakeTransport{
		discoverFn: func(ctx context.Context) ([]bacnet.DiscoveredDevice, error) {
			close(started)
			<-release
			return nil, nil
		},
	}
	engine := NewEngine(transport, device.NewRegistry(newMemDeviceRepo()), 999)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := engine.Sweep(context.Background()); err != nil {
			t.Errorf("first sweep: %v", err)
		}
	}()

	<-started
	if _, err := engine.Sweep(context.Background()); !errors.Is(err, ErrSweepInProgress) {
		t.Errorf("expected ErrSweepInProgress, got %v", err)
	}

	close(release)
	wg.Wait()
}
