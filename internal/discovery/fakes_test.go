package discovery

import (
	"context"

	"github.com/MarkHash/bacmon-core/internal/bacnet"
	"github.com/MarkHash/bacmon-core/internal/device/devicetest"
)

// fakeTransport implements bacnet.Transport with pluggable behaviour.
type fakeTransport struct {
	discoverFn  func(ctx context.Context) ([]bacnet.DiscoveredDevice, error)
	readFn      func(ctx context.Context, deviceID int, addr string, req bacnet.ReadRequest) (bacnet.Value, error)
	readBatchFn func(ctx context.Context, deviceID int, addr string, reqs []bacnet.ReadRequest) ([]bacnet.ReadResult, error)
	healthFn    func(ctx context.Context) error
}

func (f *fakeTransport) BroadcastDiscover(ctx context.Context) ([]bacnet.DiscoveredDevice, error) {
	return f.discoverFn(ctx)
}

func (f *fakeTransport) ReadProperty(ctx context.Context, deviceID int, addr string, req bacnet.ReadRequest) (bacnet.Value, error) {
	return f.readFn(ctx, deviceID, addr, req)
}

func (f *fakeTransport) ReadBatch(ctx context.Context, deviceID int, addr string, reqs []bacnet.ReadRequest) ([]bacnet.ReadResult, error) {
	return f.readBatchFn(ctx, deviceID, addr, reqs)
}

func (f *fakeTransport) HealthCheck(ctx context.Context) error {
	if f.healthFn != nil {
		return f.healthFn(ctx)
	}
	return nil
}

func newMemDeviceRepo() *devicetest.MemDeviceRepo { return devicetest.NewMemDeviceRepo() }
func newMemPointRepo() *devicetest.MemPointRepo   { return devicetest.NewMemPointRepo() }
