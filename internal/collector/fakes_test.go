package collector

import (
	"context"
	"sync"

	"github.com/MarkHash/bacmon-core/internal/bacnet"
	"github.com/MarkHash/bacmon-core/internal/device/devicetest"
)

// fakeTransport implements bacnet.Transport with pluggable behaviour,
// recording the size of every batch it is asked to read.
type fakeTransport struct {
	mu          sync.Mutex
	batchSizes  []int
	readFn      func(ctx context.Context, deviceID int, addr string, req bacnet.ReadRequest) (bacnet.Value, error)
	readBatchFn func(ctx context.Context, deviceID int, addr string, reqs []bacnet.ReadRequest) ([]bacnet.ReadResult, error)
}

func (f *fakeTransport) BroadcastDiscover(ctx context.Context) ([]bacnet.DiscoveredDevice, error) {
	return nil, nil
}

func (f *fakeTransport) ReadProperty(ctx context.Context, deviceID int, addr string, req bacnet.ReadRequest) (bacnet.Value, error) {
	if f.readFn != nil {
		return f.readFn(ctx, deviceID, addr, req)
	}
	return bacnet.TextValue("ok"), nil
}

func (f *fakeTransport) ReadBatch(ctx context.Context, deviceID int, addr string, reqs []bacnet.ReadRequest) ([]bacnet.ReadResult, error) {
	f.mu.Lock()
	f.batchSizes = append(f.batchSizes, len(reqs))
	f.mu.Unlock()
	return f.readBatchFn(ctx, deviceID, addr, reqs)
}

func (f *fakeTransport) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeTransport) recordedBatchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.batchSizes...)
}

func newMemDeviceRepo() *devicetest.MemDeviceRepo   { return devicetest.NewMemDeviceRepo() }
func newMemPointRepo() *devicetest.MemPointRepo     { return devicetest.NewMemPointRepo() }
func newMemReadingRepo() *devicetest.MemReadingRepo { return devicetest.NewMemReadingRepo() }
