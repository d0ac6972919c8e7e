package handler

import (
	"context"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/stadtnetz/lorabulk/internal/registry"
	"github.com/stadtnetz/lorabulk/internal/settings"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeConn is an in-memory registry connection shared by the handler tests.
type fakeConn struct {
	mu       sync.Mutex
	existing map[string]bool
	created  []string
	keys     []string
	deleted  []string
	testErr  error
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{existing: make(map[string]bool)}
}

func (f *fakeConn) CreateDevice(ctx context.Context, dev registry.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existing[dev.DevEUI] = true
	f.created = append(f.created, dev.DevEUI)
	return nil
}

func (f *fakeConn) CreateDeviceKeys(ctx context.Context, keys registry.DeviceKeys) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, keys.DevEUI)
	return nil
}

func (f *fakeConn) DeviceExists(ctx context.Context, devEUI string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[devEUI], nil
}

func (f *fakeConn) DeleteDevice(ctx context.Context, devEUI string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.existing, devEUI)
	f.deleted = append(f.deleted, devEUI)
	return nil
}

func (f *fakeConn) TestConnection(ctx context.Context) error {
	return f.testErr
}

func (f *fakeConn) ListDevices(ctx context.Context, applicationID, search string, limit, offset uint32) ([]registry.DeviceSummary, uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []registry.DeviceSummary
	for eui := range f.existing {
		out = append(out, registry.DeviceSummary{DevEUI: eui, Name: eui})
	}
	return out, uint32(len(out)), nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func fakeFactory(conn *fakeConn) RegistryFactory {
	return func(settings.Settings) (RegistryConn, error) {
		return conn, nil
	}
}
