package bulk

import (
	"context"
	"sync"
	"time"

	"github.com/stadtnetz/lorabulk/internal/registry"
)

// fakeRegistry records every call and answers from per-device scripts.
type fakeRegistry struct {
	mu       sync.Mutex
	existing map[string]bool
	// per-DevEUI scripted failures
	lookupErr map[string]error
	createErr map[string]error
	keysErr   map[string]error
	deleteErr map[string]error
	// latency delays every call, to shuffle completion order
	latency func(devEUI string) time.Duration

	calls []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		existing:  make(map[string]bool),
		lookupErr: make(map[string]error),
		createErr: make(map[string]error),
		keysErr:   make(map[string]error),
		deleteErr: make(map[string]error),
	}
}

func (f *fakeRegistry) record(op, devEUI string) {
	f.mu.Lock()
	f.calls = append(f.calls, op+":"+devEUI)
	f.mu.Unlock()
}

// sleep honors the call context like a real transport: a cancelled or
// expired context aborts the call.
func (f *fakeRegistry) sleep(ctx context.Context, devEUI string) error {
	if f.latency == nil {
		return nil
	}
	select {
	case <-time.After(f.latency(devEUI)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeRegistry) DeviceExists(ctx context.Context, devEUI string) (bool, error) {
	if err := f.sleep(ctx, devEUI); err != nil {
		return false, err
	}
	f.record("lookup", devEUI)
	if err := f.lookupErr[devEUI]; err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[devEUI], nil
}

func (f *fakeRegistry) CreateDevice(ctx context.Context, dev registry.Device) error {
	if err := f.sleep(ctx, dev.DevEUI); err != nil {
		return err
	}
	f.record("create", dev.DevEUI)
	if err := f.createErr[dev.DevEUI]; err != nil {
		return err
	}
	f.mu.Lock()
	f.existing[dev.DevEUI] = true
	f.mu.Unlock()
	return nil
}

func (f *fakeRegistry) CreateDeviceKeys(ctx context.Context, keys registry.DeviceKeys) error {
	if err := f.sleep(ctx, keys.DevEUI); err != nil {
		return err
	}
	f.record("keys", keys.DevEUI)
	return f.keysErr[keys.DevEUI]
}

func (f *fakeRegistry) DeleteDevice(ctx context.Context, devEUI string) error {
	if err := f.sleep(ctx, devEUI); err != nil {
		return err
	}
	f.record("delete", devEUI)
	if err := f.deleteErr[devEUI]; err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.existing, devEUI)
	f.mu.Unlock()
	return nil
}

// callsFor filters the recorded call log for one device.
func (f *fakeRegistry) callsFor(devEUI string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if c[len(c)-len(devEUI):] == devEUI {
			out = append(out, c[:len(c)-len(devEUI)-1])
		}
	}
	return out
}

func (f *fakeRegistry) countCalls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c) > len(op) && c[:len(op)+1] == op+":" {
			n++
		}
	}
	return n
}
