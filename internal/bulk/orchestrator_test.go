package bulk

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadtnetz/lorabulk/internal/keymap"
	"github.com/stadtnetz/lorabulk/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// nDevices builds n valid records with distinct DevEUIs.
func nDevices(n int) []DeviceRecord {
	records := make([]DeviceRecord, n)
	for i := range records {
		records[i] = DeviceRecord{
			DevEUI:          fmt.Sprintf("A84041F4935D6%03X", i),
			Name:            fmt.Sprintf("Sensor %d", i+1),
			ApplicationID:   testAppID,
			DeviceProfileID: testProfileID,
			Keys:            keymap.RawKeys{AppKey: strings.Repeat("A", 32)},
		}
	}
	return records
}

func testJob(records []DeviceRecord) Job {
	return Job{
		Records:     records,
		Policy:      DuplicateSkip,
		Version:     keymap.LoRaWAN103,
		CallTimeout: time.Second,
	}
}

func TestRunValidation(t *testing.T) {
	runner := NewRunner(newFakeRegistry(), testLogger())

	_, err := runner.Run(context.Background(), testJob(nil))
	assert.ErrorIs(t, err, ErrEmptyJob)

	job := testJob(nDevices(1))
	job.Concurrency = -1
	_, err = runner.Run(context.Background(), job)
	assert.ErrorIs(t, err, ErrInvalidConcurrency)

	job = testJob(nDevices(1))
	job.Tags = map[string]string{"a": "1", "b": "2", "c": "3", "d": "4", "e": "5"}
	_, err = runner.Run(context.Background(), job)
	assert.ErrorIs(t, err, ErrTooManyTags)

	job = testJob(nDevices(1))
	job.Policy = DuplicatePolicy("explode")
	_, err = runner.Run(context.Background(), job)
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestRunThreeDevicesAllSucceed(t *testing.T) {
	reg := newFakeRegistry()
	runner := NewRunner(reg, testLogger())

	job := testJob(nDevices(3))
	job.Concurrency = 2

	exec, err := runner.Run(context.Background(), job)
	require.NoError(t, err)

	report := exec.Wait()
	require.Len(t, report.Results, 3)
	for _, oc := range report.Results {
		assert.Equal(t, StatusSuccess, oc.Status, oc.DevEUI)
	}
	assert.Equal(t, 3, report.Final.Succeeded)
	assert.Zero(t, report.Final.Failed)
	assert.Zero(t, report.Final.Skipped)
	assert.Zero(t, report.Final.Pending)
	assert.True(t, report.Final.Done)
}

func TestRunResultsKeepInputOrder(t *testing.T) {
	reg := newFakeRegistry()
	// Earlier devices answer slower, so completion order inverts dispatch
	// order.
	reg.latency = func(devEUI string) time.Duration {
		if strings.HasSuffix(devEUI, "000") {
			return 30 * time.Millisecond
		}
		return time.Millisecond
	}
	runner := NewRunner(reg, testLogger())

	job := testJob(nDevices(6))
	job.Concurrency = 3

	exec, err := runner.Run(context.Background(), job)
	require.NoError(t, err)
	report := exec.Wait()

	require.Len(t, report.Results, len(job.Records))
	for i, oc := range report.Results {
		assert.Equal(t, i, oc.Position)
		assert.Equal(t, job.Records[i].Name, oc.Name)
	}
}

func TestRunOutcomesStreamInCompletionOrder(t *testing.T) {
	reg := newFakeRegistry()
	runner := NewRunner(reg, testLogger())

	job := testJob(nDevices(4))
	exec, err := runner.Run(context.Background(), job)
	require.NoError(t, err)

	var streamed []Outcome
	for oc := range exec.Outcomes() {
		streamed = append(streamed, oc)
	}
	assert.Len(t, streamed, 4)
}

func TestRunFailuresNeverAbortTheJob(t *testing.T) {
	reg := newFakeRegistry()
	records := nDevices(5)
	for _, rec := range records {
		eui, _ := keymap.NormalizeDevEUI(rec.DevEUI)
		reg.createErr[eui] = &registry.Error{Op: "create device", Code: registry.CodeUnavailable, Message: "down"}
	}
	runner := NewRunner(reg, testLogger())

	exec, err := runner.Run(context.Background(), testJob(records))
	require.NoError(t, err)
	report := exec.Wait()

	require.Len(t, report.Results, 5)
	for _, oc := range report.Results {
		assert.Equal(t, StatusFailed, oc.Status)
		assert.Equal(t, KindTransport, oc.Kind)
	}
	assert.Equal(t, 5, report.Final.Failed)
}

func TestRunIdempotentWithSkipPolicy(t *testing.T) {
	reg := newFakeRegistry()
	runner := NewRunner(reg, testLogger())

	job := testJob(nDevices(4))
	exec, err := runner.Run(context.Background(), job)
	require.NoError(t, err)
	first := exec.Wait()
	assert.Equal(t, 4, first.Final.Succeeded)

	mutations := reg.countCalls("create") + reg.countCalls("keys") + reg.countCalls("delete")

	// Second run over a registry that now holds every device: all skipped,
	// zero additional mutating calls.
	exec, err = runner.Run(context.Background(), job)
	require.NoError(t, err)
	second := exec.Wait()

	assert.Equal(t, 4, second.Final.Skipped)
	assert.Zero(t, second.Final.Succeeded)
	assert.Equal(t, mutations, reg.countCalls("create")+reg.countCalls("keys")+reg.countCalls("delete"))
}

func TestRunCancellationStopsDispatch(t *testing.T) {
	reg := newFakeRegistry()
	reg.latency = func(string) time.Duration { return 20 * time.Millisecond }
	runner := NewRunner(reg, testLogger())

	job := testJob(nDevices(20))
	job.Concurrency = 1

	exec, err := runner.Run(context.Background(), job)
	require.NoError(t, err)

	// Let a couple of devices through, then cancel.
	<-exec.Outcomes()
	exec.Cancel()
	report := exec.Wait()

	var pending int
	for _, oc := range report.Results {
		if oc.Status == StatusPending {
			pending++
		}
	}
	assert.Positive(t, pending, "cancellation must leave undispatched devices pending")
	assert.Less(t, pending, 20, "dispatched devices still finish")
	assert.Equal(t, pending, report.Final.Pending)
	assert.True(t, report.Final.Done)
}

// slowKeys parks the keys call until released, so a test can land a cancel
// in the middle of a saga.
type slowKeys struct {
	*fakeRegistry
	entered chan struct{}
	release chan struct{}
}

func (s *slowKeys) CreateDeviceKeys(ctx context.Context, keys registry.DeviceKeys) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.fakeRegistry.CreateDeviceKeys(ctx, keys)
}

func TestCancelDoesNotInterruptInFlightSaga(t *testing.T) {
	reg := newFakeRegistry()
	slow := &slowKeys{
		fakeRegistry: reg,
		entered:      make(chan struct{}, 1),
		release:      make(chan struct{}),
	}
	runner := NewRunner(slow, testLogger())

	exec, err := runner.Run(context.Background(), testJob(nDevices(1)))
	require.NoError(t, err)

	// The device is past its create call and inside the keys call when
	// the cancel lands; the saga must still run to completion instead of
	// failing with a dead context and orphaning the device.
	<-slow.entered
	exec.Cancel()
	close(slow.release)

	report := exec.Wait()
	oc := report.Results[0]
	assert.Equal(t, StatusSuccess, oc.Status, oc.Detail)
	assert.False(t, oc.RollbackFailed)
	assert.Equal(t, 1, reg.countCalls("keys"))
	assert.Zero(t, reg.countCalls("delete"))
	assert.Equal(t, 1, report.Final.Succeeded)
}

func TestRunDefaultsApplied(t *testing.T) {
	reg := newFakeRegistry()
	runner := NewRunner(reg, testLogger())

	job := testJob(nDevices(2))
	job.Policy = ""
	job.Concurrency = 0

	exec, err := runner.Run(context.Background(), job)
	require.NoError(t, err)
	report := exec.Wait()
	assert.Equal(t, 2, report.Final.Succeeded)
}

func TestRunUniformTagsReachRegistry(t *testing.T) {
	reg := newFakeRegistry()
	var seen map[string]string
	// Wrap the fake to capture the created device's tags.
	capture := &tagCapture{fakeRegistry: reg, tags: &seen}
	runner := NewRunner(capture, testLogger())

	records := nDevices(1)
	records[0].Tags = map[string]string{"room": "12", "batch": "old"}
	job := testJob(records)
	job.Tags = map[string]string{"batch": "2026-08"}

	exec, err := runner.Run(context.Background(), job)
	require.NoError(t, err)
	exec.Wait()

	assert.Equal(t, map[string]string{"room": "12", "batch": "2026-08"}, seen)
}

type tagCapture struct {
	*fakeRegistry
	tags *map[string]string
}

func (c *tagCapture) CreateDevice(ctx context.Context, dev registry.Device) error {
	*c.tags = dev.Tags
	return c.fakeRegistry.CreateDevice(ctx, dev)
}
