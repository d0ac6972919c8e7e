package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stadtnetz/lorabulk/internal/keymap"
	"github.com/stadtnetz/lorabulk/internal/registry"
)

// task registers a single device: duplicate check, create device, create
// keys, with a best-effort compensating delete when the keys step fails
// after the device was created. It touches no shared state; its only
// output is the returned Outcome.
type task struct {
	reg    registry.Client
	job    *Job
	rec    DeviceRecord
	pos    int
	logger *slog.Logger
}

func (t *task) run(ctx context.Context) Outcome {
	start := time.Now()
	oc := Outcome{
		Position: t.pos,
		DevEUI:   t.rec.DevEUI,
		Name:     t.rec.Name,
	}

	// Everything local happens before the first remote call.
	devEUI, dev, wireKeys, err := t.validate()
	if err != nil {
		return finish(oc, start, StatusFailed, KindValidation, err.Error(), false)
	}
	oc.DevEUI = devEUI

	// Duplicate check per policy.
	var act action
	err = t.call(ctx, func(c context.Context) error {
		var derr error
		act, derr = evaluateDuplicate(c, t.reg, devEUI, t.job.Policy)
		return derr
	})
	switch {
	case errors.Is(err, ErrDuplicateExists):
		return finish(oc, start, StatusFailed, KindDuplicate, err.Error(), false)
	case err != nil:
		return finish(oc, start, StatusFailed, KindLookup, err.Error(), false)
	case act == actionSkip:
		oc.Detail = "device already exists"
		return finish(oc, start, StatusSkipped, "", oc.Detail, false)
	}

	// Step one: create the device.
	err = t.call(ctx, func(c context.Context) error {
		return t.reg.CreateDevice(c, dev)
	})
	if err != nil {
		// The create call's own verdict overrides the earlier lookup.
		if registry.IsAlreadyExists(err) {
			return finish(oc, start, StatusFailed, KindDuplicate, err.Error(), false)
		}
		return finish(oc, start, StatusFailed, KindTransport, err.Error(), false)
	}

	// Step two: create the keys. A failure here leaves a keyless device
	// behind, so the saga compensates with a delete before reporting.
	err = t.call(ctx, func(c context.Context) error {
		return t.reg.CreateDeviceKeys(c, registry.DeviceKeys{
			DevEUI: devEUI,
			NwkKey: wireKeys.NwkKey,
			AppKey: wireKeys.AppKey,
		})
	})
	if err != nil {
		rolledBack := t.rollback(ctx, devEUI)
		detail := fmt.Sprintf("device created but keys failed: %v", err)
		if !rolledBack {
			detail += "; rollback delete failed, device is orphaned without keys"
		}
		return finish(oc, start, StatusFailed, KindPartialFailure, detail, !rolledBack)
	}

	return finish(oc, start, StatusSuccess, "", "", false)
}

// validate normalizes and checks the record without touching the network.
func (t *task) validate() (string, registry.Device, keymap.WireKeys, error) {
	var zero registry.Device

	devEUI, err := keymap.NormalizeDevEUI(t.rec.DevEUI)
	if err != nil {
		return "", zero, keymap.WireKeys{}, err
	}
	if t.rec.Name == "" {
		return "", zero, keymap.WireKeys{}, errors.New("device name is empty")
	}
	if _, err := uuid.Parse(t.rec.ApplicationID); err != nil {
		return "", zero, keymap.WireKeys{}, fmt.Errorf("application ID %q is not a valid UUID", t.rec.ApplicationID)
	}
	if _, err := uuid.Parse(t.rec.DeviceProfileID); err != nil {
		return "", zero, keymap.WireKeys{}, fmt.Errorf("device profile ID %q is not a valid UUID", t.rec.DeviceProfileID)
	}

	version := t.job.Version
	if t.rec.Version != "" {
		version = t.rec.Version
	}
	wireKeys, err := keymap.Resolve(version, t.rec.Keys)
	if err != nil {
		return "", zero, keymap.WireKeys{}, err
	}

	dev := registry.Device{
		DevEUI:          devEUI,
		Name:            t.rec.Name,
		ApplicationID:   t.rec.ApplicationID,
		DeviceProfileID: t.rec.DeviceProfileID,
		Description:     t.rec.Description,
		Tags:            mergeTags(t.rec.Tags, t.job.Tags),
	}
	return devEUI, dev, wireKeys, nil
}

// rollback issues the compensating delete, retrying per the job's knob.
// It reports whether the device was removed.
func (t *task) rollback(ctx context.Context, devEUI string) bool {
	attempts := 1 + t.job.RollbackRetries
	for i := 0; i < attempts; i++ {
		err := t.call(ctx, func(c context.Context) error {
			return t.reg.DeleteDevice(c, devEUI)
		})
		if err == nil {
			t.logger.Info("Rolled back partially registered device", "dev_eui", devEUI)
			return true
		}
		// An already-deleted device means the compensation is done.
		if registry.CodeOf(err) == registry.CodeNotFound {
			return true
		}
		t.logger.Error("Rollback delete failed", "dev_eui", devEUI, "attempt", i+1, "error", err)
	}
	return false
}

// call runs one remote call under the job's per-call timeout.
func (t *task) call(ctx context.Context, fn func(context.Context) error) error {
	timeout := t.job.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}

// mergeTags combines per-device and job-level tags; job-level values win
// on collision.
func mergeTags(device, job map[string]string) map[string]string {
	if len(device) == 0 && len(job) == 0 {
		return nil
	}
	merged := make(map[string]string, len(device)+len(job))
	for k, v := range device {
		merged[k] = v
	}
	for k, v := range job {
		merged[k] = v
	}
	return merged
}

func finish(oc Outcome, start time.Time, st Status, kind ErrorKind, detail string, rollbackFailed bool) Outcome {
	oc.Status = st
	oc.Kind = kind
	oc.Detail = detail
	oc.RollbackFailed = rollbackFailed
	oc.Elapsed = time.Since(start)
	return oc
}
