package bulk

import (
	"context"
	"errors"
	"fmt"

	"github.com/stadtnetz/lorabulk/internal/registry"
)

// ErrDuplicateExists is returned by the duplicate check when the device is
// present and the policy is DuplicateFail.
var ErrDuplicateExists = errors.New("device already exists")

// action is the duplicate check's verdict for one device.
type action int

const (
	actionProceed action = iota
	actionSkip
)

// evaluateDuplicate runs the check-then-act duplicate handling for one
// DevEUI. Under DuplicateReplace it issues the delete itself before
// answering actionProceed. The sequence is not atomic against concurrent
// registry mutation; the create call's own already-exists answer remains
// the authoritative second check.
func evaluateDuplicate(ctx context.Context, reg registry.Client, devEUI string, policy DuplicatePolicy) (action, error) {
	exists, err := reg.DeviceExists(ctx, devEUI)
	if err != nil {
		return actionProceed, fmt.Errorf("duplicate lookup: %w", err)
	}
	if !exists {
		return actionProceed, nil
	}

	switch policy {
	case DuplicateSkip:
		return actionSkip, nil
	case DuplicateReplace:
		if err := reg.DeleteDevice(ctx, devEUI); err != nil {
			return actionProceed, fmt.Errorf("delete existing device: %w", err)
		}
		return actionProceed, nil
	default: // DuplicateFail
		return actionProceed, ErrDuplicateExists
	}
}
