// Package bulk drives many independent two-step device registrations
// (create device, then create its keys) against the remote registry. A
// bounded worker pool executes one registration saga per device; results
// land in a write-once outcome table indexed by input position, while a
// progress publisher fans live counters out to observers.
package bulk

import (
	"time"

	"github.com/stadtnetz/lorabulk/internal/keymap"
)

// DuplicatePolicy decides what happens when a DevEUI is already present
// in the registry.
type DuplicatePolicy string

const (
	// DuplicateFail reports the device as failed without touching it.
	DuplicateFail DuplicatePolicy = "fail"
	// DuplicateSkip leaves the existing device alone.
	DuplicateSkip DuplicatePolicy = "skip"
	// DuplicateReplace deletes the existing device before re-creating it.
	DuplicateReplace DuplicatePolicy = "replace"
)

// DeviceRecord is one normalized input row. It is immutable once handed
// to the runner.
type DeviceRecord struct {
	DevEUI          string
	Name            string
	ApplicationID   string
	DeviceProfileID string
	Description     string
	Keys            keymap.RawKeys
	Tags            map[string]string
	// Version overrides the job-level MAC version for this device.
	Version keymap.Version
}

// Job is one batch of devices plus the knobs governing its execution.
type Job struct {
	Records     []DeviceRecord
	Policy      DuplicatePolicy
	Version     keymap.Version
	Concurrency int
	// Tags are merged into every device's tags; on collision the job-level
	// value wins. At most MaxUniformTags entries.
	Tags map[string]string
	// CallTimeout bounds every single remote call. Zero means
	// DefaultCallTimeout.
	CallTimeout time.Duration
	// RollbackRetries is how many extra attempts the compensating delete
	// gets after a failed keys step. Zero means the failure is only
	// reported.
	RollbackRetries int
}

const (
	// DefaultConcurrency is the worker pool size when the job does not set
	// one.
	DefaultConcurrency = 10
	// MaxUniformTags bounds job-level tags so the remote payload size
	// stays predictable.
	MaxUniformTags = 4
	// DefaultCallTimeout bounds a single remote call.
	DefaultCallTimeout = 15 * time.Second
)

// Status is a device's terminal registration state.
type Status string

const (
	// StatusPending marks a slot whose task never ran (job cancelled
	// before dispatch).
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// ErrorKind classifies a failed outcome.
type ErrorKind string

const (
	// KindValidation: the record was rejected before any remote call.
	KindValidation ErrorKind = "validation"
	// KindDuplicate: the device already exists and the policy forbids
	// proceeding.
	KindDuplicate ErrorKind = "duplicate"
	// KindLookup: the duplicate check itself failed.
	KindLookup ErrorKind = "lookup"
	// KindTransport: a create or delete call failed to complete.
	KindTransport ErrorKind = "transport"
	// KindPartialFailure: the device was created but its keys were not;
	// a compensating delete was attempted.
	KindPartialFailure ErrorKind = "partial_failure"
)

// Outcome is the write-once result of one device's registration. Position
// is the device's index in the job, so a slice of outcomes sorted by
// Position reproduces input order.
type Outcome struct {
	Position int       `json:"position"`
	DevEUI   string    `json:"dev_eui"`
	Name     string    `json:"name"`
	Status   Status    `json:"status"`
	Kind     ErrorKind `json:"error_kind,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	// RollbackFailed elevates a partial failure: the device is orphaned in
	// the registry without keys and needs manual reconciliation.
	RollbackFailed bool          `json:"rollback_failed,omitempty"`
	Elapsed        time.Duration `json:"elapsed_ns"`
}

// Snapshot is the progress state derived after each completed device.
type Snapshot struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	InFlight  int `json:"in_flight"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	// LastDevEUI and LastStatus describe the most recently completed
	// device; empty until the first completion.
	LastDevEUI string `json:"last_dev_eui,omitempty"`
	LastStatus Status `json:"last_status,omitempty"`
	// Done is set on the final snapshot only.
	Done bool `json:"done"`
}

// Report is the final result of a job: outcomes in input order plus the
// closing snapshot.
type Report struct {
	Results []Outcome `json:"results"`
	Final   Snapshot  `json:"final"`
}
