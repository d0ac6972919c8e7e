// Package registry defines the contract against the remote device
// registry. The bulk engine only ever talks to the Client interface; the
// chirpstack subpackage provides the gRPC implementation.
package registry

import "context"

// Device is a device record as the registry's create call accepts it.
type Device struct {
	DevEUI          string
	Name            string
	ApplicationID   string
	DeviceProfileID string
	Description     string
	IsDisabled      bool
	SkipFcntCheck   bool
	Tags            map[string]string
	Variables       map[string]string
}

// DeviceKeys are the wire key slots of the key-creation call.
type DeviceKeys struct {
	DevEUI string
	NwkKey string
	AppKey string
}

// DeviceSummary is one row of a device listing.
type DeviceSummary struct {
	DevEUI            string
	Name              string
	Description       string
	DeviceProfileID   string
	DeviceProfileName string
}

// Client is the registry capability consumed by the bulk engine.
type Client interface {
	CreateDevice(ctx context.Context, dev Device) error
	CreateDeviceKeys(ctx context.Context, keys DeviceKeys) error
	DeviceExists(ctx context.Context, devEUI string) (bool, error)
	DeleteDevice(ctx context.Context, devEUI string) error
}
