package handler

import (
	"context"

	"github.com/stadtnetz/lorabulk/internal/registry"
	"github.com/stadtnetz/lorabulk/internal/registry/chirpstack"
	"github.com/stadtnetz/lorabulk/internal/settings"
)

// RegistryConn is one dialed registry connection. Handlers open one per
// operation from the stored settings and close it when done.
type RegistryConn interface {
	registry.Client
	TestConnection(ctx context.Context) error
	ListDevices(ctx context.Context, applicationID, search string, limit, offset uint32) ([]registry.DeviceSummary, uint32, error)
	Close() error
}

// RegistryFactory dials a registry from the stored connection settings.
// Tests swap in a fake; production uses ChirpstackFactory.
type RegistryFactory func(cfg settings.Settings) (RegistryConn, error)

func ChirpstackFactory(cfg settings.Settings) (RegistryConn, error) {
	client, err := chirpstack.NewClient(chirpstack.Config{
		Server:   cfg.Server,
		APIToken: cfg.APIToken,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}
