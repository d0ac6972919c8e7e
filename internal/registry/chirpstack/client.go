// Package chirpstack implements the registry contract against a
// ChirpStack v4 server using its published gRPC API.
package chirpstack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chirpstack/chirpstack/api/go/v4/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/stadtnetz/lorabulk/internal/registry"
)

// probeDevEUI is a syntactically valid DevEUI that is never provisioned;
// connection probes request it and judge the server by the answer.
const probeDevEUI = "0000000000000000"

type Config struct {
	// Server is the gRPC endpoint. A leading http:// or https:// scheme
	// and trailing slashes are tolerated and stripped.
	Server   string
	APIToken string
	TLS      TLSConfig
}

type TLSConfig struct {
	Enabled            bool
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerNameOverride string
}

// Client is a ChirpStack device-service client. It is safe for concurrent
// use; the underlying gRPC connection multiplexes calls.
type Client struct {
	conn    *grpc.ClientConn
	devices api.DeviceServiceClient
}

// NewClient builds a client for the given server. The connection is
// established lazily on first call.
func NewClient(cfg Config) (*Client, error) {
	addr := NormalizeServer(cfg.Server)
	if addr == "" {
		return nil, fmt.Errorf("registry server address is empty")
	}

	opts := []grpc.DialOption{
		grpc.WithPerRPCCredentials(apiToken(strings.TrimSpace(cfg.APIToken))),
	}

	if cfg.TLS.Enabled {
		creds, err := loadClientCredentials(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		slog.Warn("Using insecure registry connection (TLS disabled)", "server", addr)
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial registry: %w", err)
	}

	return &Client{
		conn:    conn,
		devices: api.NewDeviceServiceClient(conn),
	}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// NormalizeServer strips URL decoration from a configured server address,
// leaving the host:port form gRPC expects.
func NormalizeServer(server string) string {
	s := strings.TrimSpace(server)
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "https://")
	return strings.TrimRight(s, "/")
}

func (c *Client) CreateDevice(ctx context.Context, dev registry.Device) error {
	req := &api.CreateDeviceRequest{
		Device: &api.Device{
			DevEui:          dev.DevEUI,
			Name:            dev.Name,
			Description:     dev.Description,
			ApplicationId:   dev.ApplicationID,
			DeviceProfileId: dev.DeviceProfileID,
			IsDisabled:      dev.IsDisabled,
			SkipFcntCheck:   dev.SkipFcntCheck,
			Tags:            dev.Tags,
			Variables:       dev.Variables,
		},
	}
	if _, err := c.devices.Create(ctx, req); err != nil {
		return classify("create device", err)
	}
	return nil
}

func (c *Client) CreateDeviceKeys(ctx context.Context, keys registry.DeviceKeys) error {
	req := &api.CreateDeviceKeysRequest{
		DeviceKeys: &api.DeviceKeys{
			DevEui: keys.DevEUI,
			NwkKey: keys.NwkKey,
			AppKey: keys.AppKey,
		},
	}
	if _, err := c.devices.CreateKeys(ctx, req); err != nil {
		return classify("create device keys", err)
	}
	return nil
}

func (c *Client) DeviceExists(ctx context.Context, devEUI string) (bool, error) {
	_, err := c.devices.Get(ctx, &api.GetDeviceRequest{DevEui: devEUI})
	if err != nil {
		cerr := classify("get device", err)
		if registry.CodeOf(cerr) == registry.CodeNotFound {
			return false, nil
		}
		return false, cerr
	}
	return true, nil
}

func (c *Client) DeleteDevice(ctx context.Context, devEUI string) error {
	if _, err := c.devices.Delete(ctx, &api.DeleteDeviceRequest{DevEui: devEUI}); err != nil {
		return classify("delete device", err)
	}
	return nil
}

// ListDevices returns one page of devices, optionally filtered by
// application and search term, plus the total match count.
func (c *Client) ListDevices(ctx context.Context, applicationID, search string, limit, offset uint32) ([]registry.DeviceSummary, uint32, error) {
	resp, err := c.devices.List(ctx, &api.ListDevicesRequest{
		ApplicationId: applicationID,
		Search:        search,
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		return nil, 0, classify("list devices", err)
	}

	result := make([]registry.DeviceSummary, len(resp.Result))
	for i, item := range resp.Result {
		result[i] = registry.DeviceSummary{
			DevEUI:            item.DevEui,
			Name:              item.Name,
			Description:       item.Description,
			DeviceProfileID:   item.DeviceProfileId,
			DeviceProfileName: item.DeviceProfileName,
		}
	}
	return result, resp.TotalCount, nil
}

// TestConnection probes the server with a lookup of a reserved DevEUI.
// A not-found or invalid-argument answer proves the server is reachable
// and the token accepted; auth and transport failures are reported as
// errors.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.devices.Get(ctx, &api.GetDeviceRequest{DevEui: probeDevEUI})
	if err == nil {
		return nil
	}

	cerr := classify("connection probe", err)
	switch registry.CodeOf(cerr) {
	case registry.CodeNotFound, registry.CodeInvalidArgument:
		return nil
	default:
		return cerr
	}
}
