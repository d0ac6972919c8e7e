package chirpstack

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"google.golang.org/grpc/credentials"
)

// apiToken injects the ChirpStack API token as a bearer token on every
// call.
type apiToken string

func (t apiToken) GetRequestMetadata(_ context.Context, _ ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + string(t)}, nil
}

func (t apiToken) RequireTransportSecurity() bool {
	return false
}

func loadClientCredentials(cfg TLSConfig) (credentials.TransportCredentials, error) {
	tlsCfg := &tls.Config{}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		caPool := x509.NewCertPool()
		ca, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		if !caPool.AppendCertsFromPEM(ca) {
			return nil, fmt.Errorf("failed to append CA certificate")
		}
		tlsCfg.RootCAs = caPool
	}

	if cfg.ServerNameOverride != "" {
		tlsCfg.ServerName = cfg.ServerNameOverride
	}

	return credentials.NewTLS(tlsCfg), nil
}
