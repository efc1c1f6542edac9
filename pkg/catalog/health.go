// Package catalog talks to the product catalog service that owns products and branches.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ferramas/ferramas-backend/pkg/config"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name the catalog registers with its health server.
const ServiceName = "ferramas.catalog.v1.CatalogService"

// Prober checks catalog readiness through the standard gRPC health protocol.
type Prober struct {
	conn    *grpc.ClientConn
	client  healthpb.HealthClient
	timeout time.Duration
	service string
}

// NewProber opens a lazy client connection; nothing is dialed until the first Check.
func NewProber(cfg config.CatalogConfig, opts ...grpc.DialOption) (*Prober, error) {
	addr := strings.TrimSpace(cfg.Address)
	if addr == "" {
		return nil, fmt.Errorf("catalog address required")
	}
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect catalog %s: %w", addr, err)
	}
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Prober{
		conn:    conn,
		client:  healthpb.NewHealthClient(conn),
		timeout: timeout,
		service: ServiceName,
	}, nil
}

// Check returns nil when the catalog reports SERVING.
func (p *Prober) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		return fmt.Errorf("catalog health check: %w", err)
	}
	if status := resp.GetStatus(); status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("catalog not serving: %s", status)
	}
	return nil
}

func (p *Prober) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
