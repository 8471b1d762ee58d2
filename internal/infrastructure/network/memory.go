package network

import (
	"context"
	"sync"
)

// MemoryClient serves canned network state for tests.
type MemoryClient struct {
	mu       sync.Mutex
	Routers  []Router
	Networks []Network
	Subnets  map[string][]Subnet // networkID -> subnets, "" holds all
	Ports    map[string][]Port   // deviceID -> ports
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		Subnets: map[string][]Subnet{},
		Ports:   map[string][]Port{},
	}
}

func (c *MemoryClient) ListRouters(ctx context.Context, tenantID string) ([]Router, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Router(nil), c.Routers...), nil
}

func (c *MemoryClient) ListNetworks(ctx context.Context) ([]Network, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Network(nil), c.Networks...), nil
}

func (c *MemoryClient) ListSubnets(ctx context.Context, networkID string) ([]Subnet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Subnet(nil), c.Subnets[networkID]...), nil
}

func (c *MemoryClient) ListPorts(ctx context.Context, deviceID string) ([]Port, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Port(nil), c.Ports[deviceID]...), nil
}
