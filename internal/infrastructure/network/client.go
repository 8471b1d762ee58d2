// Package network talks to the cloud network service: routers, networks,
// subnets and ports.
package network

import "context"

// Router is one tenant router.
type Router struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Network is one tenant or shared network.
type Network struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	External bool   `json:"router:external"`
	Shared   bool   `json:"shared"`
}

// Subnet is one allocated subnet.
type Subnet struct {
	ID   string `json:"id"`
	CIDR string `json:"cidr"`
}

// Port is one attachment point; FixedIPs carry the subnets it sits on.
type Port struct {
	ID       string    `json:"id"`
	FixedIPs []FixedIP `json:"fixed_ips"`
}

// FixedIP binds a port to a subnet.
type FixedIP struct {
	SubnetID string `json:"subnet_id"`
}

// Client is the network API surface the network executor depends on.
type Client interface {
	ListRouters(ctx context.Context, tenantID string) ([]Router, error)
	ListNetworks(ctx context.Context) ([]Network, error)
	// ListSubnets filters by network when networkID is non-empty.
	ListSubnets(ctx context.Context, networkID string) ([]Subnet, error)
	ListPorts(ctx context.Context, deviceID string) ([]Port, error)
}
