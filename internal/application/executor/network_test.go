package executor

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/conductor/internal/application/dispatcher"
	"github.com/smilemakc/conductor/internal/infrastructure/network"
)

func newNetworkExecutor(client *network.MemoryClient) *NetworkExecutor {
	return NewNetworkExecutor("tenant", client, 20, 250, "10.0.0.0", zerolog.Nop())
}

func collect(results *[]any) dispatcher.Callback {
	return func(result any, err error) error {
		*results = append(*results, result)
		return err
	}
}

func TestNewSubnetAllocation(t *testing.T) {
	client := network.NewMemoryClient()
	client.Subnets[""] = []network.Subnet{{ID: "s1", CIDR: "10.0.0.0/24"}}
	x := newNetworkExecutor(client)

	var results []any
	x.GetNewSubnet("", collect(&results))
	x.GetNewSubnet("", collect(&results))
	assert.True(t, x.HasPending())

	worked, err := x.Flush(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)
	assert.False(t, x.HasPending())

	// 250 hosts need 8 bits, so environment subnets are /24; the taken one
	// is skipped and consecutive requests in one batch do not collide.
	require.Len(t, results, 2)
	assert.Equal(t, "10.0.1.0/24", results[0])
	assert.Equal(t, "10.0.2.0/24", results[1])
}

func TestNewSubnetScopedToRouter(t *testing.T) {
	client := network.NewMemoryClient()
	client.Subnets[""] = []network.Subnet{
		{ID: "s1", CIDR: "10.0.0.0/24"},
		{ID: "s2", CIDR: "10.0.1.0/24"},
	}
	// Only s2 hangs off the router, so 10.0.0.0/24 stays available.
	client.Ports["router-1"] = []network.Port{
		{ID: "p1", FixedIPs: []network.FixedIP{{SubnetID: "s2"}}},
	}
	x := newNetworkExecutor(client)

	var results []any
	x.GetNewSubnet("router-1", collect(&results))
	_, err := x.Flush(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "10.0.0.0/24", results[0])
}

func TestExistingSubnetLookupBatches(t *testing.T) {
	client := network.NewMemoryClient()
	client.Subnets["net-1"] = []network.Subnet{{ID: "s1", CIDR: "192.168.1.0/24"}}
	x := newNetworkExecutor(client)

	var results []any
	x.GetExistingSubnet("net-1", collect(&results))
	x.GetExistingSubnet("net-1", collect(&results))

	worked, err := x.Flush(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)
	assert.Equal(t, []any{"192.168.1.0/24", "192.168.1.0/24"}, results)
}

func TestExistingSubnetMissing(t *testing.T) {
	client := network.NewMemoryClient()
	x := newNetworkExecutor(client)

	var results []any
	x.GetExistingSubnet("net-404", collect(&results))
	_, err := x.Flush(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0])
}

func TestDefaultRouterPrefersMarkedName(t *testing.T) {
	client := network.NewMemoryClient()
	client.Routers = []network.Router{
		{ID: "r1", Name: "edge"},
		{ID: "r2", Name: "conductor-router"},
	}
	x := newNetworkExecutor(client)

	var results []any
	x.GetDefaultRouter(collect(&results))
	_, err := x.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{"r2"}, results)
}

func TestDefaultRouterNoneAvailable(t *testing.T) {
	client := network.NewMemoryClient()
	x := newNetworkExecutor(client)

	var results []any
	x.GetDefaultRouter(collect(&results))
	_, err := x.Flush(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0])
}

func TestDefaultNetworkPreferenceOrder(t *testing.T) {
	client := network.NewMemoryClient()
	client.Networks = []network.Network{
		{ID: "n1", Name: "private"},
		{ID: "n2", Name: "public", External: true},
		{ID: "n3", Name: "shared-net", Shared: true},
	}
	x := newNetworkExecutor(client)

	var results []any
	x.GetDefaultNetwork(collect(&results))
	_, err := x.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{"n2"}, results, "external wins when nothing carries the marker")
}

func TestDefaultNetworkSingle(t *testing.T) {
	client := network.NewMemoryClient()
	client.Networks = []network.Network{{ID: "only", Name: "net"}}
	x := newNetworkExecutor(client)

	var results []any
	x.GetDefaultNetwork(collect(&results))
	_, err := x.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{"only"}, results)
}

func TestNetworkFlushWithoutPendingIsQuiet(t *testing.T) {
	x := newNetworkExecutor(network.NewMemoryClient())
	worked, err := x.Flush(context.Background())
	require.NoError(t, err)
	assert.False(t, worked)
}
