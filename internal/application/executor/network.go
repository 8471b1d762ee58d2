package executor

import (
	"context"
	"encoding/binary"
	"math"
	"net/netip"
	"strings"

	"github.com/rs/zerolog"

	"github.com/smilemakc/conductor/internal/application/dispatcher"
	"github.com/smilemakc/conductor/internal/infrastructure/network"
)

// nameMarker tags routers and networks managed by this engine; selection
// heuristics prefer entities carrying it.
const nameMarker = "conductor"

// anyRouter keys new-subnet requests that do not scope to one router.
const anyRouter = "*"

// NetworkExecutor batches network lookups by router or network id so one
// remote query serves every waiting callback, and allocates environment
// subnets out of the configured base network.
type NetworkExecutor struct {
	tenantID    string
	client      network.Client
	envCount    int
	hostCount   int
	baseAddress string
	log         zerolog.Logger

	cidrWaitingPerRouter  map[string][]dispatcher.Callback
	cidrWaitingPerNetwork map[string][]dispatcher.Callback
	routerRequests        []dispatcher.Callback
	networkRequests       []dispatcher.Callback
}

// NewNetworkExecutor builds the executor for one task.
func NewNetworkExecutor(tenantID string, client network.Client, envCount, hostCount int,
	baseAddress string, log zerolog.Logger) *NetworkExecutor {
	return &NetworkExecutor{
		tenantID:              tenantID,
		client:                client,
		envCount:              envCount,
		hostCount:             hostCount,
		baseAddress:           baseAddress,
		log:                   log,
		cidrWaitingPerRouter:  map[string][]dispatcher.Callback{},
		cidrWaitingPerNetwork: map[string][]dispatcher.Callback{},
	}
}

func (x *NetworkExecutor) GetNewSubnet(routerID string, cb dispatcher.Callback) {
	if routerID == "" {
		routerID = anyRouter
	}
	x.cidrWaitingPerRouter[routerID] = append(x.cidrWaitingPerRouter[routerID], cb)
}

func (x *NetworkExecutor) GetExistingSubnet(networkID string, cb dispatcher.Callback) {
	x.cidrWaitingPerNetwork[networkID] = append(x.cidrWaitingPerNetwork[networkID], cb)
}

func (x *NetworkExecutor) GetDefaultRouter(cb dispatcher.Callback) {
	x.routerRequests = append(x.routerRequests, cb)
}

func (x *NetworkExecutor) GetDefaultNetwork(cb dispatcher.Callback) {
	x.networkRequests = append(x.networkRequests, cb)
}

func (x *NetworkExecutor) HasPending() bool {
	return len(x.cidrWaitingPerRouter)+len(x.cidrWaitingPerNetwork)+
		len(x.routerRequests)+len(x.networkRequests) > 0
}

func (x *NetworkExecutor) Flush(ctx context.Context) (bool, error) {
	didNewCIDRs, err := x.flushNewCIDRRequests(ctx)
	if err != nil {
		return didNewCIDRs, err
	}
	didNetworks, err := x.flushNetworkRequests(ctx)
	if err != nil {
		return didNewCIDRs || didNetworks, err
	}
	didRouters, err := x.flushRouterRequests(ctx)
	if err != nil {
		return didNewCIDRs || didNetworks || didRouters, err
	}
	didExisting, err := x.flushExistingCIDRRequests(ctx)
	return didNewCIDRs || didNetworks || didRouters || didExisting, err
}

func (x *NetworkExecutor) Close() error { return nil }

func (x *NetworkExecutor) flushNewCIDRRequests(ctx context.Context) (bool, error) {
	if len(x.cidrWaitingPerRouter) == 0 {
		return false, nil
	}
	for routerID, callbacks := range x.cidrWaitingPerRouter {
		taken, err := x.takenCIDRs(ctx, routerID)
		if err != nil {
			return false, err
		}
		var firstErr error
		for _, cb := range callbacks {
			cidr := x.generateCIDR(taken)
			if cidr != "" {
				taken[cidr] = true
			}
			if err := cb(cidrResult(cidr), nil); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if firstErr != nil {
			return true, firstErr
		}
	}
	x.cidrWaitingPerRouter = map[string][]dispatcher.Callback{}
	return true, nil
}

func (x *NetworkExecutor) flushExistingCIDRRequests(ctx context.Context) (bool, error) {
	if len(x.cidrWaitingPerNetwork) == 0 {
		return false, nil
	}
	for networkID, callbacks := range x.cidrWaitingPerNetwork {
		subnets, err := x.client.ListSubnets(ctx, networkID)
		if err != nil {
			return false, err
		}
		var result any
		if len(subnets) > 0 {
			result = subnets[0].CIDR
		}
		var firstErr error
		for _, cb := range callbacks {
			if err := cb(result, nil); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if firstErr != nil {
			return true, firstErr
		}
	}
	x.cidrWaitingPerNetwork = map[string][]dispatcher.Callback{}
	return true, nil
}

func (x *NetworkExecutor) flushRouterRequests(ctx context.Context) (bool, error) {
	if len(x.routerRequests) == 0 {
		return false, nil
	}
	routers, err := x.client.ListRouters(ctx, x.tenantID)
	if err != nil {
		return false, err
	}

	var routerID any
	if len(routers) > 0 {
		routerID = routers[0].ID
	}
	if len(routers) > 1 {
		for _, router := range routers {
			if strings.Contains(strings.ToLower(router.Name), nameMarker) {
				routerID = router.ID
				break
			}
		}
	}

	pending := x.routerRequests
	x.routerRequests = nil
	var firstErr error
	for _, cb := range pending {
		if err := cb(routerID, nil); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return true, firstErr
}

func (x *NetworkExecutor) flushNetworkRequests(ctx context.Context) (bool, error) {
	if len(x.networkRequests) == 0 {
		return false, nil
	}
	networks, err := x.client.ListNetworks(ctx)
	if err != nil {
		return false, err
	}

	var networkID any
	if len(networks) > 0 {
		networkID = networks[0].ID
	}
	if len(networks) > 1 {
		markedID, externalID, sharedID := "", "", ""
		for _, net := range networks {
			if strings.Contains(strings.ToLower(net.Name), nameMarker) {
				markedID = net.ID
				break
			}
			if net.External && externalID == "" {
				externalID = net.ID
			}
			if net.Shared && sharedID == "" {
				sharedID = net.ID
			}
		}
		switch {
		case markedID != "":
			networkID = markedID
		case externalID != "":
			networkID = externalID
		case sharedID != "":
			networkID = sharedID
		}
	}

	pending := x.networkRequests
	x.networkRequests = nil
	var firstErr error
	for _, cb := range pending {
		if err := cb(networkID, nil); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return true, firstErr
}

// takenCIDRs collects the CIDRs already allocated: either everything known,
// or only the subnets attached to a specific router.
func (x *NetworkExecutor) takenCIDRs(ctx context.Context, routerID string) (map[string]bool, error) {
	taken := map[string]bool{}
	if routerID == anyRouter {
		subnets, err := x.client.ListSubnets(ctx, "")
		if err != nil {
			return nil, err
		}
		for _, subnet := range subnets {
			taken[subnet.CIDR] = true
		}
		return taken, nil
	}

	ports, err := x.client.ListPorts(ctx, routerID)
	if err != nil {
		return nil, err
	}
	attached := map[string]bool{}
	for _, port := range ports {
		for _, fixedIP := range port.FixedIPs {
			attached[fixedIP.SubnetID] = true
		}
	}
	subnets, err := x.client.ListSubnets(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, subnet := range subnets {
		if attached[subnet.ID] {
			taken[subnet.CIDR] = true
		}
	}
	return taken, nil
}

// generateCIDR picks the next free environment subnet under the configured
// base network. Subnet width derives from the host budget, the number of
// candidate subnets from the environment budget.
func (x *NetworkExecutor) generateCIDR(taken map[string]bool) string {
	bitsForEnvs := ceilLog2(x.envCount)
	bitsForHosts := ceilLog2(x.hostCount)
	maskWidth := 32 - bitsForHosts - bitsForEnvs
	subnetWidth := 32 - bitsForHosts
	if maskWidth <= 0 || subnetWidth > 32 {
		return ""
	}

	base, err := netip.ParseAddr(x.baseAddress)
	if err != nil || !base.Is4() {
		x.log.Error().Str("address", x.baseAddress).Msg("invalid base network address")
		return ""
	}
	root := netip.PrefixFrom(base, maskWidth).Masked()

	start := binary.BigEndian.Uint32(root.Addr().AsSlice())
	step := uint32(1) << bitsForHosts
	for i := 0; i < 1<<bitsForEnvs; i++ {
		var raw [4]byte
		binary.BigEndian.PutUint32(raw[:], start+uint32(i)*step)
		candidate := netip.PrefixFrom(netip.AddrFrom4(raw), subnetWidth).String()
		if !taken[candidate] {
			return candidate
		}
	}
	return ""
}

func ceilLog2(n int) int {
	if n <= 1 {
		return 0
	}
	return int(math.Ceil(math.Log2(float64(n))))
}

func cidrResult(cidr string) any {
	if cidr == "" {
		return nil
	}
	return cidr
}
