package state

import (
	"net"
	"net/netip"

	"github.com/cilium/cilium/pkg/ip"
)

func toIPNets(prefixes []netip.Prefix) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(prefixes))
	for _, p := range prefixes {
		if p.IsValid() {
			nets = append(nets, &net.IPNet{
				IP:   p.Addr().AsSlice(),
				Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
			})
		}
	}
	return nets
}

func fromIPNets(nets []*net.IPNet) []netip.Prefix {
	output := make([]netip.Prefix, 0, len(nets))
	for _, n := range nets {
		if addr, ok := netip.AddrFromSlice(n.IP); ok {
			ones, _ := n.Mask.Size()
			output = append(output, netip.PrefixFrom(addr.Unmap(), ones))
		}
	}
	return output
}

// CoalescePrefix merges adjacent and overlapping prefixes into the smallest covering set.
func CoalescePrefix(prefixes []netip.Prefix) []netip.Prefix {
	ipv4, ipv6 := ip.CoalesceCIDRs(toIPNets(prefixes))
	return fromIPNets(append(ipv4, ipv6...))
}

// Reachable returns the coalesced set of prefixes a node has a selected route for.
func (n *Node) Reachable() []netip.Prefix {
	return CoalescePrefix(n.RIB.SelectedPrefixes())
}
