// Package nms implements the network-management service as an external
// collaborator: the component that actually flips IP forwarding and
// configures NAT, DHCP ranges and DNS forwarders. The tethering core
// (internal/tether) only ever talks to the NMS interface below; it never
// touches nftables, netlink or DNS directly — the core itself owns no NAT
// table state and implements no DHCP server.
package nms

import (
	"context"
	"net/netip"
)

// NMS is the network-management collaborator the tethering core drives.
type NMS interface {
	// SetIPForwardingEnabled flips the host-wide IP forwarding master
	// switch.
	SetIPForwardingEnabled(ctx context.Context, enabled bool) error

	// StartTethering performs whatever one-time, host-wide setup is needed
	// before any downstream interface can be added (e.g. the NAT table and
	// base chains), given the configured DHCP ranges.
	StartTethering(ctx context.Context, dhcpRanges []string) error

	// StopTethering tears down the host-wide setup established by
	// StartTethering. Idempotent.
	StopTethering(ctx context.Context) error

	// AddDownstreamInterface programs NAT/masquerade and a forward accept
	// rule for traffic entering from downstreamIface, routing its traffic
	// out upstreamIface.
	AddDownstreamInterface(ctx context.Context, downstreamIface, upstreamIface string) error

	// RemoveDownstreamInterface reverses AddDownstreamInterface.
	// Idempotent.
	RemoveDownstreamInterface(ctx context.Context, downstreamIface string) error

	// SetDNSForwarders runs a DNS forwarder for downstreamIface, relaying
	// to upstreamDNS. An empty upstreamDNS list means
	// "use the configured default list" (resolved by the caller before
	// invoking this method).
	SetDNSForwarders(ctx context.Context, downstreamIface string, upstreamDNS []netip.Addr) error

	// ListInterfaces returns the names of the interfaces the NMS currently
	// has downstream forwarding programmed for.
	ListInterfaces(ctx context.Context) ([]string, error)
}
