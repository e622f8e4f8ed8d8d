package nms

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
)

// ipNet converts a netip.Addr + prefix length into the *net.IPNet shape
// vishvananda/netlink expects.
func ipNet(addr netip.Addr, prefixLen int) *net.IPNet {
	bits := 32
	if addr.Is6() {
		bits = 128
	}
	return &net.IPNet{
		IP:   net.IP(addr.AsSlice()),
		Mask: net.CIDRMask(prefixLen, bits),
	}
}

// AssignGatewayAddress assigns addr/prefixLen to iface, the address the
// downstream interface's DHCP range gateway answers on. Neither
// NftablesNMS.AddDownstreamInterface nor cmd/tetherd calls it, so running
// the daemon assigns no gateway address.
// Grounded on webmeshproj/webmesh's use of vishvananda/netlink for
// interface address management.
func AssignGatewayAddress(iface string, addr netip.Addr, prefixLen int) error {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return fmt.Errorf("lookup interface %s: %w", iface, err)
	}

	nladdr := &netlink.Addr{IPNet: ipNet(addr, prefixLen)}

	if err := netlink.AddrAdd(link, nladdr); err != nil {
		return fmt.Errorf("assign %s/%d to %s: %w", addr, prefixLen, iface, err)
	}

	return nil
}

// RemoveGatewayAddress reverses AssignGatewayAddress. Removing an address
// that was never assigned returns the netlink error.
func RemoveGatewayAddress(iface string, addr netip.Addr, prefixLen int) error {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return fmt.Errorf("lookup interface %s: %w", iface, err)
	}

	nladdr := &netlink.Addr{IPNet: ipNet(addr, prefixLen)}

	if err := netlink.AddrDel(link, nladdr); err != nil {
		return fmt.Errorf("remove %s/%d from %s: %w", addr, prefixLen, iface, err)
	}

	return nil
}
