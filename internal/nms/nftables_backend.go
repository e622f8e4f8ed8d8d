package nms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"
)

// ErrNoDHCPRanges is returned by StartTethering when called with an empty
// range list.
var ErrNoDHCPRanges = errors.New("nms: no DHCP ranges configured")

// NftablesNMS is the real NMS backend for Linux: it programs a dedicated
// "tetherd" table; each AddDownstreamInterface call adds one POSTROUTING
// masquerade rule for its upstream interface and one forward accept rule
// for its downstream interface.
// Grounded on webmeshproj/webmesh's use of google/nftables for firewall
// programming.
type NftablesNMS struct {
	logger *slog.Logger

	mu         sync.Mutex
	conn       *nftables.Conn
	table      *nftables.Table
	postChain  *nftables.Chain
	forwChain  *nftables.Chain
	dhcpRanges []string

	// downstreamRules tracks the rule handles added per downstream
	// interface so RemoveDownstreamInterface can delete exactly what
	// AddDownstreamInterface added.
	downstreamRules map[string][]*nftables.Rule

	// forwarders holds one DNS forwarder per downstream interface, created
	// lazily on first SetDNSForwarders call.
	forwarders map[string]*DNSForwarder
}

// NewNftablesNMS creates an NftablesNMS. The nftables netlink connection is
// opened lazily on first use so construction never fails on systems
// without CAP_NET_ADMIN (e.g. in unit tests).
func NewNftablesNMS(logger *slog.Logger) *NftablesNMS {
	return &NftablesNMS{
		logger:          logger.With(slog.String("component", "nms.nftables")),
		downstreamRules: make(map[string][]*nftables.Rule),
	}
}

func (n *NftablesNMS) conn_() (*nftables.Conn, error) {
	if n.conn != nil {
		return n.conn, nil
	}
	c, err := nftables.New()
	if err != nil {
		return nil, fmt.Errorf("open nftables netlink socket: %w", err)
	}
	n.conn = c
	return c, nil
}

// SetIPForwardingEnabled writes net.ipv4.ip_forward via /proc/sys, the
// standard Linux mechanism; nftables has no forwarding master switch of
// its own.
func (n *NftablesNMS) SetIPForwardingEnabled(_ context.Context, enabled bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	val := "0"
	if enabled {
		val = "1"
	}

	if err := writeProcSysBool(ipv4ForwardSysctl, val); err != nil {
		return fmt.Errorf("set ip_forward=%s: %w", val, err)
	}

	n.logger.Info("ip forwarding updated", slog.Bool("enabled", enabled))
	return nil
}

// StartTethering creates the tetherd nat table and its base chains, and
// stores dhcpRanges; no rule is built from the ranges.
func (n *NftablesNMS) StartTethering(_ context.Context, dhcpRanges []string) error {
	if len(dhcpRanges) == 0 {
		return ErrNoDHCPRanges
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	conn, err := n.conn_()
	if err != nil {
		return err
	}

	n.table = conn.AddTable(&nftables.Table{
		Family: nftables.TableFamilyIPv4,
		Name:   "tetherd",
	})

	n.postChain = conn.AddChain(&nftables.Chain{
		Name:     "postrouting",
		Table:    n.table,
		Type:     nftables.ChainTypeNAT,
		Hooknum:  nftables.ChainHookPostrouting,
		Priority: nftables.ChainPriorityNATSource,
	})

	n.forwChain = conn.AddChain(&nftables.Chain{
		Name:     "forward",
		Table:    n.table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookForward,
		Priority: nftables.ChainPriorityFilter,
	})

	if err := conn.Flush(); err != nil {
		return fmt.Errorf("create tetherd nftables scaffolding: %w", err)
	}

	n.dhcpRanges = dhcpRanges
	n.logger.Info("tethering base rules programmed", slog.Int("dhcp_range_pairs", len(dhcpRanges)/2))
	return nil
}

// StopTethering deletes the tetherd table, removing every rule it ever
// held in one shot. Idempotent: deleting an already-absent table is
// swallowed.
func (n *NftablesNMS) StopTethering(_ context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.table == nil {
		return nil
	}

	conn, err := n.conn_()
	if err != nil {
		return err
	}

	conn.DelTable(n.table)
	if err := conn.Flush(); err != nil {
		return fmt.Errorf("delete tetherd nftables table: %w", err)
	}

	n.table = nil
	n.postChain = nil
	n.forwChain = nil
	n.downstreamRules = make(map[string][]*nftables.Rule)
	n.logger.Info("tethering base rules removed")
	return nil
}

// AddDownstreamInterface adds a masquerade rule for traffic leaving via
// upstreamIface and a forward-accept rule for traffic entering from
// downstreamIface.
func (n *NftablesNMS) AddDownstreamInterface(_ context.Context, downstreamIface, upstreamIface string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.table == nil || n.postChain == nil || n.forwChain == nil {
		return errors.New("nms: StartTethering must be called before AddDownstreamInterface")
	}

	conn, err := n.conn_()
	if err != nil {
		return err
	}

	masq := conn.AddRule(&nftables.Rule{
		Table: n.table,
		Chain: n.postChain,
		Exprs: []expr.Any{
			&expr.Meta{Key: expr.MetaKeyOIFNAME, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ifnameData(upstreamIface)},
			&expr.Masq{},
		},
	})

	accept := conn.AddRule(&nftables.Rule{
		Table: n.table,
		Chain: n.forwChain,
		Exprs: []expr.Any{
			&expr.Meta{Key: expr.MetaKeyIIFNAME, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ifnameData(downstreamIface)},
			&expr.Verdict{Kind: expr.VerdictAccept},
		},
	})

	if err := conn.Flush(); err != nil {
		return fmt.Errorf("add downstream rules for %s via %s: %w", downstreamIface, upstreamIface, err)
	}

	n.downstreamRules[downstreamIface] = []*nftables.Rule{masq, accept}
	n.logger.Info("downstream interface programmed",
		slog.String("downstream", downstreamIface), slog.String("upstream", upstreamIface))
	return nil
}

// RemoveDownstreamInterface deletes the rules AddDownstreamInterface added
// for downstreamIface. Idempotent.
func (n *NftablesNMS) RemoveDownstreamInterface(_ context.Context, downstreamIface string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	rules, ok := n.downstreamRules[downstreamIface]
	if !ok {
		return nil
	}

	conn, err := n.conn_()
	if err != nil {
		return err
	}

	for _, r := range rules {
		if err := conn.DelRule(r); err != nil {
			n.logger.Warn("delete downstream rule failed, continuing",
				slog.String("downstream", downstreamIface), slog.String("error", err.Error()))
		}
	}

	if err := conn.Flush(); err != nil {
		return fmt.Errorf("remove downstream rules for %s: %w", downstreamIface, err)
	}

	delete(n.downstreamRules, downstreamIface)
	n.logger.Info("downstream interface unprogrammed", slog.String("downstream", downstreamIface))
	return nil
}

// SetDNSForwarders programs no nftables rule; it hands upstreamDNS to the
// DNSForwarder (dnsforwarder.go) kept for downstreamIface, creating it on
// first use, so one concrete type satisfies the NMS interface in
// cmd/tetherd.
func (n *NftablesNMS) SetDNSForwarders(ctx context.Context, downstreamIface string, upstreamDNS []netip.Addr) error {
	return n.forwarder(downstreamIface).SetUpstreams(ctx, upstreamDNS)
}

func (n *NftablesNMS) forwarder(downstreamIface string) *DNSForwarder {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.forwarders == nil {
		n.forwarders = make(map[string]*DNSForwarder)
	}
	f, ok := n.forwarders[downstreamIface]
	if !ok {
		f = NewDNSForwarder(n.logger, downstreamIface)
		n.forwarders[downstreamIface] = f
	}
	return f
}

// ListInterfaces reports the interfaces currently carrying a downstream
// rule set, i.e. the ones this NMS instance is actively tethering.
func (n *NftablesNMS) ListInterfaces(_ context.Context) ([]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	names := make([]string, 0, len(n.downstreamRules))
	for name := range n.downstreamRules {
		names = append(names, name)
	}
	return names, nil
}

// ifnameData encodes an interface name the way the kernel represents it for
// meta oifname/iifname comparisons: a fixed IFNAMSIZ-byte, zero-padded
// buffer.
func ifnameData(name string) []byte {
	b := make([]byte, unix.IFNAMSIZ)
	copy(b, name)
	return b
}
