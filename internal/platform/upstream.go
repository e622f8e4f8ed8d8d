package platform

import (
	"bufio"
	"context"
	"log/slog"
	"net/netip"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/dantte-lp/tetherd/internal/tether"
)

// upstreamPollInterval mirrors internal/eventbus's link-poll cadence: an
// upstream network settling takes seconds, not milliseconds, so polling
// the routing table at this rate costs nothing observable.
const upstreamPollInterval = 2 * time.Second

// IPRouteUpstreamSource discovers the host's default-route network by
// polling `ip -4 route show default` (and reading /etc/resolv.conf for
// DNS servers), the same stable, well-documented CLI
// surface internal/eventbus's design notes prefer over reproducing a
// connectivity-manager's D-Bus object model from memory. It only ever
// reports one candidate at a time: whatever currently owns the IPv4
// default route.
type IPRouteUpstreamSource struct {
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	handles map[string]tether.Handle
	next    tether.Handle
}

// NewIPRouteUpstreamSource creates a source that has not yet started
// polling.
func NewIPRouteUpstreamSource(logger *slog.Logger) *IPRouteUpstreamSource {
	return &IPRouteUpstreamSource{
		logger:  logger.With(slog.String("component", "platform.upstream")),
		handles: make(map[string]tether.Handle),
	}
}

// StartDefault polls the default route until ctx is cancelled or Stop is
// called, delivering UpstreamCbLinkProperties when the default-route
// interface appears or changes, and UpstreamCbLost when it disappears.
func (s *IPRouteUpstreamSource) StartDefault(ctx context.Context, cb func(kind tether.UpstreamCallbackKind, candidate tether.UpstreamCandidate)) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.poll(ctx, cb)
	return nil
}

func (s *IPRouteUpstreamSource) poll(ctx context.Context, cb func(kind tether.UpstreamCallbackKind, candidate tether.UpstreamCandidate)) {
	ticker := time.NewTicker(upstreamPollInterval)
	defer ticker.Stop()

	var lastIface string

	check := func() {
		iface, err := defaultRouteInterface(ctx)
		if err != nil {
			s.logger.Debug("default route lookup failed", slog.String("error", err.Error()))
			return
		}

		if iface == lastIface {
			return
		}

		if lastIface != "" {
			cb(tether.UpstreamCbLost, tether.UpstreamCandidate{Network: s.handleFor(lastIface)})
		}
		lastIface = iface
		if iface == "" {
			return
		}

		dns, _ := resolvConfNameservers()
		cb(tether.UpstreamCbLinkProperties, tether.UpstreamCandidate{
			Network:   s.handleFor(iface),
			Type:      classifyUpstreamType(iface),
			Connected: true,
			LinkProperties: tether.LinkProperties{
				Interfaces: []string{iface},
				Routes: []tether.Route{
					{Destination: netip.MustParsePrefix("0.0.0.0/0"), Interface: iface},
				},
				DNS: dns,
			},
		})
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

func (s *IPRouteUpstreamSource) handleFor(iface string) tether.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[iface]; ok {
		return h
	}
	s.next++
	s.handles[iface] = s.next
	return s.next
}

// RequestMobile is a no-op: this source only observes whatever network
// already owns the default route, it cannot request the platform bring a
// mobile/DUN connection up.
func (s *IPRouteUpstreamSource) RequestMobile(dunRequired bool) error { return nil }

// ReleaseMobile is a no-op, see RequestMobile.
func (s *IPRouteUpstreamSource) ReleaseMobile() error { return nil }

// Stop cancels the polling goroutine started by StartDefault. Idempotent.
func (s *IPRouteUpstreamSource) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// defaultRouteInterface runs `ip -4 route show default` and extracts the
// outgoing interface name of the first default route, or "" if none.
func defaultRouteInterface(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "ip", "-4", "route", "show", "default").Output()
	if err != nil {
		return "", err
	}

	fields := strings.Fields(string(out))
	for i, f := range fields {
		if f == "dev" && i+1 < len(fields) {
			return fields[i+1], nil
		}
	}
	return "", nil
}

// resolvConfNameservers parses /etc/resolv.conf's "nameserver" lines.
func resolvConfNameservers() ([]netip.Addr, error) {
	f, err := os.Open("/etc/resolv.conf")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []netip.Addr
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[0] != "nameserver" {
			continue
		}
		if addr, err := netip.ParseAddr(fields[1]); err == nil {
			out = append(out, addr)
		}
	}
	return out, nil
}

// classifyUpstreamType guesses an upstream's type from its kernel interface
// name prefix. This is the same heuristic Linux network managers use for
// display purposes; it is not authoritative but is good enough to rank
// against TetheringConfig.PreferredUpstreamTypes.
func classifyUpstreamType(iface string) tether.UpstreamType {
	switch {
	case strings.HasPrefix(iface, "wl"):
		return tether.UpstreamWifi
	case strings.HasPrefix(iface, "ww"), strings.HasPrefix(iface, "rmnet"), strings.HasPrefix(iface, "usb"):
		return tether.UpstreamMobileHIPRI
	case strings.HasPrefix(iface, "bnep"):
		return tether.UpstreamBluetooth
	default:
		return tether.UpstreamEthernet
	}
}
