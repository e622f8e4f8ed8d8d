package nms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"github.com/miekg/dns"
)

// ErrNoUpstreamDNS reports that no upstream DNS servers are configured.
// SetUpstreams does not return it: an empty list stops the forwarder.
var ErrNoUpstreamDNS = errors.New("nms: no upstream DNS servers configured")

// DNSForwarder runs a plain UDP DNS server for one downstream interface,
// listening on port 53 of every local address, and relays every query to
// the configured upstream resolver list, round-robin. Grounded on webmeshproj/webmesh's
// use of miekg/dns for forwarding.
type DNSForwarder struct {
	logger *slog.Logger
	iface  string

	mu        sync.Mutex
	upstreams []netip.Addr
	server    *dns.Server
	next      int
}

// NewDNSForwarder creates a forwarder for the given downstream interface.
// It does not start listening until SetUpstreams is first called with a
// non-empty list.
func NewDNSForwarder(logger *slog.Logger, downstreamIface string) *DNSForwarder {
	return &DNSForwarder{
		logger: logger.With(slog.String("component", "nms.dns"), slog.String("iface", downstreamIface)),
		iface:  downstreamIface,
	}
}

// SetUpstreams updates the resolver list a running forwarder relays to,
// starting the listener on first call. Passing an empty list stops the
// forwarder.
func (f *DNSForwarder) SetUpstreams(_ context.Context, upstreams []netip.Addr) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(upstreams) == 0 {
		return f.stopLocked()
	}

	f.upstreams = upstreams

	if f.server != nil {
		f.logger.Info("dns forwarder upstreams updated", slog.Int("count", len(upstreams)))
		return nil
	}

	return f.startLocked()
}

func (f *DNSForwarder) startLocked() error {
	mux := dns.NewServeMux()
	mux.HandleFunc(".", f.handle)

	// Bound to 0.0.0.0 rather than the interface's precise gateway address;
	// nothing in this package assigns that address, and this forwarder just
	// needs a socket that will receive the queries.
	f.server = &dns.Server{Addr: ":53", Net: "udp"}

	go func() {
		if err := f.server.ListenAndServe(); err != nil {
			f.logger.Warn("dns forwarder stopped", slog.String("error", err.Error()))
		}
	}()

	f.logger.Info("dns forwarder started", slog.Int("upstreams", len(f.upstreams)))
	return nil
}

func (f *DNSForwarder) stopLocked() error {
	if f.server == nil {
		return nil
	}
	err := f.server.Shutdown()
	f.server = nil
	f.upstreams = nil
	if err != nil {
		return fmt.Errorf("stop dns forwarder for %s: %w", f.iface, err)
	}
	f.logger.Info("dns forwarder stopped")
	return nil
}

func (f *DNSForwarder) handle(w dns.ResponseWriter, r *dns.Msg) {
	upstream, ok := f.pickUpstream()
	if !ok {
		dns.HandleFailed(w, r)
		return
	}

	client := new(dns.Client)
	resp, _, err := client.Exchange(r, net.JoinHostPort(upstream.String(), "53"))
	if err != nil || resp == nil {
		f.logger.Debug("upstream dns exchange failed", slog.String("upstream", upstream.String()))
		dns.HandleFailed(w, r)
		return
	}

	if err := w.WriteMsg(resp); err != nil {
		f.logger.Debug("write dns response failed", slog.String("error", err.Error()))
	}
}

func (f *DNSForwarder) pickUpstream() (netip.Addr, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.upstreams) == 0 {
		return netip.Addr{}, false
	}

	addr := f.upstreams[f.next%len(f.upstreams)]
	f.next++
	return addr, true
}
