package tether

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/dantte-lp/tetherd/internal/nms"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeNMS struct {
	mu    sync.Mutex
	added map[string]string
}

func newFakeNMS() *fakeNMS { return &fakeNMS{added: make(map[string]string)} }

func (f *fakeNMS) SetIPForwardingEnabled(ctx context.Context, enabled bool) error { return nil }
func (f *fakeNMS) StartTethering(ctx context.Context, dhcpRanges []string) error  { return nil }
func (f *fakeNMS) StopTethering(ctx context.Context) error                       { return nil }

func (f *fakeNMS) AddDownstreamInterface(ctx context.Context, downstreamIface, upstreamIface string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added[downstreamIface] = upstreamIface
	return nil
}

func (f *fakeNMS) RemoveDownstreamInterface(ctx context.Context, downstreamIface string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.added, downstreamIface)
	return nil
}

func (f *fakeNMS) SetDNSForwarders(ctx context.Context, downstreamIface string, upstreamDNS []netip.Addr) error {
	return nil
}

func (f *fakeNMS) ListInterfaces(ctx context.Context) ([]string, error) { return nil, nil }

func (f *fakeNMS) upstreamFor(iface string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.added[iface]
	return u, ok
}

var _ nms.NMS = (*fakeNMS)(nil)

// fakeUpstreamSource delivers a fixed ethernet candidate synchronously from
// StartDefault, so tests observe its effects without waiting on real
// platform connectivity callbacks.
type fakeUpstreamSource struct {
	candidate UpstreamCandidate
}

func (s *fakeUpstreamSource) StartDefault(ctx context.Context, cb func(kind UpstreamCallbackKind, candidate UpstreamCandidate)) error {
	cb(UpstreamCbLinkProperties, s.candidate)
	return nil
}
func (s *fakeUpstreamSource) RequestMobile(dunRequired bool) error { return nil }
func (s *fakeUpstreamSource) ReleaseMobile() error                 { return nil }
func (s *fakeUpstreamSource) Stop() error                          { return nil }

type fakeUSBManager struct {
	mu        sync.Mutex
	rndisCall bool
}

func (m *fakeUSBManager) SetCurrentFunction(rndis bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rndisCall = rndis
	return nil
}

type noopDispatcher struct{}

func (noopDispatcher) Dispatch(intent ProvisioningIntent) error { return nil }

// TestUSBHappyPath covers the common case: an ethernet upstream with an
// IPv4 default route is already present; starting USB tethering
// ends with rndis0 TETHERED and the master's current upstream set to eth0.
func TestUSBHappyPath(t *testing.T) {
	cfg := TetheringConfig{
		TetherableUSBRegexs:    []string{"^rndis0$"},
		PreferredUpstreamTypes: []UpstreamType{UpstreamEthernet, UpstreamMobileHIPRI},
	}

	candidate := UpstreamCandidate{
		Network:   1,
		Type:      UpstreamEthernet,
		Connected: true,
		LinkProperties: LinkProperties{
			Interfaces: []string{"eth0"},
			Routes: []Route{
				{Destination: netip.MustParsePrefix("0.0.0.0/0"), Interface: "eth0"},
			},
		},
	}

	n := newFakeNMS()
	usb := &fakeUSBManager{}

	o := NewOrchestrator(n, &fakeUpstreamSource{candidate: candidate}, noopDispatcher{},
		usb, nil, nil, cfg, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	defer o.Stop()

	// USB broadcast {connected=true, rndis=false}: requests RNDIS.
	if code := o.StartTethering(InterfaceUSB, nil, false); code != ErrNone {
		t.Fatalf("StartTethering(USB) = %v, want ErrNone", code)
	}
	o.HandleUSBBroadcast(true, false)

	// The kernel brings rndis0 up once RNDIS is enabled.
	o.InterfaceStatusChanged("rndis0", true)

	// USB broadcast {connected=true, rndis=true}: the pending request
	// performs the tether.
	o.HandleUSBBroadcast(true, true)

	waitFor(t, func() bool {
		entry, ok := o.registry.Get("rndis0")
		return ok && entry.LastState == StateTethered
	})

	// rndis0 is already tethered at this point, so a repeat request must
	// be rejected rather than re-running the tether sequence.
	if code := o.Tether("rndis0"); code != ErrUnavailIface {
		t.Fatalf("Tether(rndis0) on an already-tethered iface = %v, want ErrUnavailIface", code)
	}

	tethered := o.GetTetheredIfaces()
	if len(tethered) != 1 || tethered[0] != "rndis0" {
		t.Fatalf("GetTetheredIfaces() = %v, want [rndis0]", tethered)
	}

	if upstream, ok := n.upstreamFor("rndis0"); !ok || upstream != "eth0" {
		t.Fatalf("rndis0's programmed upstream = %q, %v, want eth0/true", upstream, ok)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
