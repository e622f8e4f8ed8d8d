package platform

import (
	"testing"

	"github.com/dantte-lp/tetherd/internal/tether"
)

func TestClassifyUpstreamType(t *testing.T) {
	t.Parallel()

	cases := map[string]tether.UpstreamType{
		"eth0":   tether.UpstreamEthernet,
		"wlan0":  tether.UpstreamWifi,
		"wwan0":  tether.UpstreamMobileHIPRI,
		"rmnet0": tether.UpstreamMobileHIPRI,
		"bnep0":  tether.UpstreamBluetooth,
	}
	for iface, want := range cases {
		if got := classifyUpstreamType(iface); got != want {
			t.Errorf("classifyUpstreamType(%q) = %v, want %v", iface, got, want)
		}
	}
}

func TestIPRouteUpstreamSourceHandleForIsStable(t *testing.T) {
	t.Parallel()
	s := NewIPRouteUpstreamSource(discardLogger())

	h1 := s.handleFor("eth0")
	h2 := s.handleFor("eth0")
	h3 := s.handleFor("wlan0")

	if h1 != h2 {
		t.Errorf("handleFor(eth0) not stable: %v != %v", h1, h2)
	}
	if h1 == h3 {
		t.Error("handleFor(eth0) == handleFor(wlan0), want distinct handles")
	}
}

func TestIPRouteUpstreamSourceStopWithoutStart(t *testing.T) {
	t.Parallel()
	s := NewIPRouteUpstreamSource(discardLogger())
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() before StartDefault = %v, want nil", err)
	}
}
