package tether

import "testing"

func TestSelectUpstreamPrefersEarlierType(t *testing.T) {
	t.Parallel()

	cfg := TetheringConfig{
		PreferredUpstreamTypes: []UpstreamType{UpstreamEthernet, UpstreamWifi, UpstreamMobileHIPRI},
	}
	candidates := map[Handle]UpstreamCandidate{
		1: {Network: 1, Type: UpstreamWifi, Connected: true},
		2: {Network: 2, Type: UpstreamMobileHIPRI, Connected: true},
	}

	sel := selectUpstream(cfg, candidates, true)

	if !sel.found || sel.selectedType != UpstreamWifi {
		t.Fatalf("selectedType = %v, found = %v, want UpstreamWifi/true", sel.selectedType, sel.found)
	}
	if sel.requestMobile {
		t.Error("requestMobile should be false when a non-mobile type is selected")
	}
}

func TestSelectUpstreamRequestsMobileWhenPreferredTypeIsMobile(t *testing.T) {
	t.Parallel()

	cfg := TetheringConfig{
		PreferredUpstreamTypes: []UpstreamType{UpstreamEthernet, UpstreamMobileHIPRI},
		IsDunRequired:          true,
	}
	candidates := map[Handle]UpstreamCandidate{
		1: {Network: 1, Type: UpstreamMobileHIPRI, Connected: true},
	}

	sel := selectUpstream(cfg, candidates, false)

	if !sel.found || !sel.requestMobile || !sel.dunRequired {
		t.Fatalf("got %+v, want found+requestMobile+dunRequired", sel)
	}
}

func TestSelectUpstreamNoneWithTryCellRequestsMobile(t *testing.T) {
	t.Parallel()

	cfg := TetheringConfig{PreferredUpstreamTypes: []UpstreamType{UpstreamEthernet}}

	sel := selectUpstream(cfg, nil, true)

	if sel.found || !sel.requestMobile || sel.scheduleRetry {
		t.Fatalf("got %+v, want !found+requestMobile+!scheduleRetry", sel)
	}
}

func TestSelectUpstreamNoneWithoutTryCellSchedulesRetry(t *testing.T) {
	t.Parallel()

	cfg := TetheringConfig{PreferredUpstreamTypes: []UpstreamType{UpstreamEthernet}}

	sel := selectUpstream(cfg, nil, false)

	if sel.found || sel.requestMobile || !sel.scheduleRetry {
		t.Fatalf("got %+v, want !found+!requestMobile+scheduleRetry", sel)
	}
}

func TestSelectUpstreamIgnoresDisconnectedCandidates(t *testing.T) {
	t.Parallel()

	cfg := TetheringConfig{PreferredUpstreamTypes: []UpstreamType{UpstreamEthernet}}
	candidates := map[Handle]UpstreamCandidate{
		1: {Network: 1, Type: UpstreamEthernet, Connected: false},
	}

	sel := selectUpstream(cfg, candidates, true)

	if sel.found {
		t.Fatalf("got found=true for a disconnected candidate")
	}
}

func TestMasterRequestListDedupesByHandle(t *testing.T) {
	t.Parallel()

	var l masterRequestList
	ch := make(chan ifaceMessage, 1)

	l.add(1, ch)
	l.add(1, ch)
	l.add(2, ch)

	if len(l.entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(l.entries))
	}
}

func TestMasterRequestListRemove(t *testing.T) {
	t.Parallel()

	var l masterRequestList
	ch := make(chan ifaceMessage, 1)

	l.add(1, ch)
	l.add(2, ch)
	l.remove(1)

	if l.isEmpty() {
		t.Fatal("list should still contain handle 2")
	}
	if len(l.entries) != 1 || l.entries[0].handle != 2 {
		t.Fatalf("entries = %+v, want [{handle: 2}]", l.entries)
	}

	l.remove(2)
	if !l.isEmpty() {
		t.Fatal("list should be empty after removing every entry")
	}
}
