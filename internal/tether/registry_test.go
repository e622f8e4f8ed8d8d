package tether_test

import (
	"slices"
	"testing"

	"github.com/dantte-lp/tetherd/internal/tether"
)

func TestRegistryPutGetRemove(t *testing.T) {
	t.Parallel()

	r := tether.NewRegistry()

	if _, ok := r.Get("rndis0"); ok {
		t.Fatal("expected no entry for a fresh registry")
	}

	r.Put("rndis0", tether.TetherEntry{Type: tether.InterfaceUSB, LastState: tether.StateAvailable})

	entry, ok := r.Get("rndis0")
	if !ok || entry.Type != tether.InterfaceUSB {
		t.Fatalf("Get() = %+v, %v, want an InterfaceUSB entry", entry, ok)
	}

	r.Remove("rndis0")
	if _, ok := r.Get("rndis0"); ok {
		t.Fatal("expected entry to be gone after Remove")
	}
}

func TestRegistryUpdateStateNoOpOnMissingEntry(t *testing.T) {
	t.Parallel()

	r := tether.NewRegistry()
	r.UpdateState("ghost", tether.StateTethered, tether.ErrNone)

	if _, ok := r.Get("ghost"); ok {
		t.Fatal("UpdateState must not create an entry for an unknown interface")
	}
}

func TestRegistryStickyErrorClearedExplicitly(t *testing.T) {
	t.Parallel()

	r := tether.NewRegistry()
	r.Put("wlan0", tether.TetherEntry{Type: tether.InterfaceWifi, LastState: tether.StateAvailable})
	r.UpdateState("wlan0", tether.StateAvailable, tether.ErrStartTethering)

	entry, _ := r.Get("wlan0")
	if entry.LastError != tether.ErrStartTethering {
		t.Fatalf("LastError = %v, want ErrStartTethering", entry.LastError)
	}

	r.ClearError("wlan0")
	entry, _ = r.Get("wlan0")
	if entry.LastError != tether.ErrNone {
		t.Fatalf("LastError = %v after ClearError, want ErrNone", entry.LastError)
	}
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	t.Parallel()

	r := tether.NewRegistry()
	r.Put("wlan0", tether.TetherEntry{Type: tether.InterfaceWifi, LastState: tether.StateAvailable})

	snap := r.Snapshot()
	snap["wlan0"] = tether.TetherEntry{Type: tether.InterfaceWifi, LastState: tether.StateTethered}

	entry, _ := r.Get("wlan0")
	if entry.LastState != tether.StateAvailable {
		t.Fatal("mutating a snapshot must not affect the registry")
	}
}

func TestRegistryQueryHelpers(t *testing.T) {
	t.Parallel()

	r := tether.NewRegistry()
	r.Put("rndis0", tether.TetherEntry{Type: tether.InterfaceUSB, LastState: tether.StateTethered})
	r.Put("wlan0", tether.TetherEntry{Type: tether.InterfaceWifi, LastState: tether.StateAvailable})
	r.Put("bt-pan0", tether.TetherEntry{Type: tether.InterfaceBluetooth, LastState: tether.StateAvailable, LastError: tether.ErrStartTethering})

	if got := r.Tethered(); !slices.Equal(got, []string{"rndis0"}) {
		t.Errorf("Tethered() = %v, want [rndis0]", got)
	}

	available := r.Available()
	slices.Sort(available)
	if !slices.Equal(available, []string{"bt-pan0", "rndis0", "wlan0"}) {
		t.Errorf("Available() = %v, want [bt-pan0 rndis0 wlan0]", available)
	}

	if got := r.Errored(); !slices.Equal(got, []string{"bt-pan0"}) {
		t.Errorf("Errored() = %v, want [bt-pan0]", got)
	}
}
