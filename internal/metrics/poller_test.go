package tethermetrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/dantte-lp/tetherd/internal/tether"
)

func TestExportSetsTetheredGauge(t *testing.T) {
	t.Parallel()

	c := NewCollector(prometheus.NewRegistry())
	cur := map[string]tether.TetherEntry{
		"rndis0": {Type: tether.InterfaceUSB, LastState: tether.StateTethered},
		"wlan0":  {Type: tether.InterfaceWifi, LastState: tether.StateAvailable},
	}

	c.export(nil, cur)

	if val := counterOrGaugeValue(t, c.TetheredInterfaces, "usb"); val != 1 {
		t.Errorf("TetheredInterfaces(usb) = %v, want 1", val)
	}
	if val := counterOrGaugeValue(t, c.TetheredInterfaces, "wifi"); val != 0 {
		t.Errorf("TetheredInterfaces(wifi) = %v, want 0", val)
	}
}

func TestExportResetsGaugeWhenNoLongerTethered(t *testing.T) {
	t.Parallel()

	c := NewCollector(prometheus.NewRegistry())
	prev := map[string]tether.TetherEntry{
		"rndis0": {Type: tether.InterfaceUSB, LastState: tether.StateTethered},
	}
	cur := map[string]tether.TetherEntry{
		"rndis0": {Type: tether.InterfaceUSB, LastState: tether.StateAvailable},
	}

	c.export(prev, cur)

	if val := counterOrGaugeValue(t, c.TetheredInterfaces, "usb"); val != 0 {
		t.Errorf("TetheredInterfaces(usb) = %v, want 0 after untethering", val)
	}
}

func TestExportRecordsStateTransition(t *testing.T) {
	t.Parallel()

	c := NewCollector(prometheus.NewRegistry())
	prev := map[string]tether.TetherEntry{
		"rndis0": {Type: tether.InterfaceUSB, LastState: tether.StateAvailable},
	}
	cur := map[string]tether.TetherEntry{
		"rndis0": {Type: tether.InterfaceUSB, LastState: tether.StateTethered},
	}

	c.export(prev, cur)

	val := counterValue(t, c.InterfaceStateTransitions, "rndis0", "usb",
		tether.StateAvailable.String(), tether.StateTethered.String())
	if val != 1 {
		t.Errorf("InterfaceStateTransitions = %v, want 1", val)
	}
}

func TestExportRecordsNewError(t *testing.T) {
	t.Parallel()

	c := NewCollector(prometheus.NewRegistry())
	prev := map[string]tether.TetherEntry{
		"wlan0": {Type: tether.InterfaceWifi, LastState: tether.StateAvailable, LastError: tether.ErrNone},
	}
	cur := map[string]tether.TetherEntry{
		"wlan0": {Type: tether.InterfaceWifi, LastState: tether.StateAvailable, LastError: tether.ErrStartTethering},
	}

	c.export(prev, cur)

	val := counterValue(t, c.TetherErrors, "wlan0", tether.ErrStartTethering.String())
	if val != 1 {
		t.Errorf("TetherErrors = %v, want 1", val)
	}
}

type fakeSnapshotter struct {
	entries map[string]tether.TetherEntry
}

func (f fakeSnapshotter) Snapshot() map[string]tether.TetherEntry { return f.entries }

func TestPollStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	c := NewCollector(prometheus.NewRegistry())
	src := fakeSnapshotter{entries: map[string]tether.TetherEntry{}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Poll(ctx, src, c)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Poll did not return after context cancellation")
	}
}

func counterOrGaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
