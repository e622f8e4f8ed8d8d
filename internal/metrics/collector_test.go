package tethermetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	tethermetrics "github.com/dantte-lp/tetherd/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := tethermetrics.NewCollector(reg)

	if c.TetheredInterfaces == nil {
		t.Error("TetheredInterfaces is nil")
	}
	if c.InterfaceStateTransitions == nil {
		t.Error("InterfaceStateTransitions is nil")
	}
	if c.UpstreamSelections == nil {
		t.Error("UpstreamSelections is nil")
	}
	if c.TetherErrors == nil {
		t.Error("TetherErrors is nil")
	}
	if c.ProvisioningChecks == nil {
		t.Error("ProvisioningChecks is nil")
	}

	// Registration must not panic and must be gatherable.
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestSetTetheredCount(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := tethermetrics.NewCollector(reg)

	c.SetTetheredCount("usb", 1)
	if val := gaugeValue(t, c.TetheredInterfaces, "usb"); val != 1 {
		t.Errorf("TetheredInterfaces(usb) = %v, want 1", val)
	}

	c.SetTetheredCount("usb", 0)
	if val := gaugeValue(t, c.TetheredInterfaces, "usb"); val != 0 {
		t.Errorf("TetheredInterfaces(usb) after reset = %v, want 0", val)
	}
}

func TestRecordStateTransition(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := tethermetrics.NewCollector(reg)

	c.RecordStateTransition("rndis0", "usb", "available", "tethered")
	c.RecordStateTransition("rndis0", "usb", "available", "tethered")

	val := counterValue(t, c.InterfaceStateTransitions, "rndis0", "usb", "available", "tethered")
	if val != 2 {
		t.Errorf("InterfaceStateTransitions = %v, want 2", val)
	}
}

func TestRecordUpstreamSelection(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := tethermetrics.NewCollector(reg)

	c.RecordUpstreamSelection("ethernet")
	c.RecordUpstreamSelection("ethernet")
	c.RecordUpstreamSelection("mobile_hipri")

	if val := counterValue(t, c.UpstreamSelections, "ethernet"); val != 2 {
		t.Errorf("UpstreamSelections(ethernet) = %v, want 2", val)
	}
	if val := counterValue(t, c.UpstreamSelections, "mobile_hipri"); val != 1 {
		t.Errorf("UpstreamSelections(mobile_hipri) = %v, want 1", val)
	}
}

func TestIncTetherErrors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := tethermetrics.NewCollector(reg)

	c.IncTetherErrors("wlan0", "START_TETHERING_ERROR")

	val := counterValue(t, c.TetherErrors, "wlan0", "START_TETHERING_ERROR")
	if val != 1 {
		t.Errorf("TetherErrors = %v, want 1", val)
	}
}

func TestIncProvisioningChecks(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := tethermetrics.NewCollector(reg)

	c.IncProvisioningChecks("usb")
	c.IncProvisioningChecks("usb")

	val := counterValue(t, c.ProvisioningChecks, "usb")
	if val != 2 {
		t.Errorf("ProvisioningChecks = %v, want 2", val)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// gaugeValue reads the current value of a GaugeVec with the given labels.
func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
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

// counterValue reads the current value of a CounterVec with the given labels.
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
