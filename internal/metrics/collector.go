package tethermetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "tetherd"
	subsystem = "tether"
)

// Label names for tethering metrics.
const (
	labelIface        = "iface"
	labelIfaceType    = "iface_type"
	labelUpstreamType = "upstream_type"
	labelErrorCode    = "error_code"
	labelFromState    = "from_state"
	labelToState      = "to_state"
)

// -------------------------------------------------------------------------
// Collector — Prometheus Tethering Metrics
// -------------------------------------------------------------------------

// Collector holds all tethering Prometheus metrics.
//
//   - TetheredInterfaces tracks currently TETHERED downstream interfaces.
//   - InterfaceStateTransitions counts per-interface FSM changes for
//     alerting (e.g. TETHERED -> AVAILABLE on untether or error).
//   - UpstreamSelections counts master upstream-selection outcomes per
//     candidate type, for tracking how often fallback types get used.
//   - TetherErrors counts errors surfaced to the registry, labeled by code.
//   - ProvisioningChecks counts entitlement-check starts.
type Collector struct {
	// TetheredInterfaces tracks the number of currently TETHERED downstream
	// interfaces, labeled by interface type.
	TetheredInterfaces *prometheus.GaugeVec

	// InterfaceStateTransitions counts per-interface FSM state transitions.
	InterfaceStateTransitions *prometheus.CounterVec

	// UpstreamSelections counts master upstream-selection outcomes, labeled
	// by the selected upstream type.
	UpstreamSelections *prometheus.CounterVec

	// TetherErrors counts errors recorded against a downstream interface,
	// labeled by interface and error code.
	TetherErrors *prometheus.CounterVec

	// ProvisioningChecks counts entitlement-check starts, labeled by
	// interface type.
	ProvisioningChecks *prometheus.CounterVec
}

// NewCollector creates a Collector with all tethering metrics registered
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
//
// All metrics carry the "tetherd_tether_" prefix (namespace_subsystem) to
// avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.TetheredInterfaces,
		c.InterfaceStateTransitions,
		c.UpstreamSelections,
		c.TetherErrors,
		c.ProvisioningChecks,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	ifaceTypeLabels := []string{labelIfaceType}
	transitionLabels := []string{labelIface, labelIfaceType, labelFromState, labelToState}
	upstreamLabels := []string{labelUpstreamType}
	errorLabels := []string{labelIface, labelErrorCode}

	return &Collector{
		TetheredInterfaces: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "interfaces_tethered",
			Help:      "Number of currently TETHERED downstream interfaces.",
		}, ifaceTypeLabels),

		InterfaceStateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "interface_state_transitions_total",
			Help:      "Total per-interface FSM state transitions.",
		}, transitionLabels),

		UpstreamSelections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "upstream_selections_total",
			Help:      "Total master upstream-selection outcomes, by selected type.",
		}, upstreamLabels),

		TetherErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total errors recorded against a downstream interface.",
		}, errorLabels),

		ProvisioningChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "provisioning_checks_total",
			Help:      "Total entitlement-check starts, by interface type.",
		}, ifaceTypeLabels),
	}
}

// -------------------------------------------------------------------------
// Tethered Interface Gauge
// -------------------------------------------------------------------------

// SetTetheredCount sets the TETHERED-interface gauge for ifaceType.
func (c *Collector) SetTetheredCount(ifaceType string, count int) {
	c.TetheredInterfaces.WithLabelValues(ifaceType).Set(float64(count))
}

// -------------------------------------------------------------------------
// State Transitions
// -------------------------------------------------------------------------

// RecordStateTransition increments the state transition counter for iface
// with the old and new state labels.
func (c *Collector) RecordStateTransition(iface, ifaceType, from, to string) {
	c.InterfaceStateTransitions.WithLabelValues(iface, ifaceType, from, to).Inc()
}

// -------------------------------------------------------------------------
// Upstream Selection
// -------------------------------------------------------------------------

// RecordUpstreamSelection increments the selection counter for the chosen
// upstream type.
func (c *Collector) RecordUpstreamSelection(upstreamType string) {
	c.UpstreamSelections.WithLabelValues(upstreamType).Inc()
}

// -------------------------------------------------------------------------
// Errors
// -------------------------------------------------------------------------

// IncTetherErrors increments the error counter for iface and errorCode.
func (c *Collector) IncTetherErrors(iface, errorCode string) {
	c.TetherErrors.WithLabelValues(iface, errorCode).Inc()
}

// -------------------------------------------------------------------------
// Provisioning
// -------------------------------------------------------------------------

// IncProvisioningChecks increments the entitlement-check counter for
// ifaceType.
func (c *Collector) IncProvisioningChecks(ifaceType string) {
	c.ProvisioningChecks.WithLabelValues(ifaceType).Inc()
}
