package tether

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ProvisioningResult is delivered to a ProvisioningGate caller once a
// dispatched intent resolves, success or failure.
type ProvisioningResult struct {
	Token   string
	IfType  InterfaceType
	Granted bool
}

// ProvisioningIntent is what the gate asks its external collaborator (the
// carrier-provisioning UI/service) to run: a UI-driven check when showUI is
// set, a silent one otherwise.
type ProvisioningIntent struct {
	Token  string
	IfType InterfaceType
	ShowUI bool
}

// ProvisioningDispatcher sends a provisioning intent to the external
// carrier-provisioning collaborator. The real implementation broadcasts an
// intent over the event bus; tests substitute a fake that resolves
// synchronously.
type ProvisioningDispatcher interface {
	Dispatch(intent ProvisioningIntent) error
}

// ProvisioningGate decides whether a user-initiated startTethering(type)
// must first pass a carrier-entitlement check, and tracks the SIM
// not-loaded-then-LOADED edge that re-triggers provisioning for every
// currently tethered type.
type ProvisioningGate struct {
	logger     *slog.Logger
	dispatcher ProvisioningDispatcher

	cfgFn func() TetheringConfig

	mu           sync.Mutex
	simWasReady  bool
	pending      map[string]InterfaceType
}

// NewProvisioningGate creates a gate that reads its config through cfgFn
// (the master's atomic config snapshot accessor) and dispatches intents
// through dispatcher.
func NewProvisioningGate(dispatcher ProvisioningDispatcher, cfgFn func() TetheringConfig, logger *slog.Logger) *ProvisioningGate {
	return &ProvisioningGate{
		logger:     logger.With(slog.String("component", "tether.provisioning")),
		dispatcher: dispatcher,
		cfgFn:      cfgFn,
		// No not-loaded state has been observed yet, so a first LOADED
		// broadcast is not an edge.
		simWasReady: true,
		pending:     make(map[string]InterfaceType),
	}
}

// IsRequired reports whether startTethering must be gated by an
// entitlement check: a provisioning app configured and the carrier's
// entitlement flag set.
func (g *ProvisioningGate) IsRequired() bool {
	return g.cfgFn().RequiresProvisioning()
}

// Start dispatches a provisioning intent for ifType, returning a
// correlation token the caller can match against a later ProvisioningResult.
// If provisioning is not required, the caller should proceed directly
// without calling Start.
func (g *ProvisioningGate) Start(ifType InterfaceType, showUI bool) (string, error) {
	token := uuid.NewString()

	g.mu.Lock()
	g.pending[token] = ifType
	g.mu.Unlock()

	if err := g.dispatcher.Dispatch(ProvisioningIntent{Token: token, IfType: ifType, ShowUI: showUI}); err != nil {
		g.mu.Lock()
		delete(g.pending, token)
		g.mu.Unlock()
		return "", err
	}
	return token, nil
}

// Cancel drops a pending provisioning token, e.g. when stopTethering races
// a still-outstanding check: on tether-down, pending rechecks are canceled.
func (g *ProvisioningGate) Cancel(token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, token)
}

// CancelAll drops every pending token, used on untetherAll.
func (g *ProvisioningGate) CancelAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = make(map[string]InterfaceType)
}

// Resolve consumes a pending token and reports its associated interface
// type, or ok=false if the token is unknown (already canceled or already
// resolved).
func (g *ProvisioningGate) Resolve(token string) (InterfaceType, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ifType, ok := g.pending[token]
	if ok {
		delete(g.pending, token)
	}
	return ifType, ok
}

// ObserveSIMState feeds a SIM broadcast state string into the edge
// detector and returns the set of interface types that must be
// re-provisioned, non-nil only on the not-ready-then-LOADED edge while
// tethered.
func (g *ProvisioningGate) ObserveSIMState(state string, tetheredTypes []InterfaceType) []InterfaceType {
	g.mu.Lock()
	defer g.mu.Unlock()

	if state != "LOADED" {
		g.simWasReady = false
		return nil
	}

	if g.simWasReady {
		// Already consumed this LOADED edge; a repeated LOADED broadcast
		// does not re-fire.
		return nil
	}
	g.simWasReady = true

	if len(tetheredTypes) == 0 {
		return nil
	}

	out := make([]InterfaceType, len(tetheredTypes))
	copy(out, tetheredTypes)
	return out
}
