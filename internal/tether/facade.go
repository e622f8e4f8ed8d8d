package tether

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dantte-lp/tetherd/internal/nms"
)

// Orchestrator is the public facade: the single entry point
// callers use to request tethering, observe OS broadcasts, and query
// status. It owns the master actor, the per-interface actors, the
// registry, and the USB/Wi-Fi/Bluetooth request flags that the broadcast
// handlers below consult.
type Orchestrator struct {
	logger *slog.Logger
	nms    nms.NMS

	registry     *Registry
	allocator    *HandleAllocator
	monitor      *UpstreamMonitor
	provisioning *ProvisioningGate
	master       *masterActor

	usb  USBManager
	wifi WifiManager
	bt   BluetoothManager

	runCtx context.Context
	cancel context.CancelFunc

	mu                        sync.Mutex
	ifaces                    map[string]*ifaceActor
	rndisEnabled              bool
	usbTetherRequested        bool
	pendingUsbTetherRequested bool
	wifiTetherRequested       bool
	pendingSinks              map[string]ResultSink
}

// NewOrchestrator wires every component together but does not start any
// goroutines; call Start to begin running.
func NewOrchestrator(n nms.NMS, source UpstreamSource, dispatcher ProvisioningDispatcher,
	usb USBManager, wifi WifiManager, bt BluetoothManager,
	cfg TetheringConfig, logger *slog.Logger) *Orchestrator {

	registry := NewRegistry()
	monitor := NewUpstreamMonitor(source, logger)
	master := newMasterActor(n, registry, monitor, nil, cfg, logger)
	provisioning := NewProvisioningGate(dispatcher, master.Config, logger)
	master.provisioning = provisioning

	return &Orchestrator{
		logger:       logger.With(slog.String("component", "tether.facade")),
		nms:          n,
		registry:     registry,
		allocator:    NewHandleAllocator(),
		monitor:      monitor,
		provisioning: provisioning,
		master:       master,
		usb:          usb,
		wifi:         wifi,
		bt:           bt,
		ifaces:       make(map[string]*ifaceActor),
	}
}

// Start runs the master actor's event loop until ctx is canceled or Stop
// is called.
func (o *Orchestrator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	o.runCtx = runCtx
	o.cancel = cancel
	go o.master.Run(runCtx)
}

// Stop cancels the master actor and every interface actor, then waits for
// the master's event loop to exit.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	<-o.master.doneCh
}

// Config returns the master's currently active configuration snapshot.
func (o *Orchestrator) Config() TetheringConfig {
	return o.master.Config()
}

// ReplaceConfig atomically swaps in a new configuration snapshot.
func (o *Orchestrator) ReplaceConfig(cfg TetheringConfig) {
	o.master.ReplaceConfig(cfg)
}

// StartTethering requests that ifType be enabled, gated by the
// provisioning check when required. sink is notified
// with the outcome; when provisioning is required the notification is
// deferred until ResolveProvisioning delivers the result.
func (o *Orchestrator) StartTethering(ifType InterfaceType, sink ResultSink, showUI bool) ErrorCode {
	if o.provisioning.IsRequired() {
		token, err := o.provisioning.Start(ifType, showUI)
		if err != nil {
			return ErrServiceUnavail
		}
		o.mu.Lock()
		o.pendingProvisioning(token, sink)
		o.mu.Unlock()
		return ErrNone
	}

	code := o.setTypeEnabled(ifType, true)
	if sink != nil {
		sink.Send(code)
	}
	return code
}

// pendingProvisioning records a result sink awaiting a deferred
// provisioning outcome, keyed by correlation token. Callers must hold o.mu.
func (o *Orchestrator) pendingProvisioning(token string, sink ResultSink) {
	if o.pendingSinks == nil {
		o.pendingSinks = make(map[string]ResultSink)
	}
	o.pendingSinks[token] = sink
}

// ResolveProvisioning delivers a provisioning outcome for token, enabling
// the gated type on success. The external provisioning UI/service calls
// this once its check completes.
func (o *Orchestrator) ResolveProvisioning(token string, granted bool) {
	ifType, ok := o.provisioning.Resolve(token)
	if !ok {
		return
	}

	o.mu.Lock()
	sink := o.pendingSinks[token]
	delete(o.pendingSinks, token)
	o.mu.Unlock()

	code := ErrServiceUnavail
	if granted {
		code = o.setTypeEnabled(ifType, true)
	}
	if sink != nil {
		sink.Send(code)
	}
}

// StopTethering disables ifType and cancels every pending provisioning
// check, whatever interface type it was started for.
func (o *Orchestrator) StopTethering(ifType InterfaceType) ErrorCode {
	o.provisioning.CancelAll()
	return o.setTypeEnabled(ifType, false)
}

func (o *Orchestrator) setTypeEnabled(ifType InterfaceType, enable bool) ErrorCode {
	switch ifType {
	case InterfaceUSB:
		return o.SetUsbTethering(enable)
	case InterfaceWifi:
		return o.SetWifiTethering(enable)
	case InterfaceBluetooth:
		return o.SetBluetoothTethering(enable)
	default:
		return ErrUnknownIface
	}
}

// Tether requests that name (which must be AVAILABLE) begin sharing the
// upstream.
func (o *Orchestrator) Tether(name string) ErrorCode {
	o.mu.Lock()
	a, ok := o.ifaces[name]
	o.mu.Unlock()
	if !ok {
		return ErrUnknownIface
	}

	entry, ok := o.registry.Get(name)
	if !ok {
		return ErrUnknownIface
	}
	if entry.LastState != StateAvailable {
		return ErrUnavailIface
	}

	a.Send(ifaceMessage{evt: ifaceEvtTetherRequested})
	return ErrNone
}

// Untether requests that name (which must be TETHERED) stop sharing the
// upstream.
func (o *Orchestrator) Untether(name string) ErrorCode {
	o.mu.Lock()
	a, ok := o.ifaces[name]
	o.mu.Unlock()
	if !ok {
		return ErrUnknownIface
	}

	entry, ok := o.registry.Get(name)
	if !ok {
		return ErrUnknownIface
	}
	if entry.LastState != StateTethered {
		return ErrUnavailIface
	}

	a.Send(ifaceMessage{evt: ifaceEvtTetherUnrequested})
	return ErrNone
}

// UntetherAll stops all three interface types.
func (o *Orchestrator) UntetherAll() {
	for _, t := range []InterfaceType{InterfaceUSB, InterfaceWifi, InterfaceBluetooth} {
		o.StopTethering(t)
	}
}

// GetTetheredIfaces returns the names of every currently TETHERED
// interface.
func (o *Orchestrator) GetTetheredIfaces() []string {
	return o.registry.Tethered()
}

// GetTetherableIfaces returns the names of every interface that is
// AVAILABLE or TETHERED.
func (o *Orchestrator) GetTetherableIfaces() []string {
	return o.registry.Available()
}

// GetErroredIfaces returns the names of every interface with a sticky
// non-NO_ERROR lastError.
func (o *Orchestrator) GetErroredIfaces() []string {
	return o.registry.Errored()
}

// GetLastTetherError returns the sticky lastError for name, or
// ErrUnknownIface if name is not tracked.
func (o *Orchestrator) GetLastTetherError(name string) ErrorCode {
	entry, ok := o.registry.Get(name)
	if !ok {
		return ErrUnknownIface
	}
	return entry.LastError
}

// Snapshot returns a copy of every tracked interface and its current
// registry entry, for status reporting.
func (o *Orchestrator) Snapshot() map[string]TetherEntry {
	return o.registry.Snapshot()
}

// ClearError sends CMD_CLEAR_ERROR to the master and clears every sticky
// interface error; the master is never permanently stuck on one bad
// interface.
func (o *Orchestrator) ClearError() {
	o.master.Send(masterMessage{evt: masterEvtClearError})
	for _, name := range o.registry.Errored() {
		o.registry.ClearError(name)
	}
}

// SetUsbTethering implements the USB tethering path. The mutex is never
// held across the calls into o.usb.
func (o *Orchestrator) SetUsbTethering(enable bool) ErrorCode {
	if !enable {
		o.mu.Lock()
		o.usbTetherRequested = false
		o.pendingUsbTetherRequested = false
		wasRndis := o.rndisEnabled
		o.mu.Unlock()

		o.untetherByType(InterfaceUSB)

		if wasRndis {
			if err := o.usb.SetCurrentFunction(false); err != nil {
				o.logger.Warn("clear rndis function failed", slog.String("error", err.Error()))
			}
			o.mu.Lock()
			o.rndisEnabled = false
			o.mu.Unlock()
		}
		return ErrNone
	}

	o.mu.Lock()
	rndisAlreadyEnabled := o.rndisEnabled
	if rndisAlreadyEnabled {
		o.usbTetherRequested = true
	} else {
		o.pendingUsbTetherRequested = true
	}
	o.mu.Unlock()

	if rndisAlreadyEnabled {
		o.tetherFirstMatch(InterfaceUSB)
		return ErrNone
	}

	if err := o.usb.SetCurrentFunction(true); err != nil {
		o.mu.Lock()
		o.pendingUsbTetherRequested = false
		o.mu.Unlock()
		return ErrServiceUnavail
	}
	return ErrNone
}

// HandleUSBBroadcast processes a USB state broadcast: when connected and
// RNDIS are both true and a tether was pending, it performs the tether.
func (o *Orchestrator) HandleUSBBroadcast(connected, rndisEnabled bool) {
	o.mu.Lock()
	o.rndisEnabled = rndisEnabled
	shouldTether := connected && rndisEnabled && o.pendingUsbTetherRequested
	if shouldTether {
		o.pendingUsbTetherRequested = false
		o.usbTetherRequested = true
	}
	o.mu.Unlock()

	if shouldTether {
		o.tetherFirstMatch(InterfaceUSB)
	}
}

// SetWifiTethering implements the Wi-Fi tethering path.
func (o *Orchestrator) SetWifiTethering(enable bool) ErrorCode {
	o.mu.Lock()
	o.wifiTetherRequested = enable
	o.mu.Unlock()

	if err := o.wifi.SetWifiApEnabled(enable); err != nil {
		o.mu.Lock()
		o.wifiTetherRequested = false
		o.mu.Unlock()
		return ErrServiceUnavail
	}

	if !enable {
		o.untetherByType(InterfaceWifi)
	}
	return ErrNone
}

// HandleWifiApState processes a Wi-Fi AP state broadcast. ENABLING is
// deliberately a no-op: cancellation straight to DISABLED is a
// valid terminal path and must not be assumed away.
func (o *Orchestrator) HandleWifiApState(state string) {
	switch state {
	case "ENABLED":
		o.mu.Lock()
		requested := o.wifiTetherRequested
		o.mu.Unlock()
		if requested {
			o.tetherFirstMatch(InterfaceWifi)
		}
	case "DISABLED", "DISABLING", "FAILED":
		o.mu.Lock()
		o.wifiTetherRequested = false
		o.mu.Unlock()
		o.untetherByType(InterfaceWifi)
	case "ENABLING":
		// no-op: canceling straight from ENABLING to DISABLED is a valid
		// terminal path and must not be assumed away.
	}
}

// SetBluetoothTethering implements the Bluetooth tethering path: success
// is reported iff a synchronous re-query of IsTetheringOn agrees with the
// requested state, even though that re-query can observe a stale value.
func (o *Orchestrator) SetBluetoothTethering(enable bool) ErrorCode {
	if err := o.bt.SetBluetoothTethering(enable); err != nil {
		return ErrServiceUnavail
	}
	if o.bt.IsTetheringOn() != enable {
		return ErrServiceUnavail
	}
	return ErrNone
}

// InterfaceAdded implements the registry policy for a freshly observed
// interface.
func (o *Orchestrator) InterfaceAdded(name string) {
	if _, ok := o.registry.Get(name); ok {
		return
	}
	o.tryCreateIfaceEntry(name)
}

// InterfaceStatusChanged implements the registry policy for an up/down
// transition of an already-known or newly-visible interface.
func (o *Orchestrator) InterfaceStatusChanged(name string, up bool) {
	if up {
		if _, ok := o.registry.Get(name); ok {
			return
		}
		o.tryCreateIfaceEntry(name)
		return
	}

	entry, ok := o.registry.Get(name)
	if !ok {
		return
	}
	if entry.Type == InterfaceBluetooth {
		o.removeIfaceEntry(name)
	}
	// USB/Wi-Fi down is ignored here; torn down via InterfaceRemoved or
	// the AP-state broadcast handler instead.
}

// InterfaceRemoved implements the registry policy for an explicit
// interface-removed event.
func (o *Orchestrator) InterfaceRemoved(name string) {
	o.removeIfaceEntry(name)
}

// HandleSIMState feeds a SIM broadcast state into the provisioning gate
// and re-dispatches provisioning for every currently tethered type on the
// not-ready-then-LOADED edge.
func (o *Orchestrator) HandleSIMState(state string) {
	types := o.tetheredTypes()
	for _, t := range o.provisioning.ObserveSIMState(state, types) {
		if _, err := o.provisioning.Start(t, false); err != nil {
			o.logger.Warn("sim reprovisioning dispatch failed", slog.String("error", err.Error()))
		}
	}
}

func (o *Orchestrator) tetheredTypes() []InterfaceType {
	seen := make(map[InterfaceType]bool)
	var out []InterfaceType
	for _, e := range o.registry.Snapshot() {
		if e.LastState == StateTethered && !seen[e.Type] {
			seen[e.Type] = true
			out = append(out, e.Type)
		}
	}
	return out
}

func (o *Orchestrator) tryCreateIfaceEntry(name string) {
	ifType := o.master.Config().ClassifyInterface(name)
	if ifType == InterfaceInvalid {
		return
	}
	o.createIfaceEntry(name, ifType)
}

func (o *Orchestrator) createIfaceEntry(name string, ifType InterfaceType) {
	handle, err := o.allocator.Allocate()
	if err != nil {
		o.logger.Error("allocate iface handle failed", slog.String("iface", name), slog.String("error", err.Error()))
		return
	}

	actor := newIfaceActor(name, ifType, handle, o.nms, o.master.recvCh, o.notifyIface, o.logger)

	o.mu.Lock()
	o.ifaces[name] = actor
	o.mu.Unlock()

	o.registry.Put(name, TetherEntry{Type: ifType, LastState: StateAvailable, LastError: ErrNone, Handle: handle})

	ctx := o.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		actor.Run(ctx)
		o.allocator.Release(handle)
	}()
}

func (o *Orchestrator) removeIfaceEntry(name string) {
	o.mu.Lock()
	a, ok := o.ifaces[name]
	delete(o.ifaces, name)
	o.mu.Unlock()

	if ok {
		a.Send(ifaceMessage{evt: ifaceEvtInterfaceDown})
	}
	o.registry.Remove(name)
}

// tetherFirstMatch tethers the first AVAILABLE interface of ifType. Never
// called while o.mu is held.
func (o *Orchestrator) tetherFirstMatch(ifType InterfaceType) {
	for name, e := range o.registry.Snapshot() {
		if e.Type == ifType && e.LastState == StateAvailable {
			o.mu.Lock()
			a, ok := o.ifaces[name]
			o.mu.Unlock()
			if ok {
				a.Send(ifaceMessage{evt: ifaceEvtTetherRequested})
			}
			return
		}
	}
}

// untetherByType untethers every TETHERED interface of ifType. Never
// called while o.mu is held.
func (o *Orchestrator) untetherByType(ifType InterfaceType) {
	for name, e := range o.registry.Snapshot() {
		if e.Type == ifType && e.LastState == StateTethered {
			o.mu.Lock()
			a, ok := o.ifaces[name]
			o.mu.Unlock()
			if ok {
				a.Send(ifaceMessage{evt: ifaceEvtTetherUnrequested})
			}
		}
	}
}

func (o *Orchestrator) notifyIface(name string, state InterfaceState, errCode ErrorCode) {
	o.registry.UpdateState(name, state, errCode)
}
