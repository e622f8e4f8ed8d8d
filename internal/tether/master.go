package tether

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dantte-lp/tetherd/internal/nms"
)

// masterActor is the master state machine. It owns upstream selection,
// the IP-forwarding master switch, DHCP range lifecycle, DNS forwarder
// programming, and global error recovery, modeled with a
// discriminated-union error state rather than five near-identical
// subclasses.
type masterActor struct {
	logger *slog.Logger
	nms    nms.NMS
	registry *Registry
	monitor  *UpstreamMonitor
	provisioning *ProvisioningGate

	cfg atomic.Pointer[TetheringConfig]

	recvCh chan masterMessage
	doneCh chan struct{}

	state   masterState
	errKind ErrorCode

	requestList     masterRequestList
	currentUpstream string
	tryCell         bool

	retryTimer *time.Timer
}

func newMasterActor(n nms.NMS, registry *Registry, monitor *UpstreamMonitor, provisioning *ProvisioningGate,
	cfg TetheringConfig, logger *slog.Logger) *masterActor {
	m := &masterActor{
		logger:       logger.With(slog.String("component", "tether.master")),
		nms:          n,
		registry:     registry,
		monitor:      monitor,
		provisioning: provisioning,
		recvCh:       make(chan masterMessage, 32),
		doneCh:       make(chan struct{}),
		state:        msInitial,
	}
	m.cfg.Store(&cfg)
	return m
}

// Config returns the currently active configuration snapshot. Safe to call
// from any goroutine: the config pointer is replaced atomically and only
// ever read.
func (m *masterActor) Config() TetheringConfig {
	return *m.cfg.Load()
}

// ReplaceConfig atomically swaps in a new configuration snapshot.
func (m *masterActor) ReplaceConfig(cfg TetheringConfig) {
	m.cfg.Store(&cfg)
}

// Send posts a message to the master's channel.
func (m *masterActor) Send(msg masterMessage) {
	select {
	case m.recvCh <- msg:
	case <-m.doneCh:
	}
}

// Run is the master's event loop.
func (m *masterActor) Run(ctx context.Context) {
	defer close(m.doneCh)
	defer m.stopRetryTimer()

	for {
		select {
		case <-ctx.Done():
			if m.state == msTetherModeAlive {
				m.exitTetherModeAlive(ctx)
			}
			return
		case msg := <-m.recvCh:
			m.handle(ctx, msg)
		}
	}
}

func (m *masterActor) handle(ctx context.Context, msg masterMessage) {
	switch msg.evt {
	case masterEvtTetherModeRequested:
		m.handleTetherModeRequested(ctx, msg)
	case masterEvtTetherModeUnrequested:
		m.handleTetherModeUnrequested(ctx, msg)
	case masterEvtUpstreamChanged:
		m.runSelection(ctx, true)
		m.tryCell = !m.tryCell
	case masterEvtRetryUpstream:
		m.runSelection(ctx, m.tryCell)
	case masterEvtUpstreamCallback:
		m.handleUpstreamCallback(ctx, msg)
	case masterEvtClearError:
		m.handleClearError()
	}
}

func (m *masterActor) handleTetherModeRequested(ctx context.Context, msg masterMessage) {
	m.requestList.add(msg.requestingSM, msg.replyCh)

	switch m.state {
	case msInitial:
		m.enterTetherModeAlive(ctx)
	case msTetherModeAlive:
		m.replyConnectionChanged(msg.replyCh)
	case msError:
		// An interface requesting tether mode while the master is in error
		// gets nothing; it stays on the request list and is notified the
		// next time the master enters TetherModeAlive (CMD_CLEAR_ERROR
		// itself sends nothing).
	}
}

func (m *masterActor) handleTetherModeUnrequested(ctx context.Context, msg masterMessage) {
	m.requestList.remove(msg.requestingSM)

	if m.state == msTetherModeAlive && m.requestList.isEmpty() {
		m.exitTetherModeAlive(ctx)
	}
}

func (m *masterActor) handleUpstreamCallback(ctx context.Context, msg masterMessage) {
	pertainsToCurrent := m.currentUpstream != "" &&
		containsString(msg.candidate.LinkProperties.Interfaces, m.currentUpstream)

	if !pertainsToCurrent && m.currentUpstream == "" {
		// Lets IPv4 arriving late after IPv6 get picked up.
		m.runSelection(ctx, false)
		return
	}

	switch msg.cbKind {
	case UpstreamCbAvailable:
		// no-op
	case UpstreamCbCapabilities:
		m.handleNewUpstreamNetworkState(ctx, &msg.candidate)
	case UpstreamCbLinkProperties:
		m.programDNSForwarders(ctx, msg.candidate)
		m.handleNewUpstreamNetworkState(ctx, &msg.candidate)
	case UpstreamCbLost:
		m.handleNewUpstreamNetworkState(ctx, nil)
	}
}

func (m *masterActor) handleClearError() {
	if m.state == msError {
		m.state = msInitial
		m.errKind = ErrNone
	}
}

// enterTetherModeAlive runs the entry sequence in order: enable IP
// forwarding; start tethering (retry stop-then-start once on failure);
// start upstream monitor; initial upstream selection with tryCell=true.
// No SIM listener or offload controller is started here: SIM broadcasts
// reach the provisioning gate through Orchestrator.HandleSIMState in every
// master state, and there is no offload controller.
func (m *masterActor) enterTetherModeAlive(ctx context.Context) {
	cfg := m.Config()

	if err := m.nms.SetIPForwardingEnabled(ctx, true); err != nil {
		m.enterError(ctx, ErrIPForwardingEnable)
		return
	}

	if err := m.nms.StartTethering(ctx, cfg.DHCPRanges); err != nil {
		m.logger.Warn("start tethering failed, retrying once", slog.String("error", err.Error()))
		_ = m.nms.StopTethering(ctx)
		if err := m.nms.StartTethering(ctx, cfg.DHCPRanges); err != nil {
			m.enterError(ctx, ErrStartTethering)
			return
		}
	}

	if err := m.monitor.Start(ctx, m.recvCh); err != nil {
		m.enterError(ctx, ErrStartTethering)
		return
	}

	m.state = msTetherModeAlive
	m.tryCell = true
	m.runSelection(ctx, true)
}

// exitTetherModeAlive runs the exit sequence in order: stop the upstream
// monitor (which also releases any mobile connection request); notify the
// request list of a null upstream; clear the current upstream; stop the
// retry timer; stop tethering; disable IP forwarding. Failures of the last
// two are logged and do not enter the error state.
func (m *masterActor) exitTetherModeAlive(ctx context.Context) {
	if err := m.monitor.Stop(); err != nil {
		m.logger.Warn("stop upstream monitor failed", slog.String("error", err.Error()))
	}

	m.notifyRequestList("")
	m.currentUpstream = ""
	m.stopRetryTimer()

	if err := m.nms.StopTethering(ctx); err != nil {
		m.logger.Error("stop tethering failed", slog.String("error", err.Error()))
	}
	if err := m.nms.SetIPForwardingEnabled(ctx, false); err != nil {
		m.logger.Error("disable ip forwarding failed", slog.String("error", err.Error()))
	}

	m.state = msInitial
}

// enterError transitions into the discriminated error state, broadcasts
// the specific code to every interface machine on the request list, and
// best-effort reverts IP forwarding.
func (m *masterActor) enterError(ctx context.Context, code ErrorCode) {
	m.state = msError
	m.errKind = code

	for _, e := range m.requestList.entries {
		select {
		case e.replyCh <- ifaceMessage{evt: ifaceMsgKindForError(code)}:
		default:
		}
	}

	if err := m.nms.SetIPForwardingEnabled(ctx, false); err != nil {
		m.logger.Error("best-effort ip forwarding revert failed", slog.String("error", err.Error()))
	}
}

func ifaceMsgKindForError(code ErrorCode) ifaceMsgKind {
	switch code {
	case ErrIPForwardingEnable:
		return ifaceEvtIPForwardingEnableError
	case ErrIPForwardingDisable:
		return ifaceEvtIPForwardingDisableError
	case ErrStartTethering:
		return ifaceEvtStartTetheringError
	case ErrStopTethering:
		return ifaceEvtStopTetheringError
	case ErrSetDNSForwarders:
		return ifaceEvtSetDNSForwardersError
	default:
		return ifaceEvtIPForwardingEnableError
	}
}

// runSelection implements the upstream selection algorithm.
func (m *masterActor) runSelection(ctx context.Context, tryCell bool) {
	if m.state != msTetherModeAlive {
		return
	}

	cfg := m.Config()
	sel := selectUpstream(cfg, m.monitor.Candidates(), tryCell)

	switch {
	case sel.requestMobile:
		if err := m.monitor.RequestMobile(sel.dunRequired); err != nil {
			m.logger.Warn("request mobile upstream failed", slog.String("error", err.Error()))
		}
	case sel.scheduleRetry:
		m.scheduleRetry(ctx)
	default:
		if err := m.monitor.ReleaseMobile(); err != nil {
			m.logger.Warn("release mobile upstream failed", slog.String("error", err.Error()))
		}
	}

	m.handleNewUpstreamNetworkState(ctx, upstreamCandidateOrNil(sel))
}

func upstreamCandidateOrNil(sel upstreamSelection) *UpstreamCandidate {
	if !sel.found {
		return nil
	}
	return &sel.candidate
}

// handleNewUpstreamNetworkState resolves the new upstream interface (or
// none), programs DNS forwarders, and notifies every interface machine on
// the request list.
func (m *masterActor) handleNewUpstreamNetworkState(ctx context.Context, candidate *UpstreamCandidate) {
	var newIface string
	if candidate != nil {
		newIface = candidate.LinkProperties.BestIPv4DefaultInterface()
	}

	if candidate != nil && newIface != "" {
		m.programDNSForwarders(ctx, *candidate)
	}

	m.currentUpstream = newIface
	m.notifyRequestList(newIface)
}

// programDNSForwarders binds a DNS forwarder on every currently tethered
// downstream interface, relaying to the candidate's DNS list (falling back
// to the configured default when the candidate advertises none).
func (m *masterActor) programDNSForwarders(ctx context.Context, candidate UpstreamCandidate) {
	dns := candidate.LinkProperties.DNS
	if len(dns) == 0 {
		dns = m.Config().DefaultIPv4DNS
	}

	for _, iface := range m.registry.Tethered() {
		if err := m.nms.SetDNSForwarders(ctx, iface, dns); err != nil {
			m.logger.Error("set dns forwarders failed",
				slog.String("iface", iface), slog.String("error", err.Error()))
			m.enterError(ctx, ErrSetDNSForwarders)
			return
		}
	}
}

func (m *masterActor) notifyRequestList(upstreamIface string) {
	msg := ifaceMessage{evt: ifaceEvtConnectionChanged, upstreamIface: upstreamIface, hasUpstream: upstreamIface != ""}
	for _, e := range m.requestList.entries {
		select {
		case e.replyCh <- msg:
		default:
		}
	}
}

func (m *masterActor) replyConnectionChanged(replyCh chan<- ifaceMessage) {
	msg := ifaceMessage{evt: ifaceEvtConnectionChanged, upstreamIface: m.currentUpstream, hasUpstream: m.currentUpstream != ""}
	select {
	case replyCh <- msg:
	default:
	}
}

func (m *masterActor) scheduleRetry(ctx context.Context) {
	m.stopRetryTimer()
	m.retryTimer = time.AfterFunc(UpstreamSettleTime, func() {
		select {
		case m.recvCh <- masterMessage{evt: masterEvtRetryUpstream}:
		case <-m.doneCh:
		}
	})
}

func (m *masterActor) stopRetryTimer() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
