package tether

import (
	"context"
	"log/slog"

	"github.com/dantte-lp/tetherd/internal/nms"
)

// ifaceActor is the per-downstream-interface state machine. It runs
// single-threaded on its own event loop goroutine, the same shape
// as the BFD session actor's runLoop: one select over a done channel and a
// message channel, small focused handler methods per message kind.
type ifaceActor struct {
	name       string
	ifType     InterfaceType
	selfHandle Handle
	nms        nms.NMS
	logger     *slog.Logger

	recvCh chan ifaceMessage
	doneCh chan struct{}

	masterCh chan<- masterMessage

	state           ifaceFSMState
	lastError       ErrorCode
	currentUpstream string

	// notify is invoked after every state/error change so the registry
	// (and, through it, the facade's status broadcast) stays current.
	notify func(name string, state InterfaceState, errCode ErrorCode)
}

func newIfaceActor(name string, ifType InterfaceType, handle Handle, n nms.NMS, masterCh chan<- masterMessage,
	notify func(string, InterfaceState, ErrorCode), logger *slog.Logger) *ifaceActor {
	return &ifaceActor{
		name:       name,
		ifType:     ifType,
		selfHandle: handle,
		nms:        n,
		masterCh:   masterCh,
		notify:     notify,
		recvCh:     make(chan ifaceMessage, 16),
		doneCh:     make(chan struct{}),
		state:      ifsAvailable,
		logger:     logger.With(slog.String("component", "tether.iface"), slog.String("iface", name)),
	}
}

// Send posts a message to the actor's channel. Never blocks indefinitely:
// the channel is buffered and the actor's loop always drains it promptly,
// so handlers never block their caller.
func (a *ifaceActor) Send(msg ifaceMessage) {
	select {
	case a.recvCh <- msg:
	case <-a.doneCh:
	}
}

// Run is the actor's event loop. It returns when ctx is cancelled or the
// machine terminates itself (InterfaceDown).
func (a *ifaceActor) Run(ctx context.Context) {
	defer close(a.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.recvCh:
			if a.handle(ctx, msg) {
				return
			}
		}
	}
}

// handle applies one message and executes its actions. Returns true when
// the machine has terminated.
func (a *ifaceActor) handle(ctx context.Context, msg ifaceMessage) bool {
	if a.state == ifsStarting && msg.evt == ifaceEvtConnectionChanged && (!msg.hasUpstream || msg.upstreamIface == "") {
		// No upstream yet: stay Starting until the master names one.
		return false
	}

	result := ApplyIfaceEvent(a.state, msg.evt)
	a.state = result.NewState

	for _, action := range result.Actions {
		a.execute(ctx, action, msg)
	}

	if result.Changed || msg.evt == ifaceEvtIPForwardingEnableError ||
		msg.evt == ifaceEvtIPForwardingDisableError || msg.evt == ifaceEvtStartTetheringError ||
		msg.evt == ifaceEvtStopTetheringError || msg.evt == ifaceEvtSetDNSForwardersError {
		a.notify(a.name, a.state.Public(), a.lastError)
	}

	return result.NewState == ifsTerminated
}

func (a *ifaceActor) execute(ctx context.Context, action ifaceAction, msg ifaceMessage) {
	switch action {
	case ifaceActSendTetherModeRequested:
		a.sendToMaster(masterMessage{
			evt:          masterEvtTetherModeRequested,
			requestingSM: a.selfHandle,
			replyCh:      a.recvCh,
		})

	case ifaceActSendTetherModeUnrequested:
		a.sendToMaster(masterMessage{
			evt:          masterEvtTetherModeUnrequested,
			requestingSM: a.selfHandle,
		})

	case ifaceActProgramForwarding:
		a.programForwarding(ctx, msg.upstreamIface)

	case ifaceActReprogramForwarding:
		if msg.hasUpstream && msg.upstreamIface != "" {
			a.programForwarding(ctx, msg.upstreamIface)
		} else {
			a.dropForwarding(ctx)
		}

	case ifaceActDropForwarding:
		a.dropForwarding(ctx)

	case ifaceActUnprogramForwarding:
		a.unprogramForwarding(ctx)

	case ifaceActRecordError:
		a.lastError = errorForIfaceEvt(msg.evt)

	case ifaceActTerminate:
		a.logger.Info("interface machine terminated")
	}
}

func (a *ifaceActor) programForwarding(ctx context.Context, upstreamIface string) {
	if upstreamIface == "" {
		// Master answered Starting with no current upstream; stay Starting
		// and wait for the next CMD_TETHER_CONNECTION_CHANGED.
		return
	}

	if err := a.nms.AddDownstreamInterface(ctx, a.name, upstreamIface); err != nil {
		a.logger.Error("program downstream interface failed", slog.String("error", err.Error()))
		a.lastError = ErrStartTethering
		return
	}

	a.currentUpstream = upstreamIface
	a.logger.Info("downstream interface tethered", slog.String("upstream", upstreamIface))
}

func (a *ifaceActor) dropForwarding(ctx context.Context) {
	if a.currentUpstream == "" {
		return
	}
	if err := a.nms.RemoveDownstreamInterface(ctx, a.name); err != nil {
		a.logger.Warn("drop forwarding on upstream loss failed", slog.String("error", err.Error()))
	}
	a.currentUpstream = ""
}

func (a *ifaceActor) unprogramForwarding(ctx context.Context) {
	if err := a.nms.RemoveDownstreamInterface(ctx, a.name); err != nil {
		a.logger.Warn("unprogram downstream interface failed", slog.String("error", err.Error()))
	}
	a.currentUpstream = ""
}

func (a *ifaceActor) sendToMaster(msg masterMessage) {
	select {
	case a.masterCh <- msg:
	case <-a.doneCh:
	}
}

func errorForIfaceEvt(evt ifaceMsgKind) ErrorCode {
	switch evt {
	case ifaceEvtIPForwardingEnableError:
		return ErrIPForwardingEnable
	case ifaceEvtIPForwardingDisableError:
		return ErrIPForwardingDisable
	case ifaceEvtStartTetheringError:
		return ErrStartTethering
	case ifaceEvtStopTetheringError:
		return ErrStopTethering
	case ifaceEvtSetDNSForwardersError:
		return ErrSetDNSForwarders
	default:
		return ErrNone
	}
}
