package tether

// ifaceMsgKind is the message envelope delivered to a per-interface
// machine's event loop.
type ifaceMsgKind uint8

const (
	ifaceEvtTetherRequested ifaceMsgKind = iota
	ifaceEvtTetherUnrequested
	ifaceEvtInterfaceDown
	ifaceEvtConnectionChanged
	ifaceEvtIPForwardingEnableError
	ifaceEvtIPForwardingDisableError
	ifaceEvtStartTetheringError
	ifaceEvtStopTetheringError
	ifaceEvtSetDNSForwardersError
)

// ifaceMessage is one message posted to an interface machine's channel.
type ifaceMessage struct {
	evt ifaceMsgKind
	// upstreamIface is the payload of connectionChanged: the new upstream
	// interface name, or "" when the master has no current upstream.
	upstreamIface string
	// hasUpstream distinguishes "" meaning no-payload from "" meaning
	// explicit null upstream.
	hasUpstream bool
}

// masterEvent is the message envelope delivered to the master machine's
// event loop.
type masterEvent uint8

const (
	masterEvtTetherModeRequested masterEvent = iota
	masterEvtTetherModeUnrequested
	masterEvtUpstreamChanged
	masterEvtRetryUpstream
	masterEvtUpstreamCallback
	masterEvtClearError
)

// UpstreamCallbackKind mirrors the EVENT_UPSTREAM_CALLBACK kinds.
type UpstreamCallbackKind uint8

const (
	UpstreamCbAvailable UpstreamCallbackKind = iota
	UpstreamCbCapabilities
	UpstreamCbLinkProperties
	UpstreamCbLost
)

// masterMessage is one message posted to the master machine's channel.
type masterMessage struct {
	evt masterEvent

	// requestingSM carries the interface actor handle for
	// masterEvtTetherModeRequested/masterEvtTetherModeUnrequested.
	requestingSM Handle
	replyCh      chan<- ifaceMessage

	// cbKind/candidate carry the payload for masterEvtUpstreamCallback.
	cbKind    UpstreamCallbackKind
	candidate UpstreamCandidate
}
