package tether

import "time"

// UpstreamSettleTime is the delay before CMD_RETRY_UPSTREAM fires after a
// selection pass with tryCell false finds no usable upstream.
const UpstreamSettleTime = 10 * time.Second

// masterState is the master machine's coarse state. Rather than five
// near-identical error subclasses, the various NMS-failure states are
// folded into one msError state carrying a discriminated ErrorCode payload.
type masterState uint8

const (
	msInitial masterState = iota
	msTetherModeAlive
	msError
)

func (s masterState) String() string {
	switch s {
	case msTetherModeAlive:
		return "TetherModeAlive"
	case msError:
		return "Error"
	default:
		return "Initial"
	}
}

// requestEntry is one live entry on the MasterRequestList: an interface
// actor's handle plus the channel used to deliver it
// CMD_TETHER_CONNECTION_CHANGED messages.
type requestEntry struct {
	handle Handle
	replyCh chan<- ifaceMessage
}

// masterRequestList is the ordered, duplicate-free list of interface
// actors that have issued TETHER_MODE_REQUESTED but not yet UNREQUESTED.
// It is intentionally not a set: insertion order is preserved for
// deterministic notification ordering in tests.
type masterRequestList struct {
	entries []requestEntry
}

// add appends h if not already present (dedup by handle identity).
func (l *masterRequestList) add(h Handle, replyCh chan<- ifaceMessage) {
	for _, e := range l.entries {
		if e.handle == h {
			return
		}
	}
	l.entries = append(l.entries, requestEntry{handle: h, replyCh: replyCh})
}

// remove drops h from the list if present.
func (l *masterRequestList) remove(h Handle) {
	for i, e := range l.entries {
		if e.handle == h {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

func (l *masterRequestList) isEmpty() bool { return len(l.entries) == 0 }

// selectUpstream implements the upstream-selection algorithm: it walks the
// preferred-type list in order and returns the first type with a
// connected candidate, plus whether a mobile connection must be requested
// and whether a retry must be scheduled. It is a pure function over the
// candidate map so it can be tested without an actor or a monitor.
type upstreamSelection struct {
	selectedType    UpstreamType
	candidate       UpstreamCandidate
	found           bool
	requestMobile   bool
	dunRequired     bool
	scheduleRetry   bool
}

func selectUpstream(cfg TetheringConfig, candidates map[Handle]UpstreamCandidate, tryCell bool) upstreamSelection {
	for _, want := range cfg.PreferredUpstreamTypes {
		for _, c := range candidates {
			if c.Type == want && c.Connected {
				sel := upstreamSelection{selectedType: want, candidate: c, found: true}
				if want == UpstreamMobileDUN || want == UpstreamMobileHIPRI {
					sel.requestMobile = true
					sel.dunRequired = cfg.IsDunRequired
				}
				return sel
			}
		}
	}

	// No connected candidate of any preferred type: UpstreamNone.
	if tryCell {
		return upstreamSelection{selectedType: UpstreamNone, requestMobile: true}
	}
	return upstreamSelection{selectedType: UpstreamNone, scheduleRetry: true}
}
