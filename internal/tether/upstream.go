package tether

import (
	"context"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// maxObservedNetworks bounds the monitor's observed-network cache. A real
// host never has more than a handful of candidate networks alive at once;
// this is a safety net against a misbehaving upstream source, not an
// expected-to-be-hit limit.
const maxObservedNetworks = 64

// UpstreamSource is the platform collaborator the monitor subscribes to:
// the "default network" and "mobile/DUN" connectivity listeners, as two
// independently controllable subscriptions. A real
// implementation wraps the host's connectivity manager; tests substitute a
// fake that lets them inject callbacks directly.
type UpstreamSource interface {
	// StartDefault begins delivering NetworkState callbacks for the
	// platform's default-network listener until ctx is cancelled or Stop
	// is called.
	StartDefault(ctx context.Context, cb func(kind UpstreamCallbackKind, candidate UpstreamCandidate)) error
	// RequestMobile engages the mobile/DUN listener, requesting a
	// MOBILE_DUN connection when dunRequired, else MOBILE_HIPRI.
	RequestMobile(dunRequired bool) error
	// ReleaseMobile cancels any outstanding mobile connection request.
	// Idempotent.
	ReleaseMobile() error
	// Stop cancels any outstanding mobile request and stops delivering
	// default-network callbacks. Idempotent.
	Stop() error
}

// NoopUpstreamSource is an UpstreamSource that never observes a candidate
// network. Useful for tests and for running the orchestrator with upstream
// selection disabled (downstream interfaces will never leave AVAILABLE).
type NoopUpstreamSource struct{}

func (NoopUpstreamSource) StartDefault(ctx context.Context, cb func(kind UpstreamCallbackKind, candidate UpstreamCandidate)) error {
	return nil
}
func (NoopUpstreamSource) RequestMobile(dunRequired bool) error { return nil }
func (NoopUpstreamSource) ReleaseMobile() error                 { return nil }
func (NoopUpstreamSource) Stop() error                          { return nil }

// UpstreamMonitor observes network availability, ranks candidates, and
// forwards every transition to the master actor's channel with a
// non-blocking send, so forwarding never blocks the source; a callback
// that finds the channel full is dropped.
type UpstreamMonitor struct {
	logger *slog.Logger
	source UpstreamSource

	mu       sync.Mutex
	observed *lru.Cache[Handle, UpstreamCandidate]
	running  bool
}

// NewUpstreamMonitor creates a monitor over source.
func NewUpstreamMonitor(source UpstreamSource, logger *slog.Logger) *UpstreamMonitor {
	cache, _ := lru.New[Handle, UpstreamCandidate](maxObservedNetworks)
	return &UpstreamMonitor{
		logger:   logger.With(slog.String("component", "tether.upstream")),
		source:   source,
		observed: cache,
	}
}

// Start begins monitoring the default network. Idempotent: calling Start
// while already running is a no-op.
func (m *UpstreamMonitor) Start(ctx context.Context, masterCh chan<- masterMessage) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.mu.Unlock()

	return m.source.StartDefault(ctx, func(kind UpstreamCallbackKind, candidate UpstreamCandidate) {
		m.recordAndForward(kind, candidate, masterCh)
	})
}

// RequestMobile engages the mobile/DUN listener.
func (m *UpstreamMonitor) RequestMobile(dunRequired bool) error {
	return m.source.RequestMobile(dunRequired)
}

// ReleaseMobile cancels any outstanding mobile connection request.
func (m *UpstreamMonitor) ReleaseMobile() error {
	return m.source.ReleaseMobile()
}

// Stop cancels any outstanding mobile request and stops monitoring.
// Idempotent.
func (m *UpstreamMonitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	return m.source.Stop()
}

// Lookup returns the last-known candidate for handle, used by the master
// to examine a candidate synchronously at selection time.
func (m *UpstreamMonitor) Lookup(handle Handle) (UpstreamCandidate, bool) {
	return m.observed.Get(handle)
}

// Candidates returns a snapshot of every currently observed candidate.
func (m *UpstreamMonitor) Candidates() map[Handle]UpstreamCandidate {
	out := make(map[Handle]UpstreamCandidate)
	for _, h := range m.observed.Keys() {
		if c, ok := m.observed.Get(h); ok {
			out[h] = c
		}
	}
	return out
}

func (m *UpstreamMonitor) recordAndForward(kind UpstreamCallbackKind, candidate UpstreamCandidate, masterCh chan<- masterMessage) {
	if kind == UpstreamCbLost {
		m.observed.Remove(candidate.Network)
	} else {
		m.observed.Add(candidate.Network, candidate)
	}

	msg := masterMessage{evt: masterEvtUpstreamCallback, cbKind: kind, candidate: candidate}
	select {
	case masterCh <- msg:
	default:
		// The master loop is the single consumer and drains promptly;
		// hitting default here means its buffer is full or it has stopped.
		m.logger.Debug("dropped upstream callback, master channel unavailable")
	}
}
