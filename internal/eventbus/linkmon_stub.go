//go:build !linux

package eventbus

import (
	"context"
	"log/slog"
)

// LinkMonitor is a no-op implementation used on non-Linux platforms, where
// NETLINK_ROUTE isn't available.
type LinkMonitor struct {
	events chan Event
	logger *slog.Logger
}

// NewLinkMonitor creates a no-op link monitor.
func NewLinkMonitor(logger *slog.Logger) (*LinkMonitor, error) {
	return &LinkMonitor{
		events: make(chan Event),
		logger: logger.With(slog.String("component", "eventbus.linkmon.stub")),
	}, nil
}

// Run blocks until ctx is cancelled. The stub implementation does not emit
// any events.
func (m *LinkMonitor) Run(ctx context.Context) error {
	m.logger.Info("stub link monitor started (no-op)")
	<-ctx.Done()
	close(m.events)
	m.logger.Info("stub link monitor stopped")
	return nil
}

// Events returns the (always empty) event channel.
func (m *LinkMonitor) Events() <-chan Event {
	return m.events
}

// Close is a no-op for the stub monitor.
func (m *LinkMonitor) Close() error {
	return nil
}
