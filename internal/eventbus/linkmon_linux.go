//go:build linux

package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jsimonetti/rtnetlink"
)

// linkPollInterval is how often LinkMonitor re-lists interfaces to detect
// additions, removals, and operational-state changes. USB gadget and Wi-Fi
// AP interfaces settle on the order of seconds, so sub-second polling buys
// nothing here.
const linkPollInterval = 2 * time.Second

// LinkMonitor polls the kernel's link table over NETLINK_ROUTE
// (github.com/jsimonetti/rtnetlink) and emits KindInterfaceAdded/
// KindInterfaceStatusChanged/KindInterfaceRemoved events as interfaces
// appear, change operational state, or disappear.
type LinkMonitor struct {
	logger *slog.Logger
	conn   *rtnetlink.Conn
	events chan Event

	seen map[uint32]linkSnapshot
}

type linkSnapshot struct {
	name string
	up   bool
}

// NewLinkMonitor dials a NETLINK_ROUTE socket for link queries.
func NewLinkMonitor(logger *slog.Logger) (*LinkMonitor, error) {
	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("dial rtnetlink: %w", err)
	}

	return &LinkMonitor{
		logger: logger.With(slog.String("component", "eventbus.linkmon")),
		conn:   conn,
		events: make(chan Event, 16),
		seen:   make(map[uint32]linkSnapshot),
	}, nil
}

// Run blocks, polling the link table and translating changes into Events,
// until ctx is cancelled.
func (m *LinkMonitor) Run(ctx context.Context) error {
	defer close(m.events)

	ticker := time.NewTicker(linkPollInterval)
	defer ticker.Stop()

	m.logger.Info("link monitor started")
	if err := m.poll(ctx); err != nil {
		m.logger.Warn("initial link poll failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("link monitor stopped")
			return nil
		case <-ticker.C:
			if err := m.poll(ctx); err != nil {
				m.logger.Warn("link poll failed", slog.String("error", err.Error()))
			}
		}
	}
}

// poll lists current links, diffs against the last-seen snapshot, and
// emits one event per change.
func (m *LinkMonitor) poll(ctx context.Context) error {
	links, err := m.conn.Link.List()
	if err != nil {
		return fmt.Errorf("list links: %w", err)
	}

	current := make(map[uint32]linkSnapshot, len(links))
	for _, l := range links {
		current[l.Index] = linkSnapshot{
			name: l.Attributes.Name,
			up:   l.Attributes.OperationalState == rtnetlink.OperStateUp,
		}
	}

	for index, snap := range current {
		prev, existed := m.seen[index]
		switch {
		case !existed:
			m.emit(ctx, Event{Kind: KindInterfaceAdded, IfaceName: snap.name})
		case prev.up != snap.up:
			m.emit(ctx, Event{Kind: KindInterfaceStatusChanged, IfaceName: snap.name, IfaceUp: snap.up})
		}
	}

	for index, prev := range m.seen {
		if _, still := current[index]; !still {
			m.emit(ctx, Event{Kind: KindInterfaceRemoved, IfaceName: prev.name})
		}
	}

	m.seen = current
	return nil
}

func (m *LinkMonitor) emit(ctx context.Context, ev Event) {
	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}

// Events returns the normalized event channel.
func (m *LinkMonitor) Events() <-chan Event {
	return m.events
}

// Close releases the netlink socket.
func (m *LinkMonitor) Close() error {
	return m.conn.Close()
}
