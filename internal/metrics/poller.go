package tethermetrics

import (
	"context"
	"time"

	"github.com/dantte-lp/tetherd/internal/tether"
)

// pollInterval is how often Poll re-reads the orchestrator snapshot.
const pollInterval = 5 * time.Second

// Snapshotter is the subset of *tether.Orchestrator the poller depends on.
type Snapshotter interface {
	Snapshot() map[string]tether.TetherEntry
}

// Poll periodically snapshots src and exports derived gauges/counters
// through c, diffing against the previous snapshot to detect state
// transitions and newly-recorded errors at each tick. It blocks until ctx
// is cancelled.
//
// This is a polling export rather than an event-driven one: the
// orchestrator's actor loop has no metrics dependency of its own, and
// collaborators are only ever called at the loop's edges, not threaded
// through every internal transition.
func Poll(ctx context.Context, src Snapshotter, c *Collector) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	prev := map[string]tether.TetherEntry{}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := src.Snapshot()
			c.export(prev, cur)
			prev = cur
		}
	}
}

// export updates every metric from the (prev, cur) snapshot pair.
func (c *Collector) export(prev, cur map[string]tether.TetherEntry) {
	tetheredByType := map[string]int{}

	for name, entry := range cur {
		typeName := entry.Type.String()
		if entry.LastState == tether.StateTethered {
			tetheredByType[typeName]++
		}

		if old, ok := prev[name]; ok {
			if old.LastState != entry.LastState {
				c.RecordStateTransition(name, typeName, old.LastState.String(), entry.LastState.String())
			}
			if old.LastError != entry.LastError && entry.LastError != tether.ErrNone {
				c.IncTetherErrors(name, entry.LastError.String())
			}
		} else if entry.LastError != tether.ErrNone {
			c.IncTetherErrors(name, entry.LastError.String())
		}
	}

	for _, t := range []tether.InterfaceType{tether.InterfaceUSB, tether.InterfaceWifi, tether.InterfaceBluetooth} {
		c.SetTetheredCount(t.String(), tetheredByType[t.String()])
	}
}
