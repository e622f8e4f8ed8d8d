// Package tether implements the dual state-machine tethering control plane:
// a master state machine that owns upstream selection, IP-forwarding,
// DHCP/DNS programming and SIM-driven reprovisioning, one per-downstream
// interface state machine per tetherable interface, the upstream network
// monitor that feeds the master ranked candidates, and the tether-state
// registry that ties interface names to their machines.
//
// Both state machines run single-threaded on their own event loop
// goroutine; the registry is the only data structure shared across
// goroutines and is protected by its own mutex, never held across a
// message send or an external call.
package tether
