package eventbus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

// D-Bus well-known names and interfaces this bus subscribes to. USB gadget
// state is reported by a udev rule invoking a small helper that emits a
// signal on the well-known tetherd bus name, since the kernel's USB gadget
// subsystem has no D-Bus presence of its own.
const (
	tetherdBusName = "org.tetherd.Broadcast"
	tetherdIface   = "org.tetherd.Broadcast"

	modemManagerService = "org.freedesktop.ModemManager1"
	modemManagerIface   = "org.freedesktop.ModemManager1.Sim"

	networkManagerService = "org.freedesktop.NetworkManager"
	networkManagerIface   = "org.freedesktop.NetworkManager.Device"
)

// DBusBus watches the system bus for the USB gadget helper's broadcast
// signal, ModemManager's SIM property changes, and NetworkManager's Wi-Fi
// AP device state changes, translating each into a normalized Event.
type DBusBus struct {
	logger *slog.Logger
	conn   *dbus.Conn
	events chan Event
}

// NewDBusBus connects to the system bus and prepares (but does not yet
// start) broadcast watching.
func NewDBusBus(logger *slog.Logger) (*DBusBus, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}

	return &DBusBus{
		logger: logger.With(slog.String("component", "eventbus.dbus")),
		conn:   conn,
		events: make(chan Event, 16),
	}, nil
}

// Run subscribes to the watched signals and translates them into Events
// until ctx is cancelled.
func (b *DBusBus) Run(ctx context.Context) error {
	rules := []string{
		fmt.Sprintf("type='signal',interface='%s',member='GadgetStateChanged'", tetherdIface),
		fmt.Sprintf("type='signal',interface='%s',member='PropertiesChanged',path_namespace='/org/freedesktop/ModemManager1'", modemManagerIface),
		fmt.Sprintf("type='signal',interface='org.freedesktop.DBus.Properties',member='PropertiesChanged',arg0='%s'", networkManagerIface),
	}

	for _, rule := range rules {
		if call := b.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule); call.Err != nil {
			b.logger.Warn("add match failed", slog.String("rule", rule), slog.String("error", call.Err.Error()))
		}
	}

	sigCh := make(chan *dbus.Signal, 16)
	b.conn.Signal(sigCh)
	defer b.conn.RemoveSignal(sigCh)

	b.logger.Info("dbus broadcast bus started")
	defer close(b.events)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("dbus broadcast bus stopped")
			return nil
		case sig, ok := <-sigCh:
			if !ok {
				return nil
			}
			if ev, ok := translate(sig); ok {
				select {
				case b.events <- ev:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

// translate maps a raw D-Bus signal to a normalized Event, if recognized.
func translate(sig *dbus.Signal) (Event, bool) {
	switch sig.Name {
	case tetherdIface + ".GadgetStateChanged":
		if len(sig.Body) != 2 {
			return Event{}, false
		}
		connected, ok1 := sig.Body[0].(bool)
		rndis, ok2 := sig.Body[1].(bool)
		if !ok1 || !ok2 {
			return Event{}, false
		}
		return Event{Kind: KindUSB, USBConnected: connected, USBRndisEnabled: rndis}, true

	case modemManagerIface + ".PropertiesChanged":
		state, ok := simStateFromProperties(sig.Body)
		if !ok {
			return Event{}, false
		}
		return Event{Kind: KindSIMState, State: state}, true

	case "org.freedesktop.DBus.Properties.PropertiesChanged":
		state, ok := apStateFromProperties(sig.Body)
		if !ok {
			return Event{}, false
		}
		return Event{Kind: KindWifiAPState, State: state}, true

	default:
		return Event{}, false
	}
}

// simStateFromProperties maps the "Active" entry of the changed-property
// payload ModemManager1.Sim emits to LOADED or ABSENT; other properties
// are ignored.
func simStateFromProperties(body []any) (string, bool) {
	if len(body) < 2 {
		return "", false
	}
	changed, ok := body[1].(map[string]dbus.Variant)
	if !ok {
		return "", false
	}
	if v, ok := changed["Active"]; ok {
		if active, ok := v.Value().(bool); ok {
			if active {
				return "LOADED", true
			}
			return "ABSENT", true
		}
	}
	return "", false
}

// apStateFromProperties extracts NetworkManager's "State" changed-property
// payload for a Wi-Fi device acting as an access point.
func apStateFromProperties(body []any) (string, bool) {
	if len(body) < 3 {
		return "", false
	}
	changed, ok := body[1].(map[string]dbus.Variant)
	if !ok {
		return "", false
	}
	v, ok := changed["State"]
	if !ok {
		return "", false
	}
	state, ok := v.Value().(uint32)
	if !ok {
		return "", false
	}
	// NetworkManager device states: 100 = activated, others = transitional
	// or down. See NetworkManager's NMDeviceState enum.
	if state == 100 {
		return "ENABLED", true
	}
	return "DISABLED", true
}

// Events returns the normalized event channel.
func (b *DBusBus) Events() <-chan Event {
	return b.events
}

// Close disconnects from the system bus.
func (b *DBusBus) Close() error {
	return b.conn.Close()
}
