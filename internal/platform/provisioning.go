package platform

import (
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/dantte-lp/tetherd/internal/tether"
)

// provisioningObjectPath and provisioningIface mirror
// internal/eventbus's own-bus-name broadcast pattern: tetherd has no
// carrier-provisioning app of its own, so a dispatched intent is just
// broadcast on the session's well-known bus name for whatever external
// service handles entitlement checks to pick up.
const (
	provisioningObjectPath = "/org/tetherd/Broadcast"
	provisioningIface      = "org.tetherd.Broadcast"
)

// DBusProvisioningDispatcher broadcasts a ProvisioningRequested signal for
// every dispatched intent, carrying the same (token, ifType, showUI)
// payload a resolving service needs to call back into
// tether.Orchestrator.ResolveProvisioning.
type DBusProvisioningDispatcher struct {
	conn   *dbus.Conn
	logger *slog.Logger
}

// NewDBusProvisioningDispatcher wraps an already-connected system bus
// connection (typically the same one internal/eventbus.NewDBusBus uses).
func NewDBusProvisioningDispatcher(conn *dbus.Conn, logger *slog.Logger) *DBusProvisioningDispatcher {
	return &DBusProvisioningDispatcher{conn: conn, logger: logger.With(slog.String("component", "platform.provisioning"))}
}

func (d *DBusProvisioningDispatcher) Dispatch(intent tether.ProvisioningIntent) error {
	d.logger.Info("dispatching provisioning intent",
		slog.String("token", intent.Token),
		slog.String("type", intent.IfType.String()),
		slog.Bool("show_ui", intent.ShowUI),
	)
	return d.conn.Emit(dbus.ObjectPath(provisioningObjectPath), provisioningIface+".ProvisioningRequested",
		intent.Token, intent.IfType.String(), intent.ShowUI)
}
