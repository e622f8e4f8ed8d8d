// Package platform wires the tethering core's narrow USB/Wi-Fi/Bluetooth/
// upstream-network collaborator interfaces to the host. Rather than
// reproducing any single vendor's control-plane wire protocol from memory
// (USB gadget configfs layout, a specific Wi-Fi AP daemon's control socket,
// BlueZ's D-Bus object tree), each subsystem is driven through a small
// operator-supplied hook script, the same externalize-to-a-collaborator
// shape internal/tether/provisioning.go uses for entitlement checks.
package platform

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// hookTimeout bounds a single hook script invocation.
const hookTimeout = 10 * time.Second

// runHook executes path with args, logging its invocation and returning its
// combined output and any error. An empty path is treated as "no hook
// configured" and always fails with errNoHook, letting callers decide
// whether that's fatal.
func runHook(ctx context.Context, logger *slog.Logger, path string, args ...string) (string, error) {
	if path == "" {
		return "", errNoHook
	}

	ctx, cancel := context.WithTimeout(ctx, hookTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, args...)
	logger.Debug("running hook", slog.String("path", path), slog.String("args", strings.Join(args, " ")))

	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("hook %s %v: %w: %s", path, args, err, out)
	}
	return string(out), nil
}

var errNoHook = fmt.Errorf("no hook script configured")

// -------------------------------------------------------------------------
// USB
// -------------------------------------------------------------------------

// HookUSBManager drives RNDIS function state through a hook script invoked
// as "<path> up" or "<path> down".
type HookUSBManager struct {
	Path   string
	Logger *slog.Logger
}

func (m HookUSBManager) SetCurrentFunction(rndis bool) error {
	_, err := runHook(context.Background(), m.Logger, m.Path, boolArg(rndis, "up", "down"))
	return err
}

// -------------------------------------------------------------------------
// Wi-Fi
// -------------------------------------------------------------------------

// HookWifiManager drives soft-AP state through a hook script invoked as
// "<path> up" or "<path> down".
type HookWifiManager struct {
	Path   string
	Logger *slog.Logger
}

func (m HookWifiManager) SetWifiApEnabled(enable bool) error {
	_, err := runHook(context.Background(), m.Logger, m.Path, boolArg(enable, "up", "down"))
	return err
}

// -------------------------------------------------------------------------
// Bluetooth
// -------------------------------------------------------------------------

// HookBluetoothManager drives Bluetooth PAN tethering through a hook
// script invoked as "<path> up"/"<path> down", and queries its state via
// "<path> status", expecting "on" or "off" on stdout.
type HookBluetoothManager struct {
	Path   string
	Logger *slog.Logger
}

func (m HookBluetoothManager) SetBluetoothTethering(enable bool) error {
	_, err := runHook(context.Background(), m.Logger, m.Path, boolArg(enable, "up", "down"))
	return err
}

func (m HookBluetoothManager) IsTetheringOn() bool {
	out, err := runHook(context.Background(), m.Logger, m.Path, "status")
	if err != nil {
		m.Logger.Warn("bluetooth status hook failed", slog.String("error", err.Error()))
		return false
	}
	return strings.TrimSpace(out) == "on"
}

func boolArg(b bool, t, f string) string {
	if b {
		return t
	}
	return f
}
