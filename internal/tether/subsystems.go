package tether

// ResultSink is the capability passed to startTethering so its caller can
// be told the outcome asynchronously without the core knowing anything
// about how that notification crosses a process boundary.
type ResultSink interface {
	Send(code ErrorCode)
}

// USBManager is the thin USB subsystem collaborator: the core only ever
// asks it to flip the RNDIS function on or off.
type USBManager interface {
	SetCurrentFunction(rndis bool) error
}

// WifiManager is the thin Wi-Fi subsystem collaborator: the core only ever
// asks it to enable or disable soft-AP mode.
type WifiManager interface {
	SetWifiApEnabled(enable bool) error
}

// BluetoothManager is the thin Bluetooth PAN collaborator. IsTetheringOn is
// queried synchronously right after SetBluetoothTethering to determine
// success; this is inherently racy but matches the platform's own
// behavior, so it's preserved rather than replaced with invented
// semantics.
type BluetoothManager interface {
	SetBluetoothTethering(enable bool) error
	IsTetheringOn() bool
}
