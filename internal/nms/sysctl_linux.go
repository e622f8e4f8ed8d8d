package nms

import (
	"fmt"
	"os"
)

// ipv4ForwardSysctl is the standard Linux knob for the IP forwarding
// master switch; nftables itself has no forwarding toggle, only filtering.
const ipv4ForwardSysctl = "/proc/sys/net/ipv4/ip_forward"

func writeProcSysBool(path, val string) error {
	if err := os.WriteFile(path, []byte(val), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
