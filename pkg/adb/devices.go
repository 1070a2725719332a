package adb

import (
	"context"
	"strings"
)

// DeviceEntry is one line of `adb devices -l`.
type DeviceEntry struct {
	ID          string
	State       string // device, offline, unauthorized, ...
	Model       string
	Product     string
	TransportID string
	USB         bool
}

// Wireless reports whether the entry is a TCP or mDNS connection.
func (d DeviceEntry) Wireless() bool {
	if d.USB {
		return false
	}
	return strings.Contains(d.ID, ":") || strings.Contains(d.ID, "._tcp") || strings.Contains(d.ID, "._adb-tls-connect")
}

// ListDevices runs `adb devices -l`.
func (c *Client) ListDevices(ctx context.Context) ([]DeviceEntry, error) {
	res, err := c.Run(ctx, "", 0, "devices", "-l")
	if err != nil {
		return nil, err
	}
	// a freshly spawned daemon announces itself before the list
	if strings.Contains(res.Stdout, "daemon not running") {
		return nil, &TransportError{Kind: KindDaemonUnavailable, Args: []string{"devices", "-l"}, Result: res}
	}
	return parseDeviceList(res.Stdout), nil
}

func parseDeviceList(out string) []DeviceEntry {
	var entries []DeviceEntry
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices attached") || strings.HasPrefix(line, "*") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		e := DeviceEntry{ID: parts[0], State: parts[1]}
		for _, p := range parts[2:] {
			kv := strings.SplitN(p, ":", 2)
			if len(kv) != 2 {
				continue
			}
			switch kv[0] {
			case "model":
				e.Model = kv[1]
			case "product":
				e.Product = kv[1]
			case "transport_id":
				e.TransportID = kv[1]
			case "usb":
				e.USB = true
			}
		}
		entries = append(entries, e)
	}
	return entries
}
