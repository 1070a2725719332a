package types

import (
	"fmt"
	"time"
)

// DeviceStatus is the lifecycle state of a registered device.
type DeviceStatus int

const (
	DeviceUnknown DeviceStatus = iota
	DeviceDisconnected
	DeviceConnecting
	DeviceConnected
	DeviceWorking
	DeviceError
	DeviceOffline
)

func (s DeviceStatus) String() string {
	switch s {
	case DeviceUnknown:
		return "unknown"
	case DeviceDisconnected:
		return "disconnected"
	case DeviceConnecting:
		return "connecting"
	case DeviceConnected:
		return "connected"
	case DeviceWorking:
		return "working"
	case DeviceError:
		return "error"
	case DeviceOffline:
		return "offline"
	}
	return fmt.Sprintf("DeviceStatus(%d)", int(s))
}

// Available reports whether a device in this state may receive work.
func (s DeviceStatus) Available() bool {
	switch s {
	case DeviceConnected, DeviceWorking:
		return true
	case DeviceUnknown, DeviceDisconnected, DeviceConnecting, DeviceError, DeviceOffline:
		return false
	}
	return false
}

// ParseDeviceStatus is the inverse of String. Unrecognised input maps to DeviceUnknown.
func ParseDeviceStatus(s string) DeviceStatus {
	for st := DeviceUnknown; st <= DeviceOffline; st++ {
		if st.String() == s {
			return st
		}
	}
	return DeviceUnknown
}

func (s DeviceStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *DeviceStatus) UnmarshalText(b []byte) error {
	*s = ParseDeviceStatus(string(b))
	return nil
}

// Device represents an Android device known to the registry
type Device struct {
	ID             string       `json:"id"`
	Status         DeviceStatus `json:"status"`
	Model          string       `json:"model"`
	AndroidVersion string       `json:"androidVersion"`
	Resolution     string       `json:"resolution"`
	Battery        int          `json:"battery"` // -1 when unknown
	Transport      string       `json:"transport"`
	LastSeen       time.Time    `json:"lastSeen"`
	Capabilities   []string     `json:"capabilities"`
}

// NewDevice returns a descriptor carrying the defaults used before any property query succeeds.
func NewDevice(id string) Device {
	return Device{
		ID:      id,
		Status:  DeviceUnknown,
		Model:   "Unknown",
		Battery: -1,
	}
}

// HasCapability reports whether the given package was found installed on the device.
func (d Device) HasCapability(pkg string) bool {
	for _, c := range d.Capabilities {
		if c == pkg {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices with d.
func (d Device) Clone() Device {
	if d.Capabilities != nil {
		d.Capabilities = append([]string(nil), d.Capabilities...)
	}
	return d
}

// DeviceSummary counts registered devices by status
type DeviceSummary struct {
	Total     int `json:"total"`
	Connected int `json:"connected"`
	Working   int `json:"working"`
	Offline   int `json:"offline"`
	Error     int `json:"error"`
	Other     int `json:"other"`
}
