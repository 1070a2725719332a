package adb

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrorKind classifies a failed transport call.
type ErrorKind int

const (
	KindCommandFailed ErrorKind = iota
	KindTimeout
	KindDaemonUnavailable
	KindDeviceNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindCommandFailed:
		return "command_failed"
	case KindTimeout:
		return "timeout"
	case KindDaemonUnavailable:
		return "daemon_unavailable"
	case KindDeviceNotFound:
		return "device_not_found"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// TransportError is returned by every Client call that did not complete successfully.
type TransportError struct {
	Kind     ErrorKind
	DeviceID string
	Args     []string
	Result   CommandResult
	Err      error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "adb %s", e.Kind)
	if e.DeviceID != "" {
		fmt.Fprintf(&b, " [%s]", e.DeviceID)
	}
	if len(e.Args) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Args, " "))
	}
	if msg := strings.TrimSpace(e.Result.Stderr); msg != "" {
		fmt.Fprintf(&b, ": %s", msg)
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsKind reports whether err wraps a TransportError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == kind
}

var (
	daemonMarkers = []string{
		"daemon not running",
		"cannot connect to daemon",
		"failed to start daemon",
		"cannot bind",
		"connection refused",
		"protocol fault",
	}
	notFoundMarkers = []string{
		"device not found",
		"no devices/emulators found",
		"device offline",
		"device unauthorized",
	}
	notFoundPattern = regexp.MustCompile(`device '[^']*' not found`)
)

// classifyOutput inspects stderr (and stdout, where adb sometimes reports) of a failed call.
func classifyOutput(res CommandResult) ErrorKind {
	text := strings.ToLower(res.Stderr + "\n" + res.Stdout)
	for _, m := range daemonMarkers {
		if strings.Contains(text, m) {
			return KindDaemonUnavailable
		}
	}
	for _, m := range notFoundMarkers {
		if strings.Contains(text, m) {
			return KindDeviceNotFound
		}
	}
	if notFoundPattern.MatchString(text) {
		return KindDeviceNotFound
	}
	return KindCommandFailed
}
