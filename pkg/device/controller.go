package device

import (
	"context"
	"errors"
	"time"

	"flowfarm/pkg/adb"
	"flowfarm/pkg/logger"
)

// Operator is the transport surface a worker drives a device through.
type Operator interface {
	Transport
	Tap(ctx context.Context, deviceID string, x, y int) error
	Swipe(ctx context.Context, deviceID string, x1, y1, x2, y2 int, d time.Duration) error
	KeyEvent(ctx context.Context, deviceID string, code int) error
	StartActivity(ctx context.Context, deviceID, component string) error
	InputText(ctx context.Context, deviceID, text string) error
	DumpUI(ctx context.Context, deviceID string) ([]byte, error)
	Screenshot(ctx context.Context, deviceID, localPath string) error
}

// Controller drives one device. Every call holds the device's exclusive scope and
// gets one remediation plus one retry on a transport error; a persistent failure
// marks the device Offline (not found) or Error (anything else).
type Controller struct {
	id  string
	reg *Registry
	op  Operator
}

func NewController(reg *Registry, op Operator, id string) *Controller {
	return &Controller{id: id, reg: reg, op: op}
}

func (c *Controller) ID() string { return c.id }

// call runs fn under the exclusive scope with the retry policy. Operations that change
// the screen (taps, key presses, text) are not replayed after a timeout: the first
// attempt may already have landed on the device.
func (c *Controller) call(ctx context.Context, name string, replayable bool, fn func(ctx context.Context) error) error {
	err := c.reg.WithExclusive(c.id, func() error { return fn(ctx) })
	if err == nil {
		return nil
	}

	var te *adb.TransportError
	if !errors.As(err, &te) {
		return err
	}
	if te.Kind == adb.KindTimeout && !replayable {
		logger.Warn("controller").Str("device", c.id).Str("op", name).Err(err).Msg("timed out, not replaying")
		return err
	}

	logger.Warn("controller").Str("device", c.id).Str("op", name).Str("kind", te.Kind.String()).Err(err).Msg("transport error, retrying once")
	if te.Kind == adb.KindDaemonUnavailable {
		if rerr := c.op.RestartServer(ctx); rerr != nil {
			logger.Error("controller").Err(rerr).Msg("adb restart failed")
		}
	}

	err = c.reg.WithExclusive(c.id, func() error { return fn(ctx) })
	if err == nil {
		return nil
	}
	if errors.As(err, &te) {
		switch te.Kind {
		case adb.KindDeviceNotFound:
			c.reg.MarkOffline(c.id)
		case adb.KindTimeout, adb.KindDaemonUnavailable:
			c.reg.MarkError(c.id)
		case adb.KindCommandFailed:
			// the device answered; the command itself is at fault
		}
	}
	return err
}

func (c *Controller) Tap(ctx context.Context, x, y int) error {
	return c.call(ctx, "tap", false, func(ctx context.Context) error {
		return c.op.Tap(ctx, c.id, x, y)
	})
}

func (c *Controller) Swipe(ctx context.Context, x1, y1, x2, y2 int, d time.Duration) error {
	return c.call(ctx, "swipe", true, func(ctx context.Context) error {
		return c.op.Swipe(ctx, c.id, x1, y1, x2, y2, d)
	})
}

func (c *Controller) Back(ctx context.Context) error {
	return c.call(ctx, "back", false, func(ctx context.Context) error {
		return c.op.KeyEvent(ctx, c.id, adb.KeyBack)
	})
}

// Enter presses the keyboard's enter key, which submits a search field.
func (c *Controller) Enter(ctx context.Context) error {
	return c.call(ctx, "enter", false, func(ctx context.Context) error {
		return c.op.KeyEvent(ctx, c.id, adb.KeyEnter)
	})
}

func (c *Controller) InputText(ctx context.Context, text string) error {
	return c.call(ctx, "input", false, func(ctx context.Context) error {
		return c.op.InputText(ctx, c.id, text)
	})
}

func (c *Controller) LaunchApp(ctx context.Context, component string) error {
	return c.call(ctx, "launch", true, func(ctx context.Context) error {
		return c.op.StartActivity(ctx, c.id, component)
	})
}

func (c *Controller) DumpUI(ctx context.Context) ([]byte, error) {
	var data []byte
	err := c.call(ctx, "dump", true, func(ctx context.Context) error {
		var err error
		data, err = c.op.DumpUI(ctx, c.id)
		return err
	})
	return data, err
}

// Screenshot saves the current screen to localPath.
func (c *Controller) Screenshot(ctx context.Context, localPath string) error {
	return c.call(ctx, "screenshot", true, func(ctx context.Context) error {
		return c.op.Screenshot(ctx, c.id, localPath)
	})
}
