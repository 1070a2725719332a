// Package adb runs Android Debug Bridge commands and classifies their failures.
package adb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"flowfarm/pkg/logger"

	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single adb invocation when the caller passes no timeout.
const DefaultTimeout = 30 * time.Second

// Android key codes used by the navigator
const (
	KeyBack  = 4
	KeyEnter = 66
)

// CommandResult is the outcome of one adb invocation.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Executor runs the adb binary. The default implementation shells out via os/exec.
type Executor interface {
	Exec(ctx context.Context, args ...string) (stdout, stderr string, exitCode int, err error)
}

type Options struct {
	Path              string
	Timeout           time.Duration
	CommandsPerSecond float64 // per device; 0 disables limiting
	Burst             int
}

// Client issues adb commands on behalf of the registry and the workers.
type Client struct {
	exec    Executor
	path    string
	timeout time.Duration
	rps     float64
	burst   int

	imeSettle time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a client that runs the adb binary resolved from opts.Path.
func New(opts Options) *Client {
	path := ResolvePath(opts.Path)
	c := NewWithExecutor(commandExecutor{path: path}, opts)
	c.path = path
	return c
}

// NewWithExecutor creates a client around a custom executor.
func NewWithExecutor(e Executor, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	return &Client{
		exec:     e,
		timeout:  timeout,
		rps:      opts.CommandsPerSecond,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),

		imeSettle: defaultIMESettle,
	}
}

// Path returns the resolved adb executable.
func (c *Client) Path() string { return c.path }

// deviceIDPattern matches USB serials, host:port and mDNS service names.
var deviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._:\-]+$`)

// ValidateDeviceID rejects ids that could smuggle extra arguments into a command line.
func ValidateDeviceID(id string) error {
	if id == "" {
		return fmt.Errorf("device ID cannot be empty")
	}
	if len(id) > 256 {
		return fmt.Errorf("device ID too long (max 256 characters)")
	}
	if !deviceIDPattern.MatchString(id) {
		return fmt.Errorf("invalid device ID %q: contains illegal characters", id)
	}
	return nil
}

func (c *Client) limiter(deviceID string) *rate.Limiter {
	if c.rps <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[deviceID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(c.rps), c.burst)
		c.limiters[deviceID] = lim
	}
	return lim
}

// Run executes adb with args, targeting deviceID when it is non-empty.
// A zero timeout uses the client default.
func (c *Client) Run(ctx context.Context, deviceID string, timeout time.Duration, args ...string) (CommandResult, error) {
	if deviceID != "" {
		if err := ValidateDeviceID(deviceID); err != nil {
			return CommandResult{}, err
		}
		if lim := c.limiter(deviceID); lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return CommandResult{}, fmt.Errorf("rate limit wait: %w", err)
			}
		}
		args = append([]string{"-s", deviceID}, args...)
	}
	if timeout <= 0 {
		timeout = c.timeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, code, err := c.exec.Exec(runCtx, args...)
	res := CommandResult{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: code,
		Duration: time.Since(start),
	}

	if ctxErr := runCtx.Err(); ctxErr != nil {
		if ctx.Err() != nil {
			// caller cancelled; not a transport fault
			return res, ctx.Err()
		}
		return res, &TransportError{Kind: KindTimeout, DeviceID: deviceID, Args: args, Result: res, Err: ctxErr}
	}
	if err != nil || code != 0 {
		kind := classifyOutput(res)
		if err == nil {
			err = fmt.Errorf("exit status %d", code)
		}
		logger.Debug("adb").
			Str("device", deviceID).
			Strs("args", args).
			Int("exitCode", code).
			Str("kind", kind.String()).
			Msg("adb command failed")
		return res, &TransportError{Kind: kind, DeviceID: deviceID, Args: args, Result: res, Err: err}
	}
	return res, nil
}

// Shell runs a shell command on the device and returns trimmed stdout.
func (c *Client) Shell(ctx context.Context, deviceID, command string) (string, error) {
	res, err := c.Run(ctx, deviceID, 0, "shell", command)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (c *Client) Tap(ctx context.Context, deviceID string, x, y int) error {
	_, err := c.Run(ctx, deviceID, 0, "shell", "input", "tap", strconv.Itoa(x), strconv.Itoa(y))
	return err
}

func (c *Client) Swipe(ctx context.Context, deviceID string, x1, y1, x2, y2 int, d time.Duration) error {
	_, err := c.Run(ctx, deviceID, 0, "shell", "input", "swipe",
		strconv.Itoa(x1), strconv.Itoa(y1), strconv.Itoa(x2), strconv.Itoa(y2),
		strconv.FormatInt(d.Milliseconds(), 10))
	return err
}

func (c *Client) KeyEvent(ctx context.Context, deviceID string, code int) error {
	_, err := c.Run(ctx, deviceID, 0, "shell", "input", "keyevent", strconv.Itoa(code))
	return err
}

// StartActivity launches component ("pkg/.Activity").
func (c *Client) StartActivity(ctx context.Context, deviceID, component string) error {
	res, err := c.Run(ctx, deviceID, 0, "shell", "am", "start", "-n", component)
	if err != nil {
		return err
	}
	// am reports a bad component on stdout with a zero exit code
	if strings.Contains(res.Stdout, "Error:") {
		return &TransportError{Kind: KindCommandFailed, DeviceID: deviceID, Result: res, Err: errors.New(strings.TrimSpace(res.Stdout))}
	}
	return nil
}

// RestartServer kills and restarts the adb daemon.
func (c *Client) RestartServer(ctx context.Context) error {
	logger.Warn("adb").Msg("Restarting ADB server")
	_, _ = c.Run(ctx, "", 10*time.Second, "kill-server")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(500 * time.Millisecond):
	}

	if _, err := c.Run(ctx, "", 0, "start-server"); err != nil {
		return fmt.Errorf("failed to start adb server: %w", err)
	}
	return nil
}

// commandExecutor runs the real adb binary with proxy variables stripped from its environment.
type commandExecutor struct {
	path string
}

var proxyVars = []string{"HTTP_PROXY", "HTTPS_PROXY", "ALL_PROXY", "NO_PROXY", "http_proxy", "https_proxy", "all_proxy", "no_proxy"}

func cleanEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, e := range env {
		isProxy := false
		for _, v := range proxyVars {
			if strings.HasPrefix(e, v+"=") {
				isProxy = true
				break
			}
		}
		if !isProxy {
			out = append(out, e)
		}
	}
	return out
}

func (e commandExecutor) Exec(ctx context.Context, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, e.path, args...)
	cmd.Env = cleanEnv(os.Environ())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), stderr.String(), exitErr.ExitCode(), nil
		}
		return stdout.String(), stderr.String(), -1, err
	}
	return stdout.String(), stderr.String(), 0, nil
}
