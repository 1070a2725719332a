package adb

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeExecutor struct {
	mu      sync.Mutex
	calls   [][]string
	handler func(ctx context.Context, args []string) (string, string, int, error)
}

func (f *fakeExecutor) Exec(ctx context.Context, args ...string) (string, string, int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), args...))
	f.mu.Unlock()
	if f.handler == nil {
		return "", "", 0, nil
	}
	return f.handler(ctx, args)
}

func (f *fakeExecutor) joined() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = strings.Join(c, " ")
	}
	return out
}

func TestValidateDeviceID(t *testing.T) {
	valid := []string{"emulator-5554", "192.168.1.100:5555", "adb-R58M._adb-tls-connect._tcp.", "ABCDEF0123"}
	for _, id := range valid {
		if err := ValidateDeviceID(id); err != nil {
			t.Errorf("Expected %q to be valid: %v", id, err)
		}
	}
	invalid := []string{"", "a;rm -rf /", "dev ice", "x$(id)", strings.Repeat("a", 300)}
	for _, id := range invalid {
		if err := ValidateDeviceID(id); err == nil {
			t.Errorf("Expected %q to be rejected", id)
		}
	}
}

func TestRunPrefixesSerial(t *testing.T) {
	fe := &fakeExecutor{handler: func(ctx context.Context, args []string) (string, string, int, error) {
		return "Pixel 7\n", "", 0, nil
	}}
	c := NewWithExecutor(fe, Options{})

	out, err := c.Shell(context.Background(), "emulator-5554", "getprop ro.product.model")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out != "Pixel 7" {
		t.Errorf("Expected trimmed output, got %q", out)
	}
	calls := fe.joined()
	if len(calls) != 1 || calls[0] != "-s emulator-5554 shell getprop ro.product.model" {
		t.Errorf("Unexpected command line %v", calls)
	}
}

func TestRunClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   ErrorKind
	}{
		{"daemon", "* daemon not running; starting now at tcp:5037\nadb: cannot connect to daemon", KindDaemonUnavailable},
		{"not found", "adb: device 'abc' not found", KindDeviceNotFound},
		{"offline", "error: device offline", KindDeviceNotFound},
		{"generic", "/system/bin/sh: foo: inaccessible", KindCommandFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := &fakeExecutor{handler: func(ctx context.Context, args []string) (string, string, int, error) {
				return "", tt.stderr, 1, nil
			}}
			c := NewWithExecutor(fe, Options{})
			res, err := c.Run(context.Background(), "abc", 0, "shell", "true")
			if err == nil {
				t.Fatal("Expected error")
			}
			var te *TransportError
			if !errors.As(err, &te) {
				t.Fatalf("Expected TransportError, got %T", err)
			}
			if te.Kind != tt.want {
				t.Errorf("Expected kind %s, got %s", tt.want, te.Kind)
			}
			if res.ExitCode != 1 || res.Stderr != tt.stderr {
				t.Errorf("Result not populated: %+v", res)
			}
		})
	}
}

func TestRunTimeout(t *testing.T) {
	fe := &fakeExecutor{handler: func(ctx context.Context, args []string) (string, string, int, error) {
		<-ctx.Done()
		return "", "", -1, ctx.Err()
	}}
	c := NewWithExecutor(fe, Options{})

	_, err := c.Run(context.Background(), "abc", 20*time.Millisecond, "shell", "sleep", "10")
	if !IsKind(err, KindTimeout) {
		t.Fatalf("Expected timeout, got %v", err)
	}
}

func TestRunCallerCancel(t *testing.T) {
	fe := &fakeExecutor{handler: func(ctx context.Context, args []string) (string, string, int, error) {
		<-ctx.Done()
		return "", "", -1, ctx.Err()
	}}
	c := NewWithExecutor(fe, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Run(ctx, "abc", time.Second, "shell", "true")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	var te *TransportError
	if errors.As(err, &te) {
		t.Error("Caller cancellation should not be a transport error")
	}
}

func TestParseDeviceList(t *testing.T) {
	out := `* daemon started successfully
List of devices attached
emulator-5554          device product:sdk_gphone64 model:sdk_gphone64_x86_64 device:emu64x transport_id:1
R58M123ABC             device usb:1-1 product:a52q model:SM_A525F transport_id:2
192.168.1.20:5555      offline transport_id:3

`
	entries := parseDeviceList(out)
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d: %+v", len(entries), entries)
	}
	if entries[0].Model != "sdk_gphone64_x86_64" || entries[0].State != "device" {
		t.Errorf("Unexpected first entry %+v", entries[0])
	}
	if !entries[1].USB || entries[1].Wireless() {
		t.Errorf("Expected USB entry, got %+v", entries[1])
	}
	if entries[2].State != "offline" || !entries[2].Wireless() {
		t.Errorf("Expected wireless offline entry, got %+v", entries[2])
	}
}

func TestDumpUIPullsAndCleansUp(t *testing.T) {
	xml := `<?xml version="1.0"?><hierarchy rotation="0"></hierarchy>`
	fe := &fakeExecutor{handler: func(ctx context.Context, args []string) (string, string, int, error) {
		if len(args) >= 5 && args[2] == "pull" {
			if err := os.WriteFile(args[4], []byte(xml), 0644); err != nil {
				return "", err.Error(), 1, nil
			}
		}
		return "", "", 0, nil
	}}
	c := NewWithExecutor(fe, Options{})

	data, err := c.DumpUI(context.Background(), "d1")
	if err != nil {
		t.Fatalf("DumpUI failed: %v", err)
	}
	if string(data) != xml {
		t.Errorf("Unexpected dump %q", data)
	}

	calls := fe.joined()
	last := calls[len(calls)-1]
	if last != "-s d1 shell rm -f "+RemoteDumpPath {
		t.Errorf("Expected remote cleanup last, got %v", calls)
	}
}

func TestDumpUICleansUpAfterFailedPull(t *testing.T) {
	fe := &fakeExecutor{handler: func(ctx context.Context, args []string) (string, string, int, error) {
		if len(args) >= 3 && args[2] == "pull" {
			return "", "adb: error: failed to stat remote object", 1, nil
		}
		return "", "", 0, nil
	}}
	c := NewWithExecutor(fe, Options{})

	if _, err := c.DumpUI(context.Background(), "d1"); err == nil {
		t.Fatal("Expected pull failure")
	}
	calls := fe.joined()
	found := false
	for _, call := range calls {
		if strings.Contains(call, "rm -f "+RemoteDumpPath) {
			found = true
		}
	}
	if !found {
		t.Errorf("Remote artifact not removed: %v", calls)
	}
}

func TestRestartServer(t *testing.T) {
	fe := &fakeExecutor{}
	c := NewWithExecutor(fe, Options{})
	if err := c.RestartServer(context.Background()); err != nil {
		t.Fatalf("RestartServer failed: %v", err)
	}
	calls := fe.joined()
	if len(calls) != 2 || calls[0] != "kill-server" || calls[1] != "start-server" {
		t.Errorf("Unexpected calls %v", calls)
	}
}

func TestCleanEnvStripsProxy(t *testing.T) {
	env := cleanEnv([]string{"PATH=/bin", "HTTP_PROXY=http://x", "https_proxy=y", "HOME=/root"})
	if len(env) != 2 {
		t.Errorf("Expected proxy vars stripped, got %v", env)
	}
}

func TestScreenshotCleansUpAfterFailedPull(t *testing.T) {
	fe := &fakeExecutor{handler: func(ctx context.Context, args []string) (string, string, int, error) {
		if len(args) >= 3 && args[2] == "pull" {
			return "", "adb: error: remote object does not exist", 1, nil
		}
		return "", "", 0, nil
	}}
	c := NewWithExecutor(fe, Options{})

	if err := c.Screenshot(context.Background(), "d1", t.TempDir()+"/shot.png"); err == nil {
		t.Fatal("Expected pull failure")
	}
	calls := fe.joined()
	want := []string{
		"-s d1 shell screencap -p " + RemoteScreenshotPath,
		"-s d1 pull " + RemoteScreenshotPath,
		"-s d1 shell rm -f " + RemoteScreenshotPath,
	}
	if len(calls) != 3 || calls[0] != want[0] || !strings.HasPrefix(calls[1], want[1]) || calls[2] != want[2] {
		t.Errorf("Unexpected calls %v", calls)
	}
}
