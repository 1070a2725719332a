// Package device tracks the device fleet: discovery, health, and exclusive access.
package device

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"flowfarm/pkg/adb"
	"flowfarm/pkg/logger"
	"flowfarm/pkg/types"
)

// ErrUnknownDevice is returned for ids the registry has never seen.
var ErrUnknownDevice = errors.New("unknown device")

// Transport is the subset of the adb client the registry needs.
type Transport interface {
	ListDevices(ctx context.Context) ([]adb.DeviceEntry, error)
	Shell(ctx context.Context, deviceID, command string) (string, error)
	RestartServer(ctx context.Context) error
}

type Options struct {
	Interval       time.Duration
	OfflineTimeout time.Duration
	// Capabilities are package names whose presence is recorded per device.
	Capabilities []string
	Now          func() time.Time
}

// Change is delivered to watchers whenever a device changes status.
type Change struct {
	Device   types.Device
	Previous types.DeviceStatus
}

type entry struct {
	// lock is the exclusive scope: held for the duration of every transport operation on the device.
	lock sync.Mutex
	dev  types.Device // guarded by Registry.mu
}

// Registry owns the device map. The monitor loop is just another client of its API.
type Registry struct {
	transport Transport
	opts      Options

	mu       sync.RWMutex
	entries  map[string]*entry
	watchers []func(Change)

	scanMu sync.Mutex

	monitorMu     sync.Mutex
	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
}

func NewRegistry(t Transport, opts Options) *Registry {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.OfflineTimeout <= 0 {
		opts.OfflineTimeout = 60 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		transport: t,
		opts:      opts,
		entries:   make(map[string]*entry),
	}
}

// Watch registers fn for status changes. fn runs synchronously and must not block.
func (r *Registry) Watch(fn func(Change)) {
	r.mu.Lock()
	r.watchers = append(r.watchers, fn)
	r.mu.Unlock()
}

func (r *Registry) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}
	r.mu.RLock()
	watchers := slices.Clone(r.watchers)
	r.mu.RUnlock()
	for _, c := range changes {
		logger.Info("registry").
			Str("device", c.Device.ID).
			Str("from", c.Previous.String()).
			Str("to", c.Device.Status.String()).
			Msg("device status changed")
		for _, w := range watchers {
			w(c)
		}
	}
}

func statusFromState(state string) types.DeviceStatus {
	switch state {
	case "device":
		return types.DeviceConnected
	case "offline":
		return types.DeviceOffline
	case "unauthorized", "authorizing", "connecting":
		return types.DeviceConnecting
	case "bootloader", "recovery", "sideload", "rescue", "host":
		return types.DeviceDisconnected
	case "no":
		// "no permissions (...)"
		return types.DeviceError
	}
	return types.DeviceUnknown
}

// Scan lists devices over the transport, refreshes their properties and returns
// descriptors for every device reported in this round.
func (r *Registry) Scan(ctx context.Context) ([]types.Device, error) {
	r.scanMu.Lock()
	defer r.scanMu.Unlock()

	listed, err := r.transport.ListDevices(ctx)
	if err != nil && adb.IsKind(err, adb.KindDaemonUnavailable) {
		logger.Warn("registry").Err(err).Msg("adb daemon unavailable, restarting")
		if rerr := r.transport.RestartServer(ctx); rerr != nil {
			logger.Error("registry").Err(rerr).Msg("adb restart failed")
		}
		listed, err = r.transport.ListDevices(ctx)
		if err != nil {
			r.notify(r.failAll())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	now := r.opts.Now()
	var changes []Change
	out := make([]types.Device, 0, len(listed))
	for _, e := range listed {
		if err := adb.ValidateDeviceID(e.ID); err != nil {
			logger.Warn("registry").Str("device", e.ID).Err(err).Msg("ignoring device with unusable id")
			continue
		}
		status, change := r.upsert(e, now)
		if change != nil {
			changes = append(changes, *change)
		}
		// working devices keep their transport for the worker
		if status == types.DeviceConnected {
			r.refreshProperties(ctx, e.ID)
		}
		if d, ok := r.Get(e.ID); ok {
			out = append(out, d)
		}
	}
	r.notify(changes)

	logger.Debug("registry").Int("devices", len(out)).Msg("scan complete")
	return out, nil
}

func (r *Registry) upsert(e adb.DeviceEntry, now time.Time) (types.DeviceStatus, *Change) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, ok := r.entries[e.ID]
	if !ok {
		ent = &entry{dev: types.NewDevice(e.ID)}
		r.entries[e.ID] = ent
	}
	prev := ent.dev.Status
	next := statusFromState(e.State)
	if next == types.DeviceConnected && prev == types.DeviceWorking {
		next = types.DeviceWorking
	}

	ent.dev.Status = next
	ent.dev.LastSeen = now
	if e.Wireless() {
		ent.dev.Transport = "wireless"
	} else {
		ent.dev.Transport = "usb"
	}
	if e.Model != "" && ent.dev.Model == "Unknown" {
		ent.dev.Model = strings.ReplaceAll(e.Model, "_", " ")
	}

	if prev != next {
		return next, &Change{Device: ent.dev.Clone(), Previous: prev}
	}
	return next, nil
}

var (
	sizePattern    = regexp.MustCompile(`Physical size:\s*(\d+x\d+)`)
	batteryPattern = regexp.MustCompile(`(?m)^\s*level:\s*(\d+)`)
)

type propertyQuery struct {
	name    string
	command string
	apply   func(d *types.Device, out string) error
}

func (r *Registry) propertyQueries() []propertyQuery {
	return []propertyQuery{
		{"model", "getprop ro.product.model", func(d *types.Device, out string) error {
			if out == "" {
				return errors.New("empty model")
			}
			d.Model = out
			return nil
		}},
		{"version", "getprop ro.build.version.release", func(d *types.Device, out string) error {
			if out == "" {
				return errors.New("empty version")
			}
			d.AndroidVersion = out
			return nil
		}},
		{"resolution", "wm size", func(d *types.Device, out string) error {
			m := sizePattern.FindStringSubmatch(out)
			if m == nil {
				return fmt.Errorf("unexpected wm size output %q", out)
			}
			d.Resolution = m[1]
			return nil
		}},
		{"battery", "dumpsys battery", func(d *types.Device, out string) error {
			m := batteryPattern.FindStringSubmatch(out)
			if m == nil {
				return errors.New("no battery level")
			}
			level, err := strconv.Atoi(m[1])
			if err != nil {
				return err
			}
			d.Battery = level
			return nil
		}},
		{"capabilities", "pm list packages", func(d *types.Device, out string) error {
			installed := make(map[string]bool)
			for _, line := range strings.Split(out, "\n") {
				installed[strings.TrimPrefix(strings.TrimSpace(line), "package:")] = true
			}
			var caps []string
			for _, pkg := range r.opts.Capabilities {
				if installed[pkg] {
					caps = append(caps, pkg)
				}
			}
			d.Capabilities = caps
			return nil
		}},
	}
}

// refreshProperties queries each property independently; a failed query leaves
// the previous (or default) value in place.
func (r *Registry) refreshProperties(ctx context.Context, id string) {
	updated, ok := r.Get(id)
	if !ok {
		return
	}
	err := r.WithExclusive(id, func() error {
		for _, q := range r.propertyQueries() {
			out, err := r.transport.Shell(ctx, id, q.command)
			if err == nil {
				err = q.apply(&updated, strings.TrimSpace(out))
			}
			if err != nil {
				logger.Warn("registry").Str("device", id).Str("property", q.name).Err(err).Msg("property query failed")
			}
		}
		return nil
	})
	if err != nil {
		return
	}

	r.mu.Lock()
	if ent, ok := r.entries[id]; ok {
		ent.dev.Model = updated.Model
		ent.dev.AndroidVersion = updated.AndroidVersion
		ent.dev.Resolution = updated.Resolution
		ent.dev.Battery = updated.Battery
		ent.dev.Capabilities = updated.Capabilities
	}
	r.mu.Unlock()
}

// Get returns a copy of the device descriptor.
func (r *Registry) Get(id string) (types.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ent, ok := r.entries[id]
	if !ok {
		return types.Device{}, false
	}
	return ent.dev.Clone(), true
}

// IsAvailable reports whether the device may receive work right now.
func (r *Registry) IsAvailable(id string) bool {
	d, ok := r.Get(id)
	return ok && d.Status.Available()
}

// List returns all registered devices ordered by id.
func (r *Registry) List() []types.Device {
	r.mu.RLock()
	out := make([]types.Device, 0, len(r.entries))
	for _, ent := range r.entries {
		out = append(out, ent.dev.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Available returns the ids of devices that may receive work, ordered by id.
func (r *Registry) Available() []string {
	var ids []string
	for _, d := range r.List() {
		if d.Status.Available() {
			ids = append(ids, d.ID)
		}
	}
	return ids
}

func (r *Registry) Summary() types.DeviceSummary {
	var s types.DeviceSummary
	for _, d := range r.List() {
		s.Total++
		switch d.Status {
		case types.DeviceConnected:
			s.Connected++
		case types.DeviceWorking:
			s.Working++
		case types.DeviceOffline:
			s.Offline++
		case types.DeviceError:
			s.Error++
		case types.DeviceUnknown, types.DeviceDisconnected, types.DeviceConnecting:
			s.Other++
		}
	}
	return s
}

// WithExclusive runs fn while holding the device's exclusive scope.
func (r *Registry) WithExclusive(id string, fn func() error) error {
	r.mu.RLock()
	ent, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	ent.lock.Lock()
	defer ent.lock.Unlock()
	return fn()
}

// transition applies next when allowed(prev) holds and reports whether it changed anything.
func (r *Registry) transition(id string, next types.DeviceStatus, allowed func(types.DeviceStatus) bool) bool {
	r.mu.Lock()
	ent, ok := r.entries[id]
	if !ok || ent.dev.Status == next || (allowed != nil && !allowed(ent.dev.Status)) {
		r.mu.Unlock()
		return false
	}
	prev := ent.dev.Status
	ent.dev.Status = next
	c := Change{Device: ent.dev.Clone(), Previous: prev}
	r.mu.Unlock()

	r.notify([]Change{c})
	return true
}

// MarkWorking moves an available device to Working. It reports false if the device cannot take work.
func (r *Registry) MarkWorking(id string) bool {
	r.transition(id, types.DeviceWorking, func(s types.DeviceStatus) bool { return s == types.DeviceConnected })
	return r.IsAvailable(id)
}

// MarkIdle returns a Working device to Connected.
func (r *Registry) MarkIdle(id string) {
	r.transition(id, types.DeviceConnected, func(s types.DeviceStatus) bool { return s == types.DeviceWorking })
}

// MarkError flags a device after a persistent transport failure. The next scan that
// sees it healthy restores it.
func (r *Registry) MarkError(id string) {
	r.transition(id, types.DeviceError, nil)
}

// MarkOffline flags a device that the transport no longer finds.
func (r *Registry) MarkOffline(id string) {
	r.transition(id, types.DeviceOffline, nil)
}

// failAll marks every device that is not Offline as Error after the daemon stayed
// unreachable through its restart. The next healthy scan restores them.
func (r *Registry) failAll() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	var changes []Change
	for _, ent := range r.entries {
		if ent.dev.Status == types.DeviceOffline || ent.dev.Status == types.DeviceError {
			continue
		}
		prev := ent.dev.Status
		ent.dev.Status = types.DeviceError
		changes = append(changes, Change{Device: ent.dev.Clone(), Previous: prev})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Device.ID < changes[j].Device.ID })
	return changes
}

// Sweep marks every device unseen for longer than the offline timeout as Offline.
// Devices stay registered so a later scan can rediscover them.
func (r *Registry) Sweep() []string {
	now := r.opts.Now()

	r.mu.Lock()
	var changes []Change
	var ids []string
	for id, ent := range r.entries {
		if ent.dev.Status == types.DeviceOffline {
			continue
		}
		if now.Sub(ent.dev.LastSeen) > r.opts.OfflineTimeout {
			prev := ent.dev.Status
			ent.dev.Status = types.DeviceOffline
			changes = append(changes, Change{Device: ent.dev.Clone(), Previous: prev})
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	sort.Strings(ids)
	r.notify(changes)
	return ids
}

// Restore registers previously known devices as Offline without touching ones already present.
func (r *Registry) Restore(devices []types.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range devices {
		if _, ok := r.entries[d.ID]; ok || adb.ValidateDeviceID(d.ID) != nil {
			continue
		}
		d = d.Clone()
		d.Status = types.DeviceOffline
		r.entries[d.ID] = &entry{dev: d}
	}
}
