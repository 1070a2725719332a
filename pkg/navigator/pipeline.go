package navigator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"flowfarm/pkg/logger"
	"flowfarm/pkg/types"
	"flowfarm/pkg/uitree"
)

// ItemFilter decides whether an item belongs to this pipeline at all.
type ItemFilter interface {
	Supports(item types.WorkItem) (bool, error)
}

// Screenshotter is implemented by devices that can capture the screen.
type Screenshotter interface {
	Screenshot(ctx context.Context, localPath string) error
}

// Pipeline adapts the machine to the batch engine: it owns the per-device launch
// bookkeeping and the optional support filter. Build one per batch.
type Pipeline struct {
	lex     uitree.Lexicon
	opts    Options
	devices func(deviceID string) Device
	filter  ItemFilter
	diagDir string

	mu       sync.Mutex
	launched map[string]bool
}

func NewPipeline(lex uitree.Lexicon, opts Options, devices func(deviceID string) Device, filter ItemFilter) *Pipeline {
	return &Pipeline{
		lex:      lex,
		opts:     opts.withDefaults(),
		devices:  devices,
		filter:   filter,
		launched: make(map[string]bool),
	}
}

// WithDiagnostics saves a screenshot into dir whenever an item ends in Error.
func (p *Pipeline) WithDiagnostics(dir string) *Pipeline {
	p.diagDir = dir
	return p
}

// Process runs one item on one device.
func (p *Pipeline) Process(ctx context.Context, deviceID string, item types.WorkItem) (types.ItemStatus, error) {
	if p.filter != nil {
		ok, err := p.filter.Supports(item)
		if err != nil {
			return types.ItemError, fmt.Errorf("support filter: %w", err)
		}
		if !ok {
			return types.ItemSkipped, fmt.Errorf("%w: rejected by filter", ErrUnsupported)
		}
	}

	dev := p.devices(deviceID)
	if err := p.launchOnce(ctx, dev); err != nil {
		return types.ItemError, fmt.Errorf("app launch: %w", err)
	}

	res := New(dev, p.lex, p.opts).Run(ctx, item)
	if res.Status == types.ItemError && ctx.Err() == nil {
		p.capture(ctx, dev, item)
	}
	return res.Status, res.Err
}

// launchOnce starts the app before a device's first item. A failed launch is only
// logged: the machine relaunches on its own if it finds itself outside the app.
// Only cancellation while the app settles is returned.
func (p *Pipeline) launchOnce(ctx context.Context, dev Device) error {
	p.mu.Lock()
	done := p.launched[dev.ID()]
	p.launched[dev.ID()] = true
	p.mu.Unlock()

	component := p.lex.Component()
	if done || component == "" {
		return nil
	}
	if err := dev.LaunchApp(ctx, component); err != nil {
		logger.Warn("navigator").Str("device", dev.ID()).Err(err).Msg("app launch failed")
		return nil
	}
	return p.opts.Sleep(ctx, p.opts.SettleDelay)
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// capture stores the screen an item faulted on. Failures are logged and never
// change the item's outcome.
func (p *Pipeline) capture(ctx context.Context, dev Device, item types.WorkItem) {
	shooter, ok := dev.(Screenshotter)
	if p.diagDir == "" || !ok {
		return
	}
	if err := os.MkdirAll(p.diagDir, 0755); err != nil {
		logger.Warn("navigator").Str("dir", p.diagDir).Err(err).Msg("diagnostics directory unavailable")
		return
	}
	name := unsafeName.ReplaceAllString(dev.ID()+"_"+item.ID, "_") + "_" + time.Now().Format("20060102-150405") + ".png"
	path := filepath.Join(p.diagDir, name)
	if err := shooter.Screenshot(ctx, path); err != nil {
		logger.Warn("navigator").Str("device", dev.ID()).Str("item", item.ID).Err(err).Msg("diagnostic screenshot failed")
		return
	}
	logger.Info("navigator").Str("device", dev.ID()).Str("item", item.ID).Str("path", path).Msg("saved diagnostic screenshot")
}
