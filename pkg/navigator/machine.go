// Package navigator runs one work item through the app: reach home, open the
// follow recommendations list, locate the target and act on its follow control.
package navigator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"flowfarm/pkg/logger"
	"flowfarm/pkg/types"
	"flowfarm/pkg/uitree"
)

// Device is the per-device control surface the machine drives.
// *device.Controller implements it.
type Device interface {
	ID() string
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2 int, d time.Duration) error
	Back(ctx context.Context) error
	LaunchApp(ctx context.Context, component string) error
	InputText(ctx context.Context, text string) error
	Enter(ctx context.Context) error
	DumpUI(ctx context.Context) ([]byte, error)
}

type State int

const (
	StateUnknown State = iota
	StateHome
	StateMessagesList
	StateFollowRecommendations
	StateSearch
	StateInAction
	StateDone
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateHome:
		return "home"
	case StateMessagesList:
		return "messages_list"
	case StateFollowRecommendations:
		return "follow_recommendations"
	case StateSearch:
		return "search"
	case StateInAction:
		return "in_action"
	case StateDone:
		return "done"
	case StateFaulted:
		return "faulted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Options tunes the machine. Zero values take the defaults below.
type Options struct {
	VerifyAttempts int
	SettleDelay    time.Duration
	MaxBackPresses int
	MaxRecoveries  int
	MaxScrolls     int
	DedupEpsilon   int
	// RowTolerance is the vertical distance within which a control belongs to the target's row.
	RowTolerance int
	// Sleep waits between an action and its verification; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

const verifyRadius = 50

func (o Options) withDefaults() Options {
	if o.VerifyAttempts <= 0 {
		o.VerifyAttempts = 3
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.MaxBackPresses <= 0 {
		o.MaxBackPresses = 3
	}
	if o.MaxRecoveries <= 0 {
		o.MaxRecoveries = 2
	}
	if o.MaxScrolls < 0 {
		o.MaxScrolls = 0
	}
	if o.DedupEpsilon <= 0 {
		o.DedupEpsilon = uitree.DefaultDedupEpsilon
	}
	if o.RowTolerance <= 0 {
		o.RowTolerance = 60
	}
	if o.Sleep == nil {
		o.Sleep = sleepCtx
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Result is the outcome of one item.
type Result struct {
	Status types.ItemStatus
	State  State
	Err    error
}

// Machine is not safe for concurrent use; each worker owns one.
type Machine struct {
	dev   Device
	lex   uitree.Lexicon
	opts  Options
	state State
}

func New(dev Device, lex uitree.Lexicon, opts Options) *Machine {
	return &Machine{dev: dev, lex: lex, opts: opts.withDefaults()}
}

func (m *Machine) State() State { return m.state }

// Run processes one item and always returns a definite outcome.
func (m *Machine) Run(ctx context.Context, item types.WorkItem) Result {
	m.state = StateUnknown

	if m.lex.Platform != "" && !strings.EqualFold(item.Platform, m.lex.Platform) {
		return Result{Status: types.ItemSkipped, State: m.state,
			Err: fmt.Errorf("%w: platform %q", ErrUnsupported, item.Platform)}
	}

	status, err := m.run(ctx, item)
	if err != nil {
		status = Classify(err)
		logger.Warn("navigator").Str("device", m.dev.ID()).Str("item", item.ID).
			Str("state", m.state.String()).Str("status", status.String()).Err(err).Msg("item did not complete")
		m.state = StateFaulted
		return Result{Status: status, State: m.state, Err: err}
	}
	m.state = StateDone
	logger.Debug("navigator").Str("device", m.dev.ID()).Str("item", item.ID).Str("status", status.String()).Msg("item done")
	return Result{Status: status, State: m.state}
}

func (m *Machine) run(ctx context.Context, item types.WorkItem) (types.ItemStatus, error) {
	snap, err := m.reachHome(ctx)
	if err != nil {
		return 0, fmt.Errorf("reach home: %w", err)
	}
	snap, err = m.tapAndVerify(ctx, "open messages", snap, m.lex.MessagesTab, uitree.PageMessages)
	if err != nil {
		return 0, err
	}
	m.state = StateMessagesList

	snap, err = m.tapAndVerify(ctx, "open follow list", snap, m.lex.FollowEntry, uitree.PageFollowRecommendations)
	if err != nil {
		return 0, err
	}
	m.state = StateFollowRecommendations

	return m.follow(ctx, snap, item)
}

// observe captures and parses the screen, re-capturing once when the dump does not parse.
func (m *Machine) observe(ctx context.Context) (*uitree.Snapshot, uitree.Detection, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		data, err := m.dev.DumpUI(ctx)
		if err != nil {
			return nil, uitree.Detection{}, err
		}
		snap, err := uitree.Parse(data)
		if err == nil {
			return snap, uitree.DetectPageType(snap, m.lex, m.opts.DedupEpsilon), nil
		}
		lastErr = err
		logger.Warn("navigator").Str("device", m.dev.ID()).Err(err).Msg("UI dump unreadable, capturing again")
	}
	return nil, uitree.Detection{}, lastErr
}

// settle waits for the screen after an action and observes it.
func (m *Machine) settle(ctx context.Context) (*uitree.Snapshot, uitree.Detection, error) {
	if err := m.opts.Sleep(ctx, m.opts.SettleDelay); err != nil {
		return nil, uitree.Detection{}, err
	}
	return m.observe(ctx)
}

// verify re-observes up to VerifyAttempts times until check passes. The action is never repeated.
func (m *Machine) verify(ctx context.Context, step, expected string, check func(*uitree.Snapshot, uitree.Detection) bool) (*uitree.Snapshot, error) {
	observed := "nothing"
	for attempt := 1; attempt <= m.opts.VerifyAttempts; attempt++ {
		snap, det, err := m.settle(ctx)
		if err != nil {
			return nil, err
		}
		if check(snap, det) {
			return snap, nil
		}
		observed = det.Page.String()
	}
	return nil, &AmbiguousStateError{Step: step, Expected: expected, Observed: observed, Attempts: m.opts.VerifyAttempts}
}

func (m *Machine) tapAndVerify(ctx context.Context, step string, snap *uitree.Snapshot, labels []string, want uitree.PageType) (*uitree.Snapshot, error) {
	target, ok := m.firstControl(snap, labels)
	if !ok {
		return nil, fmt.Errorf("%s: %w", step, ErrControlAbsent)
	}
	x, y := target.Center()
	if err := m.dev.Tap(ctx, x, y); err != nil {
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	return m.verify(ctx, step, want.String(), func(_ *uitree.Snapshot, d uitree.Detection) bool {
		return d.Page == want
	})
}

// firstControl prefers an actionable match and falls back to any exact text match.
func (m *Machine) firstControl(snap *uitree.Snapshot, labels []string) (uitree.Element, bool) {
	if els := snap.FindActionableButtons(labels, m.opts.DedupEpsilon); len(els) > 0 {
		return els[0], true
	}
	for _, e := range snap.FindByText(labels, true) {
		if e.Bounds.Area() > 0 {
			return e, true
		}
	}
	return uitree.Element{}, false
}

// reachHome walks back to the home page. Back presses stop as soon as the screen is
// no longer recognised as the app; the home anchor (or a relaunch) takes over from there.
func (m *Machine) reachHome(ctx context.Context) (*uitree.Snapshot, error) {
	snap, det, err := m.observe(ctx)
	if err != nil {
		return nil, err
	}
	for recovery := 0; ; recovery++ {
		if det.Page == uitree.PageHome {
			m.state = StateHome
			return snap, nil
		}
		if recovery >= m.opts.MaxRecoveries {
			return nil, &AmbiguousStateError{Step: "reach home", Expected: uitree.PageHome.String(),
				Observed: det.Page.String(), Attempts: recovery}
		}

		for press := 0; press < m.opts.MaxBackPresses && det.Page != uitree.PageHome && m.lex.Recognizes(snap); press++ {
			if err := m.dev.Back(ctx); err != nil {
				return nil, err
			}
			if snap, det, err = m.settle(ctx); err != nil {
				return nil, err
			}
		}
		if det.Page == uitree.PageHome {
			continue
		}

		if anchor, ok := m.homeAnchor(snap); ok {
			x, y := anchor.Center()
			logger.Debug("navigator").Str("device", m.dev.ID()).Msg("tapping home anchor")
			if err := m.dev.Tap(ctx, x, y); err != nil {
				return nil, err
			}
		} else {
			logger.Info("navigator").Str("device", m.dev.ID()).Msg("outside the app, relaunching")
			if err := m.dev.LaunchApp(ctx, m.lex.Component()); err != nil {
				return nil, err
			}
		}
		if snap, det, err = m.settle(ctx); err != nil {
			return nil, err
		}
	}
}

func (m *Machine) homeAnchor(snap *uitree.Snapshot) (uitree.Element, bool) {
	for _, e := range snap.FindByResourceID(m.lex.HomeAnchorID) {
		if e.Bounds.Area() > 0 {
			return e, true
		}
	}
	return m.firstControl(snap, m.lex.HomeTab)
}

// findTarget ignores input fields so a typed search query is not mistaken for the result.
func (m *Machine) findTarget(snap *uitree.Snapshot, item types.WorkItem) (uitree.Element, bool) {
	if item.Username != "" {
		if e, ok := firstNonInput(snap.FindByText([]string{item.Username}, true)); ok {
			return e, true
		}
	}
	if item.UserID != "" {
		if e, ok := firstNonInput(snap.FindByText([]string{item.UserID}, false)); ok {
			return e, true
		}
	}
	return uitree.Element{}, false
}

func firstNonInput(els []uitree.Element) (uitree.Element, bool) {
	for _, e := range els {
		if !isInput(e) {
			return e, true
		}
	}
	return uitree.Element{}, false
}

func isInput(e uitree.Element) bool {
	return strings.HasSuffix(e.ClassName, "EditText")
}

// rowControl returns the first follow or followed control on the target's row.
func (m *Machine) rowControl(snap *uitree.Snapshot, target uitree.Element) (uitree.Element, bool) {
	_, ty := target.Center()
	labels := append(append([]string(nil), m.lex.FollowLabels...), m.lex.FollowedLabels...)
	for _, e := range snap.FindActionableButtons(labels, m.opts.DedupEpsilon) {
		if _, cy := e.Center(); abs(cy-ty) <= m.opts.RowTolerance {
			return e, true
		}
	}
	return uitree.Element{}, false
}

func hasLabel(e uitree.Element, labels []string) bool {
	for _, l := range labels {
		if l != "" && (strings.TrimSpace(e.Text) == l || strings.TrimSpace(e.ContentDesc) == l) {
			return true
		}
	}
	return false
}

func (m *Machine) follow(ctx context.Context, snap *uitree.Snapshot, item types.WorkItem) (types.ItemStatus, error) {
	target, found := m.findTarget(snap, item)
	for scrolls := 0; !found && scrolls < m.opts.MaxScrolls; scrolls++ {
		if err := m.scroll(ctx, snap); err != nil {
			return 0, err
		}
		var det uitree.Detection
		var err error
		if snap, det, err = m.settle(ctx); err != nil {
			return 0, err
		}
		if det.Page != uitree.PageFollowRecommendations {
			return 0, &AmbiguousStateError{Step: "scroll", Expected: uitree.PageFollowRecommendations.String(), Observed: det.Page.String(), Attempts: 1}
		}
		target, found = m.findTarget(snap, item)
	}
	if !found {
		var err error
		if snap, target, found, err = m.search(ctx, item); err != nil {
			return 0, err
		}
		if !found {
			return 0, fmt.Errorf("%w: %s after %d scrolls and a search", ErrTargetNotFound, item.Username, m.opts.MaxScrolls)
		}
	}

	m.state = StateInAction
	control, ok := m.rowControl(snap, target)
	if !ok {
		return 0, fmt.Errorf("follow control for %s: %w", item.Username, ErrControlAbsent)
	}
	if hasLabel(control, m.lex.FollowedLabels) {
		return types.ItemAlreadyDone, nil
	}

	cx, cy := control.Center()
	if err := m.dev.Tap(ctx, cx, cy); err != nil {
		return 0, err
	}
	all := append(append([]string(nil), m.lex.FollowLabels...), m.lex.FollowedLabels...)
	_, err := m.verify(ctx, "follow "+item.Username, "followed", func(s *uitree.Snapshot, _ uitree.Detection) bool {
		e, ok := uitree.Nearest(s.FindByText(all, true), cx, cy, verifyRadius)
		return ok && hasLabel(e, m.lex.FollowedLabels)
	})
	if err != nil {
		return 0, err
	}
	return types.ItemSuccess, nil
}

// search looks the target up through the app's search page. The query is typed once
// and submitted once; only the result is re-observed. An app without a search entry
// reports not found.
func (m *Machine) search(ctx context.Context, item types.WorkItem) (*uitree.Snapshot, uitree.Element, bool, error) {
	query := item.Username
	if query == "" {
		query = item.UserID
	}
	if len(m.lex.SearchEntry) == 0 || query == "" {
		return nil, uitree.Element{}, false, nil
	}

	snap, err := m.reachHome(ctx)
	if err != nil {
		return nil, uitree.Element{}, false, fmt.Errorf("search: %w", err)
	}
	entry, ok := m.firstControl(snap, m.lex.SearchEntry)
	if !ok {
		logger.Debug("navigator").Str("device", m.dev.ID()).Msg("no search entry on home")
		return snap, uitree.Element{}, false, nil
	}
	m.state = StateSearch
	x, y := entry.Center()
	if err := m.dev.Tap(ctx, x, y); err != nil {
		return nil, uitree.Element{}, false, err
	}

	snap, err = m.verify(ctx, "open search", "search field", func(s *uitree.Snapshot, _ uitree.Detection) bool {
		_, ok := searchField(s)
		return ok
	})
	if err != nil {
		return nil, uitree.Element{}, false, err
	}
	field, _ := searchField(snap)
	x, y = field.Center()
	if err := m.dev.Tap(ctx, x, y); err != nil {
		return nil, uitree.Element{}, false, err
	}
	if err := m.dev.InputText(ctx, query); err != nil {
		return nil, uitree.Element{}, false, fmt.Errorf("search: %w", err)
	}
	if err := m.dev.Enter(ctx); err != nil {
		return nil, uitree.Element{}, false, fmt.Errorf("search: %w", err)
	}

	for attempt := 0; attempt < m.opts.VerifyAttempts; attempt++ {
		if snap, _, err = m.settle(ctx); err != nil {
			return nil, uitree.Element{}, false, err
		}
		if target, ok := m.findTarget(snap, item); ok {
			logger.Debug("navigator").Str("device", m.dev.ID()).Str("query", query).Msg("target found by search")
			return snap, target, true, nil
		}
	}
	return snap, uitree.Element{}, false, nil
}

func searchField(snap *uitree.Snapshot) (uitree.Element, bool) {
	for _, e := range snap.FindByClassName("EditText") {
		if e.Bounds.Area() > 0 {
			return e, true
		}
	}
	return uitree.Element{}, false
}

// scroll swipes the list up by half a screen.
func (m *Machine) scroll(ctx context.Context, snap *uitree.Snapshot) error {
	w, h := screenSize(snap)
	return m.dev.Swipe(ctx, w/2, h*3/4, w/2, h/4, 400*time.Millisecond)
}

func screenSize(snap *uitree.Snapshot) (int, int) {
	w, h := 0, 0
	for _, e := range snap.Elements {
		w = max(w, e.Bounds.Right)
		h = max(h, e.Bounds.Bottom)
	}
	if w == 0 || h == 0 {
		return 1080, 2400
	}
	return w, h
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
