package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/onnwee/danmu-queue/config"
	"github.com/onnwee/danmu-queue/danmaku"
	"github.com/onnwee/danmu-queue/hub"
	"github.com/onnwee/danmu-queue/queue"
	"github.com/onnwee/danmu-queue/telemetry"
)

// State is the runtime lifecycle phase. Transitions are
// stopped -> starting -> running -> stopping -> stopped; a failed start
// goes straight back to stopped.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// SourceFactory builds a chat source for the selected backend. Tests swap
// it for a fake so the state machine can be driven without bilibili.
type SourceFactory func(cfg *config.Config, mode config.Mode) danmaku.Source

func defaultSourceFactory(cfg *config.Config, mode config.Mode) danmaku.Source {
	if mode == config.ModeOpenLive {
		o := cfg.Bilibili.OpenLive
		return danmaku.NewOpenLiveSource(o.AccessKey, o.AccessSecret, o.AppID, o.IdentityCode)
	}
	w := cfg.Bilibili.Web
	return danmaku.NewWebSource(w.Sessdata, w.RoomID)
}

// Controller owns the runtime state machine: it connects the chat source,
// routes matched messages into the queue, and publishes state snapshots to
// display clients. All exported methods are safe for concurrent use.
type Controller struct {
	cfg       *config.Config
	store     *queue.Store
	hub       *hub.Hub
	newSource SourceFactory

	mu          sync.Mutex
	state       State
	testEnabled bool
	source      danmaku.Source
	consumeDone chan struct{}
}

// New builds a stopped controller. The queue is reset to the configured
// capacity on every successful start, not here.
func New(cfg *config.Config, store *queue.Store, h *hub.Hub) *Controller {
	return &Controller{
		cfg:         cfg,
		store:       store,
		hub:         h,
		newSource:   defaultSourceFactory,
		state:       StateStopped,
		testEnabled: cfg.Runtime.TestEnabled,
	}
}

// SetSourceFactory replaces the backend source constructor. Only valid
// before Start; used by tests to drive the state machine without bilibili.
func (c *Controller) SetSourceFactory(f SourceFactory) {
	c.mu.Lock()
	c.newSource = f
	c.mu.Unlock()
}

// State reports the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TestEnabled reports whether test injection is currently allowed.
func (c *Controller) TestEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.testEnabled
}

// Start selects a backend, connects it, resets the queue and begins
// consuming chat. It fails with ErrInvalidState unless the runtime is
// stopped, with a config error when no backend is configured, and with
// ErrConnect when the upstream handshake fails. A failed start leaves the
// runtime stopped.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateStopped {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("start: %w (state %s)", ErrInvalidState, st)
	}
	mode, err := c.cfg.SelectMode()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = StateStarting
	src := c.newSource(c.cfg, mode)
	c.mu.Unlock()

	if err := src.Connect(ctx); err != nil {
		telemetry.IncSourceError()
		c.mu.Lock()
		c.state = StateStopped
		c.mu.Unlock()
		return fmt.Errorf("%w: %s backend: %v", ErrConnect, mode, err)
	}

	c.mu.Lock()
	c.store.Reset(c.cfg.Queue.MaxQueue)
	c.source = src
	done := make(chan struct{})
	c.consumeDone = done
	c.state = StateRunning
	c.mu.Unlock()

	telemetry.SetRuntimeRunning(true)
	telemetry.SetQueueDepth(0)
	go c.consume(src, done)
	slog.Info("runtime started", "backend", string(mode))
	c.publishState()
	return nil
}

// Stop tears down the chat source, waits for the consumer to drain, clears
// the queue and publishes a final stopped snapshot. Stopping an already
// stopped runtime is a no-op.
func (c *Controller) Stop() error {
	c.mu.Lock()
	switch c.state {
	case StateStopped:
		c.mu.Unlock()
		return nil
	case StateStarting, StateStopping:
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("stop: %w (state %s)", ErrInvalidState, st)
	}
	c.state = StateStopping
	src := c.source
	c.source = nil
	done := c.consumeDone
	c.consumeDone = nil
	c.mu.Unlock()

	if src != nil {
		_ = src.Close()
	}
	if done != nil {
		<-done
	}

	c.mu.Lock()
	c.store.Clear()
	c.state = StateStopped
	c.mu.Unlock()

	telemetry.SetRuntimeRunning(false)
	telemetry.SetQueueDepth(0)
	slog.Info("runtime stopped")
	c.publishState()
	return nil
}

// consume drains the source's event stream. When the stream closes while
// the runtime is still running the upstream dropped us, so the runtime
// auto-stops without retrying.
func (c *Controller) consume(src danmaku.Source, done chan struct{}) {
	defer close(done)
	for ev := range src.Events() {
		c.handleEvent(ev)
	}

	c.mu.Lock()
	if c.state != StateRunning {
		// Ordinary stop in progress; Stop owns the teardown.
		c.mu.Unlock()
		return
	}
	c.state = StateStopped
	c.source = nil
	c.consumeDone = nil
	c.store.Clear()
	c.mu.Unlock()

	_ = src.Close()
	telemetry.IncSourceError()
	telemetry.SetRuntimeRunning(false)
	telemetry.SetQueueDepth(0)
	slog.Warn("chat source disconnected, runtime stopped")
	c.publishState()
}

// handleEvent runs a single chat message through classification and the
// queue. Test-injected messages share this path with live chat.
func (c *Controller) handleEvent(ev danmaku.Event) (changed bool, reason string) {
	telemetry.IncDanmakuReceived()
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return false, "not_running"
	}
	keyword := c.cfg.Queue.Keyword
	mode := c.cfg.Queue.MatchMode
	c.mu.Unlock()

	d := Classify(ev, keyword, mode)
	if !d.Join {
		return false, d.Reason
	}
	switch res := c.store.TryJoin(d.UserKey, d.Uname); res {
	case queue.JoinAccepted:
		telemetry.IncJoinAccepted()
		telemetry.SetQueueDepth(c.store.Len())
		slog.Debug("queue join", "user", d.Uname, "origin", ev.Origin)
		c.publishState()
		return true, res.String()
	default:
		telemetry.IncJoinRejected(res.String())
		return false, res.String()
	}
}

// InjectDanmaku feeds a synthetic chat message through the live ingestion
// path. It requires a running runtime with test mode enabled.
func (c *Controller) InjectDanmaku(uname, msg string) (changed bool, reason string, err error) {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return false, "", fmt.Errorf("inject: %w (runtime not running)", ErrInvalidState)
	}
	if !c.testEnabled {
		c.mu.Unlock()
		return false, "", fmt.Errorf("inject: %w (test mode disabled)", ErrInvalidState)
	}
	c.mu.Unlock()

	changed, reason = c.handleEvent(danmaku.Event{
		Uname:   uname,
		Msg:     msg,
		UserKey: uname,
		Origin:  "test",
	})
	return changed, reason, nil
}

// SetTestEnabled toggles the test injection gate. Allowed in any state so
// operators can arm it before starting.
func (c *Controller) SetTestEnabled(enabled bool) {
	c.mu.Lock()
	c.testEnabled = enabled
	c.mu.Unlock()
	c.publishState()
}

func (c *Controller) requireRunning(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return fmt.Errorf("%s: %w (runtime not running)", op, ErrInvalidState)
	}
	return nil
}

// Remove deletes the queue entry at pos. Positions are 1-based within the
// waiting list shown to admins; 0 addresses the currently served entry.
func (c *Controller) Remove(pos int) error {
	if err := c.requireRunning("remove"); err != nil {
		return err
	}
	if err := c.store.Remove(pos); err != nil {
		return err
	}
	telemetry.SetQueueDepth(c.store.Len())
	c.publishState()
	return nil
}

// PinTop moves the entry at pos to the front of the waiting list without
// displacing the currently served entry.
func (c *Controller) PinTop(pos int) error {
	if err := c.requireRunning("pin_top"); err != nil {
		return err
	}
	if err := c.store.PinTop(pos); err != nil {
		return err
	}
	c.publishState()
	return nil
}

// ToggleMark flips the marked flag on the entry at pos.
func (c *Controller) ToggleMark(pos int) error {
	if err := c.requireRunning("toggle_mark"); err != nil {
		return err
	}
	snap := c.store.Snapshot()
	if pos < 0 || pos >= len(snap.Items) {
		return queue.ErrOutOfRange
	}
	if err := c.store.SetMark(pos, !snap.Items[pos].Marked); err != nil {
		return err
	}
	c.publishState()
	return nil
}

// RuntimePayload is the runtime half of a state snapshot.
type RuntimePayload struct {
	Status      State  `json:"status"`
	TestEnabled bool   `json:"test_enabled"`
	OverlayURL  string `json:"overlay_url"`
}

// UIPayload carries the configured page texts so pages render without a
// separate config endpoint.
type UIPayload struct {
	OverlayTitle    string `json:"overlay_title"`
	CurrentTitle    string `json:"current_title"`
	QueueTitle      string `json:"queue_title"`
	MarkedColor     string `json:"marked_color"`
	OverlayShowMark bool   `json:"overlay_show_mark"`
}

// StatePayload is the full snapshot pushed to display clients and returned
// by the state endpoint.
type StatePayload struct {
	Type    string         `json:"type"`
	Runtime RuntimePayload `json:"runtime"`
	Queue   queue.Snapshot `json:"queue"`
	UI      UIPayload      `json:"ui"`
}

// StatePayload builds a consistent snapshot of runtime and queue state.
func (c *Controller) StatePayload() StatePayload {
	c.mu.Lock()
	st := c.state
	te := c.testEnabled
	c.mu.Unlock()
	return StatePayload{
		Type: "state",
		Runtime: RuntimePayload{
			Status:      st,
			TestEnabled: te,
			OverlayURL:  c.cfg.OverlayURL(),
		},
		Queue: c.store.Snapshot(),
		UI: UIPayload{
			OverlayTitle:    c.cfg.UI.OverlayTitle,
			CurrentTitle:    c.cfg.UI.CurrentTitle,
			QueueTitle:      c.cfg.UI.QueueTitle,
			MarkedColor:     c.cfg.UI.MarkedColor,
			OverlayShowMark: c.cfg.UI.OverlayShowMark,
		},
	}
}

func (c *Controller) publishState() {
	b, err := json.Marshal(c.StatePayload())
	if err != nil {
		slog.Error("marshal state snapshot", "error", err)
		return
	}
	c.hub.Publish(b)
}
