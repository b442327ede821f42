package control

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/danmu-queue/config"
	"github.com/onnwee/danmu-queue/danmaku"
	"github.com/onnwee/danmu-queue/hub"
	"github.com/onnwee/danmu-queue/queue"
)

type fakeSource struct {
	connectErr error
	events     chan danmaku.Event
	closeOnce  sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan danmaku.Event, 16)}
}

func (f *fakeSource) Connect(ctx context.Context) error { return f.connectErr }

func (f *fakeSource) Events() <-chan danmaku.Event { return f.events }

func (f *fakeSource) Close() error {
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 10000},
		Queue:  config.QueueConfig{Keyword: "排队", MaxQueue: 3, MatchMode: config.MatchContains},
		Bilibili: config.BilibiliConfig{
			Web: config.WebConfig{Sessdata: "sess", RoomID: 42},
		},
	}
}

func newTestController(cfg *config.Config) (*Controller, *fakeSource, *hub.Hub) {
	src := newFakeSource()
	h := hub.New()
	store := queue.NewStore(cfg.Queue.MaxQueue)
	c := New(cfg, store, h)
	c.newSource = func(*config.Config, config.Mode) danmaku.Source { return src }
	return c, src, h
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached within deadline")
}

func TestStartStopLifecycle(t *testing.T) {
	cfg := testConfig()
	c, src, _ := newTestController(cfg)

	if got := c.State(); got != StateStopped {
		t.Fatalf("initial state = %s, want stopped", got)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if got := c.State(); got != StateRunning {
		t.Fatalf("state after start = %s, want running", got)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second Start() error = %v, want ErrInvalidState", err)
	}

	src.events <- danmaku.Event{Uname: "alice", Msg: "排队", UserKey: "uid:1", Origin: "web"}
	waitFor(t, func() bool { return c.StatePayload().Queue.Total == 1 })

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if got := c.State(); got != StateStopped {
		t.Fatalf("state after stop = %s, want stopped", got)
	}
	if total := c.StatePayload().Queue.Total; total != 0 {
		t.Fatalf("queue not cleared on stop, total = %d", total)
	}
	// Stopping again is a no-op.
	if err := c.Stop(); err != nil {
		t.Fatalf("second Stop() error: %v", err)
	}
}

func TestStartConnectFailure(t *testing.T) {
	c, src, _ := newTestController(testConfig())
	src.connectErr = errors.New("handshake refused")

	err := c.Start(context.Background())
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("Start() error = %v, want ErrConnect", err)
	}
	if got := c.State(); got != StateStopped {
		t.Fatalf("state after failed start = %s, want stopped", got)
	}
	// A failed start does not poison later attempts.
	src.connectErr = nil
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("retry Start() error: %v", err)
	}
	defer c.Stop()
}

func TestStartWithoutBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Bilibili.Web = config.WebConfig{}
	c, _, _ := newTestController(cfg)

	err := c.Start(context.Background())
	if !errors.Is(err, config.ErrNoBackend) {
		t.Fatalf("Start() error = %v, want ErrNoBackend", err)
	}
	if got := c.State(); got != StateStopped {
		t.Fatalf("state = %s, want stopped", got)
	}
}

func TestAutoStopOnDisconnect(t *testing.T) {
	c, src, _ := newTestController(testConfig())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	src.events <- danmaku.Event{Uname: "alice", Msg: "排队", UserKey: "uid:1"}
	waitFor(t, func() bool { return c.StatePayload().Queue.Total == 1 })

	// Upstream drops the stream.
	src.Close()
	waitFor(t, func() bool { return c.State() == StateStopped })
	if total := c.StatePayload().Queue.Total; total != 0 {
		t.Fatalf("queue not cleared on disconnect, total = %d", total)
	}
	// No retry: the runtime stays stopped and a fresh start works.
	c.newSource = func(*config.Config, config.Mode) danmaku.Source { return newFakeSource() }
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("restart after disconnect error: %v", err)
	}
	defer c.Stop()
}

func TestIngestionFiltersAndCaps(t *testing.T) {
	cfg := testConfig()
	cfg.Queue.MaxQueue = 2
	c, src, _ := newTestController(cfg)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer c.Stop()

	src.events <- danmaku.Event{Uname: "alice", Msg: "排队", UserKey: "uid:1"}
	src.events <- danmaku.Event{Uname: "bob", Msg: "hello", UserKey: "uid:2"}   // no keyword
	src.events <- danmaku.Event{Uname: "alice", Msg: "排队", UserKey: "uid:1"} // duplicate
	src.events <- danmaku.Event{Uname: "carol", Msg: "排队", UserKey: "uid:3"}
	src.events <- danmaku.Event{Uname: "dave", Msg: "排队", UserKey: "uid:4"} // over cap

	waitFor(t, func() bool { return c.StatePayload().Queue.Total == 2 })
	// Give the over-cap event time to be (not) applied.
	time.Sleep(50 * time.Millisecond)
	snap := c.StatePayload().Queue
	if snap.Total != 2 || !snap.IsFull {
		t.Fatalf("queue = %+v, want 2 entries and full", snap)
	}
	if snap.Items[0].Uname != "alice" || snap.Items[1].Uname != "carol" {
		t.Fatalf("unexpected queue order: %+v", snap.Items)
	}
}

func TestInjectDanmakuGating(t *testing.T) {
	cfg := testConfig()
	cfg.Runtime.TestEnabled = false
	c, _, _ := newTestController(cfg)

	if _, _, err := c.InjectDanmaku("tester", "排队"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("inject while stopped: err = %v, want ErrInvalidState", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer c.Stop()

	if _, _, err := c.InjectDanmaku("tester", "排队"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("inject with test mode off: err = %v, want ErrInvalidState", err)
	}

	c.SetTestEnabled(true)
	changed, reason, err := c.InjectDanmaku("tester", "排队")
	if err != nil || !changed || reason != "ok" {
		t.Fatalf("inject = (%v, %q, %v), want accepted", changed, reason, err)
	}
	changed, reason, err = c.InjectDanmaku("tester", "排队")
	if err != nil || changed || reason != "duplicate" {
		t.Fatalf("duplicate inject = (%v, %q, %v), want rejected duplicate", changed, reason, err)
	}
	// Non-matching messages flow through the same classifier.
	changed, reason, err = c.InjectDanmaku("tester2", "hello")
	if err != nil || changed || reason != "no_match" {
		t.Fatalf("non-matching inject = (%v, %q, %v)", changed, reason, err)
	}
}

func TestAdminOpsRequireRunning(t *testing.T) {
	c, src, _ := newTestController(testConfig())

	if err := c.Remove(0); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Remove while stopped: err = %v, want ErrInvalidState", err)
	}
	if err := c.PinTop(1); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("PinTop while stopped: err = %v, want ErrInvalidState", err)
	}
	if err := c.ToggleMark(0); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("ToggleMark while stopped: err = %v, want ErrInvalidState", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer c.Stop()
	for _, ev := range []danmaku.Event{
		{Uname: "alice", Msg: "排队", UserKey: "uid:1"},
		{Uname: "bob", Msg: "排队", UserKey: "uid:2"},
		{Uname: "carol", Msg: "排队", UserKey: "uid:3"},
	} {
		src.events <- ev
	}
	waitFor(t, func() bool { return c.StatePayload().Queue.Total == 3 })

	if err := c.ToggleMark(1); err != nil {
		t.Fatalf("ToggleMark error: %v", err)
	}
	if snap := c.StatePayload().Queue; !snap.Items[1].Marked {
		t.Fatalf("entry not marked: %+v", snap.Items)
	}
	if err := c.PinTop(2); err != nil {
		t.Fatalf("PinTop error: %v", err)
	}
	snap := c.StatePayload().Queue
	if snap.Items[0].Uname != "alice" || snap.Items[1].Uname != "carol" || snap.Items[2].Uname != "bob" {
		t.Fatalf("unexpected order after pin: %+v", snap.Items)
	}
	if err := c.Remove(0); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if snap := c.StatePayload().Queue; snap.Total != 2 || snap.Items[0].Uname != "carol" {
		t.Fatalf("unexpected queue after remove: %+v", snap.Items)
	}
	if err := c.Remove(10); !errors.Is(err, queue.ErrOutOfRange) {
		t.Fatalf("Remove out of range: err = %v, want ErrOutOfRange", err)
	}
}

func TestStatePayloadBroadcast(t *testing.T) {
	c, src, h := newTestController(testConfig())
	sub := h.Subscribe()
	defer h.Unsubscribe(sub)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer c.Stop()
	src.events <- danmaku.Event{Uname: "alice", Msg: "排队", UserKey: "uid:1"}

	var last StatePayload
	deadline := time.After(2 * time.Second)
	for last.Queue.Total != 1 {
		select {
		case b := <-sub.C():
			if err := json.Unmarshal(b, &last); err != nil {
				t.Fatalf("bad payload %q: %v", b, err)
			}
			if last.Type != "state" {
				t.Fatalf("payload type = %q, want state", last.Type)
			}
		case <-deadline:
			t.Fatal("no state payload with the joined entry")
		}
	}
	if last.Runtime.Status != StateRunning {
		t.Fatalf("runtime status = %q, want running", last.Runtime.Status)
	}
	if last.Queue.Items[0].UserKey != "uid:1" {
		t.Fatalf("unexpected queue items: %+v", last.Queue.Items)
	}
}
