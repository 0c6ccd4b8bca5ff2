package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"apollo/internal/backup"
	"apollo/internal/model"
	"apollo/internal/notify"
)

const testAddress = "127.0.0.1:27655"

var errDriverUndefined = errors.New("channel not defined in driver")

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type driverCall struct {
	op      string
	channel uint32
	arg     string
}

// fakeDriver records every call and fails on request.
type fakeDriver struct {
	mu         sync.Mutex
	calls      []driverCall
	defined    map[uint32]bool
	failDefine map[uint32]error
	failOn     map[string]error
	panicOn    string
	closed     bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		defined:    make(map[uint32]bool),
		failDefine: make(map[uint32]error),
		failOn:     make(map[string]error),
	}
}

func (f *fakeDriver) record(op string, ch uint32, arg string) error {
	f.calls = append(f.calls, driverCall{op: op, channel: ch, arg: arg})
	if f.panicOn == op {
		panic("driver exploded")
	}
	return f.failOn[op]
}

func (f *fakeDriver) DefineChannel(ch model.MediaChannel) (*model.VideoStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("define", ch.Channel, ""); err != nil {
		return nil, err
	}
	if err := f.failDefine[ch.Channel]; err != nil {
		return nil, err
	}
	if f.defined[ch.Channel] {
		return nil, fmt.Errorf("channel %d already defined in driver", ch.Channel)
	}
	f.defined[ch.Channel] = true
	if ch.VideoFrame == nil {
		return nil, nil
	}
	return &model.VideoStream{Channel: ch.Channel, WindowNumber: ch.VideoFrame.WindowNumber, Allocation: ch.VideoFrame.Frame()}, nil
}

func (f *fakeDriver) CueMedia(cue model.MediaCue) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("cue", cue.Channel, cue.URI); err != nil {
		return err
	}
	if !f.defined[cue.Channel] {
		return errDriverUndefined
	}
	return nil
}

func (f *fakeDriver) ChangeState(cs model.ChannelState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("state", cs.Channel, string(cs.State)); err != nil {
		return err
	}
	if !f.defined[cs.Channel] {
		return errDriverUndefined
	}
	return nil
}

func (f *fakeDriver) Seek(seek model.ChannelSeek) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("seek", seek.Channel, fmt.Sprint(seek.Position)); err != nil {
		return err
	}
	if !f.defined[seek.Channel] {
		return errDriverUndefined
	}
	return nil
}

func (f *fakeDriver) AllStop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("allstop", 0, "")
}

func (f *fakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// callsFor returns the recorded calls of one operation, in order.
func (f *fakeDriver) callsFor(op string) []driverCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []driverCall
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeDriver) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// recorder collects notifier events.
type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name()
	}
	return out
}

// testClock is a settable clock safe to read from the dispatch goroutine.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Unix(1700000000, 0)}
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	dispatcher *Dispatcher
	driver     *fakeDriver
	store      *backup.MemoryStore
	events     *recorder
	keys       backup.Keys
	cancel     context.CancelFunc
	runErr     chan error
}

type harnessConfig struct {
	store  *backup.MemoryStore
	driver *fakeDriver
	clock  *testClock
	settle time.Duration
}

// startDispatcher runs a dispatcher backed by a memory store until the test ends.
func startDispatcher(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()

	if cfg.store == nil {
		cfg.store = backup.NewMemoryStore()
	}
	if cfg.driver == nil {
		cfg.driver = newFakeDriver()
	}
	var opts []backup.Option
	if cfg.clock != nil {
		opts = append(opts, backup.WithClock(cfg.clock.now))
	}

	keys := backup.NewKeys(backup.DefaultPrefix, testAddress)
	syncer := backup.NewSynchronizer(keys, cfg.store, newTestLogger(), nil, opts...)
	events := &recorder{}
	d := NewDispatcher(cfg.driver, syncer, events, newTestLogger(), nil, WithSettle(cfg.settle))

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		dispatcher: d,
		driver:     cfg.driver,
		store:      cfg.store,
		events:     events,
		keys:       keys,
		cancel:     cancel,
		runErr:     make(chan error, 1),
	}
	go func() { h.runErr <- d.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-d.Done():
		case <-time.After(5 * time.Second):
			t.Error("dispatcher did not stop")
		}
	})
	return h
}

func (h *harness) submit(t *testing.T, req Request) Reply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := h.dispatcher.Submit(ctx, req)
	if err != nil {
		t.Fatalf("Submit(%s): %v", req.Command(), err)
	}
	return reply
}

func (h *harness) mustSucceed(t *testing.T, req Request) {
	t.Helper()
	if reply := h.submit(t, req); !reply.IsValid {
		t.Fatalf("%s rejected: %q", req.Command(), reply.Message)
	}
}

// reload reads the store the way the next start would.
func (h *harness) reload(t *testing.T) (backup.Snapshot, bool) {
	t.Helper()
	s := backup.NewSynchronizer(h.keys, h.store, newTestLogger(), nil)
	return s.Reload(context.Background())
}

func strPtr(s string) *string { return &s }
