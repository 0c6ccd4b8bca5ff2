package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"apollo/internal/backup"
	"apollo/internal/model"
)

// seedBackup writes a previous session into a fresh memory store.
func seedBackup(t *testing.T, windows []model.WindowDefinition, channels []model.MediaChannel, playlist model.Playlist) *backup.MemoryStore {
	t.Helper()
	store := backup.NewMemoryStore()
	s := backup.NewSynchronizer(backup.NewKeys(backup.DefaultPrefix, testAddress), store, newTestLogger(), nil)
	ctx := context.Background()
	s.PersistWindows(ctx, windows)
	s.PersistChannels(ctx, channels)
	s.PersistMedia(ctx, playlist)
	return store
}

// barrier returns once the dispatch loop is serving commands, which means
// recovery has finished.
func (h *harness) barrier(t *testing.T) {
	t.Helper()
	if reply := h.submit(t, AlignChannel{model.ChannelRealignment{Channel: 0, Direction: model.Up}}); reply.IsValid {
		t.Fatalf("barrier request unexpectedly succeeded")
	}
}

func channelsOf(calls []driverCall) []uint32 {
	out := make([]uint32, len(calls))
	for i, c := range calls {
		out[i] = c.channel
	}
	return out
}

func TestRecovery_replays_in_definition_order(t *testing.T) {
	windows := []model.WindowDefinition{{WindowNumber: 1}, {WindowNumber: 2}, {WindowNumber: 3}}
	channels := []model.MediaChannel{
		{Channel: 1, VideoFrame: &model.VideoFrame{WindowNumber: 1}},
		{Channel: 2, VideoFrame: &model.VideoFrame{WindowNumber: 2}},
		{Channel: 3, VideoFrame: &model.VideoFrame{WindowNumber: 3}},
	}
	playlist := model.Playlist{
		1: {MediaCue: model.MediaCue{Channel: 1, URI: "one.mp4"}, State: model.Playing},
		2: {MediaCue: model.MediaCue{Channel: 2, URI: "two.mp4"}, State: model.Playing},
		3: {MediaCue: model.MediaCue{Channel: 3, URI: "three.mp4"}, State: model.Playing},
	}
	h := startDispatcher(t, harnessConfig{store: seedBackup(t, windows, channels, playlist)})
	h.barrier(t)

	want := []uint32{1, 2, 3}
	if got := channelsOf(h.driver.callsFor("define")); !reflect.DeepEqual(got, want) {
		t.Errorf("define order: %v", got)
	}
	if got := channelsOf(h.driver.callsFor("cue")); !reflect.DeepEqual(got, want) {
		t.Errorf("cue order: %v", got)
	}

	var gotWindows []uint32
	for _, w := range h.dispatcher.Registry().Windows() {
		gotWindows = append(gotWindows, w.WindowNumber)
	}
	if !reflect.DeepEqual(gotWindows, want) {
		t.Errorf("window order: %v", gotWindows)
	}

	wantEvents := []string{"window", "window", "window", "video", "video", "video"}
	if names := h.events.names(); !reflect.DeepEqual(names, wantEvents) {
		t.Errorf("events: %v", names)
	}
}

func TestRecovery_order_is_not_numeric(t *testing.T) {
	windows := []model.WindowDefinition{{WindowNumber: 3}, {WindowNumber: 1}, {WindowNumber: 2}}
	channels := []model.MediaChannel{{Channel: 3}, {Channel: 1}, {Channel: 2}}
	playlist := model.Playlist{
		1: {MediaCue: model.MediaCue{Channel: 1, URI: "one.mp4"}, State: model.Playing},
		2: {MediaCue: model.MediaCue{Channel: 2, URI: "two.mp4"}, State: model.Playing},
		3: {MediaCue: model.MediaCue{Channel: 3, URI: "three.mp4"}, State: model.Playing},
	}
	h := startDispatcher(t, harnessConfig{store: seedBackup(t, windows, channels, playlist)})
	h.barrier(t)

	want := []uint32{3, 1, 2}
	if got := channelsOf(h.driver.callsFor("define")); !reflect.DeepEqual(got, want) {
		t.Errorf("define order: %v", got)
	}
	if got := channelsOf(h.driver.callsFor("seek")); !reflect.DeepEqual(got, want) {
		t.Errorf("seek order: %v", got)
	}
	var gotWindows []uint32
	for _, w := range h.dispatcher.Registry().Windows() {
		gotWindows = append(gotWindows, w.WindowNumber)
	}
	if !reflect.DeepEqual(gotWindows, want) {
		t.Errorf("window order: %v", gotWindows)
	}
}

func TestRecovery_seeks_past_settle_and_restores_state(t *testing.T) {
	settle := 20 * time.Millisecond
	channels := []model.MediaChannel{{Channel: 1}, {Channel: 2}}
	playlist := model.Playlist{
		1: {MediaCue: model.MediaCue{Channel: 1, URI: "a.mp4"}, SeekTo: 10 * time.Second, State: model.Paused},
		2: {MediaCue: model.MediaCue{Channel: 2, URI: "b.mp4", LoopMedia: strPtr("idle.mp4")}, SeekTo: 1500 * time.Millisecond, State: model.Playing},
	}
	h := startDispatcher(t, harnessConfig{store: seedBackup(t, nil, channels, playlist), settle: settle})
	h.barrier(t)

	cues := h.driver.callsFor("cue")
	if len(cues) != 2 || cues[0].arg != "a.mp4" || cues[1].arg != "b.mp4" {
		t.Errorf("cues: %+v", cues)
	}

	seeks := h.driver.callsFor("seek")
	want := []driverCall{
		{op: "seek", channel: 1, arg: "10020"},
		{op: "seek", channel: 2, arg: "1520"},
	}
	if !reflect.DeepEqual(seeks, want) {
		t.Errorf("seeks: got %+v want %+v", seeks, want)
	}

	states := h.driver.callsFor("state")
	if len(states) != 1 || states[0].channel != 1 || states[0].arg != string(model.Paused) {
		t.Errorf("state changes: %+v", states)
	}

	got := h.dispatcher.Registry().Playlist()
	if !reflect.DeepEqual(got, playlist) {
		t.Errorf("registry playlist: got %+v want %+v", got, playlist)
	}
}

func TestRecovery_isolates_failures(t *testing.T) {
	driver := newFakeDriver()
	driver.failDefine[2] = errors.New("sink unavailable")

	windows := []model.WindowDefinition{{WindowNumber: 1}, {WindowNumber: 1}}
	channels := []model.MediaChannel{{Channel: 1}, {Channel: 2}, {Channel: 3}}
	playlist := model.Playlist{
		1: {MediaCue: model.MediaCue{Channel: 1, URI: "a.mp4"}, State: model.Playing},
		2: {MediaCue: model.MediaCue{Channel: 2, URI: "b.mp4"}, State: model.Paused},
		3: {MediaCue: model.MediaCue{Channel: 3, URI: "c.mp4"}, State: model.Paused},
	}
	h := startDispatcher(t, harnessConfig{store: seedBackup(t, windows, channels, playlist), driver: driver})
	h.barrier(t)

	reg := h.dispatcher.Registry()
	if n := len(reg.Windows()); n != 1 {
		t.Errorf("duplicate window must be skipped, got %d windows", n)
	}
	var kept []uint32
	for _, ch := range reg.Channels() {
		kept = append(kept, ch.Channel)
	}
	if !reflect.DeepEqual(kept, []uint32{1, 2, 3}) {
		t.Errorf("channel list: %v", kept)
	}
	if !reg.Unbound(2) || reg.Unbound(1) || reg.ChannelCount() != 2 {
		t.Errorf("channel 2 should be the only unbound channel, count %d", reg.ChannelCount())
	}

	// channel 2 failed to define but its entry is still attempted, after the
	// defined ones
	if got := channelsOf(driver.callsFor("cue")); !reflect.DeepEqual(got, []uint32{1, 3, 2}) {
		t.Errorf("cue order: %v", got)
	}
	if got := channelsOf(driver.callsFor("state")); !reflect.DeepEqual(got, []uint32{3, 2}) {
		t.Errorf("state order: %v", got)
	}

	h.mustSucceed(t, ChangeState{model.ChannelState{Channel: 3, State: model.Playing}})

	// a later channel change rewrites the backup without losing channel 2
	h.mustSucceed(t, DefineChannel{model.MediaChannel{Channel: 4}})
	snap, ok := h.reload(t)
	if !ok {
		t.Fatal("expected a backup")
	}
	var persisted []uint32
	for _, ch := range snap.Channels {
		persisted = append(persisted, ch.Channel)
	}
	if !reflect.DeepEqual(persisted, []uint32{1, 2, 3, 4}) {
		t.Errorf("persisted channels: %v", persisted)
	}
	if _, ok := snap.Playlist[2]; !ok {
		t.Error("playback entry of channel 2 was lost")
	}
	if reply := h.submit(t, AlignChannel{model.ChannelRealignment{Channel: 2, Direction: model.Up}}); reply.IsValid {
		t.Error("geometry change on an unbound channel should fail")
	}
}

func TestRecovery_seek_positions_stay_in_range(t *testing.T) {
	channels := []model.MediaChannel{{Channel: 1}, {Channel: 2}}
	playlist := model.Playlist{
		1: {MediaCue: model.MediaCue{Channel: 1, URI: "a.mp4"}, SeekTo: -time.Second, State: model.Playing},
		2: {MediaCue: model.MediaCue{Channel: 2, URI: "b.mp4"}, SeekTo: math.MaxInt64, State: model.Playing},
	}
	h := startDispatcher(t, harnessConfig{store: seedBackup(t, nil, channels, playlist), settle: 20 * time.Millisecond})
	h.barrier(t)

	want := []driverCall{
		{op: "seek", channel: 1, arg: "0"},
		{op: "seek", channel: 2, arg: fmt.Sprint(uint64(math.MaxInt64 / int64(time.Millisecond)))},
	}
	if seeks := h.driver.callsFor("seek"); !reflect.DeepEqual(seeks, want) {
		t.Errorf("seeks: got %+v want %+v", seeks, want)
	}
}

func TestRecovery_without_backup(t *testing.T) {
	h := startDispatcher(t, harnessConfig{})
	h.barrier(t)

	if len(h.driver.callsFor("define")) != 0 || len(h.events.names()) != 0 {
		t.Error("nothing should be replayed")
	}
}

func TestRecovery_then_close_removes_backup(t *testing.T) {
	store := seedBackup(t,
		[]model.WindowDefinition{{WindowNumber: 1}},
		[]model.MediaChannel{{Channel: 1}},
		model.Playlist{1: {MediaCue: model.MediaCue{Channel: 1, URI: "a.mp4"}, State: model.Playing}},
	)
	h := startDispatcher(t, harnessConfig{store: store})
	h.mustSucceed(t, Close{})

	select {
	case <-h.dispatcher.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	if keys := store.Keys(); len(keys) != 0 {
		t.Errorf("keys left behind: %v", keys)
	}
}
