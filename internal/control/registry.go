package control

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"apollo/internal/model"
)

var (
	// ErrWindowDefined is returned when a window number is defined twice.
	ErrWindowDefined = errors.New("window already defined")

	// ErrChannelDefined is returned when a channel number is defined twice.
	ErrChannelDefined = errors.New("channel already defined")

	// ErrUnknownChannel is returned for a channel that was never defined or
	// has no playback entry.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrUnknownWindow is returned when a channel's frame points at a window
	// that was never defined.
	ErrUnknownWindow = errors.New("unknown window")

	// ErrNoFrame is returned when a geometry change targets a channel without
	// a video frame.
	ErrNoFrame = errors.New("channel has no video frame")
)

// Registry holds the committed windows, channels and playlist of the node.
// Lists keep definition order. The dispatcher is the only writer; the mutex
// lets other goroutines take snapshots.
//
// A channel restored from a backup that the driver refused stays in the
// channel list as unbound: it is still persisted, but geometry changes
// ignore it and a later DefineChannel may bind it again.
type Registry struct {
	mu       sync.RWMutex
	windows  []model.WindowDefinition
	channels []model.MediaChannel
	unbound  map[uint32]bool
	playlist model.Playlist
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{playlist: make(model.Playlist), unbound: make(map[uint32]bool)}
}

// DefineWindow appends w, or returns ErrWindowDefined.
func (r *Registry) DefineWindow(w model.WindowDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.windowIndexLocked(w.WindowNumber) >= 0 {
		return fmt.Errorf("window %d: %w", w.WindowNumber, ErrWindowDefined)
	}
	r.windows = append(r.windows, w)
	return nil
}

// HasWindow reports whether window n is defined.
func (r *Registry) HasWindow(n uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.windowIndexLocked(n) >= 0
}

// CheckChannel validates ch before it is handed to a driver.
func (r *Registry) CheckChannel(ch model.MediaChannel) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.channelIndexLocked(ch.Channel) >= 0 && !r.unbound[ch.Channel] {
		return fmt.Errorf("channel %d: %w", ch.Channel, ErrChannelDefined)
	}
	if ch.VideoFrame != nil && r.windowIndexLocked(ch.VideoFrame.WindowNumber) < 0 {
		return fmt.Errorf("channel %d frame on window %d: %w", ch.Channel, ch.VideoFrame.WindowNumber, ErrUnknownWindow)
	}
	return nil
}

// DefineChannel appends ch, or returns ErrChannelDefined. An unbound channel
// of the same number is replaced in place.
func (r *Registry) DefineChannel(ch model.MediaChannel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.channelIndexLocked(ch.Channel)
	switch {
	case i < 0:
		r.channels = append(r.channels, copyChannel(ch))
	case r.unbound[ch.Channel]:
		r.channels[i] = copyChannel(ch)
		delete(r.unbound, ch.Channel)
	default:
		return fmt.Errorf("channel %d: %w", ch.Channel, ErrChannelDefined)
	}
	return nil
}

// KeepUnbound appends ch as unbound. It is a no-op if the number is taken.
func (r *Registry) KeepUnbound(ch model.MediaChannel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channelIndexLocked(ch.Channel) >= 0 {
		return
	}
	r.channels = append(r.channels, copyChannel(ch))
	r.unbound[ch.Channel] = true
}

// Unbound reports whether channel n is kept without a driver channel.
func (r *Registry) Unbound(n uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.unbound[n]
}

// Realign moves the channel's frame one pixel and returns the new geometry.
func (r *Registry) Realign(ra model.ChannelRealignment) (model.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	vf, err := r.frameLocked(ra.Channel)
	if err != nil {
		return model.Frame{}, err
	}
	f := ra.Direction.Apply(vf.Frame())
	vf.Top, vf.Left = f.Top, f.Left
	return f, nil
}

// Resize replaces the geometry of the channel's frame. The window is kept.
func (r *Registry) Resize(a model.ChannelAllocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	vf, err := r.frameLocked(a.Channel)
	if err != nil {
		return err
	}
	vf.Top = a.VideoFrame.Top
	vf.Left = a.VideoFrame.Left
	vf.Height = a.VideoFrame.Height
	vf.Width = a.VideoFrame.Width
	return nil
}

// Cue replaces the channel's playback entry with a fresh, playing one.
func (r *Registry) Cue(cue model.MediaCue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playlist[cue.Channel] = model.MediaPlayback{MediaCue: cue, State: model.Playing}
}

// SetState updates only the state of an existing playback entry.
func (r *Registry) SetState(cs model.ChannelState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pb, ok := r.playlist[cs.Channel]
	if !ok {
		return fmt.Errorf("channel %d: %w", cs.Channel, ErrUnknownChannel)
	}
	pb.State = cs.State
	r.playlist[cs.Channel] = pb
	return nil
}

// SetPosition updates only the position of an existing playback entry.
func (r *Registry) SetPosition(seek model.ChannelSeek) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pb, ok := r.playlist[seek.Channel]
	if !ok {
		return fmt.Errorf("channel %d: %w", seek.Channel, ErrUnknownChannel)
	}
	pb.SeekTo = model.Millis(seek.Position)
	r.playlist[seek.Channel] = pb
	return nil
}

// SetPlaylist replaces the whole playlist.
func (r *Registry) SetPlaylist(p model.Playlist) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playlist = p.Clone()
}

// Advance moves every playback entry forward by d.
func (r *Registry) Advance(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playlist.Advance(d)
}

// Windows returns a copy of the window list.
func (r *Registry) Windows() []model.WindowDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.WindowDefinition, len(r.windows))
	for i, w := range r.windows {
		if w.Dimensions != nil {
			d := *w.Dimensions
			w.Dimensions = &d
		}
		out[i] = w
	}
	return out
}

// Channels returns a copy of the channel list, unbound channels included.
func (r *Registry) Channels() []model.MediaChannel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.MediaChannel, len(r.channels))
	for i, ch := range r.channels {
		out[i] = copyChannel(ch)
	}
	return out
}

// Playlist returns a copy of the playlist.
func (r *Registry) Playlist() model.Playlist {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.playlist.Clone()
}

// ChannelCount returns the number of channels bound to the driver.
func (r *Registry) ChannelCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels) - len(r.unbound)
}

// PlaybackOrder returns the bound channels of p in definition order,
// followed by the remaining channels of p in ascending order.
func (r *Registry) PlaybackOrder(p model.Playlist) []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]uint32, 0, len(p))
	seen := make(map[uint32]bool, len(p))
	for _, ch := range r.channels {
		if r.unbound[ch.Channel] {
			continue
		}
		if _, ok := p[ch.Channel]; ok {
			out = append(out, ch.Channel)
			seen[ch.Channel] = true
		}
	}
	rest := make([]uint32, 0, len(p)-len(out))
	for ch := range p {
		if !seen[ch] {
			rest = append(rest, ch)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(out, rest...)
}

func (r *Registry) windowIndexLocked(n uint32) int {
	for i, w := range r.windows {
		if w.WindowNumber == n {
			return i
		}
	}
	return -1
}

func (r *Registry) channelIndexLocked(n uint32) int {
	for i, ch := range r.channels {
		if ch.Channel == n {
			return i
		}
	}
	return -1
}

// frameLocked returns the stored frame of a channel for in-place update.
// Caller must hold r.mu in write mode.
func (r *Registry) frameLocked(n uint32) (*model.VideoFrame, error) {
	i := r.channelIndexLocked(n)
	if i < 0 || r.unbound[n] {
		return nil, fmt.Errorf("channel %d: %w", n, ErrUnknownChannel)
	}
	if r.channels[i].VideoFrame == nil {
		return nil, fmt.Errorf("channel %d: %w", n, ErrNoFrame)
	}
	return r.channels[i].VideoFrame, nil
}

func copyChannel(ch model.MediaChannel) model.MediaChannel {
	if ch.VideoFrame != nil {
		vf := *ch.VideoFrame
		ch.VideoFrame = &vf
	}
	if ch.AudioDevice != nil {
		ad := *ch.AudioDevice
		ch.AudioDevice = &ad
	}
	if ch.LoopMedia != nil {
		lm := *ch.LoopMedia
		ch.LoopMedia = &lm
	}
	return ch
}
