package model

import (
	"math"
	"time"
)

// Dimensions is the minimum size of a window in pixels.
type Dimensions struct {
	Width  int32 `json:"width" yaml:"width"`
	Height int32 `json:"height" yaml:"height"`
}

// WindowDefinition describes a display window owned by the node.
type WindowDefinition struct {
	WindowNumber uint32      `json:"window_number" yaml:"window_number"`
	Fullscreen   bool        `json:"fullscreen" yaml:"fullscreen"`
	Dimensions   *Dimensions `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
}

// Frame is the geometry of a video frame in pixels, relative to its window.
type Frame struct {
	Top    int32 `json:"top" yaml:"top"`
	Left   int32 `json:"left" yaml:"left"`
	Height int32 `json:"height" yaml:"height"`
	Width  int32 `json:"width" yaml:"width"`
}

// VideoFrame is a Frame bound to a specific window.
type VideoFrame struct {
	WindowNumber uint32 `json:"window_number" yaml:"window_number"`
	Top          int32  `json:"top" yaml:"top"`
	Left         int32  `json:"left" yaml:"left"`
	Height       int32  `json:"height" yaml:"height"`
	Width        int32  `json:"width" yaml:"width"`
}

// Frame returns the geometry of f without its window reference.
func (f VideoFrame) Frame() Frame {
	return Frame{Top: f.Top, Left: f.Left, Height: f.Height, Width: f.Width}
}

// AudioKind selects the audio sink used by a channel.
type AudioKind string

const (
	AudioAlsa  AudioKind = "alsa"
	AudioPulse AudioKind = "pulse"
	AudioJack  AudioKind = "jack"
)

// AudioDevice is the audio sink for a channel. DeviceName is ignored for Jack.
type AudioDevice struct {
	Kind       AudioKind `json:"kind" yaml:"kind"`
	DeviceName string    `json:"device_name,omitempty" yaml:"device_name,omitempty"`
}

// MediaChannel is a playback lane bound to at most one video frame and one audio sink.
type MediaChannel struct {
	Channel     uint32       `json:"channel" yaml:"channel"`
	VideoFrame  *VideoFrame  `json:"video_frame,omitempty" yaml:"video_frame,omitempty"`
	AudioDevice *AudioDevice `json:"audio_device,omitempty" yaml:"audio_device,omitempty"`
	LoopMedia   *string      `json:"loop_media,omitempty" yaml:"loop_media,omitempty"`
}

// MediaCue asks a channel to play URI, replacing whatever it was playing.
// LoopMedia, when set, overrides the channel's own loop media until the next cue.
type MediaCue struct {
	Channel   uint32  `json:"channel" yaml:"channel"`
	URI       string  `json:"uri" yaml:"uri"`
	LoopMedia *string `json:"loop_media,omitempty" yaml:"loop_media,omitempty"`
}

// PlaybackState is the desired playback status of a channel.
type PlaybackState string

const (
	Playing PlaybackState = "Playing"
	Paused  PlaybackState = "Paused"
)

// Valid reports whether s is a known playback state.
func (s PlaybackState) Valid() bool {
	return s == Playing || s == Paused
}

// ChannelState changes the playback status of a channel.
type ChannelState struct {
	Channel uint32        `json:"channel" yaml:"channel"`
	State   PlaybackState `json:"state" yaml:"state"`
}

// ChannelSeek moves playback of a channel to Position milliseconds.
type ChannelSeek struct {
	Channel  uint32 `json:"channel" yaml:"channel"`
	Position uint64 `json:"position" yaml:"position"`
}

// maxMillis is the largest millisecond count a time.Duration can hold.
const maxMillis = uint64(math.MaxInt64 / int64(time.Millisecond))

// Millis converts a millisecond count to a Duration, saturating at
// math.MaxInt64 instead of wrapping.
func Millis(ms uint64) time.Duration {
	if ms > maxMillis {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ms) * time.Millisecond
}

// ToMillis converts d to whole milliseconds. Negative durations become 0.
func ToMillis(d time.Duration) uint64 {
	if d < 0 {
		return 0
	}
	return uint64(d.Milliseconds())
}

// ChannelAllocation replaces the geometry of a channel's video frame.
type ChannelAllocation struct {
	Channel    uint32 `json:"channel" yaml:"channel"`
	VideoFrame Frame  `json:"video_frame" yaml:"video_frame"`
}

// Direction is the direction of a one pixel realignment.
type Direction string

const (
	Up    Direction = "Up"
	Down  Direction = "Down"
	Left  Direction = "Left"
	Right Direction = "Right"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	switch d {
	case Up, Down, Left, Right:
		return true
	}
	return false
}

// ChannelRealignment nudges a channel's video frame one pixel in Direction.
type ChannelRealignment struct {
	Channel   uint32    `json:"channel" yaml:"channel"`
	Direction Direction `json:"direction" yaml:"direction"`
}

// Apply returns f moved one pixel in d. Size is unchanged.
func (d Direction) Apply(f Frame) Frame {
	switch d {
	case Up:
		f.Top--
	case Down:
		f.Top++
	case Left:
		f.Left--
	case Right:
		f.Left++
	}
	return f
}

// VideoStream is the handle a playback driver hands to the display surface
// when a channel renders into a window.
type VideoStream struct {
	Channel      uint32      `json:"channel"`
	WindowNumber uint32      `json:"window_number"`
	Allocation   Frame       `json:"allocation"`
	Dimensions   *Dimensions `json:"dimensions,omitempty"`
}

// MediaPlayback is the backed-up playback status of one channel.
type MediaPlayback struct {
	MediaCue MediaCue      `yaml:"media_cue"`
	SeekTo   time.Duration `yaml:"seek_to"`
	State    PlaybackState `yaml:"state"`
}

// Advance moves SeekTo forward by d. The result saturates at the largest
// representable duration instead of wrapping. Negative d is ignored.
func (p *MediaPlayback) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	if p.SeekTo > math.MaxInt64-d {
		p.SeekTo = math.MaxInt64
		return
	}
	p.SeekTo += d
}

// Playlist maps channel numbers to their current playback.
type Playlist map[uint32]MediaPlayback

// Advance applies MediaPlayback.Advance to every entry.
func (p Playlist) Advance(d time.Duration) {
	for ch, pb := range p {
		pb.Advance(d)
		p[ch] = pb
	}
}

// Clone returns a copy of p that shares no map with it.
func (p Playlist) Clone() Playlist {
	out := make(Playlist, len(p))
	for ch, pb := range p {
		out[ch] = pb
	}
	return out
}
