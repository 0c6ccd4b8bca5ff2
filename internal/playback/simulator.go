// Package playback holds the media drivers the dispatcher plays through.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"apollo/internal/model"
)

var (
	ErrChannelDefined   = errors.New("channel already defined")
	ErrChannelUndefined = errors.New("channel not defined")
	ErrNoMedia          = errors.New("no media playing")
	ErrInvalidState     = errors.New("invalid playback state")
)

// EndMargin is how far before the end of the media a seek is clamped to.
const EndMargin = 300 * time.Millisecond

// DurationFunc reports the length of the media at uri, if known.
type DurationFunc func(uri string) (time.Duration, bool)

// ChannelStatus is a copy of one simulated channel.
type ChannelStatus struct {
	Channel  uint32
	URI      string
	Loop     *string
	State    model.PlaybackState
	Position time.Duration
	Stopped  bool
	Ended    bool
}

type simChannel struct {
	def      model.MediaChannel
	uri      string
	loop     *string
	state    model.PlaybackState
	position time.Duration // at mark
	mark     time.Time
	stopped  bool
	ended    bool
}

// Simulator is an in-process driver. It keeps per-channel media, state and
// a position clock without touching any audio or video device.
type Simulator struct {
	mu       sync.Mutex
	channels map[uint32]*simChannel
	duration DurationFunc
	now      func() time.Time
	log      *slog.Logger
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithDuration sets the media length lookup used for seek clamping and looping.
func WithDuration(fn DurationFunc) SimulatorOption {
	return func(s *Simulator) { s.duration = fn }
}

// WithSimulatorClock overrides time.Now.
func WithSimulatorClock(now func() time.Time) SimulatorOption {
	return func(s *Simulator) { s.now = now }
}

// NewSimulator returns a Simulator with no channels.
func NewSimulator(log *slog.Logger, opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		channels: make(map[uint32]*simChannel),
		now:      time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefineChannel registers a channel. A stream is returned when the channel
// has a video frame.
func (s *Simulator) DefineChannel(ch model.MediaChannel) (*model.VideoStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.channels[ch.Channel]; ok {
		return nil, fmt.Errorf("define channel %d: %w", ch.Channel, ErrChannelDefined)
	}
	s.channels[ch.Channel] = &simChannel{def: ch, loop: ch.LoopMedia, state: model.Paused}
	s.log.Debug("channel defined", slog.Int("channel", int(ch.Channel)))

	if ch.VideoFrame == nil {
		return nil, nil
	}
	return &model.VideoStream{
		Channel:      ch.Channel,
		WindowNumber: ch.VideoFrame.WindowNumber,
		Allocation:   ch.VideoFrame.Frame(),
	}, nil
}

// CueMedia starts cue.URI from the beginning.
func (s *Simulator) CueMedia(cue model.MediaCue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[cue.Channel]
	if !ok {
		return fmt.Errorf("cue channel %d: %w", cue.Channel, ErrChannelUndefined)
	}
	s.cue(c, cue.URI, cue.LoopMedia)
	return nil
}

func (s *Simulator) cue(c *simChannel, uri string, loop *string) {
	c.uri = uri
	c.loop = c.def.LoopMedia
	if loop != nil {
		c.loop = loop
	}
	c.position = 0
	c.mark = s.now()
	c.state = model.Playing
	c.stopped = false
	c.ended = false
}

// ChangeState plays or pauses a channel.
func (s *Simulator) ChangeState(cs model.ChannelState) error {
	if !cs.State.Valid() {
		return fmt.Errorf("change state %q: %w", cs.State, ErrInvalidState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[cs.Channel]
	if !ok {
		return fmt.Errorf("change state channel %d: %w", cs.Channel, ErrChannelUndefined)
	}
	now := s.now()
	s.settle(c, now)
	c.state = cs.State
	c.mark = now
	c.stopped = false
	return nil
}

// Seek moves a channel to the given position, clamped to EndMargin before
// the end when the media length is known.
func (s *Simulator) Seek(seek model.ChannelSeek) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[seek.Channel]
	if !ok {
		return fmt.Errorf("seek channel %d: %w", seek.Channel, ErrChannelUndefined)
	}
	if c.uri == "" {
		return fmt.Errorf("seek channel %d: %w", seek.Channel, ErrNoMedia)
	}

	target := model.Millis(seek.Position)
	if s.duration != nil {
		d, known := s.duration(c.uri)
		if !known {
			return fmt.Errorf("seek channel %d: %w", seek.Channel, ErrNoMedia)
		}
		target = ClampSeek(target, d)
	}
	c.position = target
	c.mark = s.now()
	c.ended = false
	return nil
}

// AllStop stops every channel. Media stays cued.
func (s *Simulator) AllStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, c := range s.channels {
		s.settle(c, now)
		c.state = model.Paused
		c.stopped = true
		c.mark = now
	}
	return nil
}

// Close stops and forgets every channel.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = make(map[uint32]*simChannel)
	return nil
}

// Status returns a copy of a channel, with its clock brought up to date.
func (s *Simulator) Status(channel uint32) (ChannelStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[channel]
	if !ok {
		return ChannelStatus{}, false
	}
	now := s.now()
	s.settle(c, now)
	c.mark = now
	return ChannelStatus{
		Channel:  channel,
		URI:      c.uri,
		Loop:     c.loop,
		State:    c.state,
		Position: c.position,
		Stopped:  c.stopped,
		Ended:    c.ended,
	}, true
}

// settle folds the time since mark into position and follows loop media
// past the end of the current uri. Callers reset mark afterwards.
func (s *Simulator) settle(c *simChannel, now time.Time) {
	if c.state == model.Playing && !c.stopped && !c.ended && c.uri != "" {
		c.position += now.Sub(c.mark)
	}
	if s.duration == nil || c.uri == "" {
		return
	}
	for {
		d, known := s.duration(c.uri)
		if !known || d <= 0 || c.position < d {
			return
		}
		if c.loop == nil {
			c.position = d
			c.ended = true
			return
		}
		c.position -= d
		c.uri = *c.loop
		s.log.Debug("looping media", slog.Int("channel", int(c.def.Channel)), slog.String("uri", c.uri))
	}
}

// ClampSeek limits target to EndMargin before d, and to zero for media
// shorter than the margin.
func ClampSeek(target, d time.Duration) time.Duration {
	limit := d - EndMargin
	if limit < 0 {
		limit = 0
	}
	if target > limit {
		return limit
	}
	return target
}
