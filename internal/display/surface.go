// Package display keeps a headless model of what the node shows on screen.
// It owns its own copy of window and frame geometry and changes it only in
// response to notify events, the same way an on-screen surface would.
package display

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"apollo/internal/model"
	"apollo/internal/notify"
)

// WindowLayout is one window and the channels rendering into it.
type WindowLayout struct {
	Window   model.WindowDefinition `json:"window"`
	Implicit bool                   `json:"implicit"` // created for a stream whose window was never defined
	Channels []ChannelLayout        `json:"channels"`
}

// ChannelLayout is the current frame of one channel.
type ChannelLayout struct {
	Channel    uint32      `json:"channel"`
	Allocation model.Frame `json:"allocation"`
}

// Layout is a point-in-time copy of the surface.
type Layout struct {
	Closed  bool           `json:"closed"`
	Windows []WindowLayout `json:"windows"`
}

type windowEntry struct {
	def      model.WindowDefinition
	implicit bool
}

type frameEntry struct {
	window     uint32
	allocation model.Frame
}

// Surface is an arena of windows and frames addressed by number.
type Surface struct {
	mu      sync.RWMutex
	windows map[uint32]windowEntry
	frames  map[uint32]frameEntry // keyed by channel
	closed  bool
	log     *slog.Logger
}

// NewSurface returns an empty surface.
func NewSurface(log *slog.Logger) *Surface {
	return &Surface{
		windows: make(map[uint32]windowEntry),
		frames:  make(map[uint32]frameEntry),
		log:     log,
	}
}

// Run applies events until a Closed event arrives or ctx is done.
func (s *Surface) Run(ctx context.Context, events <-chan notify.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			s.Apply(e)
			if _, ok := e.(notify.Closed); ok {
				return
			}
		}
	}
}

// Apply updates the surface for one event.
func (s *Surface) Apply(e notify.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := e.(type) {
	case notify.WindowDefined:
		if w, ok := s.windows[e.Window.WindowNumber]; ok && !w.implicit {
			s.log.Debug("window already on surface", slog.Int("window", int(e.Window.WindowNumber)))
			return
		}
		s.windows[e.Window.WindowNumber] = windowEntry{def: e.Window}
		s.closed = false

	case notify.VideoStreamAdded:
		st := e.Stream
		if _, ok := s.windows[st.WindowNumber]; !ok {
			s.windows[st.WindowNumber] = windowEntry{
				def:      model.WindowDefinition{WindowNumber: st.WindowNumber, Fullscreen: true, Dimensions: st.Dimensions},
				implicit: true,
			}
		}
		s.frames[st.Channel] = frameEntry{window: st.WindowNumber, allocation: st.Allocation}
		s.closed = false

	case notify.Resized:
		f, ok := s.frames[e.Allocation.Channel]
		if !ok {
			s.log.Debug("resize for channel without frame", slog.Int("channel", int(e.Allocation.Channel)))
			return
		}
		f.allocation = e.Allocation.VideoFrame
		s.frames[e.Allocation.Channel] = f

	case notify.Realigned:
		f, ok := s.frames[e.Realignment.Channel]
		if !ok {
			s.log.Debug("realign for channel without frame", slog.Int("channel", int(e.Realignment.Channel)))
			return
		}
		f.allocation = e.Realignment.Direction.Apply(f.allocation)
		s.frames[e.Realignment.Channel] = f

	case notify.Closed:
		s.windows = make(map[uint32]windowEntry)
		s.frames = make(map[uint32]frameEntry)
		s.closed = true
	}
}

// Layout returns a copy of the surface sorted by window then channel number.
func (s *Surface) Layout() Layout {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Layout{Closed: s.closed, Windows: make([]WindowLayout, 0, len(s.windows))}
	index := make(map[uint32]int, len(s.windows))

	numbers := make([]uint32, 0, len(s.windows))
	for n := range s.windows {
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	for _, n := range numbers {
		w := s.windows[n]
		index[n] = len(out.Windows)
		out.Windows = append(out.Windows, WindowLayout{Window: w.def, Implicit: w.implicit, Channels: []ChannelLayout{}})
	}

	channels := make([]uint32, 0, len(s.frames))
	for ch := range s.frames {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })
	for _, ch := range channels {
		f := s.frames[ch]
		i, ok := index[f.window]
		if !ok {
			continue
		}
		out.Windows[i].Channels = append(out.Windows[i].Channels, ChannelLayout{Channel: ch, Allocation: f.allocation})
	}
	return out
}
