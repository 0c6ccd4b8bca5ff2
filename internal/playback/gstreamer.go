//go:build gstreamer

package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"apollo/internal/model"

	"github.com/tinyzimmer/go-gst/gst"
)

const busPollInterval = 50 * time.Millisecond

// Available reports whether this binary was built with GStreamer support.
const Available = true

type gstChannel struct {
	playbin *gst.Element
	def     model.MediaChannel
	cancel  context.CancelFunc

	loopMu sync.Mutex
	loop   *string
}

func (c *gstChannel) setLoop(loop *string) {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	c.loop = loop
}

func (c *gstChannel) loopTarget() *string {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	return c.loop
}

// GStreamer plays media through one playbin per channel.
type GStreamer struct {
	mu       sync.Mutex
	channels map[uint32]*gstChannel
	wg       sync.WaitGroup
	log      *slog.Logger
}

// NewGStreamer initialises GStreamer and returns a driver with no channels.
func NewGStreamer(log *slog.Logger) (*GStreamer, error) {
	gst.Init(nil)
	return &GStreamer{channels: make(map[uint32]*gstChannel), log: log}, nil
}

// DefineChannel creates the playbin, its audio sink and the loop watcher.
func (g *GStreamer) DefineChannel(ch model.MediaChannel) (*model.VideoStream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.channels[ch.Channel]; ok {
		return nil, fmt.Errorf("define channel %d: %w", ch.Channel, ErrChannelDefined)
	}

	playbin, err := gst.NewElement("playbin")
	if err != nil {
		return nil, fmt.Errorf("create playbin: %w", err)
	}

	if ch.AudioDevice != nil {
		sink, err := audioSink(*ch.AudioDevice)
		if err != nil {
			return nil, err
		}
		if err := playbin.SetProperty("audio-sink", sink); err != nil {
			return nil, fmt.Errorf("attach audio sink: %w", err)
		}
	}
	if ch.VideoFrame == nil {
		fakesink, err := gst.NewElement("fakesink")
		if err != nil {
			return nil, fmt.Errorf("create video sink: %w", err)
		}
		if err := playbin.SetProperty("video-sink", fakesink); err != nil {
			return nil, fmt.Errorf("attach video sink: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &gstChannel{playbin: playbin, def: ch, cancel: cancel, loop: ch.LoopMedia}
	g.channels[ch.Channel] = c

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.watch(ctx, ch.Channel, playbin.GetBus())
	}()

	if ch.VideoFrame == nil {
		return nil, nil
	}
	return &model.VideoStream{
		Channel:      ch.Channel,
		WindowNumber: ch.VideoFrame.WindowNumber,
		Allocation:   ch.VideoFrame.Frame(),
	}, nil
}

func audioSink(dev model.AudioDevice) (*gst.Element, error) {
	var (
		sink *gst.Element
		err  error
	)
	switch dev.Kind {
	case model.AudioAlsa:
		sink, err = gst.NewElement("alsasink")
	case model.AudioPulse:
		sink, err = gst.NewElement("pulsesink")
	case model.AudioJack:
		sink, err = gst.NewElement("jackaudiosink")
	default:
		return nil, fmt.Errorf("unknown audio device kind %q", dev.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s sink: %w", dev.Kind, err)
	}
	if dev.Kind != model.AudioJack && dev.DeviceName != "" {
		if err := sink.SetProperty("device", dev.DeviceName); err != nil {
			return nil, fmt.Errorf("set audio device: %w", err)
		}
	}
	return sink, nil
}

// watch restarts loop media when the channel reaches end of stream. It holds
// only the channel number and looks the playbin up on every message.
func (g *GStreamer) watch(ctx context.Context, channel uint32, bus *gst.Bus) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(busPollInterval)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			g.mu.Lock()
			c, ok := g.channels[channel]
			g.mu.Unlock()
			if !ok {
				return
			}
			loop := c.loopTarget()
			if loop == nil {
				continue
			}
			if err := g.CueMedia(model.MediaCue{Channel: channel, URI: *loop, LoopMedia: loop}); err != nil {
				g.log.Warn("unable to restart loop media", slog.Int("channel", int(channel)), slog.String("error", err.Error()))
			}

		case gst.MessageError:
			gerr := msg.ParseError()
			g.log.Error("playback error", slog.Int("channel", int(channel)), slog.String("error", gerr.Error()))
		}
	}
}

func (g *GStreamer) channel(n uint32) (*gstChannel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.channels[n]
	if !ok {
		return nil, fmt.Errorf("channel %d: %w", n, ErrChannelUndefined)
	}
	return c, nil
}

// CueMedia swaps the playbin uri and starts playing from the beginning.
func (g *GStreamer) CueMedia(cue model.MediaCue) error {
	c, err := g.channel(cue.Channel)
	if err != nil {
		return err
	}

	loop := c.def.LoopMedia
	if cue.LoopMedia != nil {
		loop = cue.LoopMedia
	}
	c.setLoop(loop)

	if err := c.playbin.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("reset channel %d: %w", cue.Channel, err)
	}
	if err := c.playbin.SetProperty("uri", cue.URI); err != nil {
		return fmt.Errorf("set uri on channel %d: %w", cue.Channel, err)
	}
	if err := c.playbin.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("play channel %d: %w", cue.Channel, err)
	}
	return nil
}

// ChangeState plays or pauses a channel.
func (g *GStreamer) ChangeState(cs model.ChannelState) error {
	var state gst.State
	switch cs.State {
	case model.Playing:
		state = gst.StatePlaying
	case model.Paused:
		state = gst.StatePaused
	default:
		return fmt.Errorf("change state %q: %w", cs.State, ErrInvalidState)
	}

	c, err := g.channel(cs.Channel)
	if err != nil {
		return err
	}
	if err := c.playbin.SetState(state); err != nil {
		return fmt.Errorf("change state on channel %d: %w", cs.Channel, err)
	}
	return nil
}

// Seek moves a channel, clamped to EndMargin before the end of the media.
func (g *GStreamer) Seek(seek model.ChannelSeek) error {
	c, err := g.channel(seek.Channel)
	if err != nil {
		return err
	}

	ok, duration := c.playbin.QueryDuration(gst.FormatTime)
	if !ok || duration <= 0 {
		return fmt.Errorf("seek channel %d: %w", seek.Channel, ErrNoMedia)
	}
	target := ClampSeek(model.Millis(seek.Position), time.Duration(duration))

	if !c.playbin.SeekSimple(int64(target), gst.FormatTime, gst.SeekFlagFlush|gst.SeekFlagKeyUnit) {
		return fmt.Errorf("seek channel %d to %v failed", seek.Channel, target)
	}
	return nil
}

// AllStop sets every playbin to NULL.
func (g *GStreamer) AllStop() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var first error
	for n, c := range g.channels {
		if err := c.playbin.SetState(gst.StateNull); err != nil {
			g.log.Error("unable to stop channel", slog.Int("channel", int(n)), slog.String("error", err.Error()))
			if first == nil {
				first = fmt.Errorf("stop channel %d: %w", n, err)
			}
		}
	}
	return first
}

// Close stops every channel and waits for the watchers to exit.
func (g *GStreamer) Close() error {
	err := g.AllStop()

	g.mu.Lock()
	for _, c := range g.channels {
		c.cancel()
	}
	g.channels = make(map[uint32]*gstChannel)
	g.mu.Unlock()

	g.wg.Wait()
	return err
}
