//go:build !gstreamer

package playback

import (
	"errors"
	"log/slog"

	"apollo/internal/model"
)

// Available reports whether this binary was built with GStreamer support.
const Available = false

// ErrUnavailable is returned by NewGStreamer in builds without the gstreamer tag.
var ErrUnavailable = errors.New("built without gstreamer support")

// GStreamer is unavailable in this build.
type GStreamer struct{}

// NewGStreamer always fails in builds without the gstreamer tag.
func NewGStreamer(*slog.Logger) (*GStreamer, error) {
	return nil, ErrUnavailable
}

// DefineChannel returns ErrUnavailable.
func (*GStreamer) DefineChannel(model.MediaChannel) (*model.VideoStream, error) {
	return nil, ErrUnavailable
}

// CueMedia returns ErrUnavailable.
func (*GStreamer) CueMedia(model.MediaCue) error { return ErrUnavailable }

// ChangeState returns ErrUnavailable.
func (*GStreamer) ChangeState(model.ChannelState) error { return ErrUnavailable }

// Seek returns ErrUnavailable.
func (*GStreamer) Seek(model.ChannelSeek) error { return ErrUnavailable }

// AllStop returns ErrUnavailable.
func (*GStreamer) AllStop() error { return ErrUnavailable }

// Close has nothing to release.
func (*GStreamer) Close() error { return nil }
