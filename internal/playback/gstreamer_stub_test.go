//go:build !gstreamer

package playback

import (
	"errors"
	"testing"

	"apollo/internal/model"
)

func TestGStreamer_unavailable(t *testing.T) {
	if Available {
		t.Fatal("Available must be false without the gstreamer tag")
	}
	if _, err := NewGStreamer(nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("NewGStreamer: %v", err)
	}

	var g GStreamer
	if _, err := g.DefineChannel(model.MediaChannel{Channel: 1}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("DefineChannel: %v", err)
	}
	for name, err := range map[string]error{
		"CueMedia":    g.CueMedia(model.MediaCue{Channel: 1}),
		"ChangeState": g.ChangeState(model.ChannelState{Channel: 1}),
		"Seek":        g.Seek(model.ChannelSeek{Channel: 1}),
		"AllStop":     g.AllStop(),
	} {
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("%s: %v", name, err)
		}
	}
	if err := g.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
