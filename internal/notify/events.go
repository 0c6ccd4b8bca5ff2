// Package notify carries display events from the dispatcher to the display
// surface and any other listener. Delivery is fire-and-forget.
package notify

import "apollo/internal/model"

// Event is one display update. The set of variants is closed.
type Event interface {
	// Name is a stable identifier used in logs, metrics, and MQTT topics.
	Name() string
}

// WindowDefined announces a new window.
type WindowDefined struct {
	Window model.WindowDefinition `json:"window"`
}

// VideoStreamAdded hands a channel's video stream to the display.
type VideoStreamAdded struct {
	Stream model.VideoStream `json:"video_stream"`
}

// Resized replaces the geometry of a channel's frame.
type Resized struct {
	Allocation model.ChannelAllocation `json:"channel_allocation"`
}

// Realigned nudges a channel's frame one pixel.
type Realigned struct {
	Realignment model.ChannelRealignment `json:"channel_realignment"`
}

// Closed tells the display to tear everything down.
type Closed struct{}

func (WindowDefined) Name() string    { return "window" }
func (VideoStreamAdded) Name() string { return "video" }
func (Resized) Name() string          { return "resize" }
func (Realigned) Name() string        { return "align" }
func (Closed) Name() string           { return "close" }

// Notifier accepts events. Notify must not block.
type Notifier interface {
	Notify(Event)
}

// Fanout delivers each event to every notifier in order.
type Fanout []Notifier

// Notify implements Notifier.
func (f Fanout) Notify(e Event) {
	for _, n := range f {
		n.Notify(e)
	}
}

// Discard drops every event.
type Discard struct{}

// Notify implements Notifier.
func (Discard) Notify(Event) {}
