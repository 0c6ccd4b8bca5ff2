package control

import "apollo/internal/model"

const (
	msgCompleted     = "Request completed."
	msgWindowDefined = "Window was already defined."
	msgUnavailable   = "Unable to process request."
)

// Request is one command for the dispatcher. The set of variants is closed.
type Request interface {
	// Command names the request in logs and metrics.
	Command() string
}

type (
	AlignChannel  struct{ model.ChannelRealignment }
	AllStop       struct{}
	DefineWindow  struct{ model.WindowDefinition }
	DefineChannel struct{ model.MediaChannel }
	CueMedia      struct{ model.MediaCue }
	ChangeState   struct{ model.ChannelState }
	ResizeChannel struct{ model.ChannelAllocation }
	Seek          struct{ model.ChannelSeek }
	Close         struct{}
)

func (AlignChannel) Command() string  { return "align_channel" }
func (AllStop) Command() string       { return "all_stop" }
func (DefineWindow) Command() string  { return "define_window" }
func (DefineChannel) Command() string { return "define_channel" }
func (CueMedia) Command() string      { return "cue_media" }
func (ChangeState) Command() string   { return "change_state" }
func (ResizeChannel) Command() string { return "resize_channel" }
func (Seek) Command() string          { return "seek" }
func (Close) Command() string         { return "close" }

// Reply is the single answer to a Request.
type Reply struct {
	IsValid bool   `json:"isValid"`
	Message string `json:"message"`
}

// Success is the reply for a completed request.
func Success() Reply {
	return Reply{IsValid: true, Message: msgCompleted}
}

// Failure is the reply for a rejected request.
func Failure(reason string) Reply {
	return Reply{IsValid: false, Message: reason}
}
