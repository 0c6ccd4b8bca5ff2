package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"apollo/internal/display"
	"apollo/internal/model"

	"github.com/go-chi/chi/v5"
)

// MaxBodyBytes is the largest request body accepted.
const MaxBodyBytes = 16 * 1024

// Submitter accepts commands. *Dispatcher implements it.
type Submitter interface {
	Submit(ctx context.Context, req Request) (Reply, error)
}

// LayoutSource reports the current display layout. *display.Surface implements it.
type LayoutSource interface {
	Layout() display.Layout
}

// Handler exposes the dispatcher over HTTP using go-chi.
type Handler struct {
	dispatcher Submitter
	layout     LayoutSource
	log        *slog.Logger
}

// NewHandler returns a Handler. layout may be nil to disable GET /layout.
func NewHandler(d Submitter, layout LayoutSource, log *slog.Logger) *Handler {
	return &Handler{dispatcher: d, layout: layout, log: log}
}

// Routes registers the command endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/alignChannel", h.AlignChannel)
	r.Post("/allStop", h.AllStop)
	r.Post("/defineWindow", h.DefineWindow)
	r.Post("/defineChannel", h.DefineChannel)
	r.Post("/cueMedia", h.CueMedia)
	r.Post("/changeState", h.ChangeState)
	r.Post("/resizeChannel", h.ResizeChannel)
	r.Post("/seek", h.Seek)
	r.Post("/close", h.Close)
	r.Get("/layout", h.Layout)
}

// AlignChannel handles POST /alignChannel.
// Body: { "channel": 1, "direction": "Up" }.
func (h *Handler) AlignChannel(w http.ResponseWriter, r *http.Request) {
	var body model.ChannelRealignment
	if h.decode(w, r, &body) {
		h.submit(w, r, AlignChannel{body})
	}
}

// AllStop handles POST /allStop. The body is ignored.
func (h *Handler) AllStop(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, AllStop{})
}

// DefineWindow handles POST /defineWindow.
// Body: { "window_number": 1, "fullscreen": true, "dimensions": { "width": 1920, "height": 1080 } }.
func (h *Handler) DefineWindow(w http.ResponseWriter, r *http.Request) {
	var body model.WindowDefinition
	if h.decode(w, r, &body) {
		h.submit(w, r, DefineWindow{body})
	}
}

// DefineChannel handles POST /defineChannel.
func (h *Handler) DefineChannel(w http.ResponseWriter, r *http.Request) {
	var body model.MediaChannel
	if h.decode(w, r, &body) {
		h.submit(w, r, DefineChannel{body})
	}
}

// CueMedia handles POST /cueMedia.
// Body: { "channel": 1, "uri": "file:///media/video.mp4", "loop_media": "file:///media/idle.mp4" }.
func (h *Handler) CueMedia(w http.ResponseWriter, r *http.Request) {
	var body model.MediaCue
	if h.decode(w, r, &body) {
		h.submit(w, r, CueMedia{body})
	}
}

// ChangeState handles POST /changeState.
// Body: { "channel": 1, "state": "Paused" }.
func (h *Handler) ChangeState(w http.ResponseWriter, r *http.Request) {
	var body model.ChannelState
	if h.decode(w, r, &body) {
		h.submit(w, r, ChangeState{body})
	}
}

// ResizeChannel handles POST /resizeChannel.
func (h *Handler) ResizeChannel(w http.ResponseWriter, r *http.Request) {
	var body model.ChannelAllocation
	if h.decode(w, r, &body) {
		h.submit(w, r, ResizeChannel{body})
	}
}

// Seek handles POST /seek.
// Body: { "channel": 1, "position": 15000 }, position in milliseconds.
func (h *Handler) Seek(w http.ResponseWriter, r *http.Request) {
	var body model.ChannelSeek
	if h.decode(w, r, &body) {
		h.submit(w, r, Seek{body})
	}
}

// Close handles POST /close. The node stops serving commands and removes its backup.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, Close{})
}

// Layout handles GET /layout.
func (h *Handler) Layout(w http.ResponseWriter, r *http.Request) {
	if h.layout == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(h.layout.Layout()); err != nil {
		h.log.Debug("unable to write layout", slog.String("error", err.Error()))
	}
}

// decode reads a JSON body of at most MaxBodyBytes into v. On failure it
// writes a 400 reply and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.log.Debug("invalid request body", slog.String("path", r.URL.Path), slog.String("error", err.Error()))

		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeReply(w, http.StatusRequestEntityTooLarge, Failure("Request body too large."))
			return false
		}
		h.writeReply(w, http.StatusBadRequest, Failure("Invalid request body."))
		return false
	}
	return true
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, req Request) {
	reply, err := h.dispatcher.Submit(r.Context(), req)
	if err != nil {
		h.log.Error("request not processed", slog.String("command", req.Command()), slog.String("error", err.Error()))
		h.writeReply(w, http.StatusInternalServerError, Failure(msgUnavailable))
		return
	}
	if !reply.IsValid {
		h.writeReply(w, http.StatusBadRequest, reply)
		return
	}
	h.writeReply(w, http.StatusOK, reply)
}

func (h *Handler) writeReply(w http.ResponseWriter, status int, reply Reply) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		h.log.Debug("unable to write reply", slog.String("error", err.Error()))
	}
}
