package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/vid2sub/internal/events"
	"github.com/snarg/vid2sub/internal/session"
)

const keepaliveInterval = 15 * time.Second

type EventsHandler struct {
	mgr *session.Manager
}

func NewEventsHandler(mgr *session.Manager) *EventsHandler {
	return &EventsHandler{mgr: mgr}
}

// StreamEvents opens an SSE connection for one session. The first event is
// the current state snapshot; missed events are replayed from Last-Event-ID.
func (h *EventsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id, err := PathString(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	s, err := h.mgr.Get(id)
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	rc := http.NewResponseController(w)
	// The server write timeout would otherwise cut long streams.
	_ = rc.SetWriteDeadline(time.Time{})

	filter := events.Filter{Session: s.ID}
	if v, ok := QueryString(r, "types"); ok {
		filter.Types = strings.Split(v, ",")
	}

	// Subscribe before the snapshot so nothing published in between is lost.
	bus := h.mgr.Bus()
	ch, cancel := bus.Subscribe(filter)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		for _, e := range bus.ReplaySince(lastEventID, filter) {
			writeEvent(w, e)
		}
	} else {
		snap, err := events.NewEvent(s.ID, events.TypeState, s.Controller().Snapshot())
		if err == nil {
			writeEvent(w, snap)
		}
	}
	if err := rc.Flush(); err != nil {
		return
	}

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	log := hlog.FromRequest(r)
	log.Info().Str("session", s.ID).Msg("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Info().Str("session", s.ID).Msg("SSE client disconnected")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			s.Touch()
			writeEvent(w, event)
			rc.Flush()
		case <-keepalive.C:
			s.Touch()
			fmt.Fprint(w, ": keepalive\n\n")
			rc.Flush()
		}
	}
}

func writeEvent(w io.Writer, e events.Event) {
	if e.ID != "" {
		fmt.Fprintf(w, "id: %s\n", e.ID)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, e.Data)
}

// Routes registers event routes on the given router.
func (h *EventsHandler) Routes(r chi.Router) {
	r.Get("/sessions/{id}/events", h.StreamEvents)
}
