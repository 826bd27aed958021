package api

import (
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/vid2sub/internal/session"
	"github.com/snarg/vid2sub/internal/subtitle"
	"github.com/snarg/vid2sub/internal/workflow"
)

// SessionResponse is a session id plus its workflow snapshot.
type SessionResponse struct {
	ID string `json:"id"`
	workflow.Snapshot
}

type SessionsHandler struct {
	mgr       *session.Manager
	maxUpload int64
	log       zerolog.Logger
}

func NewSessionsHandler(mgr *session.Manager, maxUpload int64, log zerolog.Logger) *SessionsHandler {
	return &SessionsHandler{
		mgr:       mgr,
		maxUpload: maxUpload,
		log:       log.With().Str("handler", "sessions").Logger(),
	}
}

// CreateSession mounts a new workflow and returns its initial snapshot.
func (h *SessionsHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.mgr.Create()
	if err != nil {
		h.log.Error().Err(err).Msg("failed to create session")
		WriteErrorDetail(w, http.StatusInternalServerError, "failed to create session", err.Error())
		return
	}
	WriteJSON(w, http.StatusCreated, SessionResponse{ID: s.ID, Snapshot: s.Controller().Snapshot()})
}

func (h *SessionsHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, SessionResponse{ID: s.ID, Snapshot: s.Controller().Snapshot()})
}

// DeleteSession unmounts the session, cancelling any run and releasing its
// transcoder instance.
func (h *SessionsHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := PathString(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.mgr.Delete(id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadFile streams the multipart "file" part into the session directory
// and selects it.
func (h *SessionsHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "expected multipart/form-data", err.Error())
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			WriteError(w, http.StatusBadRequest, "missing file part")
			return
		}
		if err != nil {
			h.writeUploadError(w, err)
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		f, err := s.Spool(part.FileName(), part)
		part.Close()
		if err != nil {
			h.writeUploadError(w, err)
			return
		}
		if err := s.Controller().Select(f); err != nil {
			os.Remove(f.Path)
			h.writeError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, SessionResponse{ID: s.ID, Snapshot: s.Controller().Snapshot()})
		return
	}
}

// Process confirms the selected file. The run continues after the response;
// progress and the outcome arrive on the event stream.
func (h *SessionsHandler) Process(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if _, err := s.Process(); err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, SessionResponse{ID: s.ID, Snapshot: s.Controller().Snapshot()})
}

func (h *SessionsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := s.Controller().Reset(); err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, SessionResponse{ID: s.ID, Snapshot: s.Controller().Snapshot()})
}

// DownloadSubtitle renders the result as an attachment. format is vtt
// (default) or srt.
func (h *SessionsHandler) DownloadSubtitle(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	format, _ := QueryString(r, "format")
	kind, err := subtitle.ParseKind(format)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	doc, err := s.Controller().Download(kind)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", doc.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+doc.FileName()+`"`)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, doc.Body)
}

func (h *SessionsHandler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id, err := PathString(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	s, err := h.mgr.Get(id)
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return s, true
}

func (h *SessionsHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, workflow.ErrInvalidTransition), errors.Is(err, workflow.ErrNoResult):
		WriteError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error().Err(err).Msg("session request failed")
		WriteErrorDetail(w, http.StatusInternalServerError, "internal error", err.Error())
	}
}

func (h *SessionsHandler) writeUploadError(w http.ResponseWriter, err error) {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		WriteErrorDetail(w, http.StatusRequestEntityTooLarge, "upload too large", err.Error())
		return
	}
	h.log.Warn().Err(err).Msg("upload failed")
	WriteErrorDetail(w, http.StatusBadRequest, "upload failed", err.Error())
}

// Routes registers session routes on the given router.
func (h *SessionsHandler) Routes(r chi.Router) {
	r.Post("/sessions", h.CreateSession)
	r.Get("/sessions/{id}", h.GetSession)
	r.Delete("/sessions/{id}", h.DeleteSession)
	r.Post("/sessions/{id}/file", h.UploadFile)
	r.Post("/sessions/{id}/process", h.Process)
	r.Post("/sessions/{id}/reset", h.Reset)
	r.Get("/sessions/{id}/subtitle", h.DownloadSubtitle)
}
