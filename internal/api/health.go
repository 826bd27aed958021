package api

import (
	"net/http"
	"time"

	"github.com/snarg/vid2sub/internal/session"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	FFmpeg        string            `json:"ffmpeg,omitempty"`
	Transcriber   string            `json:"transcriber"`
	Model         string            `json:"model"`
	Sessions      int               `json:"sessions"`
	Processing    int               `json:"processing"`
}

type HealthHandler struct {
	mgr       *session.Manager
	version   string
	startTime time.Time
}

func NewHealthHandler(mgr *session.Manager, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		mgr:       mgr,
		version:   version,
		startTime: startTime,
	}
}

// ServeHTTP reports degraded until the transcoder has been initialized once.
// A failed ffmpeg lookup is retried on the next session, so it never makes
// the service unhealthy on its own.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"

	engine := h.mgr.Engine()
	if engine.Ready() {
		checks["ffmpeg"] = "ok"
	} else {
		checks["ffmpeg"] = "not_initialized"
		status = "degraded"
	}

	tr := h.mgr.Transcriber()
	if tr != nil {
		checks["transcription"] = "ok"
	} else {
		checks["transcription"] = "not_configured"
		status = "unhealthy"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
		FFmpeg:        engine.Version(),
		Sessions:      h.mgr.SessionCount(),
		Processing:    h.mgr.ProcessingCount(),
	}
	if tr != nil {
		resp.Transcriber = tr.Name()
		resp.Model = tr.Model()
	}

	httpStatus := http.StatusOK
	if status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}
	WriteJSON(w, httpStatus, resp)
}
