package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/snarg/vid2sub/internal/metrics"
)

const (
	// DefaultBaseURL is Groq's OpenAI-compatible API root.
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	// APIKeyEnv names the environment variable holding the bearer secret.
	APIKeyEnv = "GROQ_API_KEY"
	// NoTranscription is returned when the endpoint answered without content.
	NoTranscription = "No transcription available"
)

// Transcriber is the interface for speech-to-text backends.
type Transcriber interface {
	Transcribe(ctx context.Context, payload string) (*Response, error)
	Name() string  // "chat", "audio"
	Model() string // model identifier for logs
}

// Response is the common transcription result from any backend.
type Response struct {
	Text     string
	Language string
	Duration float64   // seconds, 0 when unknown
	Segments []Segment // nil if the backend has no timings
}

// Segment is a timed span of transcribed text.
type Segment struct {
	Start float64 // seconds
	End   float64 // seconds
	Text  string
}

// TranscriptionError reports a failed request. StatusCode is 0 when the
// request never got an HTTP response.
type TranscriptionError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TranscriptionError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("transcription request failed: %v", e.Err)
	}
	return fmt.Sprintf("transcription API error (status %d): %s", e.StatusCode, e.Body)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// Options configures both clients.
type Options struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration // 0 = no client timeout
	HTTPClient *http.Client
}

// base holds what the chat and audio clients share.
type base struct {
	baseURL string
	model   string
	http    *http.Client
	apiKey  func() string
}

func newBase(opts Options) base {
	b := base{
		baseURL: opts.BaseURL,
		model:   opts.Model,
		http:    opts.HTTPClient,
		apiKey:  func() string { return os.Getenv(APIKeyEnv) },
	}
	if b.baseURL == "" {
		b.baseURL = DefaultBaseURL
	}
	if b.http == nil {
		b.http = &http.Client{Timeout: opts.Timeout}
	}
	return b
}

// client builds an API client with the secret as it is right now.
func (b base) client() *openai.Client {
	cfg := openai.DefaultConfig(b.apiKey())
	cfg.BaseURL = b.baseURL
	cfg.HTTPClient = b.http
	return openai.NewClientWithConfig(cfg)
}

// classify converts a go-openai error into a TranscriptionError.
func classify(err error) *TranscriptionError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &TranscriptionError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		body := reqErr.HTTPStatus
		switch {
		case len(reqErr.Body) > 0:
			body = string(reqErr.Body)
		case reqErr.Err != nil:
			body = reqErr.Err.Error()
		}
		return &TranscriptionError{StatusCode: reqErr.HTTPStatusCode, Body: body, Err: err}
	}
	return &TranscriptionError{Err: err}
}

func observe(mode string, start time.Time, err error) {
	status := http.StatusOK
	if err != nil {
		status = classify(err).StatusCode
	}
	metrics.TranscriptionRequestsTotal.WithLabelValues(mode, strconv.Itoa(status)).Inc()
	metrics.TranscriptionDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}
