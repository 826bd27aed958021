package transcribe

import (
	"bytes"
	"context"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/snarg/vid2sub/internal/payload"
)

// AudioClient posts the decoded audio to an OpenAI-compatible
// /audio/transcriptions endpoint and returns text with segment timings.
type AudioClient struct {
	base
}

// NewAudioClient creates a speech-to-text client.
func NewAudioClient(opts Options) *AudioClient {
	return &AudioClient{base: newBase(opts)}
}

func (c *AudioClient) Name() string  { return "audio" }
func (c *AudioClient) Model() string { return c.model }

// Transcribe decodes the base64 payload and uploads it as audio.mp3.
func (c *AudioClient) Transcribe(ctx context.Context, encoded string) (resp *Response, err error) {
	start := time.Now()
	defer func() { observe(c.Name(), start, err) }()

	data, err := payload.Decode(encoded)
	if err != nil {
		return nil, &TranscriptionError{Body: "invalid audio payload", Err: err}
	}

	req := openai.AudioRequest{
		Model:    c.model,
		FilePath: "audio.mp3",
		Reader:   bytes.NewReader(data),
		Format:   openai.AudioResponseFormatVerboseJSON,
	}
	out, err := c.client().CreateTranscription(ctx, req)
	if err != nil {
		return nil, classify(err)
	}

	r := &Response{
		Text:     strings.TrimSpace(out.Text),
		Language: out.Language,
		Duration: out.Duration,
	}
	for _, s := range out.Segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			r.Segments = append(r.Segments, Segment{Start: s.Start, End: s.End, Text: t})
		}
	}
	if r.Text == "" {
		r.Text = NoTranscription
	}
	return r, nil
}
