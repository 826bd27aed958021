package transcribe

import (
	"context"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	chatSystemPrompt = "You are a helpful assistant that accurately transcribes audio."
	chatPrefixLen    = 50
	chatTemperature  = 0.1
	chatMaxTokens    = 4000
)

// ChatClient asks a chat-completion model for a transcription. Only the
// first 50 characters of the payload are sent, so the answer is not a real
// transcription of the audio; AudioClient is the accurate alternative.
type ChatClient struct {
	base
}

// NewChatClient creates a chat-completion client.
func NewChatClient(opts Options) *ChatClient {
	return &ChatClient{base: newBase(opts)}
}

func (c *ChatClient) Name() string  { return "chat" }
func (c *ChatClient) Model() string { return c.model }

// Transcribe issues one chat completion request. A response without content
// yields NoTranscription rather than an error.
func (c *ChatClient) Transcribe(ctx context.Context, payload string) (resp *Response, err error) {
	start := time.Now()
	defer func() { observe(c.Name(), start, err) }()

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: chatSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMessage(payload)},
		},
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
	}

	out, err := c.client().CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classify(err)
	}

	text := ""
	if len(out.Choices) > 0 {
		text = strings.TrimSpace(out.Choices[0].Message.Content)
	}
	if text == "" {
		text = NoTranscription
	}
	return &Response{Text: text}, nil
}

func userMessage(payload string) string {
	if len(payload) > chatPrefixLen {
		payload = payload[:chatPrefixLen]
	}
	return "Transcribe this audio: " + payload + "..."
}
