package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	domain "github.com/bryanwahyu/healthmate/internal/domain/ai"
	"github.com/bryanwahyu/healthmate/internal/infra/ai/prompt"
)

const (
	maxTokens = 2048

	// DefaultModel is used when no model is configured.
	DefaultModel = "gemini-2.5-flash"
	// DefaultBaseURL is Gemini's OpenAI-compatible endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
)

type Client struct {
	*openai.Client
	Model   string
	Timeout time.Duration
	// MaxImageBytes overrides domain.MaxInlineImageBytes when positive.
	MaxImageBytes int
}

func NewClient(apiKey, baseURL, model string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	return &Client{Client: openai.NewClientWithConfig(cfg), Model: model}
}

// Analyze sends the image followed by the report prompt and returns the generated text.
func (c *Client) Analyze(ctx context.Context, img domain.Image) (string, error) {
	limit := c.MaxImageBytes
	if limit <= 0 {
		limit = domain.MaxInlineImageBytes
	}
	if len(img.Data) > limit {
		return "", fmt.Errorf("%w: %d bytes (limit %d)", domain.ErrPayloadTooLarge, len(img.Data), limit)
	}

	model := c.Model
	if model == "" {
		model = DefaultModel
	}
	mime := img.MimeType
	if mime == "" {
		mime = "image/jpeg"
	}

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL(mime, img.Data),
							Detail: openai.ImageURLDetailAuto,
						},
					},
					{Type: openai.ChatMessagePartTypeText, Text: prompt.GetReportPrompt()},
				},
			},
		},
	}
	// For reasoning models (o1/o3/o4/gpt-5*) use MaxCompletionTokens instead of MaxTokens
	if strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3") || strings.HasPrefix(model, "o4") || strings.HasPrefix(model, "gpt-5") {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", toInferenceError(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", domain.ErrMalformedResponse)
	}
	msg := resp.Choices[0].Message
	text := msg.Content
	if strings.TrimSpace(text) == "" {
		// some compatible providers answer with content parts instead of a string
		var parts []string
		for _, p := range msg.MultiContent {
			if p.Type == openai.ChatMessagePartTypeText && p.Text != "" {
				parts = append(parts, p.Text)
			}
		}
		text = strings.Join(parts, "\n")
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty message content", domain.ErrMalformedResponse)
	}
	return text, nil
}

func dataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func toInferenceError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &domain.InferenceError{Status: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := reqErr.HTTPStatus
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &domain.InferenceError{Status: reqErr.HTTPStatusCode, Message: msg, Err: err}
	}
	return &domain.InferenceError{Message: err.Error(), Err: err}
}
