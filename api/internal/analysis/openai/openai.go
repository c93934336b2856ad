package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	goopenai "github.com/sashabaranov/go-openai"

	"medist/api/internal/analysis"
	"medist/api/internal/util"
)

const schemaName = "health_report"

type Engine struct {
	client *goopenai.Client

	mu    sync.RWMutex
	model string
}

// New builds an engine for the public API.
func New(apiKey, model string) *Engine {
	return NewWithConfig(goopenai.DefaultConfig(strings.TrimSpace(apiKey)), model)
}

// NewWithConfig allows a custom base URL or HTTP client (proxies, tests).
func NewWithConfig(cfg goopenai.ClientConfig, model string) *Engine {
	return &Engine{
		client: goopenai.NewClientWithConfig(cfg),
		model:  strings.TrimSpace(model),
	}
}

func (e *Engine) Name() string { return "gpt" }

func (e *Engine) Model() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model
}

func (e *Engine) SetModel(m string) {
	if m = strings.TrimSpace(m); m == "" {
		return
	}
	e.mu.Lock()
	e.model = m
	e.mu.Unlock()
}

func isImageMIME(m string) bool {
	switch util.NormalizeMIME(m) {
	case "image/jpeg", "image/png", "image/webp":
		return true
	}
	return false
}

func (e *Engine) Generate(ctx context.Context, req analysis.Request) (string, error) {
	if !isImageMIME(req.Document.MIMEType) {
		return "", analysis.InvalidInput(fmt.Sprintf("gpt engine accepts jpeg, png or webp images, got %q", req.Document.MIMEType))
	}

	schema, err := strictSchema(req.Schema)
	if err != nil {
		return "", fmt.Errorf("gpt: schema: %w", err)
	}

	creq := goopenai.ChatCompletionRequest{
		Model: e.Model(),
		Messages: []goopenai.ChatCompletionMessage{
			{
				Role: goopenai.ChatMessageRoleUser,
				MultiContent: []goopenai.ChatMessagePart{
					{
						Type: goopenai.ChatMessagePartTypeImageURL,
						ImageURL: &goopenai.ChatMessageImageURL{
							URL:    util.MakeDataURL(util.NormalizeMIME(req.Document.MIMEType), req.Document.Data),
							Detail: goopenai.ImageURLDetailHigh,
						},
					},
					{Type: goopenai.ChatMessagePartTypeText, Text: req.Prompt},
				},
			},
		},
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &goopenai.ChatCompletionResponseFormatJSONSchema{
				Name:   schemaName,
				Schema: json.RawMessage(schema),
				Strict: true,
			},
		},
	}

	resp, err := e.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return "", classifyErr(fmt.Errorf("gpt: chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", analysis.Malformed("gpt: no choices in response", nil)
	}
	ch := resp.Choices[0]
	if ch.FinishReason == goopenai.FinishReasonContentFilter {
		return "", analysis.Rejected(errors.New("gpt: response filtered"))
	}
	if r := strings.TrimSpace(ch.Message.Refusal); r != "" {
		return "", analysis.Rejected(fmt.Errorf("gpt: refused: %s", r))
	}
	if strings.TrimSpace(ch.Message.Content) == "" {
		return "", analysis.Malformed("gpt: empty response", nil)
	}
	return ch.Message.Content, nil
}

// strictSchema tightens a copy of the schema for strict structured outputs.
func strictSchema(src map[string]any) ([]byte, error) {
	return json.Marshal(util.StrictSchema(src))
}

func classifyErr(err error) error {
	code := 0
	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		code = reqErr.HTTPStatusCode
	}
	switch {
	case code == 0, code == http.StatusRequestTimeout, code >= 500:
		return analysis.Transport(err)
	case code >= 400:
		return analysis.Rejected(err)
	}
	return analysis.Transport(err)
}
