package llm

import (
	"context"
	"errors"
	"strings"

	xhttp "FinOracle/pkg/http"
)

type preset struct {
	baseURL string
	path    string
	model   string
}

// openAICompatible lists the chat-completions providers and their defaults.
var openAICompatible = map[string]preset{
	"openai":   {"https://api.openai.com", "/v1/chat/completions", "gpt-4"},
	"mistral":  {"https://api.mistral.ai", "/v1/chat/completions", "mistral-large-latest"},
	"aimlapi":  {"https://api.aimlapi.com", "/chat/completions", "llama-3.1-70b-instruct"},
	"moonshot": {"https://api.moonshot.ai", "/v1/chat/completions", "moonshot-v1-8k"},
	"kimi":     {"https://api.moonshot.ai", "/v1/chat/completions", "kimi-latest"},
	"deepseek": {"https://api.deepseek.com", "/v1/chat/completions", "deepseek-chat"},
	"together": {"https://api.together.xyz", "/v1/chat/completions", "meta-llama/Llama-3-70b-chat-hf"},
}

type chatAdapter struct {
	cfg  Config
	url  string
	http *xhttp.Client
}

func newOpenAICompatible(cfg Config, client *xhttp.Client) (Adapter, error) {
	kind := strings.ToLower(withDefault(cfg.Kind, cfg.Name))
	p := openAICompatible[kind]
	cfg.BaseURL = strings.TrimRight(withDefault(cfg.BaseURL, p.baseURL), "/")
	cfg.Model = withDefault(cfg.Model, p.model)
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	return &chatAdapter{cfg: cfg, url: cfg.BaseURL + p.path, http: client}, nil
}

func (c *chatAdapter) Name() string { return c.cfg.Name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
		Text    string      `json:"text"`
	} `json:"choices"`
}

func (c *chatAdapter) Complete(ctx context.Context, system, prompt string) (string, error) {
	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	var resp chatResponse
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     c.url,
		Headers: map[string]string{"Authorization": "Bearer " + c.cfg.APIKey},
		Body:    req,
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in chat completion response")
	}
	// some providers still answer in the legacy text field
	if text := resp.Choices[0].Message.Content; text != "" {
		return text, nil
	}
	return resp.Choices[0].Text, nil
}
