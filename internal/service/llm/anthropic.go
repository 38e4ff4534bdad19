package llm

import (
	"context"
	"errors"
	"strings"

	xhttp "FinOracle/pkg/http"
)

const anthropicVersion = "2023-06-01"

type anthropic struct {
	cfg  Config
	http *xhttp.Client
}

func newAnthropic(cfg Config, client *xhttp.Client) (Adapter, error) {
	cfg.BaseURL = strings.TrimRight(withDefault(cfg.BaseURL, "https://api.anthropic.com"), "/")
	cfg.Model = withDefault(cfg.Model, "claude-3-5-sonnet-latest")
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2048
	}
	return &anthropic{cfg: cfg, http: client}, nil
}

func (a *anthropic) Name() string { return a.cfg.Name }

type anthropicRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (a *anthropic) Complete(ctx context.Context, system, prompt string) (string, error) {
	req := anthropicRequest{
		Model:       a.cfg.Model,
		System:      system,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	}
	var resp anthropicResponse
	err := a.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    a.cfg.BaseURL + "/v1/messages",
		Headers: map[string]string{
			"x-api-key":         a.cfg.APIKey,
			"anthropic-version": anthropicVersion,
		},
		Body: req,
	}, &resp)
	if err != nil {
		return "", err
	}
	for _, block := range resp.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", errors.New("no text block in messages response")
}
