package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	xhttp "FinOracle/pkg/http"
)

type gemini struct {
	cfg  Config
	http *xhttp.Client
}

func newGemini(cfg Config, client *xhttp.Client) (Adapter, error) {
	cfg.BaseURL = strings.TrimRight(withDefault(cfg.BaseURL, "https://generativelanguage.googleapis.com"), "/")
	cfg.Model = withDefault(cfg.Model, "gemini-1.5-flash")
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2048
	}
	return &gemini{cfg: cfg, http: client}, nil
}

func (g *gemini) Name() string { return g.cfg.Name }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction geminiContent   `json:"system_instruction"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		Temperature      float64 `json:"temperature"`
		MaxOutputTokens  int     `json:"maxOutputTokens"`
		ResponseMimeType string  `json:"response_mime_type"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (g *gemini) Complete(ctx context.Context, system, prompt string) (string, error) {
	var req geminiRequest
	req.SystemInstruction = geminiContent{Parts: []geminiPart{{Text: system}}}
	req.Contents = []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}
	req.GenerationConfig.Temperature = g.cfg.Temperature
	req.GenerationConfig.MaxOutputTokens = g.cfg.MaxTokens
	req.GenerationConfig.ResponseMimeType = "application/json"

	var resp geminiResponse
	err := g.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodPost,
		URL:         fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.cfg.BaseURL, g.cfg.Model),
		QueryParams: map[string][]string{"key": {g.cfg.APIKey}},
		Body:        req,
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no candidates in gemini response")
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}
