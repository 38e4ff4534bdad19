package models

// Requests of the HTTP API. Bound by echo and checked with validator tags.

type RunRequestBody struct {
	Symbols  []string `json:"symbols" validate:"required,min=1,max=50,dive,required,symbol,max=20"`
	SkipFeed *bool    `json:"skip_feed"`
	Async    bool     `json:"async"`
}

type PriceRequest struct {
	Symbol   string `param:"symbol" validate:"required,symbol,max=20"`
	Provider string `query:"provider"`
}

type HistoryRequest struct {
	Symbol string `param:"symbol" validate:"required,symbol,max=20"`
	Limit  int    `query:"limit" default:"50" validate:"gte=1,lte=500"`
	Since  string `query:"since"` // RFC3339 or unix seconds/millis
}

type WarmRequest struct {
	Symbols []string `json:"symbols" validate:"required,min=1,max=100,dive,required,symbol,max=20"`
}

// RunResponse is returned by a synchronous run request.
type RunResponse struct {
	Reports []*RunReport `json:"reports"`
	Errors  []string     `json:"errors,omitempty"`
}

// EnqueueResponse acknowledges queued runs.
type EnqueueResponse struct {
	Queued []string `json:"queued"`
}
