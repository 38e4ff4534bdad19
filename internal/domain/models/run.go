package models

import "time"

// RunState is a position in the pipeline state machine.
type RunState string

const (
	StateFetching    RunState = "fetching"
	StateAugmenting  RunState = "augmenting"
	StateAnalyzing   RunState = "analyzing"
	StateFeeding     RunState = "feeding"
	StateSkippedFeed RunState = "skipped_feed"
	StateDone        RunState = "done"
	StateFailed      RunState = "failed"
)

// StageTiming records how long a state lasted.
type StageTiming struct {
	State    RunState      `json:"state"`
	Duration time.Duration `json:"duration_ns"`
}

// RunReport is the outcome of one pipeline run for one symbol.
type RunReport struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	State       RunState        `json:"state"`
	FailedStage string          `json:"failed_stage,omitempty"`
	Error       string          `json:"error,omitempty"`
	SkippedFeed bool            `json:"skipped_feed"`
	Record      *MarketRecord   `json:"record,omitempty"`
	Context     []string        `json:"context,omitempty"`
	Analysis    *AnalysisResult `json:"analysis,omitempty"`
	Receipt     *LedgerReceipt  `json:"receipt,omitempty"`
	Trace       []StageTiming   `json:"trace"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
}

// Signature returns the ledger transaction signature, empty when nothing was fed.
func (r *RunReport) Signature() string {
	if r == nil || r.Receipt == nil {
		return ""
	}
	return r.Receipt.Signature
}

// ProviderStatus is the health view of one provider's reliability layer.
type ProviderStatus struct {
	ID                  string        `json:"id"`
	Kind                string        `json:"kind"`
	Priority            int           `json:"priority"`
	Health              string        `json:"health"`
	BreakerState        string        `json:"breaker_state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Cooldown            time.Duration `json:"cooldown_ns"`
	TokensAvailable     float64       `json:"tokens_available"`
}

// HistoryEntry is one persisted run outcome.
type HistoryEntry struct {
	RunID          string    `json:"run_id"`
	Symbol         string    `json:"symbol"`
	State          RunState  `json:"state"`
	FailedStage    string    `json:"failed_stage,omitempty"`
	Price          float64   `json:"price"`
	Source         string    `json:"source"`
	Recommendation string    `json:"recommendation,omitempty"`
	Confidence     float64   `json:"confidence"`
	Summary        string    `json:"summary,omitempty"`
	Provider       string    `json:"provider,omitempty"`
	Signature      string    `json:"signature,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// FeedEvent is published after every run that reached a terminal state.
type FeedEvent struct {
	RunID          string    `json:"run_id"`
	Symbol         string    `json:"symbol"`
	State          RunState  `json:"state"`
	Price          float64   `json:"price,omitempty"`
	Source         string    `json:"source,omitempty"`
	Recommendation string    `json:"recommendation,omitempty"`
	Confidence     float64   `json:"confidence,omitempty"`
	Summary        string    `json:"summary,omitempty"`
	Signature      string    `json:"signature,omitempty"`
	Error          string    `json:"error,omitempty"`
	At             time.Time `json:"at"`
}

// HistoryEntryFromReport flattens a report for storage.
func HistoryEntryFromReport(r *RunReport) HistoryEntry {
	e := HistoryEntry{
		RunID:       r.ID,
		Symbol:      r.Symbol,
		State:       r.State,
		FailedStage: r.FailedStage,
		Signature:   r.Signature(),
		CreatedAt:   r.FinishedAt,
	}
	if r.Record != nil {
		e.Price = r.Record.Price
		e.Source = r.Record.Source
	}
	if r.Analysis != nil {
		e.Recommendation = string(r.Analysis.Recommendation)
		e.Confidence = r.Analysis.Confidence
		e.Summary = r.Analysis.Summary
		e.Provider = r.Analysis.Provider
	}
	return e
}

// FeedEventFromReport builds the published event for a report.
func FeedEventFromReport(r *RunReport) FeedEvent {
	e := FeedEvent{
		RunID:     r.ID,
		Symbol:    r.Symbol,
		State:     r.State,
		Signature: r.Signature(),
		Error:     r.Error,
		At:        r.FinishedAt,
	}
	if r.Record != nil {
		e.Price = r.Record.Price
		e.Source = r.Record.Source
	}
	if r.Analysis != nil {
		e.Recommendation = string(r.Analysis.Recommendation)
		e.Confidence = r.Analysis.Confidence
		e.Summary = r.Analysis.Summary
	}
	return e
}
