package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"FinOracle/internal/domain/errs"
	"FinOracle/pkg/logger"
	"FinOracle/pkg/queue"
)

// RunMessageType is the queue message type of asynchronous run requests.
const RunMessageType = "pipeline.run"

// RunRequest is the payload of an asynchronous run.
type RunRequest struct {
	Symbol      string    `json:"symbol"`
	SkipFeed    *bool     `json:"skip_feed,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// RunJob executes queued run requests.
type RunJob struct {
	pipeline *Pipeline
	log      *logger.Logger
}

// NewRunJob creates the queue job for pipeline runs.
func NewRunJob(p *Pipeline, lgr *logger.Logger) *RunJob {
	return &RunJob{pipeline: p, log: lgr}
}

func (j *RunJob) Name() string { return "pipeline-run" }
func (j *RunJob) Type() string { return RunMessageType }

// Handle runs the requested symbol. Only fetch-stage failures are retried;
// a ledger submission is never replayed automatically.
func (j *RunJob) Handle(ctx context.Context, payload json.RawMessage) error {
	req, err := queue.Decode[RunRequest](payload)
	if err != nil {
		return err
	}
	if strings.TrimSpace(req.Symbol) == "" {
		return queue.Permanent(fmt.Errorf("run request without symbol"))
	}

	var opts []RunOption
	if req.SkipFeed != nil {
		opts = append(opts, SkipFeed(*req.SkipFeed))
	}
	report, err := j.pipeline.Run(ctx, req.Symbol, opts...)
	if err == nil {
		j.log.Info("queued run finished",
			logger.String("run_id", report.ID),
			logger.String("symbol", report.Symbol),
			logger.Duration("queued_for", report.StartedAt.Sub(req.RequestedAt)))
		return nil
	}
	if stage, _ := errs.StageOf(err); stage == errs.StageFetch && !errs.IsUnauthorized(err) {
		return err
	}
	return queue.Permanent(err)
}

// RunEnqueuer submits asynchronous run requests.
type RunEnqueuer struct {
	pub queue.Publisher
	now func() time.Time
}

func NewRunEnqueuer(pub queue.Publisher) *RunEnqueuer {
	return &RunEnqueuer{pub: pub, now: time.Now}
}

// Enqueue publishes one request per symbol.
func (e *RunEnqueuer) Enqueue(ctx context.Context, symbols []string, skipFeed *bool) error {
	for _, s := range symbols {
		req := RunRequest{Symbol: strings.ToUpper(strings.TrimSpace(s)), SkipFeed: skipFeed, RequestedAt: e.now()}
		if err := e.pub.PublishMessage(ctx, RunMessageType, req); err != nil {
			return fmt.Errorf("enqueue run %s: %w", req.Symbol, err)
		}
	}
	return nil
}
