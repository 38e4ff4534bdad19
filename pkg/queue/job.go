package queue

import (
	"context"
	"encoding/json"
)

// Job handles every message of one type. Handle receives the payload exactly as
// it was enqueued; use Decode to unpack it.
type Job interface {
	Name() string
	Type() string
	Handle(ctx context.Context, payload json.RawMessage) error
}
