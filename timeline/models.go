package timeline

import "time"

// Event captures an immutable log record of a pool.
type Event struct {
	ID          int64
	PoolAddress string
	Seq         int
	Kind        string
	Topic       string
	Payload     []byte
	CreatedAt   time.Time
}

// AppendParams enumerates the writes executed inside the caller's transaction.
type AppendParams struct {
	PoolAddress string
	Kind        string
	Topic       string
	Payload     map[string]any
	OutboxTopic string
}

// Filter narrows a listing. Empty fields match everything.
type Filter struct {
	PoolAddress string
	Kind        string
	Topic       string
	AfterSeq    int
	Limit       int
}

const (
	// OutboxTopicDecision is published for every payout and dispute resolution.
	OutboxTopicDecision = "pool.decision"
	// OutboxTopicDisputeRaised is published when a participant raises a dispute.
	OutboxTopicDisputeRaised = "pool.dispute_raised"
)
