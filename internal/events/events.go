// Package events publishes ingestion lifecycle events for the operations
// backend: one event per completed run and one per failed object.
package events

import "context"

// Subjects published by the ingestion pipeline.
const (
	TopicRunCompleted = "platform.ingest.run.completed"
	TopicObjectFailed = "platform.ingest.object.failed"
)

// Publisher delivers events to the bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// RunCompleted is emitted after every ingestion run, successful or not.
type RunCompleted struct {
	RunID     string `json:"run_id"`
	Stage     string `json:"stage"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Aborted   bool   `json:"aborted,omitempty"`
}

// ObjectFailed is emitted for each object that could not be ingested and was
// routed to the errors prefix (or left in place).
type ObjectFailed struct {
	RunID  string `json:"run_id"`
	Key    string `json:"key"`
	IDLPN  string `json:"idlpn,omitempty"`
	Reason string `json:"reason"`
}
