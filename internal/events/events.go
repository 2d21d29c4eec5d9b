// Package events names the topics this module publishes and consumes.
package events

import (
	"context"
	"sync"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/interfaces"
)

const (
	TopicStatementCreated    = "ledger.statement_created"
	TopicStatementRechecked  = "ledger.statement_rechecked"
	TopicContinuityViolation = "ledger.continuity_violation"
	TopicQueueEnqueued       = "ledger.queue_enqueued"
	TopicLineMaterialized    = "ledger.line_materialized"

	// TopicLineReconciled is produced by downstream accounting.
	TopicLineReconciled = "accounting.line_reconciled"
)

type discard struct{}

func (discard) Publish(context.Context, string, string, any) error { return nil }

// Discard drops every event. Used when no broker is configured.
var Discard interfaces.EventPublisher = discard{}

// Recorded is one event captured by a Recorder.
type Recorded struct {
	Topic string
	Key   string
	Event any
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	Events []Recorded
}

func (r *Recorder) Publish(_ context.Context, topic, key string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Recorded{Topic: topic, Key: key, Event: event})
	return nil
}

// Topic returns the events published on topic, in order.
func (r *Recorder) Topic(topic string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []any
	for _, e := range r.Events {
		if e.Topic == topic {
			out = append(out, e.Event)
		}
	}
	return out
}
