package sinks

import (
	"context"
	"fmt"

	"github.com/Eli-Gooding/research-v1-sub000/internal/events"
	"github.com/Eli-Gooding/research-v1-sub000/internal/progress"
)

// PubSubSink publishes terminal job events for downstream consumers.
// Non-terminal milestones are skipped to keep topic volume low.
type PubSubSink struct {
	publisher events.Publisher
}

// NewPubSubSink wires an event publisher to the sink interface.
func NewPubSubSink(publisher events.Publisher) *PubSubSink {
	return &PubSubSink{publisher: publisher}
}

// Consume publishes every terminal event in the batch.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s.publisher == nil {
		return nil
	}
	var firstErr error
	for _, evt := range batch {
		if !evt.Terminal() {
			continue
		}
		if _, err := s.publisher.Publish(ctx, string(evt.Kind), evt); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("publish %s for job %s: %w", evt.Kind, evt.JobID, err)
		}
	}
	return firstErr
}

// Close implements the Sink interface; it performs no action.
func (s *PubSubSink) Close(context.Context) error {
	return nil
}
