// Package gcppubsub delivers envelopes to a Google Pub/Sub topic. The client
// batches publishes internally; Flush blocks until every outstanding publish
// is acknowledged so the checkpoint never runs ahead of the broker.
package gcppubsub

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/go-logr/logr"

	"github.com/felixnotka/logfeeder/pkg/feed"
)

// Sink publishes documents to one topic. Not safe for concurrent use.
type Sink struct {
	topic   *pubsub.Topic
	log     logr.Logger
	results []*pubsub.PublishResult
}

// New creates a Sink publishing to topic.
func New(topic *pubsub.Topic, log logr.Logger) *Sink {
	return &Sink{topic: topic, log: log}
}

func (s *Sink) Name() string { return "pubsub" }

// Deliver hands the document to the client's internal publish batcher. The
// publish outcome surfaces on the next Flush.
func (s *Sink) Deliver(ctx context.Context, env feed.Envelope) error {
	doc, err := env.JSON()
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	attrs := map[string]string{}
	if feeder, ok := env.Fields["logfeeder_type"].(string); ok {
		attrs["logfeeder_type"] = feeder
	}
	if subAPI, ok := env.Fields["logfeeder_subapi"].(string); ok {
		attrs["logfeeder_subapi"] = subAPI
	}

	s.results = append(s.results, s.topic.Publish(ctx, &pubsub.Message{
		Data:       doc,
		Attributes: attrs,
	}))
	return nil
}

// Flush waits for every outstanding publish to be acknowledged.
func (s *Sink) Flush(ctx context.Context) error {
	results := s.results
	s.results = nil

	failed := 0
	var lastErr error
	for _, res := range results {
		if _, err := res.Get(ctx); err != nil {
			failed++
			lastErr = err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d publishes failed (last: %w)", failed, len(results), lastErr)
	}
	return nil
}

// Close stops the topic's publish goroutines.
func (s *Sink) Close(_ context.Context) error {
	s.topic.Stop()
	return nil
}
