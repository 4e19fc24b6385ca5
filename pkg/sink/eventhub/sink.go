// Package eventhub delivers envelopes to an Azure Event Hub. Documents are
// packed into EventDataBatch frames; Flush sends the open batch so buffered
// events never outlive the batch that checkpointed them.
package eventhub

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs/v2"
	"github.com/go-logr/logr"

	"github.com/felixnotka/logfeeder/pkg/feed"
)

// producer is the slice of the Event Hub client the sink uses.
type producer interface {
	NewEventDataBatch(ctx context.Context, options *azeventhubs.EventDataBatchOptions) (*azeventhubs.EventDataBatch, error)
	SendEventDataBatch(ctx context.Context, batch *azeventhubs.EventDataBatch, options *azeventhubs.SendEventDataBatchOptions) error
	Close(ctx context.Context) error
}

// Sink packs documents into Event Hub batches. Not safe for concurrent use.
type Sink struct {
	client producer
	log    logr.Logger
	batch  *azeventhubs.EventDataBatch
}

// New creates a Sink for the given producer client.
func New(client producer, log logr.Logger) *Sink {
	return &Sink{client: client, log: log}
}

func (s *Sink) Name() string { return "eventhub" }

// Deliver adds the document to the open batch, sending the batch first when
// it is full. A document too large for an empty batch is rejected.
func (s *Sink) Deliver(ctx context.Context, env feed.Envelope) error {
	doc, err := env.JSON()
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	event := &azeventhubs.EventData{Body: doc}

	if s.batch == nil {
		if err := s.newBatch(ctx); err != nil {
			return err
		}
	}

	err = s.batch.AddEventData(event, nil)
	if err == nil {
		return nil
	}
	if !errors.Is(err, azeventhubs.ErrEventDataTooLarge) {
		return fmt.Errorf("adding event to batch: %w", err)
	}

	// Full batch. Send it and retry on a fresh one; if the event does not
	// fit alone, it can never be delivered.
	if s.batch.NumEvents() == 0 {
		return fmt.Errorf("record of %d bytes exceeds the Event Hub frame size", len(doc))
	}
	if err := s.Flush(ctx); err != nil {
		return err
	}
	if err := s.newBatch(ctx); err != nil {
		return err
	}
	if err := s.batch.AddEventData(event, nil); err != nil {
		if errors.Is(err, azeventhubs.ErrEventDataTooLarge) {
			return fmt.Errorf("record of %d bytes exceeds the Event Hub frame size", len(doc))
		}
		return fmt.Errorf("adding event to batch: %w", err)
	}
	return nil
}

// Flush sends the open batch.
func (s *Sink) Flush(ctx context.Context) error {
	if s.batch == nil || s.batch.NumEvents() == 0 {
		return nil
	}
	batch := s.batch
	s.batch = nil
	if err := s.client.SendEventDataBatch(ctx, batch, nil); err != nil {
		return fmt.Errorf("sending Event Hub batch: %w", err)
	}
	return nil
}

// Close tears down the producer's AMQP links.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func (s *Sink) newBatch(ctx context.Context) error {
	batch, err := s.client.NewEventDataBatch(ctx, nil)
	if err != nil {
		return fmt.Errorf("creating Event Hub batch: %w", err)
	}
	s.batch = batch
	return nil
}
