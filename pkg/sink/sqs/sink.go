// Package sqs delivers envelopes to an AWS SQS queue. Messages are buffered
// and shipped with SendMessageBatch; SQS caps both the individual message
// size and the total batch size, so the sink truncates oversized documents
// and splits batches on both limits.
package sqs

import (
	"context"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/go-logr/logr"

	"github.com/felixnotka/logfeeder/pkg/feed"
	"github.com/felixnotka/logfeeder/pkg/metrics"
)

// maxMessageBytes is the per-message cap. Documents past it are truncated
// rather than dropped: a cut-off record still carries its identity fields.
const maxMessageBytes = 64 * 1024

// maxBatchBytes is the SendMessageBatch payload cap.
const maxBatchBytes = 256 * 1024

// maxBatchEntries is the SendMessageBatch entry cap.
const maxBatchEntries = 10

// api is the slice of the SQS client the sink uses.
type api interface {
	SendMessageBatch(ctx context.Context, in *awssqs.SendMessageBatchInput, opts ...func(*awssqs.Options)) (*awssqs.SendMessageBatchOutput, error)
}

// Sink buffers envelopes into SQS batches. Not safe for concurrent use; the
// ingestion cycle delivers sequentially.
type Sink struct {
	client   api
	queueURL string
	log      logr.Logger

	pending      []string
	pendingBytes int
	seq          int
}

// New creates a Sink shipping to queueURL.
func New(client api, queueURL string, log logr.Logger) *Sink {
	return &Sink{client: client, queueURL: queueURL, log: log}
}

func (s *Sink) Name() string { return "sqs" }

// Deliver queues the envelope, flushing the current batch first when adding
// it would breach either batch limit.
func (s *Sink) Deliver(ctx context.Context, env feed.Envelope) error {
	doc, err := env.JSON()
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	body := string(doc)
	if len(body) > maxMessageBytes {
		// Back off to a rune boundary; SQS rejects bodies with invalid
		// characters.
		cut := maxMessageBytes
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		metrics.MessagesTruncatedTotal.WithLabelValues(s.Name()).Inc()
		s.log.Info("message truncated",
			"actualSize", len(body), "truncatedSize", cut,
			"recordEventTime", env.EventTime)
		body = body[:cut]
	}

	if len(s.pending) == maxBatchEntries || s.pendingBytes+len(body) > maxBatchBytes {
		if err := s.Flush(ctx); err != nil {
			return err
		}
	}
	s.pending = append(s.pending, body)
	s.pendingBytes += len(body)
	return nil
}

// Flush sends the buffered batch.
func (s *Sink) Flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}

	entries := make([]types.SendMessageBatchRequestEntry, len(s.pending))
	for i, body := range s.pending {
		s.seq++
		entries[i] = types.SendMessageBatchRequestEntry{
			Id:          aws.String(strconv.Itoa(s.seq)),
			MessageBody: aws.String(body),
		}
	}
	s.pending = s.pending[:0]
	s.pendingBytes = 0

	resp, err := s.client.SendMessageBatch(ctx, &awssqs.SendMessageBatchInput{
		QueueUrl: aws.String(s.queueURL),
		Entries:  entries,
	})
	if err != nil {
		return fmt.Errorf("sending SQS batch: %w", err)
	}
	if len(resp.Failed) > 0 {
		first := resp.Failed[0]
		return fmt.Errorf("%d of %d SQS messages rejected (first: %s %s)",
			len(resp.Failed), len(entries), aws.ToString(first.Code), aws.ToString(first.Message))
	}
	return nil
}
