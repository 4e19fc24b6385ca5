package sqs

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/go-logr/logr"

	"github.com/felixnotka/logfeeder/pkg/feed"
)

type fakeClient struct {
	batches [][]types.SendMessageBatchRequestEntry
	failed  []types.BatchResultErrorEntry
}

func (f *fakeClient) SendMessageBatch(_ context.Context, in *awssqs.SendMessageBatchInput, _ ...func(*awssqs.Options)) (*awssqs.SendMessageBatchOutput, error) {
	f.batches = append(f.batches, in.Entries)
	return &awssqs.SendMessageBatchOutput{Failed: f.failed}, nil
}

func envelopeWithBody(t *testing.T, payload string) feed.Envelope {
	t.Helper()
	id := feed.Identity{Feeder: "acme", Account: "acme"}
	rec := feed.Record{
		Data:      map[string]any{"payload": payload},
		EventTime: time.Unix(1000, 0).UTC(),
	}
	return feed.BuildEnvelope(id, "test", rec, "")
}

func TestDeliverBatchesByEntryCount(t *testing.T) {
	client := &fakeClient{}
	s := New(client, "https://queue", logr.Discard())
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		if err := s.Deliver(ctx, envelopeWithBody(t, "x")); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if len(client.batches) != 3 {
		t.Fatalf("batches = %d, want 3", len(client.batches))
	}
	for i, want := range []int{10, 10, 5} {
		if got := len(client.batches[i]); got != want {
			t.Errorf("batch %d size = %d, want %d", i, got, want)
		}
	}
}

func TestDeliverSplitsOnByteBudget(t *testing.T) {
	client := &fakeClient{}
	s := New(client, "https://queue", logr.Discard())
	ctx := context.Background()

	// Five ~60KiB messages cannot share a 256KiB batch four at a time.
	big := strings.Repeat("a", 60*1024)
	for i := 0; i < 5; i++ {
		if err := s.Deliver(ctx, envelopeWithBody(t, big)); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if len(client.batches) < 2 {
		t.Fatalf("batches = %d, want at least 2", len(client.batches))
	}
	for i, batch := range client.batches {
		size := 0
		for _, entry := range batch {
			size += len(aws.ToString(entry.MessageBody))
		}
		if size > maxBatchBytes {
			t.Errorf("batch %d is %d bytes, over the %d budget", i, size, maxBatchBytes)
		}
	}
}

func TestDeliverTruncatesOversizedMessages(t *testing.T) {
	client := &fakeClient{}
	s := New(client, "https://queue", logr.Discard())
	ctx := context.Background()

	if err := s.Deliver(ctx, envelopeWithBody(t, strings.Repeat("a", maxMessageBytes+100))); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if len(client.batches) != 1 || len(client.batches[0]) != 1 {
		t.Fatalf("unexpected batch shape: %v", client.batches)
	}
	body := aws.ToString(client.batches[0][0].MessageBody)
	if len(body) != maxMessageBytes {
		t.Errorf("message body = %d bytes, want truncated to %d", len(body), maxMessageBytes)
	}
}

func TestDeliverTruncatesOnRuneBoundary(t *testing.T) {
	client := &fakeClient{}
	s := New(client, "https://queue", logr.Discard())
	ctx := context.Background()

	// Pad the payload until the cut point lands inside one of its 3-byte
	// runes.
	var env feed.Envelope
	straddles := false
	for pad := 0; pad < 3 && !straddles; pad++ {
		env = envelopeWithBody(t, strings.Repeat("a", pad)+strings.Repeat("界", 25*1024))
		raw, err := env.JSON()
		if err != nil {
			t.Fatalf("JSON: %v", err)
		}
		straddles = len(raw) > maxMessageBytes && !utf8.RuneStart(raw[maxMessageBytes])
	}
	if !straddles {
		t.Fatal("no padding puts the cut point inside a rune")
	}

	if err := s.Deliver(ctx, env); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	body := aws.ToString(client.batches[0][0].MessageBody)
	if len(body) > maxMessageBytes || len(body) <= maxMessageBytes-utf8.UTFMax {
		t.Errorf("message body = %d bytes, want within one rune of %d", len(body), maxMessageBytes)
	}
	if !utf8.ValidString(body) {
		t.Error("truncated body splits a rune")
	}
}

func TestFlushReportsRejectedEntries(t *testing.T) {
	client := &fakeClient{failed: []types.BatchResultErrorEntry{{
		Code:    aws.String("InternalError"),
		Message: aws.String("try again"),
	}}}
	s := New(client, "https://queue", logr.Discard())
	ctx := context.Background()

	if err := s.Deliver(ctx, envelopeWithBody(t, "x")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := s.Flush(ctx); err == nil {
		t.Fatal("Flush accepted a batch with rejected entries")
	}
}

func TestFlushEmptyIsNoop(t *testing.T) {
	client := &fakeClient{}
	s := New(client, "https://queue", logr.Discard())
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(client.batches) != 0 {
		t.Errorf("empty flush sent %d batches", len(client.batches))
	}
}
