// Package elastic delivers envelopes to an Elasticsearch cluster with the
// bulk API. Each document is created (never overwritten) under a fingerprint
// id, so re-delivering a record after a crash or partial failure is
// idempotent on the index side.
package elastic

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/go-logr/logr"

	"github.com/felixnotka/logfeeder/pkg/feed"
)

// defaultChunkSize is the number of documents shipped per bulk request.
const defaultChunkSize = 10000

// defaultIndexLayout routes documents into daily indices by event time.
const defaultIndexLayout = "logfeeder-2006.01.02"

// maxAttempts bounds bulk retries; waits double between attempts.
const maxAttempts = 5

// Sink buffers documents and ships them in bulk requests. Not safe for
// concurrent use.
type Sink struct {
	client      *elasticsearch.Client
	feeder      string
	indexLayout string
	chunkSize   int
	log         logr.Logger

	pending []feed.Envelope

	// seams for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Sink for the given feeder name. The feeder name selects the
// "<feeder>_data" payload field the fingerprint is computed over.
func New(client *elasticsearch.Client, feeder, indexLayout string, chunkSize int, log logr.Logger) *Sink {
	if indexLayout == "" {
		indexLayout = defaultIndexLayout
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Sink{
		client:      client,
		feeder:      feeder,
		indexLayout: indexLayout,
		chunkSize:   chunkSize,
		log:         log,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

func (s *Sink) Name() string { return "elasticsearch" }

// Deliver buffers the envelope, shipping a bulk request when the chunk
// fills.
func (s *Sink) Deliver(ctx context.Context, env feed.Envelope) error {
	s.pending = append(s.pending, env)
	if len(s.pending) >= s.chunkSize {
		return s.Flush(ctx)
	}
	return nil
}

// Flush ships the buffered documents.
func (s *Sink) Flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	pending := s.pending
	s.pending = nil

	body, err := s.bulkBody(pending)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := s.sleep(ctx, time.Duration(1<<(attempt-1))*time.Second); err != nil {
				return err
			}
		}
		lastErr = s.bulk(ctx, body)
		if lastErr == nil {
			return nil
		}
		s.log.Error(lastErr, "bulk upload failed", "attempt", attempt+1, "documents", len(pending))
	}
	return fmt.Errorf("bulk upload failed after %d attempts: %w", maxAttempts, lastErr)
}

func (s *Sink) bulk(ctx context.Context, body []byte) error {
	res, err := s.client.Bulk(bytes.NewReader(body), s.client.Bulk.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return fmt.Errorf("bulk request returned %s: %s", res.Status(), msg)
	}

	var result struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  struct {
				Type string `json:"type"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding bulk response: %w", err)
	}
	if !result.Errors {
		return nil
	}

	// Version conflicts are re-deliveries of documents already indexed
	// under the same fingerprint; they do not count as failures.
	failed := 0
	for _, item := range result.Items {
		for _, op := range item {
			if op.Status >= 400 && op.Error.Type != "version_conflict_engine_exception" {
				failed++
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d bulk operations failed", failed, len(result.Items))
	}
	return nil
}

// bulkBody renders the newline-delimited create action/document pairs. Each
// document gets the common index fields (@timestamp, @ingestionTime,
// @time_delta_seconds) and a content fingerprint used as the document id.
func (s *Sink) bulkBody(envelopes []feed.Envelope) ([]byte, error) {
	ingestion := s.now().UTC()
	var buf bytes.Buffer

	for _, env := range envelopes {
		doc := make(map[string]any, len(env.Fields)+3)
		for k, v := range env.Fields {
			doc[k] = v
		}
		eventTime, _ := doc["event_time"].(string)
		doc["@timestamp"] = eventTime
		doc["@ingestionTime"] = ingestion.Format(time.RFC3339)
		if !env.EventTime.IsZero() {
			doc["@time_delta_seconds"] = ingestion.Sub(env.EventTime).Seconds()
		}

		id, err := fingerprint(doc[s.feeder+"_data"], eventTime)
		if err != nil {
			return nil, err
		}

		action, err := json.Marshal(map[string]any{
			"create": map[string]any{
				"_index": env.EventTime.UTC().Format(s.indexLayout),
				"_id":    id,
			},
		})
		if err != nil {
			return nil, err
		}
		line, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encoding document: %w", err)
		}

		buf.Write(action)
		buf.WriteByte('\n')
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// fingerprint hashes the vendor payload together with the event timestamp.
// The same record delivered twice lands on the same document id.
func fingerprint(data any, timestamp string) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encoding payload for fingerprint: %w", err)
	}
	sum := sha1.Sum(append(payload, timestamp...))
	return hex.EncodeToString(sum[:]), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
