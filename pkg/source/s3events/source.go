// Package s3events reads log files landed in S3, discovered through S3
// event notifications on an SQS queue. Listing a high-write bucket is far
// slower than draining its notification queue, so the queue is the sole
// discovery mechanism: each run drains what is queued and stops.
package s3events

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/go-logr/logr"

	"github.com/felixnotka/logfeeder/pkg/feed"
)

// maxReceiveBatch is the SQS ReceiveMessage cap.
const maxReceiveBatch = 10

// Extractor turns one decompressed log file into records. The S3 path is
// provided for extractors that need the key name to interpret the content.
type Extractor func(s3Path string, content []byte) ([]feed.Record, error)

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, in *awssqs.ReceiveMessageInput, opts ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, in *awssqs.DeleteMessageBatchInput, opts ...func(*awssqs.Options)) (*awssqs.DeleteMessageBatchOutput, error)
}

type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Source drains one notification queue. The queue itself is the resume
// state: notifications are deleted only once the cycle acknowledges their
// records as delivered, unprocessed ones return after their visibility
// timeout, so checkpoints play no part in what gets read.
type Source struct {
	sqs      sqsAPI
	s3       s3API
	queueURL string
	batch    int32
	extract  Extractor
	log      logr.Logger

	// pending holds the notifications behind fetched-but-unacknowledged
	// records.
	pending []sqstypes.Message
}

// NewSource creates a Source draining queueURL, reading at most batch
// notifications per fetch.
func NewSource(sqsClient sqsAPI, s3Client s3API, queueURL string, batch int32, extract Extractor, log logr.Logger) *Source {
	if batch <= 0 || batch > maxReceiveBatch {
		batch = maxReceiveBatch
	}
	return &Source{
		sqs:      sqsClient,
		s3:       s3Client,
		queueURL: queueURL,
		batch:    batch,
		extract:  extract,
		log:      log,
	}
}

// FetchSince reads one batch of notifications. Notifications arrive in no
// particular order, so the since bound is not a filter here; the batch is
// sorted by event time to satisfy the ordering contract within each page.
func (s *Source) FetchSince(ctx context.Context, _ time.Time) ([]feed.Record, bool, error) {
	resp, err := s.sqs.ReceiveMessage(ctx, &awssqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: s.batch,
	})
	if err != nil {
		return nil, false, fmt.Errorf("receiving S3 event notifications: %w", err)
	}
	if len(resp.Messages) == 0 {
		return nil, false, nil
	}

	var records []feed.Record
	for _, msg := range resp.Messages {
		objects, err := objectsFromNotification([]byte(aws.ToString(msg.Body)))
		if err != nil {
			return nil, false, err
		}
		for _, obj := range objects {
			recs, err := s.readObject(ctx, obj)
			if err != nil {
				return nil, false, err
			}
			records = append(records, recs...)
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].EventTime.Before(records[j].EventTime)
	})

	// The notifications stay on the queue until Acknowledge confirms the
	// records were delivered; until then a crash re-delivers them after
	// the visibility timeout.
	s.pending = append(s.pending, resp.Messages...)
	s.log.Info("notification batch extracted",
		"messages", len(resp.Messages), "records", len(records))
	return records, true, nil
}

// Acknowledge deletes the notifications behind the records fetched so far.
// Called by the ingestion cycle once those records have been delivered and
// flushed.
func (s *Source) Acknowledge(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	msgs := s.pending
	s.pending = nil
	return s.deleteMessages(ctx, msgs)
}

func (s *Source) readObject(ctx context.Context, obj s3Object) ([]feed.Record, error) {
	s.log.V(1).Info("reading S3 object", "bucket", obj.Bucket, "key", obj.Key)
	resp, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(obj.Bucket),
		Key:    aws.String(obj.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("reading s3://%s/%s: %w", obj.Bucket, obj.Key, err)
	}
	defer resp.Body.Close()

	content, err := decompress(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decompressing s3://%s/%s: %w", obj.Bucket, obj.Key, err)
	}
	records, err := s.extract(obj.Bucket+"/"+obj.Key, content)
	if err != nil {
		return nil, fmt.Errorf("extracting records from s3://%s/%s: %w", obj.Bucket, obj.Key, err)
	}
	return records, nil
}

func (s *Source) deleteMessages(ctx context.Context, msgs []sqstypes.Message) error {
	entries := make([]sqstypes.DeleteMessageBatchRequestEntry, len(msgs))
	for i, msg := range msgs {
		entries[i] = sqstypes.DeleteMessageBatchRequestEntry{
			Id:            aws.String(fmt.Sprintf("%d", i)),
			ReceiptHandle: msg.ReceiptHandle,
		}
	}
	resp, err := s.sqs.DeleteMessageBatch(ctx, &awssqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(s.queueURL),
		Entries:  entries,
	})
	if err != nil {
		return fmt.Errorf("deleting processed notifications: %w", err)
	}
	if len(resp.Failed) > 0 {
		// Undeleted notifications come back after the visibility
		// timeout and their records re-deliver; log and move on.
		s.log.Info("some notifications were not deleted", "count", len(resp.Failed))
	}
	return nil
}

// s3Object is one bucket/key pair named by a notification.
type s3Object struct {
	Bucket string
	Key    string
}

// objectsFromNotification parses an S3 event notification body. Queues
// subscribed through SNS wrap the notification in a "Message" envelope;
// both shapes are accepted. Object keys arrive URL-encoded.
func objectsFromNotification(body []byte) ([]s3Object, error) {
	records, err := notificationRecords(body)
	if err != nil {
		return nil, err
	}

	objects := make([]s3Object, 0, len(records))
	for _, record := range records {
		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			key = record.S3.Object.Key
		}
		if record.S3.Bucket.Name == "" || key == "" {
			continue
		}
		objects = append(objects, s3Object{Bucket: record.S3.Bucket.Name, Key: key})
	}
	return objects, nil
}
