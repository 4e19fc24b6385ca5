package s3events

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/felixnotka/logfeeder/pkg/config"
	"github.com/felixnotka/logfeeder/pkg/feed"
)

func init() {
	feed.RegisterSource("cloudtrail", builder(ExtractCloudTrail))
	feed.RegisterSource("opendns", builder(ExtractUmbrella))
}

func builder(extract Extractor) feed.SourceFactory {
	return func(ctx context.Context, env *feed.Env, _ string) (feed.Source, error) {
		return buildSource(ctx, env, extract)
	}
}

func buildSource(ctx context.Context, env *feed.Env, extract Extractor) (feed.Source, error) {
	queueName := env.Feeder.S3EventNotificationsQueueName
	if queueName == "" {
		return nil, fmt.Errorf("s3_event_notifications_queue_name is required for S3-based feeders")
	}

	creds, err := config.ReadAWSCreds(env.Main.AWSConfigFilepath)
	if err != nil {
		return nil, err
	}
	if env.Feeder.Region != "" {
		creds.RegionName = env.Feeder.Region
	}
	cfg, err := creds.LoadAWS(ctx)
	if err != nil {
		return nil, err
	}
	sqsClient := awssqs.NewFromConfig(cfg)

	in := &awssqs.GetQueueUrlInput{QueueName: aws.String(queueName)}
	if env.Feeder.OwnerAccountID != "" {
		in.QueueOwnerAWSAccountId = aws.String(env.Feeder.OwnerAccountID)
	}
	resp, err := sqsClient.GetQueueUrl(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("resolving notification queue %s: %w", queueName, err)
	}

	env.Log.Info("connected to S3 event notification queue", "queue", queueName)
	return NewSource(
		sqsClient,
		s3.NewFromConfig(cfg),
		aws.ToString(resp.QueueUrl),
		env.Feeder.NumberMessages,
		extract,
		env.Log.WithName("s3events"),
	), nil
}
