package sqs

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/felixnotka/logfeeder/pkg/config"
	"github.com/felixnotka/logfeeder/pkg/feed"
)

func init() {
	feed.RegisterSink("sqs", buildSink)
}

func buildSink(ctx context.Context, env *feed.Env) (feed.Sink, error) {
	creds, err := config.ReadAWSCreds(env.Main.AWSConfigFilepath)
	if err != nil {
		return nil, err
	}
	if creds.QueueName == "" {
		return nil, fmt.Errorf("queue_name is required in %s for the sqs sink", env.Main.AWSConfigFilepath)
	}

	cfg, err := creds.LoadAWS(ctx)
	if err != nil {
		return nil, err
	}
	client := awssqs.NewFromConfig(cfg)

	in := &awssqs.GetQueueUrlInput{QueueName: aws.String(creds.QueueName)}
	if env.Feeder.OwnerAccountID != "" {
		in.QueueOwnerAWSAccountId = aws.String(env.Feeder.OwnerAccountID)
	}
	resp, err := client.GetQueueUrl(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("resolving SQS queue %s: %w", creds.QueueName, err)
	}

	env.Log.Info("connected to SQS queue", "queue", creds.QueueName)
	return New(client, aws.ToString(resp.QueueUrl), env.Log.WithName("sqs")), nil
}
