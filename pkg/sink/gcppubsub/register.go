package gcppubsub

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/felixnotka/logfeeder/pkg/feed"
)

func init() {
	feed.RegisterSink("pubsub", buildSink)
}

func buildSink(ctx context.Context, env *feed.Env) (feed.Sink, error) {
	cfg := env.Feeder.PubSub
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, fmt.Errorf("pubsub.project_id and pubsub.topic_id are required for the pubsub sink")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating Pub/Sub client: %w", err)
	}

	env.Log.Info("connected to Pub/Sub topic", "project", cfg.ProjectID, "topic", cfg.TopicID)
	return New(client.Topic(cfg.TopicID), env.Log.WithName("pubsub")), nil
}
